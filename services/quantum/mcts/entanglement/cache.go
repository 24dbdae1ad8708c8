// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entanglement

import (
	"sort"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// Bonus implements mcts.EntanglementSource. It is a lock-free map read.
func (e *Engine) Bonus(id mcts.NodeID) float64 {
	return (*e.bonus.Load())[id]
}

// RefreshBonusCache rebuilds every node's bonus.
//
// Description:
//
//	A node's bonus is the sum of edge strengths to its top-K partners,
//	ranked by partner avg reward. Concurrent refreshes share one
//	computation.
//
// Outputs:
//   - int: Number of nodes with a non-zero bonus.
//
// Thread Safety: Copies the adjacency under the graph read lock, releases
// it, then reads the tree.
func (e *Engine) RefreshBonusCache(tree TreeReader) int {
	v, _, _ := e.refresh.Do("bonus", func() (any, error) {
		return e.rebuildBonus(tree), nil
	})
	return v.(int)
}

func (e *Engine) rebuildBonus(tree TreeReader) int {
	e.mu.RLock()
	adjacency := make(map[mcts.NodeID][]mcts.Partner, len(e.adj))
	for id, set := range e.adj {
		partners := make([]mcts.Partner, 0, len(set))
		for other := range set {
			partners = append(partners, mcts.Partner{ID: other, Strength: e.edges[keyOf(id, other)].Strength})
		}
		adjacency[id] = partners
	}
	e.mu.RUnlock()

	avg := make(map[mcts.NodeID]float64, tree.Len())
	tree.Walk(func(n mcts.NodeSnapshot) bool {
		avg[n.ID] = n.AvgReward
		return true
	})

	next := make(map[mcts.NodeID]float64, len(adjacency))
	for id, partners := range adjacency {
		sort.Slice(partners, func(i, j int) bool {
			ai, aj := avg[partners[i].ID], avg[partners[j].ID]
			if ai != aj {
				return ai > aj
			}
			return partners[i].ID < partners[j].ID
		})
		k := e.config.BonusTopK
		if k > len(partners) {
			k = len(partners)
		}
		sum := 0.0
		for _, p := range partners[:k] {
			sum += p.Strength
		}
		if sum > 0 {
			next[id] = sum
		}
	}
	e.bonus.Store(&next)
	return len(next)
}
