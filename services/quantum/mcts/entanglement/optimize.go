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
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// OptimizationResult reports what one Optimize pass changed.
type OptimizationResult struct {
	Pruned       int           `json:"pruned"`
	Dangling     int           `json:"dangling"`
	Strengthened int           `json:"strengthened"`
	Remaining    int           `json:"remaining"`
	Duration     time.Duration `json:"duration"`
}

// Changed reports whether the pass modified the graph.
func (r OptimizationResult) Changed() bool {
	return r.Pruned+r.Strengthened > 0
}

type nodeStat struct {
	visits uint64
	avg    float64
}

// Optimize prunes and strengthens edges.
//
// Description:
//
//	Edges with an endpoint missing from the tree are pruned as dangling.
//	Edges below the strength threshold are pruned. An edge whose endpoints
//	are both visited with avg reward at or above the strengthen bar is
//	raised to min(1, mean(avgA, avgB)) when below that target. A second
//	call with no intervening mutation changes nothing.
//
// Inputs:
//   - tree: Source of node statistics.
//
// Outputs:
//   - OptimizationResult: Counts. Pruned includes Dangling.
//
// Thread Safety: Reads the tree first, then takes the graph write lock.
func (e *Engine) Optimize(tree TreeReader) OptimizationResult {
	start := time.Now()

	stats := make(map[mcts.NodeID]nodeStat, tree.Len())
	tree.Walk(func(n mcts.NodeSnapshot) bool {
		stats[n.ID] = nodeStat{visits: n.Visits, avg: n.AvgReward}
		return true
	})

	var res OptimizationResult
	e.mu.Lock()
	for k, edge := range e.edges {
		sa, okA := stats[k.lo]
		sb, okB := stats[k.hi]
		switch {
		case !okA || !okB:
			e.removeLocked(k)
			res.Dangling++
			res.Pruned++
		case edge.Strength < e.config.StrengthThreshold:
			e.removeLocked(k)
			res.Pruned++
		case sa.visits > 0 && sb.visits > 0 &&
			sa.avg >= e.config.StrengthenThreshold && sb.avg >= e.config.StrengthenThreshold:
			target := math.Min(1, (sa.avg+sb.avg)/2)
			if edge.Strength < target {
				edge.Strength = target
				res.Strengthened++
			}
		}
	}
	res.Remaining = len(e.edges)
	e.mu.Unlock()

	res.Duration = time.Since(start)
	if res.Changed() {
		e.logger.Debug("entanglements optimized",
			slog.Int("pruned", res.Pruned),
			slog.Int("dangling", res.Dangling),
			slog.Int("strengthened", res.Strengthened),
			slog.Int("remaining", res.Remaining),
		)
	}
	return res
}
