// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

// BackpropResult describes one backpropagation.
type BackpropResult struct {
	// PathLength is the number of nodes that received a visit.
	PathLength int

	// PartnersNudged is the number of off-path partners whose amplitude moved.
	PartnersNudged int
}

// Backpropagator pushes evaluation results from a leaf to the root.
//
// Thread Safety: Safe for concurrent use. Each call takes the tree write
// lock exactly once.
type Backpropagator struct {
	tree        *Tree
	source      EntanglementSource
	propagation float64
}

// NewBackpropagator creates a backpropagator.
//
// Inputs:
//   - tree: The tree to update.
//   - source: Entanglement partners. May be nil.
//   - propagation: Share of reward pushed to partners, in [0, 1].
func NewBackpropagator(tree *Tree, source EntanglementSource, propagation float64) *Backpropagator {
	if source == nil {
		source = noEntanglement{}
	}
	return &Backpropagator{tree: tree, source: source, propagation: clamp01(propagation)}
}

// Backpropagate records ev on every node from leaf up to the root.
//
// Description:
//
//	Partners of path nodes receive an amplitude nudge of
//	reward x strength x propagation x learning rate. Visits and rewards of
//	partners are untouched. Objective scores are recorded on the leaf only.
//
// Inputs:
//   - leaf: The evaluated node.
//   - ev: The evaluation outcome. Reward is clamped into [0, 1].
//
// Outputs:
//   - BackpropResult: Counts of updated nodes.
//   - error: ErrNodeNotFound if leaf is unknown.
func (b *Backpropagator) Backpropagate(leaf NodeID, ev Evidence) (BackpropResult, error) {
	path, err := b.tree.PathToRoot(leaf)
	if err != nil {
		return BackpropResult{}, err
	}

	reward := clamp01(ev.Reward)
	var nudges map[NodeID]float64
	if b.propagation > 0 && reward > 0 {
		onPath := make(map[NodeID]struct{}, len(path))
		for _, id := range path {
			onPath[id] = struct{}{}
		}
		for _, id := range path {
			for _, p := range b.source.Partners(id) {
				if _, skip := onPath[p.ID]; skip {
					continue
				}
				if nudges == nil {
					nudges = make(map[NodeID]float64)
				}
				nudges[p.ID] += reward * clamp01(p.Strength) * b.propagation
			}
		}
	}

	n, err := b.tree.applyPath(path, ev, nudges)
	return BackpropResult{PathLength: n, PartnersNudged: len(nudges)}, err
}
