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

import (
	"context"
	"strconv"
)

// NodeID is an opaque handle into the tree arena.
type NodeID int64

// InvalidNode is returned when no node applies.
const InvalidNode NodeID = -1

// String returns the decimal form of the id.
func (id NodeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Action identifies a candidate modification. Action keys are unique per
// parent node.
type Action string

// State is the domain state carried by a node. The tree never inspects it.
type State any

// Domain supplies the state transition and base scoring functions.
//
// Thread Safety: Implementations must be safe for concurrent use. The tree
// never holds its lock while calling into a Domain.
type Domain interface {
	// ApplyAction returns the state produced by applying action to state.
	ApplyAction(ctx context.Context, state State, action Action) (State, error)

	// PossibleActions lists the actions available from state.
	PossibleActions(state State) []Action

	// IsTerminal reports whether no further modification is meaningful.
	IsTerminal(state State) bool

	// BaseReward scores a state in [0, 1] without consulting the committee.
	BaseReward(state State) float64
}

// Partner is one entanglement edge seen from a single node.
type Partner struct {
	ID       NodeID  `json:"id"`
	Strength float64 `json:"strength"`
}

// EntanglementSource exposes the entanglement data the tree needs during
// selection and backpropagation.
//
// Thread Safety: Implementations must be safe for concurrent use and must
// not call back into the Tree.
type EntanglementSource interface {
	// Bonus returns the cached entanglement bonus for a node. O(1).
	Bonus(id NodeID) float64

	// Partners returns the current partners of a node.
	Partners(id NodeID) []Partner
}

// ObjectiveScores holds committee objective means for a node.
type ObjectiveScores struct {
	Alignment float64 `json:"alignment"`
	Quality   float64 `json:"quality"`
	Risk      float64 `json:"risk"`
}

// Dominates reports whether o is at least as good as other on every
// objective and strictly better on one.
func (o ObjectiveScores) Dominates(other ObjectiveScores) bool {
	if o.Alignment < other.Alignment || o.Quality < other.Quality || o.Risk < other.Risk {
		return false
	}
	return o.Alignment > other.Alignment || o.Quality > other.Quality || o.Risk > other.Risk
}

// Evidence is the outcome of evaluating one leaf.
type Evidence struct {
	Reward     float64
	Objectives *ObjectiveScores
}

// noEntanglement is used when no EntanglementSource is configured.
type noEntanglement struct{}

func (noEntanglement) Bonus(NodeID) float64       { return 0 }
func (noEntanglement) Partners(NodeID) []Partner { return nil }
