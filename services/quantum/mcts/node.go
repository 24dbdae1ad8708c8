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
	"fmt"
	"time"
)

// NodeState represents the expansion state of a search node.
type NodeState string

const (
	NodeUnexplored NodeState = "unexplored"
	NodePartial    NodeState = "partial"
	NodeExpanded   NodeState = "expanded"
	NodeTerminal   NodeState = "terminal"
)

// String returns the string representation of the node state.
func (s NodeState) String() string {
	return string(s)
}

// SearchNode is a single arena entry.
//
// Thread Safety: Not safe on its own. All fields are guarded by the owning
// Tree's lock and the type is never handed out of the package; readers get
// a NodeSnapshot instead.
type SearchNode struct {
	id     NodeID
	parent NodeID
	action Action
	state  State
	depth  int

	children   map[Action]NodeID
	childOrder []NodeID

	untried       []Action
	actionsLoaded bool
	terminal      bool

	visits           uint64
	cumulativeReward float64
	amplitude        float64
	decoherence      float64

	objectiveSum     ObjectiveScores
	objectiveSamples uint64

	createdAt time.Time
}

// avgReward returns cumulative/visits clamped into [0, 1], or 0 with no visits.
func (n *SearchNode) avgReward() float64 {
	if n.visits == 0 {
		return 0
	}
	return clamp01(n.cumulativeReward / float64(n.visits))
}

// expandable reports whether untried actions may remain.
func (n *SearchNode) expandable() bool {
	if n.terminal {
		return false
	}
	return !n.actionsLoaded || len(n.untried) > 0
}

func (n *SearchNode) nodeState() NodeState {
	switch {
	case n.terminal:
		return NodeTerminal
	case !n.actionsLoaded && len(n.childOrder) == 0:
		return NodeUnexplored
	case n.expandable():
		return NodePartial
	default:
		return NodeExpanded
	}
}

func (n *SearchNode) objectives() (ObjectiveScores, bool) {
	if n.objectiveSamples == 0 {
		return ObjectiveScores{}, false
	}
	k := float64(n.objectiveSamples)
	return ObjectiveScores{
		Alignment: n.objectiveSum.Alignment / k,
		Quality:   n.objectiveSum.Quality / k,
		Risk:      n.objectiveSum.Risk / k,
	}, true
}

func (n *SearchNode) snapshot() NodeSnapshot {
	children := make([]NodeID, len(n.childOrder))
	copy(children, n.childOrder)
	untried := make([]Action, len(n.untried))
	copy(untried, n.untried)

	s := NodeSnapshot{
		ID:               n.id,
		Parent:           n.parent,
		Action:           n.action,
		State:            n.state,
		Depth:            n.depth,
		Children:         children,
		Untried:          untried,
		Visits:           n.visits,
		CumulativeReward: n.cumulativeReward,
		AvgReward:        n.avgReward(),
		Amplitude:        n.amplitude,
		Decoherence:      n.decoherence,
		Terminal:         n.terminal,
		Expandable:       n.expandable(),
		Status:           n.nodeState(),
		CreatedAt:        n.createdAt,
	}
	if obj, ok := n.objectives(); ok {
		s.Objectives = &obj
	}
	return s
}

// NodeSnapshot is an immutable copy of a node taken under the tree lock.
type NodeSnapshot struct {
	ID               NodeID           `json:"id"`
	Parent           NodeID           `json:"parent"`
	Action           Action           `json:"action,omitempty"`
	State            State            `json:"-"`
	Depth            int              `json:"depth"`
	Children         []NodeID         `json:"children,omitempty"`
	Untried          []Action         `json:"untried,omitempty"`
	Visits           uint64           `json:"visits"`
	CumulativeReward float64          `json:"cumulative_reward"`
	AvgReward        float64          `json:"avg_reward"`
	Amplitude        float64          `json:"amplitude"`
	Decoherence      float64          `json:"decoherence"`
	Terminal         bool             `json:"terminal"`
	Expandable       bool             `json:"expandable"`
	Status           NodeState        `json:"status"`
	Objectives       *ObjectiveScores `json:"objectives,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// IsRoot returns true if the snapshot is of the root node.
func (s NodeSnapshot) IsRoot() bool {
	return s.Parent == InvalidNode
}

// String returns a short description for logs.
func (s NodeSnapshot) String() string {
	return fmt.Sprintf("Node[%d](%q, visits=%d, avg=%.3f, amp=%.3f)",
		s.ID, s.Action, s.Visits, s.AvgReward, s.Amplitude)
}

func clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 clamps v into [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return clamp01(v)
}
