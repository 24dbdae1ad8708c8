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
	"math"
	"sync/atomic"
)

// SelectionStrategy chooses how child scores are computed.
type SelectionStrategy int32

const (
	// StrategyQuantumUCT blends UCT with amplitude x entanglement bonus.
	StrategyQuantumUCT SelectionStrategy = iota

	// StrategyFast is plain UCT. The entanglement cache is never read.
	StrategyFast

	// StrategyMultiObjective drops Pareto-dominated children, then UCT.
	StrategyMultiObjective

	// StrategyEntanglementAware doubles the entanglement weight.
	StrategyEntanglementAware
)

// String returns the configuration name of the strategy.
func (s SelectionStrategy) String() string {
	switch s {
	case StrategyQuantumUCT:
		return "quantum_uct"
	case StrategyFast:
		return "fast"
	case StrategyMultiObjective:
		return "multi_objective"
	case StrategyEntanglementAware:
		return "entanglement_aware"
	default:
		return fmt.Sprintf("strategy(%d)", int32(s))
	}
}

// ParseSelectionStrategy parses a configuration name.
func ParseSelectionStrategy(name string) (SelectionStrategy, error) {
	for _, s := range []SelectionStrategy{StrategyQuantumUCT, StrategyFast, StrategyMultiObjective, StrategyEntanglementAware} {
		if s.String() == name {
			return s, nil
		}
	}
	return StrategyQuantumUCT, NewConfigurationError("strategy", fmt.Sprintf("unknown selection strategy %q", name))
}

// UCTScore calculates the classical UCT score.
//
// Inputs:
//   - avg: Average reward of the child.
//   - visits: Child visit count.
//   - parentVisits: Parent visit count.
//   - c: Exploration constant.
//
// Outputs:
//   - float64: +Inf for unvisited children.
func UCTScore(avg float64, visits, parentVisits uint64, c float64) float64 {
	if visits == 0 {
		return math.Inf(1)
	}
	pv := float64(parentVisits)
	if pv < 1 {
		pv = 1
	}
	return avg + c*math.Sqrt(math.Log(pv)/float64(visits))
}

// childStat is the per-child data copied out of the tree lock.
type childStat struct {
	id         NodeID
	visits     uint64
	avg        float64
	amplitude  float64
	objectives *ObjectiveScores
}

// Selector picks children during tree descent.
//
// Thread Safety: Safe for concurrent use. The tree read lock and the
// entanglement source are never held at the same time.
type Selector struct {
	tree     *Tree
	source   EntanglementSource
	c        float64
	weight   float64
	strategy atomic.Int32
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithEntanglementSource sets where bonuses are read from.
func WithEntanglementSource(src EntanglementSource) SelectorOption {
	return func(s *Selector) {
		if src != nil {
			s.source = src
		}
	}
}

// WithStrategy sets the initial strategy.
func WithStrategy(strategy SelectionStrategy) SelectorOption {
	return func(s *Selector) {
		s.strategy.Store(int32(strategy))
	}
}

// WithExploration sets the exploration constant and entanglement weight.
func WithExploration(c, entanglementWeight float64) SelectorOption {
	return func(s *Selector) {
		if c > 0 {
			s.c = c
		}
		if entanglementWeight >= 0 {
			s.weight = entanglementWeight
		}
	}
}

// NewSelector creates a selector over tree.
func NewSelector(tree *Tree, opts ...SelectorOption) *Selector {
	defaults := DefaultSearchConfig()
	s := &Selector{
		tree:   tree,
		source: noEntanglement{},
		c:      defaults.ExplorationConstant,
		weight: defaults.EntanglementWeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the active strategy.
func (s *Selector) Strategy() SelectionStrategy {
	return SelectionStrategy(s.strategy.Load())
}

// SetStrategy switches the active strategy. Used by degradation.
func (s *Selector) SetStrategy(strategy SelectionStrategy) {
	s.strategy.Store(int32(strategy))
}

// ExplorationConstant returns the default C.
func (s *Selector) ExplorationConstant() float64 {
	return s.c
}

// readChildren copies child statistics under the read lock.
func (s *Selector) readChildren(parent NodeID) (uint64, []childStat, bool, error) {
	s.tree.mu.RLock()
	defer s.tree.mu.RUnlock()

	p, ok := s.tree.get(parent)
	if !ok {
		return 0, nil, false, fmt.Errorf("select from %d: %w", parent, ErrNodeNotFound)
	}
	stats := make([]childStat, 0, len(p.childOrder))
	for _, cid := range p.childOrder {
		c := s.tree.nodes[cid]
		st := childStat{id: cid, visits: c.visits, avg: c.avgReward(), amplitude: c.amplitude}
		if obj, ok := c.objectives(); ok {
			st.objectives = &obj
		}
		stats = append(stats, st)
	}
	descend := !p.terminal && p.actionsLoaded && len(p.untried) == 0 && len(p.childOrder) > 0
	return p.visits, stats, descend, nil
}

// SelectChild picks the best child of parent.
//
// Description:
//
//	The first unvisited child in insertion order wins outright. Otherwise
//	score = UCT + amplitude x bonus x weight, where the weight depends on
//	the active strategy.
//
// Inputs:
//   - parent: The node whose children are scored.
//   - c: Exploration constant. Values <= 0 use the configured default.
//
// Outputs:
//   - NodeID: The selected child.
//   - error: ErrNodeNotFound or ErrNoChildren.
//
// Thread Safety: Takes only the tree read lock.
func (s *Selector) SelectChild(parent NodeID, c float64) (NodeID, error) {
	parentVisits, stats, _, err := s.readChildren(parent)
	if err != nil {
		return InvalidNode, err
	}
	return s.pick(parent, parentVisits, stats, c)
}

func (s *Selector) pick(parent NodeID, parentVisits uint64, stats []childStat, c float64) (NodeID, error) {
	if len(stats) == 0 {
		return InvalidNode, fmt.Errorf("select from %d: %w", parent, ErrNoChildren)
	}
	if c <= 0 {
		c = s.c
	}
	for _, st := range stats {
		if st.visits == 0 {
			return st.id, nil
		}
	}

	strategy := s.Strategy()
	weight := s.weight
	switch strategy {
	case StrategyFast, StrategyMultiObjective:
		weight = 0
	case StrategyEntanglementAware:
		weight *= 2
	}
	if strategy == StrategyMultiObjective {
		stats = paretoFront(stats)
	}

	best := InvalidNode
	bestScore := math.Inf(-1)
	for _, st := range stats {
		score := UCTScore(st.avg, st.visits, parentVisits, c)
		if weight > 0 {
			score += st.amplitude * s.source.Bonus(st.id) * weight
		}
		if score > bestScore {
			bestScore = score
			best = st.id
		}
	}
	return best, nil
}

// paretoFront drops children dominated on all three objectives.
// Children without objective samples are never dominated.
func paretoFront(stats []childStat) []childStat {
	front := make([]childStat, 0, len(stats))
	for i, a := range stats {
		dominated := false
		if a.objectives != nil {
			for j, b := range stats {
				if i != j && b.objectives != nil && b.objectives.Dominates(*a.objectives) {
					dominated = true
					break
				}
			}
		}
		if !dominated {
			front = append(front, a)
		}
	}
	return front
}

// Descend walks from root while the node is fully expanded, non-terminal
// and has children.
//
// Outputs:
//   - []NodeID: The root-to-leaf path. The last element is the leaf to
//     expand or evaluate.
//   - error: ErrNodeNotFound if root is unknown.
//
// Thread Safety: Takes the tree read lock once per level.
func (s *Selector) Descend(root NodeID) ([]NodeID, error) {
	path := []NodeID{root}
	current := root
	for {
		visits, stats, descend, err := s.readChildren(current)
		if err != nil {
			return path, err
		}
		if !descend {
			return path, nil
		}
		next, err := s.pick(current, visits, stats, s.c)
		if err != nil {
			return path, nil
		}
		path = append(path, next)
		current = next
	}
}
