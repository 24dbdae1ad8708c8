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
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Estimated per-entry memory costs used for pressure checks.
const (
	estimatedNodeBytes   = 512
	estimatedActionBytes = 48
	estimatedEdgeBytes   = 96
)

// Tree is the flat arena holding every search node.
//
// Thread Safety: Safe for concurrent use. A single RWMutex guards the arena.
type Tree struct {
	mu      sync.RWMutex
	nodes   []*SearchNode
	byDepth map[int][]NodeID

	maxNodes            int
	amplitudeDecay      float64
	learningRate        float64
	childAmplitudeDecay float64
	decoherenceStep     float64

	logger *slog.Logger
}

// TreeOption configures a Tree during creation.
type TreeOption func(*Tree)

// WithMaxNodes caps the arena size. Values < 1 are ignored.
func WithMaxNodes(n int) TreeOption {
	return func(t *Tree) {
		if n >= 1 {
			t.maxNodes = n
		}
	}
}

// WithAmplitudeDynamics sets the visit decay and reward learning rate.
func WithAmplitudeDynamics(decay, learningRate float64) TreeOption {
	return func(t *Tree) {
		t.amplitudeDecay = decay
		t.learningRate = learningRate
	}
}

// WithChildInheritance sets how children inherit amplitude and decoherence.
func WithChildInheritance(amplitudeDecay, decoherenceStep float64) TreeOption {
	return func(t *Tree) {
		t.childAmplitudeDecay = amplitudeDecay
		t.decoherenceStep = decoherenceStep
	}
}

// WithTreeLogger sets the logger.
func WithTreeLogger(logger *slog.Logger) TreeOption {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSearchConfig applies every tree-related field of cfg.
func WithSearchConfig(cfg SearchConfig) TreeOption {
	return func(t *Tree) {
		WithMaxNodes(cfg.MaxTreeSize)(t)
		t.amplitudeDecay = cfg.AmplitudeDecay
		t.learningRate = cfg.AmplitudeLearningRate
		t.childAmplitudeDecay = cfg.ChildAmplitudeDecay
		t.decoherenceStep = cfg.DecoherenceStep
	}
}

// NewTree creates a tree holding a single root node.
//
// Inputs:
//   - rootState: The domain state at the root.
//   - opts: Optional configuration functions.
//
// Outputs:
//   - *Tree: The tree, never nil. The root has amplitude 1 and decoherence 0.
//
// Thread Safety: The returned tree is safe for concurrent use.
func NewTree(rootState State, opts ...TreeOption) *Tree {
	defaults := DefaultSearchConfig()
	t := &Tree{
		maxNodes:            defaults.MaxTreeSize,
		amplitudeDecay:      defaults.AmplitudeDecay,
		learningRate:        defaults.AmplitudeLearningRate,
		childAmplitudeDecay: defaults.ChildAmplitudeDecay,
		decoherenceStep:     defaults.DecoherenceStep,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.resetLocked(rootState)
	return t
}

func (t *Tree) resetLocked(rootState State) {
	root := &SearchNode{
		id:        0,
		parent:    InvalidNode,
		state:     rootState,
		children:  make(map[Action]NodeID),
		amplitude: 1.0,
		createdAt: time.Now(),
	}
	t.nodes = []*SearchNode{root}
	t.byDepth = map[int][]NodeID{0: {0}}
}

// Reset discards every node and starts over from rootState.
//
// Thread Safety: Safe for concurrent use. Callers must not hold NodeIDs
// from before the reset.
func (t *Tree) Reset(rootState State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(rootState)
}

// Root returns the root id.
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// MaxNodes returns the configured node cap.
func (t *Tree) MaxNodes() int {
	return t.maxNodes
}

// IsFull reports whether no further node can be inserted.
func (t *Tree) IsFull() bool {
	return t.Len() >= t.maxNodes
}

// get returns the node for id. Must be called with lock held.
func (t *Tree) get(id NodeID) (*SearchNode, bool) {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil, false
	}
	return t.nodes[id], true
}

// Node returns a snapshot of one node.
func (t *Tree) Node(id NodeID) (NodeSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.get(id)
	if !ok {
		return NodeSnapshot{}, false
	}
	return n.snapshot(), true
}

// Children returns snapshots of the children of id in insertion order.
func (t *Tree) Children(id NodeID) []NodeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.get(id)
	if !ok {
		return nil
	}
	out := make([]NodeSnapshot, 0, len(n.childOrder))
	for _, cid := range n.childOrder {
		out = append(out, t.nodes[cid].snapshot())
	}
	return out
}

// NodesAtDepth returns the ids of all nodes at depth d.
func (t *Tree) NodesAtDepth(d int) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byDepth[d]
	out := make([]NodeID, len(ids))
	copy(out, ids)
	return out
}

// Walk calls fn for every node in id order under the read lock.
// Returning false stops the walk. fn must not call back into the tree.
func (t *Tree) Walk(fn func(NodeSnapshot) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, n := range t.nodes {
		if !fn(n.snapshot()) {
			return
		}
	}
}

// PathToRoot returns ids from id up to and including the root.
func (t *Tree) PathToRoot(id NodeID) ([]NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathToRootLocked(id)
}

func (t *Tree) pathToRootLocked(id NodeID) ([]NodeID, error) {
	n, ok := t.get(id)
	if !ok {
		return nil, fmt.Errorf("path from %d: %w", id, ErrNodeNotFound)
	}
	path := make([]NodeID, 0, n.depth+1)
	for {
		path = append(path, n.id)
		if n.parent == InvalidNode {
			return path, nil
		}
		n = t.nodes[n.parent]
	}
}

// ExpandChild inserts a child of parent reached through action.
//
// Description:
//
//	The action is removed from the parent's untried set if present. The
//	child inherits amplitude (parent x child decay) and decoherence
//	(parent + step), clamped into [0, 1].
//
// Inputs:
//   - parent: The parent node id.
//   - action: The action key. Must be unique among the parent's children.
//   - state: The domain state after applying action.
//
// Outputs:
//   - NodeID: The new child's id.
//   - error: ErrTreeFull at the node cap, ErrNodeNotFound, ErrDuplicateAction.
//
// Thread Safety: Takes the write lock for one insertion.
func (t *Tree) ExpandChild(parent NodeID, action Action, state State) (NodeID, error) {
	return t.insertChild(parent, action, state, false)
}

func (t *Tree) insertChild(parent NodeID, action Action, state State, terminal bool) (NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.get(parent)
	if !ok {
		return InvalidNode, fmt.Errorf("expand %d: %w", parent, ErrNodeNotFound)
	}
	if _, exists := p.children[action]; exists {
		return InvalidNode, fmt.Errorf("expand %d with %q: %w", parent, action, ErrDuplicateAction)
	}
	if len(t.nodes) >= t.maxNodes {
		return InvalidNode, fmt.Errorf("expand %d (cap %d): %w", parent, t.maxNodes, ErrTreeFull)
	}

	p.untried = removeAction(p.untried, action)

	id := NodeID(len(t.nodes))
	child := &SearchNode{
		id:          id,
		parent:      parent,
		action:      action,
		state:       state,
		depth:       p.depth + 1,
		children:    make(map[Action]NodeID),
		terminal:    terminal,
		amplitude:   clamp01(p.amplitude * t.childAmplitudeDecay),
		decoherence: clamp01(p.decoherence + t.decoherenceStep),
		createdAt:   time.Now(),
	}
	t.nodes = append(t.nodes, child)
	p.children[action] = id
	p.childOrder = append(p.childOrder, id)
	t.byDepth[child.depth] = append(t.byDepth[child.depth], id)

	return id, nil
}

// RecordVisit adds one visit with reward to a single node.
//
// Description:
//
//	visits++, cumulative += clamp(reward), and
//	amplitude' = clamp(amplitude*decay + reward*learningRate, 0, 1).
//
// Thread Safety: Takes the write lock.
func (t *Tree) RecordVisit(id NodeID, reward float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.get(id)
	if !ok {
		return fmt.Errorf("record visit %d: %w", id, ErrNodeNotFound)
	}
	t.visitLocked(n, clamp01(reward))
	return nil
}

func (t *Tree) visitLocked(n *SearchNode, reward float64) {
	n.visits++
	n.cumulativeReward += reward
	n.amplitude = clamp01(n.amplitude*t.amplitudeDecay + reward*t.learningRate)
}

// applyPath performs one backpropagation under a single write lock.
// path runs leaf to root. nudges maps partner ids to amplitude deltas.
func (t *Tree) applyPath(path []NodeID, ev Evidence, nudges map[NodeID]float64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reward := clamp01(ev.Reward)
	updated := 0
	for i, id := range path {
		n, ok := t.get(id)
		if !ok {
			return updated, fmt.Errorf("backpropagate %d: %w", id, ErrNodeNotFound)
		}
		t.visitLocked(n, reward)
		if i == 0 && ev.Objectives != nil {
			n.objectiveSum.Alignment += clamp01(ev.Objectives.Alignment)
			n.objectiveSum.Quality += clamp01(ev.Objectives.Quality)
			n.objectiveSum.Risk += clamp01(ev.Objectives.Risk)
			n.objectiveSamples++
		}
		updated++
	}

	for id, delta := range nudges {
		// Partners may reference ids from before a Reset.
		if n, ok := t.get(id); ok {
			n.amplitude = clamp01(n.amplitude + delta*t.learningRate)
		}
	}
	return updated, nil
}

// Amplify multiplies the amplitude of each id by factor (capped at 1) and
// the decoherence by coherenceGain.
//
// Outputs:
//   - int: Number of nodes whose amplitude changed.
//
// Thread Safety: Takes the write lock once for the whole set.
func (t *Tree) Amplify(ids []NodeID, factor, coherenceGain float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := 0
	for _, id := range ids {
		n, ok := t.get(id)
		if !ok {
			continue
		}
		before := n.amplitude
		n.amplitude = clamp01(n.amplitude * factor)
		n.decoherence = clamp01(n.decoherence * coherenceGain)
		if n.amplitude != before {
			changed++
		}
	}
	return changed
}

// BestPath follows, from root, the child with the highest average reward.
//
// Description:
//
//	Average reward wins over visit count: a child visited once at 0.95
//	beats a child visited 100 times at 0.9. Unvisited children are
//	skipped. Ties keep the earliest inserted child.
//
// Outputs:
//   - []NodeID: Path starting at root. Contains only root if no child was visited.
func (t *Tree) BestPath(root NodeID) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.get(root)
	if !ok {
		return nil
	}
	path := []NodeID{n.id}
	for {
		best := t.bestChildLocked(n)
		if best == nil {
			return path
		}
		path = append(path, best.id)
		n = best
	}
}

func (t *Tree) bestChildLocked(n *SearchNode) *SearchNode {
	var best *SearchNode
	for _, cid := range n.childOrder {
		c := t.nodes[cid]
		if c.visits == 0 {
			continue
		}
		if best == nil || c.avgReward() > best.avgReward() {
			best = c
		}
	}
	return best
}

// BestPathSnapshots is BestPath returning node snapshots.
func (t *Tree) BestPathSnapshots(root NodeID) []NodeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.get(root)
	if !ok {
		return nil
	}
	out := []NodeSnapshot{n.snapshot()}
	for {
		best := t.bestChildLocked(n)
		if best == nil {
			return out
		}
		out = append(out, best.snapshot())
		n = best
	}
}

// BestModification returns the root child with the highest average reward.
func (t *Tree) BestModification() (NodeSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := t.bestChildLocked(t.nodes[0])
	if best == nil {
		return NodeSnapshot{}, false
	}
	return best.snapshot(), true
}

// TreeStatistics summarizes the arena.
type TreeStatistics struct {
	TotalNodes       int     `json:"total_nodes"`
	TotalVisits      uint64  `json:"total_visits"`
	MaxDepth         int     `json:"max_depth"`
	AvgReward        float64 `json:"avg_reward"`
	AvgDecoherence   float64 `json:"avg_decoherence"`
	MaxAmplitude     float64 `json:"max_amplitude"`
	AvgAmplitude     float64 `json:"avg_amplitude"`
	ExpandableNodes  int     `json:"expandable_nodes"`
	TerminalNodes    int     `json:"terminal_nodes"`
	LeafNodes        int     `json:"leaf_nodes"`
	AvgBranching     float64 `json:"avg_branching"`
	EstimatedBytes   int64   `json:"estimated_bytes"`
	RootVisits       uint64  `json:"root_visits"`
	RootAvgReward    float64 `json:"root_avg_reward"`
	VisitedNodeCount int     `json:"visited_nodes"`
}

// Statistics computes a TreeStatistics under the read lock.
func (t *Tree) Statistics() TreeStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s TreeStatistics
	s.TotalNodes = len(t.nodes)
	var rewardSum, decoSum, ampSum float64
	internal, childSum := 0, 0
	for _, n := range t.nodes {
		s.TotalVisits += n.visits
		if n.depth > s.MaxDepth {
			s.MaxDepth = n.depth
		}
		if n.visits > 0 {
			s.VisitedNodeCount++
			rewardSum += n.avgReward()
		}
		decoSum += n.decoherence
		ampSum += n.amplitude
		if n.amplitude > s.MaxAmplitude {
			s.MaxAmplitude = n.amplitude
		}
		if n.expandable() {
			s.ExpandableNodes++
		}
		if n.terminal {
			s.TerminalNodes++
		}
		if len(n.childOrder) == 0 {
			s.LeafNodes++
		} else {
			internal++
			childSum += len(n.childOrder)
		}
	}
	if s.VisitedNodeCount > 0 {
		s.AvgReward = rewardSum / float64(s.VisitedNodeCount)
	}
	if s.TotalNodes > 0 {
		s.AvgDecoherence = decoSum / float64(s.TotalNodes)
		s.AvgAmplitude = ampSum / float64(s.TotalNodes)
	}
	if internal > 0 {
		s.AvgBranching = float64(childSum) / float64(internal)
	}
	s.EstimatedBytes = t.estimatedBytesLocked()
	s.RootVisits = t.nodes[0].visits
	s.RootAvgReward = t.nodes[0].avgReward()
	return s
}

// EstimatedBytes estimates the arena's memory footprint.
func (t *Tree) EstimatedBytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.estimatedBytesLocked()
}

func (t *Tree) estimatedBytesLocked() int64 {
	total := int64(len(t.nodes)) * estimatedNodeBytes
	for _, n := range t.nodes {
		total += int64(len(n.untried)+len(n.childOrder)) * estimatedActionBytes
	}
	return total
}

// EstimateEdgeBytes estimates the memory of n entanglement edges.
func EstimateEdgeBytes(n int) int64 {
	return int64(n) * estimatedEdgeBytes
}

// Format renders the tree as indented text, one line per node.
//
// Inputs:
//   - maxDepth: Nodes deeper than this are omitted. Negative means no limit.
func (t *Tree) Format(maxDepth int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sb strings.Builder
	t.formatLocked(&sb, t.nodes[0], "", true, maxDepth)
	return sb.String()
}

func (t *Tree) formatLocked(sb *strings.Builder, n *SearchNode, prefix string, last bool, maxDepth int) {
	if maxDepth >= 0 && n.depth > maxDepth {
		return
	}
	connector := "├── "
	childPrefix := prefix + "│   "
	if last {
		connector = "└── "
		childPrefix = prefix + "    "
	}
	label := string(n.action)
	if n.parent == InvalidNode {
		label = "root"
		connector = ""
		childPrefix = ""
	}
	fmt.Fprintf(sb, "%s%s%s [visits=%d avg=%.3f amp=%.3f]\n",
		prefix, connector, label, n.visits, n.avgReward(), n.amplitude)
	for i, cid := range n.childOrder {
		t.formatLocked(sb, t.nodes[cid], childPrefix, i == len(n.childOrder)-1, maxDepth)
	}
}

func removeAction(actions []Action, a Action) []Action {
	for i, x := range actions {
		if x == a {
			return append(actions[:i], actions[i+1:]...)
		}
	}
	return actions
}
