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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// EdgeType describes why two nodes were entangled.
type EdgeType string

const (
	EdgeSibling    EdgeType = "sibling"
	EdgeCousin     EdgeType = "cousin"
	EdgeCorrelated EdgeType = "correlated"
	EdgeManual     EdgeType = "manual"
)

// Edge is one undirected entanglement.
type Edge struct {
	A         mcts.NodeID `json:"a"`
	B         mcts.NodeID `json:"b"`
	Strength  float64     `json:"strength"`
	Type      EdgeType    `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// edgeKey orders the endpoints so (a, b) and (b, a) share one key.
type edgeKey struct{ lo, hi mcts.NodeID }

func keyOf(a, b mcts.NodeID) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{lo: a, hi: b}
}

// TreeReader is the read-only view of the search tree the engine needs.
//
// *mcts.Tree satisfies it.
type TreeReader interface {
	Node(id mcts.NodeID) (mcts.NodeSnapshot, bool)
	NodesAtDepth(depth int) []mcts.NodeID
	Walk(fn func(mcts.NodeSnapshot) bool)
	Len() int
}

// Engine owns the entanglement graph.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	edges map[edgeKey]*Edge
	adj   map[mcts.NodeID]map[mcts.NodeID]struct{}

	bonus   atomic.Pointer[map[mcts.NodeID]float64]
	refresh singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an empty graph.
//
// Outputs:
//   - error: *mcts.ConfigurationError if config is invalid.
func NewEngine(config Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("entanglement config: %w", err)
	}
	e := &Engine{
		config: config,
		logger: slog.Default(),
		edges:  make(map[edgeKey]*Edge),
		adj:    make(map[mcts.NodeID]map[mcts.NodeID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	empty := make(map[mcts.NodeID]float64)
	e.bonus.Store(&empty)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// CreateEntanglement adds or strengthens the edge between a and b.
//
// Description:
//
//	An existing edge keeps the larger of its current and the new strength.
//	New edges are rejected when either endpoint is at the degree cap; no
//	existing edge is evicted.
//
// Inputs:
//   - a, b: The endpoints. Must differ.
//   - strength: Clamped into [0, 1].
//   - typ: Why the edge exists.
//
// Outputs:
//   - error: ErrSelfEntanglement or ErrEntanglementLimit.
func (e *Engine) CreateEntanglement(a, b mcts.NodeID, strength float64, typ EdgeType) error {
	if a == b {
		return fmt.Errorf("entangle %d: %w", a, ErrSelfEntanglement)
	}
	strength = mcts.Clamp01(strength)

	e.mu.Lock()
	defer e.mu.Unlock()

	k := keyOf(a, b)
	if existing, ok := e.edges[k]; ok {
		if strength > existing.Strength {
			existing.Strength = strength
		}
		return nil
	}
	if len(e.adj[a]) >= e.config.MaxEntanglementsPerNode {
		return fmt.Errorf("entangle %d-%d (node %d at %d): %w", a, b, a, e.config.MaxEntanglementsPerNode, ErrEntanglementLimit)
	}
	if len(e.adj[b]) >= e.config.MaxEntanglementsPerNode {
		return fmt.Errorf("entangle %d-%d (node %d at %d): %w", a, b, b, e.config.MaxEntanglementsPerNode, ErrEntanglementLimit)
	}

	e.edges[k] = &Edge{A: k.lo, B: k.hi, Strength: strength, Type: typ, CreatedAt: time.Now()}
	e.link(a, b)
	e.link(b, a)
	return nil
}

// link must be called with the write lock held.
func (e *Engine) link(from, to mcts.NodeID) {
	set, ok := e.adj[from]
	if !ok {
		set = make(map[mcts.NodeID]struct{})
		e.adj[from] = set
	}
	set[to] = struct{}{}
}

// removeLocked must be called with the write lock held.
func (e *Engine) removeLocked(k edgeKey) bool {
	if _, ok := e.edges[k]; !ok {
		return false
	}
	delete(e.edges, k)
	for _, pair := range [][2]mcts.NodeID{{k.lo, k.hi}, {k.hi, k.lo}} {
		if set, ok := e.adj[pair[0]]; ok {
			delete(set, pair[1])
			if len(set) == 0 {
				delete(e.adj, pair[0])
			}
		}
	}
	return true
}

// RemoveEntanglement deletes the edge between a and b.
//
// Outputs:
//   - error: ErrEdgeNotFound if no such edge exists.
func (e *Engine) RemoveEntanglement(a, b mcts.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removeLocked(keyOf(a, b)) {
		return fmt.Errorf("remove %d-%d: %w", a, b, ErrEdgeNotFound)
	}
	return nil
}

// GetEntangledNodes returns the partners of id, strongest first.
func (e *Engine) GetEntangledNodes(id mcts.NodeID) []mcts.Partner {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]mcts.Partner, 0, len(e.adj[id]))
	for other := range e.adj[id] {
		out = append(out, mcts.Partner{ID: other, Strength: e.edges[keyOf(id, other)].Strength})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Partners implements mcts.EntanglementSource.
func (e *Engine) Partners(id mcts.NodeID) []mcts.Partner {
	return e.GetEntangledNodes(id)
}

// Edge returns a copy of the edge between a and b.
func (e *Engine) Edge(a, b mcts.NodeID) (Edge, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	edge, ok := e.edges[keyOf(a, b)]
	if !ok {
		return Edge{}, false
	}
	return *edge, true
}

// Edges returns copies of all edges ordered by endpoints.
func (e *Engine) Edges() []Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.edgesLocked()
}

func (e *Engine) edgesLocked() []Edge {
	out := make([]Edge, 0, len(e.edges))
	for _, edge := range e.edges {
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// EdgeCount returns the number of edges.
func (e *Engine) EdgeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.edges)
}

// Degree returns the number of partners of id.
func (e *Engine) Degree(id mcts.NodeID) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.adj[id])
}

// Clear removes every edge and empties the bonus cache.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.edges = make(map[edgeKey]*Edge)
	e.adj = make(map[mcts.NodeID]map[mcts.NodeID]struct{})
	e.mu.Unlock()

	empty := make(map[mcts.NodeID]float64)
	e.bonus.Store(&empty)
}

// EntangleNew creates edges from a freshly expanded node to nearby
// coherent nodes.
//
// Description:
//
//	Candidates are nodes whose depth is within one of id. The direct
//	parent and children are skipped. Both the new node and a candidate
//	must have decoherence below the threshold. Siblings are typed
//	EdgeSibling, everything else EdgeCousin. Candidates already at the
//	degree cap are skipped; the scan stops once id itself is full.
//
// Outputs:
//   - int: Number of edges created.
//   - error: mcts.ErrNodeNotFound if id is unknown.
func (e *Engine) EntangleNew(tree TreeReader, id mcts.NodeID) (int, error) {
	node, ok := tree.Node(id)
	if !ok {
		return 0, fmt.Errorf("entangle new %d: %w", id, mcts.ErrNodeNotFound)
	}
	if node.Decoherence >= e.config.DecoherenceThreshold {
		return 0, nil
	}

	type candidate struct {
		id  mcts.NodeID
		typ EdgeType
	}
	var siblings, others []candidate
	for d := node.Depth - 1; d <= node.Depth+1; d++ {
		if d < 0 {
			continue
		}
		for _, cid := range tree.NodesAtDepth(d) {
			if cid == id || cid == node.Parent {
				continue
			}
			c, ok := tree.Node(cid)
			if !ok || c.Parent == id || c.Decoherence >= e.config.DecoherenceThreshold {
				continue
			}
			if c.Parent == node.Parent && c.Depth == node.Depth {
				siblings = append(siblings, candidate{cid, EdgeSibling})
			} else {
				others = append(others, candidate{cid, EdgeCousin})
			}
		}
	}

	created := 0
	for _, c := range append(siblings, others...) {
		if e.Degree(id) >= e.config.MaxEntanglementsPerNode {
			break
		}
		if _, exists := e.Edge(id, c.id); exists {
			continue
		}
		err := e.CreateEntanglement(id, c.id, e.config.DefaultStrength, c.typ)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrEntanglementLimit):
			continue
		default:
			return created, err
		}
	}
	return created, nil
}

// Decay multiplies every edge strength by factor.
//
// Edges that fall below the strength threshold stay until the next
// Optimize pass.
//
// Outputs:
//   - int: Number of edges whose strength changed.
func (e *Engine) Decay(factor float64) int {
	factor = mcts.Clamp01(factor)
	if factor == 1 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := 0
	for _, edge := range e.edges {
		next := mcts.Clamp01(edge.Strength * factor)
		if next != edge.Strength {
			edge.Strength = next
			changed++
		}
	}
	return changed
}

// EstimatedBytes estimates the graph's memory footprint.
func (e *Engine) EstimatedBytes() int64 {
	return mcts.EstimateEdgeBytes(e.EdgeCount())
}
