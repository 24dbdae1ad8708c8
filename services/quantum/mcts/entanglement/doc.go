// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entanglement maintains the correlation graph between search nodes.
//
// Edges are undirected, keyed by a pair of mcts.NodeID values, and carry a
// strength in [0, 1]. The Engine creates edges for new nodes, prunes weak
// or dangling ones, strengthens edges between consistently good nodes and
// reports network topology and health.
//
// The Engine implements mcts.EntanglementSource. Bonus reads hit a cache
// rebuilt by RefreshBonusCache, so selection never scans the graph.
//
// # Thread Safety
//
// The graph has its own sync.RWMutex. No method holds it while reading the
// search tree; tree data is copied out first and the graph lock acquired
// afterwards.
package entanglement
