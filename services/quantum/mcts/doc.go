// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcts implements the amplitude-weighted search tree used by the
// quantum improvement loop.
//
// # Architecture
//
// The package consists of several key components:
//
//   - Tree: Flat arena of SearchNode values keyed by NodeID
//   - Selector: Descends the tree with a quantum-weighted UCT score
//   - Expander: Realizes one untried action into a child node via the Domain
//   - Backpropagator: Pushes reward from a leaf back to the root
//   - ResourceBudget: Node, memory and wall-clock limits
//   - DegradationManager: Falls back to cheaper selection under failures
//   - AuditLog: Hash-chained record of search operations
//
// # Phases
//
// 1. SELECT: Descend from the root choosing children by UCT + amplitude x bonus
// 2. EXPAND: Apply one untried action through the Domain
// 3. EVALUATE: Performed by the caller (committee evaluation)
// 4. BACKPROPAGATE: Update visits, reward and amplitude leaf to root
//
// # Identity
//
// Every reference between nodes (parent, children, entanglement partners)
// is a NodeID lookup into the arena. Nodes are never deleted individually;
// only Tree.Reset clears the arena.
//
// # Thread Safety
//
// Tree owns a single sync.RWMutex. Selection and analysis take the read
// lock. The write lock covers exactly one node insertion or one path
// update and is never held while calling into the Domain or an evaluator.
//
// Lock order: the tree lock and the entanglement graph lock are never held
// at the same time. Callers read from one, release it, then acquire the
// other.
//
// # Observability
//
// The package integrates with OpenTelemetry for:
//   - Tracing of select, expand and backpropagate phases
//   - Metric instruments for node creation, failures and tree size
//   - Structured logging with slog
package mcts
