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
	"errors"
	"fmt"
	"log/slog"
)

// Expander realizes untried actions into child nodes.
//
// Thread Safety: Safe for concurrent use. Domain calls happen outside the
// tree lock.
type Expander struct {
	tree   *Tree
	domain Domain
	logger *slog.Logger
}

// NewExpander creates an expander.
//
// Outputs:
//   - error: ErrNilDomain if domain is nil.
func NewExpander(tree *Tree, domain Domain, logger *slog.Logger) (*Expander, error) {
	if domain == nil {
		return nil, ErrNilDomain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{tree: tree, domain: domain, logger: logger}, nil
}

// Expand realizes one untried action of parent.
//
// Description:
//
//	Possible actions are loaded from the domain on first use. Capacity is
//	checked before an action is taken. The action is popped under the
//	write lock, applied outside it, and the resulting child inserted under
//	the write lock again. A failed transition drops the action for good.
//
// Inputs:
//   - ctx: Passed to Domain.ApplyAction.
//   - parent: The node to expand.
//
// Outputs:
//   - NodeID: The new child.
//   - error: ErrTreeFull, ErrTerminalNode, ErrNotExpandable, ErrNodeNotFound
//     or *ActionApplicationError.
func (e *Expander) Expand(ctx context.Context, parent NodeID) (NodeID, error) {
	if err := e.ensureActions(parent); err != nil {
		return InvalidNode, err
	}

	action, state, err := e.tree.popUntried(parent)
	if err != nil {
		return InvalidNode, err
	}

	next, err := e.domain.ApplyAction(ctx, state, action)
	if err != nil {
		e.logger.Debug("action application failed",
			slog.String("parent", parent.String()),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
		return InvalidNode, &ActionApplicationError{Parent: parent, Action: action, Err: err}
	}
	terminal := e.domain.IsTerminal(next)

	id, err := e.tree.insertChild(parent, action, next, terminal)
	if err != nil {
		if errors.Is(err, ErrTreeFull) {
			e.tree.pushUntried(parent, action)
		}
		return InvalidNode, err
	}
	return id, nil
}

// ensureActions loads the parent's possible actions if not yet loaded.
func (e *Expander) ensureActions(parent NodeID) error {
	e.tree.mu.RLock()
	n, ok := e.tree.get(parent)
	if !ok {
		e.tree.mu.RUnlock()
		return fmt.Errorf("expand %d: %w", parent, ErrNodeNotFound)
	}
	loaded := n.actionsLoaded
	state := n.state
	e.tree.mu.RUnlock()

	if loaded {
		return nil
	}

	terminal := e.domain.IsTerminal(state)
	var actions []Action
	if !terminal {
		actions = e.domain.PossibleActions(state)
	}

	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if n.actionsLoaded {
		return nil
	}
	n.actionsLoaded = true
	n.terminal = n.terminal || terminal
	seen := make(map[Action]struct{}, len(actions))
	n.untried = n.untried[:0]
	for _, a := range actions {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if _, exists := n.children[a]; exists {
			continue
		}
		n.untried = append(n.untried, a)
	}
	return nil
}

// popUntried removes the next untried action of id.
func (t *Tree) popUntried(id NodeID) (Action, State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.get(id)
	if !ok {
		return "", nil, fmt.Errorf("expand %d: %w", id, ErrNodeNotFound)
	}
	if n.terminal {
		return "", nil, fmt.Errorf("expand %d: %w", id, ErrTerminalNode)
	}
	if len(t.nodes) >= t.maxNodes {
		return "", nil, fmt.Errorf("expand %d (cap %d): %w", id, t.maxNodes, ErrTreeFull)
	}
	if len(n.untried) == 0 {
		return "", nil, fmt.Errorf("expand %d: %w", id, ErrNotExpandable)
	}
	a := n.untried[0]
	n.untried = n.untried[1:]
	return a, n.state, nil
}

// pushUntried returns an action to the front of the untried set.
func (t *Tree) pushUntried(id NodeID, a Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.get(id)
	if !ok {
		return
	}
	if _, exists := n.children[a]; exists {
		return
	}
	n.untried = append([]Action{a}, n.untried...)
}
