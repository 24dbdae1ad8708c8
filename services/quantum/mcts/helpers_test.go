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
	"strings"
	"sync"
)

var errBadAction = errors.New("bad action")

// pathDomain builds states as "/"-joined action paths.
type pathDomain struct {
	actions  []Action
	maxDepth int

	mu      sync.Mutex
	applied int
}

func newPathDomain(maxDepth int, actions ...Action) *pathDomain {
	return &pathDomain{actions: actions, maxDepth: maxDepth}
}

func (d *pathDomain) ApplyAction(_ context.Context, state State, action Action) (State, error) {
	d.mu.Lock()
	d.applied++
	d.mu.Unlock()
	if action == "bad" {
		return nil, errBadAction
	}
	return state.(string) + "/" + string(action), nil
}

func (d *pathDomain) PossibleActions(State) []Action {
	out := make([]Action, len(d.actions))
	copy(out, d.actions)
	return out
}

func (d *pathDomain) IsTerminal(state State) bool {
	return strings.Count(state.(string), "/") >= d.maxDepth
}

func (d *pathDomain) BaseReward(state State) float64 {
	return 0.5
}

// staticSource is an EntanglementSource with fixed data.
type staticSource struct {
	bonus    map[NodeID]float64
	partners map[NodeID][]Partner
}

func (s staticSource) Bonus(id NodeID) float64     { return s.bonus[id] }
func (s staticSource) Partners(id NodeID) []Partner { return s.partners[id] }
