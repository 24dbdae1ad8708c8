// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package demo provides a self-contained improvement problem for the CLI
// and HTTP API: tuning three service knobs toward a hidden optimum, judged
// by a committee of simulated reviewers.
//
// # Domain
//
// A state is a Knobs value. Each action nudges one knob up or down by one
// level. The base reward is the normalized Manhattan distance to the
// optimum, so the search has a single global maximum and many plateaus
// along the way.
package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// ErrInvalidMove is returned by ApplyAction for an unknown action or one
// that would leave the knob range.
var ErrInvalidMove = errors.New("invalid tuning move")

// Knob names.
const (
	KnobCache   = "cache"
	KnobWorkers = "workers"
	KnobBatch   = "batch"
)

// Knobs is one configuration of the tuned service. Values are levels in
// [0, Levels).
type Knobs struct {
	Cache   int `json:"cache"`
	Workers int `json:"workers"`
	Batch   int `json:"batch"`
	Steps   int `json:"steps"`
}

// String formats the knobs as "cache=1 workers=2 batch=3".
func (k Knobs) String() string {
	return fmt.Sprintf("cache=%d workers=%d batch=%d", k.Cache, k.Workers, k.Batch)
}

// ParseKnobs reads the String form back. Steps is not part of it.
func ParseKnobs(s string) (Knobs, error) {
	var k Knobs
	if _, err := fmt.Sscanf(s, "cache=%d workers=%d batch=%d", &k.Cache, &k.Workers, &k.Batch); err != nil {
		return Knobs{}, fmt.Errorf("parse knobs %q: %w", s, err)
	}
	return k, nil
}

func (k Knobs) get(knob string) int {
	switch knob {
	case KnobCache:
		return k.Cache
	case KnobWorkers:
		return k.Workers
	default:
		return k.Batch
	}
}

func (k Knobs) with(knob string, v int) Knobs {
	switch knob {
	case KnobCache:
		k.Cache = v
	case KnobWorkers:
		k.Workers = v
	default:
		k.Batch = v
	}
	return k
}

var knobs = []string{KnobCache, KnobWorkers, KnobBatch}

// Move is a parsed action: a knob and a direction of +1 or -1.
type Move struct {
	Knob  string
	Delta int
}

// ParseMove parses "cache_up" style actions.
func ParseMove(a mcts.Action) (Move, error) {
	knob, dir, ok := strings.Cut(string(a), "_")
	if !ok {
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, a)
	}
	var m Move
	switch dir {
	case "up":
		m.Delta = 1
	case "down":
		m.Delta = -1
	default:
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, a)
	}
	switch knob {
	case KnobCache, KnobWorkers, KnobBatch:
		m.Knob = knob
	default:
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, a)
	}
	return m, nil
}

// Action formats the move.
func (m Move) Action() mcts.Action {
	if m.Delta > 0 {
		return mcts.Action(m.Knob + "_up")
	}
	return mcts.Action(m.Knob + "_down")
}

// TuningDomain implements mcts.Domain and improvement.StateDescriber.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type TuningDomain struct {
	Start    Knobs
	Optimum  Knobs
	Levels   int
	MaxSteps int
}

// NewTuningDomain returns the default problem: eight levels per knob,
// starting far from the optimum.
func NewTuningDomain() *TuningDomain {
	return &TuningDomain{
		Start:    Knobs{Cache: 1, Workers: 1, Batch: 1},
		Optimum:  Knobs{Cache: 4, Workers: 6, Batch: 3},
		Levels:   8,
		MaxSteps: 12,
	}
}

// ApplyAction moves one knob by one level.
func (d *TuningDomain) ApplyAction(ctx context.Context, state mcts.State, action mcts.Action) (mcts.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, ok := state.(Knobs)
	if !ok {
		return nil, fmt.Errorf("%w: state is %T", ErrInvalidMove, state)
	}
	m, err := ParseMove(action)
	if err != nil {
		return nil, err
	}
	v := k.get(m.Knob) + m.Delta
	if v < 0 || v >= d.Levels {
		return nil, fmt.Errorf("%w: %s out of range", ErrInvalidMove, action)
	}
	next := k.with(m.Knob, v)
	next.Steps++
	return next, nil
}

// PossibleActions lists the in-range moves.
func (d *TuningDomain) PossibleActions(state mcts.State) []mcts.Action {
	k, ok := state.(Knobs)
	if !ok {
		return nil
	}
	var actions []mcts.Action
	for _, knob := range knobs {
		v := k.get(knob)
		if v+1 < d.Levels {
			actions = append(actions, Move{Knob: knob, Delta: 1}.Action())
		}
		if v > 0 {
			actions = append(actions, Move{Knob: knob, Delta: -1}.Action())
		}
	}
	return actions
}

// IsTerminal reports whether the optimum is reached or steps ran out.
func (d *TuningDomain) IsTerminal(state mcts.State) bool {
	k, ok := state.(Knobs)
	if !ok {
		return true
	}
	return k.Steps >= d.MaxSteps || d.Distance(k) == 0
}

// BaseReward is 1 at the optimum and 0 at the farthest corner.
func (d *TuningDomain) BaseReward(state mcts.State) float64 {
	k, ok := state.(Knobs)
	if !ok {
		return 0
	}
	worst := d.maxDistance()
	if worst == 0 {
		return 1
	}
	return 1 - float64(d.Distance(k))/float64(worst)
}

// DescribeState gives the committee the knob settings.
func (d *TuningDomain) DescribeState(state mcts.State) string {
	if k, ok := state.(Knobs); ok {
		return k.String()
	}
	return fmt.Sprintf("%v", state)
}

// Distance is the Manhattan distance from k to the optimum.
func (d *TuningDomain) Distance(k Knobs) int {
	total := 0
	for _, knob := range knobs {
		total += abs(k.get(knob) - d.Optimum.get(knob))
	}
	return total
}

func (d *TuningDomain) maxDistance() int {
	total := 0
	for _, knob := range knobs {
		o := d.Optimum.get(knob)
		total += max(o, d.Levels-1-o)
	}
	return total
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
