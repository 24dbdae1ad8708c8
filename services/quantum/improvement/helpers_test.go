// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package improvement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// pathDomain builds states as "/"-joined action paths. The reward of a
// state is the reward of its last action, or fallback.
type pathDomain struct {
	actions  []mcts.Action
	maxDepth int
	rewards  map[mcts.Action]float64
	fallback float64
	delay    time.Duration

	// gate, when set, blocks ApplyAction until closed. entered is closed
	// by the first blocked call.
	gate        chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once
}

func newPathDomain(maxDepth int, actions ...mcts.Action) *pathDomain {
	return &pathDomain{actions: actions, maxDepth: maxDepth, fallback: 0.5}
}

func (d *pathDomain) ApplyAction(ctx context.Context, state mcts.State, action mcts.Action) (mcts.State, error) {
	if d.gate != nil {
		d.enteredOnce.Do(func() { close(d.entered) })
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if action == "bad" {
		return nil, errors.New("bad action")
	}
	return state.(string) + "/" + string(action), nil
}

func (d *pathDomain) PossibleActions(mcts.State) []mcts.Action {
	return append([]mcts.Action(nil), d.actions...)
}

func (d *pathDomain) IsTerminal(state mcts.State) bool {
	return strings.Count(state.(string), "/") >= d.maxDepth
}

func (d *pathDomain) BaseReward(state mcts.State) float64 {
	s := state.(string)
	last := s[strings.LastIndex(s, "/")+1:]
	if r, ok := d.rewards[mcts.Action(last)]; ok {
		return r
	}
	return d.fallback
}

// stubEvaluator returns a fixed decision or error.
type stubEvaluator struct {
	decision committee.ConsensusDecision
	err      error
	open     bool
	calls    atomic.Int64
}

func (s *stubEvaluator) Evaluate(context.Context, string, string) (committee.ConsensusDecision, error) {
	s.calls.Add(1)
	return s.decision, s.err
}

func (s *stubEvaluator) AllBreakersOpen() bool { return s.open }

// scriptedAgent always gives the same opinion.
type scriptedAgent struct {
	id    string
	role  committee.AgentRole
	score float64
}

func (a scriptedAgent) ID() string                { return a.id }
func (a scriptedAgent) Role() committee.AgentRole { return a.role }

func (a scriptedAgent) Evaluate(_ context.Context, req committee.EvaluationRequest) (committee.AgentEvaluation, error) {
	return committee.AgentEvaluation{
		AgentID:       a.id,
		Role:          a.role,
		Action:        req.Action,
		MakesProgress: true,
		Alignment:     a.score,
		Quality:       a.score,
		Risk:          a.score,
		Reasoning:     "scripted",
	}, nil
}

// testConfig is a small deterministic configuration: one iteration in
// flight, no tracing, convergence never reached.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Engine.RecursiveIterations = 3
	cfg.Engine.IterationsPerDepth = 8
	cfg.Engine.IterationConcurrency = 1
	cfg.Engine.ConvergedScore = 1
	cfg.Engine.NoImprovementLimit = 100
	cfg.Engine.Tracing = false
	cfg.Engine.Deadline = time.Minute
	cfg.Search.MaxTreeSize = 500
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, domain mcts.Domain, evaluator Evaluator, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, domain, evaluator, opts...)
	require.NoError(t, err)
	return e
}
