// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	qbadger "github.com/AleutianAI/qmcts/services/quantum/storage/badger"
)

func TestKnobs_RoundTrip(t *testing.T) {
	k := Knobs{Cache: 2, Workers: 7, Batch: 0, Steps: 4}
	assert.Equal(t, "cache=2 workers=7 batch=0", k.String())

	got, err := ParseKnobs(k.String())
	require.NoError(t, err)
	assert.Equal(t, Knobs{Cache: 2, Workers: 7}, got)

	_, err = ParseKnobs("depth=1")
	assert.Error(t, err)
}

func TestParseMove(t *testing.T) {
	tests := []struct {
		action  mcts.Action
		want    Move
		wantErr bool
	}{
		{"cache_up", Move{KnobCache, 1}, false},
		{"workers_down", Move{KnobWorkers, -1}, false},
		{"batch_up", Move{KnobBatch, 1}, false},
		{"batch_sideways", Move{}, true},
		{"memory_up", Move{}, true},
		{"cache", Move{}, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := ParseMove(tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMove)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.action, got.Action())
		})
	}
}

func TestTuningDomain(t *testing.T) {
	d := NewTuningDomain()
	ctx := context.Background()

	t.Run("actions respect range", func(t *testing.T) {
		actions := d.PossibleActions(Knobs{Cache: 0, Workers: 7, Batch: 3})
		assert.ElementsMatch(t, []mcts.Action{"cache_up", "workers_down", "batch_up", "batch_down"}, actions)
		assert.Nil(t, d.PossibleActions("not knobs"))
	})

	t.Run("apply", func(t *testing.T) {
		next, err := d.ApplyAction(ctx, d.Start, "workers_up")
		require.NoError(t, err)
		assert.Equal(t, Knobs{Cache: 1, Workers: 2, Batch: 1, Steps: 1}, next)
	})

	t.Run("apply out of range", func(t *testing.T) {
		_, err := d.ApplyAction(ctx, Knobs{Cache: 0}, "cache_down")
		assert.ErrorIs(t, err, ErrInvalidMove)
	})

	t.Run("apply canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := d.ApplyAction(cctx, d.Start, "cache_up")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reward", func(t *testing.T) {
		assert.Equal(t, 1.0, d.BaseReward(d.Optimum))
		// Farthest corner: cache 0 or 7 (max 4), workers 0 (6), batch 7 (4).
		assert.Equal(t, 0.0, d.BaseReward(Knobs{Cache: 0, Workers: 0, Batch: 7}))
		assert.InDelta(t, 1-10.0/14.0, d.BaseReward(d.Start), 1e-9)
		assert.Equal(t, 0.0, d.BaseReward(42))
	})

	t.Run("terminal", func(t *testing.T) {
		assert.True(t, d.IsTerminal(d.Optimum))
		assert.True(t, d.IsTerminal(Knobs{Steps: d.MaxSteps}))
		assert.False(t, d.IsTerminal(d.Start))
	})

	t.Run("describe", func(t *testing.T) {
		assert.Equal(t, "cache=1 workers=1 batch=1", d.DescribeState(d.Start))
	})
}

func TestSimulatedAgent(t *testing.T) {
	d := NewTuningDomain()
	ctx := context.Background()
	agent := NewSimulatedAgent("perf-1", committee.RolePerformance, d, 0)

	t.Run("rewards focus improvement", func(t *testing.T) {
		toward, err := agent.Evaluate(ctx, committee.EvaluationRequest{
			Action: "workers_up", Context: "cache=1 workers=2 batch=1",
		})
		require.NoError(t, err)
		away, err := agent.Evaluate(ctx, committee.EvaluationRequest{
			Action: "workers_down", Context: "cache=1 workers=0 batch=1",
		})
		require.NoError(t, err)

		assert.True(t, toward.MakesProgress)
		assert.False(t, away.MakesProgress)
		assert.Greater(t, toward.Alignment, away.Alignment)
		assert.Equal(t, "perf-1", toward.AgentID)
		assert.Equal(t, []string{"move workers toward 6"}, toward.Suggestions)
	})

	t.Run("bad context", func(t *testing.T) {
		_, err := agent.Evaluate(ctx, committee.EvaluationRequest{Action: "workers_up", Context: "?"})
		assert.Error(t, err)
	})

	t.Run("deterministic jitter", func(t *testing.T) {
		noisy := NewSimulatedAgent("q-1", committee.RoleQuality, d, 0.05)
		req := committee.EvaluationRequest{Action: "batch_up", Context: "cache=1 workers=1 batch=2"}
		a, err := noisy.Evaluate(ctx, req)
		require.NoError(t, err)
		b, err := noisy.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		n := noisy.noise(req)
		assert.LessOrEqual(t, n, 0.05)
		assert.GreaterOrEqual(t, n, -0.05)
	})
}

func TestNewCommittee(t *testing.T) {
	agents := NewCommittee(NewTuningDomain(), 7, 0)
	require.Len(t, agents, 7)
	assert.Equal(t, committee.RolePerformance, agents[0].Role())
	assert.Equal(t, committee.RoleGeneralist, agents[5].Role())
	assert.Equal(t, committee.RolePerformance, agents[6].Role())

	seen := map[string]bool{}
	for _, a := range agents {
		assert.False(t, seen[a.ID()], a.ID())
		seen[a.ID()] = true
	}
}

func smallConfig() improvement.Config {
	cfg := improvement.DefaultConfig()
	cfg.Engine.RecursiveIterations = 3
	cfg.Engine.IterationsPerDepth = 10
	cfg.Engine.IterationConcurrency = 2
	cfg.Engine.Tracing = false
	cfg.Engine.Deadline = time.Minute
	cfg.Committee.AgentCount = 3
	cfg.Committee.MaxRounds = 1
	return cfg
}

func TestRunner_Run(t *testing.T) {
	db, err := qbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := improvement.NewBadgerStore(db)

	r := NewRunner(nil, WithStore(store), WithJitter(0))
	report, err := r.Run(context.Background(), smallConfig())
	require.NoError(t, err)
	require.NotNil(t, report)

	res := report.Result
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.TerminationReason.IsTerminal())
	assert.NotEmpty(t, res.History)
	assert.NotEmpty(t, report.Analysis.Depths)
	assert.NotNil(t, report.Statistics.Committee)
	assert.Positive(t, report.Statistics.Committee.Evaluations)

	stored, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.TerminationReason, stored.TerminationReason)
}

func TestRunner_Errors(t *testing.T) {
	t.Run("bad committee config", func(t *testing.T) {
		cfg := smallConfig()
		cfg.Committee.Weights.Alignment = 0.9
		_, err := NewRunner(nil).Run(context.Background(), cfg)
		assert.ErrorIs(t, err, mcts.ErrInvalidConfig)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := NewRunner(nil).Run(ctx, smallConfig())
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, report)
		assert.Equal(t, improvement.StateCanceled, report.Result.TerminationReason)
	})
}
