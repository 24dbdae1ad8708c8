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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	qbadger "github.com/AleutianAI/qmcts/services/quantum/storage/badger"
)

func TestNewEngine(t *testing.T) {
	t.Run("nil domain", func(t *testing.T) {
		_, err := NewEngine(testConfig(), nil, nil)
		assert.ErrorIs(t, err, ErrNilDomain)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Engine.IterationsPerDepth = 0
		_, err := NewEngine(cfg, newPathDomain(3, "a"), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, mcts.ErrInvalidConfig)

		var cerr *mcts.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "iterations_per_depth", cerr.Field)
	})

	t.Run("starts idle", func(t *testing.T) {
		e := newTestEngine(t, testConfig(), newPathDomain(3, "a"), nil)
		assert.Equal(t, StateIdle, e.State())
		assert.Zero(t, e.Depth())
		assert.Nil(t, e.LastResult())
	})
}

func TestRun_MaxDepthReached(t *testing.T) {
	e := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b", "c"), nil)

	result, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, StateMaxDepthReached, result.TerminationReason)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalDepths)
	require.Len(t, result.History, 3)
	for i, d := range result.History {
		assert.Equal(t, i+1, d.Depth)
		assert.Equal(t, 8, d.IterationsCompleted)
		assert.Equal(t, 8, d.NodesCreated)
		assert.Equal(t, "normal", d.Degradation)
	}

	assert.Equal(t, int64(24), result.Evaluations)
	assert.Equal(t, 25, result.Statistics.TotalNodes)
	assert.NotEmpty(t, result.RunID)
	assert.NotEmpty(t, result.BestAction)
	assert.NotEmpty(t, result.BestPath)
	assert.Positive(t, result.MemoryPeak)
	assert.Positive(t, result.AuditEntries)
	assert.True(t, result.AuditVerified)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
	assert.GreaterOrEqual(t, result.BestConvergence, result.FinalConvergence)

	assert.Equal(t, StateMaxDepthReached, e.State())
	assert.Equal(t, 3, e.Depth())
	assert.Same(t, result, e.LastResult())
}

func TestRun_Converged(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.ConvergedScore = 0.01
	d := newPathDomain(20, "a", "b", "c")
	d.fallback = 0.9

	result, err := newTestEngine(t, cfg, d, nil).Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StateConverged, result.TerminationReason)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalDepths)
	assert.Greater(t, result.FinalConvergence, 0.01)
}

func TestRun_NoImprovement(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RecursiveIterations = 10
	cfg.Engine.MinImprovementDelta = 1
	cfg.Engine.NoImprovementLimit = 2
	cfg.Engine.MinDepthForStagnation = 2

	result, err := newTestEngine(t, cfg, newPathDomain(20, "a", "b", "c"), nil).Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StateNoImprovement, result.TerminationReason)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.TotalDepths)
}

func TestRun_MemoryPressure(t *testing.T) {
	cfg := testConfig()
	cfg.Search.MaxTreeSize = 10
	cfg.Engine.RecursiveIterations = 10
	cfg.Engine.IterationsPerDepth = 32

	result, err := newTestEngine(t, cfg, newPathDomain(20, "a", "b", "c"), nil).Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StateMemoryPressure, result.TerminationReason)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.TotalDepths)
	assert.Len(t, result.History, result.TotalDepths)
	assert.LessOrEqual(t, result.Statistics.TotalNodes, 10)
	assert.Equal(t, 9, result.History[0].NodesCreated)
	assert.Equal(t, 32, result.History[0].NodesEvaluated)
}

func TestRun_Deadline(t *testing.T) {
	t.Run("configured deadline", func(t *testing.T) {
		cfg := testConfig()
		cfg.Engine.RecursiveIterations = 50
		cfg.Engine.Deadline = 5 * time.Millisecond
		d := newPathDomain(6, "a", "b", "c")
		d.delay = 2 * time.Millisecond

		result, err := newTestEngine(t, cfg, d, nil).Run(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, StateDeadlineExceeded, result.TerminationReason)
		assert.False(t, result.Success)
		assert.Less(t, result.TotalDepths, 50)
		assert.Len(t, result.History, result.TotalDepths)
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		result, err := newTestEngine(t, testConfig(), newPathDomain(3, "a"), nil).Run(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, StateDeadlineExceeded, result.TerminationReason)
		assert.Zero(t, result.TotalDepths)
	})
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, testConfig(), newPathDomain(3, "a"), nil)
	result, err := e.Run(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, StateCanceled, result.TerminationReason)
	assert.Equal(t, StateCanceled, e.State())
}

func TestRun_AlreadyRunning(t *testing.T) {
	d := newPathDomain(3, "a", "b")
	d.gate = make(chan struct{})
	d.entered = make(chan struct{})
	e := newTestEngine(t, testConfig(), d, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), "")
		done <- err
	}()

	<-d.entered
	assert.Equal(t, StateRunning, e.State())
	result, err := e.Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Nil(t, result)

	close(d.gate)
	require.NoError(t, <-done)
	assert.True(t, e.State().IsTerminal())
}

func TestRun_SkipsFailedActions(t *testing.T) {
	result, err := newTestEngine(t, testConfig(), newPathDomain(4, "a", "bad"), nil).Run(context.Background(), "")
	require.NoError(t, err)

	skipped := 0
	for _, d := range result.History {
		skipped += d.IterationsSkipped
	}
	assert.Positive(t, skipped)
	assert.Equal(t, StateMaxDepthReached, result.TerminationReason)
}

func TestRun_Committee(t *testing.T) {
	t.Run("decision blended into reward", func(t *testing.T) {
		stub := &stubEvaluator{decision: committee.ConsensusDecision{
			MakesProgress: true,
			OverallScore:  0.8,
			Alignment:     0.8,
			Quality:       0.8,
			Risk:          0.8,
			Respondents:   3,
		}}
		result, err := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b", "c"), stub).Run(context.Background(), "")
		require.NoError(t, err)

		assert.Equal(t, int64(24), stub.calls.Load())
		for _, d := range result.History {
			assert.Zero(t, d.CommitteeFallbacks)
			assert.Equal(t, "normal", d.Degradation)
		}
		// 0.3*0.5 + 0.7*0.8
		assert.InDelta(t, 0.71, result.BestReward, 1e-9)
	})

	t.Run("failures fall back and degrade", func(t *testing.T) {
		stub := &stubEvaluator{err: errors.New("committee down")}
		result, err := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b", "c"), stub).Run(context.Background(), "")
		require.NoError(t, err)

		first := result.History[0]
		assert.Equal(t, first.NodesEvaluated, first.CommitteeFallbacks)
		assert.NotEqual(t, "normal", first.Degradation)
		assert.Less(t, result.History[1].NodesEvaluated, 8)
		assert.InDelta(t, 0.5, result.BestReward, 1e-9)
	})

	t.Run("neutral decision falls back", func(t *testing.T) {
		stub := &stubEvaluator{}
		result, err := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b", "c"), stub).Run(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 8, result.History[0].CommitteeFallbacks)
	})

	t.Run("real committee", func(t *testing.T) {
		cfg := testConfig()
		cfg.Committee.AgentCount = 2
		cfg.Committee.MaxRounds = 1
		agents := []committee.Agent{
			scriptedAgent{id: "g", role: committee.RoleGeneralist, score: 0.9},
			scriptedAgent{id: "q", role: committee.RoleQuality, score: 0.7},
		}
		ev, err := committee.NewEvaluator(cfg.Committee, agents)
		require.NoError(t, err)
		defer ev.Close()

		e := newTestEngine(t, cfg, newPathDomain(20, "a", "b", "c"), ev)
		result, err := e.Run(context.Background(), "")
		require.NoError(t, err)
		assert.Zero(t, result.History[0].CommitteeFallbacks)

		stats := e.GetStatistics()
		require.NotNil(t, stats.Committee)
		assert.Positive(t, stats.Committee.Evaluations)
	})
}

func TestRun_PersistsResult(t *testing.T) {
	db, err := qbadger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store := NewBadgerStore(db)

	e := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b"), nil, WithStore(store))
	result, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	got, err := store.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.TerminationReason, got.TerminationReason)
	assert.Equal(t, result.TotalDepths, got.TotalDepths)
	assert.Equal(t, result.BestPath, got.BestPath)
}

func TestRun_Reusable(t *testing.T) {
	e := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b"), nil)

	first, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	second, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Statistics.TotalNodes, second.Statistics.TotalNodes)
	assert.Equal(t, first.Evaluations, second.Evaluations)
}

func TestReward(t *testing.T) {
	decided := func(progress bool, overall float64) committee.ConsensusDecision {
		return committee.ConsensusDecision{MakesProgress: progress, OverallScore: overall, Respondents: 2}
	}

	tests := []struct {
		name   string
		base   float64
		d      committee.ConsensusDecision
		weight float64
		want   float64
	}{
		{"neutral keeps base", 0.4, committee.NeutralDecision(), 0.7, 0.4},
		{"progress", 0.5, decided(true, 0.8), 0.7, 0.71},
		{"no progress halves committee term", 0.5, decided(false, 0.8), 0.7, 0.43},
		{"zero weight", 0.3, decided(true, 1), 0, 0.3},
		{"full weight", 0.3, decided(true, 0.6), 1, 0.6},
		{"base clamped", 1.5, decided(true, 0), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Reward(tt.base, tt.d, tt.weight), 1e-9)
		})
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
		success  bool
	}{
		{StateIdle, false, false},
		{StateRunning, false, false},
		{StateConverged, true, true},
		{StateMaxDepthReached, true, true},
		{StateNoImprovement, true, false},
		{StateMemoryPressure, true, false},
		{StateDeadlineExceeded, true, false},
		{StateCanceled, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.success, tt.state.Success())
		})
	}
}
