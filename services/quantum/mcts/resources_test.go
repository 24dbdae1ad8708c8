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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceBudget_Check(t *testing.T) {
	tests := []struct {
		name     string
		config   BudgetConfig
		nodes    int
		mem      int64
		pressure bool
		wantErr  error
		wantBy   string
	}{
		{"within limits", BudgetConfig{MaxNodes: 10, MaxMemoryBytes: 1000}, 5, 500, false, nil, ""},
		{"node cap", BudgetConfig{MaxNodes: 10}, 10, 0, false, ErrNodeLimitExceeded, "nodes"},
		{"memory cap", BudgetConfig{MaxNodes: 10, MaxMemoryBytes: 1000}, 1, 1000, false, ErrMemoryLimitExceeded, "memory"},
		{"pressure flag", BudgetConfig{MaxNodes: 10}, 1, 0, true, ErrNodeLimitExceeded, "pressure"},
		{"time", BudgetConfig{TimeLimit: time.Nanosecond}, 0, 0, false, ErrTimeLimitExceeded, "time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewResourceBudget(tt.config)
			if tt.pressure {
				b.SignalPressure()
			}
			if tt.config.TimeLimit > 0 {
				time.Sleep(time.Millisecond)
			}
			err := b.Check(tt.nodes, tt.mem)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr))
			assert.True(t, errors.Is(err, ErrResourceExhausted))
			assert.Equal(t, tt.wantBy, b.ExhaustedBy())
			assert.Error(t, b.Check(0, 0), "exhaustion is sticky")
		})
	}
}

func TestResourceBudget_Peak(t *testing.T) {
	b := NewResourceBudget(BudgetConfig{})
	require.NoError(t, b.Check(1, 300))
	require.NoError(t, b.Check(1, 100))
	assert.Equal(t, int64(300), b.PeakBytes())
	assert.True(t, b.Deadline().IsZero())
	b.RecordEvaluation()
	assert.Equal(t, int64(1), b.Report().Evaluations)
	assert.Contains(t, b.String(), "evaluations=1")
}

func TestDegradationManager(t *testing.T) {
	t.Run("degrades and recovers one level at a time", func(t *testing.T) {
		m := NewDegradationManager(DegradationConfig{FailuresForReduced: 2, FailuresForMinimal: 4, SuccessesForRecovery: 2}, nil)
		var changes []DegradationLevel
		m.OnChange(func(_, to DegradationLevel, _ string) { changes = append(changes, to) })

		m.RecordFailure()
		assert.Equal(t, DegradationNormal, m.Level())
		m.RecordFailure()
		assert.Equal(t, DegradationReduced, m.Level())
		assert.Equal(t, StrategyFast, m.StrategyFor(StrategyQuantumUCT))
		assert.Equal(t, 8, m.BatchSize(16))

		m.RecordFailure()
		m.RecordFailure()
		assert.Equal(t, DegradationMinimal, m.Level())
		assert.Equal(t, 4, m.BatchSize(16))
		assert.Equal(t, 1, m.BatchSize(2))

		m.RecordSuccess()
		m.RecordSuccess()
		assert.Equal(t, DegradationReduced, m.Level())
		m.RecordSuccess()
		m.RecordSuccess()
		assert.Equal(t, DegradationNormal, m.Level())
		assert.Equal(t, StrategyEntanglementAware, m.StrategyFor(StrategyEntanglementAware))

		assert.Equal(t, []DegradationLevel{DegradationReduced, DegradationMinimal, DegradationReduced, DegradationNormal}, changes)
	})

	t.Run("open evaluator forces minimal and blocks recovery", func(t *testing.T) {
		open := true
		m := NewDegradationManager(DefaultDegradationConfig(), func() bool { return open })
		m.RecordFailure()
		assert.Equal(t, DegradationMinimal, m.Level())
		assert.True(t, m.Status().EvaluatorOpen)

		for i := 0; i < 10; i++ {
			m.RecordSuccess()
		}
		assert.Equal(t, DegradationMinimal, m.Level())

		open = false
		for i := 0; i < 5; i++ {
			m.RecordSuccess()
		}
		assert.Equal(t, DegradationReduced, m.Level())

		m.Reset()
		assert.Equal(t, DegradationNormal, m.Level())
	})
}

func TestAuditLog(t *testing.T) {
	t.Run("chain verifies and detects tampering", func(t *testing.T) {
		l := NewAuditLog(0)
		l.Record(NewAuditEntry(AuditActionSelect, 0, 1))
		l.Record(NewAuditEntry(AuditActionExpand, 1, 1).WithDetails("a"))
		l.Record(NewAuditEntry(AuditActionBackprop, 1, 1).WithScore(0.7))

		require.Equal(t, 3, l.Len())
		assert.True(t, l.Verify())
		assert.Len(t, l.EntriesByNode(1), 2)

		s := l.Summary()
		assert.Equal(t, 1, s.ActionCounts[AuditActionExpand])
		assert.NotEqual(t, genesisHash, s.Hash)

		l.entries[1].Score = 0.99
		assert.False(t, l.Verify())
	})

	t.Run("retention cap drops new entries", func(t *testing.T) {
		l := NewAuditLog(1)
		l.Record(NewAuditEntry(AuditActionSelect, 0, 1))
		l.Record(NewAuditEntry(AuditActionSelect, 0, 1))
		assert.Equal(t, 1, l.Len())
		assert.Equal(t, 1, l.Summary().Dropped)
		assert.True(t, l.Verify())
	})
}

func TestSearchConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultSearchConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*SearchConfig)
		field  string
	}{
		{"zero exploration", func(c *SearchConfig) { c.ExplorationConstant = 0 }, "exploration_constant"},
		{"zero tree size", func(c *SearchConfig) { c.MaxTreeSize = 0 }, "max_tree_size"},
		{"decay above one", func(c *SearchConfig) { c.AmplitudeDecay = 1.5 }, "amplitude_decay"},
		{"unknown strategy", func(c *SearchConfig) { c.Strategy = "greedy" }, "strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSearchConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}
