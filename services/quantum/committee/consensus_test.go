// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package committee

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

func eval(id string, progress bool, a, q, r float64) AgentEvaluation {
	return AgentEvaluation{AgentID: id, MakesProgress: progress, Alignment: a, Quality: q, Risk: r, Reasoning: id + " reasoning"}
}

func TestAggregate(t *testing.T) {
	w := DefaultWeights()

	t.Run("no respondents is neutral", func(t *testing.T) {
		d := Aggregate(nil, w, false)
		assert.True(t, d.IsNeutral())
		assert.False(t, d.MakesProgress)
		assert.Zero(t, d.Confidence)
		assert.Zero(t, d.OverallScore)
	})

	t.Run("blended score and confidence", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{
			eval("a", true, 0.9, 0.7, 0.65),
			eval("b", true, 0.7, 0.7, 0.65),
			eval("c", true, 0.8, 0.7, 0.65),
		}, w, false)

		assert.True(t, d.MakesProgress)
		assert.InDelta(t, 0.725, d.OverallScore, 1e-9)
		assert.InDelta(t, 0.8, d.Alignment, 1e-9)
		// Per-agent overall 0.765/0.685/0.725, pop stddev ~0.0327.
		assert.InDelta(t, 0.9673, d.Confidence, 1e-3)
		assert.Greater(t, d.Confidence, 0.8)
		assert.Equal(t, 3, d.Respondents)
	})

	t.Run("reference committee", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{
			eval("a", true, 0.8, 0.6, 0.9),
			eval("b", true, 0.9, 0.7, 0.85),
			eval("c", true, 0.7, 0.65, 0.95),
		}, w, false)

		assert.True(t, d.MakesProgress)
		// 0.4*0.8 + 0.3*0.65 + 0.3*0.9
		assert.InDelta(t, 0.785, d.OverallScore, 1e-9)
		// Per-agent overall 0.77/0.825/0.76.
		assert.InDelta(t, 1-math.Sqrt(0.00245/3), d.Confidence, 1e-9)
		assert.Greater(t, d.Confidence, 0.8)
		assert.Empty(t, d.Dissent)
	})

	t.Run("single respondent has half confidence", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{eval("a", true, 1, 1, 1)}, w, false)
		assert.Equal(t, 0.5, d.Confidence)
		assert.True(t, d.MakesProgress)
	})

	t.Run("unanimity has no dissent", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{
			eval("a", true, 0.5, 0.5, 0.5),
			eval("b", true, 0.5, 0.5, 0.5),
		}, w, false)
		assert.Empty(t, d.Dissent)
		assert.Equal(t, 1.0, d.Confidence)
	})

	t.Run("tie is not progress and progress voters dissent", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{
			eval("a", true, 0.5, 0.5, 0.5),
			eval("b", false, 0.5, 0.5, 0.5),
		}, w, false)
		assert.False(t, d.MakesProgress)
		require.Len(t, d.Dissent, 1)
		assert.Contains(t, d.Dissent[0], "a reasoning")
	})

	t.Run("scores are clamped", func(t *testing.T) {
		d := Aggregate([]AgentEvaluation{
			eval("a", true, 1.5, -0.2, 2),
			eval("b", true, 1.5, -0.2, 2),
		}, w, false)
		assert.Equal(t, 1.0, d.Alignment)
		assert.Equal(t, 0.0, d.Quality)
		assert.Equal(t, 1.0, d.Risk)
		assert.InDelta(t, 0.7, d.OverallScore, 1e-9)
		for _, v := range []float64{d.Confidence, d.OverallScore} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	})

	t.Run("role weights change the vote", func(t *testing.T) {
		evals := []AgentEvaluation{
			eval("sec", true, 1, 0.5, 0.5),
			eval("perf", true, 1, 0.5, 0.5),
			eval("test", false, 0, 0.5, 0.5),
			eval("doc", false, 0, 0.5, 0.5),
		}
		roles := []AgentRole{RoleSecurity, RolePerformance, RoleTesting, RoleDocumentation}
		for i := range evals {
			evals[i].Role = roles[i]
		}

		plain := Aggregate(evals, w, false)
		assert.False(t, plain.MakesProgress, "2 of 4 votes is not a majority")
		assert.InDelta(t, 0.5, plain.Alignment, 1e-9)

		weighted := Aggregate(evals, w, true)
		assert.True(t, weighted.MakesProgress, "2.3 of 3.8 weight")
		assert.InDelta(t, 2.3/3.8, weighted.Alignment, 1e-9)
	})
}

func TestTopSuggestions(t *testing.T) {
	evals := []AgentEvaluation{
		{Suggestions: []string{"add tests", "rename", "split"}},
		{Suggestions: []string{"rename", "docs", " "}},
		{Suggestions: []string{"cache", "inline", "rename", "docs"}},
	}
	got := topSuggestions(evals, 5)
	assert.Equal(t, []string{"rename", "docs", "add tests", "split", "cache"}, got)
	assert.Nil(t, topSuggestions([]AgentEvaluation{{}}, 5))
}

func TestSteering(t *testing.T) {
	t.Run("stalled committee gets top three suggestions", func(t *testing.T) {
		got := Steering(ConsensusDecision{
			Respondents: 3,
			Confidence:  0.9,
			Suggestions: []string{"a", "b", "c", "d"},
		})
		assert.Equal(t, []string{"suggestion: a", "suggestion: b", "suggestion: c"}, got)
	})

	t.Run("divided committee gets dissent", func(t *testing.T) {
		got := Steering(ConsensusDecision{
			MakesProgress: true,
			Respondents:   3,
			Confidence:    0.4,
			Dissent:       []string{"x: too risky"},
		})
		assert.Equal(t, []string{"dissent: x: too risky"}, got)
	})

	t.Run("confident progress needs no steering", func(t *testing.T) {
		assert.Empty(t, Steering(ConsensusDecision{MakesProgress: true, Respondents: 2, Confidence: 0.9}))
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero agents", func(c *Config) { c.AgentCount = 0 }, "agent_count"},
		{"zero rounds", func(c *Config) { c.MaxRounds = 0 }, "max_rounds"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "committee_concurrency"},
		{"weights do not sum to one", func(c *Config) { c.Weights.Risk = 0.5 }, "weights"},
		{"breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "breaker.failure_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *mcts.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, errors.Is(err, mcts.ErrInvalidConfig))
		})
	}

	t.Run("defaults valid and weights within tolerance", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, cfg.Validate())
		cfg.Weights = Weights{Alignment: 0.4, Quality: 0.3, Risk: 0.305}
		assert.NoError(t, cfg.Validate())
	})
}

func TestAgentRole(t *testing.T) {
	r, err := ParseAgentRole("Security")
	require.NoError(t, err)
	assert.Equal(t, RoleSecurity, r)
	assert.Equal(t, 1.2, r.Weight())
	assert.Equal(t, 0.7, RoleDocumentation.Weight())
	assert.Equal(t, "unknown", AgentRole(42).String())

	_, err = ParseAgentRole("wizard")
	assert.True(t, errors.Is(err, mcts.ErrInvalidConfig))
}

func TestPhaseFor(t *testing.T) {
	assert.Equal(t, PhaseInitial, phaseFor(0, 1))
	assert.Equal(t, PhaseInitial, phaseFor(0, 4))
	assert.Equal(t, PhaseReview, phaseFor(1, 4))
	assert.Equal(t, PhaseRefine, phaseFor(2, 4))
	assert.Equal(t, PhaseFinalize, phaseFor(3, 4))
	assert.Equal(t, PhaseFinalize, phaseFor(1, 2))
}
