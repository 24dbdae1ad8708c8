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
	"fmt"
	"runtime"
	"time"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/convergence"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	"github.com/AleutianAI/qmcts/services/quantum/mcts/entanglement"
)

// EngineConfig holds the settings of the depth loop itself.
type EngineConfig struct {
	// RecursiveIterations is the depth cap.
	RecursiveIterations int `json:"recursive_iterations" yaml:"recursive_iterations" validate:"gte=1,lte=1000"`

	// IterationsPerDepth is the size of one batch before degradation scaling.
	IterationsPerDepth int `json:"iterations_per_depth" yaml:"iterations_per_depth" validate:"gte=1"`

	// IterationConcurrency bounds in-flight iterations (default min(cpu, 8)).
	IterationConcurrency int `json:"iteration_concurrency" yaml:"iteration_concurrency" validate:"gte=1,lte=256"`

	// PromiseThreshold is the base avg reward a node needs to be amplified.
	PromiseThreshold float64 `json:"promise_threshold" yaml:"promise_threshold" validate:"gte=0,lte=1"`

	// AmplificationFactor is the boost applied when convergence is 0.
	AmplificationFactor float64 `json:"amplification_factor" yaml:"amplification_factor" validate:"gte=1"`

	// MaxAmplification caps the boost.
	MaxAmplification float64 `json:"max_amplification" yaml:"max_amplification" validate:"gtefield=AmplificationFactor"`

	// MaxAmplifiedNodes is how many promising nodes are boosted per depth.
	MaxAmplifiedNodes int `json:"max_amplified_nodes" yaml:"max_amplified_nodes" validate:"gte=0"`

	// CoherenceGain multiplies the decoherence of amplified nodes.
	CoherenceGain float64 `json:"coherence_gain" yaml:"coherence_gain" validate:"gte=0,lte=1"`

	// EntanglementDecay multiplies every edge strength after amplification.
	EntanglementDecay float64 `json:"entanglement_decay" yaml:"entanglement_decay" validate:"gt=0,lte=1"`

	// ConvergedScore is the convergence score that ends the run successfully.
	ConvergedScore float64 `json:"converged_score" yaml:"converged_score" validate:"gt=0,lte=1"`

	// MinImprovementDelta is the gain over the best score that resets the
	// no-improvement counter.
	MinImprovementDelta float64 `json:"min_improvement_delta" yaml:"min_improvement_delta" validate:"gte=0"`

	// NoImprovementLimit is the counter value that ends the run.
	NoImprovementLimit int `json:"no_improvement_limit" yaml:"no_improvement_limit" validate:"gte=1"`

	// MinDepthForStagnation is the depth before which stagnation is ignored.
	MinDepthForStagnation int `json:"min_depth_for_stagnation" yaml:"min_depth_for_stagnation" validate:"gte=0"`

	// CommitteeRewardWeight blends the committee score into the reward.
	CommitteeRewardWeight float64 `json:"committee_reward_weight" yaml:"committee_reward_weight" validate:"gte=0,lte=1"`

	// Deadline bounds the wall clock of one run. Checked at depth boundaries.
	Deadline time.Duration `json:"deadline" yaml:"deadline" validate:"gte=0"`

	// AuditEntries bounds the audit log. 0 disables auditing.
	AuditEntries int `json:"audit_entries" yaml:"audit_entries" validate:"gte=0"`

	// Tracing enables OpenTelemetry spans.
	Tracing bool `json:"tracing" yaml:"tracing"`
}

// DefaultEngineConfig returns the default loop settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RecursiveIterations:   10,
		IterationsPerDepth:    32,
		IterationConcurrency:  min(runtime.NumCPU(), 8),
		PromiseThreshold:      0.6,
		AmplificationFactor:   1.2,
		MaxAmplification:      2.0,
		MaxAmplifiedNodes:     10,
		CoherenceGain:         0.9,
		EntanglementDecay:     0.95,
		ConvergedScore:        0.95,
		MinImprovementDelta:   0.01,
		NoImprovementLimit:    3,
		MinDepthForStagnation: 2,
		CommitteeRewardWeight: 0.7,
		Deadline:              5 * time.Minute,
		AuditEntries:          10000,
		Tracing:               true,
	}
}

// Config aggregates every component configuration of one engine.
type Config struct {
	Search       mcts.SearchConfig      `json:"search" yaml:"search"`
	Entanglement entanglement.Config    `json:"entanglement" yaml:"entanglement"`
	Committee    committee.Config       `json:"committee" yaml:"committee"`
	Convergence  convergence.Config     `json:"convergence" yaml:"convergence"`
	Degradation  mcts.DegradationConfig `json:"degradation" yaml:"degradation"`
	Engine       EngineConfig           `json:"engine" yaml:"engine"`
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Search:       mcts.DefaultSearchConfig(),
		Entanglement: entanglement.DefaultConfig(),
		Committee:    committee.DefaultConfig(),
		Convergence:  convergence.DefaultConfig(),
		Degradation:  mcts.DefaultDegradationConfig(),
		Engine:       DefaultEngineConfig(),
	}
}

// Validate checks every section.
//
// Outputs:
//   - error: Wraps the first *mcts.ConfigurationError found, with the
//     section name in the message.
func (c Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"search", c.Search.Validate},
		{"entanglement", c.Entanglement.Validate},
		{"committee", c.Committee.Validate},
		{"convergence", c.Convergence.Validate},
		{"degradation", func() error { return mcts.ValidateStruct(c.Degradation) }},
		{"engine", func() error { return mcts.ValidateStruct(c.Engine) }},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// budgetConfig derives the per-run resource limits.
func (c Config) budgetConfig() mcts.BudgetConfig {
	return mcts.BudgetConfig{
		MaxNodes:       c.Search.MaxTreeSize,
		MaxMemoryBytes: c.Search.MaxMemoryBytes,
		TimeLimit:      c.Engine.Deadline,
	}
}
