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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
)

// DefaultJitter is the reviewer noise used by NewRunner.
const DefaultJitter = 0.05

// Report is everything a caller gets back from one demo run.
type Report struct {
	Result     *improvement.ImprovementResult `json:"result"`
	Analysis   improvement.TreeAnalysis       `json:"analysis"`
	Statistics improvement.Statistics         `json:"statistics"`
}

// Runner runs the tuning problem with a fresh engine per call.
//
// Thread Safety: Safe for concurrent use; each Run builds its own engine
// and committee.
type Runner struct {
	domain *TuningDomain
	store  improvement.ResultStore
	logger *slog.Logger
	jitter float64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists every result.
func WithStore(store improvement.ResultStore) RunnerOption {
	return func(r *Runner) {
		r.store = store
	}
}

// WithLogger sets the logger passed to the engine and committee.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithJitter sets reviewer noise. 0 makes every reviewer agree exactly.
func WithJitter(jitter float64) RunnerOption {
	return func(r *Runner) {
		r.jitter = jitter
	}
}

// NewRunner creates a runner for domain. A nil domain uses
// NewTuningDomain.
func NewRunner(domain *TuningDomain, opts ...RunnerOption) *Runner {
	if domain == nil {
		domain = NewTuningDomain()
	}
	r := &Runner{domain: domain, logger: slog.Default(), jitter: DefaultJitter}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Domain returns the tuning problem.
func (r *Runner) Domain() *TuningDomain {
	return r.domain
}

// Run searches from the domain's start state.
//
// Outputs:
//   - *Report: Non-nil whenever the engine produced a result, including
//     when the run was canceled.
//   - error: Config or committee construction failures, or the engine's
//     error.
func (r *Runner) Run(ctx context.Context, config improvement.Config) (*Report, error) {
	agents := NewCommittee(r.domain, config.Committee.AgentCount, r.jitter)
	evaluator, err := committee.NewEvaluator(config.Committee, agents,
		committee.WithLogger(r.logger),
		committee.WithTracing(config.Engine.Tracing),
	)
	if err != nil {
		return nil, fmt.Errorf("create committee: %w", err)
	}
	defer evaluator.Close()

	opts := []improvement.Option{improvement.WithLogger(r.logger)}
	if r.store != nil {
		opts = append(opts, improvement.WithStore(r.store))
	}
	engine, err := improvement.NewEngine(config, r.domain, evaluator, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	result, runErr := engine.Run(ctx, r.domain.Start)
	if result == nil {
		return nil, runErr
	}
	return &Report{
		Result:     result,
		Analysis:   engine.GetTreeAnalysis(),
		Statistics: engine.GetStatistics(),
	}, runErr
}
