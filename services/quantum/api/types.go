// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"time"

	"github.com/AleutianAI/qmcts/services/quantum/improvement"
)

// HealthResponse is returned by GET /v1/qmcts/health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`

	// Running is true while a run started through the API is in flight.
	Running bool `json:"running"`

	// StoreOK is false when no result store is configured.
	StoreOK bool `json:"store_ok"`
}

// RunRequest overrides parts of the current config for one run. Every
// field is optional.
type RunRequest struct {
	// Depths overrides engine.recursive_iterations.
	Depths *int `json:"depths,omitempty" binding:"omitempty,gte=1,lte=1000"`

	// IterationsPerDepth overrides engine.iterations_per_depth.
	IterationsPerDepth *int `json:"iterations_per_depth,omitempty" binding:"omitempty,gte=1,lte=100000"`

	// Strategy overrides search.strategy.
	Strategy string `json:"strategy,omitempty"`

	// Agents overrides committee.agent_count.
	Agents *int `json:"agents,omitempty" binding:"omitempty,gte=1,lte=64"`

	// Deadline overrides engine.deadline, e.g. "30s".
	Deadline string `json:"deadline,omitempty"`
}

// RunSummary is one row of GET /v1/qmcts/runs.
type RunSummary struct {
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	TerminationReason improvement.State `json:"termination_reason"`
	Success           bool              `json:"success"`
	TotalDepths       int               `json:"total_depths"`
	FinalConvergence  float64           `json:"final_convergence"`
	BestAction        string            `json:"best_action,omitempty"`
	TotalTime         string            `json:"total_time"`
}

// RunListResponse is returned by GET /v1/qmcts/runs.
type RunListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	Details string `json:"details,omitempty"`
}

// Summarize converts a stored result into a list row.
func Summarize(r *improvement.ImprovementResult) RunSummary {
	return RunSummary{
		RunID:             r.RunID,
		StartedAt:         r.StartedAt,
		TerminationReason: r.TerminationReason,
		Success:           r.Success,
		TotalDepths:       r.TotalDepths,
		FinalConvergence:  r.FinalConvergence,
		BestAction:        string(r.BestAction),
		TotalTime:         r.TotalTime.Round(time.Millisecond).String(),
	}
}
