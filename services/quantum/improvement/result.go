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
	"errors"
	"time"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

var (
	// ErrAlreadyRunning is returned by Run while another run is active.
	ErrAlreadyRunning = errors.New("improvement run already in progress")

	// ErrNilDomain is returned by NewEngine without a domain.
	ErrNilDomain = errors.New("improvement domain is nil")

	// ErrRunNotFound is returned by ResultStore.Get for an unknown run id.
	ErrRunNotFound = errors.New("improvement run not found")
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateConverged        State = "converged"
	StateNoImprovement    State = "no_improvement"
	StateMemoryPressure   State = "memory_pressure"
	StateMaxDepthReached  State = "max_depth_reached"
	StateDeadlineExceeded State = "deadline_exceeded"
	StateCanceled         State = "canceled"
)

// IsTerminal reports whether the state ends a run.
func (s State) IsTerminal() bool {
	switch s {
	case StateIdle, StateRunning:
		return false
	default:
		return true
	}
}

// Success reports whether a run ending in s counts as successful.
func (s State) Success() bool {
	return s == StateConverged || s == StateMaxDepthReached
}

// DepthResult describes one depth of a run.
type DepthResult struct {
	Depth                  int           `json:"depth"`
	IterationsCompleted    int           `json:"iterations_completed"`
	IterationsSkipped      int           `json:"iterations_skipped"`
	NodesCreated           int           `json:"nodes_created"`
	NodesEvaluated         int           `json:"nodes_evaluated"`
	CommitteeFallbacks     int           `json:"committee_fallbacks"`
	ConvergenceScore       float64       `json:"convergence_score"`
	ImprovementDelta       float64       `json:"improvement_delta"`
	AmplificationThreshold float64       `json:"amplification_threshold"`
	AmplificationFactor    float64       `json:"amplification_factor"`
	NodesAmplified         int           `json:"nodes_amplified"`
	EdgesPruned            int           `json:"edges_pruned"`
	TreeSize               int           `json:"tree_size"`
	MemoryUsage            int64         `json:"memory_usage"`
	Trend                  string        `json:"trend"`
	Degradation            string        `json:"degradation"`
	Elapsed                time.Duration `json:"elapsed"`
}

// ImprovementResult is the outcome of one run. It is returned even when
// the run ends early.
type ImprovementResult struct {
	RunID             string              `json:"run_id"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
	TotalDepths       int                 `json:"total_depths"`
	History           []DepthResult       `json:"improvement_history"`
	FinalConvergence  float64             `json:"final_convergence"`
	BestConvergence   float64             `json:"best_convergence"`
	TerminationReason State               `json:"termination_reason"`
	Success           bool                `json:"success"`
	TotalTime         time.Duration       `json:"total_time"`
	MemoryPeak        int64               `json:"memory_peak"`
	Evaluations       int64               `json:"evaluations"`
	BestAction        mcts.Action         `json:"best_action,omitempty"`
	BestReward        float64             `json:"best_reward"`
	BestPath          []mcts.Action       `json:"best_path,omitempty"`
	Statistics        mcts.TreeStatistics `json:"statistics"`
	AuditEntries      int                 `json:"audit_entries"`
	AuditVerified     bool                `json:"audit_verified"`
}
