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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BudgetConfig contains the resource limits of one improvement run.
type BudgetConfig struct {
	MaxNodes       int           // Maximum nodes in the tree
	MaxMemoryBytes int64         // Estimated memory cap, 0 disables
	TimeLimit      time.Duration // Wall clock limit, 0 disables
}

// DefaultBudgetConfig returns the default limits.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxNodes:       DefaultSearchConfig().MaxTreeSize,
		MaxMemoryBytes: 0,
		TimeLimit:      5 * time.Minute,
	}
}

// ResourceBudget tracks resource consumption of a run.
//
// Limits are evaluated at depth boundaries. Mid-batch, only the pressure
// flag is raised.
//
// Thread Safety: Safe for concurrent use.
type ResourceBudget struct {
	config    BudgetConfig
	startTime time.Time

	evaluations atomic.Int64
	pressure    atomic.Bool
	peakBytes   atomic.Int64

	mu          sync.RWMutex
	exhausted   bool
	exhaustedBy string
}

// NewResourceBudget creates a budget tracker. The clock starts now.
func NewResourceBudget(config BudgetConfig) *ResourceBudget {
	return &ResourceBudget{
		config:    config,
		startTime: time.Now(),
	}
}

// Config returns the budget configuration.
func (b *ResourceBudget) Config() BudgetConfig {
	return b.config
}

// RecordEvaluation counts one leaf evaluation.
func (b *ResourceBudget) RecordEvaluation() int64 {
	return b.evaluations.Add(1)
}

// Evaluations returns the number of evaluations recorded.
func (b *ResourceBudget) Evaluations() int64 {
	return b.evaluations.Load()
}

// SignalPressure raises the memory pressure flag. Safe to call mid-batch.
func (b *ResourceBudget) SignalPressure() {
	b.pressure.Store(true)
}

// UnderPressure reports whether the pressure flag is raised.
func (b *ResourceBudget) UnderPressure() bool {
	return b.pressure.Load()
}

// PeakBytes returns the largest memory estimate observed.
func (b *ResourceBudget) PeakBytes() int64 {
	return b.peakBytes.Load()
}

// Elapsed returns time since the budget was created.
func (b *ResourceBudget) Elapsed() time.Duration {
	return time.Since(b.startTime)
}

// Deadline returns the absolute deadline, or the zero time if none.
func (b *ResourceBudget) Deadline() time.Time {
	if b.config.TimeLimit <= 0 {
		return time.Time{}
	}
	return b.startTime.Add(b.config.TimeLimit)
}

// Check evaluates all limits against the current usage.
//
// Inputs:
//   - nodes: Current tree size.
//   - memoryBytes: Current memory estimate.
//
// Outputs:
//   - error: ErrTimeLimitExceeded, ErrNodeLimitExceeded or
//     ErrMemoryLimitExceeded (all wrap ErrResourceExhausted), nil otherwise.
func (b *ResourceBudget) Check(nodes int, memoryBytes int64) error {
	for {
		peak := b.peakBytes.Load()
		if memoryBytes <= peak || b.peakBytes.CompareAndSwap(peak, memoryBytes) {
			break
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhausted {
		return b.exhaustedErrLocked()
	}

	switch {
	case b.config.TimeLimit > 0 && time.Since(b.startTime) >= b.config.TimeLimit:
		b.exhaustedBy = "time"
	case b.pressure.Load():
		b.exhaustedBy = "pressure"
	case b.config.MaxNodes > 0 && nodes >= b.config.MaxNodes:
		b.exhaustedBy = "nodes"
	case b.config.MaxMemoryBytes > 0 && memoryBytes >= b.config.MaxMemoryBytes:
		b.exhaustedBy = "memory"
	default:
		return nil
	}
	b.exhausted = true
	return b.exhaustedErrLocked()
}

func (b *ResourceBudget) exhaustedErrLocked() error {
	switch b.exhaustedBy {
	case "time":
		return fmt.Errorf("%w: %w", ErrResourceExhausted, ErrTimeLimitExceeded)
	case "nodes", "pressure":
		return fmt.Errorf("%w: %w", ErrResourceExhausted, ErrNodeLimitExceeded)
	default:
		return fmt.Errorf("%w: %w", ErrResourceExhausted, ErrMemoryLimitExceeded)
	}
}

// ExhaustedBy returns which limit caused exhaustion (empty if not exhausted).
func (b *ResourceBudget) ExhaustedBy() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exhaustedBy
}

// String returns a human-readable budget status.
func (b *ResourceBudget) String() string {
	status := ""
	if by := b.ExhaustedBy(); by != "" {
		status = fmt.Sprintf(" [EXHAUSTED by %s]", by)
	}
	return fmt.Sprintf("Budget{evaluations=%d, time=%v/%v, peak=%dB/%dB, pressure=%t}%s",
		b.Evaluations(),
		b.Elapsed().Round(time.Millisecond), b.config.TimeLimit,
		b.PeakBytes(), b.config.MaxMemoryBytes,
		b.UnderPressure(), status)
}

// UsageReport is a snapshot of budget usage.
type UsageReport struct {
	Elapsed     time.Duration `json:"elapsed"`
	Evaluations int64         `json:"evaluations"`
	PeakBytes   int64         `json:"peak_bytes"`
	Pressure    bool          `json:"pressure"`
	ExhaustedBy string        `json:"exhausted_by,omitempty"`
}

// Report generates a usage report.
func (b *ResourceBudget) Report() UsageReport {
	return UsageReport{
		Elapsed:     b.Elapsed(),
		Evaluations: b.Evaluations(),
		PeakBytes:   b.PeakBytes(),
		Pressure:    b.UnderPressure(),
		ExhaustedBy: b.ExhaustedBy(),
	}
}
