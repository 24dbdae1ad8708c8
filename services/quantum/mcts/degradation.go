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
	"sync"
	"time"
)

// DegradationLevel represents how much of the search machinery is active.
type DegradationLevel int

const (
	// DegradationNormal runs the configured strategy with full batches.
	DegradationNormal DegradationLevel = iota

	// DegradationReduced switches to FastSelection and halves batches.
	DegradationReduced

	// DegradationMinimal keeps FastSelection and runs quarter batches.
	DegradationMinimal
)

// String returns a human-readable degradation level name.
func (d DegradationLevel) String() string {
	switch d {
	case DegradationNormal:
		return "normal"
	case DegradationReduced:
		return "reduced"
	case DegradationMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// DegradationConfig configures degradation behavior.
type DegradationConfig struct {
	// FailuresForReduced is consecutive evaluation failures before reduced mode (default: 3).
	FailuresForReduced int `json:"failures_for_reduced" yaml:"failures_for_reduced" validate:"gte=1"`

	// FailuresForMinimal is consecutive failures before minimal mode (default: 6).
	FailuresForMinimal int `json:"failures_for_minimal" yaml:"failures_for_minimal" validate:"gtefield=FailuresForReduced"`

	// SuccessesForRecovery is consecutive successes to recover one level (default: 5).
	SuccessesForRecovery int `json:"successes_for_recovery" yaml:"successes_for_recovery" validate:"gte=1"`
}

// DefaultDegradationConfig returns the default thresholds.
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		FailuresForReduced:   3,
		FailuresForMinimal:   6,
		SuccessesForRecovery: 5,
	}
}

// DegradationStatus contains current status.
type DegradationStatus struct {
	Level                string    `json:"level"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastDegradation      time.Time `json:"last_degradation,omitempty"`
	EvaluatorOpen        bool      `json:"evaluator_open"`
}

// DegradationManager lowers search fidelity while evaluations keep failing
// and restores it after sustained successes.
//
// Thread Safety: Safe for concurrent use.
type DegradationManager struct {
	config DegradationConfig
	probe  func() bool

	mu                   sync.RWMutex
	level                DegradationLevel
	consecutiveFailures  int
	consecutiveSuccesses int
	lastDegradation      time.Time

	onChange func(from, to DegradationLevel, reason string)
}

// NewDegradationManager creates a degradation manager.
//
// Inputs:
//   - config: Degradation configuration.
//   - evaluatorOpen: Optional probe reporting that the evaluator is
//     unavailable (all agent breakers open). May be nil.
func NewDegradationManager(config DegradationConfig, evaluatorOpen func() bool) *DegradationManager {
	return &DegradationManager{
		config: config,
		probe:  evaluatorOpen,
		level:  DegradationNormal,
	}
}

// OnChange sets a callback for level changes. It runs without the lock held.
func (m *DegradationManager) OnChange(fn func(from, to DegradationLevel, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// RecordSuccess records a successful evaluation.
func (m *DegradationManager) RecordSuccess() {
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.consecutiveSuccesses++

	from := m.level
	if m.consecutiveSuccesses >= m.config.SuccessesForRecovery && m.level > DegradationNormal && !m.evaluatorOpen() {
		m.level--
		m.consecutiveSuccesses = 0
	}
	to, fn := m.level, m.onChange
	m.mu.Unlock()

	if from != to && fn != nil {
		fn(from, to, "recovery after successes")
	}
}

// RecordFailure records a failed or neutral evaluation.
func (m *DegradationManager) RecordFailure() {
	m.mu.Lock()
	m.consecutiveSuccesses = 0
	m.consecutiveFailures++

	from := m.level
	reason := "consecutive failures"
	target := from
	switch {
	case m.evaluatorOpen():
		target = DegradationMinimal
		reason = "evaluator unavailable"
	case m.consecutiveFailures >= m.config.FailuresForMinimal:
		target = DegradationMinimal
	case m.consecutiveFailures >= m.config.FailuresForReduced:
		target = DegradationReduced
	}
	if target > m.level {
		m.level = target
		m.lastDegradation = time.Now()
	}
	to, fn := m.level, m.onChange
	m.mu.Unlock()

	if from != to && fn != nil {
		fn(from, to, reason)
	}
}

// evaluatorOpen must be called with the lock held.
func (m *DegradationManager) evaluatorOpen() bool {
	return m.probe != nil && m.probe()
}

// Level returns the current degradation level.
func (m *DegradationManager) Level() DegradationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// StrategyFor returns the selection strategy to use at the current level.
func (m *DegradationManager) StrategyFor(configured SelectionStrategy) SelectionStrategy {
	if m.Level() == DegradationNormal {
		return configured
	}
	return StrategyFast
}

// BatchSize scales a configured batch size to the current level. Never below 1.
func (m *DegradationManager) BatchSize(configured int) int {
	n := configured
	switch m.Level() {
	case DegradationReduced:
		n = configured / 2
	case DegradationMinimal:
		n = configured / 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Status returns current degradation status for observability.
func (m *DegradationManager) Status() DegradationStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return DegradationStatus{
		Level:                m.level.String(),
		ConsecutiveFailures:  m.consecutiveFailures,
		ConsecutiveSuccesses: m.consecutiveSuccesses,
		LastDegradation:      m.lastDegradation,
		EvaluatorOpen:        m.evaluatorOpen(),
	}
}

// Reset returns the manager to normal level.
func (m *DegradationManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = DegradationNormal
	m.consecutiveFailures = 0
	m.consecutiveSuccesses = 0
	m.lastDegradation = time.Time{}
}
