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
	"sort"
	"sync"
	"time"
)

// BreakerState is the state of one agent's circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen skips the agent; it abstains.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures every per-agent breaker.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening (default: 3).
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`

	// SuccessThreshold is probe successes needed to close (default: 2).
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" validate:"gte=1"`

	// OpenDurationMS is how long the breaker stays open (default: 30s).
	OpenDurationMS int `json:"open_duration_ms" yaml:"open_duration_ms" validate:"gte=0"`

	// HalfOpenMax is the number of concurrent probes (default: 1).
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max" validate:"gte=1"`
}

// DefaultBreakerConfig returns 3/2/30s/1.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDurationMS:   30000,
		HalfOpenMax:      1,
	}
}

func (c BreakerConfig) openDuration() time.Duration {
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// BreakerStats is a snapshot of one breaker.
type BreakerStats struct {
	AgentID         string    `json:"agent_id"`
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	CurrentFailures int       `json:"current_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

// breaker guards calls to one agent.
//
// Thread Safety: Safe for concurrent use.
type breaker struct {
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	lastStateChange time.Time
	halfOpenActive  int

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

func newBreaker(config BreakerConfig, now func() time.Time) *breaker {
	return &breaker{config: config, now: now, lastStateChange: now()}
}

// State returns the current state, moving Open to HalfOpen once the open
// window has elapsed.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastStateChange) >= b.config.openDuration() {
		b.transitionTo(BreakerHalfOpen)
	}
	return b.state
}

// Allow reports whether a call may proceed. A non-nil release must be
// called when a half-open probe finishes.
func (b *breaker) Allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	switch b.state {
	case BreakerClosed:
		return true, nil
	case BreakerOpen:
		if b.now().Sub(b.lastStateChange) >= b.config.openDuration() {
			b.transitionTo(BreakerHalfOpen)
			return b.tryHalfOpen()
		}
		b.totalRejections++
		return false, nil
	case BreakerHalfOpen:
		return b.tryHalfOpen()
	}
	return false, nil
}

// tryHalfOpen must be called with the lock held.
func (b *breaker) tryHalfOpen() (bool, func()) {
	if b.halfOpenActive >= b.config.HalfOpenMax {
		b.totalRejections++
		return false, nil
	}
	b.halfOpenActive++
	return true, func() {
		b.mu.Lock()
		if b.halfOpenActive > 0 {
			b.halfOpenActive--
		}
		b.mu.Unlock()
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(BreakerClosed)
		}
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalFailures++
	b.failures++
	b.successes = 0
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

// transitionTo must be called with the lock held.
func (b *breaker) transitionTo(s BreakerState) {
	b.state = s
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
}

func (b *breaker) Stats(agentID string) BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		AgentID:         agentID,
		State:           b.state.String(),
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		CurrentFailures: b.failures,
		LastStateChange: b.lastStateChange,
	}
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenActive = 0
	b.lastStateChange = b.now()
}

// breakerSet holds one breaker per agent id, created lazily.
type breakerSet struct {
	config BreakerConfig
	now    func() time.Time

	mu sync.Mutex
	m  map[string]*breaker
}

func newBreakerSet(config BreakerConfig, now func() time.Time) *breakerSet {
	return &breakerSet{config: config, now: now, m: make(map[string]*breaker)}
}

func (s *breakerSet) get(agentID string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[agentID]
	if !ok {
		b = newBreaker(s.config, s.now)
		s.m[agentID] = b
	}
	return b
}

func (s *breakerSet) stats() []BreakerStats {
	s.mu.Lock()
	ids := make([]string, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]BreakerStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.get(id).Stats(id))
	}
	return out
}

func (s *breakerSet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.m {
		b.Reset()
	}
}
