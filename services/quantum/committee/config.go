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
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// weightSumTolerance is how far the score weights may drift from 1.
const weightSumTolerance = 0.01

// Weights blends the three objective means into the overall score.
type Weights struct {
	Alignment float64 `json:"alignment" yaml:"alignment" validate:"gte=0,lte=1"`
	Quality   float64 `json:"quality" yaml:"quality" validate:"gte=0,lte=1"`
	Risk      float64 `json:"risk" yaml:"risk" validate:"gte=0,lte=1"`
}

// DefaultWeights returns 0.4/0.3/0.3.
func DefaultWeights() Weights {
	return Weights{Alignment: 0.4, Quality: 0.3, Risk: 0.3}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Alignment + w.Quality + w.Risk
}

// Config controls the committee.
type Config struct {
	// AgentCount is how many registered agents are consulted per round.
	AgentCount int `json:"agent_count" yaml:"agent_count" validate:"gte=1"`

	// Concurrency bounds in-flight agent calls.
	Concurrency int `json:"committee_concurrency" yaml:"committee_concurrency" validate:"gte=1"`

	// AgentTimeoutMS is the per-call deadline.
	AgentTimeoutMS int `json:"agent_timeout_ms" yaml:"agent_timeout_ms" validate:"gte=1"`

	Weights Weights `json:"weights" yaml:"weights"`

	// Weighted switches aggregation to role-weighted means.
	Weighted bool `json:"weighted" yaml:"weighted"`

	// MaxRounds is the number of evaluation rounds. 1 disables steering.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds" validate:"gte=1,lte=10"`

	// ConsensusThreshold stops multi-round evaluation early.
	ConsensusThreshold float64 `json:"consensus_threshold" yaml:"consensus_threshold" validate:"gte=0,lte=1"`

	// CacheTTLSeconds keeps decisions for identical requests. 0 disables the cache.
	CacheTTLSeconds int `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" validate:"gte=0"`

	// CacheMaxEntries bounds the decision cache.
	CacheMaxEntries int64 `json:"cache_max_entries" yaml:"cache_max_entries" validate:"gte=1"`

	// RateLimit is agent calls per second across the committee. 0 is unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the token bucket size when RateLimit is set.
	RateBurst int `json:"rate_burst" yaml:"rate_burst" validate:"gte=0"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// DefaultConfig returns the default committee configuration.
func DefaultConfig() Config {
	return Config{
		AgentCount:         5,
		Concurrency:        min(runtime.NumCPU(), 4),
		AgentTimeoutMS:     5000,
		Weights:            DefaultWeights(),
		MaxRounds:          3,
		ConsensusThreshold: 0.85,
		CacheTTLSeconds:    300,
		CacheMaxEntries:    10000,
		RateBurst:          10,
		Breaker:            DefaultBreakerConfig(),
	}
}

// AgentTimeout returns AgentTimeoutMS as a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMS) * time.Millisecond
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Validate checks struct tags and the weight-sum rule.
//
// Outputs:
//   - error: *mcts.ConfigurationError if invalid.
func (c Config) Validate() error {
	if err := mcts.ValidateStruct(c); err != nil {
		return err
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > weightSumTolerance {
		return mcts.NewConfigurationError("weights", fmt.Sprintf("must sum to 1 (got %.3f)", sum))
	}
	return nil
}
