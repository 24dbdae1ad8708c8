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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QMCTS_"

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty or missing means defaults only.
//
// Outputs:
//   - Config: The merged configuration.
//   - error: Parse failures, a malformed QMCTS_* value, or a validation
//     failure wrapping *mcts.ConfigurationError.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadConfigFromEnv(&config); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	// YAML first, then JSON.
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// envOverride binds one QMCTS_* variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = i
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envOverrides = []envOverride{
	// Engine
	{"RECURSIVE_ITERATIONS", intVar(func(c *Config) *int { return &c.Engine.RecursiveIterations })},
	{"ITERATIONS_PER_DEPTH", intVar(func(c *Config) *int { return &c.Engine.IterationsPerDepth })},
	{"ITERATION_CONCURRENCY", intVar(func(c *Config) *int { return &c.Engine.IterationConcurrency })},
	{"PROMISE_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Engine.PromiseThreshold })},
	{"COMMITTEE_REWARD_WEIGHT", floatVar(func(c *Config) *float64 { return &c.Engine.CommitteeRewardWeight })},
	{"TRACING_ENABLED", boolVar(func(c *Config) *bool { return &c.Engine.Tracing })},
	{"DEADLINE", func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.Engine.Deadline = d
		return nil
	}},

	// Search
	{"EXPLORATION_CONSTANT", floatVar(func(c *Config) *float64 { return &c.Search.ExplorationConstant })},
	{"MAX_TREE_SIZE", intVar(func(c *Config) *int { return &c.Search.MaxTreeSize })},
	{"STRATEGY", func(c *Config, v string) error { c.Search.Strategy = v; return nil }},
	{"MAX_MEMORY_BYTES", func(c *Config, v string) error {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Search.MaxMemoryBytes = i
		return nil
	}},

	// Committee
	{"AGENT_COUNT", intVar(func(c *Config) *int { return &c.Committee.AgentCount })},
	{"COMMITTEE_CONCURRENCY", intVar(func(c *Config) *int { return &c.Committee.Concurrency })},
	{"AGENT_TIMEOUT_MS", intVar(func(c *Config) *int { return &c.Committee.AgentTimeoutMS })},
	{"MAX_ROUNDS", intVar(func(c *Config) *int { return &c.Committee.MaxRounds })},
	{"CONSENSUS_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Committee.ConsensusThreshold })},
	{"WEIGHTED", boolVar(func(c *Config) *bool { return &c.Committee.Weighted })},
	{"RATE_LIMIT", floatVar(func(c *Config) *float64 { return &c.Committee.RateLimit })},

	// Entanglement
	{"MAX_ENTANGLEMENTS_PER_NODE", intVar(func(c *Config) *int { return &c.Entanglement.MaxEntanglementsPerNode })},
	{"STRENGTH_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Entanglement.StrengthThreshold })},
}

// loadConfigFromEnv applies QMCTS_* overrides. Unset variables are skipped.
func loadConfigFromEnv(config *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(config, v); err != nil {
			return mcts.NewConfigurationError(EnvPrefix+o.name, fmt.Sprintf("cannot parse %q: %v", v, err))
		}
	}
	return nil
}

// EnvVars lists the supported environment overrides.
func EnvVars() []string {
	names := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		names[i] = EnvPrefix + o.name
	}
	return names
}
