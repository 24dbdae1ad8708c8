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
	"errors"
	"fmt"
)

// Sentinel errors for the mcts package.
var (
	// Tree errors
	ErrTreeFull        = errors.New("mcts tree is full")
	ErrNodeNotFound    = errors.New("mcts node not found")
	ErrDuplicateAction = errors.New("mcts action already expanded")
	ErrNotExpandable   = errors.New("mcts node has no untried actions")
	ErrTerminalNode    = errors.New("mcts node is terminal")
	ErrNoChildren      = errors.New("mcts node has no children")

	// Domain errors
	ErrActionApplication = errors.New("mcts action application failed")
	ErrNilDomain         = errors.New("mcts domain is nil")

	// Resource errors
	ErrResourceExhausted   = errors.New("mcts resources exhausted")
	ErrNodeLimitExceeded   = errors.New("mcts node limit exceeded")
	ErrMemoryLimitExceeded = errors.New("mcts memory limit exceeded")
	ErrTimeLimitExceeded   = errors.New("mcts time limit exceeded")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigurationError reports a configuration value that fails pre-flight
// validation. It is always fatal and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// ActionApplicationError wraps a Domain transition failure.
//
// The failing action has already been removed from the parent's untried
// set when this error is returned.
type ActionApplicationError struct {
	Parent NodeID
	Action Action
	Err    error
}

// Error implements error.
func (e *ActionApplicationError) Error() string {
	return fmt.Sprintf("apply action %q on node %d: %v", e.Action, e.Parent, e.Err)
}

// Unwrap returns the underlying Domain error.
func (e *ActionApplicationError) Unwrap() error {
	return e.Err
}

// Is matches ErrActionApplication in addition to the wrapped error.
func (e *ActionApplicationError) Is(target error) bool {
	return target == ErrActionApplication
}
