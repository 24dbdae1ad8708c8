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
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SearchConfig contains tree and selection settings.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type SearchConfig struct {
	// ExplorationConstant is the UCT C parameter (default sqrt(2)).
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant" validate:"gt=0"`

	// MaxTreeSize caps the number of nodes in the arena.
	MaxTreeSize int `json:"max_tree_size" yaml:"max_tree_size" validate:"gte=1"`

	// MaxMemoryBytes caps the estimated memory of tree + graph. 0 disables.
	MaxMemoryBytes int64 `json:"max_memory_bytes" yaml:"max_memory_bytes" validate:"gte=0"`

	// AmplitudeDecay multiplies the amplitude on every visit.
	AmplitudeDecay float64 `json:"amplitude_decay" yaml:"amplitude_decay" validate:"gt=0,lte=1"`

	// AmplitudeLearningRate scales the reward contribution to amplitude.
	AmplitudeLearningRate float64 `json:"amplitude_learning_rate" yaml:"amplitude_learning_rate" validate:"gte=0,lte=1"`

	// ChildAmplitudeDecay is applied to the parent amplitude for a new child.
	ChildAmplitudeDecay float64 `json:"child_amplitude_decay" yaml:"child_amplitude_decay" validate:"gt=0,lte=1"`

	// DecoherenceStep is added to the parent decoherence for a new child.
	DecoherenceStep float64 `json:"decoherence_step" yaml:"decoherence_step" validate:"gte=0,lte=1"`

	// EntanglementPropagation scales reward pushed to entangled partners.
	EntanglementPropagation float64 `json:"entanglement_propagation" yaml:"entanglement_propagation" validate:"gte=0,lte=1"`

	// EntanglementWeight scales the bonus term for QuantumUCT.
	// EntanglementAware doubles it.
	EntanglementWeight float64 `json:"entanglement_weight" yaml:"entanglement_weight" validate:"gte=0"`

	// Strategy is the default selection strategy.
	Strategy string `json:"strategy" yaml:"strategy" validate:"oneof=quantum_uct fast multi_objective entanglement_aware"`
}

// DefaultSearchConfig returns the default search configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		ExplorationConstant:     math.Sqrt2,
		MaxTreeSize:             10000,
		MaxMemoryBytes:          0,
		AmplitudeDecay:          0.9,
		AmplitudeLearningRate:   0.1,
		ChildAmplitudeDecay:     0.9,
		DecoherenceStep:         0.01,
		EntanglementPropagation: 0.5,
		EntanglementWeight:      1.0,
		Strategy:                StrategyQuantumUCT.String(),
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: *ConfigurationError if a field is invalid.
func (c SearchConfig) Validate() error {
	return ValidateStruct(c)
}

// structValidator reports fields by their yaml names.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs validator tags on v and converts the first failure
// into a *ConfigurationError.
//
// Inputs:
//   - v: A struct (or pointer to struct) carrying `validate` tags.
//
// Outputs:
//   - error: nil if valid, *ConfigurationError otherwise.
//
// Thread Safety: Safe for concurrent use.
func ValidateStruct(v any) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return NewConfigurationError(fieldPath(fe.Namespace()), fmt.Sprintf("failed %q (got %v)", reason, fe.Value()))
	}
	return NewConfigurationError("", err.Error())
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
