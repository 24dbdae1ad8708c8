// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entanglement

import (
	"errors"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// Sentinel errors for the entanglement package.
var (
	ErrEntanglementLimit = errors.New("entanglement limit reached for node")
	ErrSelfEntanglement  = errors.New("node cannot be entangled with itself")
	ErrEdgeNotFound      = errors.New("entanglement edge not found")
)

// Config controls graph limits and thresholds.
type Config struct {
	// MaxEntanglementsPerNode caps the degree of every node.
	MaxEntanglementsPerNode int `json:"max_entanglements_per_node" yaml:"max_entanglements_per_node" validate:"gte=1"`

	// StrengthThreshold is the prune bar used by Optimize.
	StrengthThreshold float64 `json:"strength_threshold" yaml:"strength_threshold" validate:"gte=0,lte=1"`

	// DecoherenceThreshold: both nodes must be below it to auto-entangle.
	DecoherenceThreshold float64 `json:"decoherence_threshold" yaml:"decoherence_threshold" validate:"gte=0,lte=1"`

	// DefaultStrength is used for edges created by EntangleNew.
	DefaultStrength float64 `json:"default_strength" yaml:"default_strength" validate:"gt=0,lte=1"`

	// StrengthenThreshold is the avg reward both endpoints need before
	// Optimize raises an edge.
	StrengthenThreshold float64 `json:"strengthen_threshold" yaml:"strengthen_threshold" validate:"gte=0,lte=1"`

	// BonusTopK is how many partners contribute to a node's bonus.
	BonusTopK int `json:"bonus_top_k" yaml:"bonus_top_k" validate:"gte=1"`

	// MaxNetworkDensity is the density above which health flags the graph.
	MaxNetworkDensity float64 `json:"max_network_density" yaml:"max_network_density" validate:"gt=0,lte=1"`

	// MinClustering is the clustering coefficient below which health flags the graph.
	MinClustering float64 `json:"min_clustering" yaml:"min_clustering" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default entanglement configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntanglementsPerNode: 12,
		StrengthThreshold:       0.1,
		DecoherenceThreshold:    0.1,
		DefaultStrength:         0.7,
		StrengthenThreshold:     0.7,
		BonusTopK:               5,
		MaxNetworkDensity:       0.2,
		MinClustering:           0.3,
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: *mcts.ConfigurationError if a field is invalid.
func (c Config) Validate() error {
	return mcts.ValidateStruct(c)
}
