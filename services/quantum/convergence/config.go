// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package convergence

import (
	"fmt"
	"math"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// Config controls the convergence score and trend classification.
type Config struct {
	// QualityBar is the avg reward a root child needs to count as good.
	QualityBar float64 `json:"quality_bar" yaml:"quality_bar" validate:"gte=0,lte=1"`

	// Window is how many best-path scores feed the stability term.
	Window int `json:"window" yaml:"window" validate:"gte=2"`

	// HistoryLimit bounds the convergence scores kept for Trend.
	HistoryLimit int `json:"history_limit" yaml:"history_limit" validate:"gte=3"`

	QualityWeight   float64 `json:"quality_weight" yaml:"quality_weight" validate:"gte=0,lte=1"`
	StabilityWeight float64 `json:"stability_weight" yaml:"stability_weight" validate:"gte=0,lte=1"`
	HealthWeight    float64 `json:"health_weight" yaml:"health_weight" validate:"gte=0,lte=1"`

	// VolatileCV is the coefficient of variation above which a trend is volatile.
	VolatileCV float64 `json:"volatile_cv" yaml:"volatile_cv" validate:"gt=0"`

	// TrendBand is the half-difference below which a trend is stable.
	TrendBand float64 `json:"trend_band" yaml:"trend_band" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the default convergence configuration.
func DefaultConfig() Config {
	return Config{
		QualityBar:      0.7,
		Window:          5,
		HistoryLimit:    32,
		QualityWeight:   0.4,
		StabilityWeight: 0.4,
		HealthWeight:    0.2,
		VolatileCV:      0.3,
		TrendBand:       0.05,
	}
}

// Validate checks struct tags and that the three weights sum to 1.
func (c Config) Validate() error {
	if err := mcts.ValidateStruct(c); err != nil {
		return err
	}
	sum := c.QualityWeight + c.StabilityWeight + c.HealthWeight
	if math.Abs(sum-1) > 0.01 {
		return mcts.NewConfigurationError("quality_weight", fmt.Sprintf("convergence weights must sum to 1 (got %.3f)", sum))
	}
	if c.QualityWeight+c.StabilityWeight == 0 {
		return mcts.NewConfigurationError("quality_weight", "quality and stability weights cannot both be 0")
	}
	return nil
}
