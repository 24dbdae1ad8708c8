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
	"math"

	"gonum.org/v1/gonum/stat"
)

// Trend is the direction of a score series.
type Trend string

const (
	TrendUnknown   Trend = "unknown"
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendVolatile  Trend = "volatile"
)

// minTrendSamples is the shortest series that gets a direction.
const minTrendSamples = 3

// ClassifyTrend labels a series of scores.
//
// Description:
//
//	Fewer than three samples are Unknown. A coefficient of variation above
//	volatileCV is Volatile. Otherwise delta is the mean of the second half
//	minus the mean of the first half (the middle sample of an odd series
//	is in neither). |delta| > band decides the direction; inside the band
//	the momentum of the last three samples (second difference) is added
//	and the sum is compared with the band again.
func ClassifyTrend(samples []float64, volatileCV, band float64) Trend {
	n := len(samples)
	if n < minTrendSamples {
		return TrendUnknown
	}
	if coefficientOfVariation(samples) > volatileCV {
		return TrendVolatile
	}

	half := n / 2
	delta := stat.Mean(samples[n-half:], nil) - stat.Mean(samples[:half], nil)
	if math.Abs(delta) <= band {
		momentum := samples[n-1] - 2*samples[n-2] + samples[n-3]
		delta += momentum
	}
	switch {
	case delta > band:
		return TrendImproving
	case delta < -band:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// coefficientOfVariation is popstddev/mean, 0 for a flat series.
func coefficientOfVariation(x []float64) float64 {
	mean, variance := stat.PopMeanVariance(x, nil)
	sd := math.Sqrt(math.Max(variance, 0))
	if sd == 0 {
		return 0
	}
	if mean == 0 {
		return math.Inf(1)
	}
	return sd / math.Abs(mean)
}
