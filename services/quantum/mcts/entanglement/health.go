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
	"fmt"
	"math"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// Health score weights.
const (
	weightConnectivity = 0.3
	weightDensity      = 0.2
	weightClustering   = 0.25
	weightBalance      = 0.25

	// minDensity is the density below which the network is considered sparse.
	minDensity = 0.01

	// maxImbalance is the tolerated max/avg degree ratio minus one.
	maxImbalance = 2.0
)

// HealthReport is the composite health of the network.
type HealthReport struct {
	Score           float64  `json:"score"`
	Grade           string   `json:"grade"`
	Connectivity    float64  `json:"connectivity"`
	DensityScore    float64  `json:"density_score"`
	Clustering      float64  `json:"clustering"`
	Balance         float64  `json:"balance"`
	Issues          []string `json:"issues,omitempty"`
	Topology        Topology `json:"topology"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Grade maps a score in [0, 1] to a letter.
func Grade(score float64) string {
	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

// HealthCheck scores the network.
//
// Description:
//
//	score = 0.3*connectivity + 0.2*density_score + 0.25*clustering +
//	0.25*balance. An empty network scores 1.0 (grade A).
func (e *Engine) HealthCheck() HealthReport {
	t := e.AnalyzeNetworkTopology()
	if t.EdgeCount == 0 {
		return HealthReport{Score: 1, Grade: "A", Connectivity: 1, DensityScore: 1, Clustering: 1, Balance: 1, Topology: t}
	}

	r := HealthReport{
		Connectivity: t.Connectivity,
		DensityScore: densityScore(t.Density, e.config.MaxNetworkDensity),
		Clustering:   t.ClusteringCoefficient,
		Balance:      balance(t),
		Topology:     t,
	}
	r.Score = mcts.Clamp01(weightConnectivity*r.Connectivity +
		weightDensity*r.DensityScore +
		weightClustering*r.Clustering +
		weightBalance*r.Balance)
	r.Grade = Grade(r.Score)

	if !t.IsConnected() {
		r.Issues = append(r.Issues, fmt.Sprintf("network split into %d components", t.Components))
		r.Recommendations = append(r.Recommendations, "entangle nodes across components")
	}
	switch {
	case t.Density < minDensity:
		r.Issues = append(r.Issues, fmt.Sprintf("network too sparse (density %.3f)", t.Density))
		r.Recommendations = append(r.Recommendations, "lower the decoherence threshold")
	case t.Density > e.config.MaxNetworkDensity:
		r.Issues = append(r.Issues, fmt.Sprintf("network too dense (density %.3f)", t.Density))
		r.Recommendations = append(r.Recommendations, "raise the strength threshold")
	}
	if t.ClusteringCoefficient < e.config.MinClustering {
		r.Issues = append(r.Issues, fmt.Sprintf("low clustering (%.3f)", t.ClusteringCoefficient))
	}
	if imbalance(t) > maxImbalance {
		r.Issues = append(r.Issues, fmt.Sprintf("degree imbalance (max %d, avg %.2f)", t.MaxDegree, t.AverageDegree))
		r.Recommendations = append(r.Recommendations, "lower max_entanglements_per_node")
	}
	return r
}

// densityScore is 1 inside [minDensity, upper], falling off outside it.
func densityScore(density, upper float64) float64 {
	switch {
	case density < minDensity:
		return mcts.Clamp01(density / minDensity)
	case density > upper:
		return mcts.Clamp01(upper / density)
	default:
		return 1
	}
}

func imbalance(t Topology) float64 {
	return float64(t.MaxDegree)/math.Max(t.AverageDegree, 1) - 1
}

// balance is 1 minus the coefficient of variation of node degrees.
func balance(t Topology) float64 {
	if t.AverageDegree == 0 {
		return 1
	}
	return mcts.Clamp01(1 - math.Sqrt(t.DegreeVariance)/t.AverageDegree)
}
