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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// knownOutcomes bounds the outcome label.
var knownOutcomes = map[string]bool{
	outcomeEvaluated: true,
	outcomeFallback:  true,
	outcomeBase:      true,
	outcomeSkipped:   true,
	outcomeFailed:    true,
}

func sanitizeOutcome(outcome string) string {
	if knownOutcomes[outcome] {
		return outcome
	}
	return "unknown"
}

var (
	// runsTotal counts finished runs.
	//
	// Labels:
	//   - reason: Termination state.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "runs_total",
			Help:      "Total improvement runs by termination reason",
		},
		[]string{"reason"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "run_duration_seconds",
			Help:      "Wall clock time of improvement runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	depthsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "depths_per_run",
			Help:      "Depths completed per improvement run",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)

	// iterationsTotal counts iterations.
	//
	// Labels:
	//   - outcome: "evaluated", "fallback", "base", "skipped" or "failed".
	iterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "iterations_total",
			Help:      "Total search iterations by outcome",
		},
		[]string{"outcome"},
	)

	nodesAmplifiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "nodes_amplified_total",
			Help:      "Total nodes whose amplitude was boosted",
		},
	)

	convergenceScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "convergence_score",
			Help:      "Convergence score after the latest depth",
		},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "qmcts",
			Subsystem: "improvement",
			Name:      "tree_nodes",
			Help:      "Nodes in the search tree after the latest depth",
		},
	)
)

func recordIterationOutcome(outcome string) {
	iterationsTotal.WithLabelValues(sanitizeOutcome(outcome)).Inc()
}

func recordDepth(d DepthResult) {
	convergenceScore.Set(d.ConvergenceScore)
	treeNodes.Set(float64(d.TreeSize))
	nodesAmplifiedTotal.Add(float64(d.NodesAmplified))
}

func recordRun(r *ImprovementResult) {
	runsTotal.WithLabelValues(string(r.TerminationReason)).Inc()
	runDuration.Observe(r.TotalTime.Seconds())
	depthsPerRun.Observe(float64(r.TotalDepths))
}
