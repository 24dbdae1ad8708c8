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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.quantum.mcts")

// Metrics for search operations.
var (
	nodesCreated      metric.Int64Counter
	expandFailures    metric.Int64Counter
	iterationsTotal   metric.Int64Counter
	iterationDuration metric.Float64Histogram
	rewardHistogram   metric.Float64Histogram
	partnersNudged    metric.Int64Counter
	degradationEvents metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if nodesCreated, err = meter.Int64Counter(
			"qmcts_nodes_created_total",
			metric.WithDescription("Total nodes inserted into the search tree"),
		); err != nil {
			metricsErr = err
			return
		}

		if expandFailures, err = meter.Int64Counter(
			"qmcts_expand_failures_total",
			metric.WithDescription("Expansion failures by reason"),
		); err != nil {
			metricsErr = err
			return
		}

		if iterationsTotal, err = meter.Int64Counter(
			"qmcts_iterations_total",
			metric.WithDescription("Search iterations by outcome"),
		); err != nil {
			metricsErr = err
			return
		}

		if iterationDuration, err = meter.Float64Histogram(
			"qmcts_iteration_duration_seconds",
			metric.WithDescription("Duration of one select/expand/evaluate/backprop iteration"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if rewardHistogram, err = meter.Float64Histogram(
			"qmcts_reward",
			metric.WithDescription("Rewards backpropagated"),
		); err != nil {
			metricsErr = err
			return
		}

		if partnersNudged, err = meter.Int64Counter(
			"qmcts_partners_nudged_total",
			metric.WithDescription("Entangled partners whose amplitude moved during backprop"),
		); err != nil {
			metricsErr = err
			return
		}

		degradationEvents, metricsErr = meter.Int64Counter(
			"qmcts_degradation_events_total",
			metric.WithDescription("Degradation level changes"),
		)
	})
	return metricsErr
}

// RecordNodeCreated records that a node was inserted.
//
// Thread Safety: Safe for concurrent use.
func RecordNodeCreated(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	nodesCreated.Add(ctx, 1)
}

// RecordExpandFailure records a failed expansion.
//
// Inputs:
//   - reason: "tree_full", "action_error", "not_expandable".
func RecordExpandFailure(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	expandFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordIteration records one completed iteration.
//
// Inputs:
//   - outcome: "expanded", "evaluated_leaf", "skipped".
//   - reward: The backpropagated reward.
//   - duration: Wall time of the iteration.
func RecordIteration(ctx context.Context, outcome string, reward float64, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	iterationsTotal.Add(ctx, 1, attrs)
	iterationDuration.Record(ctx, duration.Seconds(), attrs)
	rewardHistogram.Record(ctx, reward)
}

// RecordBackprop records partner nudges of one backpropagation.
func RecordBackprop(ctx context.Context, result BackpropResult) {
	if err := initMetrics(); err != nil {
		return
	}
	if result.PartnersNudged > 0 {
		partnersNudged.Add(ctx, int64(result.PartnersNudged))
	}
}

// RecordDegradation records a degradation level change.
func RecordDegradation(ctx context.Context, from, to DegradationLevel) {
	if err := initMetrics(); err != nil {
		return
	}
	degradationEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
