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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.quantum.committee")

var (
	evaluationsTotal   metric.Int64Counter
	abstentionsTotal   metric.Int64Counter
	cacheHitsTotal     metric.Int64Counter
	evaluationDuration metric.Float64Histogram
	confidenceHist     metric.Float64Histogram
	roundsHist         metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if evaluationsTotal, err = meter.Int64Counter(
			"qmcts_committee_evaluations_total",
			metric.WithDescription("Committee evaluations"),
		); err != nil {
			metricsErr = err
			return
		}

		if abstentionsTotal, err = meter.Int64Counter(
			"qmcts_committee_abstentions_total",
			metric.WithDescription("Agents that did not respond, by reason"),
		); err != nil {
			metricsErr = err
			return
		}

		if cacheHitsTotal, err = meter.Int64Counter(
			"qmcts_committee_cache_hits_total",
			metric.WithDescription("Decisions served from the cache"),
		); err != nil {
			metricsErr = err
			return
		}

		if evaluationDuration, err = meter.Float64Histogram(
			"qmcts_committee_evaluation_duration_seconds",
			metric.WithDescription("Wall time of a committee evaluation"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if confidenceHist, err = meter.Float64Histogram(
			"qmcts_committee_confidence",
			metric.WithDescription("Decision confidence"),
		); err != nil {
			metricsErr = err
			return
		}

		roundsHist, metricsErr = meter.Int64Histogram(
			"qmcts_committee_rounds",
			metric.WithDescription("Rounds used per evaluation"),
		)
	})
	return metricsErr
}

// recordEvaluation records one finished evaluation.
func recordEvaluation(ctx context.Context, d ConsensusDecision, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("neutral", d.IsNeutral()))
	evaluationsTotal.Add(ctx, 1, attrs)
	evaluationDuration.Record(ctx, duration.Seconds(), attrs)
	confidenceHist.Record(ctx, d.Confidence)
	roundsHist.Record(ctx, int64(d.Rounds))
}

// recordAbstention records an agent that did not respond.
//
// Inputs:
//   - reason: "timeout", "error", "circuit_open", "rate_limited".
func recordAbstention(ctx context.Context, role AgentRole, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	abstentionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role.String()),
		attribute.String("reason", reason),
	))
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHitsTotal.Add(ctx, 1)
}
