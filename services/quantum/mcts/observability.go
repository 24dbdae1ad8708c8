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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "aleutian.quantum.mcts"

// Tracer provides OpenTelemetry spans for search iterations.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer. When disabled every span is a no-op.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// TraceIteration starts a span for one iteration.
func (t *Tracer) TraceIteration(ctx context.Context, depth, iteration int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "qmcts.iteration",
		trace.WithAttributes(
			attribute.Int("qmcts.depth", depth),
			attribute.Int("qmcts.iteration", iteration),
		),
	)
}

// TraceSelect records the selected leaf as a span event.
func (t *Tracer) TraceSelect(ctx context.Context, span trace.Span, path []NodeID) {
	leaf := InvalidNode
	if len(path) > 0 {
		leaf = path[len(path)-1]
	}
	span.AddEvent("select", trace.WithAttributes(
		attribute.Int64("qmcts.leaf", int64(leaf)),
		attribute.Int("qmcts.path_length", len(path)),
	))
	t.logger.DebugContext(ctx, "select",
		slog.String("leaf", leaf.String()),
		slog.Int("path_length", len(path)),
	)
}

// EndIteration completes an iteration span.
func (t *Tracer) EndIteration(span trace.Span, node NodeID, reward float64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int64("qmcts.node", int64(node)),
		attribute.Float64("qmcts.reward", reward),
	)
	span.End()
}

// TraceDegradation records a degradation change on the current span.
func (t *Tracer) TraceDegradation(ctx context.Context, from, to DegradationLevel, reason string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("degradation", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
		attribute.String("reason", reason),
	))
	RecordDegradation(ctx, from, to)
	t.logger.WarnContext(ctx, "search degraded",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
}

// LoggerWithTrace returns a logger with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
