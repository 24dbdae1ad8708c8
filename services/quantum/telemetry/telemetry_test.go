// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("QMCTS_TRACES_EXPORTER", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("QMCTS_METRICS_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("QMCTS_ENV", "ci")

	cfg := DefaultConfig()
	assert.Equal(t, "qmcts", cfg.ServiceName)
	assert.Equal(t, "ci", cfg.Environment)
	assert.Equal(t, ExporterStdout, cfg.TraceExporter, "OTEL_ fallback")
	assert.Equal(t, ExporterNone, cfg.MetricExporter)

	t.Setenv("QMCTS_TRACES_EXPORTER", "otlp")
	assert.Equal(t, ExporterOTLP, DefaultConfig().TraceExporter, "QMCTS_ wins")
}

func TestInit(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // exercising the guard
		_, err := Init(nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("none installs only the propagator", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = ExporterNone
		cfg.MetricExporter = ExporterNone
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
		assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
	})

	t.Run("unknown exporters", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "zipkin"
		_, err := Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)

		cfg = DefaultConfig()
		cfg.TraceExporter = ExporterNone
		cfg.MetricExporter = "statsd"
		_, err = Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("stdout spans reach the writer on shutdown", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := DefaultConfig()
		cfg.TraceExporter = ExporterStdout
		cfg.MetricExporter = ExporterStdout
		cfg.Writer = &buf

		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		_, span := otel.Tracer("test").Start(context.Background(), "improvement.depth")
		span.End()
		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "improvement.depth")
	})

	t.Run("prometheus exposes a handler", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = ExporterNone
		cfg.MetricExporter = ExporterPrometheus
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		defer shutdown(context.Background())

		h := MetricsHandler()
		require.NotNil(t, h)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
