// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qmcts/pkg/logging"
	"github.com/AleutianAI/qmcts/pkg/ux"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
	qbadger "github.com/AleutianAI/qmcts/services/quantum/storage/badger"
	"github.com/AleutianAI/qmcts/services/quantum/telemetry"
)

var errStoreDisabled = errors.New("result store is disabled (--no-store)")

// session holds what one command invocation opened. closeSession releases
// it after Execute returns, including when the command failed.
type session struct {
	logger  *logging.Logger
	printer *ux.Printer
	db      *qbadger.DB
	cleanup []func()
}

var sess *session

func setupSession(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(logFormat),
		LogDir:  logDir,
		Service: "qmcts",
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		logger.Warn("log file disabled", slog.String("error", err.Error()))
	}
	slog.SetDefault(logger.Slog())

	var out *os.File
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		out = f
	}
	outLevel := ux.DetectLevel(out)
	if outputLevel != "" {
		outLevel = ux.ParseLevel(outputLevel)
	}

	sess = &session{
		logger:  logger,
		printer: ux.NewPrinter(cmd.OutOrStdout(), outLevel),
	}
	return nil
}

func closeSession() {
	if sess == nil {
		return
	}
	for i := len(sess.cleanup) - 1; i >= 0; i-- {
		sess.cleanup[i]()
	}
	if sess.db != nil {
		if err := sess.db.Close(); err != nil {
			sess.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	_ = sess.logger.Close()
	sess = nil
}

func (s *session) onClose(fn func()) {
	s.cleanup = append(s.cleanup, fn)
}

// loadConfig applies --config and QMCTS_* overrides.
func loadConfig() (improvement.Config, error) {
	return improvement.LoadConfig(configPath)
}

// openStore opens the result store once per session.
func (s *session) openStore() (*improvement.BadgerStore, error) {
	if noStore {
		return nil, errStoreDisabled
	}
	if s.db == nil {
		cfg := qbadger.DefaultConfig(storePath)
		cfg.Logger = s.logger.Slog()
		db, err := qbadger.OpenDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("open result store %s: %w", storePath, err)
		}
		s.db = db
	}
	return improvement.NewBadgerStore(s.db), nil
}

// telemetryConfig merges flags over telemetry.DefaultConfig.
func telemetryConfig(cmd *cobra.Command) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if tracesExporter != "" {
		cfg.TraceExporter = tracesExporter
	}
	if metricsExporter != "" {
		cfg.MetricExporter = metricsExporter
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	// Keep exporter output off stdout so --json stays parseable.
	cfg.Writer = cmd.ErrOrStderr()
	return cfg
}

// startTelemetry installs the providers and registers their shutdown.
func (s *session) startTelemetry(ctx context.Context, cfg telemetry.Config) error {
	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return err
	}
	s.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	})
	return nil
}

// serveMetrics exposes /metrics on addr for the lifetime of the session
// when the prometheus exporter is active.
func (s *session) serveMetrics(addr string) {
	handler := telemetry.MetricsHandler()
	if handler == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics listener", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("serving metrics", slog.String("addr", addr))
	s.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}
