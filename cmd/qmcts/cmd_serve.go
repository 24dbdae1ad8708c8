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
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/qmcts/services/quantum/api"
	"github.com/AleutianAI/qmcts/services/quantum/demo"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
	"github.com/AleutianAI/qmcts/services/quantum/telemetry"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		sess.printer.Error(err.Error())
		return err
	}
	current := func() improvement.Config { return cfg }

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWatch {
		if configPath == "" {
			return errors.New("--watch needs --config")
		}
		watcher, err := improvement.NewConfigWatcher(configPath, cfg,
			improvement.WithWatcherLogger(sess.logger.Slog()))
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			watcher.Stop()
			return err
		}
		sess.onClose(watcher.Stop)
		current = watcher.Current
	}

	tcfg := telemetryConfig(cmd)
	if err := sess.startTelemetry(ctx, tcfg); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	var store improvement.ResultStore
	runnerOpts := []demo.RunnerOption{demo.WithLogger(sess.logger.Slog())}
	if !noStore {
		s, err := sess.openStore()
		if err != nil {
			return err
		}
		store = s
		runnerOpts = append(runnerOpts, demo.WithStore(s))
	}

	gin.SetMode(gin.ReleaseMode)
	handlers := api.NewHandlers(demo.NewRunner(nil, runnerOpts...), store, current).
		WithLogger(sess.logger.Slog())
	router := api.NewRouter(tcfg.ServiceName, handlers, telemetry.MetricsHandler())

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	sess.printer.Success(fmt.Sprintf("serving on %s", serveAddr))
	sess.logger.Info("http server started", slog.String("addr", serveAddr), slog.Bool("watch", serveWatch))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sess.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
