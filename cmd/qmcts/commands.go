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
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	logDir      string
	outputLevel string // rich/minimal/machine; empty means detect
	storePath   string
	noStore     bool
	jsonOutput  bool

	tracesExporter  string
	metricsExporter string
	metricsAddr     string

	runDepths     int
	runIterations int
	runAgents     int
	runStrategy   string
	runDeadline   time.Duration
	runShowTree   bool

	historyLimit int

	serveAddr  string
	serveWatch bool

	rootCmd = &cobra.Command{
		Use:   "qmcts",
		Short: "Quantum-inspired recursive improvement search",
		Long: `qmcts runs a Monte Carlo tree search with amplitude amplification and
entanglement between similar branches, scored by a committee of reviewers.
It ships with a service-tuning problem and simulated reviewers.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupSession,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run an improvement search on the tuning problem",
		Args:  cobra.NoArgs,
		RunE:  runImprovement, // Defined in cmd_run.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (defaults < file < QMCTS_* env)",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate, // Defined in cmd_config.go
	}
	configEnvCmd = &cobra.Command{
		Use:   "env",
		Short: "List supported environment overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigEnv, // Defined in cmd_config.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Browse stored run results",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList, // Defined in cmd_history.go
	}
	historyGetCmd = &cobra.Command{
		Use:   "get [run-id]",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryGet, // Defined in cmd_history.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve runs and history over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON)")
	pf.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "auto", "log format: auto, text, json")
	pf.StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
	pf.StringVarP(&outputLevel, "output", "o", "", "output style: rich, minimal, machine (default: detect)")
	pf.StringVar(&storePath, "store", defaultStorePath(), "result store directory")
	pf.BoolVar(&noStore, "no-store", false, "do not persist results")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON instead of formatted output")
	pf.StringVar(&tracesExporter, "traces-exporter", "", "trace exporter: otlp, stdout, none (default: env or none)")
	pf.StringVar(&metricsExporter, "metrics-exporter", "", "metric exporter: prometheus, stdout, none (default: env or none)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics with the prometheus exporter")

	runCmd.Flags().IntVar(&runDepths, "depths", 0, "override engine.recursive_iterations")
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "override engine.iterations_per_depth")
	runCmd.Flags().IntVar(&runAgents, "agents", 0, "override committee.agent_count")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "override search.strategy")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "override engine.deadline")
	runCmd.Flags().BoolVar(&runShowTree, "tree", false, "print the top of the search tree")

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list (0 for all)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8088", "HTTP listen address")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload --config when the file changes")

	configCmd.AddCommand(configShowCmd, configValidateCmd, configEnvCmd)
	historyCmd.AddCommand(historyListCmd, historyGetCmd)
	rootCmd.AddCommand(runCmd, configCmd, historyCmd, serveCmd)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".qmcts", "store")
	}
	return filepath.Join(home, ".qmcts", "store")
}
