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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qmcts/pkg/ux"
	"github.com/AleutianAI/qmcts/services/quantum/demo"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// maxBottlenecks is how many bottlenecks the run summary lists.
const maxBottlenecks = 5

func runImprovement(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		sess.printer.Error(err.Error())
		return err
	}
	cfg, err = applyRunFlags(cmd, cfg)
	if err != nil {
		sess.printer.Error(err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := telemetryConfig(cmd)
	if err := sess.startTelemetry(ctx, tcfg); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	sess.serveMetrics(tcfg.MetricsAddr)

	opts := []demo.RunnerOption{demo.WithLogger(sess.logger.Slog())}
	if !noStore {
		store, err := sess.openStore()
		if err != nil {
			return err
		}
		opts = append(opts, demo.WithStore(store))
	}
	runner := demo.NewRunner(nil, opts...)

	if !jsonOutput {
		sess.printer.Title("Quantum MCTS improvement run")
		sess.printer.Info(fmt.Sprintf("start %s, %d depths x %d iterations, %d reviewers",
			runner.Domain().Start, cfg.Engine.RecursiveIterations, cfg.Engine.IterationsPerDepth, cfg.Committee.AgentCount))
	}

	report, runErr := runner.Run(ctx, cfg)
	if report == nil {
		sess.printer.Error(runErr.Error())
		return runErr
	}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		return runErr
	}

	printResult(sess.printer, report.Result)
	printBottlenecks(sess.printer, report.Analysis.Bottlenecks)
	if runShowTree {
		sess.printer.Box("Search tree", strings.TrimRight(report.Analysis.Rendering, "\n"))
	}
	printVerdict(sess.printer, report.Result)
	return runErr
}

// applyRunFlags copies explicitly set run flags onto cfg and revalidates.
func applyRunFlags(cmd *cobra.Command, cfg improvement.Config) (improvement.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("depths") {
		cfg.Engine.RecursiveIterations = runDepths
	}
	if flags.Changed("iterations") {
		cfg.Engine.IterationsPerDepth = runIterations
	}
	if flags.Changed("agents") {
		cfg.Committee.AgentCount = runAgents
	}
	if flags.Changed("strategy") {
		cfg.Search.Strategy = runStrategy
	}
	if flags.Changed("deadline") {
		cfg.Engine.Deadline = runDeadline
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// printResult renders the summary and depth history of one run.
func printResult(p *ux.Printer, r *improvement.ImprovementResult) {
	p.KeyValues([]ux.KV{
		{Key: "Run ID", Value: r.RunID},
		{Key: "Started", Value: r.StartedAt.Local().Format(time.DateTime)},
		{Key: "Termination", Value: string(r.TerminationReason)},
		{Key: "Depths", Value: fmt.Sprint(r.TotalDepths)},
		{Key: "Convergence", Value: p.ProgressBar(r.FinalConvergence, 24)},
		{Key: "Best convergence", Value: fmt.Sprintf("%.3f", r.BestConvergence)},
		{Key: "Best action", Value: orDash(string(r.BestAction))},
		{Key: "Best reward", Value: fmt.Sprintf("%.3f", r.BestReward)},
		{Key: "Best path", Value: formatPath(p, r.BestPath)},
		{Key: "Evaluations", Value: fmt.Sprint(r.Evaluations)},
		{Key: "Tree nodes", Value: fmt.Sprint(r.Statistics.TotalNodes)},
		{Key: "Total time", Value: r.TotalTime.Round(time.Millisecond).String()},
		{Key: "Audit", Value: auditLine(r)},
	})

	if len(r.History) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.History))
	for _, d := range r.History {
		rows = append(rows, []string{
			fmt.Sprint(d.Depth),
			fmt.Sprint(d.IterationsCompleted),
			fmt.Sprint(d.NodesCreated),
			fmt.Sprint(d.CommitteeFallbacks),
			fmt.Sprintf("%.3f", d.ConvergenceScore),
			fmt.Sprintf("%+.3f", d.ImprovementDelta),
			fmt.Sprintf("%d×%.2f", d.NodesAmplified, d.AmplificationFactor),
			fmt.Sprint(d.EdgesPruned),
			d.Trend,
			d.Degradation,
		})
	}
	p.Table([]string{"depth", "iterations", "nodes", "fallbacks", "convergence", "delta", "amplified", "pruned", "trend", "degradation"}, rows)
}

func printBottlenecks(p *ux.Printer, bs []improvement.Bottleneck) {
	if len(bs) == 0 {
		return
	}
	var lines []string
	for i, b := range bs {
		if i == maxBottlenecks {
			lines = append(lines, fmt.Sprintf("... and %d more", len(bs)-maxBottlenecks))
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", b.Severity, b.Kind, b.SuggestedAction))
	}
	p.WarningBox("Bottlenecks", strings.Join(lines, "\n"))
}

func printVerdict(p *ux.Printer, r *improvement.ImprovementResult) {
	switch {
	case r.Success:
		p.Success(fmt.Sprintf("finished: %s", r.TerminationReason))
	case r.TerminationReason == improvement.StateCanceled:
		p.Error("canceled")
	default:
		p.Warning(fmt.Sprintf("stopped: %s", r.TerminationReason))
	}
}

func formatPath(p *ux.Printer, path []mcts.Action) string {
	if len(path) == 0 {
		return "-"
	}
	parts := make([]string, len(path))
	for i, a := range path {
		parts[i] = string(a)
	}
	if p.Level() == ux.LevelMachine {
		return strings.Join(parts, ",")
	}
	return strings.Join(parts, " "+string(ux.IconArrow)+" ")
}

func auditLine(r *improvement.ImprovementResult) string {
	if r.AuditEntries == 0 {
		return "disabled"
	}
	if r.AuditVerified {
		return fmt.Sprintf("%d entries, chain verified", r.AuditEntries)
	}
	return fmt.Sprintf("%d entries, chain BROKEN", r.AuditEntries)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
