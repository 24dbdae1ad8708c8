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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qmcts/services/quantum/api"
	"github.com/AleutianAI/qmcts/services/quantum/improvement"
)

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := sess.openStore()
	if err != nil {
		return err
	}
	results, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOutput {
		summaries := make([]api.RunSummary, 0, len(results))
		for _, r := range results {
			summaries = append(summaries, api.Summarize(r))
		}
		return writeJSON(cmd.OutOrStdout(), summaries)
	}

	if len(results) == 0 {
		sess.printer.Info("no runs stored yet")
		return nil
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		s := api.Summarize(r)
		rows = append(rows, []string{
			s.RunID,
			s.StartedAt.Local().Format(time.DateTime),
			string(s.TerminationReason),
			fmt.Sprint(s.TotalDepths),
			fmt.Sprintf("%.3f", s.FinalConvergence),
			orDash(s.BestAction),
			s.TotalTime,
		})
	}
	sess.printer.Table([]string{"run", "started", "termination", "depths", "convergence", "best action", "time"}, rows)
	return nil
}

func runHistoryGet(cmd *cobra.Command, args []string) error {
	store, err := sess.openStore()
	if err != nil {
		return err
	}
	result, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, improvement.ErrRunNotFound) {
		sess.printer.Error(fmt.Sprintf("no run with id %s", args[0]))
		return err
	}
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	printResult(sess.printer, result)
	printVerdict(sess.printer, result)
	return nil
}
