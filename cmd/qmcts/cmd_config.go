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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/qmcts/services/quantum/improvement"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		sess.printer.Error(err.Error())
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	_, err := loadConfig()
	if err != nil {
		var cerr *mcts.ConfigurationError
		if errors.As(err, &cerr) {
			sess.printer.Error(fmt.Sprintf("%s: %s", cerr.Field, cerr.Reason))
		} else {
			sess.printer.Error(err.Error())
		}
		return err
	}

	source := "defaults"
	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			source = configPath
		} else {
			sess.printer.Warning(fmt.Sprintf("%s not found, using defaults", configPath))
		}
	}
	sess.printer.Success(fmt.Sprintf("configuration is valid (%s)", source))
	return nil
}

func runConfigEnv(_ *cobra.Command, _ []string) error {
	vars := improvement.EnvVars()
	rows := make([][]string, 0, len(vars))
	for _, v := range vars {
		value, set := os.LookupEnv(v)
		if !set {
			value = "-"
		}
		rows = append(rows, []string{v, value})
	}
	sess.printer.Table([]string{"variable", "value"}, rows)
	return nil
}
