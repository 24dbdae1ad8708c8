// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// OutputEnv selects the output level when no flag is given.
const OutputEnv = "QMCTS_OUTPUT"

// Level controls how rich CLI output is.
type Level string

const (
	// LevelRich uses colors, icons and boxes.
	LevelRich Level = "rich"

	// LevelMinimal uses icons and plain text.
	LevelMinimal Level = "minimal"

	// LevelMachine prints tab separated plain text for scripts.
	LevelMachine Level = "machine"
)

// ParseLevel converts a flag value. Unknown values are LevelRich.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "quiet", "q", "plain":
		return LevelMachine
	default:
		return LevelRich
	}
}

// DetectLevel picks a level from QMCTS_OUTPUT, falling back to
// LevelMachine when f is not a terminal.
func DetectLevel(f *os.File) Level {
	if env := os.Getenv(OutputEnv); env != "" {
		return ParseLevel(env)
	}
	if f == nil || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return LevelMachine
	}
	return LevelRich
}
