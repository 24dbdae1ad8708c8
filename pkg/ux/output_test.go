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
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"rich", LevelRich},
		{"", LevelRich},
		{"bogus", LevelRich},
		{"minimal", LevelMinimal},
		{"MIN", LevelMinimal},
		{"machine", LevelMachine},
		{" quiet ", LevelMachine},
		{"plain", LevelMachine},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestDetectLevel(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv(OutputEnv, "minimal")
		assert.Equal(t, LevelMinimal, DetectLevel(nil))
	})

	t.Run("not a terminal", func(t *testing.T) {
		t.Setenv(OutputEnv, "")
		f, err := os.CreateTemp(t.TempDir(), "out")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, LevelMachine, DetectLevel(f))
	})

	t.Run("nil file", func(t *testing.T) {
		t.Setenv(OutputEnv, "")
		assert.Equal(t, LevelMachine, DetectLevel(nil))
	})
}

func TestPrinter_Status(t *testing.T) {
	tests := []struct {
		level Level
		print func(*Printer)
		want  string
	}{
		{LevelMachine, func(p *Printer) { p.Success("done") }, "OK: done\n"},
		{LevelMachine, func(p *Printer) { p.Warning("careful") }, "WARN: careful\n"},
		{LevelMachine, func(p *Printer) { p.Error("broken") }, "ERROR: broken\n"},
		{LevelMachine, func(p *Printer) { p.Info("note") }, "note\n"},
		{LevelMachine, func(p *Printer) { p.Title("hidden") }, ""},
		{LevelMinimal, func(p *Printer) { p.Success("done") }, "✓ done\n"},
		{LevelMinimal, func(p *Printer) { p.Error("broken") }, "✗ broken\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+strings.TrimSpace(tt.want), func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(NewPrinter(&buf, tt.level))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelRich)
	p.Title("Run")
	p.Success("converged")
	p.Box("Summary", "all good")

	out := buf.String()
	assert.Contains(t, out, "Run")
	assert.Contains(t, out, "converged")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "all good")
	assert.Equal(t, LevelRich, p.Level())
	assert.Same(t, &buf, p.Writer())
}

func TestPrinter_KeyValues(t *testing.T) {
	rows := []KV{{"Run ID", "abc"}, {"Depths", "3"}}

	t.Run("machine", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelMachine).KeyValues(rows)
		assert.Equal(t, "run_id=abc\ndepths=3\n", buf.String())
	})

	t.Run("aligned", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelMinimal).KeyValues(rows)
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, strings.Index(lines[0], "abc"), strings.Index(lines[1], "3"))
	})
}

func TestPrinter_Table(t *testing.T) {
	headers := []string{"depth", "score"}
	rows := [][]string{{"1", "0.40"}, {"2", "0.55"}}

	t.Run("machine", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelMachine).Table(headers, rows)
		assert.Equal(t, "depth\tscore\n1\t0.40\n2\t0.55\n", buf.String())
	})

	t.Run("rich", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelRich).Table(headers, rows)
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "depth")
		assert.Contains(t, lines[2], "0.55")
	})
}

func TestPrinter_ProgressBar(t *testing.T) {
	assert.Equal(t, "0.500", NewPrinter(nil, LevelMachine).ProgressBar(0.5, 10))
	assert.Equal(t, "1.000", NewPrinter(nil, LevelMachine).ProgressBar(3, 10))

	bar := NewPrinter(nil, LevelRich).ProgressBar(0.5, 10)
	assert.Contains(t, bar, "50%")
	assert.Equal(t, 5, strings.Count(bar, "█"))
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
