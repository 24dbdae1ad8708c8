// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, LevelInfo.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func newBufferLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	logger, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, &buf
}

func TestNew_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger, buf := newBufferLogger(t, Config{Format: FormatJSON, Service: "qmcts"})
		logger.Info("depth finished", "depth", 2)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "depth finished", rec["msg"])
		assert.Equal(t, "qmcts", rec["service"])
		assert.EqualValues(t, 2, rec["depth"])
	})

	t.Run("text", func(t *testing.T) {
		logger, buf := newBufferLogger(t, Config{Format: FormatText})
		logger.Warn("pressure", "nodes", 10)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "nodes=10")
	})

	t.Run("auto on a non-terminal writer is json", func(t *testing.T) {
		logger, buf := newBufferLogger(t, Config{})
		logger.Info("hello")
		assert.True(t, strings.HasPrefix(buf.String(), "{"))
	})
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Level: LevelWarn, Format: FormatText})
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	out := buf.String()
	assert.NotContains(t, out, "msg=d")
	assert.NotContains(t, out, "msg=i")
	assert.Contains(t, out, "msg=w")
	assert.Contains(t, out, "msg=e")
}

func TestLogger_WithAndSlog(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatText})
	child := logger.With("run_id", "abc")
	child.Info("started")
	logger.Slog().Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_id=abc")
	assert.NotContains(t, lines[1], "run_id")
}

func TestNew_Quiet(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Quiet: true})
	logger.Error("dropped")
	assert.Zero(t, buf.Len())
}

func TestNew_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var stderr bytes.Buffer
	logger, err := New(Config{LogDir: dir, Service: "qmcts", Format: FormatText, Output: &stderr})
	require.NoError(t, err)

	logger.Info("to both", "k", "v")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	name := "qmcts_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
	assert.Equal(t, "v", rec["k"])
	assert.Contains(t, stderr.String(), "msg=\"to both\"")
}

func TestNew_LogDirFailureKeepsStderr(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var buf bytes.Buffer
	logger, err := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf, Format: FormatText})
	require.Error(t, err)
	require.NotNil(t, logger)
	logger.Info("still here")
	assert.Contains(t, buf.String(), "still here")
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatJSON})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Info("tick", "worker", i, "n", j)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 80, strings.Count(buf.String(), "\n"))
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

type errorHandler struct{}

func (errorHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (errorHandler) Handle(context.Context, slog.Record) error { return errors.New("boom") }
func (h errorHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h errorHandler) WithGroup(string) slog.Handler           { return h }

func TestMultiHandler(t *testing.T) {
	var info, errOnly bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))

	l := slog.New(h.WithAttrs([]slog.Attr{slog.String("a", "1")}).WithGroup("g"))
	l.Info("only info", "x", 1)
	l.Error("both", "x", 2)

	assert.Contains(t, info.String(), "only info")
	assert.Contains(t, info.String(), "g.x=2")
	assert.NotContains(t, errOnly.String(), "only info")
	assert.Contains(t, errOnly.String(), "a=1")

	t.Run("errors are joined", func(t *testing.T) {
		var ok bytes.Buffer
		h := &multiHandler{handlers: []slog.Handler{errorHandler{}, slog.NewTextHandler(&ok, nil)}}
		r := slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)
		assert.Error(t, h.Handle(context.Background(), r))
		assert.Contains(t, ok.String(), "msg=m", "later handlers still run")
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".qmcts/logs"), expandPath("~/.qmcts/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}
