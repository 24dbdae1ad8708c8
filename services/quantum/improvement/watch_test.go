// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package improvement

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigWatcher_NoPath(t *testing.T) {
	_, err := NewConfigWatcher("", DefaultConfig())
	assert.ErrorIs(t, err, ErrNoConfigPath)
}

func TestConfigWatcher(t *testing.T) {
	path := writeConfig(t, "qmcts.yaml", "engine:\n  recursive_iterations: 4\n")
	initial, err := LoadConfig(path)
	require.NoError(t, err)

	w, err := NewConfigWatcher(path, initial, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	var notified atomic.Int64
	w.OnChange(func(c Config) {
		notified.Store(int64(c.Engine.RecursiveIterations))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.Equal(t, 4, w.Current().Engine.RecursiveIterations)

	t.Run("reloads valid change", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("engine:\n  recursive_iterations: 7\n"), 0o600))
		require.Eventually(t, func() bool {
			return w.Current().Engine.RecursiveIterations == 7
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(7), notified.Load())
		assert.GreaterOrEqual(t, w.Reloads(), int64(1))
	})

	t.Run("keeps last good config", func(t *testing.T) {
		before := w.Reloads()
		require.NoError(t, os.WriteFile(path, []byte("search:\n  strategy: random\n"), 0o600))
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, 7, w.Current().Engine.RecursiveIterations)
		assert.Equal(t, before, w.Reloads())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		w.Stop()
		w.Stop()
	})
}
