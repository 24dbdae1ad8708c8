// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTree(t *testing.T) {
	tree := NewTree("root")

	root, ok := tree.Node(tree.Root())
	require.True(t, ok)
	assert.True(t, root.IsRoot())
	assert.Equal(t, 1.0, root.Amplitude)
	assert.Equal(t, 0.0, root.Decoherence)
	assert.Equal(t, uint64(0), root.Visits)
	assert.Equal(t, 0.0, root.AvgReward)
	assert.Equal(t, NodeUnexplored, root.Status)
	assert.Equal(t, 1, tree.Len())
}

func TestTree_ExpandChild(t *testing.T) {
	t.Run("child inherits amplitude and decoherence", func(t *testing.T) {
		tree := NewTree("root")
		id, err := tree.ExpandChild(tree.Root(), "a", "root/a")
		require.NoError(t, err)

		child, ok := tree.Node(id)
		require.True(t, ok)
		assert.InDelta(t, 0.9, child.Amplitude, 1e-9)
		assert.InDelta(t, 0.01, child.Decoherence, 1e-9)
		assert.Equal(t, 1, child.Depth)
		assert.Equal(t, tree.Root(), child.Parent)

		grand, err := tree.ExpandChild(id, "b", "root/a/b")
		require.NoError(t, err)
		g, _ := tree.Node(grand)
		assert.InDelta(t, 0.81, g.Amplitude, 1e-9)
		assert.InDelta(t, 0.02, g.Decoherence, 1e-9)
	})

	t.Run("duplicate action rejected", func(t *testing.T) {
		tree := NewTree("root")
		_, err := tree.ExpandChild(tree.Root(), "a", "x")
		require.NoError(t, err)
		_, err = tree.ExpandChild(tree.Root(), "a", "y")
		assert.True(t, errors.Is(err, ErrDuplicateAction))
		assert.Equal(t, 2, tree.Len())
	})

	t.Run("tree full", func(t *testing.T) {
		tree := NewTree("root", WithMaxNodes(2))
		_, err := tree.ExpandChild(tree.Root(), "a", "x")
		require.NoError(t, err)
		_, err = tree.ExpandChild(tree.Root(), "b", "y")
		assert.True(t, errors.Is(err, ErrTreeFull))
		assert.True(t, tree.IsFull())
	})

	t.Run("unknown parent", func(t *testing.T) {
		tree := NewTree("root")
		_, err := tree.ExpandChild(42, "a", "x")
		assert.True(t, errors.Is(err, ErrNodeNotFound))
	})
}

func TestTree_RecordVisit(t *testing.T) {
	tests := []struct {
		name      string
		reward    float64
		wantAvg   float64
		wantAmp   float64
		wantTotal float64
	}{
		{"mid reward", 0.5, 0.5, 0.95, 0.5},
		{"reward above one clamped", 7, 1, 1.0, 1},
		{"negative reward clamped", -3, 0, 0.9, 0},
		{"NaN reward clamped", math.NaN(), 0, 0.9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree("root")
			require.NoError(t, tree.RecordVisit(tree.Root(), tt.reward))
			n, _ := tree.Node(tree.Root())
			assert.Equal(t, uint64(1), n.Visits)
			assert.InDelta(t, tt.wantAvg, n.AvgReward, 1e-9)
			assert.InDelta(t, tt.wantAmp, n.Amplitude, 1e-9)
			assert.InDelta(t, tt.wantTotal, n.CumulativeReward, 1e-9)
		})
	}

	t.Run("unknown node", func(t *testing.T) {
		tree := NewTree("root")
		assert.True(t, errors.Is(tree.RecordVisit(9, 1), ErrNodeNotFound))
	})
}

func TestTree_InvariantsUnderConcurrentVisits(t *testing.T) {
	tree := NewTree("root")
	ids := []NodeID{tree.Root()}
	for i := 0; i < 5; i++ {
		id, err := tree.ExpandChild(tree.Root(), Action(fmt.Sprintf("a%d", i)), i)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = tree.RecordVisit(ids[(w+i)%len(ids)], float64(i%13)/6.0-0.5)
			}
		}(w)
	}
	wg.Wait()

	var total uint64
	tree.Walk(func(n NodeSnapshot) bool {
		total += n.Visits
		assert.GreaterOrEqual(t, n.AvgReward, 0.0)
		assert.LessOrEqual(t, n.AvgReward, 1.0)
		assert.GreaterOrEqual(t, n.Amplitude, 0.0)
		assert.LessOrEqual(t, n.Amplitude, 1.0)
		if n.Visits == 0 {
			assert.Equal(t, 0.0, n.AvgReward)
		}
		return true
	})
	assert.Equal(t, uint64(8*200), total)
}

func TestTree_BestPath(t *testing.T) {
	t.Run("average reward wins over visit count", func(t *testing.T) {
		tree := NewTree("root")
		a, err := tree.ExpandChild(tree.Root(), "A", "A")
		require.NoError(t, err)
		b, err := tree.ExpandChild(tree.Root(), "B", "B")
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			require.NoError(t, tree.RecordVisit(a, 0.9))
		}
		require.NoError(t, tree.RecordVisit(b, 0.95))

		path := tree.BestPath(tree.Root())
		require.Len(t, path, 2)
		assert.Equal(t, b, path[1])

		best, ok := tree.BestModification()
		require.True(t, ok)
		assert.Equal(t, Action("B"), best.Action)
	})

	t.Run("unvisited children skipped", func(t *testing.T) {
		tree := NewTree("root")
		_, err := tree.ExpandChild(tree.Root(), "A", "A")
		require.NoError(t, err)
		assert.Equal(t, []NodeID{tree.Root()}, tree.BestPath(tree.Root()))
		_, ok := tree.BestModification()
		assert.False(t, ok)
	})

	t.Run("follows multiple levels", func(t *testing.T) {
		tree := NewTree("root")
		a, _ := tree.ExpandChild(tree.Root(), "A", "A")
		aa, _ := tree.ExpandChild(a, "AA", "AA")
		ab, _ := tree.ExpandChild(a, "AB", "AB")
		require.NoError(t, tree.RecordVisit(a, 0.5))
		require.NoError(t, tree.RecordVisit(aa, 0.2))
		require.NoError(t, tree.RecordVisit(ab, 0.8))

		snaps := tree.BestPathSnapshots(tree.Root())
		require.Len(t, snaps, 3)
		assert.Equal(t, Action("AB"), snaps[2].Action)
	})
}

func TestTree_StatisticsAndAccessors(t *testing.T) {
	tree := NewTree("root")
	a, _ := tree.ExpandChild(tree.Root(), "A", "A")
	b, _ := tree.ExpandChild(tree.Root(), "B", "B")
	c, _ := tree.ExpandChild(a, "C", "C")
	require.NoError(t, tree.RecordVisit(c, 1))

	stats := tree.Statistics()
	assert.Equal(t, 4, stats.TotalNodes)
	assert.Equal(t, 2, stats.MaxDepth)
	assert.Equal(t, uint64(1), stats.TotalVisits)
	assert.InDelta(t, 1.0, stats.MaxAmplitude, 1e-9)
	assert.Equal(t, 2, stats.LeafNodes)
	assert.Greater(t, stats.EstimatedBytes, int64(0))

	assert.ElementsMatch(t, []NodeID{a, b}, tree.NodesAtDepth(1))
	path, err := tree.PathToRoot(c)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{c, a, tree.Root()}, path)

	children := tree.Children(tree.Root())
	require.Len(t, children, 2)
	assert.Equal(t, Action("A"), children[0].Action)

	out := tree.Format(-1)
	assert.Contains(t, out, "root")
	assert.Contains(t, out, "C [visits=1")
	assert.NotContains(t, tree.Format(1), "C [")
}

func TestTree_Reset(t *testing.T) {
	tree := NewTree("root")
	_, _ = tree.ExpandChild(tree.Root(), "A", "A")
	tree.Reset("fresh")

	assert.Equal(t, 1, tree.Len())
	root, _ := tree.Node(tree.Root())
	assert.Equal(t, "fresh", root.State)
	assert.Empty(t, tree.NodesAtDepth(1))
}

func TestTree_Amplify(t *testing.T) {
	tree := NewTree("root")
	a, _ := tree.ExpandChild(tree.Root(), "A", "A")

	changed := tree.Amplify([]NodeID{tree.Root(), a, 99}, 1.5, 0.9)
	assert.Equal(t, 1, changed, "root is already at the cap")

	n, _ := tree.Node(a)
	assert.InDelta(t, 1.0, n.Amplitude, 1e-9)
	assert.InDelta(t, 0.009, n.Decoherence, 1e-9)
}
