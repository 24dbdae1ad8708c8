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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// skewedTree builds:
//
//	root (32 visits, 0.5)
//	├── a  (30 visits, 0.1)
//	│   └── a1 (1 visit, 0.5)
//	├── b  (1 visit, 0.9)
//	├── c
//	└── d
type skewedTree struct {
	tree              *mcts.Tree
	root, a, b, c, a1 mcts.NodeID
}

func buildSkewedTree(t *testing.T) skewedTree {
	t.Helper()
	tree := mcts.NewTree("")
	s := skewedTree{tree: tree, root: tree.Root()}

	var err error
	s.a, err = tree.ExpandChild(s.root, "a", "/a")
	require.NoError(t, err)
	s.b, err = tree.ExpandChild(s.root, "b", "/b")
	require.NoError(t, err)
	s.c, err = tree.ExpandChild(s.root, "c", "/c")
	require.NoError(t, err)
	_, err = tree.ExpandChild(s.root, "d", "/d")
	require.NoError(t, err)
	s.a1, err = tree.ExpandChild(s.a, "a1", "/a/a1")
	require.NoError(t, err)

	visit := func(id mcts.NodeID, n int, reward float64) {
		for range n {
			require.NoError(t, tree.RecordVisit(id, reward))
		}
	}
	visit(s.root, 32, 0.5)
	visit(s.a, 30, 0.1)
	visit(s.b, 1, 0.9)
	visit(s.a1, 1, 0.5)
	return s
}

func TestAmplificationThreshold(t *testing.T) {
	tests := []struct {
		name          string
		promise, prev float64
		want          float64
	}{
		{"no convergence", 0.6, 0, 0.6},
		{"full convergence", 0.6, 1, 0.9},
		{"capped", 0.8, 1, 0.95},
		{"prev clamped", 0.6, 2, 0.9},
		{"half", 0.6, 0.5, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AmplificationThreshold(tt.promise, tt.prev), 1e-9)
		})
	}
}

func TestAmplificationFactor(t *testing.T) {
	tests := []struct {
		name              string
		base, upper, prev float64
		want              float64
	}{
		{"no convergence", 1.2, 2, 0, 1.2},
		{"full convergence", 1.2, 2, 1, 1},
		{"half", 1.2, 2, 0.5, 1.1},
		{"capped", 3, 2, 0, 2},
		{"never below one", 1, 2, 0.3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AmplificationFactor(tt.base, tt.upper, tt.prev), 1e-9)
		})
	}
}

func TestPromisingNodes(t *testing.T) {
	s := buildSkewedTree(t)

	t.Run("ordered by reward", func(t *testing.T) {
		got := promisingNodes(s.tree, 0.4, 10)
		require.Len(t, got, 2)
		assert.Equal(t, s.b, got[0].ID)
		assert.Equal(t, s.a1, got[1].ID)
	})

	t.Run("limit", func(t *testing.T) {
		got := promisingNodes(s.tree, 0.4, 1)
		require.Len(t, got, 1)
		assert.Equal(t, s.b, got[0].ID)
	})

	t.Run("root and unvisited excluded", func(t *testing.T) {
		for _, n := range promisingNodes(s.tree, 0, 10) {
			assert.False(t, n.IsRoot())
			assert.Positive(t, n.Visits)
		}
	})

	t.Run("zero limit", func(t *testing.T) {
		assert.Empty(t, promisingNodes(s.tree, 0, 0))
	})
}

func TestFindBottlenecks(t *testing.T) {
	s := buildSkewedTree(t)

	got := findBottlenecks(s.tree)
	require.Len(t, got, 4)

	assert.Equal(t, BottleneckHighRewardLowVisits, got[0].Kind)
	assert.Equal(t, s.b, got[0].Node)
	assert.Equal(t, SeverityHigh, got[0].Severity)

	assert.Equal(t, BottleneckLowRewardHighVisits, got[1].Kind)
	assert.Equal(t, s.a, got[1].Node)
	assert.Equal(t, SeverityMedium, got[1].Severity)

	assert.Equal(t, BottleneckUnbalanced, got[2].Kind)
	assert.Equal(t, s.root, got[2].Node)

	assert.Equal(t, BottleneckUnderVisitedDeep, got[3].Kind)
	assert.Equal(t, s.a1, got[3].Node)

	for _, b := range got {
		assert.NotEmpty(t, b.Description)
		assert.NotEmpty(t, b.SuggestedAction)
	}
}

func TestFindBottlenecks_FreshTree(t *testing.T) {
	assert.Empty(t, findBottlenecks(mcts.NewTree("")))
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(Bottleneck{Kind: BottleneckSingleChild, Severity: SeverityMedium})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"medium"`)
	assert.Equal(t, "unknown", Severity(0).String())

	var b Bottleneck
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, SeverityMedium, b.Severity)
	assert.Error(t, json.Unmarshal([]byte(`{"severity":"dire"}`), &b))
}

func TestEngineAnalysis(t *testing.T) {
	e := newTestEngine(t, testConfig(), newPathDomain(20, "a", "b", "c"), nil)
	result, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	t.Run("statistics", func(t *testing.T) {
		stats := e.GetStatistics()
		assert.Equal(t, StateMaxDepthReached, stats.State)
		assert.Equal(t, 3, stats.Depth)
		assert.Equal(t, result.Statistics.TotalNodes, stats.Tree.TotalNodes)
		assert.Nil(t, stats.Committee)
		require.NotNil(t, stats.Audit)
		assert.Equal(t, result.AuditEntries, stats.Audit.TotalEntries)
		require.NotNil(t, stats.Budget)
		assert.Equal(t, result.Evaluations, stats.Budget.Evaluations)
		assert.Equal(t, "normal", stats.Degradation.Level)
	})

	t.Run("tree analysis", func(t *testing.T) {
		a := e.GetTreeAnalysis()
		require.NotEmpty(t, a.Depths)
		assert.Equal(t, 0, a.Depths[0].Depth)
		assert.Equal(t, 1, a.Depths[0].Nodes)

		total := 0
		for i, d := range a.Depths {
			total += d.Nodes
			if i > 0 {
				assert.Greater(t, d.Depth, a.Depths[i-1].Depth)
			}
		}
		assert.Equal(t, result.Statistics.TotalNodes, total)
		assert.Equal(t, result.BestPath, a.BestPath)
		assert.Equal(t, result.FinalConvergence, a.Convergence.Score)
		assert.NotEmpty(t, a.Rendering)
	})

	t.Run("best modification", func(t *testing.T) {
		best, ok := e.BestModification()
		require.True(t, ok)
		assert.Equal(t, result.BestAction, best.Action)
		assert.Equal(t, e.GetBestPath(), result.BestPath)
	})
}
