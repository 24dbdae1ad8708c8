// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package convergence scores how settled a search tree is and classifies
// the direction of successive scores.
package convergence

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	"github.com/AleutianAI/qmcts/services/quantum/mcts/entanglement"
)

// TreeView is the part of the tree the analyzer reads.
type TreeView interface {
	Children(id mcts.NodeID) []mcts.NodeSnapshot
	BestPathSnapshots(root mcts.NodeID) []mcts.NodeSnapshot
}

// HealthChecker reports entanglement network health.
//
// *entanglement.Engine satisfies it.
type HealthChecker interface {
	HealthCheck() entanglement.HealthReport
}

// Report breaks a convergence score into its terms.
type Report struct {
	Score           float64 `json:"score"`
	QualityFraction float64 `json:"quality_fraction"`
	Stability       float64 `json:"stability"`
	Health          float64 `json:"health"`
	HealthIncluded  bool    `json:"health_included"`
	BestPathScore   float64 `json:"best_path_score"`
	Samples         int     `json:"samples"`
}

// Analyzer computes convergence scores and keeps the history behind
// stability and Trend.
//
// Thread Safety: Safe for concurrent use.
type Analyzer struct {
	config Config
	health HealthChecker
	logger *slog.Logger

	mu      sync.Mutex
	window  []float64
	history []float64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithHealthChecker adds the network health term.
func WithHealthChecker(h HealthChecker) Option {
	return func(a *Analyzer) {
		a.health = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an analyzer.
//
// Outputs:
//   - error: *mcts.ConfigurationError if config is invalid.
func NewAnalyzer(config Config, opts ...Option) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("convergence config: %w", err)
	}
	a := &Analyzer{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CheckConvergence returns the convergence score of the tree in [0, 1].
//
// Description:
//
//	score = 0.4*quality_fraction + 0.4*stability + 0.2*health with the
//	default weights. The health term is dropped and the other weights
//	renormalised when there is no health checker or the network has no
//	edges. Each call records one best-path sample and one score.
func (a *Analyzer) CheckConvergence(tree TreeView, root mcts.NodeID) float64 {
	return a.Analyze(tree, root).Score
}

// Analyze is CheckConvergence returning every term.
func (a *Analyzer) Analyze(tree TreeView, root mcts.NodeID) Report {
	r := Report{
		QualityFraction: qualityFraction(tree.Children(root), a.config.QualityBar),
		BestPathScore:   bestPathScore(tree.BestPathSnapshots(root)),
	}

	// Health is read before the analyzer lock; the engine has its own.
	if a.health != nil {
		h := a.health.HealthCheck()
		if h.Topology.EdgeCount > 0 {
			r.Health = h.Score
			r.HealthIncluded = true
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = appendBounded(a.window, r.BestPathScore, a.config.Window)
	r.Samples = len(a.window)
	r.Stability = stability(a.window)

	c := a.config
	if r.HealthIncluded {
		r.Score = c.QualityWeight*r.QualityFraction + c.StabilityWeight*r.Stability + c.HealthWeight*r.Health
	} else {
		r.Score = (c.QualityWeight*r.QualityFraction + c.StabilityWeight*r.Stability) /
			(c.QualityWeight + c.StabilityWeight)
	}
	r.Score = mcts.Clamp01(r.Score)
	a.history = appendBounded(a.history, r.Score, c.HistoryLimit)

	a.logger.Debug("convergence checked",
		slog.Float64("score", r.Score),
		slog.Float64("quality_fraction", r.QualityFraction),
		slog.Float64("stability", r.Stability),
		slog.Bool("health_included", r.HealthIncluded),
	)
	return r
}

// Trend classifies the recorded convergence scores.
func (a *Analyzer) Trend() Trend {
	a.mu.Lock()
	samples := append([]float64(nil), a.history...)
	a.mu.Unlock()
	return ClassifyTrend(samples, a.config.VolatileCV, a.config.TrendBand)
}

// History returns the recorded convergence scores, oldest first.
func (a *Analyzer) History() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.history...)
}

// Reset forgets every sample.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = nil
	a.history = nil
}

// qualityFraction is the share of visited children at or above bar.
func qualityFraction(children []mcts.NodeSnapshot, bar float64) float64 {
	visited, good := 0, 0
	for _, c := range children {
		if c.Visits == 0 {
			continue
		}
		visited++
		if c.AvgReward >= bar {
			good++
		}
	}
	if visited == 0 {
		return 0
	}
	return float64(good) / float64(visited)
}

// bestPathScore is the mean avg reward along the best path below the
// root, or the root's own average when nothing below it was visited.
func bestPathScore(path []mcts.NodeSnapshot) float64 {
	switch len(path) {
	case 0:
		return 0
	case 1:
		return path[0].AvgReward
	}
	scores := make([]float64, 0, len(path)-1)
	for _, n := range path[1:] {
		scores = append(scores, n.AvgReward)
	}
	return stat.Mean(scores, nil)
}

// stability is clamp(1 - CV), 0 with fewer than two samples or when no
// reward has been seen yet.
func stability(window []float64) float64 {
	if len(window) < 2 || stat.Mean(window, nil) == 0 {
		return 0
	}
	return mcts.Clamp01(1 - coefficientOfVariation(window))
}

func appendBounded(s []float64, v float64, limit int) []float64 {
	s = append(s, v)
	if len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}
