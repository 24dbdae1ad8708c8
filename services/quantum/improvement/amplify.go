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
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	"github.com/AleutianAI/qmcts/services/quantum/mcts/entanglement"
)

// maxAmplificationThreshold keeps the threshold reachable at high convergence.
const maxAmplificationThreshold = 0.95

// amplification reports one amplification pass.
type amplification struct {
	Threshold      float64
	Factor         float64
	Candidates     int
	NodesAmplified int
	Optimization   entanglement.OptimizationResult
}

// AmplificationThreshold is the avg reward a node needs to be boosted.
// It rises with the previous convergence score:
// min(promise * (1 + 0.5*prev), 0.95).
func AmplificationThreshold(promise, prev float64) float64 {
	return min(promise*(1+0.5*mcts.Clamp01(prev)), maxAmplificationThreshold)
}

// AmplificationFactor shrinks the boost as the tree converges:
// 1 + (base-1)*(1-prev), clamped to [1, upper].
func AmplificationFactor(base, upper, prev float64) float64 {
	f := 1 + (base-1)*(1-mcts.Clamp01(prev))
	return max(1, min(f, upper))
}

// promisingNodes returns visited non-root nodes at or above threshold,
// best first, capped at limit.
func promisingNodes(tree *mcts.Tree, threshold float64, limit int) []mcts.NodeSnapshot {
	if limit <= 0 {
		return nil
	}
	var out []mcts.NodeSnapshot
	tree.Walk(func(s mcts.NodeSnapshot) bool {
		if !s.IsRoot() && s.Visits > 0 && s.AvgReward >= threshold {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgReward != out[j].AvgReward {
			return out[i].AvgReward > out[j].AvgReward
		}
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// amplify boosts promising nodes and their ancestors, then decays and
// optimizes the entanglement graph and refreshes the bonus cache.
func (e *Engine) amplify(ctx context.Context, depth int, prev float64) amplification {
	cfg := e.config.Engine
	amp := amplification{
		Threshold: AmplificationThreshold(cfg.PromiseThreshold, prev),
		Factor:    AmplificationFactor(cfg.AmplificationFactor, cfg.MaxAmplification, prev),
	}

	candidates := promisingNodes(e.tree, amp.Threshold, cfg.MaxAmplifiedNodes)
	amp.Candidates = len(candidates)

	seen := make(map[mcts.NodeID]struct{}, len(candidates)*2)
	ids := make([]mcts.NodeID, 0, len(candidates)*2)
	for _, c := range candidates {
		path, err := e.tree.PathToRoot(c.ID)
		if err != nil {
			continue
		}
		for _, id := range path {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		amp.NodesAmplified = e.tree.Amplify(ids, amp.Factor, cfg.CoherenceGain)
	}

	e.entangle.Decay(cfg.EntanglementDecay)
	amp.Optimization = e.entangle.Optimize(e.tree)
	e.entangle.RefreshBonusCache(e.tree)

	e.record(mcts.NewAuditEntry(mcts.AuditActionAmplify, e.tree.Root(), depth).
		WithScore(amp.Factor).
		WithDetails(fmt.Sprintf("threshold=%.3f candidates=%d amplified=%d pruned=%d",
			amp.Threshold, amp.Candidates, amp.NodesAmplified, amp.Optimization.Pruned)))

	LoggerWithTrace(ctx, e.logger).Debug("amplification",
		slog.Int("depth", depth),
		slog.Float64("threshold", amp.Threshold),
		slog.Float64("factor", amp.Factor),
		slog.Int("candidates", amp.Candidates),
		slog.Int("amplified", amp.NodesAmplified),
		slog.Int("edges_pruned", amp.Optimization.Pruned),
		slog.Int("edges_remaining", amp.Optimization.Remaining),
	)
	return amp
}
