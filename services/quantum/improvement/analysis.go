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
	"fmt"
	"sort"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/convergence"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	"github.com/AleutianAI/qmcts/services/quantum/mcts/entanglement"
)

// Statistics is the engine-wide snapshot returned by GetStatistics.
type Statistics struct {
	State       State                     `json:"state"`
	Depth       int                       `json:"depth"`
	Tree        mcts.TreeStatistics       `json:"tree"`
	Topology    entanglement.Topology     `json:"topology"`
	Health      entanglement.HealthReport `json:"health"`
	Committee   *committee.Stats          `json:"committee,omitempty"`
	Degradation mcts.DegradationStatus    `json:"degradation"`
	Audit       *mcts.AuditSummary        `json:"audit,omitempty"`
	Budget      *mcts.UsageReport         `json:"budget,omitempty"`
}

// statsProvider is implemented by *committee.Evaluator.
type statsProvider interface {
	Stats() committee.Stats
}

// GetStatistics collects statistics from every component.
func (e *Engine) GetStatistics() Statistics {
	e.mu.RLock()
	s := Statistics{State: e.state, Depth: e.depth}
	audit, budget := e.audit, e.budget
	e.mu.RUnlock()

	s.Tree = e.tree.Statistics()
	s.Topology = e.entangle.AnalyzeNetworkTopology()
	s.Health = e.entangle.HealthCheck()
	s.Degradation = e.degradation.Status()
	if p, ok := e.evaluator.(statsProvider); ok {
		cs := p.Stats()
		s.Committee = &cs
	}
	if audit != nil {
		sum := audit.Summary()
		s.Audit = &sum
	}
	if budget != nil {
		r := budget.Report()
		s.Budget = &r
	}
	return s
}

// DepthProfile summarizes one tree level.
type DepthProfile struct {
	Depth     int     `json:"depth"`
	Nodes     int     `json:"nodes"`
	Visits    uint64  `json:"visits"`
	AvgReward float64 `json:"avg_reward"`
}

// TreeAnalysis is the structural report returned by GetTreeAnalysis.
type TreeAnalysis struct {
	Depths      []DepthProfile     `json:"depths"`
	BestPath    []mcts.Action      `json:"best_path"`
	Bottlenecks []Bottleneck       `json:"bottlenecks"`
	Convergence convergence.Report `json:"convergence"`
	Trend       convergence.Trend  `json:"trend"`
	Rendering   string             `json:"rendering"`
}

// GetTreeAnalysis profiles the tree by depth and lists its bottlenecks.
func (e *Engine) GetTreeAnalysis() TreeAnalysis {
	e.mu.RLock()
	report := e.report
	e.mu.RUnlock()

	a := TreeAnalysis{
		BestPath:    e.GetBestPath(),
		Bottlenecks: e.FindBottlenecks(),
		Convergence: report,
		Trend:       e.analyzer.Trend(),
		Rendering:   e.tree.Format(3),
	}

	byDepth := map[int]*DepthProfile{}
	rewardSum := map[int]float64{}
	e.tree.Walk(func(s mcts.NodeSnapshot) bool {
		p, ok := byDepth[s.Depth]
		if !ok {
			p = &DepthProfile{Depth: s.Depth}
			byDepth[s.Depth] = p
		}
		p.Nodes++
		p.Visits += s.Visits
		rewardSum[s.Depth] += s.CumulativeReward
		return true
	})
	for d, p := range byDepth {
		if p.Visits > 0 {
			p.AvgReward = rewardSum[d] / float64(p.Visits)
		}
		a.Depths = append(a.Depths, *p)
	}
	sort.Slice(a.Depths, func(i, j int) bool { return a.Depths[i].Depth < a.Depths[j].Depth })
	return a
}

// GetBestPath returns the actions along the path that follows, at each
// node, the child with the highest average reward.
func (e *Engine) GetBestPath() []mcts.Action {
	var path []mcts.Action
	for _, s := range e.tree.BestPathSnapshots(e.tree.Root()) {
		if !s.IsRoot() {
			path = append(path, s.Action)
		}
	}
	return path
}

// BestModification returns the root child with the highest average reward.
func (e *Engine) BestModification() (mcts.NodeSnapshot, bool) {
	return e.tree.BestModification()
}

// FormatTree renders the tree to maxDepth.
func (e *Engine) FormatTree(maxDepth int) string {
	return e.tree.Format(maxDepth)
}

// Severity ranks a bottleneck.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// BottleneckKind names a structural problem.
type BottleneckKind string

const (
	// A promising node the search has barely looked at.
	BottleneckHighRewardLowVisits BottleneckKind = "high_reward_low_visits"
	// A visited interior node with exactly one child.
	BottleneckSingleChild BottleneckKind = "single_child_chokepoint"
	// One child holds most of its parent's visits.
	BottleneckUnbalanced BottleneckKind = "unbalanced_branching"
	// A deep expandable node starved of visits.
	BottleneckUnderVisitedDeep BottleneckKind = "under_visited_deep"
	// A heavily visited node with a poor average.
	BottleneckLowRewardHighVisits BottleneckKind = "low_reward_high_visits"
)

// Bottleneck is one finding of FindBottlenecks.
type Bottleneck struct {
	Kind            BottleneckKind `json:"kind"`
	Node            mcts.NodeID    `json:"node"`
	Depth           int            `json:"depth"`
	Severity        Severity       `json:"severity"`
	Description     string         `json:"description"`
	SuggestedAction string         `json:"suggested_action"`
}

const (
	promisingReward   = 0.7
	poorReward        = 0.3
	unbalancedShare   = 0.8
	minVisitsForShare = 10
)

// FindBottlenecks scans the tree for structural problems, most severe
// first.
func (e *Engine) FindBottlenecks() []Bottleneck {
	return findBottlenecks(e.tree)
}

func findBottlenecks(tree *mcts.Tree) []Bottleneck {
	// Walk holds the tree read lock; collect first, inspect after.
	var snaps []mcts.NodeSnapshot
	tree.Walk(func(s mcts.NodeSnapshot) bool {
		snaps = append(snaps, s)
		return true
	})
	if len(snaps) == 0 {
		return nil
	}
	byID := make(map[mcts.NodeID]mcts.NodeSnapshot, len(snaps))
	var (
		out         []Bottleneck
		totalVisits uint64
		maxDepth    int
	)
	for _, s := range snaps {
		byID[s.ID] = s
		totalVisits += s.Visits
		maxDepth = max(maxDepth, s.Depth)
	}
	meanVisits := float64(totalVisits) / float64(len(snaps))

	for _, s := range snaps {
		switch {
		case !s.IsRoot() && s.Visits > 0 && s.AvgReward >= promisingReward && float64(s.Visits) < meanVisits/2:
			out = append(out, Bottleneck{
				Kind:            BottleneckHighRewardLowVisits,
				Node:            s.ID,
				Depth:           s.Depth,
				Severity:        SeverityHigh,
				Description:     fmt.Sprintf("avg reward %.2f with %d visits (mean %.1f)", s.AvgReward, s.Visits, meanVisits),
				SuggestedAction: "raise the exploration constant or the promise threshold bonus",
			})
		case !s.IsRoot() && s.AvgReward < poorReward && float64(s.Visits) > 2*meanVisits:
			out = append(out, Bottleneck{
				Kind:            BottleneckLowRewardHighVisits,
				Node:            s.ID,
				Depth:           s.Depth,
				Severity:        SeverityMedium,
				Description:     fmt.Sprintf("avg reward %.2f absorbed %d visits", s.AvgReward, s.Visits),
				SuggestedAction: "lower entanglement weight or switch to multi_objective selection",
			})
		}

		if len(s.Children) == 1 && !s.Expandable && !s.Terminal && s.Visits > 1 {
			out = append(out, Bottleneck{
				Kind:            BottleneckSingleChild,
				Node:            s.ID,
				Depth:           s.Depth,
				Severity:        SeverityMedium,
				Description:     "every path through this node takes the same action",
				SuggestedAction: "offer more actions from this state",
			})
		}

		if len(s.Children) > 1 && s.Visits >= minVisitsForShare {
			for _, cid := range s.Children {
				c := byID[cid]
				if share := float64(c.Visits) / float64(s.Visits); share > unbalancedShare {
					out = append(out, Bottleneck{
						Kind:            BottleneckUnbalanced,
						Node:            s.ID,
						Depth:           s.Depth,
						Severity:        SeverityLow,
						Description:     fmt.Sprintf("child %s holds %.0f%% of visits", c.ID, share*100),
						SuggestedAction: "raise the exploration constant",
					})
					break
				}
			}
		}

		if maxDepth >= 2 && s.Depth == maxDepth && s.Expandable && s.Visits <= 1 {
			out = append(out, Bottleneck{
				Kind:            BottleneckUnderVisitedDeep,
				Node:            s.ID,
				Depth:           s.Depth,
				Severity:        SeverityLow,
				Description:     "frontier node expanded but never revisited",
				SuggestedAction: "increase iterations per depth",
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].Node < out[j].Node
	})
	return out
}
