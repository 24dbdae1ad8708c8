// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package committee

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

const (
	// maxSuggestions caps the suggestion list of a decision.
	maxSuggestions = 5

	// singleRespondentConfidence is used when fewer than two agents answered.
	singleRespondentConfidence = 0.5

	// steeringSuggestions is how many suggestions steer a stalled committee.
	steeringSuggestions = 3

	// dividedConfidence marks a committee as divided for steering.
	dividedConfidence = 0.5
)

// Aggregate combines agent evaluations into one decision.
//
// Description:
//
//	makes_progress is a strict majority of progress votes. overall blends
//	the mean objectives with w. confidence is 1 minus the population
//	standard deviation of per-agent overall scores, or 0.5 with fewer
//	than two respondents. In weighted mode every mean and the deviation
//	use role weights. Suggestions are the five most frequent, ties in
//	first-seen order. Dissent is the reasoning of agents voting against
//	the majority.
//
// Inputs:
//   - evals: Evaluations of the responding agents. May be empty.
//   - w: Objective weights.
//   - weighted: Use role weights.
//
// Outputs:
//   - ConsensusDecision: The neutral decision when evals is empty.
func Aggregate(evals []AgentEvaluation, w Weights, weighted bool) ConsensusDecision {
	if len(evals) == 0 {
		return NeutralDecision()
	}

	n := len(evals)
	alignment := make([]float64, n)
	quality := make([]float64, n)
	risk := make([]float64, n)
	overall := make([]float64, n)
	var roleWeights []float64
	if weighted {
		roleWeights = make([]float64, n)
	}

	votes, totalWeight := 0.0, 0.0
	for i, raw := range evals {
		e := raw.clamped()
		alignment[i], quality[i], risk[i] = e.Alignment, e.Quality, e.Risk
		overall[i] = e.Overall(w)
		wt := 1.0
		if weighted {
			wt = e.Role.Weight()
			roleWeights[i] = wt
		}
		totalWeight += wt
		if e.MakesProgress {
			votes += wt
		}
	}

	d := ConsensusDecision{
		MakesProgress: votes/totalWeight > 0.5,
		Alignment:     mcts.Clamp01(stat.Mean(alignment, roleWeights)),
		Quality:       mcts.Clamp01(stat.Mean(quality, roleWeights)),
		Risk:          mcts.Clamp01(stat.Mean(risk, roleWeights)),
		Respondents:   n,
	}
	d.OverallScore = mcts.Clamp01(w.Alignment*d.Alignment + w.Quality*d.Quality + w.Risk*d.Risk)

	if n < 2 {
		d.Confidence = singleRespondentConfidence
	} else {
		_, variance := stat.PopMeanVariance(overall, roleWeights)
		d.Confidence = mcts.Clamp01(1 - math.Sqrt(math.Max(variance, 0)))
	}

	d.Suggestions = topSuggestions(evals, maxSuggestions)
	for _, e := range evals {
		if e.MakesProgress != d.MakesProgress {
			d.Dissent = append(d.Dissent, dissentLine(e))
		}
	}
	return d
}

func dissentLine(e AgentEvaluation) string {
	reason := strings.TrimSpace(e.Reasoning)
	if reason == "" {
		reason = "no reasoning given"
	}
	return fmt.Sprintf("%s (%s): %s", e.AgentID, e.Role, reason)
}

// topSuggestions returns the k most frequent suggestions, ties broken by
// first appearance.
func topSuggestions(evals []AgentEvaluation, k int) []string {
	counts := make(map[string]int)
	var order []string
	for _, e := range evals {
		for _, s := range e.Suggestions {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, seen := counts[s]; !seen {
				order = append(order, s)
			}
			counts[s]++
		}
	}
	if len(order) == 0 {
		return nil
	}

	// Insertion sort keeps first-seen order among equal counts.
	sorted := make([]string, 0, len(order))
	for _, s := range order {
		i := len(sorted)
		for i > 0 && counts[sorted[i-1]] < counts[s] {
			i--
		}
		sorted = append(sorted, "")
		copy(sorted[i+1:], sorted[i:])
		sorted[i] = s
	}
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// Steering builds feedback for the next round from a decision.
//
// A stalled committee gets its top three suggestions; a divided one
// (confidence below 0.5) gets the dissent.
func Steering(d ConsensusDecision) []string {
	var out []string
	if !d.MakesProgress {
		for i, s := range d.Suggestions {
			if i == steeringSuggestions {
				break
			}
			out = append(out, "suggestion: "+s)
		}
	}
	if d.Respondents > 0 && d.Confidence < dividedConfidence {
		for _, s := range d.Dissent {
			out = append(out, "dissent: "+s)
		}
	}
	return out
}
