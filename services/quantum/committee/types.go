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
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// Sentinel errors for the committee package.
var (
	ErrEvaluationTimeout = errors.New("agent evaluation timed out")
	ErrEvaluationFailed  = errors.New("agent evaluation failed")
	ErrCircuitOpen       = errors.New("agent circuit breaker is open")
	ErrNoAgents          = errors.New("committee has no agents")
)

// AgentRole is the specialisation of a committee member.
type AgentRole int

const (
	RoleGeneralist AgentRole = iota
	RoleSecurity
	RolePerformance
	RoleQuality
	RoleTesting
	RoleDocumentation
)

var roleNames = [...]string{"generalist", "security", "performance", "quality", "testing", "documentation"}

// String returns the role name.
func (r AgentRole) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return "unknown"
	}
	return roleNames[r]
}

// Weight is the vote weight of the role in weighted mode.
func (r AgentRole) Weight() float64 {
	switch r {
	case RoleSecurity:
		return 1.2
	case RolePerformance:
		return 1.1
	case RoleTesting:
		return 0.8
	case RoleDocumentation:
		return 0.7
	default:
		return 1.0
	}
}

// ParseAgentRole converts a role name into an AgentRole.
func ParseAgentRole(s string) (AgentRole, error) {
	for i, name := range roleNames {
		if strings.EqualFold(s, name) {
			return AgentRole(i), nil
		}
	}
	return RoleGeneralist, mcts.NewConfigurationError("role", fmt.Sprintf("unknown role %q", s))
}

// Phase is the stage of a multi-round evaluation.
type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseReview   Phase = "review"
	PhaseRefine   Phase = "refine"
	PhaseFinalize Phase = "finalize"
)

// phaseFor maps a zero-based round onto a phase. The last of several
// rounds is always Finalize.
func phaseFor(round, maxRounds int) Phase {
	switch {
	case round == 0:
		return PhaseInitial
	case round == maxRounds-1:
		return PhaseFinalize
	case round == 1:
		return PhaseReview
	default:
		return PhaseRefine
	}
}

// EvaluationRequest is what every agent receives for one round.
type EvaluationRequest struct {
	Action  string `json:"action"`
	Context string `json:"context"`
	Round   int    `json:"round"`
	Phase   Phase  `json:"phase"`

	// Steering carries feedback from the previous round. Empty in round 0.
	Steering []string `json:"steering,omitempty"`

	// Previous is the decision of the previous round, nil in round 0.
	Previous *ConsensusDecision `json:"previous,omitempty"`
}

// AgentEvaluation is one agent's opinion of an action.
type AgentEvaluation struct {
	AgentID       string    `json:"agent_id"`
	Role          AgentRole `json:"role"`
	Action        string    `json:"action"`
	MakesProgress bool      `json:"makes_progress"`
	Alignment     float64   `json:"alignment"`
	Quality       float64   `json:"quality"`
	Risk          float64   `json:"risk"`
	Reasoning     string    `json:"reasoning"`
	Suggestions   []string  `json:"suggestions,omitempty"`
}

// clamped returns a copy with every score in [0, 1].
func (e AgentEvaluation) clamped() AgentEvaluation {
	e.Alignment = mcts.Clamp01(e.Alignment)
	e.Quality = mcts.Clamp01(e.Quality)
	e.Risk = mcts.Clamp01(e.Risk)
	return e
}

// Overall is the weighted score of this single evaluation.
func (e AgentEvaluation) Overall(w Weights) float64 {
	return mcts.Clamp01(w.Alignment*e.Alignment + w.Quality*e.Quality + w.Risk*e.Risk)
}

// Agent is one committee member. Implementations must honour ctx.
type Agent interface {
	ID() string
	Role() AgentRole
	Evaluate(ctx context.Context, req EvaluationRequest) (AgentEvaluation, error)
}

// ConsensusDecision is the aggregated committee verdict.
type ConsensusDecision struct {
	MakesProgress bool     `json:"makes_progress"`
	Confidence    float64  `json:"confidence"`
	OverallScore  float64  `json:"overall_score"`
	Alignment     float64  `json:"alignment"`
	Quality       float64  `json:"quality"`
	Risk          float64  `json:"risk"`
	Suggestions   []string `json:"improvement_suggestions,omitempty"`
	Dissent       []string `json:"dissenting_opinions,omitempty"`
	Respondents   int      `json:"respondents"`
	Abstained     int      `json:"abstained"`
	Rounds        int      `json:"rounds"`
	Phase         Phase    `json:"phase,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
}

// NeutralDecision is returned when no agent responded.
func NeutralDecision() ConsensusDecision {
	return ConsensusDecision{}
}

// clone returns d with its own copies of the slices.
func (d ConsensusDecision) clone() ConsensusDecision {
	d.Suggestions = slices.Clone(d.Suggestions)
	d.Dissent = slices.Clone(d.Dissent)
	return d
}

// IsNeutral reports whether no agent contributed to the decision.
func (d ConsensusDecision) IsNeutral() bool {
	return d.Respondents == 0
}

// Objectives returns the mean objective scores for multi-objective selection.
func (d ConsensusDecision) Objectives() mcts.ObjectiveScores {
	return mcts.ObjectiveScores{Alignment: d.Alignment, Quality: d.Quality, Risk: d.Risk}
}
