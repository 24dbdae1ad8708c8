// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package demo

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
)

// focus maps a reviewer role onto the knob it cares about most.
var focus = map[committee.AgentRole]string{
	committee.RolePerformance:   KnobWorkers,
	committee.RoleQuality:       KnobBatch,
	committee.RoleSecurity:      KnobCache,
	committee.RoleTesting:       KnobBatch,
	committee.RoleDocumentation: KnobCache,
}

// SimulatedAgent reviews tuning moves against the optimum it was given.
// Its opinion is deterministic for a given request, with a small
// per-agent jitter so that reviewers disagree at the margins.
type SimulatedAgent struct {
	id     string
	role   committee.AgentRole
	domain *TuningDomain
	jitter float64
}

// NewSimulatedAgent creates a reviewer. jitter bounds the per-request
// noise added to every score.
func NewSimulatedAgent(id string, role committee.AgentRole, domain *TuningDomain, jitter float64) *SimulatedAgent {
	return &SimulatedAgent{id: id, role: role, domain: domain, jitter: jitter}
}

// ID returns the agent id.
func (a *SimulatedAgent) ID() string { return a.id }

// Role returns the agent role.
func (a *SimulatedAgent) Role() committee.AgentRole { return a.role }

// Evaluate judges the move in req.Action given the resulting state in
// req.Context.
//
// Scores blend closeness to the optimum with whether the move improved
// the reviewer's focus knob. Steering from earlier rounds nudges the
// score toward the previous consensus.
func (a *SimulatedAgent) Evaluate(ctx context.Context, req committee.EvaluationRequest) (committee.AgentEvaluation, error) {
	if err := ctx.Err(); err != nil {
		return committee.AgentEvaluation{}, err
	}
	after, err := ParseKnobs(req.Context)
	if err != nil {
		return committee.AgentEvaluation{}, err
	}
	move, err := ParseMove(mcts.Action(req.Action))
	if err != nil {
		return committee.AgentEvaluation{}, err
	}

	before := after.with(move.Knob, after.get(move.Knob)-move.Delta)
	improved := a.domain.Distance(after) < a.domain.Distance(before)
	closeness := a.domain.BaseReward(after)

	knob, ok := focus[a.role]
	if !ok {
		knob = move.Knob
	}
	focusScore := 0.5
	if move.Knob == knob {
		focusScore = 0.3
		if improved {
			focusScore = 1
		}
	}

	noise := a.noise(req)
	score := mcts.Clamp01(0.6*closeness + 0.4*focusScore + noise)
	if req.Previous != nil {
		score = mcts.Clamp01(0.8*score + 0.2*req.Previous.OverallScore)
	}

	eval := committee.AgentEvaluation{
		AgentID:       a.id,
		Role:          a.role,
		Action:        req.Action,
		MakesProgress: improved,
		Alignment:     score,
		Quality:       mcts.Clamp01(closeness + noise),
		Risk:          mcts.Clamp01(score - 0.1*float64(after.Steps)/float64(max(a.domain.MaxSteps, 1))),
		Reasoning:     fmt.Sprintf("%s moved %s to %d (optimum distance %d)", a.role, move.Knob, after.get(move.Knob), a.domain.Distance(after)),
	}
	if target := a.domain.Optimum.get(knob); after.get(knob) != target {
		eval.Suggestions = []string{fmt.Sprintf("move %s toward %d", knob, target)}
	}
	return eval, nil
}

// noise is a deterministic value in [-jitter, jitter].
func (a *SimulatedAgent) noise(req committee.EvaluationRequest) float64 {
	if a.jitter == 0 {
		return 0
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d", a.id, req.Action, req.Context, req.Round)
	unit := float64(h.Sum64()%10001) / 10000
	return (2*unit - 1) * a.jitter
}

// roster is the role rotation for NewCommittee.
var roster = []committee.AgentRole{
	committee.RolePerformance,
	committee.RoleQuality,
	committee.RoleSecurity,
	committee.RoleTesting,
	committee.RoleDocumentation,
	committee.RoleGeneralist,
}

// NewCommittee creates n simulated agents cycling through the roles.
func NewCommittee(domain *TuningDomain, n int, jitter float64) []committee.Agent {
	agents := make([]committee.Agent, 0, n)
	for i := range n {
		role := roster[i%len(roster)]
		agents = append(agents, NewSimulatedAgent(fmt.Sprintf("%s-%d", role, i+1), role, domain, jitter))
	}
	return agents
}
