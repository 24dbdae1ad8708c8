// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package committee scores candidate actions with a panel of agents.
//
// Each agent returns alignment, quality and risk scores plus a progress
// vote. Aggregate turns the answers into a ConsensusDecision whose
// confidence falls as the agents disagree. Agents that time out, fail or
// sit behind an open circuit breaker abstain; when nobody answers the
// decision is neutral.
//
// An Evaluator may run several rounds (initial, review, refine, finalize),
// feeding suggestions and dissent from one round into the next, and stops
// as soon as the committee is confident enough.
package committee
