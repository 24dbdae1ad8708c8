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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const tracerName = "aleutian.quantum.committee"

// Stats are cumulative evaluator counters.
type Stats struct {
	Evaluations       int64 `json:"evaluations"`
	CacheHits         int64 `json:"cache_hits"`
	Rounds            int64 `json:"rounds"`
	AgentCalls        int64 `json:"agent_calls"`
	Abstentions       int64 `json:"abstentions"`
	Timeouts          int64 `json:"timeouts"`
	BreakerRejections int64 `json:"breaker_rejections"`
	NeutralDecisions  int64 `json:"neutral_decisions"`
}

// Evaluator runs the committee.
//
// Description:
//
//	Each round fans the request out to the agents through an errgroup.
//	Agent calls from every concurrent Evaluate share one semaphore sized
//	by the configured concurrency; excess calls wait for a free slot.
//	Every call has its own timeout, passes the agent's circuit breaker
//	and the optional rate limiter. Agents that fail, time out or are skipped abstain. Rounds
//	repeat with steering feedback until confidence reaches the consensus
//	threshold or the round limit is hit.
//
// Thread Safety: Safe for concurrent use.
type Evaluator struct {
	config   Config
	agents   []Agent
	logger   *slog.Logger
	tracer   trace.Tracer
	limiter  *rate.Limiter
	breakers *breakerSet
	cache    *decisionCache
	slots    *semaphore.Weighted
	inflight singleflight.Group
	now      func() time.Time

	flightsMu sync.Mutex
	flights   map[string]*flight

	evaluations       atomic.Int64
	cacheHits         atomic.Int64
	rounds            atomic.Int64
	agentCalls        atomic.Int64
	abstentions       atomic.Int64
	timeouts          atomic.Int64
	breakerRejections atomic.Int64
	neutral           atomic.Int64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracing enables OpenTelemetry spans per evaluation.
func WithTracing(enabled bool) Option {
	return func(e *Evaluator) {
		if enabled {
			e.tracer = otel.Tracer(tracerName)
		}
	}
}

// WithClock replaces time.Now for the circuit breakers.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator creates a committee.
//
// Inputs:
//   - config: Committee configuration.
//   - agents: Registered agents. The first AgentCount are consulted.
//   - opts: Optional configuration functions.
//
// Outputs:
//   - *Evaluator: Ready to use.
//   - error: *mcts.ConfigurationError for bad config, ErrNoAgents when
//     agents is empty.
func NewEvaluator(config Config, agents []Agent, opts ...Option) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("committee config: %w", err)
	}
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	if len(agents) > config.AgentCount {
		agents = agents[:config.AgentCount]
	}

	e := &Evaluator{
		config:  config,
		agents:  append([]Agent(nil), agents...),
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer(tracerName),
		slots:   semaphore.NewWeighted(int64(config.Concurrency)),
		now:     time.Now,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breakers = newBreakerSet(config.Breaker, e.now)

	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	if config.CacheTTLSeconds > 0 {
		cache, err := newDecisionCache(config.CacheMaxEntries, config.CacheTTL())
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Close releases the decision cache.
func (e *Evaluator) Close() {
	if e.cache != nil {
		e.cache.close()
	}
}

// Config returns the committee configuration.
func (e *Evaluator) Config() Config {
	return e.config
}

// Evaluate asks the committee about one action.
//
// Description:
//
//	Identical concurrent requests share one evaluation. The shared work
//	is not tied to any single caller: a caller that gives up returns
//	immediately, and the work is canceled once no caller is waiting.
//	Non-neutral decisions are cached for the configured TTL. Zero
//	respondents give the neutral decision with a nil error; only context
//	cancellation is returned as an error.
//
// Inputs:
//   - ctx: Ends this caller's wait. Agent calls stop once no caller waits.
//   - action: The candidate modification.
//   - detail: Free-form description of the state it applies to.
//
// Outputs:
//   - ConsensusDecision: The verdict.
//   - error: Wrapped ctx.Err() if the context ended.
func (e *Evaluator) Evaluate(ctx context.Context, action, detail string) (ConsensusDecision, error) {
	if err := ctx.Err(); err != nil {
		return NeutralDecision(), fmt.Errorf("committee evaluate: %w", err)
	}

	key := cacheKey(action, detail)
	if e.cache != nil {
		if d, ok := e.cache.get(key); ok {
			e.cacheHits.Add(1)
			recordCacheHit(ctx)
			d.Cached = true
			return d, nil
		}
	}

	f := e.join(ctx, key)
	defer e.leave(key, f)

	ch := e.inflight.DoChan(key, func() (any, error) {
		d, err := e.evaluateRounds(f.ctx, action, detail)
		if err == nil && e.cache != nil && !d.IsNeutral() {
			e.cache.put(key, d)
		}
		return d, err
	})
	select {
	case res := <-ch:
		return res.Val.(ConsensusDecision).clone(), res.Err
	case <-ctx.Done():
		return NeutralDecision(), fmt.Errorf("committee evaluate: %w", ctx.Err())
	}
}

// flight is the context shared by every caller waiting on one key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers a waiter for key. The first waiter creates the shared
// context, detached from its own cancellation but keeping its values.
func (e *Evaluator) join(ctx context.Context, key string) *flight {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	f, ok := e.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		e.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one cancels the shared work and makes
// the next caller start a fresh evaluation.
func (e *Evaluator) leave(key string, f *flight) {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if e.flights[key] == f {
		delete(e.flights, key)
		e.inflight.Forget(key)
	}
}

// evaluateRounds runs up to MaxRounds rounds with steering.
func (e *Evaluator) evaluateRounds(ctx context.Context, action, detail string) (ConsensusDecision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "committee.evaluate",
		trace.WithAttributes(
			attribute.String("committee.action", action),
			attribute.Int("committee.agents", len(e.agents)),
			attribute.Int("committee.max_rounds", e.config.MaxRounds),
		),
	)
	defer span.End()

	req := EvaluationRequest{Action: action, Context: detail}
	var decision ConsensusDecision
	for round := 0; round < e.config.MaxRounds; round++ {
		req.Round = round
		req.Phase = phaseFor(round, e.config.MaxRounds)

		evals := e.runRound(ctx, req)
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return NeutralDecision(), fmt.Errorf("committee round %d: %w", round, err)
		}

		decision = Aggregate(evals, e.config.Weights, e.config.Weighted)
		decision.Abstained = len(e.agents) - len(evals)
		decision.Rounds = round + 1
		decision.Phase = req.Phase
		e.rounds.Add(1)

		span.AddEvent("round", trace.WithAttributes(
			attribute.Int("committee.round", round),
			attribute.String("committee.phase", string(req.Phase)),
			attribute.Int("committee.respondents", decision.Respondents),
			attribute.Float64("committee.confidence", decision.Confidence),
		))

		if decision.IsNeutral() || decision.Confidence >= e.config.ConsensusThreshold {
			break
		}
		prev := decision
		req.Previous = &prev
		req.Steering = Steering(decision)
	}

	e.evaluations.Add(1)
	if decision.IsNeutral() {
		e.neutral.Add(1)
		e.logger.Warn("committee returned neutral decision",
			slog.String("action", action),
			slog.Int("abstained", decision.Abstained),
		)
	}
	span.SetAttributes(
		attribute.Bool("committee.makes_progress", decision.MakesProgress),
		attribute.Float64("committee.overall", decision.OverallScore),
		attribute.Int("committee.rounds", decision.Rounds),
	)
	recordEvaluation(ctx, decision, time.Since(start))
	return decision, nil
}

// runRound calls every agent once and returns the evaluations of those
// that answered, in agent order.
func (e *Evaluator) runRound(ctx context.Context, req EvaluationRequest) []AgentEvaluation {
	results := make([]*AgentEvaluation, len(e.agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range e.agents {
		g.Go(func() error {
			eval, err := e.callAgent(gctx, agent, req)
			if err != nil {
				e.abstain(gctx, agent, err)
				return nil
			}
			results[i] = &eval
			return nil
		})
	}
	// Agent errors are non-fatal.
	_ = g.Wait()

	out := make([]AgentEvaluation, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// callAgent performs one guarded agent call.
func (e *Evaluator) callAgent(ctx context.Context, agent Agent, req EvaluationRequest) (AgentEvaluation, error) {
	br := e.breakers.get(agent.ID())
	allowed, release := br.Allow()
	if !allowed {
		return AgentEvaluation{}, fmt.Errorf("agent %s: %w", agent.ID(), ErrCircuitOpen)
	}
	if release != nil {
		defer release()
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return AgentEvaluation{}, fmt.Errorf("agent %s waiting for slot: %w", agent.ID(), err)
	}
	defer e.slots.Release(1)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return AgentEvaluation{}, fmt.Errorf("agent %s rate limit: %w", agent.ID(), err)
		}
	}

	e.agentCalls.Add(1)
	actx, cancel := context.WithTimeout(ctx, e.config.AgentTimeout())
	defer cancel()

	type outcome struct {
		eval AgentEvaluation
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		eval, err := agent.Evaluate(actx, req)
		done <- outcome{eval, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-actx.Done():
		res.err = actx.Err()
	}

	switch {
	case res.err == nil:
		br.RecordSuccess()
		eval := res.eval.clamped()
		eval.AgentID = agent.ID()
		eval.Role = agent.Role()
		eval.Action = req.Action
		return eval, nil
	case ctx.Err() != nil:
		// The caller went away; not the agent's fault.
		return AgentEvaluation{}, fmt.Errorf("agent %s: %w", agent.ID(), ctx.Err())
	case errors.Is(res.err, context.DeadlineExceeded):
		br.RecordFailure()
		return AgentEvaluation{}, fmt.Errorf("agent %s after %v: %w", agent.ID(), e.config.AgentTimeout(), ErrEvaluationTimeout)
	default:
		br.RecordFailure()
		return AgentEvaluation{}, fmt.Errorf("agent %s: %w: %w", agent.ID(), ErrEvaluationFailed, res.err)
	}
}

// abstain logs and meters an agent that did not answer.
func (e *Evaluator) abstain(ctx context.Context, agent Agent, err error) {
	e.abstentions.Add(1)
	reason := "error"
	switch {
	case errors.Is(err, ErrEvaluationTimeout):
		reason = "timeout"
		e.timeouts.Add(1)
	case errors.Is(err, ErrCircuitOpen):
		reason = "circuit_open"
		e.breakerRejections.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "canceled"
	}
	recordAbstention(ctx, agent.Role(), reason)
	e.logger.Debug("agent abstained",
		slog.String("agent", agent.ID()),
		slog.String("role", agent.Role().String()),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// Stats returns cumulative counters.
func (e *Evaluator) Stats() Stats {
	return Stats{
		Evaluations:       e.evaluations.Load(),
		CacheHits:         e.cacheHits.Load(),
		Rounds:            e.rounds.Load(),
		AgentCalls:        e.agentCalls.Load(),
		Abstentions:       e.abstentions.Load(),
		Timeouts:          e.timeouts.Load(),
		BreakerRejections: e.breakerRejections.Load(),
		NeutralDecisions:  e.neutral.Load(),
	}
}

// BreakerStats returns one snapshot per agent that has been called.
func (e *Evaluator) BreakerStats() []BreakerStats {
	return e.breakers.stats()
}

// AllBreakersOpen reports whether every agent is currently skipped. It is
// the check used by the degradation manager.
func (e *Evaluator) AllBreakersOpen() bool {
	for _, a := range e.agents {
		if e.breakers.get(a.ID()).State() != BreakerOpen {
			return false
		}
	}
	return true
}

// Reset closes every breaker and empties the cache.
func (e *Evaluator) Reset() {
	e.breakers.reset()
	if e.cache != nil {
		e.cache.clear()
	}
}
