// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package improvement runs the depth-bounded recursive improvement loop
// over the quantum-inspired search tree.
//
// # Lifecycle
//
//	Idle -> Running(depth) -> Converged | NoImprovement | MemoryPressure |
//	                          MaxDepthReached | DeadlineExceeded | Canceled
//
// Each depth runs one batch of select, expand, evaluate, backpropagate and
// entangle iterations, amplifies the promising part of the tree, then scores
// convergence and decides whether to continue. Deadline and resource limits
// are checked at depth boundaries only, so a run overruns them by at most
// one batch.
//
// # Thread Safety
//
// One Run at a time per Engine. Accessors may be called during a run.
package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/qmcts/services/quantum/committee"
	"github.com/AleutianAI/qmcts/services/quantum/convergence"
	"github.com/AleutianAI/qmcts/services/quantum/mcts"
	"github.com/AleutianAI/qmcts/services/quantum/mcts/entanglement"
)

const tracerName = "aleutian.quantum.improvement"

// Iteration outcomes.
const (
	outcomeEvaluated = "evaluated" // committee decision blended into the reward
	outcomeFallback  = "fallback"  // committee failed or was neutral, base reward used
	outcomeBase      = "base"      // no committee configured
	outcomeSkipped   = "skipped"   // action application failed
	outcomeFailed    = "failed"
)

// Evaluator scores one candidate action. *committee.Evaluator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, action, detail string) (committee.ConsensusDecision, error)
	AllBreakersOpen() bool
}

// StateDescriber may be implemented by a Domain to describe a state to
// the committee. Without it the state is formatted with %v.
type StateDescriber interface {
	DescribeState(state mcts.State) string
}

// Engine drives improvement runs.
type Engine struct {
	config    Config
	domain    mcts.Domain
	evaluator Evaluator
	store     ResultStore
	logger    *slog.Logger
	tracer    *mcts.Tracer
	spans     trace.Tracer
	strategy  mcts.SelectionStrategy

	tree        *mcts.Tree
	selector    *mcts.Selector
	expander    *mcts.Expander
	backprop    *mcts.Backpropagator
	entangle    *entanglement.Engine
	analyzer    *convergence.Analyzer
	degradation *mcts.DegradationManager
	permits     *semaphore.Weighted

	runMu sync.Mutex

	mu     sync.RWMutex
	state  State
	depth  int
	audit  *mcts.AuditLog
	budget *mcts.ResourceBudget
	report convergence.Report
	last   *ImprovementResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStore persists every finished run.
func WithStore(store ResultStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// NewEngine wires the tree, entanglement graph, analyzer and degradation
// manager around domain and evaluator.
//
// Inputs:
//   - config: Validated here.
//   - domain: Required.
//   - evaluator: Optional. nil scores every node with the domain base reward.
//
// Outputs:
//   - error: ErrNilDomain or a wrapped *mcts.ConfigurationError.
func NewEngine(config Config, domain mcts.Domain, evaluator Evaluator, opts ...Option) (*Engine, error) {
	if domain == nil {
		return nil, ErrNilDomain
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	strategy, err := mcts.ParseSelectionStrategy(config.Search.Strategy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:    config,
		domain:    domain,
		evaluator: evaluator,
		logger:    slog.Default(),
		strategy:  strategy,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.entangle, err = entanglement.NewEngine(config.Entanglement, entanglement.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.tree = mcts.NewTree(nil, mcts.WithSearchConfig(config.Search), mcts.WithTreeLogger(e.logger))
	e.selector = mcts.NewSelector(e.tree,
		mcts.WithEntanglementSource(e.entangle),
		mcts.WithStrategy(strategy),
		mcts.WithExploration(config.Search.ExplorationConstant, config.Search.EntanglementWeight),
	)
	e.expander, err = mcts.NewExpander(e.tree, domain, e.logger)
	if err != nil {
		return nil, err
	}
	e.backprop = mcts.NewBackpropagator(e.tree, e.entangle, config.Search.EntanglementPropagation)
	e.analyzer, err = convergence.NewAnalyzer(config.Convergence,
		convergence.WithHealthChecker(e.entangle),
		convergence.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}

	var probe func() bool
	if evaluator != nil {
		probe = evaluator.AllBreakersOpen
	}
	e.tracer = mcts.NewTracer(e.logger, config.Engine.Tracing)
	e.degradation = mcts.NewDegradationManager(config.Degradation, probe)
	e.degradation.OnChange(func(from, to mcts.DegradationLevel, reason string) {
		e.tracer.TraceDegradation(context.Background(), from, to, reason)
	})
	e.permits = semaphore.NewWeighted(int64(config.Engine.IterationConcurrency))

	if config.Engine.Tracing {
		e.spans = otel.Tracer(tracerName)
	} else {
		e.spans = noop.NewTracerProvider().Tracer(tracerName)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// State returns the lifecycle state: Idle before the first run, Running
// during one, and the termination reason of the last run afterwards.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Depth returns the depth being run, or the last depth run.
func (e *Engine) Depth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.depth
}

// LastResult returns the result of the last finished run, or nil.
func (e *Engine) LastResult() *ImprovementResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Run searches from initial until a terminal state.
//
// Outputs:
//   - *ImprovementResult: Always non-nil unless err is ErrAlreadyRunning.
//     Partial results are returned for every termination reason.
//   - error: ErrAlreadyRunning, or the context error when the run was
//     canceled.
func (e *Engine) Run(ctx context.Context, initial mcts.State) (*ImprovementResult, error) {
	if !e.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.runMu.Unlock()

	budget := mcts.NewResourceBudget(e.config.budgetConfig())
	e.reset(initial, budget)

	result := &ImprovementResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := e.logger.With(slog.String("run_id", result.RunID))

	ctx, span := e.spans.Start(ctx, "improvement.run",
		trace.WithAttributes(attribute.String("qmcts.run_id", result.RunID)))
	defer span.End()

	logger.Info("improvement run started",
		slog.Int("max_depth", e.config.Engine.RecursiveIterations),
		slog.Int("iterations_per_depth", e.config.Engine.IterationsPerDepth),
		slog.Duration("deadline", e.config.Engine.Deadline),
	)

	cfg := e.config.Engine
	var (
		prev     float64
		best     float64
		stagnant int
		reason   State
	)
	for depth := 1; ; depth++ {
		if reason = e.boundaryCheck(ctx, budget, logger); reason != "" {
			break
		}
		e.setDepth(depth)

		dr := e.runDepth(ctx, depth, prev, budget)
		dr.ImprovementDelta = dr.ConvergenceScore - prev
		result.History = append(result.History, dr)
		recordDepth(dr)

		LoggerWithTrace(ctx, logger).Info("depth completed",
			slog.Int("depth", depth),
			slog.Int("iterations", dr.IterationsCompleted),
			slog.Float64("convergence", dr.ConvergenceScore),
			slog.Float64("delta", dr.ImprovementDelta),
			slog.Int("amplified", dr.NodesAmplified),
			slog.Int("tree_size", dr.TreeSize),
			slog.String("trend", dr.Trend),
		)

		score := dr.ConvergenceScore
		if score > cfg.ConvergedScore {
			reason = StateConverged
			break
		}
		if score > best+cfg.MinImprovementDelta {
			stagnant = 0
		} else {
			stagnant++
		}
		best = max(best, score)
		if stagnant >= cfg.NoImprovementLimit && depth >= cfg.MinDepthForStagnation {
			reason = StateNoImprovement
			break
		}
		if depth >= cfg.RecursiveIterations {
			reason = StateMaxDepthReached
			break
		}
		prev = score
	}

	e.finish(ctx, result, reason, budget, logger)
	span.SetAttributes(
		attribute.String("qmcts.termination", string(reason)),
		attribute.Int("qmcts.depths", result.TotalDepths),
	)
	if reason == StateCanceled {
		span.SetStatus(codes.Error, "canceled")
		return result, ctx.Err()
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// LoggerWithTrace adds trace ids from ctx to logger.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	return mcts.LoggerWithTrace(ctx, logger)
}

func (e *Engine) reset(initial mcts.State, budget *mcts.ResourceBudget) {
	e.tree.Reset(initial)
	e.entangle.Clear()
	e.analyzer.Reset()
	e.degradation.Reset()
	e.selector.SetStrategy(e.strategy)

	var audit *mcts.AuditLog
	if e.config.Engine.AuditEntries > 0 {
		audit = mcts.NewAuditLog(e.config.Engine.AuditEntries)
	}

	e.mu.Lock()
	e.state = StateRunning
	e.depth = 0
	e.audit = audit
	e.budget = budget
	e.report = convergence.Report{}
	e.mu.Unlock()

	e.record(mcts.NewAuditEntry(mcts.AuditActionReset, e.tree.Root(), 0))
}

// boundaryCheck returns the terminal state to enter, or "" to continue.
func (e *Engine) boundaryCheck(ctx context.Context, budget *mcts.ResourceBudget, logger *slog.Logger) State {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return StateDeadlineExceeded
		}
		return StateCanceled
	}
	err := budget.Check(e.tree.Len(), e.memoryEstimate())
	if err == nil {
		return ""
	}
	logger.Warn("resource limit reached",
		slog.String("limit", budget.ExhaustedBy()),
		slog.Int("tree_size", e.tree.Len()),
		slog.String("budget", budget.String()),
	)
	if errors.Is(err, mcts.ErrTimeLimitExceeded) {
		return StateDeadlineExceeded
	}
	return StateMemoryPressure
}

func (e *Engine) setDepth(depth int) {
	e.mu.Lock()
	e.depth = depth
	e.mu.Unlock()
}

func (e *Engine) memoryEstimate() int64 {
	return e.tree.EstimatedBytes() + e.entangle.EstimatedBytes()
}

func (e *Engine) record(entry mcts.AuditEntry) {
	e.mu.RLock()
	audit := e.audit
	e.mu.RUnlock()
	if audit != nil {
		audit.Record(entry)
	}
}

// batch carries the shared state of one depth's iterations.
type batch struct {
	depth      int
	budget     *mcts.ResourceBudget
	stopExpand atomic.Bool

	completed atomic.Int64
	skipped   atomic.Int64
	created   atomic.Int64
	evaluated atomic.Int64
	fallbacks atomic.Int64
}

func (e *Engine) runDepth(ctx context.Context, depth int, prev float64, budget *mcts.ResourceBudget) DepthResult {
	start := time.Now()
	ctx, span := e.spans.Start(ctx, "improvement.depth",
		trace.WithAttributes(attribute.Int("qmcts.depth", depth)))
	defer span.End()

	b := e.runBatch(ctx, depth, budget)
	amp := e.amplify(ctx, depth, prev)
	report := e.analyzer.Analyze(e.tree, e.tree.Root())
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Int64("qmcts.iterations", b.completed.Load()),
		attribute.Float64("qmcts.convergence", report.Score),
		attribute.Int("qmcts.amplified", amp.NodesAmplified),
	)

	return DepthResult{
		Depth:                  depth,
		IterationsCompleted:    int(b.completed.Load()),
		IterationsSkipped:      int(b.skipped.Load()),
		NodesCreated:           int(b.created.Load()),
		NodesEvaluated:         int(b.evaluated.Load()),
		CommitteeFallbacks:     int(b.fallbacks.Load()),
		ConvergenceScore:       report.Score,
		AmplificationThreshold: amp.Threshold,
		AmplificationFactor:    amp.Factor,
		NodesAmplified:         amp.NodesAmplified,
		EdgesPruned:            amp.Optimization.Pruned + amp.Optimization.Dangling,
		TreeSize:               e.tree.Len(),
		MemoryUsage:            e.memoryEstimate(),
		Trend:                  string(e.analyzer.Trend()),
		Degradation:            e.degradation.Level().String(),
		Elapsed:                time.Since(start),
	}
}

// runBatch runs one depth's iterations, each holding one permit.
func (e *Engine) runBatch(ctx context.Context, depth int, budget *mcts.ResourceBudget) *batch {
	e.selector.SetStrategy(e.degradation.StrategyFor(e.strategy))
	n := e.degradation.BatchSize(e.config.Engine.IterationsPerDepth)
	b := &batch{depth: depth, budget: budget}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		if err := e.permits.Acquire(ctx, 1); err != nil {
			b.skipped.Add(int64(n - i))
			break
		}
		g.Go(func() error {
			defer e.permits.Release(1)
			e.runIteration(ctx, b, i)
			return nil
		})
	}
	_ = g.Wait()
	return b
}

func (e *Engine) runIteration(ctx context.Context, b *batch, i int) {
	start := time.Now()
	ctx, span := e.tracer.TraceIteration(ctx, b.depth, i)
	outcome, node, reward, err := e.iterate(ctx, span, b)
	e.tracer.EndIteration(span, node, reward, err)
	mcts.RecordIteration(ctx, outcome, reward, time.Since(start))
	recordIterationOutcome(outcome)

	switch outcome {
	case outcomeSkipped, outcomeFailed:
		b.skipped.Add(1)
	default:
		b.completed.Add(1)
	}
}

// iterate is one select, expand, evaluate, backpropagate, entangle pass.
func (e *Engine) iterate(ctx context.Context, span trace.Span, b *batch) (string, mcts.NodeID, float64, error) {
	path, err := e.selector.Descend(e.tree.Root())
	if err != nil {
		return outcomeFailed, mcts.InvalidNode, 0, fmt.Errorf("select: %w", err)
	}
	leaf := path[len(path)-1]
	e.tracer.TraceSelect(ctx, span, path)
	e.record(mcts.NewAuditEntry(mcts.AuditActionSelect, leaf, b.depth))

	target, expanded := leaf, false
	if !b.stopExpand.Load() {
		child, err := e.expander.Expand(ctx, leaf)
		switch {
		case err == nil:
			target, expanded = child, true
			b.created.Add(1)
			mcts.RecordNodeCreated(ctx)
			e.record(mcts.NewAuditEntry(mcts.AuditActionExpand, child, b.depth))
		case errors.Is(err, mcts.ErrTreeFull):
			// Raise the flag; the depth boundary turns it into MemoryPressure.
			b.stopExpand.Store(true)
			b.budget.SignalPressure()
			mcts.RecordExpandFailure(ctx, "tree_full")
		case errors.Is(err, mcts.ErrNotExpandable), errors.Is(err, mcts.ErrTerminalNode):
		case errors.Is(err, mcts.ErrActionApplication):
			mcts.RecordExpandFailure(ctx, "action_application")
			return outcomeSkipped, leaf, 0, err
		default:
			mcts.RecordExpandFailure(ctx, "error")
			return outcomeFailed, leaf, 0, fmt.Errorf("expand: %w", err)
		}
	}

	snap, ok := e.tree.Node(target)
	if !ok {
		return outcomeFailed, target, 0, mcts.ErrNodeNotFound
	}
	reward, objectives, outcome := e.score(ctx, snap)
	b.budget.RecordEvaluation()
	b.evaluated.Add(1)
	if outcome == outcomeFallback {
		b.fallbacks.Add(1)
	}
	e.record(mcts.NewAuditEntry(mcts.AuditActionEvaluate, target, b.depth).WithScore(reward).WithDetails(outcome))

	res, err := e.backprop.Backpropagate(target, mcts.Evidence{Reward: reward, Objectives: objectives})
	if err != nil {
		return outcomeFailed, target, reward, fmt.Errorf("backpropagate: %w", err)
	}
	mcts.RecordBackprop(ctx, res)
	e.record(mcts.NewAuditEntry(mcts.AuditActionBackprop, target, b.depth).
		WithScore(reward).
		WithDetails(fmt.Sprintf("path=%d partners=%d", res.PathLength, res.PartnersNudged)))

	if expanded {
		if _, err := e.entangle.EntangleNew(e.tree, target); err != nil {
			e.logger.Debug("entangle new node", slog.String("node", target.String()), slog.String("error", err.Error()))
		}
	}
	return outcome, target, reward, nil
}

// score evaluates one node. Committee failures and neutral decisions
// count against the degradation manager and fall back to the base reward.
func (e *Engine) score(ctx context.Context, snap mcts.NodeSnapshot) (float64, *mcts.ObjectiveScores, string) {
	base := mcts.Clamp01(e.domain.BaseReward(snap.State))
	if e.evaluator == nil {
		return base, nil, outcomeBase
	}

	d, err := e.evaluator.Evaluate(ctx, string(snap.Action), e.describe(snap))
	if err != nil || d.IsNeutral() {
		e.degradation.RecordFailure()
		if err != nil {
			LoggerWithTrace(ctx, e.logger).Debug("committee evaluation failed",
				slog.String("node", snap.ID.String()),
				slog.String("error", err.Error()))
		}
		return base, nil, outcomeFallback
	}
	e.degradation.RecordSuccess()
	obj := d.Objectives()
	return Reward(base, d, e.config.Engine.CommitteeRewardWeight), &obj, outcomeEvaluated
}

func (e *Engine) describe(snap mcts.NodeSnapshot) string {
	if d, ok := e.domain.(StateDescriber); ok {
		return d.DescribeState(snap.State)
	}
	return fmt.Sprintf("depth=%d state=%v", snap.Depth, snap.State)
}

// Reward blends the base reward with a committee decision:
// (1-w)*base + w*overall*(1 if progress else 0.5). Neutral decisions
// return base.
func Reward(base float64, d committee.ConsensusDecision, weight float64) float64 {
	base = mcts.Clamp01(base)
	if d.IsNeutral() {
		return base
	}
	progress := 0.5
	if d.MakesProgress {
		progress = 1
	}
	return mcts.Clamp01((1-weight)*base + weight*d.OverallScore*progress)
}

func (e *Engine) finish(ctx context.Context, result *ImprovementResult, reason State, budget *mcts.ResourceBudget, logger *slog.Logger) {
	result.FinishedAt = time.Now()
	result.TotalTime = result.FinishedAt.Sub(result.StartedAt)
	result.TerminationReason = reason
	result.Success = reason.Success()
	result.TotalDepths = len(result.History)
	for _, d := range result.History {
		result.BestConvergence = max(result.BestConvergence, d.ConvergenceScore)
	}
	if n := len(result.History); n > 0 {
		result.FinalConvergence = result.History[n-1].ConvergenceScore
	}
	result.MemoryPeak = max(budget.PeakBytes(), e.memoryEstimate())
	result.Evaluations = budget.Evaluations()

	if best, ok := e.tree.BestModification(); ok {
		result.BestAction = best.Action
		result.BestReward = best.AvgReward
	}
	for _, s := range e.tree.BestPathSnapshots(e.tree.Root()) {
		if !s.IsRoot() {
			result.BestPath = append(result.BestPath, s.Action)
		}
	}
	result.Statistics = e.tree.Statistics()

	e.mu.Lock()
	if e.audit != nil {
		result.AuditEntries = e.audit.Len()
		result.AuditVerified = e.audit.Verify()
	}
	e.state = reason
	e.last = result
	e.mu.Unlock()

	recordRun(result)
	logger.Info("improvement run finished",
		slog.String("reason", string(reason)),
		slog.Bool("success", result.Success),
		slog.Int("depths", result.TotalDepths),
		slog.Float64("final_convergence", result.FinalConvergence),
		slog.String("best_action", string(result.BestAction)),
		slog.Duration("elapsed", result.TotalTime),
	)

	if e.store != nil {
		if err := e.store.Save(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("save run result", slog.String("error", err.Error()))
		}
	}
}
