// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithms

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/stream"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

// minSolveTime is the planner time granted after the budget is spent, so
// that Exhaustive can still make its final call.
const minSolveTime = 100 * time.Millisecond

// run carries the budget, counters and telemetry of one algorithm run.
//
// Thread Safety: Not safe for concurrent use.
type run struct {
	s         *Solver
	algorithm string
	id        string
	problem   *tamp.Problem

	start    time.Time
	deadline time.Time

	iteration int
	epoch     int
	seq       int
	stats     Stats

	logger *slog.Logger
	span   trace.Span
}

// begin starts a run and its span.
func (s *Solver) begin(ctx context.Context, algorithm string, problem *tamp.Problem) (*run, context.Context, error) {
	if s.planner == nil {
		return nil, ctx, ErrNoPlanner
	}
	r := &run{
		s:         s,
		algorithm: algorithm,
		id:        uuid.NewString(),
		problem:   problem,
		start:     time.Now(),
		epoch:     1,
	}
	if s.maxTime > 0 {
		r.deadline = r.start.Add(s.maxTime)
	}
	if d, ok := ctx.Deadline(); ok && (r.deadline.IsZero() || d.Before(r.deadline)) {
		r.deadline = d
	}
	ctx, r.span = s.tracer.startRun(ctx, algorithm, r.id, s.maxCost)
	r.logger = LoggerWithTrace(ctx, s.logger).With(
		slog.String("algorithm", algorithm),
		slog.String("run_id", r.id),
	)
	r.logger.Info("run started",
		slog.String("planner", s.planner.Name()),
		slog.Int("streams", len(problem.Streams)),
		slog.Duration("max_time", s.maxTime),
	)
	r.record(ctx, Event{Kind: EventStart})
	return r, ctx, nil
}

// expired reports whether the budget is spent or ctx is done.
func (r *run) expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return !r.deadline.IsZero() && !time.Now().Before(r.deadline)
}

// remaining returns the time left, 0 meaning unlimited.
func (r *run) remaining() time.Duration {
	if r.deadline.IsZero() {
		return 0
	}
	left := time.Until(r.deadline)
	if left < minSolveTime {
		return minSolveTime
	}
	return left
}

// nextIteration counts an iteration and opens its span.
func (r *run) nextIteration(ctx context.Context, attrs ...any) (context.Context, trace.Span) {
	r.iteration++
	r.stats.Iterations++
	iterationsTotal.WithLabelValues(r.algorithm).Inc()
	r.logger.Debug("iteration",
		append([]any{
			slog.Int("iteration", r.iteration),
			slog.Int("epoch", r.epoch),
			slog.Duration("elapsed", time.Since(r.start)),
		}, attrs...)...)
	r.record(ctx, Event{Kind: EventIteration})
	return r.s.tracer.startIteration(ctx, r.iteration, r.epoch)
}

// nextEpoch counts a reset.
func (r *run) nextEpoch(ctx context.Context, disabled int) {
	r.epoch++
	r.stats.Epochs++
	epochsTotal.WithLabelValues(r.algorithm).Inc()
	r.logger.Debug("epoch reset", slog.Int("epoch", r.epoch), slog.Int("disabled", disabled))
	r.record(ctx, Event{Kind: EventReset})
}

// fail wraps err for the run.
func (r *run) fail(op string, err error) error {
	var ae *AlgorithmError
	if errors.As(err, &ae) {
		return err
	}
	return &AlgorithmError{Algorithm: r.algorithm, Operation: op, Err: err}
}

// -----------------------------------------------------------------------------
// Planner calls
// -----------------------------------------------------------------------------

// plannerBound converts a bound on replayed plan cost into a bound on
// operator cost by removing the objective's initial value.
func plannerBound(u *universe.Universe, cost float64) float64 {
	if math.IsInf(cost, 1) {
		return cost
	}
	obj := u.Problem().Objective
	if obj == nil {
		return cost
	}
	if l, ok := u.Evaluations().Lookup(*obj); ok {
		if n, ok := model.Number(l.Value()); ok {
			return cost - n
		}
	}
	return cost
}

// solve asks the planner for a plan over u cheaper than maxCost.
func (r *run) solve(ctx context.Context, u *universe.Universe, maxCost float64) (tamp.Plan, error) {
	opts := planner.Options{
		Search:  r.s.search,
		MaxTime: r.remaining(),
		MaxCost: plannerBound(u, maxCost),
		Verbose: r.s.verbose,
	}
	req, err := u.Request(opts, planner.WantsPDDL(r.s.planner))
	if err != nil {
		return nil, r.fail("compile", err)
	}
	sol, err := r.call(ctx, r.s.planner, req)
	if err != nil {
		return nil, err
	}
	plan, err := u.ConvertPlan(sol)
	if err != nil {
		return nil, r.fail("convert plan", err)
	}
	if plan != nil {
		cost := u.Cost(plan)
		r.logger.Debug("candidate plan",
			slog.Int("length", len(plan)),
			slog.Float64("cost", cost),
			slog.String("plan", plan.String()),
		)
		r.record(ctx, Event{Kind: EventPlan, Plan: plan.String(), Cost: finite(cost)})
	}
	return plan, nil
}

// call runs one planner request with telemetry. A call cut short by ctx
// reports no plan.
func (r *run) call(ctx context.Context, p planner.Planner, req *planner.Request) (*planner.Solution, error) {
	ctx, span := r.s.tracer.startSolve(ctx, p.Name(), len(req.Task.Operators))
	start := time.Now()
	sol, err := p.Solve(ctx, req)
	elapsed := time.Since(start)
	r.stats.Solves++
	r.stats.SearchTime += elapsed
	plannerSolveSeconds.WithLabelValues(p.Name()).Observe(elapsed.Seconds())

	switch {
	case err != nil && ctx.Err() != nil:
		plannerSolvesTotal.WithLabelValues(p.Name(), outcomeNoPlan).Inc()
		endSpan(span, nil)
		r.logger.Debug("planner interrupted", slog.String("error", err.Error()))
		return nil, nil
	case err != nil:
		plannerSolvesTotal.WithLabelValues(p.Name(), outcomeError).Inc()
		endSpan(span, err)
		return nil, r.fail("solve", err)
	case sol == nil:
		plannerSolvesTotal.WithLabelValues(p.Name(), outcomeNoPlan).Inc()
	default:
		plannerSolvesTotal.WithLabelValues(p.Name(), outcomePlan).Inc()
	}
	endSpan(span, nil)
	return sol, nil
}

// -----------------------------------------------------------------------------
// Stream calls
// -----------------------------------------------------------------------------

// callStream evaluates inst once and returns the new output tuples with the
// literals they certify. It returns errStopped when the rate limiter cannot
// admit the call before ctx ends.
func (r *run) callStream(ctx context.Context, inst *stream.Instance) ([]stream.Tuple, []model.Literal, error) {
	if r.s.limiter != nil {
		if err := r.s.limiter.Wait(ctx); err != nil {
			return nil, nil, errStopped
		}
	}
	_, span := r.s.tracer.startStream(ctx, inst.String())
	start := time.Now()
	outs, err := inst.NextOutputs()
	r.stats.StreamTime += time.Since(start)
	r.stats.StreamCalls++
	streamCallsTotal.WithLabelValues(inst.Stream().Name()).Inc()
	endSpan(span, err)
	if err != nil {
		return nil, nil, r.fail("evaluate "+inst.String(), err)
	}

	var atoms []model.Literal
	for _, o := range outs {
		atoms = append(atoms, inst.SubstituteGraph(o)...)
	}
	r.logger.Debug("stream evaluated",
		slog.String("instance", inst.String()),
		slog.Int("outputs", len(outs)),
		slog.Bool("enumerated", inst.Enumerated()),
	)
	r.record(ctx, Event{Kind: EventEvaluation, Instance: inst.String(), Atoms: literalStrings(atoms)})
	return outs, atoms, nil
}

// evaluate calls inst once and returns the certified literals.
func (r *run) evaluate(ctx context.Context, inst *stream.Instance) ([]model.Literal, error) {
	_, atoms, err := r.callStream(ctx, inst)
	return atoms, err
}

// evaluateHead evaluates a defined-function head.
func (r *run) evaluateHead(ctx context.Context, h model.Head) (model.Literal, error) {
	l, err := h.Evaluate()
	if err != nil {
		return nil, r.fail("evaluate "+h.String(), err)
	}
	r.record(ctx, Event{Kind: EventEvaluation, Instance: h.String(), Atoms: []string{l.String()}})
	return l, nil
}

// -----------------------------------------------------------------------------
// Completion
// -----------------------------------------------------------------------------

// finish closes the run. errStopped is not reported as a failure.
func (r *run) finish(ctx context.Context, plan tamp.Plan, cost float64, evals []model.Literal, err error) (*Result, error) {
	if errors.Is(err, errStopped) {
		err = nil
	}
	if plan == nil {
		cost = model.Inf
	}
	r.stats.Elapsed = time.Since(r.start)
	r.s.tracer.endRun(r.span, r.stats, cost, err)
	if err != nil {
		r.logger.Error("run failed", slog.String("error", err.Error()))
		return nil, err
	}
	r.record(ctx, Event{Kind: EventResult, Plan: plan.String(), Cost: finite(cost)})
	r.logger.Info("run finished",
		slog.Bool("solved", plan != nil),
		slog.Float64("cost", cost),
		slog.Int("iterations", r.stats.Iterations),
		slog.Int("stream_calls", r.stats.StreamCalls),
		slog.Duration("elapsed", r.stats.Elapsed),
	)
	return &Result{
		RunID:       r.id,
		Algorithm:   r.algorithm,
		Plan:        plan,
		Cost:        cost,
		Evaluations: evals,
		Stats:       r.stats,
	}, nil
}

// record sends an event to the recorder, if any.
func (r *run) record(ctx context.Context, e Event) {
	if r.s.recorder == nil {
		return
	}
	r.seq++
	e.RunID = r.id
	e.Algorithm = r.algorithm
	e.Sequence = r.seq
	e.Iteration = r.iteration
	e.Epoch = r.epoch
	e.Time = time.Now()
	if err := r.s.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("recording event failed", slog.String("kind", string(e.Kind)), slog.String("error", err.Error()))
	}
}

func finite(c float64) *float64 {
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return nil
	}
	return &c
}

func literalStrings(lits []model.Literal) []string {
	out := make([]string, len(lits))
	for i, l := range lits {
		out[i] = l.String()
	}
	return out
}
