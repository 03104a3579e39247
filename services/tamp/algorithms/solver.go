// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package algorithms implements the stream planning algorithms.
//
// Every algorithm alternates between asking a classical planner for a plan
// over a Universe and evaluating stream instances to grow the set of known
// facts. Incremental and Exhaustive evaluate streams blindly; Focused,
// DualFocused and PlanFocused plan with optimistic placeholder outputs and
// evaluate only the streams a candidate plan depends on.
//
// Running out of time or having ctx cancelled is not an error: the run
// stops and reports the best plan found so far, which may be nil.
package algorithms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
)

// Package-level error definitions.
var (
	// ErrInconsistent reports an internal invariant violation, such as a
	// plan precondition no known fact or axiom can support.
	ErrInconsistent = errors.New("internal consistency violated")

	// ErrLazyFunctions is returned by DualFocused for problems with
	// non-eager defined functions.
	ErrLazyFunctions = errors.New("lazy defined functions are not supported")

	// ErrUnknownAlgorithm is returned by Solve for an unregistered name.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrNoPlanner is returned when the solver has no planner.
	ErrNoPlanner = errors.New("no planner configured")

	// errStopped signals that the time budget or ctx ended the run.
	errStopped = errors.New("run stopped")
)

// AlgorithmError wraps a failure inside an algorithm run.
type AlgorithmError struct {
	Algorithm string
	Operation string
	Err       error
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Algorithm, e.Operation, e.Err)
}

func (e *AlgorithmError) Unwrap() error { return e.Err }

// Algorithm names accepted by Solve.
const (
	Incremental = "incremental"
	Exhaustive  = "exhaustive"
	Focused     = "focused"
	DualFocused = "dual_focused"
	PlanFocused = "plan_focused"
)

// Names lists the algorithms in sorted order.
func Names() []string {
	out := []string{Incremental, Exhaustive, Focused, DualFocused, PlanFocused}
	sort.Strings(out)
	return out
}

// ResetPolicy chooses how disabled stream instances come back after an
// epoch ends without a usable plan.
type ResetPolicy int

const (
	// ResetRevisit re-enables every disabled instance.
	ResetRevisit ResetPolicy = iota

	// ResetIsolated evaluates every disabled instance once more and keeps
	// it disabled.
	ResetIsolated
)

func (p ResetPolicy) String() string {
	switch p {
	case ResetRevisit:
		return "revisit"
	case ResetIsolated:
		return "isolated"
	default:
		return fmt.Sprintf("ResetPolicy(%d)", int(p))
	}
}

// ParseResetPolicy parses "revisit" or "isolated"; empty means revisit.
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch s {
	case "", "revisit":
		return ResetRevisit, nil
	case "isolated":
		return ResetIsolated, nil
	}
	return 0, fmt.Errorf("unknown reset policy %q", s)
}

// =============================================================================
// Solver
// =============================================================================

// Solver runs the algorithms against one planner.
//
// Thread Safety: A Solver may be shared, but stream instances are memoized
// per Stream, so concurrent runs must not share a Problem.
type Solver struct {
	planner       planner.Planner
	streamPlanner planner.Planner

	search        string
	streamSearch  string
	maxTime       time.Duration
	maxCost       float64
	terminateCost float64

	reset   ResetPolicy
	single  bool
	bind    bool
	revisit bool
	verbose bool

	logger   *slog.Logger
	tracer   *runTracer
	recorder Recorder
	limiter  *rate.Limiter
}

// Option configures a Solver.
type Option func(*Solver)

// WithSearch sets the planner search configuration.
func WithSearch(search string) Option { return func(s *Solver) { s.search = search } }

// WithStreamSearch sets the search used for DualFocused stream plans.
func WithStreamSearch(search string) Option { return func(s *Solver) { s.streamSearch = search } }

// WithStreamPlanner sets the planner used for DualFocused stream plans.
// Stream plans are always posed as SAS tasks.
func WithStreamPlanner(p planner.Planner) Option { return func(s *Solver) { s.streamPlanner = p } }

// WithMaxTime bounds a run; zero means no limit.
func WithMaxTime(d time.Duration) Option { return func(s *Solver) { s.maxTime = d } }

// WithMaxCost only accepts plans cheaper than c.
func WithMaxCost(c float64) Option { return func(s *Solver) { s.maxCost = c } }

// WithTerminateCost stops anytime search once a plan cheaper than c is
// found. The default, +Inf, stops at the first plan.
func WithTerminateCost(c float64) Option { return func(s *Solver) { s.terminateCost = c } }

// WithReset sets the reset policy for focused algorithms.
func WithReset(p ResetPolicy) Option { return func(s *Solver) { s.reset = p } }

// WithSingle evaluates only the first useful stream per iteration.
func WithSingle(single bool) Option { return func(s *Solver) { s.single = single } }

// WithBind makes DualFocused bind real outputs along the stream plan.
func WithBind(bind bool) Option { return func(s *Solver) { s.bind = bind } }

// WithRevisit makes DualFocused re-evaluate disabled instances before
// calling a stream plan.
func WithRevisit(revisit bool) Option { return func(s *Solver) { s.revisit = revisit } }

// WithVerbose forwards planner output to the debug log.
func WithVerbose(v bool) Option { return func(s *Solver) { s.verbose = v } }

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracing enables OpenTelemetry spans for runs, iterations, planner
// calls and stream evaluations.
func WithTracing(enabled bool) Option { return func(s *Solver) { s.tracer = newRunTracer(enabled) } }

// WithRecorder receives run events.
func WithRecorder(r Recorder) Option { return func(s *Solver) { s.recorder = r } }

// WithRateLimit throttles stream evaluations to limit calls per second
// with the given burst. A non-positive limit disables throttling.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Solver) {
		if limit <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// New creates a Solver around p.
func New(p planner.Planner, opts ...Option) *Solver {
	s := &Solver{
		planner:       p,
		search:        planner.DefaultSearch,
		streamSearch:  planner.SearchFFAstar,
		maxCost:       model.Inf,
		terminateCost: model.Inf,
		logger:        slog.Default(),
		tracer:        newRunTracer(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Planner returns the solver's planner.
func (s *Solver) Planner() planner.Planner { return s.planner }

// Solve runs the named algorithm.
func (s *Solver) Solve(ctx context.Context, algorithm string, problem *tamp.Problem) (*Result, error) {
	switch algorithm {
	case Incremental:
		return s.Incremental(ctx, problem)
	case Exhaustive:
		return s.Exhaustive(ctx, problem)
	case Focused:
		return s.Focused(ctx, problem)
	case DualFocused:
		return s.DualFocused(ctx, problem)
	case PlanFocused:
		return s.PlanFocused(ctx, problem)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
}

// =============================================================================
// Results
// =============================================================================

// Stats summarizes one run.
type Stats struct {
	Iterations  int
	Epochs      int
	StreamCalls int
	Solves      int
	SearchTime  time.Duration
	StreamTime  time.Duration
	Elapsed     time.Duration
}

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run in logs, traces and the journal.
	RunID string

	// Algorithm is the algorithm name.
	Algorithm string

	// Plan is the best plan found, or nil.
	Plan tamp.Plan

	// Cost is the replayed cost of Plan, or +Inf.
	Cost float64

	// Evaluations are the real facts known when the run ended.
	Evaluations []model.Literal

	Stats Stats
}

// Solved reports whether a plan was found.
func (r *Result) Solved() bool { return r != nil && r.Plan != nil }
