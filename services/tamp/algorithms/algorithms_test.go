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
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/domains/tutorial"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/planner/astar"
	"github.com/AleutianAI/tamp/services/tamp/stream"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

var (
	at    = model.NewPredicate("At", model.Params("?x"))
	road  = model.NewPredicate("Road", model.Params("?a ?b"))
	route = model.NewPredicate("Route", model.Params("?a ?b"))
	ready = model.NewPredicate("Ready", nil)
	done  = model.NewPredicate("Done", nil)
	never = model.NewPredicate("Never", nil)
	num   = model.NewPredicate("Num", model.Params("?n"))
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSolver(opts ...Option) *Solver {
	return New(astar.New(astar.WithLogger(quietLogger())),
		append([]Option{WithLogger(quietLogger()), WithMaxTime(30 * time.Second)}, opts...)...)
}

// roadProblem reaches work from home by driving (cost 10) or by flying
// (cost 1) along a route certified by the find-route test stream.
func roadProblem(t *testing.T, open bool, opts ...stream.Option) *tamp.Problem {
	t.Helper()
	find, err := stream.Test("find-route", model.Params("?a ?b"),
		[]model.Literal{road.Atom("?a", "?b")},
		func(...model.Object) bool { return open },
		[]model.Literal{route.Atom("?a", "?b")}, opts...)
	require.NoError(t, err)
	move := func(name string, link *model.Function, cost float64) *model.Action {
		return model.MustAction(name, model.Params("?a ?b"),
			[]model.Literal{at.Atom("?a"), link.Atom("?a", "?b")},
			[]model.Literal{at.Atom("?b"), at.Not("?a"), model.CostIncrease(cost)})
	}
	p, err := tamp.NewProblem(
		[]model.Literal{at.Atom("home"), road.Atom("home", "work"), model.NewInit(model.TotalCost.Head(), 0)},
		[]model.Literal{at.Atom("work")},
		[]*model.Action{move("Drive", road, 10), move("Fly", route, 1)},
		nil, []*stream.Stream{find}, tamp.MinimizeCost())
	require.NoError(t, err)
	return p
}

// checkSolution replays res.Plan over the evaluations the run ended with.
func checkSolution(t *testing.T, p *tamp.Problem, res *Result) {
	t.Helper()
	u := universe.New(p, res.Evaluations, universe.Options{Logger: quietLogger()})
	assert.True(t, tamp.IsSolution(p, u.Evaluations().Literals(), res.Plan, u.AxiomInstances()), res.Plan.String())
}

// =============================================================================
// End to end
// =============================================================================

func TestTutorialAllAlgorithms(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := tutorial.Build(2)
			require.NoError(t, err)

			res, err := newSolver().Solve(context.Background(), name, p)
			require.NoError(t, err)
			require.True(t, res.Solved())
			assert.Len(t, res.Plan, 8)
			assert.Equal(t, 35.0, res.Cost)
			assert.Equal(t, name, res.Algorithm)
			assert.NotEmpty(t, res.RunID)
			assert.Positive(t, res.Stats.StreamCalls)
			checkSolution(t, p, res)
		})
	}
}

func TestProblemsWithoutStreams(t *testing.T) {
	finish := model.MustAction("Finish", nil,
		[]model.Literal{ready.Atom()},
		[]model.Literal{done.Atom(), model.CostIncrease(1)})

	tests := []struct {
		name    string
		goal    []model.Literal
		wantLen int
		solved  bool
	}{
		{"one step", []model.Literal{done.Atom()}, 1, true},
		{"goal already holds", []model.Literal{ready.Atom()}, 0, true},
		{"unreachable", []model.Literal{never.Atom()}, 0, false},
	}
	for _, tt := range tests {
		for _, name := range Names() {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				p, err := tamp.NewProblem([]model.Literal{ready.Atom()}, tt.goal,
					[]*model.Action{finish}, nil, nil, tamp.MinimizeCost())
				require.NoError(t, err)

				res, err := newSolver().Solve(context.Background(), name, p)
				require.NoError(t, err)
				assert.Equal(t, tt.solved, res.Solved())
				assert.Len(t, res.Plan, tt.wantLen)
				assert.Zero(t, res.Stats.StreamCalls)
			})
		}
	}
}

func TestFocusedEvaluatesOnlyUsefulStreams(t *testing.T) {
	for _, name := range []string{Focused, DualFocused, PlanFocused} {
		t.Run(name, func(t *testing.T) {
			p := roadProblem(t, true)
			res, err := newSolver().Solve(context.Background(), name, p)
			require.NoError(t, err)
			require.True(t, res.Solved())
			assert.Equal(t, "[fly(home, work)]", res.Plan.String())
			assert.Equal(t, 1.0, res.Cost)
			assert.Equal(t, 1, res.Stats.StreamCalls)
		})
	}
}

func TestFocusedFallsBackWhenStreamFails(t *testing.T) {
	for _, name := range []string{Focused, DualFocused, PlanFocused} {
		t.Run(name, func(t *testing.T) {
			p := roadProblem(t, false)
			res, err := newSolver().Solve(context.Background(), name, p)
			require.NoError(t, err)
			require.True(t, res.Solved())
			assert.Equal(t, "[drive(home, work)]", res.Plan.String())
			assert.Equal(t, 10.0, res.Cost)
			assert.Equal(t, 1, res.Stats.StreamCalls)
		})
	}
}

// =============================================================================
// Incremental
// =============================================================================

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) costs(kind EventKind) []float64 {
	var out []float64
	for _, e := range l.events {
		if e.Kind == kind && e.Cost != nil {
			out = append(out, *e.Cost)
		}
	}
	return out
}

func TestIncrementalStopsAtFirstPlan(t *testing.T) {
	p := roadProblem(t, true)
	res, err := newSolver().Incremental(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "[drive(home, work)]", res.Plan.String())
	assert.Equal(t, 10.0, res.Cost)
	assert.Zero(t, res.Stats.StreamCalls)
	assert.Equal(t, 1, res.Stats.Iterations)
}

func TestIncrementalAnytimeCostNeverIncreases(t *testing.T) {
	p := roadProblem(t, true)
	log := &eventLog{}
	res, err := newSolver(WithTerminateCost(0), WithRecorder(log)).Incremental(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "[fly(home, work)]", res.Plan.String())
	assert.Equal(t, 1.0, res.Cost)

	costs := log.costs(EventPlan)
	require.Equal(t, []float64{10, 1}, costs)
	for i := 1; i < len(costs); i++ {
		assert.LessOrEqual(t, costs[i], costs[i-1])
	}
}

func TestExhaustiveEvaluatesEverything(t *testing.T) {
	p, err := tutorial.Build(2)
	require.NoError(t, err)
	res, err := newSolver().Exhaustive(context.Background(), p)
	require.NoError(t, err)
	require.True(t, res.Solved())
	assert.Equal(t, 1, res.Stats.Solves)
	assert.True(t, model.NewEvalSet(res.Evaluations...).Has(tutorial.Kin.Atom(2, 2)))
}

// =============================================================================
// Budget and failures
// =============================================================================

// countingProblem has an endless generator and an unreachable goal.
func countingProblem(t *testing.T) *tamp.Problem {
	t.Helper()
	count, err := stream.Gen("count", nil, nil, func(...model.Object) func() (stream.Tuple, bool) {
		n := 0
		return func() (stream.Tuple, bool) {
			n++
			return stream.Tuple{n}, true
		}
	}, model.Params("?n"), []model.Literal{num.Atom("?n")})
	require.NoError(t, err)
	p, err := tamp.NewProblem(nil, []model.Literal{never.Atom()}, nil, nil, []*stream.Stream{count})
	require.NoError(t, err)
	return p
}

func TestTimeBudgetEndsRunWithoutError(t *testing.T) {
	for _, name := range []string{Incremental, Exhaustive} {
		t.Run(name, func(t *testing.T) {
			p := countingProblem(t)
			start := time.Now()
			res, err := newSolver(WithMaxTime(50*time.Millisecond)).Solve(context.Background(), name, p)
			require.NoError(t, err)
			assert.False(t, res.Solved())
			assert.Positive(t, res.Stats.StreamCalls)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestCancelledContextEndsRun(t *testing.T) {
	p := countingProblem(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := newSolver(WithMaxTime(0)).Incremental(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Solved())
}

func TestPlannerReportsNoPlan(t *testing.T) {
	ctrl := gomock.NewController(t)
	mp := planner.NewMockPlanner(ctrl)
	mp.EXPECT().Name().Return("mock").AnyTimes()
	mp.EXPECT().Solve(gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	p, err := tutorial.Build(2)
	require.NoError(t, err)
	res, err := New(mp, WithLogger(quietLogger())).Focused(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Solved())
	assert.Equal(t, 1, res.Stats.Solves)
	assert.Zero(t, res.Stats.StreamCalls)
}

func TestPlannerErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	ctrl := gomock.NewController(t)
	mp := planner.NewMockPlanner(ctrl)
	mp.EXPECT().Name().Return("mock").AnyTimes()
	mp.EXPECT().Solve(gomock.Any(), gomock.Any()).Return(nil, boom)

	p := roadProblem(t, true)
	_, err := New(mp, WithLogger(quietLogger())).Exhaustive(context.Background(), p)
	require.ErrorIs(t, err, boom)
	var ae *AlgorithmError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Exhaustive, ae.Algorithm)
	assert.Equal(t, "solve", ae.Operation)
}

func TestDualFocusedRejectsLazyFunctions(t *testing.T) {
	item := model.NewPredicate("Item", model.Params("?x"))
	weight := model.NewFunction("Weight", model.Params("?x"),
		model.WithDomain(item.Atom("?x")),
		model.WithFn(func(...model.Object) model.Object { return 3 }),
		model.WithBound(1), model.Lazy())
	carry := model.MustAction("Carry", model.Params("?x"),
		[]model.Literal{item.Atom("?x")},
		[]model.Literal{done.Atom(), model.CostIncrease(weight.Head("?x"))})
	p, err := tamp.NewProblem(
		[]model.Literal{item.Atom("a"), model.NewInit(model.TotalCost.Head(), 0)},
		[]model.Literal{done.Atom()},
		[]*model.Action{carry}, nil, nil, tamp.MinimizeCost())
	require.NoError(t, err)

	_, err = newSolver().DualFocused(context.Background(), p)
	assert.ErrorIs(t, err, ErrLazyFunctions)

	t.Run("focused evaluates them", func(t *testing.T) {
		res, err := newSolver().Focused(context.Background(), p)
		require.NoError(t, err)
		require.True(t, res.Solved())
		assert.Equal(t, 3.0, res.Cost)
		assert.True(t, model.NewEvalSet(res.Evaluations...).Evaluated(weight.Head("a")))
	})
}

func TestSolveRejectsUnknownAlgorithm(t *testing.T) {
	_, err := newSolver().Solve(context.Background(), "bogus", roadProblem(t, true))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = New(nil).Incremental(context.Background(), roadProblem(t, true))
	assert.ErrorIs(t, err, ErrNoPlanner)
}

// =============================================================================
// Focused internals
// =============================================================================

func TestDisabledQueueHoldsOnlyProductiveInstances(t *testing.T) {
	gen := stream.Must(stream.Gen("g", nil, nil, func(...model.Object) func() (stream.Tuple, bool) {
		return func() (stream.Tuple, bool) { return stream.Tuple{1}, true }
	}, model.Params("?o"), []model.Literal{num.Atom("?o")}))
	once := stream.Must(stream.Fn("f", nil, nil, func(...model.Object) stream.Tuple { return stream.Tuple{2} },
		model.Params("?o"), []model.Literal{num.Atom("?o")}))

	f := &focus{evals: model.NewEvalSet(), disabled: universe.NewQueue()}
	live, spent := gen.Instance(nil), once.Instance(nil)
	_, err := spent.NextAtoms()
	require.NoError(t, err)
	require.True(t, spent.Enumerated())

	f.disable(live)
	f.disable(live)
	f.disable(spent)
	assert.Equal(t, 1, f.disabled.Len())
	assert.True(t, live.Disabled())
	assert.True(t, spent.Disabled())
	assert.Empty(t, live.BoundOutputs())

	f.revisitReset()
	assert.Zero(t, f.disabled.Len())
	assert.False(t, live.Disabled())
}

func TestRetraceFindsProducers(t *testing.T) {
	p := roadProblem(t, true)
	evals := model.NewEvalSet(model.InferEvaluations(p.Initial)...)
	u := universe.New(p, evals.Literals(), universe.Options{UseBounds: true, Logger: quietLogger()})
	source := boundStreamInstances(u)
	require.True(t, u.Evaluations().Has(route.Atom("home", "work")))

	fly, ok := p.Action("fly")
	require.True(t, ok)
	plan := tamp.Plan{{Action: fly, Args: []model.Object{"home", "work"}}}
	heads, err := requiredHeads(u, plan)
	require.NoError(t, err)

	keys := make([]string, len(heads))
	for i, h := range heads {
		keys[i] = h.String()
	}
	assert.Contains(t, keys, route.Head("home", "work").String())
	assert.Contains(t, keys, model.TotalCost.Head().String())

	targets := retraceStreams(source, evals, heads)
	require.Len(t, targets, 1)
	assert.Equal(t, "find-route(home, work)->[]", targets[0].String())
	assert.False(t, targets[0].evaluable(evals), "isobject facts are only known after the eager closure")
	evals.AddAll(u.Evaluations().Literals())
	assert.True(t, targets[0].evaluable(evals))
}

func TestResetPolicy(t *testing.T) {
	for in, want := range map[string]ResetPolicy{"": ResetRevisit, "revisit": ResetRevisit, "isolated": ResetIsolated} {
		got, err := ParseResetPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseResetPolicy("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "isolated", ResetIsolated.String())
}

func TestRecorderSeesWholeRun(t *testing.T) {
	p := roadProblem(t, true)
	log := &eventLog{}
	res, err := newSolver(WithRecorder(log)).Focused(context.Background(), p)
	require.NoError(t, err)

	require.NotEmpty(t, log.events)
	assert.Equal(t, EventStart, log.events[0].Kind)
	assert.Equal(t, EventResult, log.events[len(log.events)-1].Kind)
	for i, e := range log.events {
		assert.Equal(t, res.RunID, e.RunID)
		assert.Equal(t, i+1, e.Sequence)
	}
	var evaluated []string
	for _, e := range log.events {
		if e.Kind == EventEvaluation {
			evaluated = append(evaluated, e.Instance)
		}
	}
	assert.Equal(t, []string{"find-route(home, work)->[]"}, evaluated)
}

// =============================================================================
// Option matrix
// =============================================================================

// tutorialCost is the optimal cost of the tutorial with n blocks: b1 is
// carried to the sampled pose n and b0 onto pose 1.
func tutorialCost(n int) float64 { return float64(31 + 2*n) }

func TestTutorialOptionMatrix(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		opts      []Option
	}{
		{"incremental", Incremental, nil},
		{"exhaustive", Exhaustive, nil},
		{"focused", Focused, nil},
		{"focused/isolated", Focused, []Option{WithReset(ResetIsolated)}},
		{"focused/single", Focused, []Option{WithSingle(true)}},
		{"dual_focused", DualFocused, nil},
		{"dual_focused/bind", DualFocused, []Option{WithBind(true)}},
		{"dual_focused/revisit", DualFocused, []Option{WithRevisit(true)}},
		{"dual_focused/single", DualFocused, []Option{WithSingle(true)}},
		{"dual_focused/bind+revisit+single", DualFocused, []Option{WithBind(true), WithRevisit(true), WithSingle(true)}},
		{"dual_focused/isolated", DualFocused, []Option{WithReset(ResetIsolated)}},
		{"plan_focused", PlanFocused, nil},
		{"plan_focused/single", PlanFocused, []Option{WithSingle(true)}},
	}
	for n := 2; n <= 4; n++ {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/n=%d", tt.name, n), func(t *testing.T) {
				p, err := tutorial.Build(n)
				require.NoError(t, err)

				res, err := newSolver(tt.opts...).Solve(context.Background(), tt.algorithm, p)
				require.NoError(t, err)
				require.True(t, res.Solved())
				assert.False(t, hasPlaceholder(res.Plan), res.Plan.String())
				assert.Equal(t, tutorialCost(n), res.Cost, res.Plan.String())
				checkSolution(t, p, res)
			})
		}
	}
}

// =============================================================================
// Streams without bounds
// =============================================================================

func TestNoBoundStreamIsNeverPredicted(t *testing.T) {
	p := roadProblem(t, true, stream.WithBound(stream.NoBound))
	evals := model.InferEvaluations(p.Initial)

	u := universe.New(p, evals, universe.Options{UseBounds: true, Logger: quietLogger()})
	assert.Empty(t, boundStreams(u))

	sa, err := newStreamActions(p)
	require.NoError(t, err)
	u = universe.New(sa.problem, evals, universe.Options{UseBounds: true, Logger: quietLogger()})
	assert.Empty(t, sa.boundCalls(u))
	assert.False(t, u.Evaluations().Has(route.Atom("home", "work")))

	for _, name := range []string{Focused, DualFocused, PlanFocused} {
		t.Run(name, func(t *testing.T) {
			p := roadProblem(t, true, stream.WithBound(stream.NoBound))
			res, err := newSolver().Solve(context.Background(), name, p)
			require.NoError(t, err)
			require.True(t, res.Solved())
			assert.Equal(t, "[drive(home, work)]", res.Plan.String())
			assert.Equal(t, 10.0, res.Cost)
			assert.Zero(t, res.Stats.StreamCalls)
		})
	}
}

// =============================================================================
// Plan focused
// =============================================================================

func TestPlanFocusedHidesPredictedFacts(t *testing.T) {
	p, err := tutorial.Build(3)
	require.NoError(t, err)
	sa, err := newStreamActions(p)
	require.NoError(t, err)

	u := universe.New(sa.problem, model.InferEvaluations(p.Initial), universe.Options{UseBounds: true, Logger: quietLogger()})
	abstract := sa.boundCalls(u)
	require.NotEmpty(t, abstract)

	var placeholder model.Object
	hidden := make(map[string]bool)
	for _, l := range abstract {
		hidden[l.Head().Function.Key()] = true
		for _, a := range l.Head().Args {
			if model.IsPlaceholder(a) {
				placeholder = a
			}
		}
		u.Retract(l)
	}
	assert.True(t, hidden[tutorial.Conf.Key()], "domain facts of predicted outputs are hidden too")
	require.NotNil(t, placeholder)

	for _, l := range u.Evaluations().Literals() {
		switch l.Head().Function.Key() {
		case tutorial.Conf.Key(), tutorial.Pose.Key(), tutorial.Kin.Key():
			for _, a := range l.Head().Args {
				assert.False(t, model.IsPlaceholder(a), l.String())
			}
		}
	}

	move, ok := p.Action("move")
	require.True(t, ok)
	assert.True(t, hasPlaceholder(tamp.Plan{{Action: move, Args: []model.Object{0, placeholder}}}))
	assert.False(t, hasPlaceholder(tamp.Plan{{Action: move, Args: []model.Object{0, 1}}}))
}

// =============================================================================
// Disabled instances and stream calls
// =============================================================================

func TestDisabledInstancesStayDisabledUntilReset(t *testing.T) {
	for _, policy := range []ResetPolicy{ResetRevisit, ResetIsolated} {
		t.Run(policy.String(), func(t *testing.T) {
			p, err := tutorial.Build(3)
			require.NoError(t, err)
			log := &eventLog{}
			s := newSolver(WithRecorder(log), WithReset(policy))
			r, ctx, err := s.begin(context.Background(), Focused, p)
			require.NoError(t, err)
			f := newFocus(r, p)

			var parked []*stream.Instance
			for i := 0; i < 50; i++ {
				resets := log.count(EventReset)
				_, finished, err := f.focusedIteration(ctx)
				require.NoError(t, err)
				if log.count(EventReset) == resets {
					for _, inst := range parked {
						assert.True(t, inst.Disabled(), "%s re-enabled before a reset", inst)
					}
				}
				parked = f.disabled.Items()
				for _, inst := range parked {
					assert.True(t, inst.Disabled())
					assert.False(t, inst.Enumerated())
				}
				if finished {
					return
				}
			}
			t.Fatal("focused did not finish")
		})
	}
}

func TestStreamCallRecordsCertifiedAtomsOnce(t *testing.T) {
	log := &eventLog{}
	res, err := newSolver(WithRecorder(log)).Focused(context.Background(), roadProblem(t, true))
	require.NoError(t, err)
	require.True(t, res.Solved())

	var evaluations []Event
	for _, e := range log.events {
		if e.Kind == EventEvaluation {
			evaluations = append(evaluations, e)
		}
	}
	require.Len(t, evaluations, 1)
	assert.Equal(t, []string{route.Atom("home", "work").String()}, evaluations[0].Atoms)
	assert.True(t, model.NewEvalSet(res.Evaluations...).Has(route.Atom("home", "work")))
}
