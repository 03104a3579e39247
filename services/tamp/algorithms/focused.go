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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

// =============================================================================
// Shared focused state
// =============================================================================

// focus is the state the focused algorithms keep across iterations: the
// real evaluations and the FIFO of disabled stream instances.
//
// Invariant: an instance is in disabled only if it is disabled and was not
// enumerated when it was added.
type focus struct {
	*run
	evals    *model.EvalSet
	disabled *universe.Queue
}

func newFocus(r *run, problem *tamp.Problem) *focus {
	return &focus{
		run:      r,
		evals:    model.NewEvalSet(model.InferEvaluations(problem.Initial)...),
		disabled: universe.NewQueue(),
	}
}

// learn adds real literals, their domain facts, and isobject facts for
// their objects.
func (f *focus) learn(atoms []model.Literal) {
	for _, l := range model.InferEvaluations(atoms) {
		f.evals.Add(l)
		for _, o := range l.Head().Args {
			if !model.IsParameter(o) && !model.IsPlaceholder(o) {
				f.evals.Add(model.ObjectPredicate.Atom(o))
			}
		}
	}
}

// disable marks inst disabled, queueing it for a later reset.
func (f *focus) disable(inst *stream.Instance) {
	if !inst.Disabled() && !inst.Enumerated() {
		f.disabled.Push(inst)
	}
	inst.Disable()
}

// evaluateEager runs every eager stream to a fixed point over the real
// evaluations.
func (f *focus) evaluateEager(ctx context.Context) error {
	u := universe.New(f.problem, f.evals.Literals(), universe.Options{OnlyEager: true, Logger: f.logger})
	err := evaluateQueue(ctx, f.run, u.StreamQueue, u.AddEvals, -1)
	f.evals = u.Evaluations()
	return err
}

// isolatedReset evaluates each disabled instance once more; those that
// remain productive stay disabled.
func (f *focus) isolatedReset(ctx context.Context) error {
	return evaluateQueue(ctx, f.run, f.disabled, f.learn, f.disabled.Len())
}

// revisitReset re-enables every disabled instance.
func (f *focus) revisitReset() {
	for f.disabled.Len() > 0 {
		inst, _ := f.disabled.Pop()
		inst.Enable()
	}
}

// reset applies policy and starts a new epoch.
func (f *focus) reset(ctx context.Context, policy ResetPolicy) error {
	n := f.disabled.Len()
	var err error
	if policy == ResetIsolated {
		err = f.isolatedReset(ctx)
	} else {
		f.revisitReset()
	}
	f.nextEpoch(ctx, n)
	return err
}

// boundedUniverse builds the optimistic universe over the real evaluations.
func (f *focus) boundedUniverse(problem *tamp.Problem) *universe.Universe {
	return universe.New(problem, f.evals.Literals(), universe.Options{UseBounds: true, Logger: f.logger})
}

// =============================================================================
// Focused
// =============================================================================

// target is something a plan needs evaluated: a stream instance, or a
// defined-function head when instance is nil.
type target struct {
	head     model.Head
	instance *stream.Instance
}

func (t target) String() string {
	if t.instance != nil {
		return t.instance.String()
	}
	return t.head.String()
}

// evaluable reports whether the target's domain holds in evals.
func (t target) evaluable(evals *model.EvalSet) bool {
	if t.instance != nil {
		return !t.instance.Enumerated() && evals.HasAll(t.instance.Domain())
	}
	return t.head.IsGround() && !t.head.HasPlaceholder() && evals.HasAll(t.head.Domain())
}

// boundStreamInstances adds the bound atoms of every queued instance and
// their domain facts to u. The first instance to produce a head becomes
// its source.
func boundStreamInstances(u *universe.Universe) map[string]*stream.Instance {
	source := make(map[string]*stream.Instance)
	for u.StreamQueue.Len() > 0 {
		inst, _ := u.StreamQueue.Pop()
		for _, l := range model.InferEvaluations(inst.BoundAtoms()) {
			k := l.Head().Key()
			if _, ok := source[k]; ok {
				continue
			}
			source[k] = inst
			u.AddEval(l)
		}
	}
	return source
}

// requiredHeads replays plan and collects the heads it relies on.
//
// Description:
//
//	Before each step, and before the goal, the step's preconditions are
//	traced through the axioms that derive them down to the base literals
//	they rest on. The heads of those literals count unless an earlier step
//	set them. The heads of every cost increase also count.
//
// Outputs:
//
//	[]model.Head - Heads in discovery order, without duplicates.
//	error        - ErrInconsistent if a derived precondition has no
//	               supporting axiom.
func requiredHeads(u *universe.Universe, plan tamp.Plan) ([]model.Head, error) {
	axioms := u.AxiomInstances()
	derived := u.Problem().Derived()
	state := u.Evaluations().State()

	steps := make([]model.Operator, 0, len(plan)+1)
	for _, a := range plan.Instances() {
		steps = append(steps, a.Operator)
	}
	steps = append(steps, model.GoalOperator(u.Problem().Goal))

	var out []model.Head
	seen := make(map[string]bool)
	add := func(h model.Head) {
		if !seen[h.Key()] {
			seen[h.Key()] = true
			out = append(out, h)
		}
	}
	image := make(map[string]bool)
	for _, op := range steps {
		achievers := model.AxiomAchievers(axioms, state)
		for _, p := range achievers.Supporters(op.Preconditions) {
			if derived[p.Head().Function.Key()] {
				if _, ok := p.(model.Atom); ok {
					return nil, fmt.Errorf("%w: no axiom supports %s", ErrInconsistent, p)
				}
				continue
			}
			if image[p.Head().Key()] {
				continue
			}
			for _, h := range p.Heads() {
				add(h)
			}
		}
		for _, e := range op.Effects {
			if inc, ok := e.(model.Increase); ok {
				for _, h := range inc.Heads() {
					add(h)
				}
				continue
			}
			image[e.Head().Key()] = true
		}
		state = op.Apply(state)
	}
	return out, nil
}

// retraceStreams walks from heads back through the streams and defined
// functions that would produce them, stopping at real evaluations.
// Producers precede the targets that consume their outputs.
func retraceStreams(source map[string]*stream.Instance, evals *model.EvalSet, heads []model.Head) []target {
	var out []target
	visited := make(map[string]bool)
	var visit func(h model.Head)
	visit = func(h model.Head) {
		if evals.Evaluated(h) {
			return
		}
		var (
			t      target
			key    string
			domain []model.Literal
		)
		if h.Function.IsDefined() {
			t, key, domain = target{head: h}, "h:"+h.Key(), h.Domain()
		} else {
			inst, ok := source[h.Key()]
			if !ok {
				return
			}
			t, key, domain = target{head: h, instance: inst}, "s:"+inst.Key(), inst.Domain()
		}
		if visited[key] {
			return
		}
		visited[key] = true
		for _, d := range domain {
			visit(d.Head())
		}
		out = append(out, t)
	}
	for _, h := range heads {
		visit(h)
	}
	return out
}

// Focused plans optimistically and evaluates only what the plan needs.
//
// Description:
//
//	Each iteration closes the real evaluations under eager streams, then
//	builds a bounded universe where every other stream instance contributes
//	placeholder outputs. The planner's plan is traced back to the stream
//	instances and defined-function heads it relies on; those whose inputs
//	are real are evaluated and their instances disabled. A plan that relies
//	on nothing unevaluated is returned. When the planner finds no plan, the
//	disabled instances are reset by the reset policy; with nothing disabled
//	the problem is reported unsolved.
//
// Inputs:
//
//	ctx     - Cancellation ends the run without a plan.
//	problem - The problem to solve.
//
// Outputs:
//
//	*Result - The plan, or a nil Plan when none was found.
//	error   - Planner, compilation, stream or consistency failures.
func (s *Solver) Focused(ctx context.Context, problem *tamp.Problem) (*Result, error) {
	r, ctx, err := s.begin(ctx, Focused, problem)
	if err != nil {
		return nil, err
	}
	f := newFocus(r, problem)
	for !r.expired(ctx) {
		ictx, span := r.nextIteration(ctx, slog.Int("disabled", f.disabled.Len()))
		plan, done, err := f.focusedIteration(ictx)
		endSpan(span, err)
		if err != nil {
			return r.finish(ctx, nil, model.Inf, f.evals.Literals(), err)
		}
		if done {
			return r.finish(ctx, plan, tamp.Cost(plan, f.evals.Literals()), f.evals.Literals(), nil)
		}
	}
	return r.finish(ctx, nil, model.Inf, f.evals.Literals(), nil)
}

// focusedIteration runs one iteration. done is set when plan is final,
// including a nil plan for an unsolvable problem.
func (f *focus) focusedIteration(ctx context.Context) (plan tamp.Plan, done bool, err error) {
	if err := f.evaluateEager(ctx); err != nil {
		return nil, false, err
	}
	u := f.boundedUniverse(f.problem)
	source := boundStreamInstances(u)

	plan, err = f.solve(ctx, u, f.s.maxCost)
	if err != nil {
		return nil, false, err
	}
	if plan == nil {
		if f.expired(ctx) {
			return nil, false, errStopped
		}
		if f.disabled.Len() == 0 {
			return nil, true, nil
		}
		return nil, false, f.reset(ctx, f.s.reset)
	}

	heads, err := requiredHeads(u, plan)
	if err != nil {
		return nil, false, f.fail("required heads", err)
	}
	targets := retraceStreams(source, f.evals, heads)
	if len(targets) == 0 {
		return plan, true, nil
	}
	var evaluable []target
	for _, t := range targets {
		if t.evaluable(f.evals) {
			evaluable = append(evaluable, t)
		}
	}
	if len(evaluable) == 0 {
		// The plan still reads placeholders no stream can realize now.
		f.logger.Warn("plan relies only on unevaluable streams", slog.String("plan", plan.String()))
		if f.disabled.Len() == 0 {
			return nil, true, nil
		}
		return nil, false, f.reset(ctx, f.s.reset)
	}
	if f.s.single {
		evaluable = evaluable[:1]
	}
	for _, t := range evaluable {
		if t.instance == nil {
			l, err := f.evaluateHead(ctx, t.head)
			if err != nil {
				return nil, false, err
			}
			f.learn([]model.Literal{l})
			continue
		}
		atoms, err := f.evaluate(ctx, t.instance)
		if err != nil {
			return nil, false, err
		}
		f.learn(atoms)
		f.disable(t.instance)
	}
	return nil, false, nil
}
