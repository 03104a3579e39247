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

// streamCallSuffix names the predicate recording a predicted stream call.
const streamCallSuffix = "-call"

// streamActions extends a problem with one action per stream.
//
// Description:
//
//	The action for stream s is named after s and takes its inputs and
//	outputs as parameters. It requires the stream domain plus a fresh
//	predicate naming the call, which the universe asserts for every
//	predicted output tuple. It adds the certified graph atoms and their
//	domain facts at unit cost.
type streamActions struct {
	problem  *tamp.Problem
	byAction map[*model.Action]*stream.Stream
	calls    map[string]*model.Function
}

func newStreamActions(p *tamp.Problem) (*streamActions, error) {
	sa := &streamActions{
		byAction: make(map[*model.Action]*stream.Stream),
		calls:    make(map[string]*model.Function),
	}
	actions := append([]*model.Action(nil), p.Actions...)
	for _, s := range p.Streams {
		params := append(append([]string(nil), s.Inputs()...), s.Outputs()...)
		call := model.NewPredicate(s.Name()+streamCallSuffix, params)
		sa.calls[s.Name()] = call

		pre := append(append([]model.Literal(nil), s.Domain()...), call.Atom(paramObjects(params)...))
		eff := append(model.InferEvaluations(s.Graph()), model.CostIncrease(1))
		a, err := model.NewAction(s.Name(), params, pre, eff)
		if err != nil {
			return nil, fmt.Errorf("stream action %s: %w", s.Name(), err)
		}
		sa.byAction[a] = s
		actions = append(actions, a)
	}
	problem, err := tamp.NewProblem(p.Initial, p.Goal, actions, p.Axioms, p.Streams, tamp.MinimizeCost())
	if err != nil {
		return nil, err
	}
	sa.problem = problem
	return sa, nil
}

func paramObjects(params []string) []model.Object {
	out := make([]model.Object, len(params))
	for i, p := range params {
		out[i] = p
	}
	return out
}

// boundCalls drains u's queue. Every predicted output tuple asserts its
// call atom. Graph atoms and their domain facts that were unknown before
// the drain are returned so they can be retracted, leaving the stream
// actions as their only achievers.
func (sa *streamActions) boundCalls(u *universe.Universe) []model.Literal {
	known := u.Evaluations().Copy()
	var abstract []model.Literal
	seen := make(map[string]bool)
	for u.StreamQueue.Len() > 0 {
		inst, _ := u.StreamQueue.Pop()
		call := sa.calls[inst.Stream().Name()]
		for _, outs := range inst.BoundOutputs() {
			args := append(append([]model.Object(nil), inst.Inputs()...), outs...)
			u.AddEval(call.Atom(args...))
			lits := model.InferEvaluations(inst.SubstituteGraph(outs))
			for _, l := range lits {
				if !known.Has(l) && !seen[l.Key()] {
					seen[l.Key()] = true
					abstract = append(abstract, l)
				}
			}
			u.AddEvals(lits)
		}
	}
	return abstract
}

// hasPlaceholder reports whether any step argument is a placeholder.
func hasPlaceholder(plan tamp.Plan) bool {
	for _, step := range plan {
		for _, a := range step.Args {
			if model.IsPlaceholder(a) {
				return true
			}
		}
	}
	return false
}

// split separates plan into its real actions and the instances named by its
// stream actions.
func (sa *streamActions) split(plan tamp.Plan) (tamp.Plan, []*stream.Instance) {
	actions := make(tamp.Plan, 0, len(plan))
	var instances []*stream.Instance
	seen := make(map[string]bool)
	for _, step := range plan {
		s, ok := sa.byAction[step.Action]
		if !ok {
			actions = append(actions, step)
			continue
		}
		inst := s.Instance(step.Args[:len(s.Inputs())])
		if !seen[inst.Key()] {
			seen[inst.Key()] = true
			instances = append(instances, inst)
		}
	}
	return actions, instances
}

// PlanFocused plans actions and stream calls together.
//
// Description:
//
//	Every stream becomes an action the planner may take at unit cost, and
//	the certified atoms of predicted outputs are hidden from the initial
//	state so only those actions achieve them. A plan without stream
//	actions is returned; otherwise the named instances whose inputs are
//	real are evaluated and disabled. When the planner finds no plan, all
//	disabled instances are re-enabled; with nothing disabled the problem is
//	reported unsolved.
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
func (s *Solver) PlanFocused(ctx context.Context, problem *tamp.Problem) (*Result, error) {
	r, ctx, err := s.begin(ctx, PlanFocused, problem)
	if err != nil {
		return nil, err
	}
	sa, err := newStreamActions(problem)
	if err != nil {
		return r.finish(ctx, nil, model.Inf, nil, r.fail("stream actions", err))
	}
	f := newFocus(r, problem)
	for !r.expired(ctx) {
		ictx, span := r.nextIteration(ctx, slog.Int("disabled", f.disabled.Len()))
		plan, done, err := f.planFocusedIteration(ictx, sa)
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

func (f *focus) planFocusedIteration(ctx context.Context, sa *streamActions) (tamp.Plan, bool, error) {
	if err := f.evaluateEager(ctx); err != nil {
		return nil, false, err
	}
	u := f.boundedUniverse(sa.problem)
	for _, l := range sa.boundCalls(u) {
		u.Retract(l)
	}

	plan, err := f.solve(ctx, u, f.s.maxCost)
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
		return nil, false, f.reset(ctx, ResetRevisit)
	}

	actions, instances := sa.split(plan)
	if len(instances) == 0 {
		if hasPlaceholder(actions) {
			f.logger.Warn("plan uses placeholders without stream actions", slog.String("plan", plan.String()))
			if f.disabled.Len() == 0 {
				return nil, true, nil
			}
			return nil, false, f.reset(ctx, ResetRevisit)
		}
		return f.finalizeFunctions(ctx, u, actions)
	}
	if f.s.single {
		instances = instances[:1]
	}
	evaluated := 0
	for _, inst := range instances {
		if inst.Enumerated() || !f.evals.HasAll(inst.Domain()) {
			continue
		}
		atoms, err := f.evaluate(ctx, inst)
		if err != nil {
			return nil, false, err
		}
		f.learn(atoms)
		f.disable(inst)
		evaluated++
	}
	if evaluated == 0 {
		return nil, false, f.fail("evaluate", fmt.Errorf("%w: plan %s calls no evaluable stream", ErrInconsistent, plan))
	}
	return nil, false, nil
}

// finalizeFunctions evaluates the lazy function heads a stream-free plan
// still reads through their bounds. The plan is final when there are none.
func (f *focus) finalizeFunctions(ctx context.Context, u *universe.Universe, plan tamp.Plan) (tamp.Plan, bool, error) {
	heads, err := requiredHeads(u, plan)
	if err != nil {
		return nil, false, f.fail("required heads", err)
	}
	var pending []target
	for _, t := range retraceStreams(nil, f.evals, heads) {
		if t.evaluable(f.evals) {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return plan, true, nil
	}
	for _, t := range pending {
		l, err := f.evaluateHead(ctx, t.head)
		if err != nil {
			return nil, false, err
		}
		f.learn([]model.Literal{l})
	}
	return nil, false, nil
}
