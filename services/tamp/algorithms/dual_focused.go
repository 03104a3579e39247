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
	"math"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/planner/astar"
	"github.com/AleutianAI/tamp/services/tamp/sas"
	"github.com/AleutianAI/tamp/services/tamp/stream"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

// preimagePrefix names the copies of derived predicates used in stream
// plans.
const preimagePrefix = "preimage-"

// boundStream is one predicted output tuple of an instance together with
// the atoms it would certify.
type boundStream struct {
	instance *stream.Instance
	outputs  stream.Tuple
	atoms    []model.Literal
}

func (b boundStream) String() string {
	parts := make([]string, len(b.outputs))
	for i, o := range b.outputs {
		parts[i] = model.FormatObject(o)
	}
	return fmt.Sprintf("%s(%s)->[%s]", b.instance.Stream().Name(), formatObjects(b.instance.Inputs()), strings.Join(parts, ", "))
}

func formatObjects(objs []model.Object) string {
	parts := make([]string, len(objs))
	for i, o := range objs {
		parts[i] = model.FormatObject(o)
	}
	return strings.Join(parts, ", ")
}

// boundStreams drains u's queue, adding every bound atom to u and
// recording each non-empty output tuple.
func boundStreams(u *universe.Universe) []boundStream {
	var out []boundStream
	for u.StreamQueue.Len() > 0 {
		inst, _ := u.StreamQueue.Pop()
		for _, outs := range inst.BoundOutputs() {
			atoms := inst.SubstituteGraph(outs)
			if len(atoms) > 0 {
				out = append(out, boundStream{instance: inst, outputs: outs, atoms: atoms})
			}
			u.AddEvals(atoms)
		}
	}
	return out
}

// literalSet is an insertion-ordered set of literals keyed by Literal.Key.
type literalSet struct {
	items map[string]model.Literal
	order []string
}

func newLiteralSet() *literalSet { return &literalSet{items: make(map[string]model.Literal)} }

func (s *literalSet) add(l model.Literal) {
	if _, ok := s.items[l.Key()]; !ok {
		s.items[l.Key()] = l
		s.order = append(s.order, l.Key())
	}
}

func (s *literalSet) remove(l model.Literal) { delete(s.items, l.Key()) }

func (s *literalSet) literals() []model.Literal {
	out := make([]model.Literal, 0, len(s.items))
	emitted := make(map[string]bool, len(s.items))
	for _, k := range s.order {
		if l, ok := s.items[k]; ok && !emitted[k] {
			emitted[k] = true
			out = append(out, l)
		}
	}
	return out
}

// planPreimage computes what plan needs from streams.
//
// Description:
//
//	Steps are walked backwards from the goal. Each step's effects leave the
//	preimage and its non-derived preconditions join it. A positive derived
//	precondition is replaced by a fresh copy of its predicate; the ground
//	axioms applicable in the optimistic state before the step are copied to
//	derive it, keeping only the axiom preconditions that are neither set in
//	the real state sequence nor defined-function values.
//
// Outputs:
//
//	[]model.Literal - The preimage.
//	[]sas.Axiom     - Axioms deriving the copied predicates.
func planPreimage(u *universe.Universe, evals *model.EvalSet, plan tamp.Plan) ([]model.Literal, []sas.Axiom) {
	actions := plan.Instances()
	lazyStates := model.StateSequence(u.Evaluations().Literals(), actions)
	realStates := model.StateSequence(evals.Literals(), actions)
	derived := u.Problem().Derived()
	axioms := u.AxiomInstances()

	steps := make([]model.Operator, 0, len(actions)+1)
	for _, a := range actions {
		steps = append(steps, a.Operator)
	}
	steps = append(steps, model.GoalOperator(u.Problem().Goal))

	copies := make(map[string]*model.Function)
	remap := func(l model.Literal) model.Literal {
		f := l.Head().Function
		g, ok := copies[f.Key()]
		if !ok {
			g = f.Rename(preimagePrefix + f.Name())
			copies[f.Key()] = g
		}
		return g.Atom(l.Head().Args...)
	}
	isDerived := func(l model.Literal) bool { return derived[l.Head().Function.Key()] }

	preimage := newLiteralSet()
	var out []sas.Axiom
	seenAxioms := make(map[string]bool)
	for i := len(steps) - 1; i >= 0; i-- {
		op, rs, ls := steps[i], realStates[i], lazyStates[i]
		for _, e := range op.Effects {
			preimage.remove(e)
		}
		var needed []model.Literal
		for _, p := range op.Preconditions {
			switch {
			case !isDerived(p):
				preimage.add(p)
			case isAtom(p):
				needed = append(needed, p)
			}
		}
		if len(needed) == 0 {
			continue
		}
		for _, p := range needed {
			preimage.add(remap(p))
		}
		for _, ax := range axioms {
			pre, ok := preimageAxiom(ax, rs, ls, isDerived, remap)
			if !ok {
				continue
			}
			effect := remap(ax.Effect)
			k := effect.Key() + "<-" + literalKeys(pre)
			if seenAxioms[k] {
				continue
			}
			seenAxioms[k] = true
			out = append(out, sas.Axiom{Preconditions: pre, Effect: effect})
		}
	}
	return preimage.literals(), out
}

// preimageAxiom copies ax for the state pair (rs, ls). It reports false
// when ax does not apply in the optimistic state ls.
func preimageAxiom(ax *model.Axiom, rs, ls model.State, isDerived func(model.Literal) bool, remap func(model.Literal) model.Literal) ([]model.Literal, bool) {
	var pre []model.Literal
	for _, p := range ax.Preconditions {
		if isDerived(p) {
			if !isAtom(p) {
				return nil, false
			}
			pre = append(pre, remap(p))
			continue
		}
		if !p.Holds(ls) {
			return nil, false
		}
		if _, set := rs.Get(p.Head()); !set && !p.Head().Function.IsDefined() {
			pre = append(pre, p)
		}
	}
	return pre, true
}

func isAtom(l model.Literal) bool {
	_, ok := l.(model.Atom)
	return ok
}

func literalKeys(lits []model.Literal) string {
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = l.Key()
	}
	return strings.Join(parts, ";")
}

// streamPlannerFor returns the planner for stream plans, which are posed as
// SAS tasks only.
func (s *Solver) streamPlannerFor() planner.Planner {
	switch {
	case s.streamPlanner != nil:
		return s.streamPlanner
	case !planner.WantsPDDL(s.planner):
		return s.planner
	default:
		return astar.New(astar.WithLogger(s.logger))
	}
}

// solveStreams finds the stream calls that would certify plan.
//
// Description:
//
//	The preimage literals not already real form the goal of a planning
//	task whose actions are the bound streams. A stream action requires the
//	instance domain literals that are not real, leaving out isobject facts
//	of placeholders, adds the bound atoms and their domain facts that are
//	not real, and costs the instance effort. An eager stream certifying a single new atom becomes an
//	axiom instead.
//
// Outputs:
//
//	[]boundStream - The calls in order; empty when plan is already real
//	                and nil when plan is nil.
//	error         - ErrInconsistent when no stream plan exists.
func (f *focus) solveStreams(ctx context.Context, u *universe.Universe, plan tamp.Plan, bound []boundStream) ([]boundStream, error) {
	if plan == nil {
		return nil, nil
	}
	if len(plan) == 0 {
		return []boundStream{}, nil
	}
	preimage, axioms := planPreimage(u, f.evals, plan)
	var goal []model.Literal
	for _, p := range preimage {
		if !f.evals.Has(p) {
			goal = append(goal, p)
		}
	}
	if len(goal) == 0 {
		return []boundStream{}, nil
	}

	var actions []sas.Action
	for i, b := range bound {
		var pre []model.Literal
		for _, d := range b.instance.Domain() {
			if f.evals.Has(d) {
				continue
			}
			if d.Head().Function == model.ObjectPredicate && model.IsPlaceholder(d.Head().Args[0]) {
				continue
			}
			pre = append(pre, d)
		}
		var eff []model.Literal
		for _, a := range model.InferEvaluations(b.atoms) {
			if !f.evals.Has(a) {
				eff = append(eff, a)
			}
		}
		if b.instance.Stream().IsEager() && len(eff) == 1 {
			axioms = append(axioms, sas.Axiom{Preconditions: pre, Effect: eff[0], Source: i})
			continue
		}
		actions = append(actions, sas.Action{
			Name:          b.instance.Stream().Name(),
			Preconditions: pre,
			Effects:       append(eff, model.CostIncrease(b.instance.Effort())),
			Source:        i,
		})
	}

	task, err := sas.NewTask(f.evals.Literals(), goal, actions, axioms)
	if err != nil {
		return nil, f.fail("compile stream plan", err)
	}
	req := &planner.Request{Task: task, Options: planner.Options{
		Search:  f.s.streamSearch,
		MaxTime: f.remaining(),
		MaxCost: model.Inf,
		Verbose: f.s.verbose,
	}}
	sol, err := f.call(ctx, f.s.streamPlannerFor(), req)
	if err != nil {
		return nil, err
	}
	if sol == nil {
		if f.expired(ctx) {
			return nil, errStopped
		}
		return nil, f.fail("solve streams", fmt.Errorf("%w: no stream plan certifies %s", ErrInconsistent, plan))
	}
	out := make([]boundStream, 0, len(sol.Steps))
	for _, step := range sol.Steps {
		if step.Operator < 0 || step.Operator >= len(task.Operators) {
			return nil, f.fail("solve streams", fmt.Errorf("%w: unknown stream step %s", ErrInconsistent, step.Name))
		}
		out = append(out, bound[task.Operators[step.Operator].Source.(int)])
	}
	return out, nil
}

// callStreams evaluates the stream plan's instances whose domains are real
// and disables them.
func (f *focus) callStreams(ctx context.Context, calls []boundStream) error {
	if f.s.revisit {
		if err := f.isolatedReset(ctx); err != nil {
			return err
		}
	}
	if f.s.single && len(calls) > 1 {
		calls = calls[:1]
	}
	for _, b := range calls {
		inst := b.instance
		if inst.Enumerated() || inst.Disabled() || !f.evals.HasAll(inst.Domain()) {
			continue
		}
		atoms, err := f.evaluate(ctx, inst)
		if err != nil {
			return err
		}
		f.learn(atoms)
		f.disable(inst)
	}
	return nil
}

// bindCallStreams evaluates the stream plan in order, substituting the real
// outputs of earlier calls for the placeholders later calls consume.
func (f *focus) bindCallStreams(ctx context.Context, calls []boundStream) error {
	if f.s.revisit {
		if err := f.isolatedReset(ctx); err != nil {
			return err
		}
	}
	bindings := make(map[string]model.Object)
	for _, b := range calls {
		old := b.instance
		inputs := make([]model.Object, len(old.Inputs()))
		for i, in := range old.Inputs() {
			inputs[i] = in
			if v, ok := bindings[model.ObjectKey(in)]; ok {
				inputs[i] = v
			}
		}
		inst := old.Stream().Instance(inputs)
		if inst.Enumerated() || !f.evals.HasAll(inst.Domain()) {
			continue
		}
		outs, atoms, err := f.callStream(ctx, inst)
		if err != nil {
			return err
		}
		f.learn(atoms)
		for _, o := range outs {
			for j, p := range b.outputs {
				bindings[model.ObjectKey(p)] = o[j]
			}
		}
		f.disable(inst)
	}
	f.logger.Debug("bound stream outputs", slog.Int("bindings", len(bindings)))
	return nil
}

// DualFocused plans optimistically, then plans the stream calls that would
// make the plan real.
//
// Description:
//
//	Each iteration closes the real evaluations under eager streams and
//	builds a bounded universe. A plan cheaper than the best so far is
//	requested; its preimage is posed as a second planning problem over the
//	bound streams, and the resulting stream plan is evaluated. A plan whose
//	preimage is already real becomes the best plan. The run ends once the
//	best cost beats the terminate cost or nothing is disabled; otherwise
//	disabled instances are reset, isolated when no plan has been found yet.
//
// Inputs:
//
//	ctx     - Cancellation ends the run with the best plan so far.
//	problem - The problem to solve. Defined functions must be eager.
//
// Outputs:
//
//	*Result - The best plan, or a nil Plan when none was found.
//	error   - ErrLazyFunctions, ErrInconsistent, or planner and stream
//	          failures.
func (s *Solver) DualFocused(ctx context.Context, problem *tamp.Problem) (*Result, error) {
	r, ctx, err := s.begin(ctx, DualFocused, problem)
	if err != nil {
		return nil, err
	}
	for _, fn := range problem.DefinedFunctions() {
		if !fn.IsEager() {
			return r.finish(ctx, nil, model.Inf, nil, r.fail("check functions", fmt.Errorf("%w: %s", ErrLazyFunctions, fn.Name())))
		}
	}

	f := newFocus(r, problem)
	var best tamp.Plan
	bestCost := model.Inf
	for !r.expired(ctx) {
		ictx, span := r.nextIteration(ctx,
			slog.Int("disabled", f.disabled.Len()),
			slog.Float64("best_cost", bestCost),
		)
		plan, cost, stop, err := f.dualIteration(ictx, bestCost)
		endSpan(span, err)
		if err != nil {
			return r.finish(ctx, best, bestCost, f.evals.Literals(), err)
		}
		if plan != nil && cost < bestCost {
			best, bestCost = plan, cost
		}
		if stop {
			break
		}
	}
	return r.finish(ctx, best, bestCost, f.evals.Literals(), nil)
}

// dualIteration runs one iteration. It returns a real plan when one was
// found and stop when the run should end.
func (f *focus) dualIteration(ctx context.Context, bestCost float64) (tamp.Plan, float64, bool, error) {
	if err := f.evaluateEager(ctx); err != nil {
		return nil, 0, false, err
	}
	u := f.boundedUniverse(f.problem)
	bound := boundStreams(u)

	plan, err := f.solve(ctx, u, math.Min(bestCost, f.s.maxCost))
	if err != nil {
		return nil, 0, false, err
	}
	cost := u.Cost(plan)
	calls, err := f.solveStreams(ctx, u, plan, bound)
	if err != nil {
		return nil, 0, false, err
	}
	if len(calls) > 0 {
		f.logger.Debug("stream plan", slog.Int("length", len(calls)), slog.Any("calls", calls))
		if f.s.bind {
			err = f.bindCallStreams(ctx, calls)
		} else {
			err = f.callStreams(ctx, calls)
		}
		return nil, 0, false, err
	}

	var found tamp.Plan
	if calls != nil && cost < bestCost {
		found, bestCost = plan, cost
	}
	if bestCost < f.s.terminateCost || f.disabled.Len() == 0 {
		return found, cost, true, nil
	}
	if plan == nil && f.expired(ctx) {
		return found, cost, true, nil
	}
	policy := f.s.reset
	if math.IsInf(bestCost, 1) {
		policy = ResetIsolated
	}
	return found, cost, false, f.reset(ctx, policy)
}
