// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package universe computes the finite, lazily grounded view of a problem
// that a planner can search.
//
// A Universe is built from a Problem and the evaluations known so far. It
// folds new evaluations in monotonically, grounds stream instances and
// defined-function heads whose domains become satisfied, and compiles the
// reachable ground actions and axioms into PDDL or SAS. Universes are
// disposable: algorithms build a fresh one every iteration.
package universe

import (
	"log/slog"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
)

// DefaultMaxPlaceholderDepth bounds how many placeholder generations may
// feed each other when bounds are enabled.
const DefaultMaxPlaceholderDepth = 3

// Options selects how a Universe treats streams and defined functions.
type Options struct {
	// UseBounds admits placeholder outputs and static function bounds.
	UseBounds bool

	// OnlyEager restricts grounding to eager streams and eager functions.
	OnlyEager bool

	// MaxPlaceholderDepth limits placeholder nesting; 0 means the default.
	MaxPlaceholderDepth int

	// Logger receives debug output; nil means slog.Default().
	Logger *slog.Logger
}

// Universe is the bounded closure of a problem over known evaluations.
//
// Description:
//
//	AddEval is the only way facts enter. Each new atom is indexed by
//	function, registers its objects (adding isobject facts), adds the
//	domain facts it implies, and triggers a semi-naive join against every
//	stream and defined function whose domain mentions that function. Each
//	stream instance and defined-function head is consulted at most once.
//
// Thread Safety: Not safe for concurrent use.
type Universe struct {
	problem *tamp.Problem
	opts    Options
	logger  *slog.Logger

	evals *model.EvalSet
	atoms *factIndex

	objects    []model.Object
	objectKeys map[string]int

	// StreamQueue holds grounded instances awaiting expansion.
	StreamQueue *Queue

	// Deferred holds non-eager instances found while OnlyEager is set.
	Deferred []*stream.Instance

	seenInstances map[string]bool
	seenHeads     map[string]bool

	streamsByFn   map[string][]*stream.Stream
	functionsByFn map[string][]*model.Function
	defined       []*model.Function
	functionDom   map[*model.Function][]model.Literal

	axiomsFromDerived map[string][]*model.Axiom
	actionByName      map[string]*model.Action

	grounding     *Grounding
	groundVersion int
	version       int
	lastTask      *taskCache
}

// New builds the universe of problem over evals.
func New(problem *tamp.Problem, evals []model.Literal, opts Options) *Universe {
	if opts.MaxPlaceholderDepth <= 0 {
		opts.MaxPlaceholderDepth = DefaultMaxPlaceholderDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u := &Universe{
		problem:           problem,
		opts:              opts,
		logger:            logger.With(slog.String("component", "universe")),
		evals:             model.NewEvalSet(),
		atoms:             newFactIndex(),
		objectKeys:        make(map[string]int),
		StreamQueue:       NewQueue(),
		seenInstances:     make(map[string]bool),
		seenHeads:         make(map[string]bool),
		streamsByFn:       make(map[string][]*stream.Stream),
		functionsByFn:     make(map[string][]*model.Function),
		functionDom:       make(map[*model.Function][]model.Literal),
		axiomsFromDerived: make(map[string][]*model.Axiom),
		actionByName:      make(map[string]*model.Action),
	}
	for _, a := range problem.Actions {
		u.actionByName[a.Name] = a
	}
	for _, ax := range problem.Axioms {
		k := ax.Effect.Head().Function.Key()
		u.axiomsFromDerived[k] = append(u.axiomsFromDerived[k], ax)
	}
	for _, s := range problem.Streams {
		for _, k := range domainFunctions(s.Domain()) {
			u.streamsByFn[k] = append(u.streamsByFn[k], s)
		}
	}
	for _, f := range problem.DefinedFunctions() {
		dom := functionDomain(f)
		u.defined = append(u.defined, f)
		u.functionDom[f] = dom
		for _, k := range domainFunctions(dom) {
			u.functionsByFn[k] = append(u.functionsByFn[k], f)
		}
	}

	for _, s := range problem.Streams {
		if len(s.Inputs()) == 0 {
			u.addInstance(s.Instance(nil))
		}
	}
	for _, f := range u.defined {
		if f.Arity() == 0 {
			u.addHead(f.Head())
		}
	}
	for _, o := range problemConstants(problem) {
		u.registerObject(o)
	}
	for _, l := range evals {
		u.AddEval(l)
	}
	return u
}

// Problem returns the problem the universe was built from.
func (u *Universe) Problem() *tamp.Problem { return u.problem }

// Options returns the construction options.
func (u *Universe) Options() Options { return u.opts }

// Evaluations returns the current evaluation set. Callers must not mutate it
// directly; use AddEval and Retract.
func (u *Universe) Evaluations() *model.EvalSet { return u.evals }

// Objects returns the known objects in registration order.
func (u *Universe) Objects() []model.Object { return append([]model.Object(nil), u.objects...) }

// DefinedFunctions returns the problem's defined functions.
func (u *Universe) DefinedFunctions() []*model.Function { return u.defined }

// AxiomsFromDerived maps derived function keys to their lifted axioms.
func (u *Universe) AxiomsFromDerived() map[string][]*model.Axiom { return u.axiomsFromDerived }

// IsDerived reports whether f is derived by an axiom.
func (u *Universe) IsDerived(f *model.Function) bool {
	_, ok := u.axiomsFromDerived[f.Key()]
	return ok
}

// ActionByName looks up a lifted action.
func (u *Universe) ActionByName(name string) (*model.Action, bool) {
	a, ok := u.actionByName[name]
	return a, ok
}

// AddEval folds l into the universe and reports whether it was new.
func (u *Universe) AddEval(l model.Literal) bool {
	if _, ok := l.(model.Increase); ok {
		return false
	}
	if !u.evals.Add(l) {
		return false
	}
	u.version++
	h := l.Head()
	for _, a := range h.Args {
		u.registerObject(a)
	}
	if atom, ok := l.(model.Atom); ok {
		u.atoms.add(atom.Head())
		u.trigger(atom.Head())
	}
	for _, d := range h.Domain() {
		u.AddEval(d)
	}
	return true
}

// AddEvals folds every literal in.
func (u *Universe) AddEvals(lits []model.Literal) {
	for _, l := range lits {
		u.AddEval(l)
	}
}

// Retract hides a previously added evaluation from compilation. Groundings
// already triggered by it are kept.
func (u *Universe) Retract(l model.Literal) bool {
	if !u.evals.Remove(l) {
		return false
	}
	u.version++
	if atom, ok := l.(model.Atom); ok {
		u.atoms.remove(atom.Head())
	}
	return true
}

// Cost replays plan over the universe evaluations.
func (u *Universe) Cost(plan tamp.Plan) float64 {
	return tamp.Cost(plan, u.evals.Literals())
}

func (u *Universe) registerObject(o model.Object) {
	if model.IsParameter(o) {
		return
	}
	k := model.ObjectKey(o)
	if _, ok := u.objectKeys[k]; ok {
		return
	}
	u.objectKeys[k] = len(u.objects)
	u.objects = append(u.objects, o)
	u.AddEval(model.ObjectPredicate.Atom(o))
}

// trigger grounds every stream instance and defined-function head whose
// domain is satisfied by a join that uses fact.
func (u *Universe) trigger(fact model.Head) {
	fk := fact.Function.Key()
	for _, s := range u.streamsByFn[fk] {
		patterns := heads(s.Domain())
		joinWith(patterns, fact, u.atoms, func(m model.Mapping) {
			inputs := make([]model.Object, len(s.Inputs()))
			for i, p := range s.Inputs() {
				inputs[i] = m[p]
			}
			u.addInstance(s.Instance(inputs))
		})
	}
	for _, f := range u.functionsByFn[fk] {
		patterns := heads(u.functionDom[f])
		joinWith(patterns, fact, u.atoms, func(m model.Mapping) {
			args := make([]model.Object, f.Arity())
			for i, p := range f.Params() {
				args[i] = m[p]
			}
			u.addHead(f.Head(args...))
		})
	}
}

func (u *Universe) addInstance(inst *stream.Instance) {
	if u.seenInstances[inst.Key()] {
		return
	}
	u.seenInstances[inst.Key()] = true
	if stream.Depth(inst.Inputs()) >= u.opts.MaxPlaceholderDepth {
		u.logger.Debug("placeholder depth limit", slog.String("instance", inst.String()))
		return
	}
	if u.opts.OnlyEager && !inst.Stream().IsEager() {
		u.Deferred = append(u.Deferred, inst)
		return
	}
	u.StreamQueue.Push(inst)
}

// addHead evaluates or bounds a defined-function head whose domain holds.
func (u *Universe) addHead(h model.Head) {
	if u.seenHeads[h.Key()] {
		return
	}
	u.seenHeads[h.Key()] = true
	if u.evals.Evaluated(h) {
		return
	}
	f := h.Function
	real := h.IsGround() && !h.HasPlaceholder()
	if real && (f.IsEager() || (!u.opts.UseBounds && !u.opts.OnlyEager)) {
		l, err := h.Evaluate()
		if err != nil {
			u.logger.Warn("function evaluation failed", slog.String("head", h.String()), slog.String("error", err.Error()))
			return
		}
		u.AddEval(l)
		return
	}
	if !u.opts.UseBounds {
		return
	}
	if l, ok := h.BoundLiteral(); ok {
		u.AddEval(l)
	}
}

// functionDomain is the function domain plus isobject for every parameter.
func functionDomain(f *model.Function) []model.Literal {
	dom := append([]model.Literal(nil), f.Domain()...)
	for _, p := range f.Params() {
		dom = append(dom, model.ObjectPredicate.Atom(p))
	}
	return dom
}

func domainFunctions(lits []model.Literal) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range lits {
		k := l.Head().Function.Key()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func heads(lits []model.Literal) []model.Head {
	out := make([]model.Head, 0, len(lits))
	for _, l := range lits {
		if _, ok := l.(model.Atom); ok {
			out = append(out, l.Head())
		}
	}
	return out
}

func problemConstants(p *tamp.Problem) []model.Object {
	var out []model.Object
	add := func(objs []model.Object) { out = append(out, objs...) }
	for _, a := range p.Actions {
		add(a.Constants())
	}
	for _, ax := range p.Axioms {
		add(ax.Constants())
	}
	add(model.GoalOperator(p.Goal).Constants())
	return out
}
