// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tamp holds the Problem container and plan helpers of the
// stream-based task and motion planner.
//
// Problems are authored once (model functions, actions, axioms and
// stream declarations) and handed to an algorithm in the algorithms
// package, which grounds them lazily through a universe and calls a
// planner until a plan that only uses real stream outputs is found.
package tamp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
)

// Package-level error definitions.
var (
	ErrDuplicateAction  = errors.New("duplicate action name")
	ErrDuplicateStream  = errors.New("duplicate stream name")
	ErrFunctionConflict = errors.New("function name reused with a different signature")
)

// Problem is an immutable stream-augmented planning problem.
//
// Description:
//
//	Initial holds the initial evaluations, deduplicated and sorted so that
//	every algorithm sees them in the same order. Objective is the head
//	being minimized, normally TotalCost; nil means plan length only.
//
// Thread Safety: Safe for concurrent reads. Streams carry mutable instance
// state and must not be shared by concurrently running algorithms.
type Problem struct {
	Initial   []model.Literal
	Goal      []model.Literal
	Actions   []*model.Action
	Axioms    []*model.Axiom
	Streams   []*stream.Stream
	Objective *model.Head
}

// ProblemOption configures a Problem.
type ProblemOption func(*Problem)

// WithObjective sets the minimized head.
func WithObjective(h model.Head) ProblemOption {
	return func(p *Problem) { p.Objective = &h }
}

// MinimizeCost minimizes TotalCost.
func MinimizeCost() ProblemOption {
	return WithObjective(model.TotalCost.Head())
}

// NewProblem validates and builds a problem.
//
// Inputs:
//
//	initial - Initial evaluations.
//	goal    - Goal literals.
//	actions - Lifted actions; names must be unique.
//	axioms  - Lifted axioms.
//	streams - Stream declarations; names must be unique.
//
// Outputs:
//
//	*Problem - The problem.
//	error    - ErrDuplicateAction, ErrDuplicateStream or ErrFunctionConflict.
func NewProblem(initial, goal []model.Literal, actions []*model.Action, axioms []*model.Axiom, streams []*stream.Stream, opts ...ProblemOption) (*Problem, error) {
	initSet := model.NewEvalSet(initial...).Literals()
	model.SortLiterals(initSet)
	p := &Problem{
		Initial: initSet,
		Goal:    append([]model.Literal(nil), goal...),
		Actions: append([]*model.Action(nil), actions...),
		Axioms:  append([]*model.Axiom(nil), axioms...),
		Streams: append([]*stream.Stream(nil), streams...),
	}
	for _, opt := range opts {
		opt(p)
	}

	names := make(map[string]bool)
	for _, a := range p.Actions {
		if names[a.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, a.Name)
		}
		names[a.Name] = true
	}
	streamNames := make(map[string]bool)
	for _, s := range p.Streams {
		if streamNames[s.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, s.Name())
		}
		streamNames[s.Name()] = true
	}
	arity := make(map[string]*model.Function)
	for _, f := range p.Functions() {
		if g, ok := arity[f.Key()]; ok && (g.Arity() != f.Arity() || g.IsPredicate() != f.IsPredicate()) {
			return nil, fmt.Errorf("%w: %s", ErrFunctionConflict, f.Name())
		}
		arity[f.Key()] = f
	}
	return p, nil
}

// Action looks up an action by name.
func (p *Problem) Action(name string) (*model.Action, bool) {
	name = strings.ToLower(name)
	for _, a := range p.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Fluents returns the keys of functions changed by action effects.
func (p *Problem) Fluents() map[string]bool {
	out := make(map[string]bool)
	for _, a := range p.Actions {
		for _, e := range a.Effects {
			out[e.Head().Function.Key()] = true
		}
	}
	return out
}

// Derived returns the keys of functions derived by axioms.
func (p *Problem) Derived() map[string]bool {
	return model.DerivedFunctions(p.Axioms)
}

// Functions returns every function the problem mentions, each once.
func (p *Problem) Functions() []*model.Function {
	var out []*model.Function
	seen := make(map[*model.Function]bool)
	var visit func(lits []model.Literal)
	add := func(f *model.Function) {
		if seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
		visit(f.Domain())
	}
	visit = func(lits []model.Literal) {
		for _, l := range lits {
			for _, h := range l.Heads() {
				add(h.Function)
			}
		}
	}
	visit(p.Initial)
	visit(p.Goal)
	for _, a := range p.Actions {
		visit(a.Preconditions)
		visit(a.Effects)
	}
	for _, ax := range p.Axioms {
		visit(ax.Preconditions)
		visit(ax.Effects)
	}
	for _, s := range p.Streams {
		visit(s.Domain())
		visit(s.Graph())
	}
	return out
}

// DefinedFunctions returns the functions computed by an evaluation rule.
func (p *Problem) DefinedFunctions() []*model.Function {
	var out []*model.Function
	seen := make(map[string]bool)
	for _, f := range p.Functions() {
		if f.IsDefined() && !seen[f.Key()] {
			seen[f.Key()] = true
			out = append(out, f)
		}
	}
	return out
}

// ResetStreams forgets all stream instances so the problem can be solved
// again from scratch.
func (p *Problem) ResetStreams() {
	for _, s := range p.Streams {
		s.ResetInstances()
	}
}

func (p *Problem) String() string {
	return fmt.Sprintf("Problem(initial=%d, goal=%v, actions=%d, axioms=%d, streams=%d)",
		len(p.Initial), p.Goal, len(p.Actions), len(p.Axioms), len(p.Streams))
}
