// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package universe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/pddl"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/sas"
)

// Package-level error definitions.
var (
	ErrUnknownStep   = errors.New("plan step does not name a known action")
	ErrUnknownObject = errors.New("plan step names an unknown object")
)

// PDDL names of the generated domain and problem.
const (
	DomainName  = "tamp"
	ProblemName = "problem"
)

// maxNameSuffix caps the readable part of an object name.
const maxNameSuffix = 16

type taskCache struct {
	version int
	task    *sas.Task
}

// -----------------------------------------------------------------------------
// Object naming
// -----------------------------------------------------------------------------

// ObjectName returns the PDDL identifier of o: "o<index>" followed by a
// sanitized rendering of the object, so distinct objects never collide.
func (u *Universe) ObjectName(o model.Object) string {
	idx, ok := u.objectKeys[model.ObjectKey(o)]
	if !ok {
		return "x_" + sanitize(model.FormatObject(o))
	}
	name := "o" + strconv.Itoa(idx)
	if s := sanitize(model.FormatObject(o)); s != "" {
		name += "_" + s
	}
	return name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= maxNameSuffix {
				break
			}
		}
	}
	return b.String()
}

// objectByName inverts ObjectName over the registered objects.
func (u *Universe) objectByName() map[string]model.Object {
	out := make(map[string]model.Object, len(u.objects))
	for _, o := range u.objects {
		out[u.ObjectName(o)] = o
	}
	return out
}

// -----------------------------------------------------------------------------
// PDDL
// -----------------------------------------------------------------------------

// PDDL renders the lifted domain and the ground problem over the current
// evaluations.
//
// Outputs:
//
//	domain  - Domain text with every action and derived predicate.
//	problem - Problem text; negated evaluations are omitted.
func (u *Universe) PDDL() (domain, problem string) {
	w := pddl.Writer{Name: u.ObjectName}
	var predicates, functions []*model.Function
	seen := make(map[string]bool)
	add := func(f *model.Function) {
		if seen[f.Key()] {
			return
		}
		seen[f.Key()] = true
		if f.IsPredicate() {
			predicates = append(predicates, f)
		} else {
			functions = append(functions, f)
		}
	}
	for _, f := range u.problem.Functions() {
		add(f)
	}
	add(model.ObjectPredicate)
	add(model.TotalCost)

	domain = w.WriteDomain(pddl.Domain{
		Name:       DomainName,
		Predicates: predicates,
		Functions:  functions,
		Actions:    u.problem.Actions,
		Axioms:     u.problem.Axioms,
	})

	init := u.evals.Literals()
	if obj := u.problem.Objective; obj != nil && !u.evals.Evaluated(*obj) {
		init = append(init, model.NewInit(*obj, 0))
	}
	problem = w.WriteProblem(pddl.Problem{
		Name:      ProblemName,
		Domain:    DomainName,
		Objects:   u.objects,
		Init:      init,
		Goal:      u.problem.Goal,
		Objective: u.problem.Objective,
	})
	return domain, problem
}

// -----------------------------------------------------------------------------
// SAS
// -----------------------------------------------------------------------------

// statics reports whether a function is static: no action changes it and
// no axiom derives it.
func (u *Universe) statics() func(*model.Function) bool {
	fluent := u.problem.Fluents()
	derived := u.problem.Derived()
	return func(f *model.Function) bool {
		k := f.Key()
		return !fluent[k] && !derived[k]
	}
}

// pruneStatic drops preconditions fixed by the initial state. It reports
// false when one of them fails, meaning the instance can never apply.
func pruneStatic(pre []model.Literal, static func(*model.Function) bool, s model.State) ([]model.Literal, bool) {
	out := make([]model.Literal, 0, len(pre))
	for _, p := range pre {
		if model.IsFact(p) && !static(p.Head().Function) {
			out = append(out, p)
			continue
		}
		if !p.Holds(s) {
			return nil, false
		}
	}
	return out, true
}

// Task compiles the reachable ground actions and axioms into a SAS task.
//
// Description:
//
//	Static preconditions are checked against the evaluations and removed;
//	instances with a false static precondition are dropped. Each operator
//	and rule keeps its *GroundAction or *GroundAxiom as Source so plans
//	can be converted back. The task is cached until the evaluations change.
//
// Outputs:
//
//	*sas.Task - The task.
//	error     - A cost error from sas.NewTask.
func (u *Universe) Task() (*sas.Task, error) {
	if u.lastTask != nil && u.lastTask.version == u.version {
		return u.lastTask.task, nil
	}
	g := u.Ground()
	state := u.evals.State()
	static := u.statics()

	actions := make([]sas.Action, 0, len(g.Actions))
	for _, ga := range g.Actions {
		pre, ok := pruneStatic(ga.Instance.Preconditions, static, state)
		if !ok {
			continue
		}
		actions = append(actions, sas.Action{
			Name:          ga.Action.Name,
			Preconditions: pre,
			Effects:       ga.Instance.Effects,
			Source:        ga,
		})
	}
	axioms := make([]sas.Axiom, 0, len(g.Axioms))
	for _, gx := range g.Axioms {
		pre, ok := pruneStatic(gx.Instance.Preconditions, static, state)
		if !ok {
			continue
		}
		axioms = append(axioms, sas.Axiom{Preconditions: pre, Effect: gx.Instance.Effect, Source: gx})
	}

	task, err := sas.NewTask(u.evals.Literals(), u.problem.Goal, actions, axioms)
	if err != nil {
		return nil, fmt.Errorf("compiling task: %w", err)
	}
	u.lastTask = &taskCache{version: u.version, task: task}
	return task, nil
}

// Request builds a planner request over the current evaluations. PDDL text
// is rendered only when withPDDL is set.
func (u *Universe) Request(opts planner.Options, withPDDL bool) (*planner.Request, error) {
	task, err := u.Task()
	if err != nil {
		return nil, err
	}
	req := &planner.Request{Task: task, Options: opts}
	if withPDDL {
		req.Domain, req.Problem = u.PDDL()
	}
	return req, nil
}

// ConvertPlan maps a planner solution back to lifted actions and objects.
// A nil solution yields a nil plan; an empty solution yields an empty,
// non-nil plan.
func (u *Universe) ConvertPlan(sol *planner.Solution) (tamp.Plan, error) {
	if sol == nil {
		return nil, nil
	}
	plan := make(tamp.Plan, 0, len(sol.Steps))
	var names map[string]model.Object
	for _, s := range sol.Steps {
		if s.Operator >= 0 {
			if u.lastTask == nil || s.Operator >= len(u.lastTask.task.Operators) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownStep, s.Name)
			}
			ga, ok := u.lastTask.task.Operators[s.Operator].Source.(*GroundAction)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownStep, s.Name)
			}
			plan = append(plan, tamp.Step{Action: ga.Action, Args: ga.Args})
			continue
		}
		a, ok := u.actionByName[strings.ToLower(s.Name)]
		if !ok || len(a.Parameters) != len(s.Args) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, s.Name)
		}
		if names == nil {
			names = u.objectByName()
		}
		args := make([]model.Object, len(s.Args))
		for i, n := range s.Args {
			o, ok := names[strings.ToLower(n)]
			if !ok {
				return nil, fmt.Errorf("%w: %s in %s", ErrUnknownObject, n, s.Name)
			}
			args[i] = o
		}
		plan = append(plan, tamp.Step{Action: a, Args: args})
	}
	return plan, nil
}
