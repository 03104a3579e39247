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
	"strconv"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// GroundAction is a reachable action instance.
type GroundAction struct {
	Action   *model.Action
	Args     []model.Object
	Instance *model.Action
}

// GroundAxiom is a reachable axiom instance.
type GroundAxiom struct {
	Axiom    *model.Axiom
	Args     []model.Object
	Instance *model.Axiom
}

// Grounding is the relaxed-reachable part of a universe.
type Grounding struct {
	Actions []*GroundAction
	Axioms  []*GroundAxiom
}

func argsKey(args []model.Object) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = model.ObjectKey(a)
	}
	return strings.Join(parts, ",")
}

// Ground instantiates every action and axiom reachable from the current
// evaluations under delete relaxation.
//
// Description:
//
//	Positive atom preconditions are joined against the reached facts;
//	parameters they leave unbound range over all objects. Negative and
//	numeric preconditions are left to search. Positive effects of new
//	instances extend the reached facts until a fixpoint. Cost deltas that
//	name a function head are replaced by the head's evaluated value; an
//	action whose cost is unknown is skipped. The result is cached until
//	the evaluations change.
func (u *Universe) Ground() *Grounding {
	if u.grounding != nil && u.groundVersion == u.version {
		return u.grounding
	}
	reached := u.atoms.copy()
	g := &Grounding{}
	seen := make(map[string]bool)

	for changed := true; changed; {
		changed = false
		for i, ax := range u.problem.Axioms {
			u.instantiate(ax.Parameters, ax.Preconditions, reached, func(args []model.Object) {
				k := "x" + strconv.Itoa(i) + ":" + argsKey(args)
				if seen[k] {
					return
				}
				seen[k] = true
				inst := ax.Instantiate(args)
				g.Axioms = append(g.Axioms, &GroundAxiom{Axiom: ax, Args: args, Instance: inst})
				if atom, ok := inst.Effect.(model.Atom); ok && reached.add(atom.Head()) {
					changed = true
				}
			})
		}
		for i, a := range u.problem.Actions {
			u.instantiate(a.Parameters, a.Preconditions, reached, func(args []model.Object) {
				k := "a" + strconv.Itoa(i) + ":" + argsKey(args)
				if seen[k] {
					return
				}
				seen[k] = true
				inst, ok := u.resolveCosts(a.Instantiate(args))
				if !ok {
					return
				}
				g.Actions = append(g.Actions, &GroundAction{Action: a, Args: args, Instance: inst})
				for _, e := range inst.Effects {
					if atom, ok := e.(model.Atom); ok && reached.add(atom.Head()) {
						changed = true
					}
				}
			})
		}
	}
	u.grounding = g
	u.groundVersion = u.version
	return g
}

// instantiate enumerates argument tuples for params that satisfy the
// positive atom preconditions in idx.
func (u *Universe) instantiate(params []string, pre []model.Literal, idx *factIndex, emit func([]model.Object)) {
	patterns := heads(pre)
	join(patterns, model.Mapping{}, idx, func(m model.Mapping) {
		var free []string
		for _, p := range params {
			if _, ok := m[p]; !ok {
				free = append(free, p)
			}
		}
		u.extend(free, m, func(full model.Mapping) {
			args := make([]model.Object, len(params))
			for i, p := range params {
				args[i] = full[p]
			}
			emit(args)
		})
	})
}

func (u *Universe) extend(free []string, m model.Mapping, emit func(model.Mapping)) {
	if len(free) == 0 {
		emit(m)
		return
	}
	objects := u.objects
	for _, o := range objects {
		next := make(model.Mapping, len(m)+1)
		for k, v := range m {
			next[k] = v
		}
		next[free[0]] = o
		u.extend(free[1:], next, emit)
	}
}

// resolveCosts replaces head-valued cost deltas with their values.
func (u *Universe) resolveCosts(a *model.Action) (*model.Action, bool) {
	resolved := false
	effects := make([]model.Literal, len(a.Effects))
	for i, e := range a.Effects {
		effects[i] = e
		inc, ok := e.(model.Increase)
		if !ok {
			continue
		}
		h, ok := inc.DeltaHead()
		if !ok {
			continue
		}
		l, ok := u.evals.Lookup(h)
		if !ok {
			return nil, false
		}
		n, ok := model.Number(l.Value())
		if !ok {
			return nil, false
		}
		effects[i] = model.NewIncrease(inc.Head(), n)
		resolved = true
	}
	if !resolved {
		return a, true
	}
	return &model.Action{Name: a.Name, Operator: model.Operator{Preconditions: a.Preconditions, Effects: effects}}, true
}

// ActionInstances returns the reachable ground actions.
func (u *Universe) ActionInstances() []*GroundAction { return u.Ground().Actions }

// AxiomInstances returns the reachable ground axioms.
func (u *Universe) AxiomInstances() []*model.Axiom {
	g := u.Ground()
	out := make([]*model.Axiom, len(g.Axioms))
	for i, ax := range g.Axioms {
		out[i] = ax.Instance
	}
	return out
}
