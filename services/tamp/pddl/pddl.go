// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pddl renders lifted domains and ground problems as PDDL text.
//
// Everything is typed as "object". Objects are written through a Namer so
// arbitrary Go values can be mapped onto legal PDDL identifiers; the caller
// owns the inverse mapping when reading plans back.
package pddl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// DefaultType is the single PDDL type.
const DefaultType = "object"

// Namer maps a non-parameter object to its PDDL identifier.
type Namer func(model.Object) string

// Writer renders model values as PDDL.
type Writer struct {
	Name Namer
}

// Domain is a lifted PDDL domain.
type Domain struct {
	Name       string
	Predicates []*model.Function
	Functions  []*model.Function
	Actions    []*model.Action
	Axioms     []*model.Axiom
}

// Problem is a ground PDDL problem.
type Problem struct {
	Name      string
	Domain    string
	Objects   []model.Object
	Init      []model.Literal
	Goal      []model.Literal
	Objective *model.Head
}

// Parameter renders a typed parameter.
func Parameter(p string) string { return strings.ToLower(p) + " - " + DefaultType }

func (w Writer) arg(o model.Object) string {
	if model.IsParameter(o) {
		return strings.ToLower(o.(string))
	}
	if w.Name != nil {
		return w.Name(o)
	}
	return model.FormatObject(o)
}

func (w Writer) value(o model.Object) string {
	if h, ok := o.(model.Head); ok {
		return w.Head(h)
	}
	if n, ok := model.Number(o); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return w.arg(o)
}

// Head renders "(name arg...)".
func (w Writer) Head(h model.Head) string {
	if len(h.Args) == 0 {
		return "(" + h.Function.Key() + ")"
	}
	args := make([]string, len(h.Args))
	for i, a := range h.Args {
		args[i] = w.arg(a)
	}
	return "(" + h.Function.Key() + " " + strings.Join(args, " ") + ")"
}

// Literal renders one literal.
func (w Writer) Literal(l model.Literal) string {
	switch v := l.(type) {
	case model.Atom:
		return w.Head(v.Head())
	case model.NegatedAtom:
		return "(not " + w.Head(v.Head()) + ")"
	case model.Increase:
		return "(increase " + w.Head(v.Head()) + " " + w.value(v.Value()) + ")"
	default:
		return "(= " + w.Head(l.Head()) + " " + w.value(l.Value()) + ")"
	}
}

func (w Writer) connective(lits []model.Literal, conn string) string {
	if len(lits) == 1 {
		return w.Literal(lits[0])
	}
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = w.Literal(l)
	}
	if len(parts) == 0 {
		return "(" + conn + ")"
	}
	return "(" + conn + " " + strings.Join(parts, " ") + ")"
}

// Conjunction renders "(and ...)", collapsing a single literal.
func (w Writer) Conjunction(lits []model.Literal) string { return w.connective(lits, "and") }

func signature(f *model.Function) string {
	if f.Arity() == 0 {
		return "(" + f.Key() + ")"
	}
	params := make([]string, f.Arity())
	for i, p := range f.Params() {
		params[i] = Parameter(p)
	}
	return "(" + f.Key() + " " + strings.Join(params, " ") + ")"
}

func signatures(fs []*model.Function) string {
	out := make([]string, 0, len(fs))
	seen := make(map[string]bool)
	for _, f := range fs {
		if !seen[f.Key()] {
			seen[f.Key()] = true
			out = append(out, signature(f))
		}
	}
	sort.Strings(out)
	return strings.Join(out, "\n\t\t")
}

// Action renders a lifted action.
func (w Writer) Action(a *model.Action) string {
	params := make([]string, len(a.Parameters))
	for i, p := range a.Parameters {
		params[i] = Parameter(p)
	}
	return fmt.Sprintf("\t(:action %s\n\t\t:parameters (%s)\n\t\t:precondition %s\n\t\t:effect %s)",
		a.Name, strings.Join(params, " "), w.Conjunction(a.Preconditions), w.Conjunction(a.Effects))
}

// Derived renders every axiom for one derived function as a single
// :derived block over canonical parameters ?d0..?dn. Effect arguments that
// are constants or repeated parameters become equality conditions.
func (w Writer) Derived(f *model.Function, axioms []*model.Axiom) string {
	canon := make([]string, f.Arity())
	head := make([]string, f.Arity())
	for i := range canon {
		canon[i] = "?d" + strconv.Itoa(i)
		head[i] = Parameter(canon[i])
	}
	clauses := make([]string, 0, len(axioms))
	for _, ax := range axioms {
		m := make(model.Mapping)
		var extra []string
		for i, a := range ax.Effect.Head().Args {
			if p, ok := a.(string); ok && model.IsParameter(p) {
				if _, seen := m[p]; !seen {
					m[p] = canon[i]
					continue
				}
				extra = append(extra, "(= "+canon[i]+" "+strings.ToLower(m[p].(string))+")")
				continue
			}
			extra = append(extra, "(= "+canon[i]+" "+w.arg(a)+")")
		}
		var quantified []string
		for _, p := range ax.Parameters {
			if _, ok := m[p]; !ok {
				quantified = append(quantified, Parameter(p))
			}
		}
		parts := extra
		for _, l := range ax.Preconditions {
			parts = append(parts, w.Literal(l.Substitute(m)))
		}
		cond := "(and)"
		switch len(parts) {
		case 0:
		case 1:
			cond = parts[0]
		default:
			cond = "(and " + strings.Join(parts, " ") + ")"
		}
		if len(quantified) > 0 {
			cond = "(exists (" + strings.Join(quantified, " ") + ") " + cond + ")"
		}
		clauses = append(clauses, cond)
	}
	name := "(" + f.Key()
	if len(head) > 0 {
		name += " " + strings.Join(head, " ")
	}
	name += ")"
	return fmt.Sprintf("\t(:derived %s\n\t\t(or %s))", name, strings.Join(clauses, "\n\t\t\t"))
}

// WriteDomain renders a domain.
func (w Writer) WriteDomain(d Domain) string {
	var body []string
	for _, a := range d.Actions {
		body = append(body, w.Action(a))
	}
	byFn := make(map[string][]*model.Axiom)
	var order []*model.Function
	for _, ax := range d.Axioms {
		f := ax.Effect.Head().Function
		if _, ok := byFn[f.Key()]; !ok {
			order = append(order, f)
		}
		byFn[f.Key()] = append(byFn[f.Key()], ax)
	}
	for _, f := range order {
		body = append(body, w.Derived(f, byFn[f.Key()]))
	}
	return fmt.Sprintf("(define (domain %s)\n\t(:requirements :typing)\n\t(:types %s)\n\t(:predicates %s)\n\t(:functions %s)\n%s)\n",
		d.Name, DefaultType, signatures(d.Predicates), signatures(d.Functions), strings.Join(body, "\n"))
}

// WriteProblem renders a problem. Negated literals are omitted from the
// initial state.
func (w Writer) WriteProblem(p Problem) string {
	objects := make([]string, len(p.Objects))
	for i, o := range p.Objects {
		objects[i] = w.arg(o)
	}
	sort.Strings(objects)
	var init []string
	for _, l := range p.Init {
		if _, neg := l.(model.NegatedAtom); neg {
			continue
		}
		init = append(init, w.Literal(l))
	}
	sort.Strings(init)
	goal := w.Conjunction(p.Goal)
	s := fmt.Sprintf("(define (problem %s)\n\t(:domain %s)\n\t(:objects %s - %s)\n\t(:init %s)\n\t(:goal %s)",
		p.Name, p.Domain, strings.Join(objects, " "), DefaultType, strings.Join(init, "\n\t\t"), goal)
	if p.Objective != nil {
		s += "\n\t(:metric minimize " + w.Head(*p.Objective) + ")"
	}
	return s + ")\n"
}
