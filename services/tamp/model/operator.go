// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Operator
// -----------------------------------------------------------------------------

// Operator is a parameterized precondition/effect rule. It is the shared
// body of Action and Axiom.
//
// Description:
//
//	Construction checks three invariants: no parameter is declared twice,
//	every parameter occurs in a precondition or effect, and every
//	parameter-shaped argument in the body is declared. Instantiate binds
//	all parameters and yields a ground operator.
type Operator struct {
	Parameters    []string
	Preconditions []Literal
	Effects       []Literal
}

func newOperator(label string, params []string, pre, eff []Literal) (Operator, error) {
	op := Operator{
		Parameters:    append([]string(nil), params...),
		Preconditions: append([]Literal(nil), pre...),
		Effects:       append([]Literal(nil), eff...),
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p] {
			return Operator{}, &ConfigError{Operator: label, Param: p, Err: ErrDuplicateParameter}
		}
		seen[p] = true
	}
	used := make(map[string]bool)
	for _, a := range op.Arguments() {
		if s, ok := a.(string); ok && IsParameter(s) {
			used[s] = true
			if !seen[s] {
				return Operator{}, &ConfigError{Operator: label, Param: s, Err: ErrUndeclaredParameter}
			}
		}
	}
	for _, p := range params {
		if !used[p] {
			return Operator{}, &ConfigError{Operator: label, Param: p, Err: ErrUnusedParameter}
		}
	}
	return op, nil
}

// NewOperator builds an anonymous operator.
func NewOperator(params []string, pre, eff []Literal) (Operator, error) {
	return newOperator("operator", params, pre, eff)
}

// GoalOperator is the pseudo-step whose preconditions are the goal.
func GoalOperator(goal []Literal) Operator {
	return Operator{Preconditions: goal}
}

// InitialOperator is the pseudo-step whose effects are the initial facts.
func InitialOperator(evals []Literal) Operator {
	return Operator{Effects: evals}
}

// Arguments returns every object and parameter occurring in the body, in
// order of first appearance.
func (o Operator) Arguments() []Object {
	var out []Object
	seen := make(map[string]bool)
	for _, l := range o.body() {
		for _, h := range l.Heads() {
			for _, a := range h.Args {
				k := ObjectKey(a)
				if !seen[k] {
					seen[k] = true
					out = append(out, a)
				}
			}
		}
	}
	return out
}

// Constants returns the arguments that are not parameters.
func (o Operator) Constants() []Object {
	var out []Object
	for _, a := range o.Arguments() {
		if !IsParameter(a) {
			out = append(out, a)
		}
	}
	return out
}

// Functions returns the functions referenced by the body.
func (o Operator) Functions() []*Function {
	var out []*Function
	seen := make(map[string]bool)
	for _, l := range o.body() {
		for _, h := range l.Heads() {
			if !seen[h.Function.Key()] {
				seen[h.Function.Key()] = true
				out = append(out, h.Function)
			}
		}
	}
	return out
}

// Applicable reports whether every precondition holds in s.
func (o Operator) Applicable(s State) bool { return Applicable(o.Preconditions, s) }

// Apply returns the successor of s.
func (o Operator) Apply(s State) State { return Apply(o.Effects, s) }

func (o Operator) body() []Literal {
	out := make([]Literal, 0, len(o.Preconditions)+len(o.Effects))
	out = append(out, o.Preconditions...)
	return append(out, o.Effects...)
}

func (o Operator) mapping(values []Object) Mapping {
	if len(values) != len(o.Parameters) {
		panic(fmt.Sprintf("model: %d parameters, %d values", len(o.Parameters), len(values)))
	}
	m := make(Mapping, len(values))
	for i, p := range o.Parameters {
		m[p] = values[i]
	}
	return m
}

func substituteAll(lits []Literal, m Mapping) []Literal {
	out := make([]Literal, len(lits))
	for i, l := range lits {
		out[i] = l.Substitute(m)
	}
	return out
}

// -----------------------------------------------------------------------------
// Action
// -----------------------------------------------------------------------------

// Action is a named operator usable as a plan step. Names are lower-cased.
type Action struct {
	Name string
	Operator
}

// NewAction builds and validates an action.
func NewAction(name string, params []string, pre, eff []Literal) (*Action, error) {
	name = strings.ToLower(name)
	op, err := newOperator(name, params, pre, eff)
	if err != nil {
		return nil, err
	}
	return &Action{Name: name, Operator: op}, nil
}

// MustAction is NewAction for statically known models; it panics on error.
func MustAction(name string, params []string, pre, eff []Literal) *Action {
	a, err := NewAction(name, params, pre, eff)
	if err != nil {
		panic(err)
	}
	return a
}

// Instantiate binds the parameters to values.
func (a *Action) Instantiate(values []Object) *Action {
	m := a.mapping(values)
	return &Action{
		Name: a.Name,
		Operator: Operator{
			Preconditions: substituteAll(a.Preconditions, m),
			Effects:       substituteAll(a.Effects, m),
		},
	}
}

func (a *Action) String() string { return a.Name }

// -----------------------------------------------------------------------------
// Axiom
// -----------------------------------------------------------------------------

// Axiom derives its single effect whenever its preconditions hold. Several
// axioms may derive the same fact.
type Axiom struct {
	Operator
	Effect Literal
}

// NewAxiom builds and validates an axiom.
func NewAxiom(params []string, pre []Literal, eff Literal) (*Axiom, error) {
	if eff == nil {
		return nil, &ConfigError{Operator: "axiom", Err: ErrInvalidEffect}
	}
	if _, ok := eff.(Increase); ok {
		return nil, &ConfigError{Operator: "axiom " + eff.String(), Err: ErrInvalidEffect}
	}
	op, err := newOperator("axiom "+eff.String(), params, pre, []Literal{eff})
	if err != nil {
		return nil, err
	}
	return &Axiom{Operator: op, Effect: eff}, nil
}

// MustAxiom is NewAxiom for statically known models; it panics on error.
func MustAxiom(params []string, pre []Literal, eff Literal) *Axiom {
	ax, err := NewAxiom(params, pre, eff)
	if err != nil {
		panic(err)
	}
	return ax
}

// Instantiate binds the parameters to values.
func (ax *Axiom) Instantiate(values []Object) *Axiom {
	m := ax.mapping(values)
	eff := ax.Effect.Substitute(m)
	return &Axiom{
		Operator: Operator{
			Preconditions: substituteAll(ax.Preconditions, m),
			Effects:       []Literal{eff},
		},
		Effect: eff,
	}
}

func (ax *Axiom) String() string { return ax.Effect.String() }

// Key identifies a ground axiom instance.
func (ax *Axiom) Key() string {
	var b strings.Builder
	b.WriteString(ax.Effect.Key())
	b.WriteString(":-")
	for _, p := range ax.Preconditions {
		b.WriteString(p.Key())
		b.WriteByte('&')
	}
	return b.String()
}
