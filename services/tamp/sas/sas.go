// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sas builds finite-domain planning tasks and writes them in the
// Fast Downward translator output format (version 3).
//
// Every boolean head that appears in a goal or precondition becomes a
// binary variable whose value 0 is false and 1 is true. Variables derived
// by axioms sit in axiom layer 0; all others are in layer -1. Costs are
// scaled integers.
package sas

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// Package-level error definitions.
var (
	ErrCostOverflow   = errors.New("action cost exceeds the planner's integer range")
	ErrNegativeCost   = errors.New("action cost is negative")
	ErrUnresolvedCost = errors.New("action cost refers to an unevaluated function")
)

// CostScale multiplies costs before rounding them up to integers.
const CostScale = 1

// MaxCost is the largest scaled cost the planner accepts.
const MaxCost = float64(math.MaxInt32) / 100

// TransformCost scales and rounds a cost up.
//
// Outputs:
//
//	int   - ceil(CostScale * cost).
//	error - ErrNegativeCost or ErrCostOverflow.
func TransformCost(cost float64) (int, error) {
	if cost < 0 {
		return 0, fmt.Errorf("%w: %v", ErrNegativeCost, cost)
	}
	c := math.Ceil(CostScale * cost)
	if c >= MaxCost || math.IsNaN(c) {
		return 0, fmt.Errorf("%w: %v", ErrCostOverflow, cost)
	}
	return int(c), nil
}

// Value indexes of every binary variable.
const (
	False = 0
	True  = 1
)

// Fact is a variable assignment.
type Fact struct {
	Var int
	Val int
}

// Variable is a binary state variable over one boolean head.
type Variable struct {
	Head    model.Head
	Derived bool
}

// Operator is a ground action over variables.
type Operator struct {
	Name    string
	Prevail []Fact
	Effects []Effect
	Cost    int
	Source  any
}

// Effect assigns Post to Var, requiring Pre first (-1 for any value).
type Effect struct {
	Var  int
	Pre  int
	Post int
}

// Rule is a ground axiom.
type Rule struct {
	Conditions []Fact
	Effect     Fact
	Source     any
}

// Action is a ground action in model terms.
type Action struct {
	Name          string
	Preconditions []model.Literal
	Effects       []model.Literal
	Source        any
}

// Axiom is a ground axiom in model terms.
type Axiom struct {
	Preconditions []model.Literal
	Effect        model.Literal
	Source        any
}

// Task is a finite-domain planning task.
//
// Description:
//
//	Variables are created only for heads read by a goal or a precondition,
//	so facts nothing ever tests drop out. Operators whose effects all touch
//	unread heads are discarded, as are operators with contradictory
//	preconditions.
//
// Thread Safety: Immutable after NewTask.
type Task struct {
	Variables []Variable
	Initial   []int
	Goal      []Fact
	Operators []Operator
	Rules     []Rule

	index map[string]int
}

// NewTask indexes and builds a task.
//
// Inputs:
//
//	initial - Initial literals; heads not listed start false.
//	goal    - Goal literals.
//	actions - Ground actions; Increase effects with numeric deltas form the
//	          cost.
//	axioms  - Ground axioms.
//
// Outputs:
//
//	*Task - The task.
//	error - A cost error if some action cost cannot be encoded.
func NewTask(initial, goal []model.Literal, actions []Action, axioms []Axiom) (*Task, error) {
	t := &Task{index: make(map[string]int)}
	read := func(lits []model.Literal) {
		for _, l := range lits {
			if model.IsFact(l) {
				t.variable(l.Head())
			}
		}
	}
	read(goal)
	for _, a := range actions {
		read(a.Preconditions)
	}
	for _, ax := range axioms {
		read(ax.Preconditions)
	}

	for _, ax := range axioms {
		eff, ok := t.fact(ax.Effect)
		if !ok {
			continue
		}
		conds, ok := t.conditions(ax.Preconditions)
		if !ok {
			continue
		}
		t.Variables[eff.Var].Derived = true
		t.Rules = append(t.Rules, Rule{Conditions: conds, Effect: eff, Source: ax.Source})
	}

	for _, a := range actions {
		op, ok, err := t.operator(a)
		if err != nil {
			return nil, err
		}
		if ok {
			t.Operators = append(t.Operators, op)
		}
	}

	t.Initial = make([]int, len(t.Variables))
	for _, l := range initial {
		if f, ok := t.fact(l); ok && !t.Variables[f.Var].Derived {
			t.Initial[f.Var] = f.Val
		}
	}
	for _, l := range goal {
		if f, ok := t.fact(l); ok {
			t.Goal = append(t.Goal, f)
		}
	}
	return t, nil
}

func (t *Task) variable(h model.Head) int {
	if i, ok := t.index[h.Key()]; ok {
		return i
	}
	i := len(t.Variables)
	t.index[h.Key()] = i
	t.Variables = append(t.Variables, Variable{Head: h})
	return i
}

// fact maps a boolean literal onto a known variable.
func (t *Task) fact(l model.Literal) (Fact, bool) {
	if !model.IsFact(l) {
		return Fact{}, false
	}
	i, ok := t.index[l.Head().Key()]
	if !ok {
		return Fact{}, false
	}
	if _, neg := l.(model.NegatedAtom); neg {
		return Fact{Var: i, Val: False}, true
	}
	return Fact{Var: i, Val: True}, true
}

// conditions maps preconditions, reporting false if they contradict.
func (t *Task) conditions(lits []model.Literal) ([]Fact, bool) {
	var out []Fact
	seen := make(map[int]int)
	for _, l := range lits {
		f, ok := t.fact(l)
		if !ok {
			continue
		}
		if v, dup := seen[f.Var]; dup {
			if v != f.Val {
				return nil, false
			}
			continue
		}
		seen[f.Var] = f.Val
		out = append(out, f)
	}
	return out, true
}

func (t *Task) operator(a Action) (Operator, bool, error) {
	pre, ok := t.conditions(a.Preconditions)
	if !ok {
		return Operator{}, false, nil
	}
	post := make(map[int]int)
	var order []int
	cost := 0.0
	for _, e := range a.Effects {
		if inc, ok := e.(model.Increase); ok {
			if _, lazy := inc.DeltaHead(); lazy {
				return Operator{}, false, fmt.Errorf("%w: %s in %s", ErrUnresolvedCost, inc, a.Name)
			}
			n, _ := model.Number(inc.Value())
			cost += n
			continue
		}
		f, ok := t.fact(e)
		if !ok {
			continue
		}
		if v, dup := post[f.Var]; dup {
			// Add wins over delete on the same head.
			post[f.Var] = max(v, f.Val)
			continue
		}
		post[f.Var] = f.Val
		order = append(order, f.Var)
	}
	if len(order) == 0 {
		return Operator{}, false, nil
	}
	c, err := TransformCost(cost)
	if err != nil {
		return Operator{}, false, fmt.Errorf("%s: %w", a.Name, err)
	}

	preOf := make(map[int]int, len(pre))
	for _, f := range pre {
		preOf[f.Var] = f.Val
	}
	op := Operator{Name: a.Name, Cost: c, Source: a.Source}
	for _, f := range pre {
		if _, affected := post[f.Var]; !affected {
			op.Prevail = append(op.Prevail, f)
		}
	}
	for _, v := range order {
		p, ok := preOf[v]
		if !ok {
			p = -1
		}
		op.Effects = append(op.Effects, Effect{Var: v, Pre: p, Post: post[v]})
	}
	return op, true, nil
}

// Preconditions returns every condition of op, prevail and effect
// preconditions together.
func (op Operator) Preconditions() []Fact {
	out := append([]Fact(nil), op.Prevail...)
	for _, e := range op.Effects {
		if e.Pre >= 0 {
			out = append(out, Fact{Var: e.Var, Val: e.Pre})
		}
	}
	return out
}

// VarIndex returns the variable of a head.
func (t *Task) VarIndex(h model.Head) (int, bool) {
	i, ok := t.index[h.Key()]
	return i, ok
}

// OperatorName is the name an operator is written under.
func OperatorName(i int) string { return "a-" + strconv.Itoa(i) }

// ParseOperatorName inverts OperatorName.
func ParseOperatorName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "a-")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Encode writes the task in translator output format.
func (t *Task) Encode(w io.Writer) error {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	line("begin_version")
	line("3")
	line("end_version")
	line("begin_metric")
	line("1")
	line("end_metric")

	line("%d", len(t.Variables))
	for i, v := range t.Variables {
		layer := -1
		if v.Derived {
			layer = 0
		}
		line("begin_variable")
		line("var%d", i)
		line("%d", layer)
		line("2")
		line("%d-%d", i, False)
		line("%d-%d", i, True)
		line("end_variable")
	}

	line("0")

	line("begin_state")
	for _, v := range t.Initial {
		line("%d", v)
	}
	line("end_state")

	line("begin_goal")
	line("%d", len(t.Goal))
	for _, f := range t.Goal {
		line("%d %d", f.Var, f.Val)
	}
	line("end_goal")

	line("%d", len(t.Operators))
	for i, op := range t.Operators {
		line("begin_operator")
		line("%s", OperatorName(i))
		line("%d", len(op.Prevail))
		for _, f := range op.Prevail {
			line("%d %d", f.Var, f.Val)
		}
		line("%d", len(op.Effects))
		for _, e := range op.Effects {
			line("0 %d %d %d", e.Var, e.Pre, e.Post)
		}
		line("%d", op.Cost)
		line("end_operator")
	}

	line("%d", len(t.Rules))
	for _, r := range t.Rules {
		line("begin_rule")
		line("%d", len(r.Conditions))
		for _, f := range r.Conditions {
			line("%d %d", f.Var, f.Val)
		}
		line("%d -1 %d", r.Effect.Var, r.Effect.Val)
		line("end_rule")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// String encodes the task.
func (t *Task) String() string {
	var b strings.Builder
	_ = t.Encode(&b)
	return b.String()
}
