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
	"sort"
)

// baseFact marks a fact already true in the state the achievers were built
// from.
const baseFact = -1

// Achievers maps every fact derivable in a fixed state to the ground axiom
// that first derives it.
//
// Description:
//
//	Built by forward chaining: the queue is seeded with the facts true in
//	the state, and an axiom fires once all of its atom preconditions are
//	known. The first axiom to become satisfied wins ties. Axioms are held
//	in an arena and referenced by index, so back-tracing never recurses.
//
// Thread Safety: Immutable after construction.
type Achievers struct {
	axioms  []*Axiom
	deriver map[string]int
	facts   []Literal
}

// AxiomAchievers computes the achiever map of ground axiom instances in
// state s.
//
// Only atom preconditions chain through derived facts. Negated and numeric
// preconditions are checked once against s itself, so a negated derived
// fact counts as holding whenever it is absent from s.
func AxiomAchievers(axioms []*Axiom, s State) *Achievers {
	a := &Achievers{axioms: axioms, deriver: make(map[string]int)}

	byPre := make(map[string][]int)
	remaining := make([]int, len(axioms))
	for i, ax := range axioms {
		seen := make(map[string]bool)
		blocked := false
		for _, p := range ax.Preconditions {
			atom, ok := p.(Atom)
			if !ok {
				if !p.Holds(s) {
					blocked = true
				}
				continue
			}
			if seen[atom.Key()] {
				continue
			}
			seen[atom.Key()] = true
			byPre[atom.Key()] = append(byPre[atom.Key()], i)
			remaining[i]++
		}
		if blocked {
			remaining[i] = -1
		}
	}

	var queue []Literal
	for _, l := range s.Literals() {
		if atom, ok := l.(Atom); ok {
			a.record(atom, baseFact)
			queue = append(queue, atom)
		}
	}
	for i, ax := range axioms {
		if remaining[i] == 0 && !a.Has(ax.Effect) {
			a.record(ax.Effect, i)
			queue = append(queue, ax.Effect)
		}
	}
	for len(queue) > 0 {
		fact := queue[0]
		queue = queue[1:]
		for _, i := range byPre[fact.Key()] {
			if remaining[i] <= 0 {
				continue
			}
			remaining[i]--
			if remaining[i] == 0 && !a.Has(axioms[i].Effect) {
				a.record(axioms[i].Effect, i)
				queue = append(queue, axioms[i].Effect)
			}
		}
	}
	return a
}

func (a *Achievers) record(l Literal, i int) {
	a.deriver[l.Key()] = i
	a.facts = append(a.facts, l)
}

// Has reports whether l is true in the base state or derivable.
func (a *Achievers) Has(l Literal) bool {
	_, ok := a.deriver[l.Key()]
	return ok
}

// Deriver returns the axiom deriving l. It returns nil for base facts and
// for facts that are not derivable; ok distinguishes the two.
func (a *Achievers) Deriver(l Literal) (ax *Axiom, ok bool) {
	i, ok := a.deriver[l.Key()]
	if !ok || i == baseFact {
		return nil, ok
	}
	return a.axioms[i], true
}

// Facts lists the base and derived facts in derivation order.
func (a *Achievers) Facts() []Literal { return append([]Literal(nil), a.facts...) }

// Supporters retraces preconditions through their derivers down to the
// literals that are not derived: base facts, negated literals and numeric
// conditions.
func (a *Achievers) Supporters(preconditions []Literal) []Literal {
	var out []Literal
	seenLit := make(map[string]bool)
	seenAx := make(map[int]bool)
	stack := make([]Literal, 0, len(preconditions))
	for i := len(preconditions) - 1; i >= 0; i-- {
		stack = append(stack, preconditions[i])
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, ok := a.deriver[p.Key()]
		if !ok || i == baseFact {
			if !seenLit[p.Key()] {
				seenLit[p.Key()] = true
				out = append(out, p)
			}
			continue
		}
		if seenAx[i] {
			continue
		}
		seenAx[i] = true
		pres := a.axioms[i].Preconditions
		for j := len(pres) - 1; j >= 0; j-- {
			stack = append(stack, pres[j])
		}
	}
	return out
}

// SupportingAxioms returns the axiom instances needed to justify the atom
// goals in s. It reports false when some atom goal has no deriver, which
// means the caller's closure is inconsistent.
func SupportingAxioms(s State, goals []Literal, axioms []*Axiom) ([]*Axiom, bool) {
	a := AxiomAchievers(axioms, s)
	var out []*Axiom
	seen := make(map[int]bool)
	var stack []Literal
	for _, g := range goals {
		if _, ok := g.(Atom); !ok {
			continue
		}
		if !a.Has(g) {
			return nil, false
		}
		stack = append(stack, g)
	}
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, ok := a.deriver[g.Key()]
		if !ok || i == baseFact || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, axioms[i])
		for _, p := range axioms[i].Preconditions {
			if _, ok := p.(Atom); ok {
				stack = append(stack, p)
			}
		}
	}
	return out, true
}

// DerivedFunctions returns the keys of the functions derived by axioms.
func DerivedFunctions(axioms []*Axiom) map[string]bool {
	out := make(map[string]bool)
	for _, ax := range axioms {
		out[ax.Effect.Head().Function.Key()] = true
	}
	return out
}

// ResetDerived clears derived facts and false entries from s.
func ResetDerived(derived map[string]bool, s State) {
	for k, f := range s {
		if derived[f.Head.Function.Key()] {
			delete(s, k)
			continue
		}
		if b, ok := f.Value.(bool); ok && !b {
			delete(s, k)
		}
	}
}

// ApplyAxioms assigns every fact derivable from ground axioms in s.
func ApplyAxioms(axioms []*Axiom, s State) {
	for _, l := range AxiomAchievers(axioms, s).Facts() {
		l.Assign(s)
	}
}

// StateSequence replays ground actions from the initial evaluations and
// returns every intermediate state, initial state included.
func StateSequence(initial []Literal, actions []*Action) []State {
	states := []State{Apply(initial, NewState())}
	for _, a := range actions {
		states = append(states, a.Apply(states[len(states)-1]))
	}
	return states
}

// IsSolution replays the initial pseudo-step, every ground action and the
// goal pseudo-step, recomputing derived facts from the ground axioms before
// each step. It reports whether every step was applicable.
func IsSolution(evals []Literal, actions []*Action, goal []Literal, axioms []*Axiom) bool {
	derived := DerivedFunctions(axioms)
	steps := make([]Operator, 0, len(actions)+2)
	steps = append(steps, InitialOperator(evals))
	for _, a := range actions {
		steps = append(steps, a.Operator)
	}
	steps = append(steps, GoalOperator(goal))

	s := NewState()
	for _, op := range steps {
		ResetDerived(derived, s)
		ApplyAxioms(axioms, s)
		if !op.Applicable(s) {
			return false
		}
		s = op.Apply(s)
	}
	return true
}

// PlanCost replays ground actions and returns the final TotalCost.
func PlanCost(evals []Literal, actions []*Action) float64 {
	states := StateSequence(evals, actions)
	v, _ := states[len(states)-1].Get(TotalCost.Head())
	n, _ := Number(v)
	return n
}

// SortedKeys returns the keys of a set in order.
func SortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
