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

// Literal is a head bound to a value: a fact, a numeric assignment, or a
// cost increment.
type Literal interface {
	// Head is the function application the literal talks about.
	Head() Head

	// Value is true for Atom, false for NegatedAtom, the assigned value for
	// Init and the delta for Increase.
	Value() Object

	// Substitute replaces mapped parameters; constants are untouched.
	Substitute(m Mapping) Literal

	// Holds tests the literal against a state snapshot.
	Holds(s State) bool

	// Assign writes the literal into s.
	Assign(s State)

	// Heads lists every head the literal references.
	Heads() []Head

	// Key identifies the literal (head and value).
	Key() string

	String() string
}

// Atom asserts a predicate head is true.
type Atom struct{ head Head }

// NegatedAtom asserts a predicate head is false.
type NegatedAtom struct{ head Head }

// Init assigns a numeric or object value to a head.
type Init struct {
	head  Head
	value Object
}

// Increase adds a delta to a numeric head. The delta is a number or a Head
// whose value is looked up in the state.
type Increase struct {
	head  Head
	delta Object
}

// NewAtom builds a positive literal.
func NewAtom(h Head) Atom { return Atom{head: h} }

// NewNegatedAtom builds a negative literal.
func NewNegatedAtom(h Head) NegatedAtom { return NegatedAtom{head: h} }

// NewInit builds an assignment literal.
func NewInit(h Head, v Object) Init { return Init{head: h, value: normalizeValue(h.Function, v)} }

// NewIncrease builds a cost increment. delta is a number or a Head.
func NewIncrease(h Head, delta Object) Increase {
	if _, ok := delta.(Head); !ok {
		if n, ok := toFloat(delta); ok {
			delta = n
		}
	}
	return Increase{head: h, delta: delta}
}

// CostIncrease is shorthand for increasing TotalCost by delta.
func CostIncrease(delta Object) Increase {
	return NewIncrease(TotalCost.Head(), delta)
}

// Initialize builds the literal that sets h to v, using Atom and
// NegatedAtom for boolean values.
func Initialize(h Head, v Object) Literal {
	if b, ok := v.(bool); ok {
		if b {
			return Atom{head: h}
		}
		return NegatedAtom{head: h}
	}
	return NewInit(h, v)
}

func (a Atom) Head() Head { return a.head }
func (a Atom) Value() Object { return true }
func (a Atom) Substitute(m Mapping) Literal { return Atom{head: a.head.Substitute(m)} }
func (a Atom) Holds(s State) bool { return s.Truth(a.head) }
func (a Atom) Assign(s State) { s.Set(a.head, true) }
func (a Atom) Heads() []Head { return []Head{a.head} }
func (a Atom) Key() string { return "+" + a.head.key }
func (a Atom) String() string { return a.head.String() }

func (n NegatedAtom) Head() Head { return n.head }
func (n NegatedAtom) Value() Object { return false }
func (n NegatedAtom) Holds(s State) bool { return !s.Truth(n.head) }
func (n NegatedAtom) Assign(s State) { s.Set(n.head, false) }
func (n NegatedAtom) Heads() []Head { return []Head{n.head} }
func (n NegatedAtom) Key() string { return "-" + n.head.key }
func (n NegatedAtom) String() string { return "~" + n.head.String() }

func (i Init) Head() Head { return i.head }
func (i Init) Value() Object { return i.value }
func (i Init) Assign(s State) { s.Set(i.head, i.value) }
func (i Init) Heads() []Head { return []Head{i.head} }
func (i Init) Key() string { return "=" + i.head.key + "=" + ObjectKey(i.value) }
func (i Init) String() string { return i.head.String() + "=" + FormatObject(i.value) }

func (c Increase) Head() Head { return c.head }
func (c Increase) Value() Object { return c.delta }
func (c Increase) Holds(State) bool { return true }
func (c Increase) Key() string { return "^" + c.head.key + "+" + c.deltaKey() }

func (n NegatedAtom) Substitute(m Mapping) Literal {
	return NegatedAtom{head: n.head.Substitute(m)}
}

// Negate flips the literal.
func (a Atom) Negate() NegatedAtom { return NegatedAtom(a) }

// Negate flips the literal.
func (n NegatedAtom) Negate() Atom { return Atom(n) }

func (i Init) Substitute(m Mapping) Literal {
	v := i.value
	if s, ok := v.(string); ok && IsParameter(s) {
		if o, ok := m[s]; ok {
			v = o
		}
	}
	return Init{head: i.head.Substitute(m), value: v}
}

func (i Init) Holds(s State) bool {
	v, ok := s.Get(i.head)
	if !ok {
		return false
	}
	return ObjectKey(v) == ObjectKey(i.value)
}

func (c Increase) Substitute(m Mapping) Literal {
	delta := c.delta
	if h, ok := delta.(Head); ok {
		delta = h.Substitute(m)
	}
	return Increase{head: c.head.Substitute(m), delta: delta}
}

// Delta resolves the increment against a state.
func (c Increase) Delta(s State) float64 {
	if h, ok := c.delta.(Head); ok {
		v, _ := s.Get(h)
		n, _ := toFloat(v)
		return n
	}
	n, _ := toFloat(c.delta)
	return n
}

// DeltaHead returns the head the delta refers to, if the delta is not a
// number.
func (c Increase) DeltaHead() (Head, bool) {
	h, ok := c.delta.(Head)
	return h, ok
}

func (c Increase) Assign(s State) {
	cur, _ := s.Get(c.head)
	n, _ := toFloat(cur)
	s.Set(c.head, n+c.Delta(s))
}

func (c Increase) Heads() []Head {
	if h, ok := c.delta.(Head); ok {
		return []Head{c.head, h}
	}
	return []Head{c.head}
}

func (c Increase) String() string {
	if h, ok := c.delta.(Head); ok {
		return c.head.String() + "+=" + h.String()
	}
	return c.head.String() + "+=" + FormatObject(c.delta)
}

func (c Increase) deltaKey() string {
	if h, ok := c.delta.(Head); ok {
		return h.key
	}
	return ObjectKey(c.delta)
}

// IsFact reports whether l is a boolean literal (Atom or NegatedAtom).
func IsFact(l Literal) bool {
	switch l.(type) {
	case Atom, NegatedAtom:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// Fact is one state entry.
type Fact struct {
	Head  Head
	Value Object
}

// State is a snapshot of head values keyed by head key. Missing predicates
// are false and missing numeric heads are zero.
type State map[string]Fact

// NewState returns an empty state.
func NewState() State { return make(State) }

// Get returns the value assigned to h.
func (s State) Get(h Head) (Object, bool) {
	f, ok := s[h.key]
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// Set assigns v to h.
func (s State) Set(h Head, v Object) { s[h.key] = Fact{Head: h, Value: v} }

// Truth reports whether h is assigned true.
func (s State) Truth(h Head) bool {
	v, ok := s.Get(h)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Copy returns an independent copy.
func (s State) Copy() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Literals renders the state as literals ordered by head key.
func (s State) Literals() []Literal {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Literal, 0, len(keys))
	for _, k := range keys {
		f := s[k]
		out = append(out, Initialize(f.Head, f.Value))
	}
	return out
}

// Apply assigns every literal to a copy of s.
func Apply(effects []Literal, s State) State {
	next := s.Copy()
	for _, e := range effects {
		e.Assign(next)
	}
	return next
}

// Applicable reports whether every literal holds in s.
func Applicable(preconditions []Literal, s State) bool {
	for _, p := range preconditions {
		if !p.Holds(s) {
			return false
		}
	}
	return true
}

// SortLiterals orders literals by their rendering, then by key.
func SortLiterals(lits []Literal) {
	sort.SliceStable(lits, func(i, j int) bool {
		si, sj := lits[i].String(), lits[j].String()
		if si != sj {
			return si < sj
		}
		return lits[i].Key() < lits[j].Key()
	})
}
