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

// EvalSet is an insertion-ordered set of evaluations with at most one
// literal per head.
//
// Thread Safety: Not safe for concurrent use.
type EvalSet struct {
	order  []Literal
	byKey  map[string]int
	byHead map[string]int
}

// NewEvalSet returns a set holding lits.
func NewEvalSet(lits ...Literal) *EvalSet {
	s := &EvalSet{byKey: make(map[string]int), byHead: make(map[string]int)}
	for _, l := range lits {
		s.Add(l)
	}
	return s
}

// Add inserts l and reports whether it was new. A literal whose head is
// already assigned a different value is ignored: evaluations are never
// overwritten.
func (s *EvalSet) Add(l Literal) bool {
	if _, ok := s.byKey[l.Key()]; ok {
		return false
	}
	hk := l.Head().Key()
	if _, ok := s.byHead[hk]; ok {
		return false
	}
	s.byKey[l.Key()] = len(s.order)
	s.byHead[hk] = len(s.order)
	s.order = append(s.order, l)
	return true
}

// AddAll inserts every literal and returns the ones that were new.
func (s *EvalSet) AddAll(lits []Literal) []Literal {
	var added []Literal
	for _, l := range lits {
		if s.Add(l) {
			added = append(added, l)
		}
	}
	return added
}

// Has reports whether l is in the set.
func (s *EvalSet) Has(l Literal) bool {
	_, ok := s.byKey[l.Key()]
	return ok
}

// HasAll reports whether every literal is in the set.
func (s *EvalSet) HasAll(lits []Literal) bool {
	for _, l := range lits {
		if !s.Has(l) {
			return false
		}
	}
	return true
}

// Lookup returns the literal assigned to h.
func (s *EvalSet) Lookup(h Head) (Literal, bool) {
	i, ok := s.byHead[h.Key()]
	if !ok {
		return nil, false
	}
	return s.order[i], true
}

// Evaluated reports whether h has a value in the set.
func (s *EvalSet) Evaluated(h Head) bool {
	_, ok := s.byHead[h.Key()]
	return ok
}

// Remove deletes l from the set.
func (s *EvalSet) Remove(l Literal) bool {
	i, ok := s.byKey[l.Key()]
	if !ok {
		return false
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	s.reindex()
	return true
}

func (s *EvalSet) reindex() {
	s.byKey = make(map[string]int, len(s.order))
	s.byHead = make(map[string]int, len(s.order))
	for i, l := range s.order {
		s.byKey[l.Key()] = i
		s.byHead[l.Head().Key()] = i
	}
}

// Literals returns the members in insertion order.
func (s *EvalSet) Literals() []Literal {
	return append([]Literal(nil), s.order...)
}

// Len returns the number of members.
func (s *EvalSet) Len() int { return len(s.order) }

// Copy returns an independent copy.
func (s *EvalSet) Copy() *EvalSet {
	return NewEvalSet(s.order...)
}

// State applies every member to an empty state.
func (s *EvalSet) State() State {
	return Apply(s.order, NewState())
}

// InferEvaluations closes lits under the domains of their functions: an
// evaluation of f(args) implies every literal in f's domain at args.
func InferEvaluations(lits []Literal) []Literal {
	set := NewEvalSet()
	queue := append([]Literal(nil), lits...)
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		if _, ok := l.(Increase); ok {
			continue
		}
		if !set.Add(l) {
			continue
		}
		queue = append(queue, l.Head().Domain()...)
	}
	return set.Literals()
}
