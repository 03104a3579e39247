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
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
)

// factIndex holds positive ground atoms by function key, in insertion order.
type factIndex struct {
	byFn map[string][]model.Head
	keys map[string]bool
}

func newFactIndex() *factIndex {
	return &factIndex{byFn: make(map[string][]model.Head), keys: make(map[string]bool)}
}

func (x *factIndex) add(h model.Head) bool {
	if x.keys[h.Key()] {
		return false
	}
	x.keys[h.Key()] = true
	k := h.Function.Key()
	x.byFn[k] = append(x.byFn[k], h)
	return true
}

func (x *factIndex) remove(h model.Head) {
	if !x.keys[h.Key()] {
		return
	}
	delete(x.keys, h.Key())
	k := h.Function.Key()
	list := x.byFn[k]
	for i, g := range list {
		if g.Key() == h.Key() {
			x.byFn[k] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (x *factIndex) has(h model.Head) bool { return x.keys[h.Key()] }

func (x *factIndex) copy() *factIndex {
	c := newFactIndex()
	for k, v := range x.keys {
		c.keys[k] = v
	}
	for k, v := range x.byFn {
		c.byFn[k] = append([]model.Head(nil), v...)
	}
	return c
}

// unify extends m so that pattern matches fact.
func unify(pattern, fact model.Head, m model.Mapping) (model.Mapping, bool) {
	if pattern.Function.Key() != fact.Function.Key() || len(pattern.Args) != len(fact.Args) {
		return nil, false
	}
	out := m
	copied := false
	for i, a := range pattern.Args {
		v := fact.Args[i]
		if !model.IsParameter(a) {
			if model.ObjectKey(a) != model.ObjectKey(v) {
				return nil, false
			}
			continue
		}
		p := a.(string)
		if bound, ok := out[p]; ok {
			if model.ObjectKey(bound) != model.ObjectKey(v) {
				return nil, false
			}
			continue
		}
		if !copied {
			out = make(model.Mapping, len(m)+len(pattern.Args))
			for k, w := range m {
				out[k] = w
			}
			copied = true
		}
		out[p] = v
	}
	return out, true
}

// join enumerates every mapping extending m that satisfies all patterns
// against idx.
func join(patterns []model.Head, m model.Mapping, idx *factIndex, emit func(model.Mapping)) {
	if len(patterns) == 0 {
		emit(m)
		return
	}
	first, rest := patterns[0], patterns[1:]
	candidates := idx.byFn[first.Function.Key()]
	for i := 0; i < len(candidates); i++ {
		if next, ok := unify(first, candidates[i], m); ok {
			join(rest, next, idx, emit)
		}
	}
}

// joinWith enumerates the mappings that satisfy patterns and use fact for
// at least one pattern. Mappings found through several positions are
// emitted more than once; callers deduplicate.
func joinWith(patterns []model.Head, fact model.Head, idx *factIndex, emit func(model.Mapping)) {
	for i, p := range patterns {
		m, ok := unify(p, fact, model.Mapping{})
		if !ok {
			continue
		}
		rest := make([]model.Head, 0, len(patterns)-1)
		rest = append(rest, patterns[:i]...)
		rest = append(rest, patterns[i+1:]...)
		join(rest, m, idx, emit)
	}
}

// Queue is a FIFO of stream instances.
type Queue struct {
	items []*stream.Instance
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends inst.
func (q *Queue) Push(inst *stream.Instance) { q.items = append(q.items, inst) }

// Pop removes and returns the oldest instance.
func (q *Queue) Pop() (*stream.Instance, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	inst := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return inst, true
}

// Len returns the number of queued instances.
func (q *Queue) Len() int { return len(q.items) }

// Items returns the queued instances, oldest first.
func (q *Queue) Items() []*stream.Instance { return append([]*stream.Instance(nil), q.items...) }
