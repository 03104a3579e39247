// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// BoundKind selects how a stream predicts its outputs before evaluation.
type BoundKind int

const (
	// BoundUnique predicts one fresh placeholder per (instance, output).
	BoundUnique BoundKind = iota

	// BoundShared predicts one placeholder per (stream, output), reused by
	// every instance.
	BoundShared

	// BoundNone predicts nothing: the stream's facts stay unknown until it
	// is evaluated.
	BoundNone

	// BoundCustom delegates to an author supplied function.
	BoundCustom
)

func (k BoundKind) String() string {
	switch k {
	case BoundUnique:
		return "unique"
	case BoundShared:
		return "shared"
	case BoundNone:
		return "none"
	case BoundCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Bound is the closed set of output prediction policies.
type Bound struct {
	kind   BoundKind
	custom func(inputs ...model.Object) []Tuple
}

// Built-in bound policies.
var (
	Unique  = Bound{kind: BoundUnique}
	Shared  = Bound{kind: BoundShared}
	NoBound = Bound{kind: BoundNone}
)

// Custom returns a policy whose predicted output tuples come from fn.
func Custom(fn func(inputs ...model.Object) []Tuple) Bound {
	return Bound{kind: BoundCustom, custom: fn}
}

// Kind returns the policy variant.
func (b Bound) Kind() BoundKind { return b.kind }

func (b Bound) outputs(s *Stream, inputs []model.Object) []Tuple {
	switch b.kind {
	case BoundUnique:
		out := make(Tuple, len(s.outputs))
		for i := range s.outputs {
			out[i] = placeholders.unique(s, inputs, i)
		}
		return []Tuple{out}
	case BoundShared:
		out := make(Tuple, len(s.outputs))
		for i := range s.outputs {
			out[i] = placeholders.shared(s, i)
		}
		return []Tuple{out}
	case BoundCustom:
		if b.custom == nil {
			return nil
		}
		return b.custom(inputs...)
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Placeholders
// -----------------------------------------------------------------------------

// OutputSet stands for output Index of the instance of Stream at Inputs.
type OutputSet struct {
	stream *Stream
	inputs []model.Object
	index  int
	key    string
	label  string
}

// PlaceholderKey identifies the placeholder.
func (o *OutputSet) PlaceholderKey() string { return o.key }

// Stream returns the stream the placeholder belongs to.
func (o *OutputSet) Stream() *Stream { return o.stream }

// Inputs returns the instance inputs.
func (o *OutputSet) Inputs() []model.Object { return o.inputs }

// Index returns the output position.
func (o *OutputSet) Index() int { return o.index }

// Instance returns the stream instance that would produce the output.
func (o *OutputSet) Instance() *Instance { return o.stream.Instance(o.inputs) }

func (o *OutputSet) String() string { return o.label }

// SharedOutputSet stands for output Index of any instance of Stream.
type SharedOutputSet struct {
	stream *Stream
	index  int
	key    string
	label  string
}

// PlaceholderKey identifies the placeholder.
func (o *SharedOutputSet) PlaceholderKey() string { return o.key }

// Stream returns the stream the placeholder belongs to.
func (o *SharedOutputSet) Stream() *Stream { return o.stream }

// Index returns the output position.
func (o *SharedOutputSet) Index() int { return o.index }

func (o *SharedOutputSet) String() string { return o.label }

// placeholderArena interns placeholders by (stream, inputs, index) so equal
// predictions are the same object.
type placeholderArena struct {
	mu    sync.Mutex
	byKey map[string]model.Placeholder
	next  int
}

var placeholders = &placeholderArena{byKey: make(map[string]model.Placeholder)}

func (a *placeholderArena) unique(s *Stream, inputs []model.Object, index int) model.Placeholder {
	key := "u:" + strconv.Itoa(s.id) + ":" + tupleKey(inputs) + ":" + strconv.Itoa(index)
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.byKey[key]; ok {
		return p
	}
	p := &OutputSet{
		stream: s,
		inputs: append([]model.Object(nil), inputs...),
		index:  index,
		key:    key,
		label:  "#" + strings.TrimPrefix(s.outputs[index], "?") + strconv.Itoa(a.next),
	}
	a.next++
	a.byKey[key] = p
	return p
}

func (a *placeholderArena) shared(s *Stream, index int) model.Placeholder {
	key := "s:" + strconv.Itoa(s.id) + ":" + strconv.Itoa(index)
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.byKey[key]; ok {
		return p
	}
	p := &SharedOutputSet{
		stream: s,
		index:  index,
		key:    key,
		label:  "#" + strings.TrimPrefix(s.outputs[index], "?") + "-" + s.name,
	}
	a.byKey[key] = p
	return p
}

func tupleKey(t []model.Object) string {
	parts := make([]string, len(t))
	for i, o := range t {
		parts[i] = model.ObjectKey(o)
	}
	return strings.Join(parts, ",")
}

// Depth returns how many placeholder generations objs rests on: 0 for real
// objects, 1 for a placeholder predicted from real inputs, and so on.
func Depth(objs []model.Object) int {
	d := 0
	for _, o := range objs {
		switch p := o.(type) {
		case *OutputSet:
			d = max(d, 1+Depth(p.inputs))
		case *SharedOutputSet:
			d = max(d, 1)
		}
	}
	return d
}
