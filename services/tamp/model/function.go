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

// EvalFunc computes the value of a defined function at ground arguments.
// Predicates return a bool.
type EvalFunc func(args ...Object) Object

// -----------------------------------------------------------------------------
// Function
// -----------------------------------------------------------------------------

// Function is a named mapping from argument tuples to values.
//
// Description:
//
//	Predicates map to booleans; general functions map to numbers or objects.
//	A function may carry a Domain (literals over its parameters that must
//	hold for it to be defined), an evaluation rule (Fn) that makes it a
//	"defined" function computed on demand, and a static Bound used in place
//	of the real value when evaluation is deferred.
//
//	Identity is by lower-cased name: two *Function values with the same
//	name address the same heads.
//
// Thread Safety: Immutable after construction.
type Function struct {
	name      string
	params    []string
	domain    []Literal
	fn        EvalFunc
	bound     Object
	hasBound  bool
	eager     bool
	predicate bool
}

// FunctionOption configures a Function.
type FunctionOption func(*Function)

// WithDomain sets the literals that must hold for the function to be defined.
func WithDomain(domain ...Literal) FunctionOption {
	return func(f *Function) { f.domain = append([]Literal(nil), domain...) }
}

// WithFn makes the function defined: its values are computed by fn.
func WithFn(fn EvalFunc) FunctionOption {
	return func(f *Function) { f.fn = fn }
}

// WithBound sets the optimistic value used before the function is evaluated.
func WithBound(v Object) FunctionOption {
	return func(f *Function) {
		f.bound = normalizeValue(f, v)
		f.hasBound = true
	}
}

// WithoutBound removes the default bound; unevaluated heads are then unknown.
func WithoutBound() FunctionOption {
	return func(f *Function) {
		f.bound = nil
		f.hasBound = false
	}
}

// Lazy marks a defined function as evaluated only on demand.
func Lazy() FunctionOption {
	return func(f *Function) { f.eager = false }
}

// NewPredicate declares a boolean function. Its default bound is true.
func NewPredicate(name string, params []string, opts ...FunctionOption) *Function {
	f := &Function{
		name:      name,
		params:    append([]string(nil), params...),
		bound:     true,
		hasBound:  true,
		eager:     true,
		predicate: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFunction declares a numeric or object valued function. Its default
// bound is 0.
func NewFunction(name string, params []string, opts ...FunctionOption) *Function {
	f := &Function{
		name:     name,
		params:   append([]string(nil), params...),
		bound:    0.0,
		hasBound: true,
		eager:    true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Params splits a space separated parameter list such as "?b ?p".
func Params(s string) []string {
	return strings.Fields(s)
}

// Name returns the author supplied name.
func (f *Function) Name() string { return f.name }

// Key returns the identity of the function.
func (f *Function) Key() string { return strings.ToLower(f.name) }

// Params returns the parameter names.
func (f *Function) Params() []string { return f.params }

// Arity returns the number of parameters.
func (f *Function) Arity() int { return len(f.params) }

// Domain returns the definedness conditions over Params.
func (f *Function) Domain() []Literal { return f.domain }

// IsPredicate reports whether the function is boolean.
func (f *Function) IsPredicate() bool { return f.predicate }

// IsDefined reports whether the function has an evaluation rule.
func (f *Function) IsDefined() bool { return f.fn != nil }

// IsEager reports whether a defined function is evaluated as soon as its
// arguments are known.
func (f *Function) IsEager() bool { return f.eager }

// Bound returns the static bound, if any.
func (f *Function) Bound() (Object, bool) { return f.bound, f.hasBound }

// Same reports whether f and g name the same function.
func (f *Function) Same(g *Function) bool {
	return f == g || (f != nil && g != nil && f.Key() == g.Key())
}

// Rename returns a copy of f under a new name, keeping its signature but
// dropping its evaluation rule.
func (f *Function) Rename(name string) *Function {
	return &Function{
		name:      name,
		params:    f.params,
		bound:     f.bound,
		hasBound:  f.hasBound,
		eager:     f.eager,
		predicate: f.predicate,
	}
}

func (f *Function) String() string { return f.name }

// Head applies the function to arguments.
func (f *Function) Head(args ...Object) Head {
	return NewHead(f, args...)
}

// Atom returns the positive literal f(args).
func (f *Function) Atom(args ...Object) Atom {
	return Atom{head: NewHead(f, args...)}
}

// Not returns the negated literal ~f(args).
func (f *Function) Not(args ...Object) NegatedAtom {
	return NegatedAtom{head: NewHead(f, args...)}
}

// TotalCost is the additive plan cost function.
var TotalCost = NewFunction("total-cost", nil)

// ObjectPredicate holds for every object known to a universe.
var ObjectPredicate = NewPredicate("isobject", []string{"?o"})

// -----------------------------------------------------------------------------
// Head
// -----------------------------------------------------------------------------

// Head is a function applied to an argument tuple. Heads are immutable and
// compared through Key.
type Head struct {
	Function *Function
	Args     []Object
	key      string
}

// NewHead builds a head and computes its key.
func NewHead(f *Function, args ...Object) Head {
	if len(args) != f.Arity() {
		panic(fmt.Sprintf("model: %s expects %d arguments, got %d", f.name, f.Arity(), len(args)))
	}
	var b strings.Builder
	b.WriteString(f.Key())
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ObjectKey(a))
	}
	b.WriteByte(')')
	return Head{Function: f, Args: append([]Object(nil), args...), key: b.String()}
}

// Key identifies the head.
func (h Head) Key() string { return h.key }

// Equal compares two heads.
func (h Head) Equal(o Head) bool { return h.key == o.key }

// Substitute replaces mapped parameters.
func (h Head) Substitute(m Mapping) Head {
	changed := false
	args := make([]Object, len(h.Args))
	for i, a := range h.Args {
		args[i] = a
		if s, ok := a.(string); ok && IsParameter(s) {
			if v, ok := m[s]; ok {
				args[i] = v
				changed = true
			}
		}
	}
	if !changed {
		return h
	}
	return NewHead(h.Function, args...)
}

// IsGround reports whether no argument is a parameter.
func (h Head) IsGround() bool {
	for _, a := range h.Args {
		if IsParameter(a) {
			return false
		}
	}
	return true
}

// HasPlaceholder reports whether any argument is a placeholder object.
func (h Head) HasPlaceholder() bool {
	for _, a := range h.Args {
		if IsPlaceholder(a) {
			return true
		}
	}
	return false
}

// Mapping binds the function parameters to the head arguments.
func (h Head) Mapping() Mapping {
	m := make(Mapping, len(h.Args))
	for i, p := range h.Function.params {
		m[p] = h.Args[i]
	}
	return m
}

// Domain returns the function domain at the head arguments.
func (h Head) Domain() []Literal {
	if len(h.Function.domain) == 0 {
		return nil
	}
	m := h.Mapping()
	out := make([]Literal, len(h.Function.domain))
	for i, l := range h.Function.domain {
		out[i] = l.Substitute(m)
	}
	return out
}

// Evaluate runs the evaluation rule of a defined function at a ground,
// placeholder-free head.
func (h Head) Evaluate() (Literal, error) {
	if h.Function.fn == nil {
		return nil, fmt.Errorf("%w: %s has no evaluation rule", ErrNotDefined, h.Function.name)
	}
	if !h.IsGround() || h.HasPlaceholder() {
		return nil, fmt.Errorf("%w: %s is not ground", ErrNotDefined, h)
	}
	return Initialize(h, h.Function.fn(h.Args...)), nil
}

// BoundLiteral returns the head assigned to its function's static bound.
func (h Head) BoundLiteral() (Literal, bool) {
	if !h.Function.hasBound {
		return nil, false
	}
	return Initialize(h, h.Function.bound), true
}

func (h Head) String() string {
	parts := make([]string, len(h.Args))
	for i, a := range h.Args {
		parts[i] = FormatObject(a)
	}
	return h.Function.name + "(" + strings.Join(parts, ", ") + ")"
}

func normalizeValue(f *Function, v Object) Object {
	if f.predicate {
		return v
	}
	if n, ok := toFloat(v); ok {
		return n
	}
	return v
}
