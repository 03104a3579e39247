// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream models lazily evaluated samplers that produce new objects
// and facts from bound inputs.
//
// A Stream is declared once per problem. Each distinct input tuple gets one
// memoized Instance that owns the evaluation cursor, the call counter and
// the enumerated/disabled flags. Before an instance is evaluated, its bound
// policy predicts placeholder outputs so search can plan with them.
package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// Package-level error definitions.
var (
	ErrInvalidStream = errors.New("invalid stream")
	ErrEnumerated    = errors.New("stream instance is enumerated")
	ErrOutputArity   = errors.New("output tuple has wrong arity")
)

// Unlimited is the default call budget.
const Unlimited = 0

// Tuple is one output (or input) tuple.
type Tuple = []model.Object

// Generator yields successive output batches. ok is false once it is
// exhausted.
type Generator interface {
	Next() (batch []Tuple, ok bool)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() ([]Tuple, bool)

// Next calls f.
func (f GeneratorFunc) Next() ([]Tuple, bool) { return f() }

// Func creates the generator of an instance from its inputs.
type Func func(inputs ...model.Object) Generator

var streamIDs atomic.Int64

// -----------------------------------------------------------------------------
// Stream
// -----------------------------------------------------------------------------

// Stream declares a sampler.
//
// Description:
//
//	Given inputs satisfying Domain, the evaluation function produces output
//	tuples across successive calls; each tuple instantiates Graph. The
//	domain always includes isobject(?x) for every input so instances are
//	only grounded over known objects.
//
// Thread Safety: Instance memoization is safe for concurrent use; instance
// evaluation is not.
type Stream struct {
	id       int
	name     string
	inputs   []string
	domain   []model.Literal
	fn       Func
	outputs  []string
	graph    []model.Literal
	bound    Bound
	maxCalls int
	effort   float64
	eager    bool

	mu        sync.Mutex
	instances map[string]*Instance
}

// Option configures a Stream.
type Option func(*Stream)

// WithBound sets the output prediction policy. The default is Unique.
func WithBound(b Bound) Option { return func(s *Stream) { s.bound = b } }

// WithMaxCalls limits how many times an instance is evaluated.
func WithMaxCalls(n int) Option { return func(s *Stream) { s.maxCalls = n } }

// WithEffort sets the cost of one evaluation. The default is 1.
func WithEffort(e float64) Option { return func(s *Stream) { s.effort = e } }

// Eager marks the stream as cheap enough to exhaust before every search.
func Eager() Option { return func(s *Stream) { s.eager = true } }

// New declares a stream whose function yields batches of outputs.
//
// Inputs:
//
//	name    - Stream name, also the action name when reified into search.
//	inputs  - Input parameters ("?p").
//	domain  - Atoms over inputs that must hold before evaluation.
//	fn      - Generator factory.
//	outputs - Output parameters.
//	graph   - Literals over inputs, outputs and constants certified per output.
//
// Outputs:
//
//	*Stream - The stream.
//	error   - ErrInvalidStream if the declaration is malformed.
func New(name string, inputs []string, domain []model.Literal, fn Func, outputs []string, graph []model.Literal, opts ...Option) (*Stream, error) {
	s := &Stream{
		id:        int(streamIDs.Add(1)),
		name:      strings.ToLower(name),
		inputs:    append([]string(nil), inputs...),
		fn:        fn,
		outputs:   append([]string(nil), outputs...),
		graph:     append([]model.Literal(nil), graph...),
		bound:     Unique,
		maxCalls:  Unlimited,
		effort:    1,
		instances: make(map[string]*Instance),
	}
	if s.name == "" {
		s.name = "stream-" + strconv.Itoa(s.id)
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(domain); err != nil {
		return nil, err
	}
	s.domain = append([]model.Literal(nil), domain...)
	for _, p := range s.inputs {
		s.domain = append(s.domain, model.ObjectPredicate.Atom(p))
	}
	return s, nil
}

func (s *Stream) validate(domain []model.Literal) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidStream, s.name, fmt.Sprintf(format, args...))
	}
	if s.fn == nil {
		return invalid("missing evaluation function")
	}
	if s.effort < 0 {
		return invalid("negative effort %v", s.effort)
	}
	declared := make(map[string]bool)
	isInput := make(map[string]bool)
	for i, p := range append(append([]string(nil), s.inputs...), s.outputs...) {
		if !model.IsParameter(p) {
			return invalid("%q is not a parameter", p)
		}
		if declared[p] {
			return invalid("duplicate parameter %s", p)
		}
		declared[p] = true
		if i < len(s.inputs) {
			isInput[p] = true
		}
	}
	for _, l := range domain {
		if _, ok := l.(model.Atom); !ok {
			return invalid("domain literal %s is not an atom", l)
		}
		for _, a := range l.Head().Args {
			if !model.IsParameter(a) {
				return invalid("domain literal %s mentions constant %v", l, a)
			}
			if !isInput[a.(string)] {
				return invalid("domain literal %s mentions non-input %v", l, a)
			}
		}
	}
	for _, l := range s.graph {
		for _, h := range l.Heads() {
			for _, a := range h.Args {
				if model.IsParameter(a) && !declared[a.(string)] {
					return invalid("graph literal %s mentions undeclared %v", l, a)
				}
			}
		}
	}
	return nil
}

// Gen declares a generator-style stream: each call yields the next single
// output tuple from next. next reports false once exhausted.
func Gen(name string, inputs []string, domain []model.Literal, fn func(inputs ...model.Object) func() (Tuple, bool), outputs []string, graph []model.Literal, opts ...Option) (*Stream, error) {
	wrapped := func(in ...model.Object) Generator {
		next := fn(in...)
		return GeneratorFunc(func() ([]Tuple, bool) {
			t, ok := next()
			if !ok {
				return nil, false
			}
			return []Tuple{t}, true
		})
	}
	return New(name, inputs, domain, wrapped, outputs, graph, opts...)
}

// List declares a stream whose single call returns a finite list.
func List(name string, inputs []string, domain []model.Literal, fn func(inputs ...model.Object) []Tuple, outputs []string, graph []model.Literal, opts ...Option) (*Stream, error) {
	wrapped := func(in ...model.Object) Generator {
		return Once(fn(in...))
	}
	return New(name, inputs, domain, wrapped, outputs, graph, append(opts, WithMaxCalls(1))...)
}

// Fn declares a stream computing exactly one output tuple. A nil tuple means
// the function has no value at these inputs.
func Fn(name string, inputs []string, domain []model.Literal, fn func(inputs ...model.Object) Tuple, outputs []string, graph []model.Literal, opts ...Option) (*Stream, error) {
	return List(name, inputs, domain, func(in ...model.Object) []Tuple {
		t := fn(in...)
		if t == nil && len(outputs) > 0 {
			return nil
		}
		return []Tuple{t}
	}, outputs, graph, opts...)
}

// Test declares an output-free stream certifying graph iff test passes.
func Test(name string, inputs []string, domain []model.Literal, test func(inputs ...model.Object) bool, graph []model.Literal, opts ...Option) (*Stream, error) {
	return List(name, inputs, domain, func(in ...model.Object) []Tuple {
		if test(in...) {
			return []Tuple{{}}
		}
		return nil
	}, nil, graph, opts...)
}

// Once returns a generator that yields batch on its first call and is
// exhausted afterwards.
func Once(batch []Tuple) Generator {
	done := false
	return GeneratorFunc(func() ([]Tuple, bool) {
		if done {
			return nil, false
		}
		done = true
		return batch, true
	})
}

// Must panics on a declaration error.
func Must(s *Stream, err error) *Stream {
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the lower-cased stream name.
func (s *Stream) Name() string { return s.name }

// Inputs returns the input parameters.
func (s *Stream) Inputs() []string { return s.inputs }

// Outputs returns the output parameters.
func (s *Stream) Outputs() []string { return s.outputs }

// Domain returns the domain, isobject atoms included.
func (s *Stream) Domain() []model.Literal { return s.domain }

// Graph returns the certified literal templates.
func (s *Stream) Graph() []model.Literal { return s.graph }

// Bound returns the output prediction policy.
func (s *Stream) Bound() Bound { return s.bound }

// MaxCalls returns the call budget; Unlimited is 0.
func (s *Stream) MaxCalls() int { return s.maxCalls }

// Effort returns the cost of one evaluation.
func (s *Stream) Effort() float64 { return s.effort }

// IsEager reports whether the stream is exhausted before every search.
func (s *Stream) IsEager() bool { return s.eager }

// Instance returns the memoized instance for inputs.
func (s *Stream) Instance(inputs []model.Object) *Instance {
	if len(inputs) != len(s.inputs) {
		panic(fmt.Sprintf("stream: %s expects %d inputs, got %d", s.name, len(s.inputs), len(inputs)))
	}
	key := tupleKey(inputs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[key]; ok {
		return inst
	}
	inst := &Instance{stream: s, inputs: append([]model.Object(nil), inputs...), key: s.name + "(" + key + ")"}
	s.instances[key] = inst
	return inst
}

// ResetInstances forgets every instance so the stream can serve a new run.
func (s *Stream) ResetInstances() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[string]*Instance)
}

func (s *Stream) String() string {
	return fmt.Sprintf("%s%v->%v", s.name, s.inputs, s.outputs)
}

// -----------------------------------------------------------------------------
// Instance
// -----------------------------------------------------------------------------

// Instance is a stream bound to concrete inputs.
//
// Description:
//
//	calls only increases, enumerated is permanent, and disabled is cleared
//	only by Enable. BoundOutputs is empty once the instance is enumerated or
//	disabled.
//
// Thread Safety: Not safe for concurrent use.
type Instance struct {
	stream     *Stream
	inputs     []model.Object
	key        string
	gen        Generator
	calls      int
	enumerated bool
	disabled   bool
}

// Stream returns the declaring stream.
func (i *Instance) Stream() *Stream { return i.stream }

// Inputs returns the bound inputs.
func (i *Instance) Inputs() []model.Object { return i.inputs }

// Key identifies the instance.
func (i *Instance) Key() string { return i.key }

// Calls returns the number of evaluations so far.
func (i *Instance) Calls() int { return i.calls }

// Enumerated reports whether the instance can produce nothing more.
func (i *Instance) Enumerated() bool { return i.enumerated }

// Disabled reports whether the instance is parked until a reset.
func (i *Instance) Disabled() bool { return i.disabled }

// Disable parks the instance.
func (i *Instance) Disable() { i.disabled = true }

// Enable re-admits a parked instance.
func (i *Instance) Enable() { i.disabled = false }

// Effort returns the cost of evaluating the instance once.
func (i *Instance) Effort() float64 { return i.stream.effort }

// DomainMapping binds the stream inputs.
func (i *Instance) DomainMapping() model.Mapping {
	m := make(model.Mapping, len(i.inputs))
	for j, p := range i.stream.inputs {
		m[p] = i.inputs[j]
	}
	return m
}

// GraphMapping binds the stream inputs and outputs.
func (i *Instance) GraphMapping(outputs Tuple) model.Mapping {
	m := i.DomainMapping()
	for j, p := range i.stream.outputs {
		m[p] = outputs[j]
	}
	return m
}

// Domain returns the ground domain.
func (i *Instance) Domain() []model.Literal {
	m := i.DomainMapping()
	out := make([]model.Literal, len(i.stream.domain))
	for j, l := range i.stream.domain {
		out[j] = l.Substitute(m)
	}
	return out
}

// SubstituteGraph instantiates the graph for one output tuple.
func (i *Instance) SubstituteGraph(outputs Tuple) []model.Literal {
	m := i.GraphMapping(outputs)
	out := make([]model.Literal, len(i.stream.graph))
	for j, l := range i.stream.graph {
		out[j] = l.Substitute(m)
	}
	return out
}

// NextOutputs advances the generator by one call.
//
// Description:
//
//	The call counter always increases. The instance becomes enumerated when
//	the generator is exhausted or the call budget is spent, whether or not
//	this call produced outputs.
//
// Outputs:
//
//	[]Tuple - Output tuples produced by this call.
//	error   - ErrEnumerated if the instance was already enumerated;
//	          ErrOutputArity if the function returned a malformed tuple.
func (i *Instance) NextOutputs() ([]Tuple, error) {
	if i.enumerated {
		return nil, fmt.Errorf("%w: %s", ErrEnumerated, i)
	}
	if i.gen == nil {
		i.gen = i.stream.fn(i.inputs...)
	}
	batch, ok := i.gen.Next()
	if !ok {
		i.enumerated = true
		batch = nil
	}
	i.calls++
	if i.stream.maxCalls > 0 && i.calls >= i.stream.maxCalls {
		i.enumerated = true
	}
	for _, t := range batch {
		if len(t) != len(i.stream.outputs) {
			return nil, fmt.Errorf("%w: %s returned %d values for %d outputs", ErrOutputArity, i, len(t), len(i.stream.outputs))
		}
	}
	return batch, nil
}

// NextAtoms advances the generator and returns the certified literals.
func (i *Instance) NextAtoms() ([]model.Literal, error) {
	outs, err := i.NextOutputs()
	if err != nil {
		return nil, err
	}
	var atoms []model.Literal
	for _, o := range outs {
		atoms = append(atoms, i.SubstituteGraph(o)...)
	}
	return atoms, nil
}

// BoundOutputs predicts outputs without evaluating. It is empty once the
// instance is enumerated or disabled.
func (i *Instance) BoundOutputs() []Tuple {
	if i.enumerated || i.disabled {
		return nil
	}
	return i.stream.bound.outputs(i.stream, i.inputs)
}

// BoundAtoms instantiates the graph for every predicted output.
func (i *Instance) BoundAtoms() []model.Literal {
	var atoms []model.Literal
	for _, o := range i.BoundOutputs() {
		atoms = append(atoms, i.SubstituteGraph(o)...)
	}
	return atoms
}

func (i *Instance) String() string {
	parts := make([]string, len(i.inputs))
	for j, o := range i.inputs {
		parts[j] = model.FormatObject(o)
	}
	return fmt.Sprintf("%s(%s)->%v", i.stream.name, strings.Join(parts, ", "), i.stream.outputs)
}
