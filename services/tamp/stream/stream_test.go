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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

var (
	pose = model.NewPredicate("Pose", model.Params("?p"))
	conf = model.NewPredicate("Conf", model.Params("?q"))
	kin  = model.NewPredicate("Kin", model.Params("?q ?p"))
)

func kinStream(t *testing.T, opts ...Option) *Stream {
	t.Helper()
	s, err := Fn("ik", model.Params("?p"), []model.Literal{pose.Atom("?p")},
		func(in ...model.Object) Tuple { return Tuple{in[0]} },
		model.Params("?q"), []model.Literal{kin.Atom("?q", "?p"), conf.Atom("?q")}, opts...)
	require.NoError(t, err)
	return s
}

func countingStream(t *testing.T, n int, opts ...Option) *Stream {
	t.Helper()
	s, err := Gen("sample", nil, nil, func(...model.Object) func() (Tuple, bool) {
		i := 0
		return func() (Tuple, bool) {
			if i >= n {
				return nil, false
			}
			i++
			return Tuple{i}, true
		}
	}, model.Params("?p"), []model.Literal{pose.Atom("?p")}, opts...)
	require.NoError(t, err)
	return s
}

func TestDeclaration(t *testing.T) {
	t.Run("domain gains isobject atoms", func(t *testing.T) {
		s := kinStream(t)
		assert.Equal(t, []model.Literal{pose.Atom("?p"), model.ObjectPredicate.Atom("?p")}, s.Domain())
		assert.Equal(t, 1, s.MaxCalls())
		assert.Equal(t, 1.0, s.Effort())
		assert.Equal(t, BoundUnique, s.Bound().Kind())
	})

	noop := func(...model.Object) Generator { return Once(nil) }
	tests := []struct {
		name    string
		inputs  []string
		domain  []model.Literal
		fn      Func
		outputs []string
		graph   []model.Literal
	}{
		{"constant in domain", model.Params("?p"), []model.Literal{pose.Atom(3)}, noop, nil, nil},
		{"negated domain", model.Params("?p"), []model.Literal{pose.Not("?p")}, noop, nil, nil},
		{"non-input in domain", model.Params("?p"), []model.Literal{kin.Atom("?q", "?p")}, noop, model.Params("?q"), nil},
		{"undeclared graph parameter", model.Params("?p"), nil, noop, nil, []model.Literal{kin.Atom("?x", "?p")}},
		{"duplicate parameter", model.Params("?p"), nil, noop, model.Params("?p"), nil},
		{"missing function", nil, nil, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("bad", tt.inputs, tt.domain, tt.fn, tt.outputs, tt.graph)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidStream))
		})
	}
}

func TestInstanceMemoization(t *testing.T) {
	s := kinStream(t)
	a := s.Instance([]model.Object{1})
	b := s.Instance([]model.Object{1.0})
	c := s.Instance([]model.Object{2})
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	s.ResetInstances()
	assert.NotSame(t, a, s.Instance([]model.Object{1}))
}

func TestSingleCallStreamsEnumerateAfterOneCall(t *testing.T) {
	t.Run("function with output", func(t *testing.T) {
		inst := kinStream(t).Instance([]model.Object{4})
		atoms, err := inst.NextAtoms()
		require.NoError(t, err)
		assert.Equal(t, []model.Literal{kin.Atom(4, 4), conf.Atom(4)}, atoms)
		assert.True(t, inst.Enumerated())
		assert.Equal(t, 1, inst.Calls())
	})

	t.Run("failing test", func(t *testing.T) {
		s, err := Test("never", model.Params("?p"), nil, func(...model.Object) bool { return false },
			[]model.Literal{pose.Atom("?p")})
		require.NoError(t, err)
		inst := s.Instance([]model.Object{1})
		outs, err := inst.NextOutputs()
		require.NoError(t, err)
		assert.Empty(t, outs)
		assert.True(t, inst.Enumerated())
	})

	t.Run("calling again is a protocol violation", func(t *testing.T) {
		inst := kinStream(t).Instance([]model.Object{4})
		_, err := inst.NextOutputs()
		require.NoError(t, err)
		_, err = inst.NextOutputs()
		assert.ErrorIs(t, err, ErrEnumerated)
		assert.Equal(t, 1, inst.Calls())
	})
}

func TestGeneratorStreams(t *testing.T) {
	t.Run("exhaustion", func(t *testing.T) {
		inst := countingStream(t, 2).Instance(nil)
		for want := 1; want <= 2; want++ {
			outs, err := inst.NextOutputs()
			require.NoError(t, err)
			assert.Equal(t, []Tuple{{want}}, outs)
			assert.False(t, inst.Enumerated())
		}
		outs, err := inst.NextOutputs()
		require.NoError(t, err)
		assert.Empty(t, outs)
		assert.True(t, inst.Enumerated())
		assert.Equal(t, 3, inst.Calls())
	})

	t.Run("call budget", func(t *testing.T) {
		inst := countingStream(t, 100, WithMaxCalls(2)).Instance(nil)
		_, err := inst.NextOutputs()
		require.NoError(t, err)
		_, err = inst.NextOutputs()
		require.NoError(t, err)
		assert.True(t, inst.Enumerated())
	})

	t.Run("arity is checked", func(t *testing.T) {
		s, err := New("wide", nil, nil, func(...model.Object) Generator {
			return Once([]Tuple{{1, 2}})
		}, model.Params("?p"), nil)
		require.NoError(t, err)
		_, err = s.Instance(nil).NextOutputs()
		assert.ErrorIs(t, err, ErrOutputArity)
	})
}

func TestBoundOutputs(t *testing.T) {
	t.Run("unique placeholders are stable per instance", func(t *testing.T) {
		s := kinStream(t)
		a := s.Instance([]model.Object{1})
		first := a.BoundOutputs()
		require.Len(t, first, 1)
		require.Len(t, first[0], 1)
		assert.Equal(t, first, a.BoundOutputs())
		assert.True(t, model.IsPlaceholder(first[0][0]))

		other := s.Instance([]model.Object{2}).BoundOutputs()
		assert.NotEqual(t, first[0][0], other[0][0])

		ph := first[0][0].(*OutputSet)
		assert.Same(t, a, ph.Instance())
		assert.Equal(t, 0, ph.Index())
	})

	t.Run("shared placeholders are reused across instances", func(t *testing.T) {
		s := kinStream(t, WithBound(Shared))
		a := s.Instance([]model.Object{1}).BoundOutputs()
		b := s.Instance([]model.Object{2}).BoundOutputs()
		assert.Equal(t, a[0][0], b[0][0])
		assert.Equal(t, "#q-ik", model.FormatObject(a[0][0]))
	})

	t.Run("no bound predicts nothing", func(t *testing.T) {
		inst := kinStream(t, WithBound(NoBound)).Instance([]model.Object{1})
		assert.Empty(t, inst.BoundOutputs())
		assert.Empty(t, inst.BoundAtoms())
	})

	t.Run("custom bound", func(t *testing.T) {
		inst := kinStream(t, WithBound(Custom(func(in ...model.Object) []Tuple {
			return []Tuple{{in[0]}}
		}))).Instance([]model.Object{5})
		assert.Equal(t, []model.Literal{kin.Atom(5, 5), conf.Atom(5)}, inst.BoundAtoms())
	})

	t.Run("disabled and enumerated instances predict nothing", func(t *testing.T) {
		inst := kinStream(t).Instance([]model.Object{1})
		inst.Disable()
		assert.Empty(t, inst.BoundOutputs())
		inst.Enable()
		assert.NotEmpty(t, inst.BoundOutputs())
		_, err := inst.NextOutputs()
		require.NoError(t, err)
		assert.Empty(t, inst.BoundOutputs())
	})
}
