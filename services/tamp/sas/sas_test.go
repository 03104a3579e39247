// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

var (
	p = model.NewPredicate("P", nil)
	q = model.NewPredicate("Q", nil)
	r = model.NewPredicate("R", nil)
	d = model.NewPredicate("D", nil)
)

func TestEncodeActionTask(t *testing.T) {
	task, err := NewTask(
		[]model.Literal{q.Atom()},
		[]model.Literal{p.Atom()},
		[]Action{{
			Name:          "a",
			Preconditions: []model.Literal{q.Atom()},
			Effects:       []model.Literal{p.Atom(), q.Not(), r.Atom(), model.CostIncrease(2.5)},
		}},
		nil,
	)
	require.NoError(t, err)

	want := strings.Join([]string{
		"begin_version", "3", "end_version",
		"begin_metric", "1", "end_metric",
		"2",
		"begin_variable", "var0", "-1", "2", "0-0", "0-1", "end_variable",
		"begin_variable", "var1", "-1", "2", "1-0", "1-1", "end_variable",
		"0",
		"begin_state", "0", "1", "end_state",
		"begin_goal", "1", "0 1", "end_goal",
		"1",
		"begin_operator", "a-0", "0", "2", "0 0 -1 1", "0 1 1 0", "3", "end_operator",
		"0",
	}, "\n") + "\n"
	assert.Equal(t, want, task.String())
	assert.Equal(t, "a", task.Operators[0].Name)
}

func TestEncodeAxiomTask(t *testing.T) {
	task, err := NewTask(
		nil,
		[]model.Literal{d.Atom()},
		[]Action{{Name: "make-q", Effects: []model.Literal{q.Atom()}}},
		[]Axiom{{Preconditions: []model.Literal{q.Atom()}, Effect: d.Atom()}},
	)
	require.NoError(t, err)
	require.Len(t, task.Rules, 1)
	assert.True(t, task.Variables[0].Derived)
	assert.False(t, task.Variables[1].Derived)

	text := task.String()
	assert.Contains(t, text, "begin_variable\nvar0\n0\n2\n")
	assert.Contains(t, text, "begin_rule\n1\n1 1\n0 -1 1\nend_rule\n")
	assert.True(t, strings.HasSuffix(text, "1\nbegin_rule\n1\n1 1\n0 -1 1\nend_rule\n"))
}

func TestOperatorFiltering(t *testing.T) {
	task, err := NewTask(nil, []model.Literal{p.Atom()}, []Action{
		{Name: "unread", Effects: []model.Literal{r.Atom()}},
		{Name: "contradiction", Preconditions: []model.Literal{p.Atom(), p.Not()}, Effects: []model.Literal{p.Atom()}},
		{Name: "both", Effects: []model.Literal{p.Not(), p.Atom()}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, task.Operators, 1)
	assert.Equal(t, "both", task.Operators[0].Name)
	assert.Equal(t, []Effect{{Var: 0, Pre: -1, Post: True}}, task.Operators[0].Effects)
}

func TestTransformCost(t *testing.T) {
	c, err := TransformCost(2.1)
	require.NoError(t, err)
	assert.Equal(t, 3, c)

	c, err = TransformCost(0)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	_, err = TransformCost(MaxCost)
	assert.ErrorIs(t, err, ErrCostOverflow)

	_, err = TransformCost(-1)
	assert.ErrorIs(t, err, ErrNegativeCost)

	_, err = NewTask(nil, []model.Literal{p.Atom()}, []Action{
		{Name: "huge", Effects: []model.Literal{p.Atom(), model.CostIncrease(1e12)}},
	}, nil)
	assert.ErrorIs(t, err, ErrCostOverflow)
}

func TestOperatorNames(t *testing.T) {
	assert.Equal(t, "a-12", OperatorName(12))
	i, ok := ParseOperatorName("a-12")
	assert.True(t, ok)
	assert.Equal(t, 12, i)
	_, ok = ParseOperatorName("move")
	assert.False(t, ok)
}
