// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package tamp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/domains/tutorial"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
)

var (
	at   = model.NewPredicate("At", model.Params("?x"))
	link = model.NewPredicate("Link", model.Params("?a ?b"))
)

func walk(cost float64) *model.Action {
	return model.MustAction("Walk", model.Params("?a ?b"),
		[]model.Literal{at.Atom("?a"), link.Atom("?a", "?b")},
		[]model.Literal{at.Atom("?b"), at.Not("?a"), model.CostIncrease(cost)})
}

func initial() []model.Literal {
	return []model.Literal{
		at.Atom("a"), link.Atom("a", "b"), link.Atom("b", "c"),
		model.NewInit(model.TotalCost.Head(), 0),
	}
}

func TestNewProblem(t *testing.T) {
	p, err := tamp.NewProblem(append(initial(), at.Atom("a")), []model.Literal{at.Atom("c")},
		[]*model.Action{walk(3)}, nil, nil, tamp.MinimizeCost())
	require.NoError(t, err)
	assert.Len(t, p.Initial, 4, "duplicate initial facts collapse")
	require.NotNil(t, p.Objective)
	assert.Equal(t, model.TotalCost.Key(), p.Objective.Function.Key())

	a, ok := p.Action("WALK")
	require.True(t, ok)
	assert.Equal(t, "walk", a.Name)
	_, ok = p.Action("run")
	assert.False(t, ok)

	assert.True(t, p.Fluents()[at.Key()])
	assert.False(t, p.Fluents()[link.Key()])
	assert.Contains(t, p.String(), "actions=1")
}

func TestNewProblemRejectsConflicts(t *testing.T) {
	s1 := stream.Must(stream.Test("check", model.Params("?a"), []model.Literal{at.Atom("?a")},
		func(...model.Object) bool { return true }, nil))
	s2 := stream.Must(stream.Test("check", model.Params("?a"), []model.Literal{at.Atom("?a")},
		func(...model.Object) bool { return false }, nil))
	wide := model.NewPredicate("at", model.Params("?x ?y"))

	tests := []struct {
		name    string
		goal    []model.Literal
		actions []*model.Action
		streams []*stream.Stream
		want    error
	}{
		{"duplicate action", nil, []*model.Action{walk(1), walk(2)}, nil, tamp.ErrDuplicateAction},
		{"duplicate stream", nil, nil, []*stream.Stream{s1, s2}, tamp.ErrDuplicateStream},
		{"arity clash", []model.Literal{wide.Atom("a", "b")}, []*model.Action{walk(1)}, nil, tamp.ErrFunctionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tamp.NewProblem(initial(), tt.goal, tt.actions, nil, tt.streams)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlanHelpers(t *testing.T) {
	p, err := tamp.NewProblem(initial(), []model.Literal{at.Atom("c")},
		[]*model.Action{walk(3)}, nil, nil, tamp.MinimizeCost())
	require.NoError(t, err)
	w, _ := p.Action("walk")

	plan := tamp.Plan{
		{Action: w, Args: []model.Object{"a", "b"}},
		{Action: w, Args: []model.Object{"b", "c"}},
	}
	assert.Equal(t, "[walk(a, b), walk(b, c)]", plan.String())
	assert.Equal(t, 6.0, tamp.Cost(plan, p.Initial))
	assert.Equal(t, 2.0, tamp.Length(plan))
	assert.True(t, tamp.IsSolution(p, p.Initial, plan, nil))
	assert.False(t, tamp.IsSolution(p, p.Initial, plan[:1], nil))

	var none tamp.Plan
	assert.Equal(t, "<none>", none.String())
	assert.True(t, math.IsInf(tamp.Cost(none, p.Initial), 1))
	assert.True(t, math.IsInf(tamp.Length(none), 1))
	assert.False(t, tamp.IsSolution(p, p.Initial, none, nil))

	empty := tamp.Plan{}
	assert.Equal(t, "[]", empty.String())
	assert.Equal(t, 0.0, tamp.Length(empty))
}

func TestTutorialBuild(t *testing.T) {
	_, err := tutorial.Build(1)
	assert.Error(t, err)

	p, err := tutorial.Build(3)
	require.NoError(t, err)
	assert.Len(t, p.Streams, 2)
	assert.Len(t, p.Actions, 2+3)
	assert.Len(t, p.Axioms, 2)
	assert.True(t, p.Derived()[tutorial.Safe.Key()])
	assert.Equal(t, "b2", tutorial.BlockName(2))

	defined := make(map[string]bool)
	for _, f := range p.DefinedFunctions() {
		defined[f.Key()] = true
	}
	assert.True(t, defined[tutorial.Distance.Key()])
	assert.True(t, defined[tutorial.CFree.Key()])
	assert.False(t, defined[tutorial.AtPose.Key()])
}
