// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package astar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/sas"
)

var (
	goal    = model.NewPredicate("Goal", nil)
	ready   = model.NewPredicate("Ready", nil)
	derived = model.NewPredicate("Derived", nil)
)

// detourTask has an expensive direct action and a cheap two-step route.
func detourTask(t *testing.T) *sas.Task {
	t.Helper()
	task, err := sas.NewTask(nil, []model.Literal{goal.Atom()}, []sas.Action{
		{Name: "direct", Effects: []model.Literal{goal.Atom(), model.CostIncrease(10)}},
		{Name: "prepare", Effects: []model.Literal{ready.Atom(), model.CostIncrease(1)}},
		{Name: "finish", Preconditions: []model.Literal{ready.Atom()}, Effects: []model.Literal{goal.Atom(), model.CostIncrease(1)}},
	}, nil)
	require.NoError(t, err)
	return task
}

func names(t *sas.Task, sol *planner.Solution) []string {
	out := make([]string, len(sol.Steps))
	for i, s := range sol.Steps {
		out[i] = t.Operators[s.Operator].Name
	}
	return out
}

func TestOptimalSearches(t *testing.T) {
	for _, search := range []string{planner.SearchDijkstra, planner.SearchMaxAstar} {
		t.Run(search, func(t *testing.T) {
			task := detourTask(t)
			sol, err := New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{Search: search}})
			require.NoError(t, err)
			require.NotNil(t, sol)
			assert.Equal(t, []string{"prepare", "finish"}, names(task, sol))
			assert.Equal(t, 2.0, sol.Cost)
		})
	}
}

func TestSatisficingSearchesFindPlans(t *testing.T) {
	for _, search := range []string{planner.SearchFFAstar, planner.SearchFFEager} {
		t.Run(search, func(t *testing.T) {
			task := detourTask(t)
			sol, err := New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{Search: search}})
			require.NoError(t, err)
			require.NotNil(t, sol)
			assert.NotEmpty(t, sol.Steps)
		})
	}
}

func TestCostBoundIsExclusive(t *testing.T) {
	task := detourTask(t)
	sol, err := New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{MaxCost: 2}})
	require.NoError(t, err)
	assert.Nil(t, sol)

	sol, err = New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{MaxCost: 3}})
	require.NoError(t, err)
	require.NotNil(t, sol)
	assert.Equal(t, 2.0, sol.Cost)
}

func TestDerivedGoal(t *testing.T) {
	task, err := sas.NewTask(nil, []model.Literal{derived.Atom()},
		[]sas.Action{{Name: "prepare", Effects: []model.Literal{ready.Atom(), model.CostIncrease(1)}}},
		[]sas.Axiom{{Preconditions: []model.Literal{ready.Atom()}, Effect: derived.Atom()}})
	require.NoError(t, err)

	sol, err := New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{Search: planner.SearchMaxAstar}})
	require.NoError(t, err)
	require.NotNil(t, sol)
	assert.Equal(t, []string{"prepare"}, names(task, sol))
}

func TestEmptyPlanAndUnsolvable(t *testing.T) {
	task, err := sas.NewTask([]model.Literal{goal.Atom()}, []model.Literal{goal.Atom()}, nil, nil)
	require.NoError(t, err)
	sol, err := New().Solve(context.Background(), &planner.Request{Task: task})
	require.NoError(t, err)
	require.NotNil(t, sol)
	assert.Empty(t, sol.Steps)

	task, err = sas.NewTask(nil, []model.Literal{goal.Atom()}, nil, nil)
	require.NoError(t, err)
	sol, err = New().Solve(context.Background(), &planner.Request{Task: task, Options: planner.Options{Search: planner.SearchMaxAstar}})
	require.NoError(t, err)
	assert.Nil(t, sol)
}

func TestMissingTask(t *testing.T) {
	_, err := New().Solve(context.Background(), &planner.Request{})
	assert.ErrorIs(t, err, planner.ErrMissingTask)
}
