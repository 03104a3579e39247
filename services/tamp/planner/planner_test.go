// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestParsePlan(t *testing.T) {
	sol := ParsePlan("(a-3)\n(a-0)\n; cost = 7 (general cost)\n")
	require.Len(t, sol.Steps, 2)
	assert.Equal(t, Step{Name: "a-3", Args: []string{}, Operator: 3}, sol.Steps[0])
	assert.Equal(t, 0, sol.Steps[1].Operator)

	sol = ParsePlan("(move o1 o2)\n")
	require.Len(t, sol.Steps, 1)
	assert.Equal(t, "move", sol.Steps[0].Name)
	assert.Equal(t, []string{"o1", "o2"}, sol.Steps[0].Args)
	assert.Equal(t, -1, sol.Steps[0].Operator)

	empty := ParsePlan("; cost = 0 (unit cost)\n")
	require.NotNil(t, empty)
	assert.Empty(t, empty.Steps)
}

func TestCheckSearch(t *testing.T) {
	for _, name := range Searches() {
		got, err := CheckSearch(name)
		require.NoError(t, err)
		assert.Equal(t, name, got)
	}
	got, err := CheckSearch("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSearch, got)

	_, err = CheckSearch("lama")
	assert.ErrorIs(t, err, ErrUnknownSearch)
}

func TestRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockPlanner(ctrl)
	mock.EXPECT().Solve(gomock.Any(), gomock.Any()).Return(nil, nil)

	r := NewRegistry()
	r.Register("mock", func() (Planner, error) { return mock, nil })
	assert.Equal(t, []string{"mock"}, r.Names())

	p, err := r.New("mock")
	require.NoError(t, err)
	sol, err := p.Solve(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Nil(t, sol)
	assert.False(t, WantsPDDL(p))

	_, err = r.New("missing")
	assert.ErrorIs(t, err, ErrUnknownPlanner)
}
