// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package downward

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/sas"
)

func smallTask(t *testing.T) *sas.Task {
	t.Helper()
	goal := model.NewPredicate("Goal", nil)
	task, err := sas.NewTask(nil, []model.Literal{goal.Atom()},
		[]sas.Action{{Name: "finish", Effects: []model.Literal{goal.Atom(), model.CostIncrease(4)}}}, nil)
	require.NoError(t, err)
	return task
}

func TestSearchArgs(t *testing.T) {
	args, err := SearchArgs(planner.SearchFFEager, 2500*time.Millisecond, 7.2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--heuristic", "hff=ff(transform=adapt_costs(cost_type=PLUSONE))",
		"--search", "eager_greedy([hff],preferred=[hff],max_time=3,bound=8)",
	}, args)

	args, err = SearchArgs("", 0, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, "astar(h,cost_type=NORMAL,max_time=infinity,bound=infinity)", args[3])

	_, err = SearchArgs("lama", 0, 0)
	assert.ErrorIs(t, err, planner.ErrUnknownSearch)
}

func TestMissingInstallationIsNoPlan(t *testing.T) {
	p := New(WithRoot(t.TempDir()))
	sol, err := p.Solve(context.Background(), &planner.Request{Task: smallTask(t)})
	require.NoError(t, err)
	assert.Nil(t, sol)
}

func TestSolveWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script planner")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	script := "#!/bin/sh\ncat > received.sas\nprintf '(a-0)\\n; cost = 4 (general cost)\\n' > sas_plan\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "downward"), []byte(script), 0o755))

	p := New(WithRoot(root))
	assert.False(t, p.WantsPDDL())
	sol, err := p.Solve(context.Background(), &planner.Request{Task: smallTask(t)})
	require.NoError(t, err)
	require.NotNil(t, sol)
	require.Len(t, sol.Steps, 1)
	assert.Equal(t, 0, sol.Steps[0].Operator)
	assert.Equal(t, 4.0, sol.Cost)
}

func TestUnsolvableIsNoPlan(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script planner")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "downward"), []byte("#!/bin/sh\ncat >/dev/null\nexit 12\n"), 0o755))

	sol, err := New(WithRoot(root)).Solve(context.Background(), &planner.Request{Task: smallTask(t)})
	require.NoError(t, err)
	assert.Nil(t, sol)
}
