// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tamp/services/tamp/algorithms"
	"github.com/AleutianAI/tamp/services/tamp/domains/tutorial"
	"github.com/AleutianAI/tamp/services/tamp/planner/astar"
)

func openInMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndReadBack(t *testing.T) {
	ctx := context.Background()
	j := openInMemory(t)
	start := time.Unix(1700000000, 0)
	cost := 35.0

	// Written out of order; read back in sequence order.
	events := []algorithms.Event{
		{RunID: "r1", Algorithm: "focused", Sequence: 2, Kind: algorithms.EventIteration, Iteration: 1, Epoch: 1, Time: start},
		{RunID: "r1", Algorithm: "focused", Sequence: 1, Kind: algorithms.EventStart, Epoch: 1, Time: start},
		{RunID: "r1", Algorithm: "focused", Sequence: 10, Kind: algorithms.EventResult, Plan: "[move(0, 2)]", Cost: &cost, Time: start},
		{RunID: "r2", Algorithm: "incremental", Sequence: 1, Kind: algorithms.EventStart, Time: start.Add(time.Second)},
	}
	for _, e := range events {
		require.NoError(t, j.Record(ctx, e))
	}

	got, err := j.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].Sequence, got[1].Sequence, got[2].Sequence})
	assert.Equal(t, algorithms.EventResult, got[2].Kind)
	require.NotNil(t, got[2].Cost)
	assert.Equal(t, 35.0, *got[2].Cost)
	assert.Equal(t, "[move(0, 2)]", got[2].Plan)

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].ID)
	assert.Equal(t, "focused", runs[0].Algorithm)
	assert.True(t, start.Equal(runs[0].Started))
	assert.Equal(t, "r2", runs[1].ID)
	assert.True(t, runs[1].Started.After(runs[0].Started))
}

func TestEventsUnknownRun(t *testing.T) {
	_, err := openInMemory(t).Events(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordRejectsEventWithoutRun(t *testing.T) {
	err := openInMemory(t).Record(context.Background(), algorithms.Event{Kind: algorithms.EventStart})
	assert.Error(t, err)
}

func TestRecordHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := openInMemory(t).Record(ctx, algorithms.Event{RunID: "r", Sequence: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestPersistentJournalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, algorithms.Event{RunID: "r", Algorithm: "exhaustive", Sequence: 1, Kind: algorithms.EventStart, Time: time.Now()}))
	require.NoError(t, j.Close())

	j, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Events(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "exhaustive", got[0].Algorithm)
}

func TestJournalRecordsSolverRun(t *testing.T) {
	ctx := context.Background()
	j := openInMemory(t)
	p, err := tutorial.Build(2)
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := algorithms.New(astar.New(astar.WithLogger(quiet)), algorithms.WithLogger(quiet), algorithms.WithRecorder(j))
	res, err := s.Focused(ctx, p)
	require.NoError(t, err)
	require.True(t, res.Solved())

	events, err := j.Events(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, algorithms.EventStart, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, algorithms.EventResult, last.Kind)
	assert.Equal(t, res.Plan.String(), last.Plan)

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, algorithms.Focused, runs[0].Algorithm)
}
