// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithms

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/tamp/services/tamp/planner/astar"
)

func TestMetricsCountRunActivity(t *testing.T) {
	iterations := testutil.ToFloat64(iterationsTotal.WithLabelValues(Focused))
	calls := testutil.ToFloat64(streamCallsTotal.WithLabelValues("find-route"))
	plans := testutil.ToFloat64(plannerSolvesTotal.WithLabelValues(astar.Name, outcomePlan))

	res, err := newSolver().Focused(context.Background(), roadProblem(t, true))
	require.NoError(t, err)

	assert.Equal(t, float64(res.Stats.Iterations), testutil.ToFloat64(iterationsTotal.WithLabelValues(Focused))-iterations)
	assert.Equal(t, 1.0, testutil.ToFloat64(streamCallsTotal.WithLabelValues("find-route"))-calls)
	assert.Equal(t, float64(res.Stats.Solves), testutil.ToFloat64(plannerSolvesTotal.WithLabelValues(astar.Name, outcomePlan))-plans)
}

func TestTracingRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	res, err := newSolver(WithTracing(true)).Focused(context.Background(), roadProblem(t, true))
	require.NoError(t, err)
	require.True(t, res.Solved())

	counts := make(map[string]int)
	var run sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		counts[s.Name()]++
		if s.Name() == "tamp.focused" {
			run = s
		}
	}
	assert.Equal(t, 1, counts["tamp.focused"])
	assert.Equal(t, res.Stats.Iterations, counts["tamp.iteration"])
	assert.Equal(t, res.Stats.Solves, counts["tamp.solve"])
	assert.Equal(t, 1, counts["tamp.stream.evaluate"])
	require.NotNil(t, run)
	for _, s := range sr.Ended() {
		assert.Equal(t, run.SpanContext().TraceID(), s.SpanContext().TraceID())
	}
}

func TestTracingDisabledRecordsNothing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, err := newSolver(WithTracing(false)).Focused(context.Background(), roadProblem(t, true))
	require.NoError(t, err)
	assert.Empty(t, sr.Ended())
}
