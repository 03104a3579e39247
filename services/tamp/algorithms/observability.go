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
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "tamp.algorithms"

// =============================================================================
// Metrics
// =============================================================================

var (
	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tamp",
		Name:      "iterations_total",
		Help:      "Total solver iterations by algorithm",
	}, []string{"algorithm"})

	epochsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tamp",
		Name:      "epochs_total",
		Help:      "Total disabled-stream resets by algorithm",
	}, []string{"algorithm"})

	streamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tamp",
		Name:      "stream_calls_total",
		Help:      "Total stream instance evaluations by stream",
	}, []string{"stream"})

	plannerSolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tamp",
		Name:      "planner_solves_total",
		Help:      "Total planner calls by planner and outcome",
	}, []string{"planner", "outcome"})

	plannerSolveSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tamp",
		Name:      "planner_solve_seconds",
		Help:      "Planner call latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"planner"})
)

// Planner call outcomes.
const (
	outcomePlan   = "plan"
	outcomeNoPlan = "no_plan"
	outcomeError  = "error"
)

// =============================================================================
// Tracing
// =============================================================================

// runTracer wraps span creation so disabled tracing costs nothing.
//
// Thread Safety: Safe for concurrent use.
type runTracer struct {
	tracer  trace.Tracer
	enabled bool
}

func newRunTracer(enabled bool) *runTracer {
	return &runTracer{tracer: otel.Tracer(tracerName), enabled: enabled}
}

// startRun opens the span covering one algorithm run.
func (t *runTracer) startRun(ctx context.Context, algorithm, runID string, maxCost float64) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	attrs := []attribute.KeyValue{
		attribute.String("tamp.run_id", runID),
		attribute.String("tamp.algorithm", algorithm),
	}
	if !math.IsInf(maxCost, 1) {
		attrs = append(attrs, attribute.Float64("tamp.max_cost", maxCost))
	}
	return t.tracer.Start(ctx, "tamp."+algorithm,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endRun records the outcome and closes the span.
func (t *runTracer) endRun(span trace.Span, stats Stats, cost float64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("tamp.result.iterations", stats.Iterations),
		attribute.Int("tamp.result.epochs", stats.Epochs),
		attribute.Int("tamp.result.stream_calls", stats.StreamCalls),
		attribute.Bool("tamp.result.solved", !math.IsInf(cost, 1)),
		attribute.String("tamp.result.elapsed", stats.Elapsed.String()),
	)
	if !math.IsInf(cost, 1) {
		span.SetAttributes(attribute.Float64("tamp.result.cost", cost))
	}
	span.End()
}

func (t *runTracer) startIteration(ctx context.Context, iteration, epoch int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tamp.iteration",
		trace.WithAttributes(
			attribute.Int("tamp.iteration", iteration),
			attribute.Int("tamp.epoch", epoch),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *runTracer) startSolve(ctx context.Context, plannerName string, operators int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tamp.solve",
		trace.WithAttributes(
			attribute.String("tamp.planner", plannerName),
			attribute.Int("tamp.operators", operators),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *runTracer) startStream(ctx context.Context, instance string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "tamp.stream.evaluate",
		trace.WithAttributes(attribute.String("tamp.stream.instance", instance)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan sets the span status from err and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// LoggerWithTrace returns a logger that carries the trace and span IDs of
// ctx, or logger unchanged when ctx has no recording span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
