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
	"time"
)

// EventKind classifies run events.
type EventKind string

const (
	// EventStart opens a run.
	EventStart EventKind = "start"

	// EventIteration starts an iteration.
	EventIteration EventKind = "iteration"

	// EventEvaluation is one stream instance or function evaluation.
	EventEvaluation EventKind = "evaluation"

	// EventPlan is a candidate plan returned by the planner.
	EventPlan EventKind = "plan"

	// EventReset ends an epoch.
	EventReset EventKind = "reset"

	// EventResult closes a run.
	EventResult EventKind = "result"
)

// Event is one entry of a run's history.
type Event struct {
	RunID     string    `json:"run_id"`
	Algorithm string    `json:"algorithm"`
	Sequence  int       `json:"sequence"`
	Kind      EventKind `json:"kind"`
	Iteration int       `json:"iteration"`
	Epoch     int       `json:"epoch"`
	Instance  string    `json:"instance,omitempty"`
	Atoms     []string  `json:"atoms,omitempty"`
	Plan      string    `json:"plan,omitempty"`

	// Cost is nil when no finite cost applies.
	Cost *float64  `json:"cost,omitempty"`
	Time time.Time `json:"time"`
}

// Recorder persists run events. Record errors are logged and never stop
// a run.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }
