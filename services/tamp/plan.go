// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tamp

import (
	"strings"

	"github.com/AleutianAI/tamp/services/tamp/model"
)

// Step is one plan step: a lifted action and its arguments.
type Step struct {
	Action *model.Action
	Args   []model.Object
}

// Instance grounds the step.
func (s Step) Instance() *model.Action { return s.Action.Instantiate(s.Args) }

func (s Step) String() string {
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = model.FormatObject(a)
	}
	return s.Action.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Plan is an ordered list of steps. A nil Plan means no plan was found; a
// found empty plan is a non-nil, zero-length Plan.
type Plan []Step

// Instances grounds every step.
func (p Plan) Instances() []*model.Action {
	out := make([]*model.Action, len(p))
	for i, s := range p {
		out[i] = s.Instance()
	}
	return out
}

func (p Plan) String() string {
	if p == nil {
		return "<none>"
	}
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Cost replays the plan from evals and returns the final TotalCost, or
// +Inf when there is no plan.
func Cost(p Plan, evals []model.Literal) float64 {
	if p == nil {
		return model.Inf
	}
	return model.PlanCost(evals, p.Instances())
}

// Length returns the number of steps, or +Inf when there is no plan.
func Length(p Plan) float64 {
	if p == nil {
		return model.Inf
	}
	return float64(len(p))
}

// IsSolution checks the plan against the problem goal from evals, using
// ground axiom instances to recompute derived facts at every step.
func IsSolution(problem *Problem, evals []model.Literal, p Plan, axioms []*model.Axiom) bool {
	if p == nil {
		return false
	}
	return model.IsSolution(evals, p.Instances(), problem.Goal, axioms)
}
