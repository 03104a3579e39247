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
	"errors"
	"log/slog"
	"math"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

// evaluateQueue pops up to max instances (all when max < 0), calls the ones
// not yet enumerated and requeues those that may still produce outputs.
func evaluateQueue(ctx context.Context, r *run, queue *universe.Queue, add func([]model.Literal), max int) error {
	for n := 0; queue.Len() > 0 && (max < 0 || n < max); n++ {
		if r.expired(ctx) {
			return errStopped
		}
		inst, _ := queue.Pop()
		if !inst.Enumerated() {
			atoms, err := r.evaluate(ctx, inst)
			if err != nil {
				return err
			}
			add(atoms)
		}
		if !inst.Enumerated() {
			queue.Push(inst)
		}
	}
	return nil
}

// Incremental alternates planning and one round of evaluating every queued
// stream instance.
//
// Description:
//
//	Each iteration first plans over the facts known so far, so problems
//	that need no stream outputs are solved immediately, then evaluates the
//	instances queued at the start of the round. The run ends when a plan
//	cheaper than the terminate cost is found, the queue is empty or the
//	budget is spent. Later plans must beat the best cost so far, so the
//	reported cost never increases.
//
// Inputs:
//
//	ctx     - Cancellation ends the run with the best plan so far.
//	problem - The problem to solve.
//
// Outputs:
//
//	*Result - The best plan, or a nil Plan when none was found.
//	error   - Planner, compilation or stream failures.
func (s *Solver) Incremental(ctx context.Context, problem *tamp.Problem) (*Result, error) {
	r, ctx, err := s.begin(ctx, Incremental, problem)
	if err != nil {
		return nil, err
	}
	u := universe.New(problem, problem.Initial, universe.Options{Logger: r.logger})

	var best tamp.Plan
	bestCost := model.Inf
	for !r.expired(ctx) {
		ictx, span := r.nextIteration(ctx, slog.Int("queued", u.StreamQueue.Len()))
		bound := math.Min(bestCost, s.maxCost)
		plan, err := r.solve(ictx, u, bound)
		if err != nil {
			endSpan(span, err)
			return r.finish(ctx, best, bestCost, u.Evaluations().Literals(), err)
		}
		if plan != nil {
			if cost := u.Cost(plan); cost < bound {
				best, bestCost = plan, cost
			}
		}
		if bestCost < s.terminateCost || u.StreamQueue.Len() == 0 {
			endSpan(span, nil)
			break
		}
		err = evaluateQueue(ictx, r, u.StreamQueue, u.AddEvals, u.StreamQueue.Len())
		endSpan(span, err)
		if err != nil {
			return r.finish(ctx, best, bestCost, u.Evaluations().Literals(), err)
		}
	}
	return r.finish(ctx, best, bestCost, u.Evaluations().Literals(), nil)
}

// Exhaustive evaluates stream instances one at a time until none remain or
// the budget is spent, then plans once.
func (s *Solver) Exhaustive(ctx context.Context, problem *tamp.Problem) (*Result, error) {
	r, ctx, err := s.begin(ctx, Exhaustive, problem)
	if err != nil {
		return nil, err
	}
	u := universe.New(problem, problem.Initial, universe.Options{Logger: r.logger})

	ictx, span := r.nextIteration(ctx, slog.Int("queued", u.StreamQueue.Len()))
	for u.StreamQueue.Len() > 0 {
		err := evaluateQueue(ictx, r, u.StreamQueue, u.AddEvals, 1)
		if errors.Is(err, errStopped) {
			break
		}
		if err != nil {
			endSpan(span, err)
			return r.finish(ctx, nil, model.Inf, u.Evaluations().Literals(), err)
		}
	}
	plan, err := r.solve(ictx, u, s.maxCost)
	endSpan(span, err)
	if err != nil {
		return r.finish(ctx, nil, model.Inf, u.Evaluations().Literals(), err)
	}
	return r.finish(ctx, plan, u.Cost(plan), u.Evaluations().Literals(), nil)
}
