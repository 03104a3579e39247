// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package satplan solves SAS tasks by bounded-horizon SAT encoding with the
// gini solver.
//
// Horizons 0, 1, 2, ... are tried in turn, so the first plan found has the
// fewest steps, not necessarily the lowest cost. Plans that violate the cost
// bound are rejected and the horizon grows. Derived variables are encoded
// by completion: a derived fact is true iff one of its rule bodies holds,
// which is exact for acyclic rule sets.
package satplan

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"

	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/sas"
)

// Name is the registry name of the planner.
const Name = "satplan"

// DefaultMaxHorizon bounds the number of steps tried.
const DefaultMaxHorizon = 32

// Planner is a SAT-based planner.
//
// Thread Safety: Safe for concurrent use; every call builds its own solver.
type Planner struct {
	maxHorizon int
	logger     *slog.Logger
}

// Option configures the Planner.
type Option func(*Planner)

// WithMaxHorizon sets the largest horizon tried.
func WithMaxHorizon(n int) Option { return func(p *Planner) { p.maxHorizon = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Planner) { p.logger = l } }

// New creates the planner.
func New(opts ...Option) *Planner {
	p := &Planner{maxHorizon: DefaultMaxHorizon, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "satplan"))
	return p
}

// Name implements planner.Planner.
func (p *Planner) Name() string { return Name }

// Solve implements planner.Planner. The search configuration is validated
// but otherwise ignored.
func (p *Planner) Solve(ctx context.Context, req *planner.Request) (*planner.Solution, error) {
	if req == nil || req.Task == nil {
		return nil, planner.ErrMissingTask
	}
	if _, err := planner.CheckSearch(req.Options.Search); err != nil {
		return nil, err
	}
	var deadline time.Time
	if req.Options.MaxTime > 0 {
		deadline = time.Now().Add(req.Options.MaxTime)
	}
	bound := math.Inf(1)
	if !req.Options.Unbounded() {
		bound = req.Options.MaxCost
	}

	for horizon := 0; horizon <= p.maxHorizon; horizon++ {
		enc := encode(req.Task, horizon)
		res, err := enc.solve(ctx, deadline)
		if err != nil {
			return nil, err
		}
		switch res {
		case 0:
			p.logger.Debug("sat solving timed out", slog.Int("horizon", horizon))
			return nil, nil
		case -1:
			continue
		}
		sol := planner.OperatorSteps(req.Task, enc.plan())
		if sol.Cost >= bound {
			p.logger.Debug("plan exceeds cost bound",
				slog.Int("horizon", horizon), slog.Float64("cost", sol.Cost), slog.Float64("bound", bound))
			continue
		}
		return sol, nil
	}
	return nil, nil
}

// encoding is one horizon's formula.
type encoding struct {
	task    *sas.Task
	horizon int
	c       *logic.C
	x       [][]z.Lit
	a       [][]z.Lit
	roots   []z.Lit
	g       *gini.Gini
}

func lit(m z.Lit, val int) z.Lit {
	if val == sas.True {
		return m
	}
	return m.Not()
}

func encode(t *sas.Task, horizon int) *encoding {
	e := &encoding{task: t, horizon: horizon, c: logic.NewC()}
	c := e.c
	n := len(t.Variables)
	e.x = make([][]z.Lit, horizon+1)
	for s := range e.x {
		e.x[s] = make([]z.Lit, n)
		for v := range e.x[s] {
			e.x[s][v] = c.Lit()
		}
	}
	e.a = make([][]z.Lit, horizon)
	for s := range e.a {
		e.a[s] = make([]z.Lit, len(t.Operators))
		for o := range e.a[s] {
			e.a[s][o] = c.Lit()
		}
	}
	facts := func(s int, fs []sas.Fact) []z.Lit {
		out := make([]z.Lit, len(fs))
		for i, f := range fs {
			out[i] = lit(e.x[s][f.Var], f.Val)
		}
		return out
	}

	for v, val := range t.Initial {
		if !t.Variables[v].Derived {
			e.roots = append(e.roots, lit(e.x[0][v], val))
		}
	}

	bodies := make(map[int][]sas.Rule)
	for _, r := range t.Rules {
		if r.Effect.Val == sas.True {
			bodies[r.Effect.Var] = append(bodies[r.Effect.Var], r)
		}
	}
	for s := 0; s <= horizon; s++ {
		for v, variable := range t.Variables {
			if !variable.Derived {
				continue
			}
			var disj []z.Lit
			for _, r := range bodies[v] {
				disj = append(disj, c.Ands(facts(s, r.Conditions)...))
			}
			e.roots = append(e.roots, c.Xor(e.x[s][v], c.Ors(disj...)).Not())
		}
	}

	e.roots = append(e.roots, facts(horizon, t.Goal)...)

	for s := 0; s < horizon; s++ {
		setTrue := make([][]z.Lit, n)
		setFalse := make([][]z.Lit, n)
		used := c.F
		for o := range t.Operators {
			op := &t.Operators[o]
			act := e.a[s][o]
			conds := facts(s, op.Preconditions())
			for _, eff := range op.Effects {
				conds = append(conds, lit(e.x[s+1][eff.Var], eff.Post))
				if eff.Post == sas.True {
					setTrue[eff.Var] = append(setTrue[eff.Var], act)
				} else {
					setFalse[eff.Var] = append(setFalse[eff.Var], act)
				}
			}
			e.roots = append(e.roots, c.Implies(act, c.Ands(conds...)))
			// At most one action per step.
			e.roots = append(e.roots, c.Implies(act, used.Not()))
			used = c.Or(used, act)
		}
		for v, variable := range t.Variables {
			if variable.Derived {
				continue
			}
			now, next := e.x[s][v], e.x[s+1][v]
			e.roots = append(e.roots,
				c.Implies(c.And(next, now.Not()), c.Ors(setTrue[v]...)),
				c.Implies(c.And(next.Not(), now), c.Ors(setFalse[v]...)))
		}
	}

	e.g = gini.New()
	c.ToCnf(e.g)
	e.g.Add(c.T)
	e.g.Add(0)
	for _, r := range e.roots {
		e.g.Add(r)
		e.g.Add(0)
	}
	return e
}

// solve runs the solver until it answers or the earlier of deadline and
// the ctx deadline passes. It returns 1 for sat, -1 for unsat and 0 on
// timeout.
func (e *encoding) solve(ctx context.Context, deadline time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	s := e.g.GoSolve()
	if deadline.IsZero() {
		return s.Wait(), nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		s.Stop()
		return 0, nil
	}
	res := s.Try(left)
	if res == 0 && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return res, nil
}

// plan reads the chosen operators from the model.
func (e *encoding) plan() []int {
	var ops []int
	for s := 0; s < e.horizon; s++ {
		for o, act := range e.a[s] {
			if e.g.Value(act) {
				ops = append(ops, o)
				break
			}
		}
	}
	return ops
}
