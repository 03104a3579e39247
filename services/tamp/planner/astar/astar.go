// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package astar is an in-process heuristic search planner over SAS tasks.
//
// The Fast Downward search configurations map onto native heuristics:
// dijkstra uses the blind heuristic, max-astar uses hmax, and ff-astar and
// ff-eager use hadd (the latter greedily). dijkstra and max-astar return
// cost-optimal plans.
package astar

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/sas"
)

// Name is the registry name of the planner.
const Name = "astar"

// checkEvery is how many expansions pass between deadline checks.
const checkEvery = 256

// Planner searches SAS tasks in process.
//
// Thread Safety: Safe for concurrent use; Solve keeps no shared state.
type Planner struct {
	logger   *slog.Logger
	maxNodes int
}

// Option configures the Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Planner) { p.logger = l } }

// WithMaxNodes caps the number of expanded states; 0 means unlimited.
func WithMaxNodes(n int) Option { return func(p *Planner) { p.maxNodes = n } }

// New creates the planner.
func New(opts ...Option) *Planner {
	p := &Planner{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "astar"))
	return p
}

// Name implements planner.Planner.
func (p *Planner) Name() string { return Name }

type heuristic int

const (
	blind heuristic = iota
	hmax
	hadd
)

type node struct {
	state  []int8
	g      float64
	h      float64
	parent *node
	op     int
	index  int
}

type frontier struct {
	nodes  []*node
	greedy bool
}

func (f frontier) Len() int { return len(f.nodes) }
func (f frontier) Less(i, j int) bool {
	a, b := f.nodes[i], f.nodes[j]
	fa, fb := a.g+a.h, b.g+b.h
	if f.greedy {
		fa, fb = a.h, b.h
	}
	if fa != fb {
		return fa < fb
	}
	if a.h != b.h {
		return a.h < b.h
	}
	return a.g > b.g
}
func (f frontier) Swap(i, j int) {
	f.nodes[i], f.nodes[j] = f.nodes[j], f.nodes[i]
	f.nodes[i].index = i
	f.nodes[j].index = j
}
func (f *frontier) Push(x any) {
	n := x.(*node)
	n.index = len(f.nodes)
	f.nodes = append(f.nodes, n)
}
func (f *frontier) Pop() any {
	old := f.nodes
	n := old[len(old)-1]
	old[len(old)-1] = nil
	f.nodes = old[:len(old)-1]
	n.index = -1
	return n
}

// Solve implements planner.Planner.
//
// Description:
//
//	Runs best-first search from the initial state. Derived variables are
//	recomputed by a fixpoint over the task rules in every generated state.
//	Successors whose cost reaches Options.MaxCost are pruned. When
//	Options.MaxTime elapses the search gives up and reports no plan; when
//	ctx is done it returns ctx.Err().
func (p *Planner) Solve(ctx context.Context, req *planner.Request) (*planner.Solution, error) {
	if req == nil || req.Task == nil {
		return nil, planner.ErrMissingTask
	}
	search, err := planner.CheckSearch(req.Options.Search)
	if err != nil {
		return nil, err
	}
	h := blind
	greedy := false
	switch search {
	case planner.SearchMaxAstar:
		h = hmax
	case planner.SearchFFAstar:
		h = hadd
	case planner.SearchFFEager:
		h, greedy = hadd, true
	}
	var deadline time.Time
	if req.Options.MaxTime > 0 {
		deadline = time.Now().Add(req.Options.MaxTime)
	}
	bound := math.Inf(1)
	if !req.Options.Unbounded() {
		bound = req.Options.MaxCost
	}

	s := newSearcher(req.Task, h)
	start := make([]int8, len(req.Task.Variables))
	for i, v := range req.Task.Initial {
		start[i] = int8(v)
	}
	s.applyRules(start)

	root := &node{state: start, op: -1}
	root.h = s.estimate(start)
	if math.IsInf(root.h, 1) {
		return nil, nil
	}
	open := &frontier{greedy: greedy}
	heap.Push(open, root)
	best := map[string]float64{key(start): 0}
	closed := make(map[string]bool)

	expanded := 0
	for open.Len() > 0 {
		n := heap.Pop(open).(*node)
		k := key(n.state)
		if closed[k] {
			continue
		}
		closed[k] = true
		if s.isGoal(n.state) {
			p.logger.Debug("plan found", slog.Int("expanded", expanded), slog.Float64("cost", n.g))
			return extract(req.Task, n), nil
		}
		expanded++
		if expanded%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				p.logger.Debug("search timed out", slog.Int("expanded", expanded))
				return nil, nil
			}
		}
		if p.maxNodes > 0 && expanded > p.maxNodes {
			return nil, nil
		}
		for i := range req.Task.Operators {
			op := &req.Task.Operators[i]
			if !applicable(op, n.state) {
				continue
			}
			g := n.g + float64(op.Cost)
			if g >= bound {
				continue
			}
			next := s.apply(op, n.state)
			nk := key(next)
			if closed[nk] {
				continue
			}
			if old, ok := best[nk]; ok && old <= g {
				continue
			}
			hv := s.estimate(next)
			if math.IsInf(hv, 1) {
				continue
			}
			best[nk] = g
			heap.Push(open, &node{state: next, g: g, h: hv, parent: n, op: i})
		}
	}
	return nil, nil
}

func key(state []int8) string {
	b := make([]byte, len(state))
	for i, v := range state {
		b[i] = byte(v)
	}
	return string(b)
}

func applicable(op *sas.Operator, state []int8) bool {
	for _, f := range op.Prevail {
		if int(state[f.Var]) != f.Val {
			return false
		}
	}
	for _, e := range op.Effects {
		if e.Pre >= 0 && int(state[e.Var]) != e.Pre {
			return false
		}
	}
	return true
}

func extract(t *sas.Task, n *node) *planner.Solution {
	var ops []int
	for ; n.parent != nil; n = n.parent {
		ops = append(ops, n.op)
	}
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return planner.OperatorSteps(t, ops)
}

// searcher holds per-task lookup tables.
type searcher struct {
	task    *sas.Task
	h       heuristic
	derived []bool
}

func newSearcher(t *sas.Task, h heuristic) *searcher {
	s := &searcher{task: t, h: h, derived: make([]bool, len(t.Variables))}
	for i, v := range t.Variables {
		s.derived[i] = v.Derived
	}
	return s
}

// applyRules resets derived variables and runs the rules to a fixpoint.
func (s *searcher) applyRules(state []int8) {
	if len(s.task.Rules) == 0 {
		return
	}
	for i, d := range s.derived {
		if d {
			state[i] = sas.False
		}
	}
	for changed := true; changed; {
		changed = false
		for _, r := range s.task.Rules {
			if int(state[r.Effect.Var]) == r.Effect.Val {
				continue
			}
			if holds(r.Conditions, state) {
				state[r.Effect.Var] = int8(r.Effect.Val)
				changed = true
			}
		}
	}
}

func holds(facts []sas.Fact, state []int8) bool {
	for _, f := range facts {
		if int(state[f.Var]) != f.Val {
			return false
		}
	}
	return true
}

func (s *searcher) apply(op *sas.Operator, state []int8) []int8 {
	next := append([]int8(nil), state...)
	for _, e := range op.Effects {
		next[e.Var] = int8(e.Post)
	}
	s.applyRules(next)
	return next
}

func (s *searcher) isGoal(state []int8) bool { return holds(s.task.Goal, state) }

// estimate computes the heuristic value of state; +Inf marks a dead end.
func (s *searcher) estimate(state []int8) float64 {
	if s.h == blind {
		return 0
	}
	if s.isGoal(state) {
		return 0
	}
	cost := make([]float64, 2*len(state))
	for i := range cost {
		cost[i] = math.Inf(1)
	}
	for v, val := range state {
		cost[2*v+int(val)] = 0
		if s.derived[v] {
			cost[2*v+sas.False] = 0
		}
	}
	combine := func(facts []sas.Fact) float64 {
		total := 0.0
		for _, f := range facts {
			c := cost[2*f.Var+f.Val]
			if math.IsInf(c, 1) {
				return c
			}
			if s.h == hmax {
				total = math.Max(total, c)
			} else {
				total += c
			}
		}
		return total
	}
	for changed := true; changed; {
		changed = false
		for i := range s.task.Operators {
			op := &s.task.Operators[i]
			c := combine(op.Prevail)
			for _, e := range op.Effects {
				if e.Pre >= 0 {
					c2 := combine([]sas.Fact{{Var: e.Var, Val: e.Pre}})
					if s.h == hmax {
						c = math.Max(c, c2)
					} else {
						c += c2
					}
				}
			}
			if math.IsInf(c, 1) {
				continue
			}
			c += float64(op.Cost)
			for _, e := range op.Effects {
				if k := 2*e.Var + e.Post; c < cost[k] {
					cost[k] = c
					changed = true
				}
			}
		}
		for _, r := range s.task.Rules {
			c := combine(r.Conditions)
			if k := 2*r.Effect.Var + r.Effect.Val; c < cost[k] {
				cost[k] = c
				changed = true
			}
		}
	}
	return combine(s.task.Goal)
}
