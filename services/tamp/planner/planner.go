// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner defines the classical planner boundary.
//
// Algorithms hand a Request holding a compiled SAS task (and, for planners
// that translate themselves, the PDDL text) to a Planner and get back a
// Solution naming the chosen operators. "No plan" is a nil Solution, never
// an error.
package planner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/tamp/services/tamp/sas"
)

//go:generate mockgen -package=planner -destination=mock_planner.go github.com/AleutianAI/tamp/services/tamp/planner Planner

// Package-level error definitions.
var (
	ErrUnknownSearch  = errors.New("unknown search configuration")
	ErrUnknownPlanner = errors.New("unknown planner")
	ErrMissingTask    = errors.New("request carries no task")
)

// Search configuration names.
const (
	SearchDijkstra = "dijkstra"
	SearchMaxAstar = "max-astar"
	SearchFFAstar  = "ff-astar"
	SearchFFEager  = "ff-eager"
)

// DefaultSearch is used when Options.Search is empty.
const DefaultSearch = SearchDijkstra

// Searches lists the supported search configurations.
func Searches() []string {
	return []string{SearchDijkstra, SearchMaxAstar, SearchFFAstar, SearchFFEager}
}

// CheckSearch validates a search name; empty means DefaultSearch.
func CheckSearch(name string) (string, error) {
	if name == "" {
		return DefaultSearch, nil
	}
	for _, s := range Searches() {
		if s == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSearch, name)
}

// Options tunes one planner call.
type Options struct {
	// Search selects the search configuration.
	Search string

	// MaxTime bounds the call; zero means no limit.
	MaxTime time.Duration

	// MaxCost is an exclusive bound on plan cost; +Inf means none.
	MaxCost float64

	// Verbose forwards planner output to the debug log.
	Verbose bool
}

// Unbounded reports whether no cost bound applies.
func (o Options) Unbounded() bool { return o.MaxCost <= 0 || math.IsInf(o.MaxCost, 1) }

// Request is one planning call.
type Request struct {
	Task    *sas.Task
	Domain  string
	Problem string
	Options Options
}

// Step is one plan step as named by the planner. Operator is the index
// into Task.Operators, or -1 when the planner reported a PDDL action.
type Step struct {
	Name     string
	Args     []string
	Operator int
}

// Solution is a found plan.
type Solution struct {
	Steps []Step
	Cost  float64
}

// Planner solves classical planning requests.
type Planner interface {
	// Name identifies the planner in logs and metrics.
	Name() string

	// Solve returns a plan, or nil when none exists within the options.
	Solve(ctx context.Context, req *Request) (*Solution, error)
}

// PDDLPlanner is implemented by planners that consume the PDDL text
// rather than the SAS task.
type PDDLPlanner interface {
	Planner
	WantsPDDL() bool
}

// WantsPDDL reports whether p needs PDDL text in its requests.
func WantsPDDL(p Planner) bool {
	pp, ok := p.(PDDLPlanner)
	return ok && pp.WantsPDDL()
}

// OperatorSteps converts operator indexes of t into steps.
func OperatorSteps(t *sas.Task, ops []int) *Solution {
	sol := &Solution{Steps: make([]Step, 0, len(ops))}
	for _, i := range ops {
		sol.Steps = append(sol.Steps, Step{Name: sas.OperatorName(i), Operator: i})
		sol.Cost += float64(t.Operators[i].Cost)
	}
	return sol
}

// ParsePlan reads a plan file: one "(name arg...)" per line, lines
// starting with ';' ignored. Names of the form a-<i> resolve to operator
// indexes.
func ParsePlan(text string) *Solution {
	sol := &Solution{Steps: []Step{}}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		line = strings.TrimSuffix(strings.TrimPrefix(line, "("), ")")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		step := Step{Name: fields[0], Args: fields[1:], Operator: -1}
		if i, ok := sas.ParseOperatorName(step.Name); ok && len(step.Args) == 0 {
			step.Operator = i
		}
		sol.Steps = append(sol.Steps, step)
	}
	return sol
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Factory builds a planner.
type Factory func() (Planner, error)

// Registry maps planner names to factories.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named planner.
func (r *Registry) New(name string) (Planner, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownPlanner, name, strings.Join(r.Names(), ", "))
	}
	return f()
}

// Names lists registered planners in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
