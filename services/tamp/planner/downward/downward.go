// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package downward runs the Fast Downward planner as a subprocess.
package downward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tamp/services/tamp/planner"
)

// File names used inside the per-call working directory.
const (
	DomainInput     = "domain.pddl"
	ProblemInput    = "problem.pddl"
	TranslateOutput = "output.sas"
	SearchOutput    = "sas_plan"
)

// EnvRoot names the environment variable holding the Fast Downward root.
const EnvRoot = "FD_PATH"

// Name is the registry name of the planner.
const Name = "downward"

// searchOptions holds the heuristic and search arguments per configuration,
// with max_time and bound left as format verbs.
var searchOptions = map[string][]string{
	planner.SearchDijkstra: {"--heuristic", "h=blind(transform=adapt_costs(cost_type=PLUSONE))", "--search", "astar(h,cost_type=NORMAL,max_time=%s,bound=%s)"},
	planner.SearchMaxAstar: {"--heuristic", "h=hmax(transform=adapt_costs(cost_type=NORMAL))", "--search", "astar(h,cost_type=NORMAL,max_time=%s,bound=%s)"},
	planner.SearchFFAstar:  {"--heuristic", "h=ff(transform=adapt_costs(cost_type=NORMAL))", "--search", "astar(h,cost_type=NORMAL,max_time=%s,bound=%s)"},
	planner.SearchFFEager:  {"--heuristic", "hff=ff(transform=adapt_costs(cost_type=PLUSONE))", "--search", "eager_greedy([hff],preferred=[hff],max_time=%s,bound=%s)"},
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner invokes bin/downward under a Fast Downward root.
//
// Description:
//
//	By default the compiled SAS task is piped to the search binary
//	directly. With Translate set, the PDDL text is written out and the
//	Fast Downward translator produces the task instead. A missing root or
//	binary is reported as "no plan" with a warning, not as an error.
//
// Thread Safety: Safe for concurrent use; every call uses its own
// temporary directory.
type Planner struct {
	root      string
	python    string
	translate bool
	keep      bool
	logger    *slog.Logger
}

// Option configures the Planner.
type Option func(*Planner)

// WithRoot sets the Fast Downward root, overriding FD_PATH.
func WithRoot(root string) Option { return func(p *Planner) { p.root = root } }

// WithTranslate makes the planner consume PDDL through the translator.
func WithTranslate(python string) Option {
	return func(p *Planner) {
		p.translate = true
		if python != "" {
			p.python = python
		}
	}
}

// KeepFiles leaves the working directory in place for inspection.
func KeepFiles() Option { return func(p *Planner) { p.keep = true } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Planner) { p.logger = l } }

// New creates the adapter.
func New(opts ...Option) *Planner {
	p := &Planner{root: os.Getenv(EnvRoot), python: "python3", logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "downward"))
	return p
}

// Name implements planner.Planner.
func (p *Planner) Name() string { return Name }

// WantsPDDL implements planner.PDDLPlanner.
func (p *Planner) WantsPDDL() bool { return p.translate }

// SearchBinary returns the search executable path.
func (p *Planner) SearchBinary() string { return filepath.Join(p.root, "bin", "downward") }

// TranslateScript returns the translator entry point.
func (p *Planner) TranslateScript() string {
	return filepath.Join(p.root, "bin", "translate", "translate.py")
}

// SearchArgs renders the search arguments for a configuration.
func SearchArgs(search string, maxTime time.Duration, maxCost float64) ([]string, error) {
	search, err := planner.CheckSearch(search)
	if err != nil {
		return nil, err
	}
	tmpl := searchOptions[search]
	timeArg := "infinity"
	if maxTime > 0 {
		timeArg = strconv.Itoa(int(math.Ceil(maxTime.Seconds())))
	}
	costArg := "infinity"
	if maxCost > 0 && !math.IsInf(maxCost, 1) {
		costArg = strconv.Itoa(int(math.Ceil(maxCost)))
	}
	args := append([]string(nil), tmpl...)
	args[3] = fmt.Sprintf(args[3], timeArg, costArg)
	return args, nil
}

// Solve implements planner.Planner.
//
// Outputs:
//
//	*planner.Solution - The plan, or nil when none was found or the
//	                    planner is not installed.
//	error             - Malformed request, I/O failure, or ctx.Err().
func (p *Planner) Solve(ctx context.Context, req *planner.Request) (*planner.Solution, error) {
	if req == nil || (req.Task == nil && !p.translate) {
		return nil, planner.ErrMissingTask
	}
	args, err := SearchArgs(req.Options.Search, req.Options.MaxTime, req.Options.MaxCost)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p.SearchBinary()); p.root == "" || err != nil {
		p.logger.Warn("fast downward not found; treating as no plan",
			slog.String("env", EnvRoot), slog.String("binary", p.SearchBinary()))
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "tamp-downward-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	if !p.keep {
		defer os.RemoveAll(dir)
	}

	if req.Options.MaxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Options.MaxTime+time.Second)
		defer cancel()
	}

	sasPath := filepath.Join(dir, TranslateOutput)
	if p.translate {
		if err := os.WriteFile(filepath.Join(dir, DomainInput), []byte(req.Domain), 0o600); err != nil {
			return nil, fmt.Errorf("writing domain: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ProblemInput), []byte(req.Problem), 0o600); err != nil {
			return nil, fmt.Errorf("writing problem: %w", err)
		}
		if _, err := p.run(ctx, dir, nil, req.Options.Verbose, p.python, p.TranslateScript(), DomainInput, ProblemInput); err != nil {
			return nil, err
		}
	} else {
		var buf bytes.Buffer
		if err := req.Task.Encode(&buf); err != nil {
			return nil, fmt.Errorf("encoding task: %w", err)
		}
		if err := os.WriteFile(sasPath, buf.Bytes(), 0o600); err != nil {
			return nil, fmt.Errorf("writing task: %w", err)
		}
	}

	in, err := os.Open(sasPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer in.Close()
	code, err := p.run(ctx, dir, in, req.Options.Verbose, p.SearchBinary(), args...)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, SearchOutput))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug("no plan", slog.Int("exit_code", code))
			return nil, nil
		}
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	sol := planner.ParsePlan(string(data))
	if req.Task != nil && !p.translate {
		for _, s := range sol.Steps {
			if s.Operator >= 0 && s.Operator < len(req.Task.Operators) {
				sol.Cost += float64(req.Task.Operators[s.Operator].Cost)
			}
		}
	}
	return sol, nil
}

// run executes a command in dir, draining its output concurrently. A
// non-zero exit is not an error: Fast Downward exits non-zero when the
// task is unsolvable.
func (p *Planner) run(ctx context.Context, dir string, stdin io.Reader, verbose bool, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, err
	}
	p.logger.Debug("running planner command", slog.String("command", name), slog.Any("args", args))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("planner command not found; treating as no plan", slog.String("command", name))
			return -1, nil
		}
		return 0, fmt.Errorf("starting %s: %w", name, err)
	}

	var out, errOut bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&out, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errOut, stderr)
		return err
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if verbose {
		p.logger.Debug("planner output",
			slog.String("command", name),
			slog.String("stdout", out.String()),
			slog.String("stderr", errOut.String()),
			slog.Duration("elapsed", time.Since(start)))
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if drainErr != nil {
		return -1, fmt.Errorf("reading %s output: %w", name, drainErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if waitErr != nil {
		return -1, fmt.Errorf("running %s: %w", name, waitErr)
	}
	return 0, nil
}
