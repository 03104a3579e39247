// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tamp/pkg/logging"
	"github.com/AleutianAI/tamp/services/tamp/algorithms"
	"github.com/AleutianAI/tamp/services/tamp/config"
	"github.com/AleutianAI/tamp/services/tamp/domains/tutorial"
	"github.com/AleutianAI/tamp/services/tamp/journal"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/universe"
)

// app holds the state shared by every command of one invocation.
type app struct {
	out io.Writer

	configPath string
	logLevel   string
	trace      bool

	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// newRootCmd builds the command tree writing results to out.
func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "tamp",
		Short: "Stream-based task and motion planning",
		Long: `tamp solves planning problems whose objects and facts are produced on
demand by streams, using incremental, exhaustive or focused search over a
classical planner.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML or JSON config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.trace, "trace", false, "print OpenTelemetry spans to stderr")

	root.AddCommand(a.solveCmd(), a.pddlCmd(), a.sasCmd(), a.journalCmd())
	return root
}

// setup loads configuration and installs logging and tracing.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.trace {
		cfg.Observability.Tracing = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		LogDir:  cfg.Logging.Dir,
		Service: "tamp",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if cfg.Observability.Tracing {
		shutdown, err := setupTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a.shutdown = shutdown
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.shutdown != nil {
		if err := a.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
			a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}

// =============================================================================
// solve
// =============================================================================

type solveFlags struct {
	algorithm   string
	planner     string
	search      string
	maxTime     time.Duration
	journalPath string
	blocks      int
	output      string
}

func (a *app) solveCmd() *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve the blocks tutorial problem",
		Example: `  tamp solve --algorithm focused --blocks 3
  tamp solve --algorithm incremental --planner satplan --max-time 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSolve(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.algorithm, "algorithm", "a", "", "one of: "+strings.Join(algorithms.Names(), ", "))
	fl.StringVarP(&f.planner, "planner", "p", "", "one of: astar, satplan, downward")
	fl.StringVar(&f.search, "search", "", "search configuration: dijkstra, max-astar, ff-astar, ff-eager")
	fl.DurationVar(&f.maxTime, "max-time", 0, "time budget for the run")
	fl.StringVar(&f.journalPath, "journal", "", "record the run in the journal at this path")
	fl.IntVarP(&f.blocks, "blocks", "n", 2, "number of blocks")
	fl.StringVarP(&f.output, "output", "o", outputAuto, "output format: auto, text, json")
	return cmd
}

func (a *app) runSolve(cmd *cobra.Command, f *solveFlags) error {
	cfg := a.cfg
	fl := cmd.Flags()
	if fl.Changed("algorithm") {
		cfg.Solver.Algorithm = f.algorithm
	}
	if fl.Changed("planner") {
		cfg.Planner.Name = f.planner
	}
	if fl.Changed("search") {
		cfg.Solver.Search = f.search
	}
	if fl.Changed("max-time") {
		cfg.Solver.MaxTime = f.maxTime
	}
	if fl.Changed("journal") {
		cfg.Journal.Path = f.journalPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := outputFormat(f.output, a.out)
	if err != nil {
		return err
	}

	problem, err := tutorial.Build(f.blocks)
	if err != nil {
		return err
	}
	logger := a.logger.Slog()
	var extra []algorithms.Option
	if cfg.Journal.Path != "" {
		j, err := journal.Open(journal.DefaultConfig(cfg.Journal.Path))
		if err != nil {
			return err
		}
		defer j.Close()
		extra = append(extra, algorithms.WithRecorder(j))
	}
	solver, err := cfg.NewSolver(logger, extra...)
	if err != nil {
		return err
	}
	res, err := solver.Solve(cmd.Context(), cfg.Solver.Algorithm, problem)
	if err != nil {
		return err
	}
	return printResult(a.out, res, format)
}

// =============================================================================
// pddl / sas
// =============================================================================

type compileFlags struct {
	blocks int
	bounds bool
}

func (f *compileFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.blocks, "blocks", "n", 2, "number of blocks")
	cmd.Flags().BoolVar(&f.bounds, "bounds", false, "include optimistic stream outputs and function bounds")
}

// initialUniverse compiles the tutorial problem over its initial facts.
func (a *app) initialUniverse(f *compileFlags) (*universe.Universe, error) {
	problem, err := tutorial.Build(f.blocks)
	if err != nil {
		return nil, err
	}
	u := universe.New(problem, model.InferEvaluations(problem.Initial), universe.Options{
		UseBounds: f.bounds,
		Logger:    a.logger.Slog(),
	})
	if f.bounds {
		for u.StreamQueue.Len() > 0 {
			inst, _ := u.StreamQueue.Pop()
			u.AddEvals(model.InferEvaluations(inst.BoundAtoms()))
		}
	}
	return u, nil
}

func (a *app) pddlCmd() *cobra.Command {
	f := &compileFlags{}
	cmd := &cobra.Command{
		Use:   "pddl",
		Short: "Print the PDDL domain and problem of the tutorial problem",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			u, err := a.initialUniverse(f)
			if err != nil {
				return err
			}
			domain, problem := u.PDDL()
			_, err = fmt.Fprintf(a.out, "%s\n%s\n", domain, problem)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) sasCmd() *cobra.Command {
	f := &compileFlags{}
	cmd := &cobra.Command{
		Use:   "sas",
		Short: "Print the SAS task of the tutorial problem",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			u, err := a.initialUniverse(f)
			if err != nil {
				return err
			}
			task, err := u.Task()
			if err != nil {
				return err
			}
			return task.Encode(a.out)
		},
	}
	f.register(cmd)
	return cmd
}

// =============================================================================
// journal
// =============================================================================

func (a *app) journalCmd() *cobra.Command {
	var path, run string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled runs, or print the events of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.Journal.Path
			}
			if path == "" {
				return fmt.Errorf("no journal path: set --path or TAMP_JOURNAL_PATH")
			}
			j, err := journal.Open(journal.Config{Path: path})
			if err != nil {
				return err
			}
			defer j.Close()
			if run == "" {
				runs, err := j.Runs(cmd.Context())
				if err != nil {
					return err
				}
				return printRuns(a.out, runs)
			}
			events, err := j.Events(cmd.Context(), run)
			if err != nil {
				return err
			}
			return printEvents(a.out, events)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal directory")
	cmd.Flags().StringVar(&run, "run", "", "run id whose events to print")
	return cmd
}
