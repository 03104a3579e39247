// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads solver configuration from defaults, files and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tamp/pkg/logging"
	"github.com/AleutianAI/tamp/services/tamp/algorithms"
	"github.com/AleutianAI/tamp/services/tamp/planner"
	"github.com/AleutianAI/tamp/services/tamp/planner/astar"
	"github.com/AleutianAI/tamp/services/tamp/planner/downward"
	"github.com/AleutianAI/tamp/services/tamp/planner/satplan"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Planner names accepted by PlannerConfig.
const (
	PlannerAstar    = astar.Name
	PlannerSatplan  = satplan.Name
	PlannerDownward = downward.Name
)

var validate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the full solver configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Solver selects the algorithm and its budget.
	Solver SolverConfig `json:"solver" yaml:"solver"`

	// Planner selects and tunes the classical planner.
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Logging configures the process logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Journal configures the run journal.
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Observability configures tracing.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// SolverConfig holds the algorithm settings.
//
// MaxCost and TerminateCost accept .inf in YAML and "inf" in the
// environment; JSON files leave them at their defaults.
type SolverConfig struct {
	Algorithm     string        `json:"algorithm" yaml:"algorithm" validate:"required,oneof=incremental exhaustive focused dual_focused plan_focused"`
	Search        string        `json:"search" yaml:"search" validate:"omitempty,oneof=dijkstra max-astar ff-astar ff-eager"`
	StreamSearch  string        `json:"stream_search" yaml:"stream_search" validate:"omitempty,oneof=dijkstra max-astar ff-astar ff-eager"`
	MaxTime       time.Duration `json:"max_time" yaml:"max_time" validate:"gte=0"`
	MaxCost       float64       `json:"max_cost" yaml:"max_cost" validate:"gte=0"`
	TerminateCost float64       `json:"terminate_cost" yaml:"terminate_cost" validate:"gte=0"`
	Reset         string        `json:"reset" yaml:"reset" validate:"omitempty,oneof=revisit isolated"`
	Single        bool          `json:"single" yaml:"single"`
	Bind          bool          `json:"bind" yaml:"bind"`
	Revisit       bool          `json:"revisit" yaml:"revisit"`
	Verbose       bool          `json:"verbose" yaml:"verbose"`

	// StreamRate caps stream calls per second; 0 disables the limit.
	StreamRate  float64 `json:"stream_rate" yaml:"stream_rate" validate:"gte=0"`
	StreamBurst int     `json:"stream_burst" yaml:"stream_burst" validate:"gte=0"`
}

// PlannerConfig selects the planners.
type PlannerConfig struct {
	Name string `json:"name" yaml:"name" validate:"required,oneof=astar satplan downward"`

	// StreamPlanner plans stream calls for dual_focused; empty means Name.
	StreamPlanner string `json:"stream_planner" yaml:"stream_planner" validate:"omitempty,oneof=astar satplan downward"`

	// DownwardRoot is the Fast Downward checkout; empty means FD_PATH.
	DownwardRoot string `json:"downward_root" yaml:"downward_root"`
	Translate    bool   `json:"translate" yaml:"translate"`
	Python       string `json:"python" yaml:"python"`

	MaxNodes   int `json:"max_nodes" yaml:"max_nodes" validate:"gte=0"`
	MaxHorizon int `json:"max_horizon" yaml:"max_horizon" validate:"gte=1"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
}

// JournalConfig locates the run journal; an empty Path disables it.
type JournalConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ObservabilityConfig toggles span export.
type ObservabilityConfig struct {
	Tracing bool `json:"tracing" yaml:"tracing"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Solver: SolverConfig{
			Algorithm:     algorithms.Focused,
			Search:        planner.DefaultSearch,
			StreamSearch:  planner.SearchFFAstar,
			MaxTime:       30 * time.Second,
			MaxCost:       math.Inf(1),
			TerminateCost: math.Inf(1),
			Reset:         algorithms.ResetRevisit.String(),
			StreamBurst:   1,
		},
		Planner: PlannerConfig{
			Name:       PlannerAstar,
			Python:     "python3",
			MaxHorizon: satplan.DefaultMaxHorizon,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - YAML or JSON file; empty or missing means defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error  - Non-nil if the file exists but is malformed, or the result
//	         does not validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// loadEnv applies TAMP_* and FD_PATH overrides. Unparseable values are
// reported rather than ignored.
func loadEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	number := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("TAMP_ALGORITHM", &cfg.Solver.Algorithm)
	str("TAMP_PLANNER", &cfg.Planner.Name)
	str("TAMP_SEARCH", &cfg.Solver.Search)
	str("TAMP_RESET", &cfg.Solver.Reset)
	str("TAMP_LOG_LEVEL", &cfg.Logging.Level)
	str("TAMP_JOURNAL_PATH", &cfg.Journal.Path)
	str(downward.EnvRoot, &cfg.Planner.DownwardRoot)
	number("TAMP_MAX_COST", &cfg.Solver.MaxCost)
	number("TAMP_TERMINATE_COST", &cfg.Solver.TerminateCost)
	flag("TAMP_SINGLE", &cfg.Solver.Single)
	flag("TAMP_BIND", &cfg.Solver.Bind)
	flag("TAMP_REVISIT", &cfg.Solver.Revisit)
	if v := os.Getenv("TAMP_MAX_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TAMP_MAX_TIME: %w", err))
		} else {
			cfg.Solver.MaxTime = d
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Validate checks field constraints and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Planner.Translate && c.Planner.Name != PlannerDownward {
		return fmt.Errorf("%w: translate requires the %s planner", ErrInvalid, PlannerDownward)
	}
	if c.Solver.StreamRate > 0 && c.Solver.StreamBurst < 1 {
		return fmt.Errorf("%w: stream_burst must be >= 1 when stream_rate is set", ErrInvalid)
	}
	if c.Solver.TerminateCost > c.Solver.MaxCost {
		return fmt.Errorf("%w: terminate_cost %v exceeds max_cost %v", ErrInvalid, c.Solver.TerminateCost, c.Solver.MaxCost)
	}
	return nil
}

// =============================================================================
// Construction
// =============================================================================

// LogLevel maps Logging.Level to a logging.Level.
func (c Config) LogLevel() logging.Level {
	l, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return l
}

// Registry returns the planners this configuration can build.
func (c Config) Registry(logger *slog.Logger) *planner.Registry {
	r := planner.NewRegistry()
	r.Register(PlannerAstar, func() (planner.Planner, error) {
		opts := []astar.Option{astar.WithLogger(logger)}
		if c.Planner.MaxNodes > 0 {
			opts = append(opts, astar.WithMaxNodes(c.Planner.MaxNodes))
		}
		return astar.New(opts...), nil
	})
	r.Register(PlannerSatplan, func() (planner.Planner, error) {
		return satplan.New(satplan.WithMaxHorizon(c.Planner.MaxHorizon), satplan.WithLogger(logger)), nil
	})
	r.Register(PlannerDownward, func() (planner.Planner, error) {
		opts := []downward.Option{downward.WithLogger(logger)}
		if c.Planner.DownwardRoot != "" {
			opts = append(opts, downward.WithRoot(c.Planner.DownwardRoot))
		}
		if c.Planner.Translate {
			opts = append(opts, downward.WithTranslate(c.Planner.Python))
		}
		return downward.New(opts...), nil
	})
	return r
}

// SolverOptions converts the solver section into algorithm options. The
// stream planner, when configured, is built from the registry without
// translation.
func (c Config) SolverOptions(logger *slog.Logger) ([]algorithms.Option, error) {
	reset, err := algorithms.ParseResetPolicy(c.Solver.Reset)
	if err != nil {
		return nil, err
	}
	opts := []algorithms.Option{
		algorithms.WithLogger(logger),
		algorithms.WithSearch(c.Solver.Search),
		algorithms.WithMaxTime(c.Solver.MaxTime),
		algorithms.WithMaxCost(c.Solver.MaxCost),
		algorithms.WithTerminateCost(c.Solver.TerminateCost),
		algorithms.WithReset(reset),
		algorithms.WithSingle(c.Solver.Single),
		algorithms.WithBind(c.Solver.Bind),
		algorithms.WithRevisit(c.Solver.Revisit),
		algorithms.WithVerbose(c.Solver.Verbose),
		algorithms.WithTracing(c.Observability.Tracing),
	}
	if c.Solver.StreamSearch != "" {
		opts = append(opts, algorithms.WithStreamSearch(c.Solver.StreamSearch))
	}
	if c.Solver.StreamRate > 0 {
		opts = append(opts, algorithms.WithRateLimit(c.Solver.StreamRate, c.Solver.StreamBurst))
	}
	if c.Planner.StreamPlanner != "" {
		sc := c
		sc.Planner.Translate = false
		sp, err := sc.Registry(logger).New(c.Planner.StreamPlanner)
		if err != nil {
			return nil, err
		}
		opts = append(opts, algorithms.WithStreamPlanner(sp))
	}
	return opts, nil
}

// NewSolver builds the configured planner and solver. extra options are
// applied last.
func (c Config) NewSolver(logger *slog.Logger, extra ...algorithms.Option) (*algorithms.Solver, error) {
	p, err := c.Registry(logger).New(c.Planner.Name)
	if err != nil {
		return nil, err
	}
	opts, err := c.SolverOptions(logger)
	if err != nil {
		return nil, err
	}
	return algorithms.New(p, append(opts, extra...)...), nil
}
