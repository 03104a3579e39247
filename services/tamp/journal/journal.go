// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists solver run events in BadgerDB.
//
// Key layout:
//
//	run/<run_id>/<sequence:010d>      -> JSON algorithms.Event
//	start/<unix_nano:020d>/<run_id>   -> algorithm name
//
// The start index lists runs in the order they began.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/tamp/services/tamp/algorithms"
)

const (
	runPrefix   = "run/"
	startPrefix = "start/"
)

// ErrNoPath is returned by Open for a persistent journal without a path.
var ErrNoPath = errors.New("path is required for persistent journal")

// ErrRunNotFound is returned by Events for an unknown run.
var ErrRunNotFound = errors.New("run not found")

// =============================================================================
// Configuration
// =============================================================================

// Config configures the journal database.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path string

	// InMemory keeps the journal in memory. Used in tests.
	InMemory bool

	// SyncWrites fsyncs every event.
	SyncWrites bool

	// GCInterval runs value log GC periodically; 0 disables it.
	GCInterval time.Duration

	// Logger receives BadgerDB's own logging; nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns the persistent configuration for path.
func DefaultConfig(path string) Config {
	return Config{Path: path, GCInterval: 5 * time.Minute}
}

// InMemoryConfig returns a configuration that keeps events in memory.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes BadgerDB's logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Journal
// =============================================================================

// Journal is a BadgerDB-backed algorithms.Recorder.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

var _ algorithms.Recorder = (*Journal)(nil)

// Open opens or creates a journal.
//
// Inputs:
//
//	cfg - Database configuration.
//
// Outputs:
//
//	*Journal - The journal; Close releases the database.
//	error    - ErrNoPath, or a directory or database failure.
func Open(cfg Config) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, ErrNoPath
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db, logger: logger.With(slog.String("component", "journal"))}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.stopGC = make(chan struct{})
		j.doneGC = make(chan struct{})
		go j.runGC(cfg.GCInterval)
	}
	return j, nil
}

func (j *Journal) runGC(interval time.Duration) {
	defer close(j.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopGC:
			return
		case <-ticker.C:
			if err := j.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				j.logger.Warn("value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (j *Journal) Close() error {
	if j.stopGC != nil {
		close(j.stopGC)
		<-j.doneGC
		j.stopGC = nil
	}
	return j.db.Close()
}

func eventKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", runPrefix, runID, seq))
}

func startKey(t time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", startPrefix, t.UnixNano(), runID))
}

// Record implements algorithms.Recorder. A start event also indexes the
// run.
func (j *Journal) Record(ctx context.Context, e algorithms.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.RunID == "" {
		return errors.New("event has no run id")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(e.RunID, e.Sequence), data); err != nil {
			return err
		}
		if e.Kind == algorithms.EventStart {
			return txn.Set(startKey(e.Time, e.RunID), []byte(e.Algorithm))
		}
		return nil
	})
}

// Events returns the events of a run in sequence order.
func (j *Journal) Events(ctx context.Context, runID string) ([]algorithms.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(runPrefix + runID + "/")
	var events []algorithms.Event
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e algorithms.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return events, nil
}

// Run summarizes one journaled run.
type Run struct {
	ID        string
	Algorithm string
	Started   time.Time
}

// Runs lists journaled runs, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(startPrefix)
	var runs []Run
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), startPrefix)
			stamp, id, ok := strings.Cut(key, "/")
			if !ok {
				continue
			}
			nanos, err := strconv.ParseInt(stamp, 10, 64)
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			alg, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			runs = append(runs, Run{ID: id, Algorithm: string(alg), Started: time.Unix(0, nanos)})
		}
		return nil
	})
	return runs, err
}
