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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/tamp/services/tamp/algorithms"
	"github.com/AleutianAI/tamp/services/tamp/journal"
)

const (
	outputAuto = "auto"
	outputText = "text"
	outputJSON = "json"
)

// outputFormat resolves "auto" to text on a terminal and JSON otherwise.
// Writers that are not files count as terminals.
func outputFormat(mode string, out io.Writer) (string, error) {
	switch mode {
	case outputText, outputJSON:
		return mode, nil
	case outputAuto, "":
		if f, ok := out.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			return outputJSON, nil
		}
		return outputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, text or json)", mode)
	}
}

// resultJSON is the machine-readable form of a solve result.
type resultJSON struct {
	RunID       string   `json:"run_id"`
	Algorithm   string   `json:"algorithm"`
	Solved      bool     `json:"solved"`
	Plan        []string `json:"plan"`
	Cost        *float64 `json:"cost,omitempty"`
	Iterations  int      `json:"iterations"`
	Epochs      int      `json:"epochs"`
	StreamCalls int      `json:"stream_calls"`
	Solves      int      `json:"solves"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

func printResult(w io.Writer, res *algorithms.Result, format string) error {
	if format == outputJSON {
		out := resultJSON{
			RunID:       res.RunID,
			Algorithm:   res.Algorithm,
			Solved:      res.Solved(),
			Plan:        []string{},
			Iterations:  res.Stats.Iterations,
			Epochs:      res.Stats.Epochs,
			StreamCalls: res.Stats.StreamCalls,
			Solves:      res.Stats.Solves,
			ElapsedMS:   res.Stats.Elapsed.Milliseconds(),
		}
		for _, step := range res.Plan {
			out.Plan = append(out.Plan, step.String())
		}
		if !math.IsInf(res.Cost, 0) {
			c := res.Cost
			out.Cost = &c
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "algorithm: %s\nrun:       %s\n", res.Algorithm, res.RunID)
	if !res.Solved() {
		b.WriteString("no plan found\n")
	} else {
		fmt.Fprintf(&b, "plan (%d steps, cost %g):\n", len(res.Plan), res.Cost)
		for i, step := range res.Plan {
			fmt.Fprintf(&b, "  %2d. %s\n", i+1, step)
		}
	}
	s := res.Stats
	fmt.Fprintf(&b, "iterations %d, epochs %d, stream calls %d, planner calls %d, elapsed %s\n",
		s.Iterations, s.Epochs, s.StreamCalls, s.Solves, s.Elapsed.Round(time.Millisecond))
	_, err := io.WriteString(w, b.String())
	return err
}

func printRuns(w io.Writer, runs []journal.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tALGORITHM\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Algorithm, r.Started.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []algorithms.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKIND\tITER\tEPOCH\tDETAIL")
	for _, e := range events {
		var detail string
		switch {
		case e.Instance != "":
			detail = e.Instance
			if len(e.Atoms) > 0 {
				detail += " => " + strings.Join(e.Atoms, ", ")
			}
		case e.Plan != "":
			detail = e.Plan
		}
		if e.Cost != nil {
			detail += fmt.Sprintf(" (cost %g)", *e.Cost)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", e.Sequence, e.Kind, e.Iteration, e.Epoch, strings.TrimSpace(detail))
	}
	return tw.Flush()
}
