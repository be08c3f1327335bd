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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
)

// maxListedFailures bounds the failures printed in a summary.
const maxListedFailures = 20

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(24)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderer prints summaries, styled only when writing to a terminal.
type renderer struct {
	w      io.Writer
	styled bool
}

func newRenderer(w io.Writer) renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return renderer{w: w, styled: styled}
}

func (r renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r renderer) row(label string, value any) {
	if r.styled {
		fmt.Fprintf(r.w, "%s%v\n", labelStyle.Render(label), value)
		return
	}
	fmt.Fprintf(r.w, "%-24s%v\n", label, value)
}

// importSummary prints the outcome of an import run.
func (r renderer) importSummary(res *importer.Result) {
	g := res.Graph
	s := res.Stats
	fmt.Fprintln(r.w, r.style(titleStyle, "Import "+g.RunID))
	r.row("scope", g.Scope)
	r.row("locations", s.Locations)
	r.row("files read", s.FilesRead)
	r.row("classes", s.Graph.Classes)
	r.row("stubs", s.Graph.Stubs)
	r.row("accesses", s.Graph.Accesses)
	if s.DuplicateContent > 0 {
		r.row("identical files", s.DuplicateContent)
	}
	if s.Graph.Shadowed > 0 {
		r.row("shadowed duplicates", s.Graph.Shadowed)
	}
	if s.ResolvedFromClassPath > 0 {
		r.row("resolved from classpath", fmt.Sprintf("%d in %d iterations", s.ResolvedFromClassPath, s.ResolutionIterations))
	}
	r.row("graph hash", g.Hash())
	r.row("duration", fmt.Sprintf("%dms", s.DurationMilli))

	for _, w := range res.Warnings {
		fmt.Fprintln(r.w, r.style(warnStyle, "warning: "+w.Error()))
	}
	r.failures(res.Failures)
}

func (r renderer) failures(fs []graph.Failure) {
	if len(fs) == 0 {
		return
	}
	fmt.Fprintln(r.w, r.style(errStyle, fmt.Sprintf("%d failures", len(fs))))
	for i, f := range fs {
		if i == maxListedFailures {
			fmt.Fprintf(r.w, "  ... %d more\n", len(fs)-maxListedFailures)
			break
		}
		fmt.Fprintf(r.w, "  %s\n", f.Error())
	}
}

// snapshotTable prints snapshot metadata one per line.
func (r renderer) snapshotTable(snaps []*graph.SnapshotMetadata) {
	if len(snaps) == 0 {
		fmt.Fprintln(r.w, "no snapshots")
		return
	}
	header := fmt.Sprintf("%-18s %-26s %8s %8s %8s  %s", "ID", "CREATED", "CLASSES", "STUBS", "FAILED", "SCOPE")
	fmt.Fprintln(r.w, r.style(titleStyle, header))
	for _, m := range snaps {
		scope := m.Scope
		if m.Label != "" {
			scope += " (" + m.Label + ")"
		}
		fmt.Fprintf(r.w, "%-18s %-26s %8d %8d %8d  %s\n",
			m.SnapshotID, formatMilli(m.CreatedAtMilli), m.ClassCount, m.StubCount, m.FailureCount, scope)
	}
}

// graphSummary prints the counts of a loaded graph.
func (r renderer) graphSummary(g *graph.Graph, meta *graph.SnapshotMetadata) {
	fmt.Fprintln(r.w, r.style(titleStyle, "Snapshot "+meta.SnapshotID))
	r.row("run", g.RunID)
	r.row("scope", g.Scope)
	if meta.Label != "" {
		r.row("label", meta.Label)
	}
	r.row("created", formatMilli(meta.CreatedAtMilli))
	st := g.Stats()
	r.row("classes", st.Classes)
	r.row("stubs", st.Stubs)
	r.row("accesses", st.Accesses)
	r.row("graph hash", g.Hash())
	r.row("compressed size", meta.CompressedSize)

	if upper := graph.AccessesToUpperPackage(g); len(upper) > 0 {
		fmt.Fprintln(r.w, r.style(warnStyle, fmt.Sprintf("%d accesses into upper packages", len(upper))))
		for i, e := range upper {
			if i == maxListedFailures {
				fmt.Fprintf(r.w, "  ... %d more\n", len(upper)-maxListedFailures)
				break
			}
			fmt.Fprintf(r.w, "  %s\n", e.Description())
		}
	}
	r.failures(g.Failures())
}

func formatMilli(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
