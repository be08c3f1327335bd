// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
)

type statement struct {
	cypher string
	rows   []map[string]any
}

type recordingRunner struct {
	mu      sync.Mutex
	stmts   []statement
	failOn  string
	failErr error
}

func (r *recordingRunner) run(_ context.Context, cypher string, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(cypher, r.failOn) {
		return r.failErr
	}
	var rows []map[string]any
	if params != nil {
		rows, _ = params["batch"].([]map[string]any)
	}
	r.stmts = append(r.stmts, statement{cypher: cypher, rows: rows})
	return nil
}

func (r *recordingRunner) rowsFor(label string) []map[string]any {
	var out []map[string]any
	for _, s := range r.stmts {
		if strings.Contains(s.cypher, label) {
			out = append(out, s.rows...)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildExportGraph assembles:
//
//	com.acme.Base                      (complete)
//	com.acme.web.Handler extends Base  (complete, implements java.lang.Runnable stub)
//	com.acme.web.Handler$Inner         (complete, enclosed by Handler)
func buildExportGraph(t *testing.T) *graph.Graph {
	t.Helper()
	base := &classfile.ClassRecord{
		Name:           "com.acme.Base",
		Modifiers:      classfile.AccPublic,
		MajorVersion:   61,
		SuperclassName: "java.lang.Object",
		SourceFile:     "Base.java",
		Members: []classfile.MemberRecord{{
			Kind: classfile.MemberMethod, Name: "go", Descriptor: "(I)V",
			Modifiers: classfile.AccPublic, TypeName: "void", ParameterTypeNames: []string{"int"},
		}},
	}
	handler := &classfile.ClassRecord{
		Name:           "com.acme.web.Handler",
		Modifiers:      classfile.AccPublic,
		MajorVersion:   61,
		SuperclassName: "com.acme.Base",
		InterfaceNames: []string{"java.lang.Runnable"},
		SourceFile:     "Handler.java",
		Members: []classfile.MemberRecord{{
			Kind: classfile.MemberMethod, Name: "run", Descriptor: "()V",
			Modifiers: classfile.AccPublic, TypeName: "void",
		}},
		Accesses: []classfile.AccessRecord{{
			Kind:             classfile.AccessMethodCall,
			Origin:           classfile.MemberKey{Name: "run", Descriptor: "()V"},
			TargetOwner:      "com.acme.Base",
			TargetName:       "go",
			TargetDescriptor: "(I)V",
			Line:             7,
		}},
	}
	inner := &classfile.ClassRecord{
		Name:               "com.acme.web.Handler$Inner",
		MajorVersion:       61,
		SuperclassName:     "java.lang.Object",
		EnclosingClassName: "com.acme.web.Handler",
		SourceFile:         "Handler.java",
	}
	inputs := []graph.Input{
		{Record: base, SourceURI: "file:/classes/com/acme/Base.class"},
		{Record: handler, SourceURI: "file:/classes/com/acme/web/Handler.class"},
		{Record: inner, SourceURI: "file:/classes/com/acme/web/Handler$Inner.class"},
	}
	res, err := graph.NewAssembler(graph.WithLogger(discardLogger()), graph.WithRunID("run-1")).
		Assemble(context.Background(), inputs, nil)
	require.NoError(t, err)
	return res.Graph
}

func names(rows []map[string]any, key string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r[key].(string)
	}
	return out
}

func TestRows(t *testing.T) {
	g := buildExportGraph(t)

	t.Run("packages are distinct and sorted", func(t *testing.T) {
		assert.Equal(t, []string{"com.acme", "com.acme.web", "java.lang"}, names(PackageRows(g), "name"))
	})

	t.Run("classes include stubs but not primitives", func(t *testing.T) {
		rows := ClassRows(g)
		got := names(rows, "name")
		assert.Contains(t, got, "com.acme.Base")
		assert.Contains(t, got, "java.lang.Runnable")
		assert.NotContains(t, got, "int")
		assert.NotContains(t, got, "void")
		for _, r := range rows {
			if r["name"] == "java.lang.Runnable" {
				assert.Equal(t, true, r["stub"])
			}
			if r["name"] == "com.acme.web.Handler" {
				assert.Equal(t, false, r["stub"])
				assert.Equal(t, "Handler", r["simple_name"])
				assert.Equal(t, "com.acme.web", r["package"])
				assert.Equal(t, []string{"public"}, r["modifiers"])
				assert.Equal(t, "run-1", r["run_id"])
			}
		}
	})

	t.Run("members are keyed by owner and descriptor", func(t *testing.T) {
		rows := MemberRows(g)
		assert.ElementsMatch(t, []string{"com.acme.Base#go(I)V", "com.acme.web.Handler#run()V"}, names(rows, "key"))
		for _, r := range rows {
			assert.Equal(t, "method", r["kind"])
		}
	})

	t.Run("relations", func(t *testing.T) {
		rel := RelationRows(g)
		assert.Contains(t, rel.Extends, map[string]any{"from": "com.acme.web.Handler", "to": "com.acme.Base"})
		assert.Equal(t, []map[string]any{{"from": "com.acme.web.Handler", "to": "java.lang.Runnable"}}, rel.Implements)
		assert.Equal(t, []map[string]any{{"from": "com.acme.web.Handler$Inner", "to": "com.acme.web.Handler"}}, rel.EnclosedBy)
	})

	t.Run("accesses carry kind and line", func(t *testing.T) {
		var calls []map[string]any
		for _, r := range AccessRows(g) {
			if r["target"] == "com.acme.Base" && r["kind"] == "method_call" {
				calls = append(calls, r)
			}
		}
		require.Len(t, calls, 1)
		assert.Equal(t, "com.acme.web.Handler", calls[0]["origin"])
		assert.Equal(t, 7, calls[0]["line"])
		assert.Equal(t, "com.acme.Base", calls[0]["declaring_class"])
	})
}

func TestBatches(t *testing.T) {
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"i": i}
	}
	tests := []struct {
		name  string
		size  int
		sizes []int
	}{
		{"exact", 5, []int{5}},
		{"remainder", 2, []int{2, 2, 1}},
		{"larger", 10, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for _, b := range batches(rows, tt.size) {
				got = append(got, len(b))
			}
			assert.Equal(t, tt.sizes, got)
		})
	}
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, batches(nil, 3))
	})
}

func TestNeo4jExporter_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("writes indexes then nodes before relationships", func(t *testing.T) {
		g := buildExportGraph(t)
		r := &recordingRunner{}
		e := newExporter(r, WithLogger(discardLogger()), WithBatchSize(2))

		stats, err := e.Export(ctx, g)
		require.NoError(t, err)

		require.GreaterOrEqual(t, len(r.stmts), len(indexStatements))
		for i, stmt := range indexStatements {
			assert.Equal(t, stmt, r.stmts[i].cypher)
		}
		firstAccess, lastClass := -1, -1
		for i, s := range r.stmts {
			if strings.Contains(s.cypher, "MERGE (c:JavaClass") {
				lastClass = i
			}
			if firstAccess < 0 && strings.Contains(s.cypher, ":ACCESSES") {
				firstAccess = i
			}
			assert.LessOrEqual(t, len(s.rows), 2)
		}
		require.NotEqual(t, -1, firstAccess)
		assert.Less(t, lastClass, firstAccess)

		assert.Equal(t, len(ClassRows(g)), stats.Classes)
		assert.Equal(t, 3, stats.Packages)
		assert.Equal(t, 2, stats.Members)
		assert.Equal(t, len(AccessRows(g)), stats.Accesses)
		assert.Len(t, r.rowsFor("MERGE (c:JavaClass"), stats.Classes)
	})

	t.Run("failed statement aborts", func(t *testing.T) {
		boom := errors.New("boom")
		r := &recordingRunner{failOn: "JavaMember {key", failErr: boom}
		e := newExporter(r, WithLogger(discardLogger()))

		stats, err := e.Export(ctx, buildExportGraph(t))
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "exporting members")
		assert.Positive(t, stats.Classes)
		assert.Zero(t, stats.Accesses)
		assert.Empty(t, r.rowsFor(":ACCESSES"))
	})

	t.Run("index failure", func(t *testing.T) {
		r := &recordingRunner{failOn: "CREATE INDEX", failErr: errors.New("denied")}
		_, err := newExporter(r, WithLogger(discardLogger())).Export(ctx, buildExportGraph(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating index")
	})

	t.Run("nil graph", func(t *testing.T) {
		_, err := newExporter(&recordingRunner{}).Export(ctx, nil)
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		e := newExporter(&recordingRunner{})
		assert.Equal(t, DefaultBatchSize, e.options.BatchSize)
		assert.NotNil(t, e.options.Logger)
		require.NoError(t, e.Close(ctx))
	})
}
