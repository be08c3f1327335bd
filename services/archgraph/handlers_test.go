// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cft "github.com/AleutianAI/archgraph/services/archgraph/classfile/classfiletest"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// caller builds a class whose run() calls static go() on each target.
func caller(name string, targets ...string) []byte {
	b := cft.NewClass(name).SourceFile(name[strings.LastIndex(name, "/")+1:] + ".java")
	b.Method(cft.AccPublic, "run", "()V").Code(func(c *cft.CodeBuilder) {
		for i, target := range targets {
			c.Line(10+i).Invoke(cft.OpInvokestatic, target, "go", "()V")
		}
		c.Raw(cft.OpReturn)
	})
	b.Method(cft.AccPublic|cft.AccStatic, "go", "()V").Code(func(c *cft.CodeBuilder) {
		c.Raw(cft.OpReturn)
	})
	return b.Bytes()
}

func writeClass(t *testing.T, root, internalName string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(internalName)+".class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// writeFixture lays out:
//
//	com/acme/A        calls com.acme.B and com.other.Missing
//	com/acme/B
//	com/acme/web/W    calls com.acme.B (upper package)
//	com/acme/Corrupt  truncated
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeClass(t, dir, "com/acme/A", caller("com/acme/A", "com/acme/B", "com/other/Missing"))
	writeClass(t, dir, "com/acme/B", caller("com/acme/B"))
	writeClass(t, dir, "com/acme/web/W", caller("com/acme/web/W", "com/acme/B"))
	valid := caller("com/acme/Corrupt")
	writeClass(t, dir, "com/acme/Corrupt", valid[:len(valid)/2])
	return dir
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	r, err := location.NewResolver(location.WithLogger(discardLogger()), location.WithClassPath(location.StaticClassPath(nil)))
	require.NoError(t, err)
	imp, err := importer.New(r, importer.WithLogger(discardLogger()), importer.WithWorkers(2))
	require.NoError(t, err)
	svc, err := NewService(imp, append([]ServiceOption{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, err)
	return svc
}

func newTestSnapshots(t *testing.T) *graph.SnapshotManager {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mgr, err := graph.NewSnapshotManager(db, discardLogger())
	require.NoError(t, err)
	return mgr
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// importedRouter returns a router whose service has imported the fixture.
func importedRouter(t *testing.T, opts ...ServiceOption) (http.Handler, ImportResponse) {
	t.Helper()
	svc := newTestService(t, opts...)
	router := NewRouter(NewHandlers(svc), "archgraph-test")
	w := do(t, router, http.MethodPost, "/v1/archgraph/import", ImportRequest{URIs: []string{writeFixture(t)}, Snapshot: true, Label: "fixture"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return router, decode[ImportResponse](t, w)
}

func TestHandleHealth(t *testing.T) {
	svc := newTestService(t)
	router := NewRouter(NewHandlers(svc), "archgraph-test")

	w := do(t, router, http.MethodGet, "/v1/archgraph/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.RunID)
}

func TestHandlers_BeforeImport(t *testing.T) {
	router := NewRouter(NewHandlers(newTestService(t)), "archgraph-test")
	for _, path := range []string{
		"/v1/archgraph/classes",
		"/v1/archgraph/classes/com.acme.A",
		"/v1/archgraph/accesses",
		"/v1/archgraph/failures",
	} {
		t.Run(path, func(t *testing.T) {
			w := do(t, router, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "NO_GRAPH", decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleImport(t *testing.T) {
	t.Run("partial failure still succeeds", func(t *testing.T) {
		_, resp := importedRouter(t)
		assert.NotEmpty(t, resp.RunID)
		assert.NotEmpty(t, resp.GraphHash)
		assert.Equal(t, 3, resp.Stats.Graph.Classes)
		assert.Equal(t, 1, resp.Stats.Graph.Failures)
		assert.Equal(t, 1, resp.Stats.Malformed)
		assert.Empty(t, resp.Warnings)
		assert.Empty(t, resp.SnapshotID, "no snapshot manager configured")
	})

	t.Run("snapshot saved when configured", func(t *testing.T) {
		mgr := newTestSnapshots(t)
		router, resp := importedRouter(t, WithSnapshots(mgr))
		require.NotEmpty(t, resp.SnapshotID)

		w := do(t, router, http.MethodGet, "/v1/archgraph/snapshots", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[ListSnapshotsResponse](t, w)
		require.Len(t, list.Snapshots, 1)
		assert.Equal(t, resp.SnapshotID, list.Snapshots[0].SnapshotID)
		assert.Equal(t, "fixture", list.Snapshots[0].Label)
		assert.Equal(t, resp.GraphHash, list.Snapshots[0].GraphHash)
	})

	t.Run("unreadable location is a warning", func(t *testing.T) {
		router := NewRouter(NewHandlers(newTestService(t)), "archgraph-test")
		missing := filepath.Join(t.TempDir(), "missing.jar")
		w := do(t, router, http.MethodPost, "/v1/archgraph/import", ImportRequest{URIs: []string{missing}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[ImportResponse](t, w)
		require.Len(t, resp.Warnings, 1)
		assert.Contains(t, resp.Warnings[0], "missing.jar")
		assert.Zero(t, resp.Stats.Graph.Classes)
	})

	tests := []struct {
		name string
		body any
		code string
	}{
		{"no selector", ImportRequest{}, "INVALID_REQUEST"},
		{"two selectors", ImportRequest{URIs: []string{"/x"}, ClassPath: true}, "INVALID_REQUEST"},
		{"slashed package", ImportRequest{Packages: []string{"com/acme"}}, "INVALID_REQUEST"},
		{"empty uri", ImportRequest{URIs: []string{""}}, "INVALID_REQUEST"},
		{"not json", "{", "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandlers(newTestService(t)), "archgraph-test")
			w := do(t, router, http.MethodPost, "/v1/archgraph/import", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}

	t.Run("request id is echoed", func(t *testing.T) {
		router := NewRouter(NewHandlers(newTestService(t)), "archgraph-test")
		req := httptest.NewRequest(http.MethodPost, "/v1/archgraph/import", strings.NewReader("{}"))
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})
}

func TestHandleListClasses(t *testing.T) {
	router, _ := importedRouter(t)

	tests := []struct {
		name  string
		query string
		want  []string
		total int
	}{
		{"complete only", "", []string{"com.acme.A", "com.acme.B", "com.acme.web.W"}, 3},
		{"package", "?package=com.acme.web", []string{"com.acme.web.W"}, 1},
		{"prefix", "?prefix=com.acme.", []string{"com.acme.A", "com.acme.B", "com.acme.web.W"}, 3},
		{"paged", "?limit=1&offset=1", []string{"com.acme.B"}, 3},
		{"offset past end", "?offset=10", []string{}, 3},
		{"with stubs", "?stubs=true&package=com.other", []string{"com.other.Missing"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/v1/archgraph/classes"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode[ListClassesResponse](t, w)
			got := make([]string, len(resp.Classes))
			for i, c := range resp.Classes {
				got[i] = c.Name
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, resp.Total)
		})
	}

	for _, q := range []string{"?limit=0", "?limit=x", "?offset=-1"} {
		t.Run("bad paging "+q, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/v1/archgraph/classes"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleGetClass(t *testing.T) {
	router, _ := importedRouter(t)

	t.Run("complete class", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/classes/com.acme.A", nil)
		require.Equal(t, http.StatusOK, w.Code)
		d := decode[ClassDetail](t, w)
		assert.Equal(t, "com.acme.A", d.Name)
		assert.False(t, d.Stub)
		assert.Equal(t, "java.lang.Object", d.Superclass)
		assert.Equal(t, 2, d.AccessesFromSelf)
		var methods []string
		for _, m := range d.Members {
			methods = append(methods, m.FullName)
		}
		assert.Contains(t, methods, "com.acme.A.run()")
		var targets []string
		for _, dep := range d.Dependencies {
			if dep.Kind == string(graph.DependsAccess) {
				targets = append(targets, dep.Target)
			}
		}
		assert.ElementsMatch(t, []string{"com.acme.B", "com.other.Missing"}, targets)
	})

	t.Run("accesses to self", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/classes/com.acme.B", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, decode[ClassDetail](t, w).AccessesToSelf)
	})

	t.Run("stub", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/classes/com.other.Missing", nil)
		require.Equal(t, http.StatusOK, w.Code)
		d := decode[ClassDetail](t, w)
		assert.True(t, d.Stub)
		assert.Empty(t, d.Members)
	})

	t.Run("failed class is unknown", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/classes/com.acme.Corrupt", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "CLASS_NOT_FOUND", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandleListAccesses(t *testing.T) {
	router, _ := importedRouter(t)

	origins := func(resp ListAccessesResponse) []string {
		out := make([]string, len(resp.Accesses))
		for i, a := range resp.Accesses {
			out[i] = a.Origin + "->" + a.Target
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"from origin", "?origin=com.acme.A", []string{"com.acme.A->com.acme.B", "com.acme.A->com.other.Missing"}},
		{"origin and target", "?origin=com.acme.A&target=com.acme.B", []string{"com.acme.A->com.acme.B"}},
		{"origin and internal target", "?origin=com/acme/A&target=com/acme/B", []string{"com.acme.A->com.acme.B"}},
		{"origin and stub target", "?origin=com.acme.A&target=com/other/Missing", []string{"com.acme.A->com.other.Missing"}},
		{"origin and unrelated target", "?origin=com.acme.A&target=com.acme.web.W", []string{}},
		{"to target", "?target=com.acme.B", []string{"com.acme.A->com.acme.B", "com.acme.web.W->com.acme.B"}},
		{"upper package", "?upper_package=true", []string{"com.acme.web.W->com.acme.B"}},
		{"kind", "?origin=com.acme.A&kind=method_call", []string{"com.acme.A->com.acme.B", "com.acme.A->com.other.Missing"}},
		{"kind without match", "?kind=cast", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/v1/archgraph/accesses"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode[ListAccessesResponse](t, w)
			assert.ElementsMatch(t, tt.want, origins(resp))
			assert.Equal(t, len(tt.want), resp.Total)
		})
	}

	t.Run("edge detail", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/accesses?origin=com.acme.A&target=com.acme.B", nil)
		resp := decode[ListAccessesResponse](t, w)
		require.Len(t, resp.Accesses, 1)
		a := resp.Accesses[0]
		assert.Equal(t, "method_call", a.Kind)
		assert.Equal(t, "run()V", a.OriginMember)
		assert.Equal(t, "go()V", a.TargetMember)
		assert.Equal(t, "com.acme.B", a.DeclaringClass)
		assert.Equal(t, 10, a.Line)
		assert.Equal(t, "Method <com.acme.A.run()> calls method <com.acme.B.go()> in (A.java:10)", a.Description)
	})

	t.Run("unknown kind", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/accesses?kind=teleport", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown origin", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/accesses?origin=com.nope.X", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown target with origin", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/archgraph/accesses?origin=com.acme.A&target=com.nope.X", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "CLASS_NOT_FOUND", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandleListFailures(t *testing.T) {
	router, _ := importedRouter(t)

	w := do(t, router, http.MethodGet, "/v1/archgraph/failures", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListFailuresResponse](t, w)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "com.acme.Corrupt", resp.Failures[0].ClassName)
	assert.Equal(t, graph.StageExtract, resp.Failures[0].Stage)
	assert.NotEmpty(t, resp.Failures[0].Error)

	w = do(t, router, http.MethodGet, "/v1/archgraph/failures?stage=assemble", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[ListFailuresResponse](t, w).Failures)
}

func TestHandleListSnapshots_NotConfigured(t *testing.T) {
	router := NewRouter(NewHandlers(newTestService(t)), "archgraph-test")
	w := do(t, router, http.MethodGet, "/v1/archgraph/snapshots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SNAPSHOTS_NOT_AVAILABLE", decode[ErrorResponse](t, w).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := importedRouter(t)
	w := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "archgraph_importer_files_read_total")
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("nil importer", func(t *testing.T) {
		_, err := NewService(nil)
		assert.Error(t, err)
	})

	t.Run("import in progress", func(t *testing.T) {
		svc := newTestService(t)
		svc.importing.Lock()
		defer svc.importing.Unlock()
		_, err := svc.Import(ctx, ImportRequest{URIs: []string{t.TempDir()}})
		assert.ErrorIs(t, err, ErrImportInProgress)
	})

	t.Run("reimport sees new classes", func(t *testing.T) {
		svc := newTestService(t)
		require.NoError(t, svc.Reimport(ctx), "no-op before first import")
		_, err := svc.Current()
		require.ErrorIs(t, err, ErrNoGraph)

		dir := t.TempDir()
		writeClass(t, dir, "com/acme/A", caller("com/acme/A"))
		_, err = svc.Import(ctx, ImportRequest{URIs: []string{dir}})
		require.NoError(t, err)
		first, err := svc.Current()
		require.NoError(t, err)

		writeClass(t, dir, "com/acme/B", caller("com/acme/B"))
		require.NoError(t, svc.Reimport(ctx))
		second, err := svc.Current()
		require.NoError(t, err)

		assert.NotEqual(t, first.Graph.RunID, second.Graph.RunID)
		_, ok := second.Graph.Class("com.acme.B")
		assert.True(t, ok)
	})

	t.Run("cancelled import keeps current graph", func(t *testing.T) {
		svc := newTestService(t)
		dir := writeFixture(t)
		_, err := svc.Import(ctx, ImportRequest{URIs: []string{dir}})
		require.NoError(t, err)
		before, _ := svc.Current()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = svc.Import(cancelled, ImportRequest{URIs: []string{dir}})
		require.Error(t, err)
		after, _ := svc.Current()
		assert.Same(t, before, after)
	})

	t.Run("set current", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.Import(ctx, ImportRequest{URIs: []string{writeFixture(t)}})
		require.NoError(t, err)
		res, _ := svc.Current()

		other := newTestService(t)
		other.SetCurrent(res.Graph)
		got, err := other.Current()
		require.NoError(t, err)
		assert.Equal(t, res.Graph.Hash(), got.Graph.Hash())
		assert.Len(t, got.Failures, 1)
	})
}
