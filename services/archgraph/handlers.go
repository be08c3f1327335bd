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
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
)

const (
	defaultListLimit = 100
	maxListLimit     = 5000
)

// Handlers serves the HTTP endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

// HandleHealth handles GET /v1/archgraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if res, err := h.svc.Current(); err == nil {
		resp.RunID = res.Graph.RunID
	}
	c.JSON(http.StatusOK, resp)
}

// HandleImport handles POST /v1/archgraph/import.
//
// Description:
//
//	Runs an import and makes the result current. Per-class failures do not
//	fail the request; they are counted in the stats and listed by
//	GET /failures.
//
// Request Body:
//
//	ImportRequest (exactly one of uris, packages, classpath)
//
// Response:
//
//	200 OK: ImportResponse
//	400 Bad Request: Malformed body or selector
//	409 Conflict: Another import is running
//	500 Internal Server Error: The run was aborted
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleImport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.options.Logger.With("request_id", requestID, "handler", "HandleImport")

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	out, err := h.svc.Import(c.Request.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	case errors.Is(err, ErrImportInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "IMPORT_IN_PROGRESS"})
		return
	case err != nil:
		logger.Error("import failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "import failed: " + err.Error(),
			Code:  "IMPORT_FAILED",
		})
		return
	}

	res := out.Result
	resp := ImportResponse{
		RunID:     res.Graph.RunID,
		Scope:     res.Graph.Scope,
		GraphHash: res.Graph.Hash(),
		Stats:     res.Stats,
		Warnings:  make([]string, 0, len(res.Warnings)),
	}
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	if out.Snapshot != nil {
		resp.SnapshotID = out.Snapshot.SnapshotID
	}
	logger.Info("import served",
		slog.String("run_id", resp.RunID),
		slog.Int("classes", res.Stats.Graph.Classes),
		slog.Int("failures", res.Stats.Graph.Failures),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleListClasses handles GET /v1/archgraph/classes.
//
// Query Parameters:
//
//	package: Only classes of this package (optional)
//	prefix: Only classes whose name starts with prefix (optional)
//	stubs: "true" includes stub nodes, default false
//	limit: Maximum results, default 100
//	offset: Results to skip, default 0
//
// Response:
//
//	200 OK: ListClassesResponse, sorted by name
//	404 Not Found: No import has completed
func (h *Handlers) HandleListClasses(c *gin.Context) {
	res, ok := h.current(c)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	pkg := c.Query("package")
	prefix := c.Query("prefix")
	withStubs := c.Query("stubs") == "true"

	nodes := res.Graph.Classes()
	if withStubs {
		nodes = append(nodes, res.Graph.Stubs()...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	}
	matched := make([]ClassSummary, 0, len(nodes))
	for _, n := range nodes {
		if pkg != "" && n.PackageName() != pkg {
			continue
		}
		if prefix != "" && !strings.HasPrefix(n.Name(), prefix) {
			continue
		}
		matched = append(matched, summaryOf(n))
	}
	c.JSON(http.StatusOK, ListClassesResponse{
		Classes: page(matched, offset, limit),
		Total:   len(matched),
	})
}

// HandleGetClass handles GET /v1/archgraph/classes/:name.
//
// Response:
//
//	200 OK: ClassDetail
//	404 Not Found: No import has completed or the class is unknown
func (h *Handlers) HandleGetClass(c *gin.Context) {
	res, ok := h.current(c)
	if !ok {
		return
	}
	name := c.Param("name")
	n, found := res.Graph.Class(name)
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "class not found: " + name,
			Code:  "CLASS_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, detailOf(n))
}

// HandleListAccesses handles GET /v1/archgraph/accesses.
//
// Query Parameters:
//
//	origin: Only accesses from this class (optional)
//	target: Only accesses to this class (optional)
//	kind: Only this access kind, e.g. "method_call" (optional)
//	upper_package: "true" keeps only accesses into an upper package
//	limit, offset: Paging, as for /classes
//
// Response:
//
//	200 OK: ListAccessesResponse, in assembly order
//	400 Bad Request: Unknown kind or bad paging
//	404 Not Found: No import has completed or origin/target is unknown
func (h *Handlers) HandleListAccesses(c *gin.Context) {
	res, ok := h.current(c)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}

	var from, to *graph.ClassNode
	for _, q := range []struct {
		param string
		node  **graph.ClassNode
	}{{"origin", &from}, {"target", &to}} {
		name := c.Query(q.param)
		if name == "" {
			continue
		}
		n, found := res.Graph.Class(name)
		if !found {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "class not found: " + name, Code: "CLASS_NOT_FOUND"})
			return
		}
		*q.node = n
	}

	var edges []*graph.AccessEdge
	switch {
	case from != nil:
		edges = from.AccessesFromSelf()
		if to != nil {
			edges = filterEdges(edges, func(e *graph.AccessEdge) bool { return e.Target == to })
		}
	case to != nil:
		edges = to.AccessesToSelf()
	default:
		edges = res.Graph.Accesses()
	}

	if kind := c.Query("kind"); kind != "" {
		k, err := classfile.ParseAccessKind(kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PARAMETER"})
			return
		}
		edges = filterEdges(edges, func(e *graph.AccessEdge) bool { return e.Kind == k })
	}
	if c.Query("upper_package") == "true" {
		edges = filterEdges(edges, graph.IsAccessToUpperPackage)
	}

	views := make([]AccessView, 0, len(edges))
	for _, e := range edges {
		views = append(views, accessViewOf(e))
	}
	c.JSON(http.StatusOK, ListAccessesResponse{
		Accesses: page(views, offset, limit),
		Total:    len(views),
	})
}

// HandleListFailures handles GET /v1/archgraph/failures.
//
// Query Parameters:
//
//	stage: Only failures of this stage: read, extract or assemble (optional)
func (h *Handlers) HandleListFailures(c *gin.Context) {
	res, ok := h.current(c)
	if !ok {
		return
	}
	stage := graph.FailureStage(c.Query("stage"))
	out := make([]FailureView, 0, len(res.Failures))
	for _, f := range res.Failures {
		if stage != "" && f.Stage != stage {
			continue
		}
		out = append(out, failureViewOf(f))
	}
	c.JSON(http.StatusOK, ListFailuresResponse{Failures: out})
}

// HandleListSnapshots handles GET /v1/archgraph/snapshots.
//
// Query Parameters:
//
//	scope: Only snapshots of this scope (optional)
//	limit: Maximum results, default 100
//
// Response:
//
//	200 OK: ListSnapshotsResponse, newest first
//	503 Service Unavailable: Snapshot persistence not configured
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	mgr := h.svc.Snapshots()
	if mgr == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}
	limit, _, ok := pageParams(c)
	if !ok {
		return
	}
	scopeHash := ""
	if scope := c.Query("scope"); scope != "" {
		scopeHash = graph.ScopeHash(scope)
	}
	snaps, err := mgr.List(c.Request.Context(), scopeHash, limit)
	if err != nil {
		slog.Error("failed to list snapshots", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if snaps == nil {
		snaps = []*graph.SnapshotMetadata{}
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snaps})
}

func (h *Handlers) current(c *gin.Context) (*importer.Result, bool) {
	res, err := h.svc.Current()
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "NO_GRAPH",
		})
		return nil, false
	}
	return res, true
}

// pageParams parses limit and offset, writing a 400 response on bad input.
func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultListLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Code: "INVALID_PARAMETER"})
			return 0, 0, false
		}
		limit = min(v, maxListLimit)
	}
	if s := c.Query("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "offset must be a non-negative integer", Code: "INVALID_PARAMETER"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func filterEdges(edges []*graph.AccessEdge, keep func(*graph.AccessEdge) bool) []*graph.AccessEdge {
	out := make([]*graph.AccessEdge, 0, len(edges))
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
