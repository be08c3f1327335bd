// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archgraph serves the class-file import pipeline over HTTP.
//
// A Service holds the graph of the most recent import run. Handlers answer
// queries against that graph; POST /v1/archgraph/import replaces it. The
// previous graph stays visible until the new run has finished, so readers
// never observe a half-assembled graph.
package archgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/importer"
)

// ErrNoGraph is returned when no import has completed yet.
var ErrNoGraph = errors.New("no graph imported")

// ErrImportInProgress is returned when an import is requested while one runs.
var ErrImportInProgress = errors.New("import already in progress")

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Logger receives request and import logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Snapshots, when set, receives a snapshot of every import that asks
	// for one.
	Snapshots *graph.SnapshotManager
}

// ServiceOption is a functional option for configuring a Service.
type ServiceOption func(*ServiceOptions)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(o *ServiceOptions) {
		o.Logger = l
	}
}

// WithSnapshots enables snapshot persistence.
func WithSnapshots(m *graph.SnapshotManager) ServiceOption {
	return func(o *ServiceOptions) {
		o.Snapshots = m
	}
}

// Service owns the current graph.
//
// Thread Safety: Safe for concurrent use. Imports are serialized; queries
// read the last completed result.
type Service struct {
	importer *importer.Importer
	options  ServiceOptions

	importing sync.Mutex

	mu      sync.RWMutex
	current *importer.Result
	last    *ImportRequest
}

// NewService creates a service around an importer.
func NewService(imp *importer.Importer, opts ...ServiceOption) (*Service, error) {
	if imp == nil {
		return nil, fmt.Errorf("importer must not be nil")
	}
	var options ServiceOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Service{importer: imp, options: options}, nil
}

// ImportOutcome is the result of Service.Import.
type ImportOutcome struct {
	Result *importer.Result

	// Snapshot is set when the request asked for one and it was saved.
	Snapshot *graph.SnapshotMetadata
}

// Import runs one import and, on success, makes its graph current.
//
// Description:
//
//	Exactly one of req.URIs, req.Packages or req.ClassPath selects the
//	locations. A run that completes with failures still replaces the
//	current graph: failures are part of the result. Only a run that
//	returns an error (cancellation, bad request) leaves it untouched.
//	Returns ErrImportInProgress instead of queueing behind a running
//	import.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.importing.TryLock() {
		return nil, ErrImportInProgress
	}
	defer s.importing.Unlock()

	var (
		res *importer.Result
		err error
	)
	switch {
	case len(req.URIs) > 0:
		res, err = s.importer.ImportURIs(ctx, req.URIs...)
	case len(req.Packages) > 0:
		res, err = s.importer.ImportPackages(ctx, req.Packages...)
	default:
		res, err = s.importer.ImportClassPath(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = res
	r := req
	s.last = &r
	s.mu.Unlock()

	out := &ImportOutcome{Result: res}
	if req.Snapshot && s.options.Snapshots != nil {
		meta, err := s.options.Snapshots.Save(ctx, res.Graph, req.Label)
		if err != nil {
			// The import itself succeeded; the snapshot is reported missing.
			s.options.Logger.Error("snapshot save failed",
				slog.String("run_id", res.Graph.RunID),
				slog.String("error", err.Error()),
			)
		} else {
			out.Snapshot = meta
		}
	}
	return out, nil
}

// Reimport repeats the last import request. It is a no-op before the first
// import.
func (s *Service) Reimport(ctx context.Context) error {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last == nil {
		return nil
	}
	_, err := s.Import(ctx, *last)
	return err
}

// Current returns the last completed import result.
func (s *Service) Current() (*importer.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoGraph
	}
	return s.current, nil
}

// SetCurrent installs a graph built elsewhere, e.g. loaded from a snapshot.
func (s *Service) SetCurrent(g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &importer.Result{Graph: g, Failures: g.Failures(), Stats: importer.Stats{Graph: g.Stats()}}
}

// Snapshots returns the snapshot manager, nil when persistence is disabled.
func (s *Service) Snapshots() *graph.SnapshotManager {
	return s.options.Snapshots
}

// ImportRequest selects the locations of one import.
type ImportRequest struct {
	// URIs are explicit location URIs, e.g. "file:/app/classes".
	URIs []string `json:"uris,omitempty" binding:"omitempty,dive,required"`

	// Packages are package names looked up on the class path.
	Packages []string `json:"packages,omitempty" binding:"omitempty,dive,required"`

	// ClassPath imports every class path root.
	ClassPath bool `json:"classpath,omitempty"`

	// Snapshot saves the resulting graph when persistence is enabled.
	Snapshot bool `json:"snapshot,omitempty"`

	Label string `json:"label,omitempty"`
}

// Validate checks that exactly one location selector is set.
func (r ImportRequest) Validate() error {
	n := 0
	if len(r.URIs) > 0 {
		n++
	}
	if len(r.Packages) > 0 {
		n++
	}
	if r.ClassPath {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: exactly one of uris, packages or classpath must be set", ErrInvalidRequest)
	}
	for _, p := range r.Packages {
		if strings.ContainsAny(p, "/ ") {
			return fmt.Errorf("%w: package %q must use dots", ErrInvalidRequest, p)
		}
	}
	return nil
}

// ErrInvalidRequest marks a request that cannot be served as given.
var ErrInvalidRequest = errors.New("invalid request")
