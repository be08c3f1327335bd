// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package importer runs import runs: it resolves locations, reads and
// extracts their class files in parallel, and assembles the records into a
// graph.
//
// # Partial Failure
//
// An import run never fails because of its input. Unreadable locations
// become warnings; unreadable or malformed class files and classes that do
// not link become failure list entries. Import returns an error only when
// its context is done.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
	"github.com/AleutianAI/archgraph/services/archgraph/graph"
	"github.com/AleutianAI/archgraph/services/archgraph/location"
	"github.com/AleutianAI/archgraph/services/archgraph/source"
)

// DefaultMaxResolutionIterations bounds missing-dependency resolution when
// it is enabled without an explicit limit.
const DefaultMaxResolutionIterations = 3

var tracer = otel.Tracer("aleutian.archgraph.importer")

// Options configures an Importer.
type Options struct {
	// Logger receives location warnings at Warn, per-class failures at Debug
	// and a run summary at Info.
	// Default: slog.Default()
	Logger *slog.Logger

	// Workers is the number of parallel read/extract workers.
	// Default: runtime.NumCPU()
	Workers int

	// ImportOptions drop class entries whose location they exclude.
	ImportOptions location.ImportOptions

	// ResolveMissing imports referenced but missing classes from the
	// classpath instead of leaving them as stubs.
	ResolveMissing bool

	// MaxResolutionIterations bounds the rounds of missing-dependency
	// resolution. Each round may reference further missing classes.
	// Default: DefaultMaxResolutionIterations
	MaxResolutionIterations int
}

// Option is a functional option for configuring an Importer.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithWorkers sets the number of parallel workers.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithImportOptions adds entry filters.
func WithImportOptions(opts ...location.ImportOption) Option {
	return func(o *Options) {
		o.ImportOptions = append(o.ImportOptions, opts...)
	}
}

// WithResolveMissing enables missing-dependency resolution with at most
// maxIterations rounds. A non-positive limit uses the default.
func WithResolveMissing(maxIterations int) Option {
	return func(o *Options) {
		o.ResolveMissing = true
		o.MaxResolutionIterations = maxIterations
	}
}

// Importer turns locations into graphs.
//
// Thread Safety: Safe for concurrent use. Each import run has its own state
// and its own graph. The resolver's archive listings are shared, keyed by
// archive size and modification time, so every run lists what is on disk.
type Importer struct {
	resolver *location.Resolver
	options  Options
}

// New creates an Importer resolving locations with resolver.
func New(resolver *location.Resolver, opts ...Option) (*Importer, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver must not be nil")
	}
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Workers <= 0 {
		options.Workers = runtime.NumCPU()
	}
	if options.MaxResolutionIterations <= 0 {
		options.MaxResolutionIterations = DefaultMaxResolutionIterations
	}
	return &Importer{resolver: resolver, options: options}, nil
}

// Stats summarizes one import run.
type Stats struct {
	Locations             int         `json:"locations"`
	FilesRead             int         `json:"files_read"`
	ReadErrors            int         `json:"read_errors"`
	DuplicateContent      int         `json:"duplicate_content"`
	Extracted             int         `json:"extracted"`
	Malformed             int         `json:"malformed"`
	UnreadableLocations   int         `json:"unreadable_locations"`
	ResolvedFromClassPath int         `json:"resolved_from_classpath"`
	ResolutionIterations  int         `json:"resolution_iterations"`
	Graph                 graph.Stats `json:"graph"`
	DurationMilli         int64       `json:"duration_ms"`
}

// Result is the outcome of one import run.
type Result struct {
	// Graph is the assembled graph, possibly partial.
	Graph *graph.Graph

	// Failures lists the classes that could not be read, extracted or
	// linked. Same as Graph.Failures().
	Failures []graph.Failure

	// Warnings lists the locations that were skipped, one per URI.
	Warnings []*location.UnreadableError

	Stats Stats
}

// ImportURIs imports explicit locations, see location.Resolver.Parse.
func (im *Importer) ImportURIs(ctx context.Context, uris ...string) (*Result, error) {
	return im.run(ctx, strings.Join(uris, ","), im.resolver.Of(ctx, uris...))
}

// ImportPackages imports every classpath location containing one of the
// packages, sub-packages included.
func (im *Importer) ImportPackages(ctx context.Context, pkgs ...string) (*Result, error) {
	var all location.Resolution
	for _, pkg := range pkgs {
		res := im.resolver.OfPackage(ctx, pkg)
		all.Locations = all.Locations.Union(res.Locations)
		all.Warnings = append(all.Warnings, res.Warnings...)
	}
	return im.run(ctx, "package:"+strings.Join(pkgs, ","), all)
}

// ImportClassPath imports every readable classpath root.
func (im *Importer) ImportClassPath(ctx context.Context) (*Result, error) {
	return im.run(ctx, "classpath", im.resolver.InClassPath(ctx))
}

// ImportLocations imports already resolved locations under a scope label.
func (im *Importer) ImportLocations(ctx context.Context, scope string, locs location.Set) (*Result, error) {
	return im.run(ctx, scope, location.Resolution{Locations: locs})
}

// slot is one class entry of the run. Slots keep location order, which
// decides the winner among classes of the same name.
type slot struct {
	entry   source.Entry
	rec     *classfile.ClassRecord
	failure *graph.Failure
}

// extraction is the parse outcome shared by byte-identical class files.
type extraction struct {
	once sync.Once
	rec  *classfile.ClassRecord
	err  error
}

// runState is the mutable state of one import run.
type runState struct {
	im       *Importer
	logger   *slog.Logger
	scanned  map[string]bool
	warnings map[string]*location.UnreadableError
	stats    Stats

	mu        sync.Mutex
	extracted map[xxh3.Uint128]*extraction
}

// run executes one import run.
//
// Import Phases:
//
//  1. SCAN: open each location once and list its class entries
//  2. EXTRACT: read and parse entries on the worker pool
//  3. RESOLVE: optionally import missing referenced classes, repeating 1-2
//  4. ASSEMBLE: link all records into the graph
func (im *Importer) run(ctx context.Context, scope string, res location.Resolution) (*Result, error) {
	ctx, span := tracer.Start(ctx, "importer.Importer.Import",
		trace.WithAttributes(
			attribute.String("archgraph.scope", scope),
			attribute.Int("archgraph.locations", len(res.Locations)),
		),
	)
	defer span.End()
	start := time.Now()

	r := &runState{
		im:        im,
		logger:    im.options.Logger.With(slog.String("scope", scope)),
		scanned:   make(map[string]bool),
		warnings:  make(map[string]*location.UnreadableError),
		extracted: make(map[xxh3.Uint128]*extraction),
	}
	for _, w := range res.Warnings {
		r.warn(w)
	}

	result, err := r.execute(ctx, scope, res.Locations)
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordRun(r.stats, duration.Seconds(), err)
		return nil, err
	}

	result.Stats.DurationMilli = duration.Milliseconds()
	span.SetAttributes(
		attribute.Int("archgraph.files_read", result.Stats.FilesRead),
		attribute.Int("archgraph.classes", result.Stats.Graph.Classes),
		attribute.Int("archgraph.failures", len(result.Failures)),
	)
	span.SetStatus(codes.Ok, "")
	recordRun(result.Stats, duration.Seconds(), nil)

	r.logger.Info("import finished",
		slog.String("run_id", result.Graph.RunID),
		slog.Int("locations", result.Stats.Locations),
		slog.Int("files_read", result.Stats.FilesRead),
		slog.Int("classes", result.Stats.Graph.Classes),
		slog.Int("stubs", result.Stats.Graph.Stubs),
		slog.Int("failures", len(result.Failures)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Int64("duration_ms", result.Stats.DurationMilli),
	)
	return result, nil
}

func (r *runState) execute(ctx context.Context, scope string, locs location.Set) (*Result, error) {
	slots, err := r.extract(ctx, locs)
	if err != nil {
		return nil, err
	}

	if r.im.options.ResolveMissing {
		slots, err = r.resolveMissing(ctx, slots)
		if err != nil {
			return nil, err
		}
	}

	inputs := make([]graph.Input, 0, len(slots))
	var prior []graph.Failure
	for _, s := range slots {
		if s.failure != nil {
			prior = append(prior, *s.failure)
			continue
		}
		inputs = append(inputs, graph.Input{Record: s.rec, SourceURI: s.entry.URI()})
	}

	asm := graph.NewAssembler(graph.WithLogger(r.im.options.Logger), graph.WithScope(scope))
	ar, err := asm.Assemble(ctx, inputs, prior)
	if err != nil {
		return nil, err
	}

	r.stats.Graph = ar.Stats
	r.stats.UnreadableLocations = len(r.warnings)
	return &Result{
		Graph:    ar.Graph,
		Failures: ar.Graph.Failures(),
		Warnings: r.sortedWarnings(),
		Stats:    r.stats,
	}, nil
}

// extract scans the locations not scanned before in this run and extracts
// their class entries.
func (r *runState) extract(ctx context.Context, locs location.Set) ([]*slot, error) {
	var streams []*source.Stream
	defer func() {
		for _, s := range streams {
			if err := s.Close(); err != nil {
				r.logger.Debug("closing location failed", slog.String("location", s.Location().URI()), slog.Any("error", err))
			}
		}
	}()

	var opts []source.Option
	if len(r.im.options.ImportOptions) > 0 {
		opts = append(opts, source.WithImportOption(r.im.options.ImportOptions))
	}

	var slots []*slot
	for _, loc := range locs {
		if r.scanned[loc.URI()] {
			continue
		}
		r.scanned[loc.URI()] = true

		_, lspan := tracer.Start(ctx, "importer.scanLocation",
			trace.WithAttributes(attribute.String("archgraph.location", loc.URI())))
		s, err := source.Open(ctx, loc, opts...)
		if err != nil {
			lspan.RecordError(err)
			lspan.End()
			w := asUnreadable(loc.URI(), err)
			r.logger.Warn("skipping unreadable location",
				slog.String("location", w.URI),
				slog.String("error", w.Err.Error()),
			)
			r.warn(w)
			continue
		}
		lspan.SetAttributes(attribute.Int("archgraph.entries", s.Remaining()))
		lspan.End()

		streams = append(streams, s)
		r.stats.Locations++
		for e, ok := s.Next(); ok; e, ok = s.Next() {
			slots = append(slots, &slot{entry: e})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.im.options.Workers)
	for _, s := range slots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.read(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range slots {
		r.stats.FilesRead++
		if s.failure == nil {
			r.stats.Extracted++
			continue
		}
		switch s.failure.Stage {
		case graph.StageRead:
			r.stats.ReadErrors++
		case graph.StageExtract:
			r.stats.Malformed++
		}
		r.logger.Debug("class file skipped",
			slog.String("source", s.failure.Source),
			slog.String("stage", string(s.failure.Stage)),
			slog.Any("error", s.failure.Err),
		)
	}
	return slots, nil
}

// read fills one slot. Byte-identical class files are parsed once.
func (r *runState) read(ctx context.Context, s *slot) {
	uri := s.entry.URI()
	data, err := s.entry.ReadAll(ctx)
	if err != nil {
		s.failure = &graph.Failure{ClassName: classNameOf(s.entry.Name), Source: uri, Stage: graph.StageRead, Err: err}
		return
	}

	key := xxh3.Hash128(data)
	r.mu.Lock()
	x, seen := r.extracted[key]
	if !seen {
		x = &extraction{}
		r.extracted[key] = x
	} else {
		r.stats.DuplicateContent++
	}
	r.mu.Unlock()

	x.once.Do(func() {
		x.rec, x.err = classfile.ParseEntry(uri, data)
	})
	if x.err != nil {
		s.failure = &graph.Failure{ClassName: classNameOf(s.entry.Name), Source: uri, Stage: graph.StageExtract, Err: x.err}
		return
	}
	s.rec = x.rec
}

// resolveMissing imports, from the classpath, classes that the records
// reference but no slot provides. Each round scans only new locations.
func (r *runState) resolveMissing(ctx context.Context, slots []*slot) ([]*slot, error) {
	attempted := make(map[string]bool)
	for i := 0; i < r.im.options.MaxResolutionIterations; i++ {
		missing := missingNames(slots, attempted)
		if len(missing) == 0 {
			break
		}
		var found location.Set
		for _, name := range missing {
			attempted[name] = true
			res := r.im.resolver.OfClass(ctx, name)
			found = found.Union(res.Locations)
			for _, w := range res.Warnings {
				r.warn(w)
			}
		}
		more, err := r.extract(ctx, found)
		if err != nil {
			return nil, err
		}
		r.stats.ResolutionIterations++
		if len(more) == 0 {
			break
		}
		for _, s := range more {
			if s.rec != nil {
				r.stats.ResolvedFromClassPath++
			}
		}
		r.logger.Debug("resolved missing classes",
			slog.Int("iteration", i+1),
			slog.Int("missing", len(missing)),
			slog.Int("imported", len(more)),
		)
		slots = append(slots, more...)
	}
	return slots, nil
}

// missingNames returns the sorted class names referenced by the slots'
// records that no slot defines and that were not looked up before.
func missingNames(slots []*slot, attempted map[string]bool) []string {
	defined := make(map[string]bool, len(slots))
	for _, s := range slots {
		if s.rec != nil {
			defined[s.rec.Name] = true
		}
	}
	want := make(map[string]bool)
	for _, s := range slots {
		if s.rec == nil {
			continue
		}
		for _, name := range s.rec.ReferencedClassNames() {
			name = classfile.ElementName(name)
			if classfile.IsPrimitiveName(name) || defined[name] || attempted[name] {
				continue
			}
			want[name] = true
		}
	}
	out := make([]string, 0, len(want))
	for name := range want {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// warn records a skipped location once per URI. The resolver has already
// logged warnings it returns.
func (r *runState) warn(w *location.UnreadableError) {
	if _, dup := r.warnings[w.URI]; !dup {
		r.warnings[w.URI] = w
	}
}

func (r *runState) sortedWarnings() []*location.UnreadableError {
	out := make([]*location.UnreadableError, 0, len(r.warnings))
	for _, w := range r.warnings {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func asUnreadable(uri string, err error) *location.UnreadableError {
	var ue *location.UnreadableError
	if errors.As(err, &ue) {
		return ue
	}
	return &location.UnreadableError{URI: uri, Err: err}
}

// classNameOf derives a class name from an entry path for failures that
// happen before the class header is read.
func classNameOf(entry string) string {
	name := strings.TrimSuffix(entry, ".class")
	if rest, ok := strings.CutPrefix(name, "META-INF/versions/"); ok {
		if _, after, found := strings.Cut(rest, "/"); found {
			name = after
		}
	}
	return strings.ReplaceAll(name, "/", ".")
}
