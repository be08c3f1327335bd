// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// Input is one extracted class together with where it came from.
type Input struct {
	Record    *classfile.ClassRecord
	SourceURI string
}

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	// Logger receives per-class failures at Debug and a run summary at Info.
	// Default: slog.Default()
	Logger *slog.Logger

	// Scope is copied to Graph.Scope.
	Scope string

	// RunID is copied to Graph.RunID. A random UUID is used when empty.
	RunID string
}

// AssemblerOption is a functional option for configuring an Assembler.
type AssemblerOption func(*AssemblerOptions)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AssemblerOption {
	return func(o *AssemblerOptions) {
		o.Logger = l
	}
}

// WithScope sets the description of what the run imported.
func WithScope(scope string) AssemblerOption {
	return func(o *AssemblerOptions) {
		o.Scope = scope
	}
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) AssemblerOption {
	return func(o *AssemblerOptions) {
		o.RunID = id
	}
}

// Assembler links the class records of one import run into a Graph.
//
// Thread Safety: Safe for concurrent use. Each Assemble call works on its
// own index.
type Assembler struct {
	options AssemblerOptions
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	var options AssemblerOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Assembler{options: options}
}

// AssemblyResult is the outcome of one Assemble call.
type AssemblyResult struct {
	// Graph is the assembled graph. It includes every failure, prior and new.
	Graph *Graph

	// LinkFailures are the classes rejected by assembly itself.
	LinkFailures []Failure

	Stats Stats

	DurationMilli int64
}

// prepared is a validated record with its member signatures parsed.
type prepared struct {
	in      Input
	rec     *classfile.ClassRecord
	members []parsedSignature
	node    *ClassNode
}

type parsedSignature struct {
	field  *classfile.TypeSignature
	method *classfile.MethodSignature
}

// Assemble builds a graph from the records of one import run.
//
// Description:
//
//	Every record is validated first; a record that fails validation is left
//	out and reported in the failure list. The valid records are then linked
//	in index-first order: all complete nodes are created before any
//	reference is resolved, so forward and self references resolve to the
//	final node. Linking cannot fail once validation has passed.
//
// Inputs:
//
//	ctx - Checked between phases. A cancelled run returns no graph.
//	inputs - The extracted records. Order decides which of two records with
//	the same class name wins: the first.
//	prior - Failures from earlier pipeline steps, carried into the graph.
//
// Outputs:
//
//	*AssemblyResult - The graph plus the failures raised during assembly.
//	error - Non-nil only when ctx is done.
//
// Assembly Phases:
//
//  1. VALIDATE: names, hierarchy, signatures, access origins, enclosure cycles
//  2. INDEX: one complete node per valid record
//  3. LINK: declarations, supertypes, type bounds, members, accesses
//  4. FINISH: generic array erasures, access targets, reverse index
func (a *Assembler) Assemble(ctx context.Context, inputs []Input, prior []Failure) (*AssemblyResult, error) {
	ctx, span := startAssembleSpan(ctx, len(inputs))
	defer span.End()
	start := time.Now()

	runID := a.options.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	g := &Graph{RunID: runID, Scope: a.options.Scope}
	g.failures = append(g.failures, prior...)

	fail := func(err error) (*AssemblyResult, error) {
		setAssembleSpanResult(span, Stats{}, 0, err)
		recordAssembleMetrics(ctx, time.Since(start), Stats{}, 0, false)
		return nil, err
	}

	_, vspan := startPhaseSpan(ctx, "validate")
	valid, linkFailures, shadowed := a.validate(inputs)
	vspan.End()
	g.shadowed = shadowed
	g.failures = append(g.failures, linkFailures...)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	l := &linker{ix: newClassIndex(g), scopes: make(map[ClassID]*typeScope), logger: a.options.Logger}

	_, ispan := startPhaseSpan(ctx, "index")
	for _, p := range valid {
		p.node = l.ix.addComplete(p.rec.Name)
	}
	ispan.End()

	_, lspan := startPhaseSpan(ctx, "link")
	for _, p := range valid {
		l.declareClass(p)
	}
	for _, p := range valid {
		l.linkClass(p)
	}
	for _, p := range valid {
		l.eraseAll(p.node.typeParameters)
	}
	if err := ctx.Err(); err != nil {
		lspan.End()
		return fail(err)
	}
	for _, p := range valid {
		l.linkMembers(p)
	}
	for _, p := range valid {
		l.linkAccesses(p)
	}
	lspan.End()
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	_, fspan := startPhaseSpan(ctx, "finish")
	l.finish()
	fspan.End()

	g.BuiltAtMilli = time.Now().UnixMilli()
	duration := time.Since(start)
	stats := g.Stats()

	setAssembleSpanResult(span, stats, len(linkFailures), nil)
	recordAssembleMetrics(ctx, duration, stats, len(linkFailures), true)

	a.options.Logger.Info("graph assembled",
		slog.String("run_id", g.RunID),
		slog.Int("classes", stats.Classes),
		slog.Int("stubs", stats.Stubs),
		slog.Int("accesses", stats.Accesses),
		slog.Int("failures", stats.Failures),
		slog.Int("shadowed", stats.Shadowed),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return &AssemblyResult{
		Graph:         g,
		LinkFailures:  linkFailures,
		Stats:         stats,
		DurationMilli: duration.Milliseconds(),
	}, nil
}

// validate checks every record and drops the ones that cannot be linked.
func (a *Assembler) validate(inputs []Input) ([]*prepared, []Failure, int) {
	var failures []Failure
	reject := func(in Input, name string, err error) {
		a.options.Logger.Debug("class excluded from graph",
			slog.String("class", name),
			slog.String("source", in.SourceURI),
			slog.Any("error", err),
		)
		failures = append(failures, Failure{ClassName: name, Source: in.SourceURI, Stage: StageAssemble, Err: err})
	}

	byName := make(map[string]*prepared, len(inputs))
	ordered := make([]*prepared, 0, len(inputs))
	shadowed := 0
	for _, in := range inputs {
		if in.Record == nil {
			reject(in, "", ErrNilRecord)
			continue
		}
		p, err := prepare(in)
		if err != nil {
			reject(in, in.Record.Name, err)
			continue
		}
		if first, dup := byName[p.rec.Name]; dup {
			shadowed++
			a.options.Logger.Debug("duplicate class shadowed",
				slog.String("class", p.rec.Name),
				slog.String("kept", first.in.SourceURI),
				slog.String("shadowed", in.SourceURI),
			)
			continue
		}
		byName[p.rec.Name] = p
		ordered = append(ordered, p)
	}

	parent := func(name string) (string, bool) {
		p, ok := byName[name]
		if !ok || p.rec.EnclosingClassName == "" {
			return "", false
		}
		return p.rec.EnclosingClassName, true
	}
	cyclic := make(map[string]bool)
	for _, p := range ordered {
		if chain, ok := enclosureCycle(p.rec.Name, parent); ok {
			cyclic[p.rec.Name] = true
			reject(p.in, p.rec.Name, &CyclicEnclosureError{Class: p.rec.Name, Chain: chain})
		}
	}

	valid := ordered[:0]
	for _, p := range ordered {
		if !cyclic[p.rec.Name] {
			valid = append(valid, p)
		}
	}
	return valid, failures, shadowed
}

// prepare validates one record on its own and parses its member signatures.
func prepare(in Input) (*prepared, error) {
	rec := in.Record
	if !isClassName(rec.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, rec.Name)
	}
	if rec.SuperclassName == rec.Name {
		return nil, fmt.Errorf("%w: %s extends itself", ErrInvalidHierarchy, rec.Name)
	}
	if rec.SuperclassName != "" && !isClassName(rec.SuperclassName) {
		return nil, fmt.Errorf("%w: superclass %q", ErrInvalidHierarchy, rec.SuperclassName)
	}
	for _, i := range rec.InterfaceNames {
		if i == rec.Name || !isClassName(i) {
			return nil, fmt.Errorf("%w: interface %q", ErrInvalidHierarchy, i)
		}
	}
	if rec.EnclosingClassName != "" && !isClassName(rec.EnclosingClassName) {
		return nil, fmt.Errorf("%w: enclosing class %q", ErrInvalidName, rec.EnclosingClassName)
	}

	p := &prepared{in: in, rec: rec, members: make([]parsedSignature, len(rec.Members))}
	for i, m := range rec.Members {
		if m.Signature == "" {
			continue
		}
		if m.Kind == classfile.MemberField {
			sig, err := classfile.ParseFieldSignature(m.Signature)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", m.Name, err)
			}
			p.members[i].field = &sig
			continue
		}
		sig, err := classfile.ParseMethodSignature(m.Signature)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
		p.members[i].method = sig
	}

	for _, acc := range rec.Accesses {
		m, ok := rec.Member(acc.Origin)
		if !ok || m.Kind == classfile.MemberField {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOrigin, acc.Origin)
		}
		if acc.TargetOwner == "" {
			return nil, fmt.Errorf("%w: access from %s has no target", ErrInvalidName, acc.Origin)
		}
	}
	return p, nil
}

func isClassName(name string) bool {
	return name != "" && !classfile.IsPrimitiveName(name) && !classfile.IsArrayName(name)
}
