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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a Graph.
//
// Description:
//
//	A graph is stored as the class records of its complete nodes, rebuilt
//	from the linked nodes. Stubs, type variables and access edges are not
//	stored: FromSerializable re-links the records, which recreates them
//	exactly. Classes are sorted by name for deterministic output.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	SchemaVersion string `json:"schema_version"`

	RunID string `json:"run_id"`

	Scope string `json:"scope"`

	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the structural hash, see Graph.Hash.
	GraphHash string `json:"graph_hash"`

	Classes []SerializableClass `json:"classes"`

	Failures []SerializableFailure `json:"failures"`

	Shadowed int `json:"shadowed"`
}

// SerializableClass is one complete node.
type SerializableClass struct {
	SourceURI string                 `json:"source_uri,omitempty"`
	Record    *classfile.ClassRecord `json:"record"`
}

// SerializableFailure is one failure list entry. The cause is kept as text.
type SerializableFailure struct {
	ClassName string       `json:"class_name,omitempty"`
	Source    string       `json:"source,omitempty"`
	Stage     FailureStage `json:"stage"`
	Error     string       `json:"error"`
}

// ToSerializable converts a Graph to its JSON-serializable representation.
//
// Thread Safety: Safe for concurrent use.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Classes:       []SerializableClass{},
			Failures:      []SerializableFailure{},
		}
	}
	classes := g.Classes()
	out := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		RunID:         g.RunID,
		Scope:         g.Scope,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Classes:       make([]SerializableClass, 0, len(classes)),
		Failures:      make([]SerializableFailure, 0, len(g.failures)),
		Shadowed:      g.shadowed,
	}
	for _, n := range classes {
		out.Classes = append(out.Classes, SerializableClass{SourceURI: n.sourceURI, Record: n.Record()})
	}
	for _, f := range g.failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		out.Failures = append(out.Failures, SerializableFailure{
			ClassName: f.ClassName,
			Source:    f.Source,
			Stage:     f.Stage,
			Error:     msg,
		})
	}
	return out
}

// FromSerializable reconstructs a Graph by re-linking the stored records.
//
// Outputs:
//
//	*Graph - The reconstructed graph with the stored run ID, scope and
//	build time.
//	error - Non-nil if sg is nil, the schema version is unsupported, or a
//	stored record no longer links.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	inputs := make([]Input, len(sg.Classes))
	for i, c := range sg.Classes {
		inputs[i] = Input{Record: c.Record, SourceURI: c.SourceURI}
	}
	prior := make([]Failure, len(sg.Failures))
	for i, f := range sg.Failures {
		prior[i] = Failure{ClassName: f.ClassName, Source: f.Source, Stage: f.Stage, Err: errors.New(f.Error)}
	}

	a := NewAssembler(
		WithRunID(sg.RunID),
		WithScope(sg.Scope),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	res, err := a.Assemble(context.Background(), inputs, prior)
	if err != nil {
		return nil, err
	}
	if len(res.LinkFailures) > 0 {
		return nil, fmt.Errorf("stored class %s no longer links: %w", res.LinkFailures[0].ClassName, res.LinkFailures[0].Err)
	}
	g := res.Graph
	g.BuiltAtMilli = sg.BuiltAtMilli
	g.shadowed = sg.Shadowed
	return g, nil
}

// Hash returns a hex SHA-256 over the graph's structure: the records of its
// complete nodes and the names of its stubs. Run ID, build time, source URIs
// and failures do not contribute, so importing the same classes twice
// yields the same hash.
func (g *Graph) Hash() string {
	type shape struct {
		Classes []*classfile.ClassRecord `json:"classes"`
		Stubs   []string                 `json:"stubs"`
	}
	var s shape
	for _, n := range g.Classes() {
		s.Classes = append(s.Classes, n.Record())
	}
	for _, n := range g.Stubs() {
		s.Stubs = append(s.Stubs, n.name)
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Records hold only strings, numbers and string maps.
		return ""
	}
	return hashBytes(data)
}

// Record rebuilds the class record of a complete node. Stubs yield a record
// holding only the name.
func (n *ClassNode) Record() *classfile.ClassRecord {
	rec := &classfile.ClassRecord{Name: n.name}
	if n.stub {
		return rec
	}
	rec.Modifiers = n.modifiers
	rec.MajorVersion = n.majorVersion
	rec.SourceFile = n.sourceFile
	if s, ok := n.Superclass(); ok {
		rec.SuperclassName = s.name
	}
	for _, i := range n.Interfaces() {
		rec.InterfaceNames = append(rec.InterfaceNames, i.name)
	}
	if e, ok := n.EnclosingClass(); ok {
		rec.EnclosingClassName = e.name
	}
	if n.enclosingMethod != nil {
		em := *n.enclosingMethod
		rec.EnclosingMethod = &em
	}
	rec.TypeParameters = typeParameterDecls(n.typeParameters)
	if n.genericSuperclass != nil {
		gs := signatureOf(n.genericSuperclass)
		rec.GenericSuperclass = &gs
	}
	if n.genericInterfaces != nil {
		rec.GenericInterfaces = make([]classfile.TypeSignature, len(n.genericInterfaces))
		for i, gi := range n.genericInterfaces {
			rec.GenericInterfaces[i] = signatureOf(gi)
		}
	}
	rec.Annotations = annotationRecords(n.annotations)
	for _, m := range n.members {
		mr := classfile.MemberRecord{
			Kind:           m.Kind,
			Name:           m.Name,
			Descriptor:     m.Descriptor,
			Signature:      m.Signature,
			Modifiers:      m.Modifiers,
			TypeParameters: typeParameterDecls(m.typeParams),
			Annotations:    annotationRecords(m.Annotations),
		}
		if t := m.Type(); t != nil {
			mr.TypeName = t.name
		}
		for _, p := range m.Parameters() {
			mr.ParameterTypeNames = append(mr.ParameterTypeNames, p.name)
		}
		for _, t := range m.Throws() {
			mr.ThrowsNames = append(mr.ThrowsNames, t.name)
		}
		rec.Members = append(rec.Members, mr)
	}
	for _, e := range n.AccessesFromSelf() {
		rec.Accesses = append(rec.Accesses, classfile.AccessRecord{
			Kind:             e.Kind,
			Origin:           e.OriginMember,
			TargetOwner:      e.Target.name,
			TargetName:       e.TargetMember.Name,
			TargetDescriptor: e.TargetMember.Descriptor,
			Line:             e.Line,
		})
	}
	return rec
}

func typeParameterDecls(vars []*TypeVariable) []classfile.TypeParameterDecl {
	if len(vars) == 0 {
		return nil
	}
	out := make([]classfile.TypeParameterDecl, len(vars))
	for i, v := range vars {
		bounds := make([]classfile.TypeSignature, len(v.bounds))
		for j, b := range v.bounds {
			bounds[j] = signatureOf(b)
		}
		out[i] = classfile.TypeParameterDecl{Name: v.name, Bounds: bounds}
	}
	return out
}

func annotationRecords(anns []Annotation) []classfile.AnnotationRecord {
	if len(anns) == 0 {
		return nil
	}
	out := make([]classfile.AnnotationRecord, len(anns))
	for i, a := range anns {
		out[i] = classfile.AnnotationRecord{TypeName: a.Type.name, Visible: a.Visible, Values: a.Values}
	}
	return out
}

// signatureOf converts a resolved type back to its signature. Type
// variables become references by name, which breaks bound cycles.
func signatureOf(t JavaType) classfile.TypeSignature {
	switch v := t.(type) {
	case *ClassNode:
		if v.IsPrimitive() {
			return classfile.TypeSignature{Kind: classfile.SigPrimitive, Name: v.name}
		}
		if c, ok := v.ComponentType(); ok {
			elem := signatureOf(c)
			return classfile.TypeSignature{Kind: classfile.SigArray, Elem: &elem}
		}
		return classfile.ClassSig(v.name)
	case *ParameterizedType:
		args := make([]classfile.TypeSignature, len(v.args))
		for i, a := range v.args {
			args[i] = signatureOf(a)
		}
		return classfile.ClassSig(v.raw.name, args...)
	case *TypeVariable:
		return classfile.TypeVarSig(v.name)
	case *WildcardType:
		w := classfile.TypeSignature{Kind: classfile.SigWildcard}
		switch {
		case len(v.upper) > 0:
			b := signatureOf(v.upper[0])
			w.Elem = &b
		case len(v.lower) > 0:
			b := signatureOf(v.lower[0])
			w.Elem = &b
			w.Lower = true
		}
		return w
	case *GenericArrayType:
		elem := signatureOf(v.component)
		return classfile.TypeSignature{Kind: classfile.SigArray, Elem: &elem}
	default:
		return classfile.TypeSignature{}
	}
}
