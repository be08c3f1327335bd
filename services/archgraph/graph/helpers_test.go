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
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

type recordOption func(*classfile.ClassRecord)

// class builds a public class record extending java.lang.Object.
func class(name string, opts ...recordOption) *classfile.ClassRecord {
	rec := &classfile.ClassRecord{
		Name:           name,
		Modifiers:      classfile.AccPublic | classfile.AccSynchronized,
		MajorVersion:   61,
		SuperclassName: objectName,
		SourceFile:     classfile.SimpleNameOf(strings.SplitN(name, "$", 2)[0]) + ".java",
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

func extends(super string) recordOption {
	return func(r *classfile.ClassRecord) { r.SuperclassName = super }
}

func implements(ifaces ...string) recordOption {
	return func(r *classfile.ClassRecord) { r.InterfaceNames = append(r.InterfaceNames, ifaces...) }
}

func enclosedBy(outer string) recordOption {
	return func(r *classfile.ClassRecord) { r.EnclosingClassName = outer }
}

func typeParams(decls ...classfile.TypeParameterDecl) recordOption {
	return func(r *classfile.ClassRecord) { r.TypeParameters = decls }
}

func annotated(typeName string) recordOption {
	return func(r *classfile.ClassRecord) {
		r.Annotations = append(r.Annotations, classfile.AnnotationRecord{TypeName: typeName, Visible: true})
	}
}

func field(name, desc, signature string) recordOption {
	return func(r *classfile.ClassRecord) {
		typ, err := classfile.FieldDescriptorToName(desc)
		if err != nil {
			panic(err)
		}
		r.Members = append(r.Members, classfile.MemberRecord{
			Kind:       classfile.MemberField,
			Name:       name,
			Descriptor: desc,
			Signature:  signature,
			Modifiers:  classfile.AccPrivate,
			TypeName:   typ,
		})
	}
}

func method(name, desc, signature string, accesses ...classfile.AccessRecord) recordOption {
	return func(r *classfile.ClassRecord) {
		params, ret, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			panic(err)
		}
		kind := memberKindOf(name)
		m := classfile.MemberRecord{
			Kind:               kind,
			Name:               name,
			Descriptor:         desc,
			Signature:          signature,
			Modifiers:          classfile.AccPublic,
			TypeName:           ret,
			ParameterTypeNames: params,
		}
		if signature != "" {
			sig, err := classfile.ParseMethodSignature(signature)
			if err != nil {
				panic(err)
			}
			m.TypeParameters = sig.TypeParameters
		}
		r.Members = append(r.Members, m)
		origin := classfile.MemberKey{Name: name, Descriptor: desc}
		for _, a := range accesses {
			a.Origin = origin
			r.Accesses = append(r.Accesses, a)
		}
	}
}

func call(owner, name, desc string, line int) classfile.AccessRecord {
	kind := classfile.AccessMethodCall
	if name == classfile.ConstructorName {
		kind = classfile.AccessConstructorCall
	}
	return classfile.AccessRecord{Kind: kind, TargetOwner: owner, TargetName: name, TargetDescriptor: desc, Line: line}
}

func getField(owner, name, desc string, line int) classfile.AccessRecord {
	return classfile.AccessRecord{Kind: classfile.AccessFieldGet, TargetOwner: owner, TargetName: name, TargetDescriptor: desc, Line: line}
}

func cast(owner string, line int) classfile.AccessRecord {
	return classfile.AccessRecord{Kind: classfile.AccessCast, TargetOwner: owner, Line: line}
}

func bound(name string, bounds ...classfile.TypeSignature) classfile.TypeParameterDecl {
	if len(bounds) == 0 {
		bounds = []classfile.TypeSignature{classfile.ClassSig(objectName)}
	}
	return classfile.TypeParameterDecl{Name: name, Bounds: bounds}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func inputsOf(recs ...*classfile.ClassRecord) []Input {
	out := make([]Input, len(recs))
	for i, r := range recs {
		out[i] = Input{Record: r, SourceURI: "file:/classes/" + strings.ReplaceAll(r.Name, ".", "/") + ".class"}
	}
	return out
}

func assemble(t *testing.T, recs ...*classfile.ClassRecord) *AssemblyResult {
	t.Helper()
	res, err := NewAssembler(WithLogger(discardLogger()), WithScope("test")).Assemble(context.Background(), inputsOf(recs...), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Graph)
	return res
}

func mustClass(t *testing.T, g *Graph, name string) *ClassNode {
	t.Helper()
	n, ok := g.Class(name)
	require.True(t, ok, "class %s missing", name)
	return n
}
