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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archgraph/services/archgraph/classfile"
)

func serializationFixture(t *testing.T) *AssemblyResult {
	t.Helper()
	prior := []Failure{{ClassName: "com.acme.Corrupt", Source: "file:/c/Corrupt.class", Stage: StageExtract, Err: classfile.ErrTruncated}}
	recs := []*classfile.ClassRecord{
		class("com.acme.Repo",
			typeParams(bound("T", classfile.ClassSig("java.lang.Comparable", classfile.TypeVarSig("T")))),
			implements("java.lang.Iterable"),
			annotated("com.acme.Marker"),
			field("items", "[Ljava/lang/Comparable;", "[TT;"),
			method("pick", "(Ljava/util/List;)Ljava/lang/Comparable;", "<U:TT;>(Ljava/util/List<-TU;>;)TU;",
				call("com.acme.Repo$Node", classfile.ConstructorName, "()V", 8),
			),
		),
		class("com.acme.Repo$Node",
			enclosedBy("com.acme.Repo"),
			method(classfile.ConstructorName, "()V", ""),
		),
	}
	res, err := NewAssembler(WithLogger(discardLogger()), WithScope("file:/classes")).Assemble(t.Context(), inputsOf(recs...), prior)
	require.NoError(t, err)
	return res
}

func TestSerializable_RoundTrip(t *testing.T) {
	g := serializationFixture(t).Graph

	data, err := json.Marshal(g.ToSerializable())
	require.NoError(t, err)
	var sg SerializableGraph
	require.NoError(t, json.Unmarshal(data, &sg))

	loaded, err := FromSerializable(&sg)
	require.NoError(t, err)

	assert.Equal(t, g.RunID, loaded.RunID)
	assert.Equal(t, g.Scope, loaded.Scope)
	assert.Equal(t, g.BuiltAtMilli, loaded.BuiltAtMilli)
	assert.Equal(t, g.Hash(), loaded.Hash())
	assert.Equal(t, g.Stats(), loaded.Stats())
	assert.Equal(t, g.NodeCount(), loaded.NodeCount())
	assert.Equal(t, g.EdgeCount(), loaded.EdgeCount())

	fs := loaded.Failures()
	require.Len(t, fs, 1)
	assert.Equal(t, "com.acme.Corrupt", fs[0].ClassName)
	assert.Equal(t, StageExtract, fs[0].Stage)
	assert.Contains(t, fs[0].Error(), classfile.ErrTruncated.Error())

	repo := mustClass(t, loaded, "com.acme.Repo")
	assert.Equal(t, "file:/classes/com/acme/Repo.class", repo.SourceURI())
	tv := repo.TypeParameters()[0]
	assert.Same(t, tv, tv.Bounds()[0].(*ParameterizedType).Arguments()[0])

	edges := repo.AccessesFromSelf()
	require.Len(t, edges, 1)
	assert.Same(t, mustClass(t, loaded, "com.acme.Repo$Node"), edges[0].DeclaringClass)
}

func TestSerializable_RecordRebuildsInput(t *testing.T) {
	rec := class("com.acme.A",
		extends("com.acme.Base"),
		implements("java.io.Serializable"),
		field("name", "Ljava/lang/String;", ""),
		method("run", "(I[J)V", "", getField("com.acme.A", "name", "Ljava/lang/String;", 3)),
	)
	g := assemble(t, rec).Graph

	got := mustClass(t, g, "com.acme.A").Record()
	assert.Equal(t, rec, got)

	stub := mustClass(t, g, "com.acme.Base").Record()
	assert.Equal(t, &classfile.ClassRecord{Name: "com.acme.Base"}, stub)
}

func TestGraph_HashIgnoresRunDetails(t *testing.T) {
	a := serializationFixture(t).Graph
	b := serializationFixture(t).Graph

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)

	c := assemble(t, class("com.acme.Other")).Graph
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestFromSerializable_Errors(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		_, err := FromSerializable(nil)
		assert.Error(t, err)
	})

	t.Run("schema version", func(t *testing.T) {
		sg := serializationFixture(t).Graph.ToSerializable()
		sg.SchemaVersion = "0.9"
		_, err := FromSerializable(sg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported schema version")
	})

	t.Run("record no longer links", func(t *testing.T) {
		sg := serializationFixture(t).Graph.ToSerializable()
		sg.Classes[0].Record.SuperclassName = sg.Classes[0].Record.Name
		_, err := FromSerializable(sg)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidHierarchy)
	})
}

func TestToSerializable_NilGraph(t *testing.T) {
	var g *Graph
	sg := g.ToSerializable()
	assert.Equal(t, GraphSchemaVersion, sg.SchemaVersion)
	assert.Empty(t, sg.Classes)
	assert.NotNil(t, sg.Failures)
}
