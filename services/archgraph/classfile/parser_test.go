// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cft "github.com/AleutianAI/archgraph/services/archgraph/classfile/classfiletest"
)

func TestParse_Header(t *testing.T) {
	data := cft.NewClass("com/acme/Service").
		Super("com/acme/Base").
		Interfaces("java/lang/Runnable", "java/io/Serializable").
		SourceFile("Service.java").
		Bytes()

	rec, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "com.acme.Service", rec.Name)
	assert.Equal(t, "com.acme", rec.PackageName())
	assert.Equal(t, "com.acme.Base", rec.SuperclassName)
	assert.Equal(t, []string{"java.lang.Runnable", "java.io.Serializable"}, rec.InterfaceNames)
	assert.Equal(t, "Service.java", rec.SourceFile)
	assert.Equal(t, uint16(61), rec.MajorVersion)
	assert.True(t, rec.Modifiers.Has(AccPublic))
	assert.Empty(t, rec.EnclosingClassName)
}

func TestParse_ObjectHasNoSuperclass(t *testing.T) {
	rec, err := Parse(cft.NewClass("java/lang/Object").Super("").Bytes())
	require.NoError(t, err)
	assert.Empty(t, rec.SuperclassName)
}

func TestParse_Members(t *testing.T) {
	b := cft.NewClass("com/acme/Repo")
	b.Field(cft.AccPrivate|cft.AccFinal, "items", "Ljava/util/List;").
		Signature("Ljava/util/List<Ljava/lang/String;>;")
	b.Field(cft.AccPrivate, "matrix", "[[I")
	b.Method(cft.AccPublic, "<init>", "()V")
	b.Method(cft.AccStatic, "<clinit>", "()V")
	b.Method(cft.AccPublic, "find", "(Ljava/lang/String;J)[Lcom/acme/Item;").
		Throws("java/io/IOException")
	b.Method(cft.AccPublic|cft.AccStatic, "max", "(Ljava/util/Collection;)Ljava/lang/Object;").
		Signature("<T::Ljava/lang/Comparable<-TT;>;>(Ljava/util/Collection<+TT;>;)TT;")

	rec, err := Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, rec.Members, 6)

	fields := rec.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "java.util.List", fields[0].TypeName)
	assert.Equal(t, "Ljava/util/List<Ljava/lang/String;>;", fields[0].Signature)
	assert.Equal(t, "int[][]", fields[1].TypeName)

	ctor := rec.Members[2]
	assert.Equal(t, MemberConstructor, ctor.Kind)
	assert.Equal(t, "void", ctor.TypeName)
	assert.Equal(t, MemberStaticInitializer, rec.Members[3].Kind)

	find, ok := rec.Member(MemberKey{Name: "find", Descriptor: "(Ljava/lang/String;J)[Lcom/acme/Item;"})
	require.True(t, ok)
	assert.Equal(t, MemberMethod, find.Kind)
	assert.Equal(t, []string{"java.lang.String", "long"}, find.ParameterTypeNames)
	assert.Equal(t, "com.acme.Item[]", find.TypeName)
	assert.Equal(t, []string{"java.io.IOException"}, find.ThrowsNames)

	max := rec.Members[5]
	require.Len(t, max.TypeParameters, 1)
	tp := max.TypeParameters[0]
	assert.Equal(t, "T", tp.Name)
	require.Len(t, tp.Bounds, 1)
	assert.Equal(t, "java.lang.Comparable<? super T>", tp.Bounds[0].String())
}

func TestParse_ClassSignature(t *testing.T) {
	data := cft.NewClass("com/acme/Box").
		Interfaces("java/lang/Comparable").
		Signature("<T:Ljava/lang/Number;:Ljava/io/Serializable;U:Ljava/lang/Object;>Ljava/lang/Object;Ljava/lang/Comparable<Lcom/acme/Box<TT;TU;>;>;").
		Bytes()

	rec, err := Parse(data)
	require.NoError(t, err)

	require.Len(t, rec.TypeParameters, 2)
	assert.Equal(t, "T", rec.TypeParameters[0].Name)
	require.Len(t, rec.TypeParameters[0].Bounds, 2)
	assert.Equal(t, "java.lang.Number", rec.TypeParameters[0].Bounds[0].Name)
	assert.Equal(t, "java.io.Serializable", rec.TypeParameters[0].Bounds[1].Name)
	assert.Equal(t, "U", rec.TypeParameters[1].Name)

	require.NotNil(t, rec.GenericSuperclass)
	assert.Equal(t, ObjectClassName, rec.GenericSuperclass.Name)
	require.Len(t, rec.GenericInterfaces, 1)
	assert.Equal(t, "java.lang.Comparable<com.acme.Box<T, U>>", rec.GenericInterfaces[0].String())
}

func TestParse_NestedClass(t *testing.T) {
	t.Run("member class takes InnerClasses flags", func(t *testing.T) {
		data := cft.NewClass("com/acme/Outer$Inner").
			Access(cft.AccSuper).
			InnerClass("com/acme/Outer$Inner", "com/acme/Outer", "Inner", cft.AccPrivate|cft.AccStatic).
			Bytes()
		rec, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "com.acme.Outer", rec.EnclosingClassName)
		assert.True(t, rec.Modifiers.Has(AccPrivate))
		assert.True(t, rec.Modifiers.Has(AccStatic))
		assert.False(t, rec.Modifiers.Has(AccPublic))
	})

	t.Run("entries for other classes are ignored", func(t *testing.T) {
		data := cft.NewClass("com/acme/Outer").
			InnerClass("com/acme/Outer$Inner", "com/acme/Outer", "Inner", cft.AccPrivate).
			Bytes()
		rec, err := Parse(data)
		require.NoError(t, err)
		assert.Empty(t, rec.EnclosingClassName)
		assert.True(t, rec.Modifiers.Has(AccPublic))
	})

	t.Run("local class uses EnclosingMethod", func(t *testing.T) {
		data := cft.NewClass("com/acme/Outer$1Local").
			InnerClass("com/acme/Outer$1Local", "", "Local", 0).
			EnclosingMethod("com/acme/Outer", "run", "()V").
			Bytes()
		rec, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "com.acme.Outer", rec.EnclosingClassName)
		require.NotNil(t, rec.EnclosingMethod)
		assert.Equal(t, "run()V", rec.EnclosingMethod.String())
	})

	t.Run("anonymous class in field initializer", func(t *testing.T) {
		data := cft.NewClass("com/acme/Outer$1").
			InnerClass("com/acme/Outer$1", "", "", 0).
			EnclosingMethod("com/acme/Outer", "", "").
			Bytes()
		rec, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "com.acme.Outer", rec.EnclosingClassName)
		assert.Nil(t, rec.EnclosingMethod)
	})
}

func TestParse_Annotations(t *testing.T) {
	b := cft.NewClass("com/acme/Controller").
		Annotate(cft.Annotation{
			Descriptor: "Lcom/acme/Route;",
			Visible:    true,
			Strings:    map[string]string{"path": "/users"},
			Classes:    map[string]string{"handler": "Lcom/acme/Handler;"},
		}).
		Annotate(cft.Annotation{Descriptor: "Lcom/acme/Internal;"})
	b.Method(cft.AccPublic, "get", "()V").
		Annotate(cft.Annotation{Descriptor: "Ljava/lang/Deprecated;", Visible: true})

	rec, err := Parse(b.Bytes())
	require.NoError(t, err)

	require.Len(t, rec.Annotations, 2)
	route := rec.Annotations[0]
	assert.Equal(t, "com.acme.Route", route.TypeName)
	assert.True(t, route.Visible)
	assert.Equal(t, "/users", route.Values["path"])
	assert.Equal(t, "com.acme.Handler.class", route.Values["handler"])
	assert.Equal(t, "com.acme.Internal", rec.Annotations[1].TypeName)
	assert.False(t, rec.Annotations[1].Visible)

	require.Len(t, rec.Members, 1)
	require.Len(t, rec.Members[0].Annotations, 1)
	assert.Equal(t, "java.lang.Deprecated", rec.Members[0].Annotations[0].TypeName)

	refs := rec.ReferencedClassNames()
	assert.Contains(t, refs, "com.acme.Route")
	assert.Contains(t, refs, "java.lang.Deprecated")
}

func TestParse_Accesses(t *testing.T) {
	b := cft.NewClass("com/acme/Client")
	b.Method(cft.AccPublic, "run", "()V").Code(func(c *cft.CodeBuilder) {
		c.Line(10).TypeOp(cft.OpNew, "com/acme/Target").
			Raw(0x59). // dup
			Invoke(cft.OpInvokespecial, "com/acme/Target", "<init>", "()V").
			Line(11).Invoke(cft.OpInvokevirtual, "com/acme/Target", "call", "(I)Ljava/lang/String;").
			Line(12).FieldAccess(cft.OpGetstatic, "com/acme/Config", "LIMIT", "I").
			FieldAccess(cft.OpPutfield, "com/acme/Client", "count", "I").
			Line(14).TypeOp(cft.OpCheckcast, "com/acme/Target").
			TypeOp(cft.OpInstanceof, "[Ljava/lang/String;").
			Line(15).LdcLong(42).
			LdcClass("com/acme/Marker").
			TypeOp(cft.OpAnewarray, "com/acme/Item").
			MultiNewArray("[[I", 2).
			Invoke(cft.OpInvokeinterface, "java/util/List", "size", "()I").
			Invoke(cft.OpInvokestatic, "com/acme/Util", "helper", "()V").
			Raw(cft.OpReturn)
	})

	rec, err := Parse(b.Bytes())
	require.NoError(t, err)

	origin := MemberKey{Name: "run", Descriptor: "()V"}
	want := []AccessRecord{
		{Kind: AccessConstructorCall, Origin: origin, TargetOwner: "com.acme.Target", TargetName: "<init>", TargetDescriptor: "()V", Line: 10},
		{Kind: AccessMethodCall, Origin: origin, TargetOwner: "com.acme.Target", TargetName: "call", TargetDescriptor: "(I)Ljava/lang/String;", Line: 11},
		{Kind: AccessFieldGet, Origin: origin, TargetOwner: "com.acme.Config", TargetName: "LIMIT", TargetDescriptor: "I", Line: 12},
		{Kind: AccessFieldSet, Origin: origin, TargetOwner: "com.acme.Client", TargetName: "count", TargetDescriptor: "I", Line: 12},
		{Kind: AccessCast, Origin: origin, TargetOwner: "com.acme.Target", Line: 14},
		{Kind: AccessInstanceofCheck, Origin: origin, TargetOwner: "java.lang.String[]", Line: 14},
		{Kind: AccessClassObject, Origin: origin, TargetOwner: "com.acme.Marker", Line: 15},
		{Kind: AccessInstantiation, Origin: origin, TargetOwner: "com.acme.Item[]", Line: 15},
		{Kind: AccessInstantiation, Origin: origin, TargetOwner: "int[][]", Line: 15},
		{Kind: AccessMethodCall, Origin: origin, TargetOwner: "java.util.List", TargetName: "size", TargetDescriptor: "()I", Line: 15},
		{Kind: AccessMethodCall, Origin: origin, TargetOwner: "com.acme.Util", TargetName: "helper", TargetDescriptor: "()V", Line: 15},
	}
	assert.Equal(t, want, rec.Accesses)

	refs := rec.ReferencedClassNames()
	assert.NotContains(t, refs, "com.acme.Client")
	assert.Contains(t, refs, "com.acme.Util")
	assert.Contains(t, refs, "int[][]")
}

func TestParse_AccessesWithoutLineTable(t *testing.T) {
	b := cft.NewClass("com/acme/NoDebug")
	b.Method(cft.AccPublic, "run", "()V").Code(func(c *cft.CodeBuilder) {
		c.Invoke(cft.OpInvokestatic, "com/acme/Util", "helper", "()V").Raw(cft.OpReturn)
	})
	rec, err := Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, rec.Accesses, 1)
	assert.Equal(t, 0, rec.Accesses[0].Line)
}

func TestParse_Malformed(t *testing.T) {
	valid := cft.NewClass("com/acme/Ok").Bytes()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"bad magic", []byte{0xCA, 0xFE, 0xBA, 0xBF, 0, 0, 0, 61}, ErrBadMagic},
		{"truncated after header", valid[:12], ErrTruncated},
		{"truncated in body", valid[:len(valid)-3], ErrTruncated},
		{"version too new", cft.NewClass("com/acme/Future").Version(MaxSupportedMajor + 1).Bytes(), ErrUnsupportedVersion},
		{"version too old", cft.NewClass("com/acme/Ancient").Version(44).Bytes(), ErrUnsupportedVersion},
		{"bad class signature", cft.NewClass("com/acme/Sig").Signature("Ljava/lang/Object").Bytes(), ErrBadSignature},
		{"bad descriptor", func() []byte {
			b := cft.NewClass("com/acme/Desc")
			b.Field(0, "f", "Q")
			return b.Bytes()
		}(), ErrBadDescriptor},
		{"invalid opcode", func() []byte {
			b := cft.NewClass("com/acme/Op")
			b.Method(0, "m", "()V").Code(func(c *cft.CodeBuilder) { c.Raw(0xcb) })
			return b.Bytes()
		}(), ErrBadBytecode},
		{"truncated instruction", func() []byte {
			b := cft.NewClass("com/acme/Op")
			b.Method(0, "m", "()V").Code(func(c *cft.CodeBuilder) { c.Raw(cft.OpInvokestatic, 0x00) })
			return b.Bytes()
		}(), ErrBadBytecode},
		{"invoke of non member ref", func() []byte {
			b := cft.NewClass("com/acme/Op")
			// index 1 is the Utf8 for the class's own name
			b.Method(0, "m", "()V").Code(func(c *cft.CodeBuilder) { c.Raw(cft.OpInvokestatic, 0x00, 0x01) })
			return b.Bytes()
		}(), ErrBadConstant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseEntry("file:/tmp/x.class", tt.data)
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.True(t, IsMalformed(err), "want MalformedInputError, got %T", err)
			assert.True(t, errors.Is(err, tt.want), "want %v, got %v", tt.want, err)

			var mie *MalformedInputError
			require.True(t, errors.As(err, &mie))
			assert.Equal(t, "file:/tmp/x.class", mie.Entry)
			assert.GreaterOrEqual(t, mie.Offset, 0)
		})
	}
}

func TestParse_LongConstantsTakeTwoSlots(t *testing.T) {
	b := cft.NewClass("com/acme/Consts")
	b.Method(cft.AccStatic, "<clinit>", "()V").Code(func(c *cft.CodeBuilder) {
		c.LdcLong(1 << 40).LdcDouble(3.5).LdcInt(7).LdcString("x").
			LdcClass("com/acme/AfterWide").Raw(cft.OpReturn)
	})
	rec, err := Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, rec.Accesses, 1)
	assert.Equal(t, AccessClassObject, rec.Accesses[0].Kind)
	assert.Equal(t, "com.acme.AfterWide", rec.Accesses[0].TargetOwner)
}

func TestMalformedInputError_Error(t *testing.T) {
	err := &MalformedInputError{Entry: "jar:file:/a.jar!/X.class", Offset: 8, Err: ErrTruncated}
	assert.Equal(t, "malformed input jar:file:/a.jar!/X.class at offset 8: truncated class file", err.Error())

	err = &MalformedInputError{Offset: -1, Err: ErrBadMagic}
	assert.Equal(t, "malformed input class file: not a class file", err.Error())
}
