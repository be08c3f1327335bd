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
	"fmt"
	"sort"
	"strings"
)

// ObjectClassName is the root of the class hierarchy. It is the only class
// without a superclass and the implicit bound of unbounded type variables.
const ObjectClassName = "java.lang.Object"

// Special member names defined by the class file format.
const (
	ConstructorName       = "<init>"
	StaticInitializerName = "<clinit>"
)

// ClassRecord is the unlinked structural description of one class file.
//
// Description:
//
//	All references to other classes are fully-qualified names in canonical
//	form (see NormalizeClassName). Slices preserve declaration order.
//
// Thread Safety: Immutable after Parse returns.
type ClassRecord struct {
	// Name is the fully-qualified class name, e.g. "com.acme.Outer$Inner".
	Name string `json:"name"`

	// Modifiers are the class access flags. For nested classes the flags from
	// the InnerClasses attribute replace the header flags.
	Modifiers Modifiers `json:"modifiers"`

	// MajorVersion is the class file major version.
	MajorVersion uint16 `json:"major_version"`

	// SuperclassName is empty only for java.lang.Object (and module-info).
	SuperclassName string `json:"superclass,omitempty"`

	// InterfaceNames lists directly implemented interfaces in order.
	InterfaceNames []string `json:"interfaces,omitempty"`

	// EnclosingClassName is empty for top-level classes.
	EnclosingClassName string `json:"enclosing_class,omitempty"`

	// EnclosingMethod is set for local and anonymous classes declared inside a
	// method body.
	EnclosingMethod *MemberKey `json:"enclosing_method,omitempty"`

	// SourceFile is the SourceFile attribute value, e.g. "Outer.java".
	SourceFile string `json:"source_file,omitempty"`

	// TypeParameters are the generic parameters declared by the class.
	// Empty when the class has no generic signature.
	TypeParameters []TypeParameterDecl `json:"type_parameters,omitempty"`

	// GenericSuperclass is the parameterized superclass from the class
	// signature. Nil when the class has no generic signature.
	GenericSuperclass *TypeSignature `json:"generic_superclass,omitempty"`

	// GenericInterfaces are the parameterized interfaces from the class
	// signature, parallel to InterfaceNames. Nil without a signature.
	GenericInterfaces []TypeSignature `json:"generic_interfaces,omitempty"`

	// Members lists fields first, then methods, each in declaration order.
	Members []MemberRecord `json:"members,omitempty"`

	// Annotations are the class-level annotations.
	Annotations []AnnotationRecord `json:"annotations,omitempty"`

	// Accesses lists every access performed by the class's method bodies.
	Accesses []AccessRecord `json:"accesses,omitempty"`
}

// PackageName returns the package part of the class name.
func (r *ClassRecord) PackageName() string {
	return PackageOf(r.Name)
}

// Fields returns the field members.
func (r *ClassRecord) Fields() []MemberRecord {
	var out []MemberRecord
	for _, m := range r.Members {
		if m.Kind == MemberField {
			out = append(out, m)
		}
	}
	return out
}

// Member finds a member by name and descriptor.
func (r *ClassRecord) Member(key MemberKey) (MemberRecord, bool) {
	for _, m := range r.Members {
		if m.Name == key.Name && m.Descriptor == key.Descriptor {
			return m, true
		}
	}
	return MemberRecord{}, false
}

// ReferencedClassNames returns every class name the record refers to, sorted
// and deduplicated, excluding the record's own name.
//
// This is the set of names the assembler will resolve to nodes, and the set
// the importer may try to load when resolving missing dependencies.
func (r *ClassRecord) ReferencedClassNames() []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" && name != r.Name {
			seen[name] = struct{}{}
		}
	}

	add(r.SuperclassName)
	for _, n := range r.InterfaceNames {
		add(n)
	}
	add(r.EnclosingClassName)
	for _, tp := range r.TypeParameters {
		for _, b := range tp.Bounds {
			b.collectClassNames(add)
		}
	}
	if r.GenericSuperclass != nil {
		r.GenericSuperclass.collectClassNames(add)
	}
	for _, gi := range r.GenericInterfaces {
		gi.collectClassNames(add)
	}
	for _, a := range r.Annotations {
		add(a.TypeName)
	}
	for _, m := range r.Members {
		add(m.TypeName)
		for _, p := range m.ParameterTypeNames {
			add(p)
		}
		for _, t := range m.ThrowsNames {
			add(t)
		}
		for _, tp := range m.TypeParameters {
			for _, b := range tp.Bounds {
				b.collectClassNames(add)
			}
		}
		for _, a := range m.Annotations {
			add(a.TypeName)
		}
	}
	for _, acc := range r.Accesses {
		add(acc.TargetOwner)
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MemberKind distinguishes the kinds of class members.
type MemberKind int

const (
	// MemberField is a field.
	MemberField MemberKind = iota

	// MemberMethod is a regular method.
	MemberMethod

	// MemberConstructor is an instance initializer ("<init>").
	MemberConstructor

	// MemberStaticInitializer is the class initializer ("<clinit>").
	MemberStaticInitializer
)

// String returns the string representation of the MemberKind.
func (k MemberKind) String() string {
	switch k {
	case MemberField:
		return "field"
	case MemberMethod:
		return "method"
	case MemberConstructor:
		return "constructor"
	case MemberStaticInitializer:
		return "static_initializer"
	default:
		return "unknown"
	}
}

// MemberKey identifies a member within its owner.
type MemberKey struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// String renders the key as name+descriptor.
func (k MemberKey) String() string {
	return k.Name + k.Descriptor
}

// MemberRecord describes one field or method.
type MemberRecord struct {
	Kind MemberKind `json:"kind"`

	Name string `json:"name"`

	// Descriptor is the raw JVM descriptor, e.g. "(ILjava/lang/String;)V".
	Descriptor string `json:"descriptor"`

	// Signature is the raw generic signature, empty if absent.
	Signature string `json:"signature,omitempty"`

	Modifiers Modifiers `json:"modifiers"`

	// TypeName is the field type, or the method return type ("void" for void).
	TypeName string `json:"type"`

	// ParameterTypeNames are the erased parameter types of a method.
	ParameterTypeNames []string `json:"parameters,omitempty"`

	// ThrowsNames are the declared checked exceptions of a method.
	ThrowsNames []string `json:"throws,omitempty"`

	// TypeParameters are the generic parameters declared by a method.
	TypeParameters []TypeParameterDecl `json:"type_parameters,omitempty"`

	Annotations []AnnotationRecord `json:"annotations,omitempty"`
}

// Key returns the member's identity within its owner.
func (m MemberRecord) Key() MemberKey {
	return MemberKey{Name: m.Name, Descriptor: m.Descriptor}
}

// TypeParameterDecl is a generic type parameter with its ordered bounds.
//
// Bounds are never empty: a parameter declared without bounds gets the single
// implicit bound java.lang.Object.
type TypeParameterDecl struct {
	Name   string          `json:"name"`
	Bounds []TypeSignature `json:"bounds"`
}

// AnnotationRecord describes one annotation usage.
type AnnotationRecord struct {
	// TypeName is the annotation type.
	TypeName string `json:"type"`

	// Visible is true for RuntimeVisibleAnnotations.
	Visible bool `json:"visible"`

	// Values holds element values rendered as strings, keyed by element name.
	Values map[string]string `json:"values,omitempty"`
}

// AccessKind classifies an access performed by a method body.
type AccessKind int

const (
	// AccessMethodCall is invokevirtual/invokestatic/invokeinterface, or
	// invokespecial on a non-constructor.
	AccessMethodCall AccessKind = iota

	// AccessConstructorCall is invokespecial on "<init>".
	AccessConstructorCall

	// AccessFieldGet is getfield/getstatic.
	AccessFieldGet

	// AccessFieldSet is putfield/putstatic.
	AccessFieldSet

	// AccessInstanceofCheck is instanceof.
	AccessInstanceofCheck

	// AccessCast is checkcast.
	AccessCast

	// AccessInstantiation is anewarray or multianewarray. Object creation
	// via new is reported through the following constructor call.
	AccessInstantiation

	// AccessClassObject is ldc of a class constant (Foo.class).
	AccessClassObject
)

// String returns the string representation of the AccessKind.
func (k AccessKind) String() string {
	switch k {
	case AccessMethodCall:
		return "method_call"
	case AccessConstructorCall:
		return "constructor_call"
	case AccessFieldGet:
		return "field_get"
	case AccessFieldSet:
		return "field_set"
	case AccessInstanceofCheck:
		return "instanceof_check"
	case AccessCast:
		return "cast"
	case AccessInstantiation:
		return "instantiation"
	case AccessClassObject:
		return "class_object"
	default:
		return "unknown"
	}
}

// ParseAccessKind is the inverse of AccessKind.String.
func ParseAccessKind(s string) (AccessKind, error) {
	for k := AccessMethodCall; k <= AccessClassObject; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown access kind %q", s)
}

// TargetsMember reports whether accesses of this kind name a member of the
// target class rather than the class itself.
func (k AccessKind) TargetsMember() bool {
	switch k {
	case AccessMethodCall, AccessConstructorCall, AccessFieldGet, AccessFieldSet:
		return true
	default:
		return false
	}
}

// AccessRecord is one instruction-level access in a method body.
type AccessRecord struct {
	Kind AccessKind `json:"kind"`

	// Origin is the method containing the instruction.
	Origin MemberKey `json:"origin"`

	// TargetOwner is the class that owns the target.
	TargetOwner string `json:"target_owner"`

	// TargetName and TargetDescriptor name the target member. Both are empty
	// for class-level accesses (casts, instanceof, class objects, new).
	TargetName       string `json:"target_name,omitempty"`
	TargetDescriptor string `json:"target_descriptor,omitempty"`

	// Line is the source line, or 0 when no LineNumberTable is present.
	Line int `json:"line"`
}

// Target returns the target member key.
func (a AccessRecord) Target() MemberKey {
	return MemberKey{Name: a.TargetName, Descriptor: a.TargetDescriptor}
}

// PackageOf returns the package part of a fully-qualified class name.
// Array and primitive names have no package.
func PackageOf(className string) string {
	if strings.HasSuffix(className, "[]") || IsPrimitiveName(className) {
		return ""
	}
	if i := strings.LastIndexByte(className, '.'); i >= 0 {
		return className[:i]
	}
	return ""
}
