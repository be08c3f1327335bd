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

import "strings"

// JavaType is a resolved type reference.
//
// Implementations are *ClassNode (a raw or non-generic class),
// *ParameterizedType, *TypeVariable, *WildcardType and *GenericArrayType.
// Type arguments may point back at the variable being declared
// (T extends Comparable<T>); the values form a cyclic structure that is
// safe to walk only through Erasure, never by recursively following bounds.
type JavaType interface {
	// Name renders the type in source notation, e.g. "java.util.List<T>".
	Name() string

	// Erasure returns the class the type erases to.
	Erasure() *ClassNode
}

// ParameterizedType is a generic class applied to type arguments.
type ParameterizedType struct {
	raw  *ClassNode
	args []JavaType
}

// Raw returns the generic class.
func (p *ParameterizedType) Raw() *ClassNode { return p.raw }

// Arguments returns the type arguments in declaration order.
func (p *ParameterizedType) Arguments() []JavaType { return p.args }

// Name implements JavaType.
func (p *ParameterizedType) Name() string {
	args := make([]string, len(p.args))
	for i, a := range p.args {
		args[i] = a.Name()
	}
	return p.raw.Name() + "<" + strings.Join(args, ", ") + ">"
}

// Erasure implements JavaType.
func (p *ParameterizedType) Erasure() *ClassNode { return p.raw }

// TypeVariable is a generic parameter declared by a class or a method.
//
// Bounds are never empty. The first bound may be a class; further bounds
// are interfaces. A variable referenced but declared nowhere in scope is
// modeled as a free variable with the single bound java.lang.Object.
type TypeVariable struct {
	name string

	// owner is nil for free variables.
	owner *ClassNode

	// member is the declaring method's name+descriptor, empty for
	// class-level variables.
	member string

	bounds  []JavaType
	erasure *ClassNode
}

// Name implements JavaType.
func (v *TypeVariable) Name() string { return v.name }

// Owner returns the declaring class, or nil for a free variable.
func (v *TypeVariable) Owner() *ClassNode { return v.owner }

// DeclaringMember returns the declaring method as name+descriptor, or "" for
// class-level and free variables.
func (v *TypeVariable) DeclaringMember() string { return v.member }

// Bounds returns the upper bounds in declaration order.
func (v *TypeVariable) Bounds() []JavaType { return v.bounds }

// IsFree reports whether the variable was referenced without a declaration.
func (v *TypeVariable) IsFree() bool { return v.owner == nil }

// Erasure implements JavaType: the erasure of the first bound.
func (v *TypeVariable) Erasure() *ClassNode { return v.erasure }

// String renders the declaration, e.g. "T extends java.lang.Comparable<T>".
func (v *TypeVariable) String() string {
	if len(v.bounds) == 1 && v.bounds[0].Name() == objectName {
		return v.name
	}
	parts := make([]string, len(v.bounds))
	for i, b := range v.bounds {
		parts[i] = b.Name()
	}
	return v.name + " extends " + strings.Join(parts, " & ")
}

// WildcardType is "?", "? extends X" or "? super X" in a type argument.
type WildcardType struct {
	upper  []JavaType
	lower  []JavaType
	object *ClassNode
}

// UpperBounds returns the "extends" bound, empty when absent.
func (w *WildcardType) UpperBounds() []JavaType { return w.upper }

// LowerBounds returns the "super" bound, empty when absent.
func (w *WildcardType) LowerBounds() []JavaType { return w.lower }

// Name implements JavaType.
func (w *WildcardType) Name() string {
	switch {
	case len(w.upper) > 0:
		return "? extends " + w.upper[0].Name()
	case len(w.lower) > 0:
		return "? super " + w.lower[0].Name()
	default:
		return "?"
	}
}

// Erasure implements JavaType.
func (w *WildcardType) Erasure() *ClassNode {
	if len(w.upper) > 0 {
		return w.upper[0].Erasure()
	}
	return w.object
}

// GenericArrayType is an array whose component is parameterized or a type
// variable, e.g. T[] or List<String>[].
type GenericArrayType struct {
	component JavaType
	erasure   *ClassNode
}

// ComponentType returns the array component.
func (a *GenericArrayType) ComponentType() JavaType { return a.component }

// Name implements JavaType.
func (a *GenericArrayType) Name() string { return a.component.Name() + "[]" }

// Erasure implements JavaType: the array class of the component's erasure.
func (a *GenericArrayType) Erasure() *ClassNode { return a.erasure }

var (
	_ JavaType = (*ClassNode)(nil)
	_ JavaType = (*ParameterizedType)(nil)
	_ JavaType = (*TypeVariable)(nil)
	_ JavaType = (*WildcardType)(nil)
	_ JavaType = (*GenericArrayType)(nil)
)
