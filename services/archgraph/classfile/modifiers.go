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

import "strings"

// Modifiers is a set of JVM access flags.
//
// Several bits are overloaded between classes, fields and methods (0x0020 is
// ACC_SUPER on classes and ACC_SYNCHRONIZED on methods); the Names method
// takes the member kind into account.
type Modifiers uint16

// Access flag bits.
const (
	AccPublic       Modifiers = 0x0001
	AccPrivate      Modifiers = 0x0002
	AccProtected    Modifiers = 0x0004
	AccStatic       Modifiers = 0x0008
	AccFinal        Modifiers = 0x0010
	AccSynchronized Modifiers = 0x0020
	AccVolatile     Modifiers = 0x0040
	AccBridge       Modifiers = 0x0040
	AccTransient    Modifiers = 0x0080
	AccVarargs      Modifiers = 0x0080
	AccNative       Modifiers = 0x0100
	AccInterface    Modifiers = 0x0200
	AccAbstract     Modifiers = 0x0400
	AccStrict       Modifiers = 0x0800
	AccSynthetic    Modifiers = 0x1000
	AccAnnotation   Modifiers = 0x2000
	AccEnum         Modifiers = 0x4000
	AccModule       Modifiers = 0x8000
)

// Has reports whether all bits of flag are set.
func (m Modifiers) Has(flag Modifiers) bool {
	return m&flag == flag
}

// IsInterface reports ACC_INTERFACE.
func (m Modifiers) IsInterface() bool { return m.Has(AccInterface) }

// IsEnum reports ACC_ENUM.
func (m Modifiers) IsEnum() bool { return m.Has(AccEnum) }

// IsAnnotation reports ACC_ANNOTATION.
func (m Modifiers) IsAnnotation() bool { return m.Has(AccAnnotation) }

type flagName struct {
	flag Modifiers
	name string
}

var classFlagNames = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccInterface, "interface"},
	{AccAbstract, "abstract"}, {AccSynthetic, "synthetic"},
	{AccAnnotation, "annotation"}, {AccEnum, "enum"},
}

var fieldFlagNames = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccVolatile, "volatile"},
	{AccTransient, "transient"}, {AccSynthetic, "synthetic"}, {AccEnum, "enum"},
}

var methodFlagNames = []flagName{
	{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
	{AccStatic, "static"}, {AccFinal, "final"}, {AccSynchronized, "synchronized"},
	{AccBridge, "bridge"}, {AccVarargs, "varargs"}, {AccNative, "native"},
	{AccAbstract, "abstract"}, {AccStrict, "strict"}, {AccSynthetic, "synthetic"},
}

// ClassNames returns the modifier names interpreted as class flags.
func (m Modifiers) ClassNames() []string { return m.names(classFlagNames) }

// MemberNames returns the modifier names interpreted for the member kind.
func (m Modifiers) MemberNames(kind MemberKind) []string {
	if kind == MemberField {
		return m.names(fieldFlagNames)
	}
	return m.names(methodFlagNames)
}

func (m Modifiers) names(table []flagName) []string {
	var out []string
	for _, fn := range table {
		if m.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

// String renders class flags separated by spaces.
func (m Modifiers) String() string {
	return strings.Join(m.ClassNames(), " ")
}
