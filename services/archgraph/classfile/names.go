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
	"strings"
)

// primitiveNames maps base type descriptor characters to canonical names.
var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// IsPrimitiveName reports whether name is a primitive type or void.
func IsPrimitiveName(name string) bool {
	switch name {
	case "byte", "char", "double", "float", "int", "long", "short", "boolean", "void":
		return true
	}
	return false
}

// IsArrayName reports whether name denotes an array type in canonical form.
func IsArrayName(name string) bool {
	return strings.HasSuffix(name, "[]")
}

// ComponentName strips one array dimension: "int[][]" -> "int[]".
// Returns the name unchanged if it is not an array.
func ComponentName(name string) string {
	return strings.TrimSuffix(name, "[]")
}

// ElementName strips all array dimensions: "java.lang.String[][]" -> "java.lang.String".
func ElementName(name string) string {
	for IsArrayName(name) {
		name = ComponentName(name)
	}
	return name
}

// NormalizeClassName converts a CONSTANT_Class name to canonical form.
//
// Description:
//
//	Class constants hold either an internal binary name ("java/lang/String")
//	or, for array types, a field descriptor ("[I", "[Ljava/lang/String;").
//	Both are normalized so that every component in the pipeline sees the
//	same spelling: "java.lang.String", "int[]", "java.lang.String[]".
func NormalizeClassName(internal string) (string, error) {
	if internal == "" {
		return "", fmt.Errorf("%w: empty class name", ErrBadDescriptor)
	}
	if internal[0] == '[' {
		return FieldDescriptorToName(internal)
	}
	return strings.ReplaceAll(internal, "/", "."), nil
}

// FieldDescriptorToName converts a complete field descriptor to canonical form.
func FieldDescriptorToName(desc string) (string, error) {
	name, next, err := parseFieldType(desc, 0)
	if err != nil {
		return "", err
	}
	if next != len(desc) {
		return "", fmt.Errorf("%w: trailing data in %q", ErrBadDescriptor, desc)
	}
	return name, nil
}

// ParseMethodDescriptor splits a method descriptor into canonical parameter
// and return type names.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		var name string
		name, i, err = parseFieldType(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, name)
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("%w: unterminated parameters in %q", ErrBadDescriptor, desc)
	}
	i++ // ')'
	if desc[i:] == "V" {
		return params, "void", nil
	}
	ret, next, err := parseFieldType(desc, i)
	if err != nil {
		return nil, "", err
	}
	if next != len(desc) {
		return nil, "", fmt.Errorf("%w: trailing data in %q", ErrBadDescriptor, desc)
	}
	return params, ret, nil
}

// parseFieldType parses one field type starting at desc[i] and returns the
// canonical name and the index after it.
func parseFieldType(desc string, i int) (string, int, error) {
	dims := 0
	for i < len(desc) && desc[i] == '[' {
		dims++
		i++
	}
	if i >= len(desc) {
		return "", i, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}

	var base string
	switch c := desc[i]; c {
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 2 {
			return "", i, fmt.Errorf("%w: unterminated class type in %q", ErrBadDescriptor, desc)
		}
		base = strings.ReplaceAll(desc[i+1:i+end], "/", ".")
		i += end + 1
	case 'V':
		// void is only legal as a method return type, handled by the caller.
		return "", i, fmt.Errorf("%w: void field type in %q", ErrBadDescriptor, desc)
	default:
		p, ok := primitiveNames[c]
		if !ok {
			return "", i, fmt.Errorf("%w: unknown type %q in %q", ErrBadDescriptor, c, desc)
		}
		base = p
		i++
	}
	return base + strings.Repeat("[]", dims), i, nil
}

// SimpleNameOf returns the unqualified name of a class: the part after the
// last '.' and, for nested classes, after the last '$'.
func SimpleNameOf(className string) string {
	if IsArrayName(className) {
		return SimpleNameOf(ComponentName(className)) + "[]"
	}
	s := className
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, '$'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
