// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classfile extracts flat, unlinked structural records from compiled
// class files.
//
// # Ownership Model
//
// A ClassRecord references other classes only by fully-qualified name. Records
// are produced independently per file and never point at each other, so any
// number of files may be parsed concurrently in any order.
//
// # Thread Safety
//
// Parse is stateless and safe for concurrent use. Returned records must not be
// mutated once handed to the graph assembler.
package classfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for class file parsing.
var (
	// ErrBadMagic is returned when the input does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("not a class file")

	// ErrUnsupportedVersion is returned for class file versions outside the
	// supported major version range.
	ErrUnsupportedVersion = errors.New("unsupported class file version")

	// ErrTruncated is returned when the input ends in the middle of a structure.
	ErrTruncated = errors.New("truncated class file")

	// ErrBadConstant is returned when a constant pool reference is out of range
	// or points at a constant of the wrong kind.
	ErrBadConstant = errors.New("invalid constant pool reference")

	// ErrBadDescriptor is returned for malformed field or method descriptors.
	ErrBadDescriptor = errors.New("invalid descriptor")

	// ErrBadSignature is returned for malformed generic signatures.
	ErrBadSignature = errors.New("invalid generic signature")

	// ErrBadBytecode is returned when a method body contains an unknown opcode
	// or an instruction that runs past the end of the code array.
	ErrBadBytecode = errors.New("invalid bytecode")
)

// MalformedInputError reports a class file whose binary content is corrupt or
// uses an unsupported format version.
//
// The importer records it per class and excludes the class from the graph.
type MalformedInputError struct {
	// Entry identifies the input (usually the entry URI). May be empty.
	Entry string

	// Offset is the byte offset at which parsing failed, or -1 if unknown.
	Offset int

	// Err is the underlying cause, typically one of the sentinel errors.
	Err error
}

// Error implements error.
func (e *MalformedInputError) Error() string {
	where := e.Entry
	if where == "" {
		where = "class file"
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("malformed input %s at offset %d: %v", where, e.Offset, e.Err)
	}
	return fmt.Sprintf("malformed input %s: %v", where, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is (or wraps) a MalformedInputError.
func IsMalformed(err error) bool {
	var m *MalformedInputError
	return errors.As(err, &m)
}
