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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNilRecord is reported for a nil entry in an assembly batch.
	ErrNilRecord = errors.New("graph: nil class record")

	// ErrInvalidName is reported for a record whose class name is empty,
	// primitive or an array.
	ErrInvalidName = errors.New("graph: invalid class name")

	// ErrInvalidHierarchy is reported when a class names itself, a primitive
	// or an array as a supertype.
	ErrInvalidHierarchy = errors.New("graph: invalid type hierarchy")

	// ErrUnknownOrigin is reported when an access originates from a member
	// the class does not declare.
	ErrUnknownOrigin = errors.New("graph: access from undeclared member")

	// ErrSnapshotNotFound is returned when a snapshot ID is unknown.
	ErrSnapshotNotFound = errors.New("graph: snapshot not found")
)

// CyclicEnclosureError reports a class whose enclosing-class chain loops
// back on itself.
type CyclicEnclosureError struct {
	// Class is the class whose walk detected the cycle.
	Class string

	// Chain is the walk from Class up to and including the repeated name.
	Chain []string
}

func (e *CyclicEnclosureError) Error() string {
	return fmt.Sprintf("graph: cyclic enclosing classes for %s: %s", e.Class, strings.Join(e.Chain, " -> "))
}

// FailureStage tells which pipeline step rejected a class.
type FailureStage string

const (
	// StageRead is a class file whose bytes could not be read.
	StageRead FailureStage = "read"

	// StageExtract is a class file that could not be parsed.
	StageExtract FailureStage = "extract"

	// StageAssemble is a parsed class that could not be linked.
	StageAssemble FailureStage = "assemble"
)

// Failure is one entry of an import run's failure list.
//
// A failed class is never a complete node. If other classes reference its
// name it is represented by a stub like any class outside the import.
type Failure struct {
	// ClassName is the class name when known, otherwise the name derived
	// from the entry path.
	ClassName string

	// Source is the URI of the class file.
	Source string

	Stage FailureStage

	Err error
}

func (f Failure) Error() string {
	name := f.ClassName
	if name == "" {
		name = f.Source
	}
	return fmt.Sprintf("%s %s: %v", f.Stage, name, f.Err)
}

// Unwrap returns the cause.
func (f Failure) Unwrap() error {
	return f.Err
}
