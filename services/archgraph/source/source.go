// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source streams class file entries out of a location.
package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

const classSuffix = ".class"

// moduleDescriptor is compiled module metadata, not a class.
const moduleDescriptor = "module-info.class"

// IsClassEntry reports whether an entry name is a class file the extractor
// should see.
func IsClassEntry(name string) bool {
	if !strings.HasSuffix(name, classSuffix) {
		return false
	}
	return path.Base(name) != moduleDescriptor
}

// Option configures a Stream.
type Option func(*Stream)

// WithImportOption drops entries whose location the option excludes.
func WithImportOption(opt location.ImportOption) Option {
	return func(s *Stream) {
		if opt != nil {
			s.include = opt
		}
	}
}

// Entry is one class file of a stream.
type Entry struct {
	// Name is the entry path relative to the location's root.
	Name string

	// Location identifies the entry itself.
	Location location.Location

	handle *location.Handle
}

// URI returns the entry's location identifier.
func (e Entry) URI() string {
	return e.Location.URI()
}

// ReadAll reads the entry's content. The stream must still be open.
func (e Entry) ReadAll(ctx context.Context) ([]byte, error) {
	rc, err := e.handle.Open(ctx, e.Name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.URI(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.URI(), err)
	}
	return data, nil
}

// Stream is a lazy, single-pass sequence of class entries under one location.
//
// Description:
//
//	Entry names are taken from the location's listing when the stream is
//	opened; content is read only when Entry.ReadAll is called. A stream is
//	not restartable: once Next returns false, open a new stream to scan
//	again.
//
// Thread Safety: Next is not safe for concurrent use. ReadAll on entries
// already returned may run concurrently until Close.
type Stream struct {
	handle  *location.Handle
	root    location.Location
	names   []string
	pos     int
	include location.ImportOption
}

// Open starts a stream over the class entries of loc.
func Open(ctx context.Context, loc location.Location, opts ...Option) (*Stream, error) {
	h, err := loc.Open(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stream{handle: h, root: loc.Root()}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range h.Entries() {
		if IsClassEntry(name) {
			s.names = append(s.names, name)
		}
	}
	return s, nil
}

// Location returns the streamed location.
func (s *Stream) Location() location.Location {
	return s.handle.Location()
}

// Remaining returns the number of entries Next has not yet considered.
func (s *Stream) Remaining() int {
	return len(s.names) - s.pos
}

// Next returns the next included class entry.
func (s *Stream) Next() (Entry, bool) {
	for s.pos < len(s.names) {
		name := s.names[s.pos]
		s.pos++
		entry := Entry{Name: name, Location: s.root.Append(name), handle: s.handle}
		if s.include != nil && !s.include.Includes(entry.Location) {
			continue
		}
		return entry, true
	}
	return Entry{}, false
}

// Close releases the underlying location handle.
func (s *Stream) Close() error {
	return s.handle.Close()
}
