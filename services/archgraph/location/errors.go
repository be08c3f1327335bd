// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package location

import (
	"errors"
	"fmt"
)

// Sentinel errors for location handling.
var (
	// ErrUnsupportedScheme is returned when a URI uses a scheme no backend
	// understands.
	ErrUnsupportedScheme = errors.New("unsupported location scheme")

	// ErrEntryNotFound is returned when a handle is asked for an entry that
	// the location does not contain.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNoObjectStore is returned for s3:// or gs:// URIs when the resolver
	// was built without the matching client.
	ErrNoObjectStore = errors.New("object store client not configured")

	// ErrHandleClosed is returned when reading from a closed handle.
	ErrHandleClosed = errors.New("location handle closed")
)

// UnreadableError reports a classpath root that could not be opened or
// listed. Resolution skips such roots and reports them as warnings.
type UnreadableError struct {
	URI string
	Err error
}

// Error implements error.
func (e *UnreadableError) Error() string {
	return fmt.Sprintf("location %s unreadable: %v", e.URI, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UnreadableError) Unwrap() error {
	return e.Err
}
