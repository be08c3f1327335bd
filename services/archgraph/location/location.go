// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package location finds the binary sources an import run scans.
//
// A Location is a root (directory, archive, module archive, object-store
// prefix) plus an optional resource path inside it. Package and class
// containment is decided from the root's enumerated entry listing, never
// from filesystem existence checks: archives frequently omit directory
// entries for the packages they contain.
//
// # Thread Safety
//
// Location and Set values are immutable. Resolver is safe for concurrent
// use. A Handle is safe for concurrent Open calls until Close.
package location

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// backend is one kind of root.
type backend interface {
	// rootURI is the URI of the root itself. It always ends in '/' so that a
	// resource path can be appended directly.
	rootURI() string

	archive() bool

	// listingKey identifies one version of the listing in the shared cache.
	// Roots whose contents cannot be versioned report false and are listed
	// on every call.
	listingKey() (string, bool)

	// list returns every file entry name under the root, slash-separated and
	// relative to the root.
	list(ctx context.Context) ([]string, error)

	session(ctx context.Context) (session, error)
}

// session holds whatever open state a backend needs to read entries.
type session interface {
	open(ctx context.Context, name string) (io.ReadCloser, error)
	close() error
}

// Location is an immutable handle to a binary source.
type Location struct {
	b      backend
	prefix string
	cache  *listingCache
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool {
	return l.b == nil
}

// URI returns the location's identifier, e.g. "file:/repo/classes/com/acme/"
// or "jar:file:/libs/app.jar!/com/acme/".
func (l Location) URI() string {
	if l.b == nil {
		return ""
	}
	return l.b.rootURI() + l.prefix
}

// String implements fmt.Stringer.
func (l Location) String() string {
	return l.URI()
}

// RootURI returns the URI of the root the location lives in.
func (l Location) RootURI() string {
	if l.b == nil {
		return ""
	}
	return l.b.rootURI()
}

// Root returns the location of the root itself, without a resource path.
func (l Location) Root() Location {
	out := l
	out.prefix = ""
	return out
}

// Prefix returns the resource path inside the root, or "" for the root itself.
func (l Location) Prefix() string {
	return l.prefix
}

// IsArchive reports whether the location lives in a jar, zip or jmod archive.
func (l Location) IsArchive() bool {
	return l.b != nil && l.b.archive()
}

// LocalDir returns the local directory whose changes affect l: the
// directory itself for directory roots, the directory holding the archive
// for local archives. Object-store locations have none.
func (l Location) LocalDir() (string, bool) {
	switch b := l.b.(type) {
	case *dirBackend:
		if b.only != "" {
			return b.dir, true
		}
		return filepath.Join(b.dir, filepath.FromSlash(strings.TrimSuffix(l.prefix, "/"))), true
	case *archiveBackend:
		return filepath.Dir(b.path), true
	default:
		return "", false
	}
}

// Append returns the location narrowed to a resource path relative to l.
//
// Append("com/acme/") on "file:/repo/classes/" yields
// "file:/repo/classes/com/acme/".
func (l Location) Append(relative string) Location {
	relative = strings.TrimLeft(relative, "/")
	out := l
	switch {
	case relative == "":
	case l.prefix == "" || strings.HasSuffix(l.prefix, "/"):
		out.prefix = l.prefix + relative
	default:
		out.prefix = l.prefix + "/" + relative
	}
	return out
}

// Entries lists every entry name (relative to the root) that lies under the
// location, sorted. The returned slice may be shared and must not be modified.
func (l Location) Entries(ctx context.Context) ([]string, error) {
	all, err := l.cache.list(ctx, l.b)
	if err != nil {
		return nil, &UnreadableError{URI: l.RootURI(), Err: err}
	}
	if l.prefix == "" {
		return all, nil
	}
	var out []string
	for _, name := range all {
		if underPrefix(l.prefix, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Contains reports whether any entry of the location lies under resource,
// a slash-separated path relative to the root such as "com/acme/" or
// "com/acme/Foo.class".
func (l Location) Contains(ctx context.Context, resource string) (bool, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range entries {
		if underPrefix(resource, name) {
			return true, nil
		}
	}
	return false, nil
}

// Open prepares the location for reading. The caller must Close the handle.
func (l Location) Open(ctx context.Context) (*Handle, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := l.b.session(ctx)
	if err != nil {
		return nil, &UnreadableError{URI: l.RootURI(), Err: err}
	}
	return &Handle{loc: l, sess: sess, entries: entries}, nil
}

// underPrefix reports whether name lies under prefix, comparing whole path
// segments: "com/acme" covers "com/acme/X.class" but not "com/acmex/Y.class".
func underPrefix(prefix, name string) bool {
	if prefix == "" {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(name, prefix)
	}
	return name == prefix || strings.HasPrefix(name, prefix+"/")
}

// Handle reads entries of one opened location.
type Handle struct {
	loc     Location
	sess    session
	entries []string
}

// Location returns the opened location.
func (h *Handle) Location() Location {
	return h.loc
}

// Entries returns the entry names under the location, sorted.
func (h *Handle) Entries() []string {
	return h.entries
}

// Open returns a reader for one entry named relative to the root.
func (h *Handle) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if h.sess == nil {
		return nil, ErrHandleClosed
	}
	return h.sess.open(ctx, name)
}

// Close releases the handle's resources.
func (h *Handle) Close() error {
	if h.sess == nil {
		return nil
	}
	err := h.sess.close()
	h.sess = nil
	return err
}

// listingCache memoizes archive listings across resolutions, keyed by the
// archive's size and modification time. A nil cache lists every time.
type listingCache struct {
	c *lru.Cache[string, []string]
}

func newListingCache(size int) (*listingCache, error) {
	c, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &listingCache{c: c}, nil
}

func (lc *listingCache) list(ctx context.Context, b backend) ([]string, error) {
	key, cacheable := b.listingKey()
	if lc != nil && cacheable {
		if names, ok := lc.c.Get(key); ok {
			return names, nil
		}
	}
	names, err := b.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if lc != nil && cacheable {
		lc.c.Add(key, names)
	}
	return names, nil
}

func (lc *listingCache) purge() {
	if lc != nil {
		lc.c.Purge()
	}
}

// Set is a sorted, duplicate-free collection of locations, keyed by URI.
type Set []Location

// NewSet builds a Set from locations in any order.
func NewSet(locs ...Location) Set {
	seen := make(map[string]struct{}, len(locs))
	out := make(Set, 0, len(locs))
	for _, l := range locs {
		if l.IsZero() {
			continue
		}
		if _, dup := seen[l.URI()]; dup {
			continue
		}
		seen[l.URI()] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI() < out[j].URI() })
	return out
}

// Union returns the set of locations in s or other.
func (s Set) Union(other Set) Set {
	all := make([]Location, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewSet(all...)
}

// URIs returns the location identifiers in order.
func (s Set) URIs() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = l.URI()
	}
	return out
}

// Contains reports whether a location with the URI is in the set.
func (s Set) Contains(uri string) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].URI() >= uri })
	return i < len(s) && s[i].URI() == uri
}
