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
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// dirBackend is a directory root. When only is set, the root stands for that
// single file in dir.
type dirBackend struct {
	dir  string
	only string
}

func (d *dirBackend) rootURI() string {
	return fileURI(d.dir) + "/"
}

func (d *dirBackend) archive() bool { return false }

// Directories change between runs without a cheap version marker.
func (d *dirBackend) listingKey() (string, bool) { return "", false }

func (d *dirBackend) list(ctx context.Context) ([]string, error) {
	if d.only != "" {
		if _, err := os.Stat(filepath.Join(d.dir, d.only)); err != nil {
			return nil, err
		}
		return []string{d.only}, nil
	}

	var names []string
	err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (d *dirBackend) session(context.Context) (session, error) {
	info, err := os.Stat(d.dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: d.dir, Err: errors.New("not a directory")}
	}
	return dirSession{dir: d.dir}, nil
}

type dirSession struct {
	dir string
}

func (s dirSession) open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrEntryNotFound}
	}
	return f, err
}

func (dirSession) close() error { return nil }

// fileURI renders an absolute path as a file URI path component.
func fileURI(path string) string {
	p := filepath.ToSlash(path)
	if len(p) > 0 && p[0] != '/' {
		// Windows drive paths.
		p = "/" + p
	}
	return "file:" + p
}
