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
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

const (
	// jmodClassesDir is where module archives keep class files.
	jmodClassesDir = "classes/"

	// jmodHeaderLen is the "JM" magic plus major and minor version bytes
	// preceding the zip data of a .jmod file.
	jmodHeaderLen = 4
)

// archiveBackend is a zip-format archive on the local filesystem, optionally
// descended into archives nested inside it ("app.jar!/lib/dep.jar!/").
type archiveBackend struct {
	path   string
	nested []string
}

func (a *archiveBackend) rootURI() string {
	var sb strings.Builder
	sb.WriteString("jar:")
	sb.WriteString(fileURI(a.path))
	sb.WriteString("!/")
	for _, n := range a.nested {
		sb.WriteString(n)
		sb.WriteString("!/")
	}
	return sb.String()
}

func (a *archiveBackend) archive() bool { return true }

func (a *archiveBackend) listingKey() (string, bool) {
	info, err := os.Stat(a.path)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s@%d:%d", a.rootURI(), info.Size(), info.ModTime().UnixNano()), true
}

// jmod reports whether the innermost archive is a module archive.
func (a *archiveBackend) jmod() bool {
	inner := a.path
	if len(a.nested) > 0 {
		inner = a.nested[len(a.nested)-1]
	}
	return strings.HasSuffix(inner, ".jmod")
}

func (a *archiveBackend) list(ctx context.Context) ([]string, error) {
	s, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names, nil
}

func (a *archiveBackend) session(ctx context.Context) (session, error) {
	return a.openArchive(ctx)
}

func (a *archiveBackend) openArchive(_ context.Context) (*archiveSession, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	zr, err := openZip(f, info.Size(), len(a.nested) == 0 && a.jmod())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", a.path, err)
	}
	for i, inner := range a.nested {
		data, err := readZipEntry(zr, inner)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open nested archive %s: %w", inner, err)
		}
		last := i == len(a.nested)-1
		zr, err = openZip(bytes.NewReader(data), int64(len(data)), last && a.jmod())
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open nested archive %s: %w", inner, err)
		}
	}

	s := &archiveSession{file: f, files: make(map[string]*zip.File, len(zr.File))}
	stripClasses := a.jmod()
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := zf.Name
		if stripClasses {
			if !strings.HasPrefix(name, jmodClassesDir) {
				continue
			}
			name = strings.TrimPrefix(name, jmodClassesDir)
		}
		s.files[name] = zf
	}
	return s, nil
}

func openZip(r io.ReaderAt, size int64, jmod bool) (*zip.Reader, error) {
	if jmod {
		var magic [2]byte
		if _, err := r.ReadAt(magic[:], 0); err != nil {
			return nil, err
		}
		if magic != [2]byte{'J', 'M'} {
			return nil, fmt.Errorf("not a jmod file")
		}
		r = io.NewSectionReader(r, jmodHeaderLen, size-jmodHeaderLen)
		size -= jmodHeaderLen
	}
	return zip.NewReader(r, size)
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, zf := range zr.File {
		if zf.Name != name {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, ErrEntryNotFound
}

type archiveSession struct {
	file  *os.File
	files map[string]*zip.File
}

func (s *archiveSession) open(_ context.Context, name string) (io.ReadCloser, error) {
	zf, ok := s.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrEntryNotFound}
	}
	return zf.Open()
}

func (s *archiveSession) close() error {
	return s.file.Close()
}

// isArchivePath reports whether a filesystem path names a zip-format archive.
func isArchivePath(path string) bool {
	switch {
	case strings.HasSuffix(path, ".jar"), strings.HasSuffix(path, ".zip"),
		strings.HasSuffix(path, ".war"), strings.HasSuffix(path, ".jmod"):
		return true
	}
	return false
}
