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
	"strings"

	"cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
)

// waitLimit blocks until the limiter admits one request. A nil limiter
// admits everything.
func waitLimit(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// s3Backend is a key prefix in an S3-compatible bucket, addressed as
// s3://bucket/prefix/.
type s3Backend struct {
	client  *minio.Client
	limiter *rate.Limiter
	bucket  string
	root    string
}

func (b *s3Backend) rootURI() string            { return "s3://" + b.bucket + "/" + b.root }
func (b *s3Backend) archive() bool              { return false }
func (b *s3Backend) listingKey() (string, bool) { return "", false }

func (b *s3Backend) list(ctx context.Context) ([]string, error) {
	if err := waitLimit(ctx, b.limiter); err != nil {
		return nil, err
	}
	// The listing goroutine blocks on its channel until ctx is done.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	names := make([]string, 0, 64)
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.root,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		names = append(names, strings.TrimPrefix(obj.Key, b.root))
	}
	return names, nil
}

func (b *s3Backend) session(context.Context) (session, error) {
	return b, nil
}

func (b *s3Backend) open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := waitLimit(ctx, b.limiter); err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, b.bucket, b.root+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3NotFound(name, err)
	}
	return obj, nil
}

func (b *s3Backend) close() error { return nil }

func s3NotFound(name string, err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return &fs.PathError{Op: "open", Path: name, Err: ErrEntryNotFound}
	}
	return err
}

// gcsBackend is an object prefix in a Google Cloud Storage bucket, addressed
// as gs://bucket/prefix/.
type gcsBackend struct {
	client  *storage.Client
	limiter *rate.Limiter
	bucket  string
	root    string
}

func (b *gcsBackend) rootURI() string            { return "gs://" + b.bucket + "/" + b.root }
func (b *gcsBackend) archive() bool              { return false }
func (b *gcsBackend) listingKey() (string, bool) { return "", false }

func (b *gcsBackend) list(ctx context.Context) ([]string, error) {
	if err := waitLimit(ctx, b.limiter); err != nil {
		return nil, err
	}
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.root})
	names := make([]string, 0, 64)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		names = append(names, strings.TrimPrefix(attrs.Name, b.root))
	}
	return names, nil
}

func (b *gcsBackend) session(context.Context) (session, error) {
	return b, nil
}

func (b *gcsBackend) open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := waitLimit(ctx, b.limiter); err != nil {
		return nil, err
	}
	r, err := b.client.Bucket(b.bucket).Object(b.root + name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrEntryNotFound}
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *gcsBackend) close() error { return nil }
