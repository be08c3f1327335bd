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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"
)

// DefaultListingCacheSize is the number of archive listings kept in memory.
const DefaultListingCacheSize = 256

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// ClassPath supplies the roots for InClassPath, OfPackage and OfClass.
	// Default: EnvClassPath{}.
	ClassPath ClassPathStrategy

	// ListingCacheSize bounds the number of cached archive listings.
	ListingCacheSize int

	// S3 serves s3:// locations. Nil disables them.
	S3 *minio.Client

	// GCS serves gs:// locations. Nil disables them.
	GCS *storage.Client

	// ObjectStoreRPS limits requests per second against object stores.
	// Zero means unlimited.
	ObjectStoreRPS float64

	// Logger receives warnings about skipped roots.
	Logger *slog.Logger
}

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*ResolverOptions)

// WithClassPath sets the classpath strategy.
func WithClassPath(s ClassPathStrategy) ResolverOption {
	return func(o *ResolverOptions) { o.ClassPath = s }
}

// WithListingCacheSize sets the listing cache capacity.
func WithListingCacheSize(n int) ResolverOption {
	return func(o *ResolverOptions) { o.ListingCacheSize = n }
}

// WithS3 enables s3:// locations through an S3-compatible client.
func WithS3(client *minio.Client) ResolverOption {
	return func(o *ResolverOptions) { o.S3 = client }
}

// WithGCS enables gs:// locations.
func WithGCS(client *storage.Client) ResolverOption {
	return func(o *ResolverOptions) { o.GCS = client }
}

// WithObjectStoreRPS limits object-store requests per second.
func WithObjectStoreRPS(rps float64) ResolverOption {
	return func(o *ResolverOptions) { o.ObjectStoreRPS = rps }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(o *ResolverOptions) { o.Logger = l }
}

// Resolver turns URIs, package names and class names into location sets.
//
// Description:
//
//	The classpath strategy is fixed at construction. Archive listings are
//	cached process-wide in an LRU keyed by archive path, size and
//	modification time, so a rewritten archive is listed again. Directory
//	and object-store roots are listed on every resolution.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	classPath ClassPathStrategy
	cache     *listingCache
	s3        *minio.Client
	gcs       *storage.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	options := ResolverOptions{
		ClassPath:        EnvClassPath{},
		ListingCacheSize: DefaultListingCacheSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.ClassPath == nil {
		options.ClassPath = StaticClassPath(nil)
	}

	cache, err := newListingCache(options.ListingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create listing cache: %w", err)
	}

	var limiter *rate.Limiter
	if options.ObjectStoreRPS > 0 {
		burst := int(options.ObjectStoreRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.ObjectStoreRPS), burst)
	}

	return &Resolver{
		classPath: options.ClassPath,
		cache:     cache,
		s3:        options.S3,
		gcs:       options.GCS,
		limiter:   limiter,
		logger:    options.Logger,
	}, nil
}

// Resolution is the outcome of resolving locations.
type Resolution struct {
	// Locations are the resolved locations, sorted and deduplicated.
	Locations Set

	// Warnings lists roots that were skipped because they could not be read.
	Warnings []*UnreadableError
}

// InvalidateListings drops every cached archive listing. Used when watched
// directories change.
func (r *Resolver) InvalidateListings() {
	r.cache.purge()
}

// Parse turns a URI or filesystem path into a Location.
//
// Accepted forms:
//
//	/abs/dir, rel/dir, file:/abs/dir/          directory
//	file:/abs/dir/com/acme/Foo.class           single class file
//	/libs/a.jar, file:/libs/a.jar              archive (also .zip, .war, .jmod)
//	jar:file:/libs/a.jar!/com/acme/            path inside an archive
//	jar:file:/app.jar!/lib/dep.jar!/           nested archive
//	s3://bucket/prefix/, gs://bucket/prefix/   object-store prefix
func (r *Resolver) Parse(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "jar:"):
		return r.parseJar(uri)
	case strings.HasPrefix(uri, "file:"):
		return r.parsePath(filePathOf(uri))
	case strings.HasPrefix(uri, "s3://"):
		if r.s3 == nil {
			return Location{}, fmt.Errorf("%s: %w", uri, ErrNoObjectStore)
		}
		bucket, root := splitBucket(strings.TrimPrefix(uri, "s3://"))
		return Location{b: &s3Backend{client: r.s3, limiter: r.limiter, bucket: bucket, root: root}, cache: r.cache}, nil
	case strings.HasPrefix(uri, "gs://"):
		if r.gcs == nil {
			return Location{}, fmt.Errorf("%s: %w", uri, ErrNoObjectStore)
		}
		bucket, root := splitBucket(strings.TrimPrefix(uri, "gs://"))
		return Location{b: &gcsBackend{client: r.gcs, limiter: r.limiter, bucket: bucket, root: root}, cache: r.cache}, nil
	case hasScheme(uri):
		return Location{}, fmt.Errorf("%s: %w", uri, ErrUnsupportedScheme)
	default:
		return r.parsePath(uri)
	}
}

func (r *Resolver) parseJar(uri string) (Location, error) {
	parts := strings.Split(strings.TrimPrefix(uri, "jar:"), "!/")
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "file:") {
		return Location{}, fmt.Errorf("%s: %w: expected jar:file:...!/", uri, ErrUnsupportedScheme)
	}
	path, err := filepath.Abs(filepath.FromSlash(filePathOf(parts[0])))
	if err != nil {
		return Location{}, err
	}
	b := &archiveBackend{path: path, nested: parts[1 : len(parts)-1]}
	loc := Location{b: b, cache: r.cache}
	return loc.Append(parts[len(parts)-1]), nil
}

func (r *Resolver) parsePath(p string) (Location, error) {
	abs, err := filepath.Abs(filepath.FromSlash(p))
	if err != nil {
		return Location{}, err
	}
	if isArchivePath(abs) {
		return Location{b: &archiveBackend{path: abs}, cache: r.cache}, nil
	}
	if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
		dir, base := filepath.Split(abs)
		dir = filepath.Clean(dir)
		return Location{b: &dirBackend{dir: dir, only: base}, prefix: base, cache: r.cache}, nil
	}
	return Location{b: &dirBackend{dir: abs}, cache: r.cache}, nil
}

// Of resolves explicit URIs. URIs that cannot be parsed are reported as
// warnings.
func (r *Resolver) Of(ctx context.Context, uris ...string) Resolution {
	var res Resolution
	locs := make([]Location, 0, len(uris))
	for _, uri := range uris {
		loc, err := r.Parse(uri)
		if err != nil {
			res.Warnings = append(res.Warnings, r.warn(uri, err))
			continue
		}
		locs = append(locs, loc)
	}
	res.Locations = NewSet(locs...)
	return res
}

// InClassPath resolves every readable classpath root.
func (r *Resolver) InClassPath(ctx context.Context) Resolution {
	roots, res := r.roots(ctx)
	locs := make([]Location, 0, len(roots))
	for _, root := range roots {
		if _, err := root.Entries(ctx); err != nil {
			res.Warnings = append(res.Warnings, r.warn(root.URI(), err))
			continue
		}
		locs = append(locs, root)
	}
	res.Locations = NewSet(locs...)
	return res
}

// OfPackage resolves the classpath locations containing a package.
//
// Description:
//
//	The package name is turned into a resource prefix ("com.acme" ->
//	"com/acme/") and every root whose entry listing has an entry under that
//	prefix contributes root.Append(prefix). The empty package matches every
//	root. Sub-packages are included, as they lie under the prefix.
func (r *Resolver) OfPackage(ctx context.Context, pkg string) Resolution {
	prefix := PackageResource(pkg)
	return r.containing(ctx, prefix)
}

// OfClass resolves the classpath locations of one class file.
func (r *Resolver) OfClass(ctx context.Context, className string) Resolution {
	return r.containing(ctx, ClassResource(className))
}

func (r *Resolver) containing(ctx context.Context, resource string) Resolution {
	roots, res := r.roots(ctx)
	locs := make([]Location, 0, len(roots))
	for _, root := range roots {
		found, err := root.Contains(ctx, resource)
		if err != nil {
			res.Warnings = append(res.Warnings, r.warn(root.URI(), err))
			continue
		}
		if found {
			locs = append(locs, root.Append(resource))
		}
	}
	res.Locations = NewSet(locs...)
	return res
}

// roots parses the classpath. Entries that cannot be parsed become warnings.
func (r *Resolver) roots(ctx context.Context) ([]Location, Resolution) {
	var res Resolution
	uris, err := r.classPath.Roots(ctx)
	if err != nil {
		res.Warnings = append(res.Warnings, r.warn("classpath", err))
		return nil, res
	}
	roots := make([]Location, 0, len(uris))
	for _, uri := range uris {
		loc, err := r.Parse(uri)
		if err != nil {
			res.Warnings = append(res.Warnings, r.warn(uri, err))
			continue
		}
		roots = append(roots, loc)
	}
	return roots, res
}

func (r *Resolver) warn(uri string, err error) *UnreadableError {
	var ue *UnreadableError
	if !errors.As(err, &ue) {
		ue = &UnreadableError{URI: uri, Err: err}
	}
	r.logger.Warn("skipping unreadable location",
		slog.String("location", ue.URI),
		slog.String("error", ue.Err.Error()),
	)
	return ue
}

// PackageResource converts a package name to its resource prefix.
func PackageResource(pkg string) string {
	if pkg == "" {
		return ""
	}
	return strings.ReplaceAll(pkg, ".", "/") + "/"
}

// ClassResource converts a class name to its class file resource path.
func ClassResource(className string) string {
	return strings.ReplaceAll(className, ".", "/") + ".class"
}

func filePathOf(uri string) string {
	p := strings.TrimPrefix(uri, "file:")
	if strings.HasPrefix(p, "//") {
		// file://host/path; only the local host is supported.
		p = p[2:]
		if i := strings.IndexByte(p, '/'); i > 0 {
			p = p[i:]
		}
	}
	return p
}

func splitBucket(rest string) (bucket, root string) {
	bucket, root, _ = strings.Cut(rest, "/")
	if root != "" && !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return bucket, root
}

func hasScheme(uri string) bool {
	if filepath.VolumeName(uri) != "" {
		return false
	}
	i := strings.Index(uri, "://")
	j := strings.IndexByte(uri, ':')
	return i > 0 || (j > 0 && !strings.ContainsAny(uri[:j], `/\`))
}
