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
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zipBytes builds a zip archive in memory. Only the given entries are written,
// no directory entries.
func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write(entries[n])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestResolver(t *testing.T, roots ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(
		WithClassPath(StaticClassPath(roots)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return r
}

func readEntry(t *testing.T, h *Handle, name string) string {
	t.Helper()
	rc, err := h.Open(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestResolver_Parse(t *testing.T) {
	dir := t.TempDir()
	classFile := filepath.Join(dir, "com", "acme", "Foo.class")
	writeFile(t, classFile, []byte("x"))
	r := newTestResolver(t)

	t.Run("directory", func(t *testing.T) {
		loc, err := r.Parse(dir)
		require.NoError(t, err)
		assert.Equal(t, fileURI(dir)+"/", loc.URI())
		assert.False(t, loc.IsArchive())
		assert.Equal(t, "", loc.Prefix())
	})

	t.Run("file URI of directory", func(t *testing.T) {
		loc, err := r.Parse("file:" + filepath.ToSlash(dir) + "/")
		require.NoError(t, err)
		assert.Equal(t, fileURI(dir)+"/", loc.URI())
	})

	t.Run("single class file", func(t *testing.T) {
		loc, err := r.Parse(classFile)
		require.NoError(t, err)
		assert.Equal(t, fileURI(classFile), loc.URI())
		entries, err := loc.Entries(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Foo.class"}, entries)
	})

	t.Run("archive path", func(t *testing.T) {
		loc, err := r.Parse("/libs/app.jar")
		require.NoError(t, err)
		assert.Equal(t, "jar:file:/libs/app.jar!/", loc.URI())
		assert.True(t, loc.IsArchive())
	})

	t.Run("jar URI with nested archive and prefix", func(t *testing.T) {
		loc, err := r.Parse("jar:file:/libs/app.jar!/BOOT-INF/lib/dep.jar!/com/acme/")
		require.NoError(t, err)
		assert.Equal(t, "jar:file:/libs/app.jar!/BOOT-INF/lib/dep.jar!/com/acme/", loc.URI())
		assert.Equal(t, "jar:file:/libs/app.jar!/BOOT-INF/lib/dep.jar!/", loc.RootURI())
		assert.Equal(t, "com/acme/", loc.Prefix())
	})

	t.Run("object store without client", func(t *testing.T) {
		_, err := r.Parse("s3://bucket/classes/")
		assert.ErrorIs(t, err, ErrNoObjectStore)
		_, err = r.Parse("gs://bucket/classes/")
		assert.ErrorIs(t, err, ErrNoObjectStore)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := r.Parse("ftp://host/classes/")
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
		_, err = r.Parse("jar:http://host/a.jar!/")
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
	})
}

func TestLocation_Append(t *testing.T) {
	r := newTestResolver(t)
	root, err := r.Parse("jar:file:/libs/a.jar!/")
	require.NoError(t, err)

	pkg := root.Append("com/acme/")
	assert.Equal(t, "jar:file:/libs/a.jar!/com/acme/", pkg.URI())
	assert.Equal(t, "jar:file:/libs/a.jar!/com/acme/Foo.class", pkg.Append("Foo.class").URI())
	assert.Equal(t, "jar:file:/libs/a.jar!/com/acme/x", root.Append("com/acme").Append("/x").URI())
	assert.Equal(t, root.URI(), root.Append("").URI())
}

func TestLocation_LocalDir(t *testing.T) {
	r := newTestResolver(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "com", "acme", "Foo.class"), []byte{0xCA})

	tests := []struct {
		name string
		uri  string
		want string
		ok   bool
	}{
		{"directory root", "file:" + filepath.ToSlash(dir) + "/", dir, true},
		{"package inside directory", "", filepath.Join(dir, "com", "acme"), true},
		{"single class file", "file:" + filepath.ToSlash(filepath.Join(dir, "com", "acme", "Foo.class")), filepath.Join(dir, "com", "acme"), true},
		{"archive", "jar:file:/libs/a.jar!/com/", "/libs", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var loc Location
			if tt.uri == "" {
				root, err := r.Parse(dir)
				require.NoError(t, err)
				loc = root.Append("com/acme/")
			} else {
				var err error
				loc, err = r.Parse(tt.uri)
				require.NoError(t, err)
			}
			got, ok := loc.LocalDir()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("zero location", func(t *testing.T) {
		_, ok := Location{}.LocalDir()
		assert.False(t, ok)
	})
}

func TestUnderPrefix(t *testing.T) {
	assert.True(t, underPrefix("", "a/B.class"))
	assert.True(t, underPrefix("a/b/", "a/b/C.class"))
	assert.True(t, underPrefix("a/b/", "a/b/c/D.class"))
	assert.False(t, underPrefix("a/b/", "a/bc/D.class"))
	assert.True(t, underPrefix("a/b", "a/b/C.class"))
	assert.False(t, underPrefix("a/b", "a/bc/D.class"))
	assert.True(t, underPrefix("a/b/C.class", "a/b/C.class"))
	assert.False(t, underPrefix("a/b/C.class", "a/b/C.classx"))
}

func TestOfPackage_ArchiveWithoutDirectoryEntries(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "lib.jar")
	writeFile(t, jar, zipBytes(t, map[string][]byte{
		"a/b/C.class":          []byte("c"),
		"a/bc/D.class":         []byte("d"),
		"META-INF/MANIFEST.MF": []byte("m"),
	}))
	r := newTestResolver(t, jar)

	res := r.OfPackage(context.Background(), "a.b")
	require.Empty(t, res.Warnings)
	require.Len(t, res.Locations, 1)
	assert.Equal(t, "jar:file:"+filepath.ToSlash(jar)+"!/a/b/", res.Locations[0].URI())

	entries, err := res.Locations[0].Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/C.class"}, entries)

	assert.Empty(t, r.OfPackage(context.Background(), "a.x").Locations)
}

func TestOfPackage_MultipleRootsStableSet(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	writeFile(t, filepath.Join(classes, "com", "acme", "A.class"), []byte("a"))
	jar := filepath.Join(dir, "dep.jar")
	writeFile(t, jar, zipBytes(t, map[string][]byte{"com/acme/util/U.class": []byte("u")}))
	other := filepath.Join(dir, "other")
	writeFile(t, filepath.Join(other, "org", "x", "X.class"), []byte("x"))

	r1 := newTestResolver(t, jar, classes, other, classes)
	r2 := newTestResolver(t, other, classes, jar)

	res1 := r1.OfPackage(context.Background(), "com.acme")
	res2 := r2.OfPackage(context.Background(), "com.acme")
	require.Len(t, res1.Locations, 2)
	assert.Equal(t, res1.Locations.URIs(), res2.Locations.URIs())
	assert.True(t, res1.Locations.Contains(fileURI(classes)+"/com/acme/"))

	again := r1.OfPackage(context.Background(), "com.acme")
	assert.Equal(t, res1.Locations.URIs(), again.Locations.URIs())
}

func TestOfClass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "com", "acme", "Outer$Inner.class"), []byte("i"))
	writeFile(t, filepath.Join(dir, "com", "acme", "Outer.class"), []byte("o"))
	r := newTestResolver(t, dir)

	res := r.OfClass(context.Background(), "com.acme.Outer$Inner")
	require.Len(t, res.Locations, 1)
	assert.Equal(t, fileURI(dir)+"/com/acme/Outer$Inner.class", res.Locations[0].URI())

	assert.Empty(t, r.OfClass(context.Background(), "com.acme.Missing").Locations)
}

func TestInClassPath_UnreadableRootIsWarning(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "classes")
	writeFile(t, filepath.Join(good, "A.class"), []byte("a"))
	missing := filepath.Join(dir, "missing.jar")
	corrupt := filepath.Join(dir, "corrupt.jar")
	writeFile(t, corrupt, []byte("not a zip"))

	r := newTestResolver(t, good, missing, corrupt, "ftp://nope/")
	res := r.InClassPath(context.Background())

	require.Len(t, res.Locations, 1)
	assert.Equal(t, fileURI(good)+"/", res.Locations[0].URI())
	require.Len(t, res.Warnings, 3)
	for _, w := range res.Warnings {
		assert.NotEmpty(t, w.URI)
		assert.Error(t, w.Err)
	}

	pkg := r.OfPackage(context.Background(), "")
	assert.Len(t, pkg.Locations, 1)
	assert.Len(t, pkg.Warnings, 3)
}

func TestHandle_ReadArchives(t *testing.T) {
	dir := t.TempDir()
	inner := zipBytes(t, map[string][]byte{"com/acme/Dep.class": []byte("dep")})
	outer := filepath.Join(dir, "app.jar")
	writeFile(t, outer, zipBytes(t, map[string][]byte{
		"com/acme/App.class":   []byte("app"),
		"BOOT-INF/lib/dep.jar": inner,
	}))

	jmod := filepath.Join(dir, "acme.jmod")
	jmodData := append([]byte{'J', 'M', 1, 0}, zipBytes(t, map[string][]byte{
		"classes/com/acme/Mod.class": []byte("mod"),
		"classes/module-info.class":  []byte("mi"),
		"conf/acme.properties":       []byte("p"),
	})...)
	writeFile(t, jmod, jmodData)

	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("outer archive", func(t *testing.T) {
		loc, err := r.Parse(outer)
		require.NoError(t, err)
		h, err := loc.Open(ctx)
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, []string{"BOOT-INF/lib/dep.jar", "com/acme/App.class"}, h.Entries())
		assert.Equal(t, "app", readEntry(t, h, "com/acme/App.class"))
	})

	t.Run("nested archive", func(t *testing.T) {
		loc, err := r.Parse("jar:file:" + filepath.ToSlash(outer) + "!/BOOT-INF/lib/dep.jar!/")
		require.NoError(t, err)
		h, err := loc.Open(ctx)
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, []string{"com/acme/Dep.class"}, h.Entries())
		assert.Equal(t, "dep", readEntry(t, h, "com/acme/Dep.class"))
	})

	t.Run("module archive strips classes dir", func(t *testing.T) {
		loc, err := r.Parse(jmod)
		require.NoError(t, err)
		h, err := loc.Open(ctx)
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, []string{"com/acme/Mod.class", "module-info.class"}, h.Entries())
		assert.Equal(t, "mod", readEntry(t, h, "com/acme/Mod.class"))
	})

	t.Run("missing entry", func(t *testing.T) {
		loc, err := r.Parse(outer)
		require.NoError(t, err)
		h, err := loc.Open(ctx)
		require.NoError(t, err)
		_, err = h.Open(ctx, "nope.class")
		assert.True(t, errors.Is(err, ErrEntryNotFound))
		require.NoError(t, h.Close())
		_, err = h.Open(ctx, "com/acme/App.class")
		assert.ErrorIs(t, err, ErrHandleClosed)
	})
}

func TestResolver_ListingCache(t *testing.T) {
	ctx := context.Background()

	t.Run("directories are listed every time", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a", "A.class"), []byte("a"))
		r := newTestResolver(t, dir)

		require.Len(t, r.OfPackage(ctx, "a").Locations, 1)
		assert.Empty(t, r.OfPackage(ctx, "b").Locations)

		writeFile(t, filepath.Join(dir, "b", "B.class"), []byte("b"))
		assert.Len(t, r.OfPackage(ctx, "b").Locations, 1)
	})

	t.Run("archives are keyed by size and modification time", func(t *testing.T) {
		jar := filepath.Join(t.TempDir(), "lib.jar")
		writeFile(t, jar, zipBytes(t, map[string][]byte{"a/A.class": []byte("a")}))
		r := newTestResolver(t, jar)
		require.Len(t, r.OfPackage(ctx, "a").Locations, 1)

		info, err := os.Stat(jar)
		require.NoError(t, err)

		// Same size and modification time: the cached listing is served.
		writeFile(t, jar, zipBytes(t, map[string][]byte{"b/B.class": []byte("b")}))
		require.NoError(t, os.Chtimes(jar, info.ModTime(), info.ModTime()))
		assert.Empty(t, r.OfPackage(ctx, "b").Locations)

		writeFile(t, jar, zipBytes(t, map[string][]byte{
			"b/B.class": []byte("b"),
			"c/C.class": []byte("c"),
		}))
		assert.Len(t, r.OfPackage(ctx, "b").Locations, 1)
		assert.Len(t, r.OfPackage(ctx, "c").Locations, 1)

		r.InvalidateListings()
		assert.Empty(t, r.OfPackage(ctx, "a").Locations)
	})
}

func TestSet(t *testing.T) {
	r := newTestResolver(t)
	a, _ := r.Parse("jar:file:/x/a.jar!/")
	b, _ := r.Parse("jar:file:/x/b.jar!/")
	a2, _ := r.Parse("/x/a.jar")

	s := NewSet(b, a, a2, Location{})
	assert.Equal(t, []string{"jar:file:/x/a.jar!/", "jar:file:/x/b.jar!/"}, s.URIs())
	assert.True(t, s.Contains("jar:file:/x/b.jar!/"))
	assert.False(t, s.Contains("jar:file:/x/c.jar!/"))

	c, _ := r.Parse("/x/c.jar")
	assert.Len(t, s.Union(NewSet(c, a)), 3)
}

func TestClassPathStrategies(t *testing.T) {
	dir := t.TempDir()
	libs := filepath.Join(dir, "libs")
	writeFile(t, filepath.Join(libs, "b.jar"), []byte("b"))
	writeFile(t, filepath.Join(libs, "a.JAR"), []byte("a"))
	writeFile(t, filepath.Join(libs, "notes.txt"), []byte("n"))

	roots, err := StaticClassPath{"classes", libs + "/*", " ", filepath.Join(dir, "none") + "/*"}.Roots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"classes", filepath.Join(libs, "a.JAR"), filepath.Join(libs, "b.jar")}, roots)

	t.Setenv("ARCHGRAPH_TEST_CP", "one"+string(os.PathListSeparator)+"two")
	roots, err = EnvClassPath{Var: "ARCHGRAPH_TEST_CP"}.Roots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, roots)

	t.Setenv("ARCHGRAPH_TEST_CP", "")
	roots, err = EnvClassPath{Var: "ARCHGRAPH_TEST_CP"}.Roots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestImportOptions(t *testing.T) {
	r := newTestResolver(t)
	mustParse := func(uri string) Location {
		loc, err := r.Parse(uri)
		require.NoError(t, err)
		return loc
	}

	mainClass := mustParse("file:/repo/target/classes/").Append("com/acme/A.class")
	mavenTest := mustParse("file:/repo/target/test-classes/").Append("com/acme/ATest.class")
	gradleTest := mustParse("file:/repo/build/classes/java/test/").Append("com/acme/ATest.class")
	ideaTest := mustParse("file:/repo/out/test/").Append("com/acme/ATest.class")
	archived := mustParse("/libs/dep.jar").Append("com/dep/D.class")

	assert.True(t, DoNotIncludeTests.Includes(mainClass))
	assert.False(t, DoNotIncludeTests.Includes(mavenTest))
	assert.False(t, DoNotIncludeTests.Includes(gradleTest))
	assert.False(t, DoNotIncludeTests.Includes(ideaTest))

	assert.True(t, DoNotIncludeArchives.Includes(mainClass))
	assert.False(t, DoNotIncludeArchives.Includes(archived))

	exclude, err := ExcludePatterns(`.*/generated/.*`)
	require.NoError(t, err)
	gen := mustParse("file:/repo/target/classes/").Append("com/acme/generated/G.class")
	opts := ImportOptions{DoNotIncludeTests, exclude}
	assert.True(t, opts.Includes(mainClass))
	assert.False(t, opts.Includes(gen))
	assert.False(t, opts.Includes(mavenTest))

	_, err = ExcludePatterns("(")
	assert.Error(t, err)

	opt, ok := ImportOptionByName("do_not_include_archives")
	require.True(t, ok)
	assert.False(t, opt.Includes(archived))
	_, ok = ImportOptionByName("nope")
	assert.False(t, ok)
}
