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
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultClassPathVar is the environment variable EnvClassPath reads.
const DefaultClassPathVar = "CLASSPATH"

// ClassPathStrategy supplies the classpath roots visible to a process.
//
// A strategy is chosen once when the Resolver is built and is not changed
// afterwards.
type ClassPathStrategy interface {
	// Roots returns root URIs or filesystem paths in classpath order.
	Roots(ctx context.Context) ([]string, error)
}

// StaticClassPath is a fixed list of roots. Entries ending in "/*" expand to
// every jar in that directory, as on a JVM command line.
type StaticClassPath []string

// Roots implements ClassPathStrategy.
func (s StaticClassPath) Roots(context.Context) ([]string, error) {
	return expandClassPath(s)
}

// EnvClassPath reads roots from an environment variable separated by the
// platform list separator.
type EnvClassPath struct {
	// Var defaults to CLASSPATH.
	Var string
}

// Roots implements ClassPathStrategy.
func (e EnvClassPath) Roots(context.Context) ([]string, error) {
	name := e.Var
	if name == "" {
		name = DefaultClassPathVar
	}
	value := os.Getenv(name)
	if value == "" {
		return nil, nil
	}
	return expandClassPath(filepath.SplitList(value))
}

func expandClassPath(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if dir, ok := wildcardDir(e); ok {
			jars, err := jarsIn(dir)
			if err != nil {
				return nil, err
			}
			out = append(out, jars...)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func wildcardDir(entry string) (string, bool) {
	for _, suffix := range []string{"/*", `\*`} {
		if strings.HasSuffix(entry, suffix) {
			return strings.TrimSuffix(entry, suffix), true
		}
	}
	return "", false
}

func jarsIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var jars []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".jar") {
			jars = append(jars, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(jars)
	return jars, nil
}
