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
	"fmt"
	"regexp"
)

// ImportOption decides whether a class file location takes part in an import.
type ImportOption interface {
	Includes(loc Location) bool
}

// ImportOptionFunc adapts a function to ImportOption.
type ImportOptionFunc func(loc Location) bool

// Includes implements ImportOption.
func (f ImportOptionFunc) Includes(loc Location) bool { return f(loc) }

// ImportOptions includes a location only if every option does.
type ImportOptions []ImportOption

// Includes implements ImportOption.
func (o ImportOptions) Includes(loc Location) bool {
	for _, opt := range o {
		if !opt.Includes(loc) {
			return false
		}
	}
	return true
}

// testOutputPatterns match the test output directories of Maven, Gradle and
// IntelliJ.
var testOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`.*/target/test-classes/.*`),
	regexp.MustCompile(`.*/build/classes/([^/]+/)?test/.*`),
	regexp.MustCompile(`.*/out/test/.*`),
}

// DoNotIncludeTests excludes class files from common test output directories.
var DoNotIncludeTests ImportOption = ImportOptionFunc(func(loc Location) bool {
	uri := loc.URI()
	for _, p := range testOutputPatterns {
		if p.MatchString(uri) {
			return false
		}
	}
	return true
})

// DoNotIncludeArchives excludes class files inside jar, zip and jmod archives.
var DoNotIncludeArchives ImportOption = ImportOptionFunc(func(loc Location) bool {
	return !loc.IsArchive()
})

// ExcludePatterns excludes locations whose URI matches any of the regular
// expressions.
func ExcludePatterns(patterns ...string) (ImportOption, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return ImportOptionFunc(func(loc Location) bool {
		uri := loc.URI()
		for _, re := range compiled {
			if re.MatchString(uri) {
				return false
			}
		}
		return true
	}), nil
}

// ImportOptionByName returns a built-in option by its configuration name.
func ImportOptionByName(name string) (ImportOption, bool) {
	switch name {
	case "do_not_include_tests":
		return DoNotIncludeTests, true
	case "do_not_include_archives":
		return DoNotIncludeArchives, true
	}
	return nil, false
}
