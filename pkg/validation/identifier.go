// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for repository identifiers.
//
// Group, client, bundle, and category names come from repository XML that
// an operator controls, but they still end up embedded in file paths
// (bundle lookups), regex compilation (rule name matching), and log lines.
// These validators keep a malformed or hostile name from turning into a
// path traversal, a regex denial-of-service pattern, or an injection into
// a downstream shell invoked by a generator.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches repository identifiers: groups, clients, bundles,
// categories. Allows letters, digits, dots, hyphens, and underscores;
// forbids path separators and shell metacharacters outright.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName validates a repository identifier.
//
// Valid names:
//   - 1-128 characters
//   - start with a letter or digit
//   - contain only letters, digits, dots, hyphens, underscores
//
// Returns an error if name is invalid.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q: must be 1-128 chars of [A-Za-z0-9._-], starting with alnum", kind, name)
	}
	return nil
}

// ValidateNames validates multiple identifiers, collecting every failure
// instead of stopping at the first.
func ValidateNames(kind string, names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateName(kind, n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid %s names: %v", kind, invalid)
	}
	return nil
}

// SanitizeBundlePathSegment normalizes a bundle name for use as a single
// path segment under the Bundler plugin directory. It rejects names that
// would escape that directory rather than attempting to "clean" them,
// since a cleaned name could silently resolve to a different bundle than
// the one an operator intended.
func SanitizeBundlePathSegment(name string) (string, error) {
	if err := ValidateName("bundle", name); err != nil {
		return "", err
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("bundle name %q must not contain path separators", name)
	}
	return name, nil
}
