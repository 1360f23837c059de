// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xmlutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// IncludeTag is the local name of a cross-document include element,
// e.g. <xi:include href="..."/> once namespace prefixing is stripped by
// the decoder.
const IncludeTag = "include"

// HrefAttr is the attribute naming the referenced document on an
// include element.
const HrefAttr = "href"

// ExpandIncludes loads the document at path and recursively replaces
// every <include href="..."/> element with the referenced document's
// root children. A relative path is resolved against baseDir, and each
// relative href against the directory of the document containing it. It detects
// cycles by tracking the chain of paths currently being expanded.
func ExpandIncludes(path string, baseDir string) (*Element, error) {
	return expand(path, baseDir, nil)
}

func expand(path string, baseDir string, chain []string) (*Element, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(baseDir, path)
	}

	for _, seen := range chain {
		if seen == resolved {
			return nil, fmt.Errorf("include cycle detected: %s", formatChain(append(chain, resolved)))
		}
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("include %s: %w", resolved, err)
	}

	root, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("include %s: %w", resolved, err)
	}

	nextChain := append(append([]string{}, chain...), resolved)
	nextBase := filepath.Dir(resolved)

	expanded, err := resolveChildren(root, nextBase, nextChain)
	if err != nil {
		return nil, err
	}
	return expanded, nil
}

func resolveChildren(el *Element, baseDir string, chain []string) (*Element, error) {
	resolvedChildren := make([]*Element, 0, len(el.Children))
	for _, child := range el.Children {
		if child.Name == IncludeTag {
			href, ok := child.Attrs[HrefAttr]
			if !ok || href == "" {
				return nil, fmt.Errorf("include element missing href attribute")
			}
			included, err := expand(href, baseDir, chain)
			if err != nil {
				return nil, err
			}
			resolvedChildren = append(resolvedChildren, included.Children...)
			continue
		}
		resolvedChild, err := resolveChildren(child, baseDir, chain)
		if err != nil {
			return nil, err
		}
		resolvedChildren = append(resolvedChildren, resolvedChild)
	}
	el.Children = resolvedChildren
	return el, nil
}

func formatChain(chain []string) string {
	out := ""
	for i, c := range chain {
		if i > 0 {
			out += " -> "
		}
		out += c
	}
	return out
}
