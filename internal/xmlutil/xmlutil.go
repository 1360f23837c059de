// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package xmlutil provides the XML helpers shared across confd's
// synthesis pipeline: canonicalization for determinism checks, and
// cross-document include expansion for the repository loader.
//
// No third-party XML or XML-RPC library appears anywhere in the
// dependency corpus this project was built from; encoding/xml is the
// only implementation pattern available to imitate, so this package
// builds directly on it rather than introducing an unrelated ecosystem
// dependency for a concern the corpus never reaches for one.
package xmlutil

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Element is the parsed representation of an XML element: tag name,
// attributes keyed by name (written sorted by key only when
// serialized), child elements in document order, and concatenated
// character data.
type Element struct {
	Name     string
	Attrs    map[string]string
	Children []*Element
	Text     string
}

// Canonicalize parses raw XML and re-serializes it with attributes
// sorted and insignificant whitespace between elements collapsed, so
// that two documents that differ only in attribute order or formatting
// compare equal.
func Canonicalize(raw []byte) ([]byte, error) {
	root, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeCanonical(&buf, root)
	return buf.Bytes(), nil
}

// Parse decodes raw XML into an Element tree.
func Parse(raw []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var root *Element
	var stack []*Element

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse xml: unbalanced end element %q", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse xml: empty document")
	}
	return root, nil
}

func writeCanonical(buf *bytes.Buffer, el *Element) {
	buf.WriteByte('<')
	buf.WriteString(el.Name)

	keys := make([]string, 0, len(el.Attrs))
	for k := range el.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteByte(' ')
		buf.WriteString(k)
		buf.WriteString(`="`)
		_ = xml.EscapeText(buf, []byte(el.Attrs[k]))
		buf.WriteByte('"')
	}

	if len(el.Children) == 0 && trimmed(el.Text) == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	_ = xml.EscapeText(buf, []byte(trimmed(el.Text)))
	for _, child := range el.Children {
		writeCanonical(buf, child)
	}
	buf.WriteString("</")
	buf.WriteString(el.Name)
	buf.WriteByte('>')
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
