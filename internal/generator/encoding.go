// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"encoding/xml"
	"fmt"

	"github.com/openconf/confd/internal/xmlutil"
)

// decodeLiteral converts the single-element token stream a
// plugin.Generator returns back into an *xmlutil.Element, so the
// Binder's output type stays uniform regardless of whether an entry
// came from a generator or a Bound<Kind> copy. kind is used only for
// diagnostics if tokens is empty or malformed.
func decodeLiteral(kind string, tokens []xml.Token) (*xmlutil.Element, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("generator for kind %q returned no tokens", kind)
	}

	var root *xmlutil.Element
	var stack []*xmlutil.Element
	for _, tok := range tokens {
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlutil.Element{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else if root == nil {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("generator for kind %q produced no root element", kind)
	}
	return root, nil
}

// elementsToTokens flattens a sequence of sibling literal elements
// into one xml.Token stream, for handing to a plugin.GoalValidator.
func elementsToTokens(elements []*xmlutil.Element) []xml.Token {
	var tokens []xml.Token
	for _, el := range elements {
		tokens = append(tokens, elementTokens(el)...)
	}
	return tokens
}

func elementTokens(el *xmlutil.Element) []xml.Token {
	var attrs []xml.Attr
	for k, v := range el.Attrs {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	name := xml.Name{Local: el.Name}
	tokens := []xml.Token{xml.StartElement{Name: name, Attr: attrs}}
	if el.Text != "" {
		tokens = append(tokens, xml.CharData(el.Text))
	}
	for _, child := range el.Children {
		tokens = append(tokens, elementTokens(child)...)
	}
	tokens = append(tokens, xml.EndElement{Name: name})
	return tokens
}

// tokensToElements rebuilds a sequence of sibling literal elements
// from the (possibly amended) xml.Token stream a plugin.GoalValidator
// returned.
func tokensToElements(tokens []xml.Token) ([]*xmlutil.Element, error) {
	var roots []*xmlutil.Element
	var stack []*xmlutil.Element
	for _, tok := range tokens {
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlutil.Element{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				stack[len(stack)-1].Children = append(stack[len(stack)-1].Children, el)
			} else {
				roots = append(roots, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced end element %q from goal validator", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unbalanced element stream from goal validator")
	}
	return roots, nil
}

// encodeEntry renders an abstract-entry-shaped literal as a flat
// xml.Token stream (StartElement, CharData, EndElement), the shape
// plugin.Generator implementations are expected to return.
func encodeEntry(kind string, attrs map[string]string, text string) []xml.Token {
	var xmlAttrs []xml.Attr
	for k, v := range attrs {
		xmlAttrs = append(xmlAttrs, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	name := xml.Name{Local: kind}
	tokens := []xml.Token{xml.StartElement{Name: name, Attr: xmlAttrs}}
	if text != "" {
		tokens = append(tokens, xml.CharData(text))
	}
	tokens = append(tokens, xml.EndElement{Name: name})
	return tokens
}
