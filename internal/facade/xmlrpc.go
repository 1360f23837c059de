// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facade

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/openconf/confd/internal/decision"
	"github.com/openconf/confd/internal/xmlutil"
)

// methodCall is a decoded XML-RPC request envelope. Every RPC this
// façade serves takes at most one string parameter, so a generic
// XML-RPC value tree is never needed on the request side.
type methodCall struct {
	Name  string
	Param string
}

// parseMethodCall decodes a <methodCall> envelope.
func parseMethodCall(body []byte) (*methodCall, error) {
	root, err := xmlutil.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse method call: %w", err)
	}
	if root.Name != "methodCall" {
		return nil, fmt.Errorf("parse method call: root element %q, want methodCall", root.Name)
	}

	call := &methodCall{}
	for _, child := range root.Children {
		switch child.Name {
		case "methodName":
			call.Name = strings.TrimSpace(child.Text)
		case "params":
			call.Param = firstParamString(child)
		}
	}
	if call.Name == "" {
		return nil, fmt.Errorf("parse method call: missing methodName")
	}
	return call, nil
}

func firstParamString(params *xmlutil.Element) string {
	for _, param := range params.Children {
		if param.Name != "param" {
			continue
		}
		for _, value := range param.Children {
			if value.Name != "value" {
				continue
			}
			return valueString(value)
		}
	}
	return ""
}

// valueString extracts a <value> element's scalar content. XML-RPC
// permits a bare value with no type child to mean implicit string.
func valueString(value *xmlutil.Element) string {
	for _, typed := range value.Children {
		switch typed.Name {
		case "string", "i4", "int", "boolean", "double":
			return typed.Text
		}
	}
	return value.Text
}

// encodeBoolResponse builds a <methodResponse> wrapping a single
// boolean return value.
func encodeBoolResponse(v bool) []byte {
	flag := "0"
	if v {
		flag = "1"
	}
	return []byte(fmt.Sprintf(
		`<?xml version="1.0"?><methodResponse><params><param><value><boolean>%s</boolean></value></param></params></methodResponse>`,
		flag,
	))
}

// encodeStringResponse builds a <methodResponse> wrapping a single
// string return value, escaping s for embedding as character data.
// GetProbes and GetConfig both return a full XML document this way:
// the document travels as the text of a <string> value, per spec.md
// §6's "all request/response bodies are UTF-8 XML strings."
func encodeStringResponse(s string) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0"?><methodResponse><params><param><value><string>`)
	_ = xml.EscapeText(&buf, []byte(s))
	buf.WriteString(`</string></value></param></params></methodResponse>`)
	return []byte(buf.String())
}

// encodeDecisionListResponse builds a <methodResponse> wrapping the
// array-of-(kind,name) shape GetDecisionList returns.
func encodeDecisionListResponse(entries []decision.Entry) []byte {
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>`)
	for _, e := range entries {
		buf.WriteString(`<value><array><data><value><string>`)
		_ = xml.EscapeText(&buf, []byte(e.Kind))
		buf.WriteString(`</string></value><value><string>`)
		_ = xml.EscapeText(&buf, []byte(e.Name))
		buf.WriteString(`</string></value></data></array></value>`)
	}
	buf.WriteString(`</data></array></value></param></params></methodResponse>`)
	return []byte(buf.String())
}

// encodeFault builds a <methodResponse><fault> envelope per the
// faultCode contract in spec.md §6.
func encodeFault(code int, message string) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, `<?xml version="1.0"?><methodResponse><fault><value><struct>`+
		`<member><name>faultCode</name><value><int>%d</int></value></member>`+
		`<member><name>faultString</name><value><string>`, code)
	_ = xml.EscapeText(&buf, []byte(message))
	buf.WriteString(`</string></value></member></struct></value></fault></methodResponse>`)
	return []byte(buf.String())
}
