// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facade

import (
	"encoding/xml"
	"strings"

	"github.com/openconf/confd/internal/xmlutil"
)

// elementToXML renders an Element tree as a well-formed XML fragment,
// the shape GetConfig hands to encodeElement before canonicalization.
func elementToXML(el *xmlutil.Element) string {
	var buf strings.Builder
	enc := xml.NewEncoder(&buf)
	_ = writeElement(enc, el)
	_ = enc.Flush()
	return buf.String()
}

func writeElement(enc *xml.Encoder, el *xmlutil.Element) error {
	var attrs []xml.Attr
	for k, v := range el.Attrs {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	name := xml.Name{Local: el.Name}
	if err := enc.EncodeToken(xml.StartElement{Name: name, Attr: attrs}); err != nil {
		return err
	}
	if el.Text != "" {
		if err := enc.EncodeToken(xml.CharData(el.Text)); err != nil {
			return err
		}
	}
	for _, child := range el.Children {
		if err := writeElement(enc, child); err != nil {
			return err
		}
	}
	return enc.EncodeToken(xml.EndElement{Name: name})
}
