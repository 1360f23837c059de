// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/repo"
)

// RulesGenerator renders Path, Service, Package, Action, and SELinux
// literal entries directly from their matched repo.RuleEntry's literal
// attributes, the way bcfg2's Rules plugin does for the bulk of a
// repository's abstract entries — no templating, no external state.
// Its rendering logic does not vary by kind; one instance is
// registered per kind (see RegisterDefaultGenerators).
type RulesGenerator struct {
	kind string
}

// NewRulesGenerator constructs a RulesGenerator bound to a single
// abstract entry kind, registered once per kind against
// plugin.Registry.
func NewRulesGenerator(kind string) *RulesGenerator {
	return &RulesGenerator{kind: kind}
}

// Kind implements plugin.Generator.
func (g *RulesGenerator) Kind() string { return g.kind }

// Bind implements plugin.Generator. It expects exactly one candidate —
// the Binder only ever calls a Generator with its already-selected
// winner — and renders the candidate's literal attributes verbatim.
func (g *RulesGenerator) Bind(_ context.Context, _ string, candidates []plugin.BindCandidate) ([]xml.Token, error) {
	if len(candidates) != 1 {
		return nil, fmt.Errorf("rules generator %s: expected exactly one candidate, got %d", g.kind, len(candidates))
	}
	cand := candidates[0]
	entry, ok := cand.Payload.(*repo.RuleEntry)
	if !ok {
		return nil, fmt.Errorf("rules generator %s: unexpected payload type %T", g.kind, cand.Payload)
	}

	attrs := make(map[string]string, len(entry.Attrs)+1)
	for k, v := range entry.Attrs {
		attrs[k] = v
	}
	attrs["name"] = cand.RuleName

	text := ""
	if entry.Payload != nil {
		text = entry.Payload.Text
	}
	return encodeEntry(g.kind, attrs, text), nil
}

var _ plugin.Generator = (*RulesGenerator)(nil)

// RegisterDefaultGenerators registers a RulesGenerator for each
// abstract entry kind spec.md §3 names, the closed set this server
// understands out of the box. Call this before registering any
// deployment-specific plugin.Generator, since plugin.Registry.WithGenerator
// replaces by kind and the last registration for a kind wins.
func RegisterDefaultGenerators(reg *plugin.Registry) *plugin.Registry {
	for _, kind := range []string{"Path", "Service", "Package", "Action", "SELinux"} {
		reg = reg.WithGenerator(NewRulesGenerator(kind))
	}
	return reg
}
