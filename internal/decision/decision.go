// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package decision implements the Decision Filter: an optional
// whitelist/blacklist stage applied to a client's literal entry tree
// after binding and before serialization.
package decision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openconf/confd/internal/config"
	"github.com/openconf/confd/internal/xmlutil"
)

// Entry identifies one (kind, name) pair in a decision list.
type Entry struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

// List is the parsed content of a decision-list YAML file: independent
// whitelist and blacklist entries. GetDecisionList can hand back either
// side regardless of which mode the server currently enforces.
type List struct {
	Whitelist []Entry `yaml:"whitelist"`
	Blacklist []Entry `yaml:"blacklist"`
}

// Load reads and parses a decision-list file. A missing path is not an
// error — it returns an empty List, so a Filter built with Mode
// DecisionOff never needs one.
func Load(path string) (*List, error) {
	if path == "" {
		return &List{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decision list %s: %w", path, err)
	}
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse decision list %s: %w", path, err)
	}
	return &l, nil
}

// ForMode returns the entries governing the given mode, or nil for
// DecisionOff.
func (l *List) ForMode(mode config.DecisionMode) []Entry {
	switch mode {
	case config.DecisionWhitelist:
		return l.Whitelist
	case config.DecisionBlacklist:
		return l.Blacklist
	default:
		return nil
	}
}

// Filter applies a List's active side to a bound entry tree. The zero
// Filter (Mode DecisionOff) passes every entry through unchanged.
type Filter struct {
	mode config.DecisionMode
	set  map[key]struct{}
}

type key struct {
	kind, name string
}

// NewFilter builds a Filter from the given mode and decision list. A
// mode of DecisionOff ignores list entirely.
func NewFilter(mode config.DecisionMode, list *List) *Filter {
	f := &Filter{mode: mode}
	if mode == config.DecisionOff || list == nil {
		return f
	}
	entries := list.ForMode(mode)
	f.set = make(map[key]struct{}, len(entries))
	for _, e := range entries {
		f.set[key{e.Kind, e.Name}] = struct{}{}
	}
	return f
}

// Apply filters entries in place, preserving relative order (spec.md
// §3 invariant 5): under whitelist mode, only entries whose (kind,
// name) is in the list survive; under blacklist mode, those entries
// are removed; under DecisionOff every entry passes through.
func (f *Filter) Apply(entries []*xmlutil.Element) []*xmlutil.Element {
	if f == nil || f.mode == config.DecisionOff {
		return entries
	}
	out := make([]*xmlutil.Element, 0, len(entries))
	for _, e := range entries {
		_, listed := f.set[key{e.Name, e.Attrs["name"]}]
		switch f.mode {
		case config.DecisionWhitelist:
			if listed {
				out = append(out, e)
			}
		case config.DecisionBlacklist:
			if !listed {
				out = append(out, e)
			}
		default:
			out = append(out, e)
		}
	}
	return out
}

// Mode reports the Filter's active mode.
func (f *Filter) Mode() config.DecisionMode {
	if f == nil {
		return config.DecisionOff
	}
	return f.mode
}
