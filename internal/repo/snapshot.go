// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repo owns the parsed repository: groups, clients, bundles,
// and rules, with cross-document include expansion. All other
// components hold read-only Snapshot views swapped in atomically on
// reload, never a mutable reference into the Loader's working state.
package repo

import (
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/xmlutil"
)

// RuleSet is a single Rules/*.xml document's parsed content: an
// optional document-wide priority and the rule entries found inside,
// each carrying its own abstract entry kind since one Rules document
// may declare rules for several kinds (Path, Service, Package, ...).
type RuleSet struct {
	PluginName string
	Priority   int
	Entries    []RuleEntry
}

// RuleEntry is one named or pattern rule inside a RuleSet.
type RuleEntry struct {
	Kind       string // abstract entry kind this rule binds, e.g. "Path"
	Name       string // literal name or regex source
	IsRegex    bool
	Groups     []string // conjunctive, positive group selectors
	NotGroups  []string // conjunctive, negated group selectors
	Clients    []string
	NotClients []string
	Attrs      map[string]string // literal attributes to apply on a match
	Payload    *xmlutil.Element  // raw inner XML, interpreted by the owning generator
}

// Snapshot is an immutable view of the parsed repository at one point
// in time.
type Snapshot struct {
	Groups      map[string]*metadata.Group
	GroupsOrder []string // group names in groups.xml document order
	Clients     map[string]*metadata.Client
	Rules       []RuleSet

	// Bundles holds every Bundler/<name>.xml document, parsed but not
	// yet template-rendered, keyed by bundle name.
	Bundles map[string]*BundleDoc

	// DefaultProfileGroup is the group name new clients are bound to
	// when dynamic registration creates them, or "" if groups.xml
	// declares no default group.
	DefaultProfileGroup string

	// AllowDynamic reports whether an unrecognized identity may be
	// bound to DefaultProfileGroup and created on the fly (identity
	// resolution step 5 in metadata.Resolver).
	AllowDynamic bool

	// Revision identifies this snapshot for cache-invalidation and
	// determinism checks; it increments on every successful reload.
	Revision uint64
}

// BundleDoc is one Bundler/<name>.xml document, kept as a raw Element
// tree so the Structure Assembler can render its templated children
// against a specific client's metadata.
type BundleDoc struct {
	Name string
	Root *xmlutil.Element
}

// GroupOrder returns the declared group names in the order they were
// parsed in groups.xml. Bundle ordering does not use it;
// metadata.Resolver orders bundles by group provenance depth, then name.
func (s *Snapshot) GroupOrder() []string {
	return s.GroupsOrder
}

// GroupByName implements metadata.SnapshotView.
func (s *Snapshot) GroupByName(name string) (*metadata.Group, bool) {
	g, ok := s.Groups[name]
	return g, ok
}

// ClientByName implements metadata.SnapshotView.
func (s *Snapshot) ClientByName(name string) (*metadata.Client, bool) {
	c, ok := s.Clients[name]
	return c, ok
}

// DefaultProfile implements metadata.SnapshotView.
func (s *Snapshot) DefaultProfile() string {
	return s.DefaultProfileGroup
}

// AllowDynamicRegistration implements metadata.SnapshotView.
func (s *Snapshot) AllowDynamicRegistration() bool {
	return s.AllowDynamic
}

// ClientsByUUID implements the optional uuidLister interface consulted
// by metadata.Resolver's identity chain.
func (s *Snapshot) ClientsByUUID(uuid string) (*metadata.Client, bool) {
	for _, c := range s.Clients {
		if c.UUID != "" && c.UUID == uuid {
			return c, true
		}
	}
	return nil, false
}

// ClientByAlias implements the optional aliasLister interface.
func (s *Snapshot) ClientByAlias(name string) (*metadata.Client, bool) {
	for _, c := range s.Clients {
		for _, a := range c.Aliases {
			if a == name {
				return c, true
			}
		}
	}
	return nil, false
}

// ClientByAddress implements the optional addrLister interface.
func (s *Snapshot) ClientByAddress(addr string) (*metadata.Client, bool) {
	for _, c := range s.Clients {
		for _, a := range c.Addresses {
			if a == addr {
				return c, true
			}
		}
	}
	return nil, false
}

// BundleByName looks up a parsed Bundler document by bundle name.
func (s *Snapshot) BundleByName(name string) (*BundleDoc, bool) {
	b, ok := s.Bundles[name]
	return b, ok
}

// RuleSets implements generator.RuleSource.
func (s *Snapshot) RuleSets() []RuleSet {
	return s.Rules
}
