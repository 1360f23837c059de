// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plugin defines the capability interfaces that extend confd's
// synthesis pipeline, and a Registry that holds one ordered chain per
// capability.
//
// Each capability is optional: a Registry with no registrations for a
// given capability falls back to a no-op default, so the core pipeline
// never needs to nil-check a plugin slot. Capabilities are registered
// through fluent With* builders on Registry, mirroring how confd wires
// up every other pluggable concern.
package plugin

import (
	"context"
	"encoding/xml"
)

// MetadataSource contributes additional groups for a client beyond what
// the repository's static group graph declares — e.g. an external CMDB
// lookup keyed by hostname.
type MetadataSource interface {
	// Groups returns extra group names to fold into the client's worklist
	// expansion. A MetadataSource that has no opinion about a client
	// returns a nil slice and a nil error.
	Groups(ctx context.Context, clientName string) ([]string, error)
}

// ProbeProducer contributes additional <probe> elements to include in a
// GetProbes response, beyond the ones declared statically by the
// repository's Probes/ tree, and receives the client's response to them.
type ProbeProducer interface {
	// Name identifies the plugin for probe-data dispatch; it is the
	// "source" attribute on both the <probe> and <probe-data> elements.
	Name() string

	Probes(ctx context.Context, clientName string, groups []string) ([]xml.Token, error)

	// ReceiveData handles one <probe-data> element's worth of client
	// output for a probe this plugin originated.
	ReceiveData(ctx context.Context, clientName string, probeName string, output string) (ProbeResult, error)
}

// ProbeResult is what a probe response folds into the client's
// metadata: group memberships (unprefixed) and/or an opaque connector
// blob keyed by this plugin's Name().
type ProbeResult struct {
	Groups        []string
	ConnectorData any
}

// Generator binds repository rules against client metadata and renders
// concrete configuration entries. Each Generator owns one entry kind
// (Path, Service, Package, Action, SELinux, ...); the Registry dispatches
// by kind.
type Generator interface {
	// Kind identifies the entry element this Generator produces, e.g.
	// "Path" or "Service".
	Kind() string

	// Bind renders the entries this Generator contributes for the given
	// client, given the rule candidates the Binder selected for it.
	Bind(ctx context.Context, clientName string, candidates []BindCandidate) ([]xml.Token, error)
}

// BindCandidate is a single rule match passed from the Binder to a
// Generator's Bind call. Generators never see unmatched or
// lower-priority rules.
type BindCandidate struct {
	RuleName string
	Priority int
	Groups   []string // the group-set this candidate matched on
	Payload  any       // generator-specific rule body
}

// StructureSource supplies the bundle list assigned to a client,
// independent of (and merged with) groups' own Bundles declarations —
// e.g. a per-client override service.
type StructureSource interface {
	Bundles(ctx context.Context, clientName string, groups []string) ([]string, error)
}

// Connector renders a per-client, per-bundle opaque payload that is not
// expressed as generic entries — e.g. a rendered file whose bytes are
// supplied whole rather than templated inline.
type Connector interface {
	Name() string
	Render(ctx context.Context, clientName string, bundle string) ([]byte, error)
}

// GoalValidator runs once per bundle after every entry in it has been
// bound, checking or amending cross-entry invariants a single
// generator cannot see on its own (e.g. "a Packages plugin adds
// transitive dependencies"). A non-nil returned slice replaces the
// bundle's entry list for the next validator in the chain; a nil slice
// with a nil error leaves it unchanged.
type GoalValidator interface {
	Validate(ctx context.Context, clientName string, bundle string, rendered []xml.Token) ([]xml.Token, error)
}

// StatisticsSink receives parsed RecvStats payloads for storage or
// forwarding.
type StatisticsSink interface {
	Record(ctx context.Context, clientName string, stats StatsReport) error
	Close() error
}

// StatsReport is the parsed body of a RecvStats call.
type StatsReport struct {
	ClientName string
	Good       bool
	Revision   string
	Entries    map[string]string
}
