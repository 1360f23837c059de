// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plugin

import (
	"context"
	"encoding/xml"
)

// Registry holds the ordered capability chains that extend the synthesis
// pipeline. The zero value is a fully usable Registry with no
// registrations; every Collect/Dispatch call degrades to "nothing
// contributed" rather than panicking.
type Registry struct {
	metadataSources   []MetadataSource
	probeProducers    []ProbeProducer
	generators        map[string]Generator
	structureSources  []StructureSource
	connectors        map[string]Connector
	goalValidators    []GoalValidator
	statisticsSinks   []StatisticsSink
}

// NewRegistry returns an empty Registry ready for With* registration.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		connectors: make(map[string]Connector),
	}
}

// WithMetadataSource registers src and returns the Registry for chaining.
func (r *Registry) WithMetadataSource(src MetadataSource) *Registry {
	r.metadataSources = append(r.metadataSources, src)
	return r
}

// WithProbeProducer registers p and returns the Registry for chaining.
func (r *Registry) WithProbeProducer(p ProbeProducer) *Registry {
	r.probeProducers = append(r.probeProducers, p)
	return r
}

// WithGenerator registers gen under its own Kind(). A later registration
// for the same Kind replaces the earlier one.
func (r *Registry) WithGenerator(gen Generator) *Registry {
	if r.generators == nil {
		r.generators = make(map[string]Generator)
	}
	r.generators[gen.Kind()] = gen
	return r
}

// WithStructureSource registers src and returns the Registry for chaining.
func (r *Registry) WithStructureSource(src StructureSource) *Registry {
	r.structureSources = append(r.structureSources, src)
	return r
}

// WithConnector registers c under its own Name(). A later registration
// for the same name replaces the earlier one.
func (r *Registry) WithConnector(c Connector) *Registry {
	if r.connectors == nil {
		r.connectors = make(map[string]Connector)
	}
	r.connectors[c.Name()] = c
	return r
}

// WithGoalValidator registers v and returns the Registry for chaining.
func (r *Registry) WithGoalValidator(v GoalValidator) *Registry {
	r.goalValidators = append(r.goalValidators, v)
	return r
}

// WithStatisticsSink registers s and returns the Registry for chaining.
func (r *Registry) WithStatisticsSink(s StatisticsSink) *Registry {
	r.statisticsSinks = append(r.statisticsSinks, s)
	return r
}

// CollectGroups runs every registered MetadataSource for clientName and
// returns the union of their contributed groups, in registration order.
func (r *Registry) CollectGroups(ctx context.Context, clientName string) ([]string, error) {
	var groups []string
	for _, src := range r.metadataSources {
		extra, err := src.Groups(ctx, clientName)
		if err != nil {
			return nil, err
		}
		groups = append(groups, extra...)
	}
	return groups, nil
}

// CollectProbes runs every registered ProbeProducer for clientName.
func (r *Registry) CollectProbes(ctx context.Context, clientName string, groups []string) ([]xml.Token, error) {
	var tokens []xml.Token
	for _, p := range r.probeProducers {
		extra, err := p.Probes(ctx, clientName, groups)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, extra...)
	}
	return tokens, nil
}

// DispatchProbeData routes one probe-data response to the ProbeProducer
// whose Name() matches source. A response whose source names no
// registered producer is ignored — a repository may declare static
// Probes/ scripts with no corresponding plugin.
func (r *Registry) DispatchProbeData(ctx context.Context, clientName, source, probeName, output string) (ProbeResult, bool, error) {
	for _, p := range r.probeProducers {
		if p.Name() != source {
			continue
		}
		result, err := p.ReceiveData(ctx, clientName, probeName, output)
		return result, true, err
	}
	return ProbeResult{}, false, nil
}

// Generator looks up the registered Generator for kind. ok is false if no
// Generator has been registered for that kind.
func (r *Registry) Generator(kind string) (Generator, bool) {
	gen, ok := r.generators[kind]
	return gen, ok
}

// GeneratorKinds returns the kinds with a registered Generator, in no
// particular order.
func (r *Registry) GeneratorKinds() []string {
	kinds := make([]string, 0, len(r.generators))
	for k := range r.generators {
		kinds = append(kinds, k)
	}
	return kinds
}

// CollectBundles runs every registered StructureSource for clientName.
func (r *Registry) CollectBundles(ctx context.Context, clientName string, groups []string) ([]string, error) {
	var bundles []string
	for _, src := range r.structureSources {
		extra, err := src.Bundles(ctx, clientName, groups)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, extra...)
	}
	return bundles, nil
}

// Connector looks up the registered Connector by name.
func (r *Registry) Connector(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

// RunGoalValidators runs every registered GoalValidator in registration
// order, threading each one's (possibly amended) output into the
// next, and returns the first error encountered, short-circuiting the
// rest.
func (r *Registry) RunGoalValidators(ctx context.Context, clientName, bundle string, rendered []xml.Token) ([]xml.Token, error) {
	current := rendered
	for _, v := range r.goalValidators {
		amended, err := v.Validate(ctx, clientName, bundle, current)
		if err != nil {
			return nil, err
		}
		if amended != nil {
			current = amended
		}
	}
	return current, nil
}

// RecordStats fans a stats report out to every registered
// StatisticsSink, continuing past individual sink errors and returning
// the first one seen.
func (r *Registry) RecordStats(ctx context.Context, clientName string, report StatsReport) error {
	var firstErr error
	for _, sink := range r.statisticsSinks {
		if err := sink.Record(ctx, clientName, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every registered StatisticsSink, continuing past
// individual errors and returning the first one seen.
func (r *Registry) Close() error {
	var firstErr error
	for _, sink := range r.statisticsSinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
