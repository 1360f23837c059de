// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metadata

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/xmlutil"
)

// SnapshotView is the subset of repo.Snapshot the Resolver needs,
// narrowed to avoid an import cycle between metadata and repo.
type SnapshotView interface {
	GroupByName(name string) (*Group, bool)
	ClientByName(name string) (*Client, bool)
	DefaultProfile() string
	AllowDynamicRegistration() bool
}

// Identity is the triple a caller presents for resolution.
type Identity struct {
	ClaimedName   string
	PeerAddress   string
	CertCN        string
	AuthToken     string
}

// ProbeGroups holds group memberships contributed by probe responses,
// keyed by client name. The Probe Engine writes to this; the Resolver
// reads it during expansion.
type ProbeGroups struct {
	mu     sync.RWMutex
	groups map[string][]string
}

// NewProbeGroups constructs an empty ProbeGroups store.
func NewProbeGroups() *ProbeGroups {
	return &ProbeGroups{groups: make(map[string][]string)}
}

// Set replaces the probe-contributed groups for clientName.
func (p *ProbeGroups) Set(clientName string, groups []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[clientName] = groups
}

// Get returns the probe-contributed groups for clientName.
func (p *ProbeGroups) Get(clientName string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.groups[clientName]
}

// Resolver resolves an Identity into a frozen ClientMetadata, memoizing
// per client until invalidated by a probe response or repository
// reload.
type Resolver struct {
	snapshot   func() SnapshotView
	probes     *ProbeGroups
	registry   *plugin.Registry
	logger     *logging.Logger
	lookupAddr func(ctx context.Context, addr string) ([]string, error)

	mu    sync.RWMutex
	cache map[string]*ClientMetadata

	sf singleflight.Group
}

// Option configures a Resolver at construction.
type Option func(*Resolver)

// WithLookupAddr overrides the reverse-DNS lookup function; tests use
// this to avoid real network calls.
func WithLookupAddr(fn func(ctx context.Context, addr string) ([]string, error)) Option {
	return func(r *Resolver) { r.lookupAddr = fn }
}

// WithLogger overrides the Resolver's logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver constructs a Resolver. snapshot is called on every
// resolution to fetch the current repository view, so reloads take
// effect without reconstructing the Resolver.
func NewResolver(snapshot func() SnapshotView, probes *ProbeGroups, registry *plugin.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		snapshot: snapshot,
		probes:   probes,
		registry: registry,
		logger:   logging.Default(),
		cache:    make(map[string]*ClientMetadata),
	}
	r.lookupAddr = func(ctx context.Context, addr string) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return net.DefaultResolver.LookupAddr(ctx, addr)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate drops the memoized metadata for clientName, forcing the
// next Resolve to recompute it.
func (r *Resolver) Invalidate(clientName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, clientName)
}

// InvalidateAll drops every memoized entry, used after a repository
// reload swaps in a new Snapshot.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*ClientMetadata)
}

// resolveIdentity implements the 6-step identity chain from 4.B.
func (r *Resolver) resolveIdentity(ctx context.Context, snap SnapshotView, id Identity) (*Client, bool, error) {
	// 1: cert CN against known client name or UUID.
	if id.CertCN != "" {
		if c, ok := snap.ClientByName(id.CertCN); ok {
			return c, false, nil
		}
		if c, ok := clientByUUID(snap, id.CertCN); ok {
			return c, false, nil
		}
	}

	// 2: claimed name against a UUID, then against a client name.
	if id.ClaimedName != "" {
		if c, ok := clientByUUID(snap, id.ClaimedName); ok {
			return c, false, nil
		}
		if c, ok := snap.ClientByName(id.ClaimedName); ok {
			return c, false, nil
		}
	}

	// 3: reverse DNS of peer address.
	if id.PeerAddress != "" {
		names, err := r.lookupAddr(ctx, id.PeerAddress)
		if err != nil {
			r.logger.Debug("reverse dns lookup failed", "addr", id.PeerAddress, "error", err)
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if c, ok := snap.ClientByName(name); ok {
				return c, false, nil
			}
			if c, ok := clientByAlias(snap, name); ok {
				return c, false, nil
			}
		}
	}

	// 4: peer address against a client's known addresses.
	if id.PeerAddress != "" {
		if c, ok := clientByAddress(snap, id.PeerAddress); ok {
			return c, false, nil
		}
	}

	// 5: default profile + dynamic registration.
	if snap.DefaultProfile() != "" && snap.AllowDynamicRegistration() {
		name := id.ClaimedName
		if name == "" {
			name = id.PeerAddress
		}
		created := &Client{
			Name:    name,
			Profile: snap.DefaultProfile(),
		}
		return created, true, nil
	}

	return nil, false, &xmlutil.PipelineError{
		Kind:    xmlutil.KindMetadataConsistencyError,
		Message: fmt.Sprintf("cannot resolve identity for claimed_name=%q peer_address=%q", id.ClaimedName, id.PeerAddress),
	}
}

func clientByUUID(snap SnapshotView, uuid string) (*Client, bool) {
	type uuidLister interface{ ClientsByUUID(string) (*Client, bool) }
	if lister, ok := snap.(uuidLister); ok {
		return lister.ClientsByUUID(uuid)
	}
	return nil, false
}

func clientByAlias(snap SnapshotView, name string) (*Client, bool) {
	type aliasLister interface{ ClientByAlias(string) (*Client, bool) }
	if lister, ok := snap.(aliasLister); ok {
		return lister.ClientByAlias(name)
	}
	return nil, false
}

func clientByAddress(snap SnapshotView, addr string) (*Client, bool) {
	type addrLister interface{ ClientByAddress(string) (*Client, bool) }
	if lister, ok := snap.(addrLister); ok {
		return lister.ClientByAddress(addr)
	}
	return nil, false
}

// Resolve produces (or returns the memoized) ClientMetadata for id.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*ClientMetadata, error) {
	snap := r.snapshot()

	client, created, err := r.resolveIdentity(ctx, snap, id)
	if err != nil {
		return nil, err
	}

	cacheKey := client.Name
	r.mu.RLock()
	if cached, ok := r.cache[cacheKey]; ok && !created {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(cacheKey, func() (any, error) {
		return r.expand(ctx, snap, client)
	})
	if err != nil {
		return nil, err
	}
	meta := result.(*ClientMetadata)

	r.mu.Lock()
	r.cache[cacheKey] = meta
	r.mu.Unlock()

	return meta, nil
}

// provenance tracks, for each active group, the minimal number of hops
// from a seed group and the set of groups it was reached through ("" for
// a seed), which negation propagation consults.
type provenance struct {
	depth    int
	parents  map[string]struct{}
}

func (r *Resolver) expand(ctx context.Context, snap SnapshotView, client *Client) (*ClientMetadata, error) {
	seeds := []string{}
	if client.Profile != "" {
		seeds = append(seeds, client.Profile)
	}
	seeds = append(seeds, client.ExtraGroups...)
	seeds = append(seeds, r.probes.Get(client.Name)...)

	if r.registry != nil {
		extra, err := r.registry.CollectGroups(ctx, client.Name)
		if err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindMetadataRuntimeError, Message: err.Error()}
		}
		seeds = append(seeds, extra...)
	}

	active := make(map[string]*provenance)
	var worklist []string
	for _, s := range dedupe(seeds) {
		if _, ok := active[s]; !ok {
			active[s] = &provenance{depth: 0, parents: map[string]struct{}{"": {}}}
			worklist = append(worklist, s)
		}
	}

	negated := make(map[string]struct{})
	for _, n := range client.NegatedGroups {
		negated[n] = struct{}{}
	}
	groupBundles := make(map[string][]string)

	for len(worklist) > 0 {
		name := worklist[0]
		worklist = worklist[1:]

		g, ok := snap.GroupByName(name)
		if !ok {
			continue
		}
		groupBundles[name] = g.Bundles
		for _, inc := range g.Includes {
			prov, exists := active[inc]
			if !exists {
				active[inc] = &provenance{depth: active[name].depth + 1, parents: map[string]struct{}{name: {}}}
				worklist = append(worklist, inc)
			} else {
				prov.parents[name] = struct{}{}
				if d := active[name].depth + 1; d < prov.depth {
					prov.depth = d
				}
			}
		}
	}

	// Conditional Group/Client tags are not evaluated: the repository
	// loader keeps only top-level <Group> elements with their
	// <Bundle>/<Group> children, and expansion runs no second pass over
	// conditions.

	// Apply negations last: a negated group is removed, and so is every
	// group reached exclusively through it, tracked via provenance
	// counting. A group with a direct seed ("" in parents) always
	// survives regardless of what else gets removed.
	removed := make(map[string]struct{})
	for name := range negated {
		if _, ok := active[name]; ok {
			removed[name] = struct{}{}
		}
	}
	for changed := true; changed; {
		changed = false
		for name, prov := range active {
			if _, already := removed[name]; already {
				continue
			}
			if _, isSeed := prov.parents[""]; isSeed {
				continue
			}
			allParentsRemoved := true
			for parent := range prov.parents {
				if _, gone := removed[parent]; !gone {
					allParentsRemoved = false
					break
				}
			}
			if allParentsRemoved {
				removed[name] = struct{}{}
				changed = true
			}
		}
	}
	for name := range removed {
		delete(active, name)
	}

	groups := make(map[string]struct{}, len(active))
	for name := range active {
		groups[name] = struct{}{}
	}

	categories := enforceCategoryExclusivity(snap, active)
	for cat, losers := range categoryLosers(snap, active, categories) {
		for _, loser := range losers {
			r.logger.Warn("category conflict resolved", "category", cat, "removed_group", loser)
			delete(groups, loser)
			delete(active, loser)
		}
	}

	bundles := []string{}
	bundleSeen := make(map[string]struct{})
	for _, name := range groupOrderOf(snap, active) {
		for _, b := range groupBundles[name] {
			if _, seen := bundleSeen[b]; !seen {
				bundleSeen[b] = struct{}{}
				bundles = append(bundles, b)
			}
		}
	}

	meta := &ClientMetadata{
		Hostname:   client.Name,
		Profile:    client.Profile,
		Groups:     groups,
		Categories: categories,
		Aliases:    client.Aliases,
		Addresses:  client.Addresses,
		UUID:       client.UUID,
		Password:   client.Password,
		Bundles:    bundles,
		Connectors: make(map[string]any),
	}
	return meta, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// enforceCategoryExclusivity computes, for each category with more than
// one active member, the surviving group per invariant 4.B ("shortest
// provenance chain, ties by lexicographic group name"), and returns the
// category->winner map for every category with at least one active
// member.
func enforceCategoryExclusivity(snap SnapshotView, active map[string]*provenance) map[string]string {
	byCategory := make(map[string][]string)
	for name := range active {
		g, ok := snap.GroupByName(name)
		if !ok || g.Category == "" {
			continue
		}
		byCategory[g.Category] = append(byCategory[g.Category], name)
	}

	winners := make(map[string]string, len(byCategory))
	for cat, members := range byCategory {
		sort.Slice(members, func(i, j int) bool {
			di, dj := active[members[i]].depth, active[members[j]].depth
			if di != dj {
				return di < dj
			}
			return members[i] < members[j]
		})
		winners[cat] = members[0]
	}
	return winners
}

// groupOrderOf returns active group names ordered by shortest provenance
// depth, then lexicographically, the same deterministic ordering used
// for category tie-breaks, so that the bundle list built from it is
// stable across repeated runs for unchanged inputs (spec.md §3
// invariant 5).
func groupOrderOf(_ SnapshotView, active map[string]*provenance) []string {
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := active[names[i]].depth, active[names[j]].depth
		if di != dj {
			return di < dj
		}
		return names[i] < names[j]
	})
	return names
}

// categoryLosers returns every active group, per category, that is not
// that category's winner. A category can have more than one loser once
// it has three or more active members, so all of them must be
// collected rather than just the last one seen.
func categoryLosers(snap SnapshotView, active map[string]*provenance, winners map[string]string) map[string][]string {
	losers := make(map[string][]string)
	byCategory := make(map[string][]string)
	for name := range active {
		g, ok := snap.GroupByName(name)
		if !ok || g.Category == "" {
			continue
		}
		byCategory[g.Category] = append(byCategory[g.Category], name)
	}
	for cat, members := range byCategory {
		winner := winners[cat]
		for _, m := range members {
			if m != winner {
				losers[cat] = append(losers[cat], m)
			}
		}
	}
	return losers
}
