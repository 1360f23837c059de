// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facade

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/openconf/confd/internal/config"
	"github.com/openconf/confd/internal/decision"
	"github.com/openconf/confd/internal/generator"
	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/observability"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/probe"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/stats"
	"github.com/openconf/confd/internal/structure"
	"github.com/openconf/confd/internal/xmlutil"
)

// Deps wires every pipeline component the Request Façade's Ops call
// into. DecisionList, Decisions and GlobalPassword are functions, and
// Loader hands out its current Snapshot on every call, so repository
// reloads and config changes take effect without reconstructing Ops.
type Deps struct {
	Loader       *repo.Loader
	Resolver     *metadata.Resolver
	Probes       *probe.Engine
	Assembler    *structure.Assembler
	Binder       *generator.Binder
	DecisionList func() *decision.List
	Decisions    func() *decision.Filter
	StatsQueue   *stats.Queue
	Sessions     *SessionStore

	// AuthLimiter bounds authentication attempts per peer address.
	// Constructed with metadata.NewAuthLimiter if nil.
	AuthLimiter *metadata.AuthLimiter

	// GlobalPassword returns the sealed server-wide password, or nil if
	// none is configured.
	GlobalPassword func() *memguard.Enclave

	Logger *logging.Logger
}

// Ops implements the business logic behind every XML-RPC method,
// gin-independent so it can be exercised directly by tests.
type Ops struct {
	d Deps
}

// NewOps constructs Ops over the given dependencies.
func NewOps(d Deps) *Ops {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.AuthLimiter == nil {
		d.AuthLimiter = metadata.NewAuthLimiter(5, 10)
	}
	return &Ops{d: d}
}

// Credentials is what the transport layer extracts from one inbound
// connection before any RPC is dispatched.
type Credentials struct {
	Username      string
	Password      string
	CertCN        string
	CertPresented bool
	PeerAddress   string
}

// Authenticate resolves creds against the current repository snapshot
// and returns the authenticated client's metadata. Unknown identities
// fall through to dynamic registration when the repository permits it;
// otherwise authentication fails outright.
func (o *Ops) Authenticate(ctx context.Context, creds Credentials) (*metadata.ClientMetadata, error) {
	if !o.d.AuthLimiter.Allow(creds.PeerAddress) {
		return nil, metadata.RateLimitedError(creds.PeerAddress)
	}

	snap := o.d.Loader.Current()

	claimedName := creds.Username
	if claimedName == "" {
		claimedName = creds.CertCN
	}

	if client, ok := snap.ClientByName(claimedName); ok {
		mc := metadata.Credentials{
			Password:            creds.Password,
			GlobalPasswordMatch: o.globalPasswordMatches(creds.Password),
			CertPresented:       creds.CertPresented,
			PeerAddress:         creds.PeerAddress,
		}
		if err := metadata.Authenticate(client, mc); err != nil {
			return nil, err
		}
	} else if snap.DefaultProfile() == "" || !snap.AllowDynamicRegistration() {
		return nil, &xmlutil.PipelineError{
			Kind:    xmlutil.KindMetadataAuthError,
			Message: fmt.Sprintf("unknown client %q and dynamic registration is disabled", claimedName),
		}
	}

	return o.d.Resolver.Resolve(ctx, metadata.Identity{
		ClaimedName: claimedName,
		PeerAddress: creds.PeerAddress,
		CertCN:      creds.CertCN,
	})
}

func (o *Ops) globalPasswordMatches(presented string) bool {
	if presented == "" || o.d.GlobalPassword == nil {
		return false
	}
	enclave := o.d.GlobalPassword()
	if enclave == nil {
		return false
	}
	buf, err := enclave.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return bytes.Equal(buf.Bytes(), []byte(presented))
}

// AssertProfile validates the requested profile against the group
// declared in the repository and, once accepted, records it on the
// session. Persisting a reprofiled client back into the repository's
// own metadata store (as a bcfg2-style database-backed deployment
// would) is out of scope here; see DESIGN.md.
func (o *Ops) AssertProfile(sess *Session, profile string) (bool, error) {
	snap := o.d.Loader.Current()
	group, ok := snap.GroupByName(profile)
	if !ok {
		return false, &xmlutil.PipelineError{
			Kind:    xmlutil.KindMetadataConsistencyError,
			Message: fmt.Sprintf("profile %q is not a declared group", profile),
		}
	}
	if !group.IsPublic && !group.IsDefault {
		return false, &xmlutil.PipelineError{
			Kind:    xmlutil.KindMetadataConsistencyError,
			Message: fmt.Sprintf("profile %q is neither public nor the default profile", profile),
		}
	}
	sess.SetProfile(profile)
	sess.advance(StateProfiled)
	return true, nil
}

// DeclareVersion records the client-reported agent version. Per
// spec.md §4.F this leaves the session's state unchanged.
func (o *Ops) DeclareVersion(sess *Session, version string) (bool, error) {
	sess.SetVersion(version)
	return true, nil
}

// GetProbes serializes the probe list for sess's client and marks the
// session as awaiting RecvProbeData.
func (o *Ops) GetProbes(ctx context.Context, sess *Session, meta *metadata.ClientMetadata) ([]byte, error) {
	body, err := o.d.Probes.GetProbes(ctx, sess.ClientName, meta.SortedGroups())
	if err != nil {
		return nil, err
	}
	sess.advance(StateProbesSent)
	return body, nil
}

// RecvProbeData folds a client's probe responses into its group
// memberships and invalidates the memoized metadata so the next
// GetConfig recomputes it with the new groups in effect.
func (o *Ops) RecvProbeData(ctx context.Context, sess *Session, body []byte) (bool, error) {
	if err := o.d.Probes.RecvProbeData(ctx, sess.ClientName, body); err != nil {
		return false, err
	}
	o.d.Resolver.Invalidate(sess.ClientName)
	sess.advance(StateProbed)
	return true, nil
}

// GetConfig enforces the probe-ordering contract, resolves fresh
// metadata, assembles every declared bundle, binds each bundle's
// abstract entries to literal ones, applies the Decision Filter, and
// serializes the result as a <Configuration> document.
func (o *Ops) GetConfig(ctx context.Context, sess *Session) ([]byte, error) {
	if o.d.Probes.HasPending(sess.ClientName) {
		return nil, &xmlutil.PipelineError{
			Kind:    xmlutil.KindProbeOrderError,
			Message: fmt.Sprintf("client %q has probes pending a RecvProbeData response", sess.ClientName),
		}
	}

	meta, err := o.d.Resolver.Resolve(ctx, metadata.Identity{ClaimedName: sess.ClientName})
	if err != nil {
		return nil, err
	}

	structures, err := o.d.Assembler.Assemble(ctx, meta)
	if err != nil {
		return nil, err
	}

	filter := o.d.Decisions()
	root := &xmlutil.Element{Name: "Configuration", Attrs: map[string]string{}}

	for _, s := range structures {
		bundleEl := &xmlutil.Element{Name: "Bundle", Attrs: map[string]string{"name": s.Name}}
		if s.Err != nil {
			bundleEl.Children = []*xmlutil.Element{structureErrorElement(s.Err)}
			root.Children = append(root.Children, bundleEl)
			observability.BindErrorsTotal.WithLabelValues(s.Name).Inc()
			continue
		}

		bound, err := o.d.Binder.BindStructure(ctx, sess.ClientName, s.Name, meta.Groups, s.Entries)
		if err != nil {
			return nil, err
		}
		bundleEl.Children = filter.Apply(bound)
		root.Children = append(root.Children, bundleEl)
	}

	sess.advance(StateServed)
	return encodeElement(root), nil
}

// GetDecisionList returns the whitelist or blacklist entries for mode,
// independent of which side the Decision Filter currently enforces.
func (o *Ops) GetDecisionList(mode string) ([]decision.Entry, error) {
	m, err := parseDecisionMode(mode)
	if err != nil {
		return nil, err
	}
	return o.d.DecisionList().ForMode(m), nil
}

// RecvStats parses a client's feedback document and submits it to the
// Statistics Intake queue, never blocking the caller past the queue's
// configured budget.
func (o *Ops) RecvStats(ctx context.Context, sess *Session, body []byte) (bool, error) {
	report, err := parseStatsReport(sess.ClientName, body)
	if err != nil {
		return false, err
	}
	o.d.StatsQueue.Submit(ctx, sess.ClientName, report)
	return true, nil
}

func parseDecisionMode(raw string) (config.DecisionMode, error) {
	switch raw {
	case "whitelist":
		return config.DecisionWhitelist, nil
	case "blacklist":
		return config.DecisionBlacklist, nil
	default:
		return config.DecisionOff, &xmlutil.PipelineError{
			Kind:    xmlutil.KindMetadataConsistencyError,
			Message: fmt.Sprintf("invalid decision mode %q: want whitelist or blacklist", raw),
		}
	}
}

// parseStatsReport decodes the <Statistics revision="..."> document a
// client sends to RecvStats: one <Entry name="..." kind="..."
// state="good|bad|modified|extra"/> per literal entry attempted.
func parseStatsReport(clientName string, body []byte) (plugin.StatsReport, error) {
	doc, err := xmlutil.Parse(body)
	if err != nil {
		return plugin.StatsReport{}, &xmlutil.PipelineError{Kind: xmlutil.KindPluginExecutionError, Message: fmt.Sprintf("parse stats: %v", err)}
	}

	report := plugin.StatsReport{
		ClientName: clientName,
		Good:       true,
		Revision:   doc.Attrs["revision"],
		Entries:    make(map[string]string),
	}
	for _, el := range doc.Children {
		if el.Name != "Entry" {
			continue
		}
		key := el.Attrs["kind"] + ":" + el.Attrs["name"]
		state := strings.ToLower(el.Attrs["state"])
		report.Entries[key] = state
		if state != "good" {
			report.Good = false
		}
	}
	return report, nil
}

// structureErrorElement renders a bundle-assembly failure on the wire.
// The "kind" attribute carries the semantic value spec.md documents
// (e.g. "missing" for an absent bundle), supplied via Diagnostic; the
// taxonomic PipelineError.Kind stays internal diagnostic information
// and is not the value observed on the wire.
func structureErrorElement(err *xmlutil.PipelineError) *xmlutil.Element {
	kind := err.Diagnostic
	if kind == "" {
		kind = err.Kind
	}
	return &xmlutil.Element{
		Name: "error",
		Attrs: map[string]string{
			"kind":    kind,
			"failure": err.Message,
		},
	}
}

// encodeElement renders an Element tree as raw XML, for embedding as
// the string payload of a GetConfig/GetProbes XML-RPC response.
func encodeElement(el *xmlutil.Element) []byte {
	raw, err := xmlutil.Canonicalize([]byte(elementToXML(el)))
	if err != nil {
		// Canonicalize only fails on malformed XML, which elementToXML
		// never produces; fall back to the uncanonicalized form rather
		// than losing the response.
		return []byte(elementToXML(el))
	}
	return raw
}
