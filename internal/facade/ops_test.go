// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/confd/internal/config"
	"github.com/openconf/confd/internal/decision"
	"github.com/openconf/confd/internal/generator"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/probe"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/stats"
	"github.com/openconf/confd/internal/structure"
	"github.com/openconf/confd/internal/xmlutil"
)

func writeTestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Metadata"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Rules"), 0750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Bundler"), 0750))

	require.NoError(t, os.WriteFile(filepath.Join(root, "Metadata", "groups.xml"), []byte(`
<Groups>
  <Group name="web" profile="true" public="true">
    <Bundle>nginx</Bundle>
  </Group>
</Groups>`), 0640))

	require.NoError(t, os.WriteFile(filepath.Join(root, "Metadata", "clients.xml"), []byte(`
<Clients>
  <Client name="c1.example.org" profile="web" password="c1-pass" floating="true"/>
</Clients>`), 0640))

	require.NoError(t, os.WriteFile(filepath.Join(root, "Rules", "path.xml"), []byte(`
<Rules priority="10">
  <Path name="/etc/nginx.conf" type="file" owner="root"/>
</Rules>`), 0640))

	require.NoError(t, os.WriteFile(filepath.Join(root, "Bundler", "nginx.xml"), []byte(`
<Bundle>
  <Path name="/etc/nginx.conf"/>
</Bundle>`), 0640))

	return root
}

type testPipeline struct {
	ops    *Ops
	loader *repo.Loader
}

func newTestPipeline(t *testing.T, defs ...probe.Def) *testPipeline {
	t.Helper()
	root := writeTestRepo(t)
	loader := repo.NewLoader(root, nil)
	require.NoError(t, loader.Reload())

	probes := metadata.NewProbeGroups()
	registry := generator.RegisterDefaultGenerators(plugin.NewRegistry())

	resolver := metadata.NewResolver(func() metadata.SnapshotView { return loader.Current() }, probes, registry)
	probeEngine := probe.NewEngine(func() []probe.Def { return defs }, registry, probes, nil)
	assembler := structure.NewAssembler(func() structure.BundleSource { return loader.Current() }, registry)
	binder := generator.NewBinder(func() generator.RuleSource { return loader.Current() }, registry, func() bool { return false }, nil)
	queue := stats.NewQueue(16, 10*time.Millisecond, plugin.NewRegistry(), nil)

	ops := NewOps(Deps{
		Loader:       loader,
		Resolver:     resolver,
		Probes:       probeEngine,
		Assembler:    assembler,
		Binder:       binder,
		DecisionList: func() *decision.List { return &decision.List{Whitelist: []decision.Entry{{Kind: "Path", Name: "/etc/nginx.conf"}}} },
		Decisions:    func() *decision.Filter { return decision.NewFilter(config.DecisionOff, nil) },
		StatsQueue:   queue,
		Sessions:     NewSessionStore(),
	})
	return &testPipeline{ops: ops, loader: loader}
}

func (p *testPipeline) session(t *testing.T, clientName string) *Session {
	t.Helper()
	sess := p.ops.d.Sessions.Get(clientName, "nonce-1")
	sess.advance(StateAuthenticated)
	return sess
}

func TestAuthenticateKnownClientSucceeds(t *testing.T) {
	p := newTestPipeline(t)
	meta, err := p.ops.Authenticate(context.Background(), Credentials{Username: "c1.example.org", Password: "c1-pass"})
	require.NoError(t, err)
	assert.Equal(t, "c1.example.org", meta.Hostname)
	assert.True(t, meta.HasGroup("web"))
}

func TestAuthenticateUnknownClientWithoutDynamicRegistrationFails(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.ops.Authenticate(context.Background(), Credentials{Username: "ghost.example.org"})
	assert.Error(t, err)
}

func TestAssertProfileAcceptsPublicGroup(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	ok, err := p.ops.AssertProfile(sess, "web")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateProfiled, sess.snapshot())
}

func TestAssertProfileRejectsUnknownProfile(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	_, err := p.ops.AssertProfile(sess, "does-not-exist")
	assert.Error(t, err)
}

func TestGetConfigBindsRuleMatchedEntry(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	body, err := p.ops.GetConfig(context.Background(), sess)
	require.NoError(t, err)

	doc, err := xmlutil.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "Configuration", doc.Name)
	require.Len(t, doc.Children, 1)
	assert.Equal(t, "nginx", doc.Children[0].Attrs["name"])
	require.Len(t, doc.Children[0].Children, 1)
	assert.Equal(t, "/etc/nginx.conf", doc.Children[0].Children[0].Attrs["name"])
	assert.Equal(t, StateServed, sess.snapshot())
}

func TestGetConfigMissingBundleEmitsSemanticErrorKind(t *testing.T) {
	root := writeTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Metadata", "groups.xml"), []byte(`
<Groups>
  <Group name="web" profile="true" public="true">
    <Bundle>nginx</Bundle>
    <Bundle>ghost</Bundle>
  </Group>
</Groups>`), 0640))

	loader := repo.NewLoader(root, nil)
	require.NoError(t, loader.Reload())
	probes := metadata.NewProbeGroups()
	registry := generator.RegisterDefaultGenerators(plugin.NewRegistry())
	resolver := metadata.NewResolver(func() metadata.SnapshotView { return loader.Current() }, probes, registry)
	assembler := structure.NewAssembler(func() structure.BundleSource { return loader.Current() }, registry)
	binder := generator.NewBinder(func() generator.RuleSource { return loader.Current() }, registry, func() bool { return false }, nil)
	queue := stats.NewQueue(16, 10*time.Millisecond, plugin.NewRegistry(), nil)

	ops := NewOps(Deps{
		Loader:       loader,
		Resolver:     resolver,
		Probes:       probe.NewEngine(func() []probe.Def { return nil }, registry, probes, nil),
		Assembler:    assembler,
		Binder:       binder,
		DecisionList: func() *decision.List { return &decision.List{} },
		Decisions:    func() *decision.Filter { return decision.NewFilter(config.DecisionOff, nil) },
		StatsQueue:   queue,
		Sessions:     NewSessionStore(),
	})
	sess := ops.d.Sessions.Get("c1.example.org", "nonce-1")
	sess.advance(StateAuthenticated)

	body, err := ops.GetConfig(context.Background(), sess)
	require.NoError(t, err)

	doc, err := xmlutil.Parse(body)
	require.NoError(t, err)

	var ghost *xmlutil.Element
	for _, bundle := range doc.Children {
		if bundle.Attrs["name"] == "ghost" {
			ghost = bundle
		}
	}
	require.NotNil(t, ghost, "missing bundle must still produce a <Bundle> element")
	require.Len(t, ghost.Children, 1)
	assert.Equal(t, "error", ghost.Children[0].Name)
	assert.Equal(t, "missing", ghost.Children[0].Attrs["kind"], "wire kind must be the semantic value, not the taxonomic PipelineError kind")
}

func TestGetConfigRejectsWhenProbesPending(t *testing.T) {
	p := newTestPipeline(t, probe.Def{Name: "arch", Source: "static", Script: "uname -m"})
	sess := p.session(t, "c1.example.org")

	_, err := p.ops.GetProbes(context.Background(), sess, &metadata.ClientMetadata{Hostname: "c1.example.org"})
	require.NoError(t, err)

	_, err = p.ops.GetConfig(context.Background(), sess)
	require.Error(t, err)
	pe, ok := err.(*xmlutil.PipelineError)
	require.True(t, ok)
	assert.Equal(t, xmlutil.KindProbeOrderError, pe.Kind)

	ok2, err := p.ops.RecvProbeData(context.Background(), sess, []byte(`
<ProbeData>
  <probe-data name="arch" source="static">x86_64</probe-data>
</ProbeData>`))
	require.NoError(t, err)
	assert.True(t, ok2)

	_, err = p.ops.GetConfig(context.Background(), sess)
	assert.NoError(t, err)
}

func TestRecvProbeDataInvalidatesMemoizedMetadata(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	first, err := p.ops.d.Resolver.Resolve(context.Background(), metadata.Identity{ClaimedName: "c1.example.org"})
	require.NoError(t, err)

	ok, err := p.ops.RecvProbeData(context.Background(), sess, []byte(`<ProbeData></ProbeData>`))
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := p.ops.d.Resolver.Resolve(context.Background(), metadata.Identity{ClaimedName: "c1.example.org"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateProbed, sess.snapshot())
}

func TestGetDecisionListReturnsConfiguredSide(t *testing.T) {
	p := newTestPipeline(t)

	entries, err := p.ops.GetDecisionList("whitelist")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Path", entries[0].Kind)

	_, err = p.ops.GetDecisionList("not-a-mode")
	assert.Error(t, err)
}

func TestRecvStatsSubmitsReport(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	ok, err := p.ops.RecvStats(context.Background(), sess, []byte(`
<Statistics revision="42">
  <Entry kind="Path" name="/etc/nginx.conf" state="good"/>
</Statistics>`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeclareVersionLeavesStateUnchanged(t *testing.T) {
	p := newTestPipeline(t)
	sess := p.session(t, "c1.example.org")

	ok, err := p.ops.DeclareVersion(sess, "1.4.0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.4.0", sess.Version)
	assert.Equal(t, StateAuthenticated, sess.snapshot())
}
