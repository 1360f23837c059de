// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/xmlutil"
)

type fakeRuleSource struct {
	sets []repo.RuleSet
}

func (f fakeRuleSource) RuleSets() []repo.RuleSet { return f.sets }

func trueFn() bool  { return true }
func falseFn() bool { return false }

func TestBindAllRendersMatchedRule(t *testing.T) {
	sets := []repo.RuleSet{
		{PluginName: "rules1", Priority: 0, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"type": "file", "owner": "root"}},
		}},
	}
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{sets: sets} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "Path", Attrs: map[string]string{"name": "/etc/hosts"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "Path", bound[0].Name)
	assert.Equal(t, "file", bound[0].Attrs["type"])
	assert.Equal(t, "/etc/hosts", bound[0].Attrs["name"])
}

func TestBindAllNoMatchProducesErrorEntry(t *testing.T) {
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "Path", Attrs: map[string]string{"name": "/etc/missing"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "error", bound[0].Name)
	assert.Equal(t, "no matching rule", bound[0].Attrs["failure"])
}

func TestBindAllBoundEntryBypassesBinder(t *testing.T) {
	reg := plugin.NewRegistry()
	b := NewBinder(func() RuleSource { return fakeRuleSource{} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "BoundPath", Attrs: map[string]string{"name": "/etc/hosts", "type": "file"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "Path", bound[0].Name)
	assert.Equal(t, "file", bound[0].Attrs["type"])
}

func TestRankCandidatesExactBeatsRegexWithinSamePlugin(t *testing.T) {
	sets := []repo.RuleSet{
		{PluginName: "rules1", Priority: 50, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: ".*", IsRegex: true, Attrs: map[string]string{"owner": "from-regex"}},
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"owner": "from-literal"}},
		}},
	}
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{sets: sets} }, reg, trueFn, nil)

	entries := []*xmlutil.Element{{Name: "Path", Attrs: map[string]string{"name": "/etc/hosts"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	assert.Equal(t, "from-literal", bound[0].Attrs["owner"])
}

func TestRankCandidatesHigherPriorityWins(t *testing.T) {
	sets := []repo.RuleSet{
		{PluginName: "rules-low", Priority: 10, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"owner": "low"}},
		}},
		{PluginName: "rules-high", Priority: 50, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"owner": "high"}},
		}},
	}
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{sets: sets} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "Path", Attrs: map[string]string{"name": "/etc/hosts"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	assert.Equal(t, "high", bound[0].Attrs["owner"])
}

func TestRankCandidatesEqualPriorityTieBreaksByRegistrationOrder(t *testing.T) {
	sets := []repo.RuleSet{
		{PluginName: "rules1", Priority: 50, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"owner": "first"}},
		}},
		{PluginName: "rules2", Priority: 50, Entries: []repo.RuleEntry{
			{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"owner": "second"}},
		}},
	}
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{sets: sets} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "Path", Attrs: map[string]string{"name": "/etc/hosts"}}}
	bound, err := b.BindAll(context.Background(), "c1", nil, entries)
	require.NoError(t, err)
	assert.Equal(t, "second", bound[0].Attrs["owner"])
}

func TestCollectCandidatesAppliesGroupSelectors(t *testing.T) {
	sets := []repo.RuleSet{
		{PluginName: "rules1", Priority: 0, Entries: []repo.RuleEntry{
			{Kind: "Service", Name: "httpd", Groups: []string{"apache-server"}, Attrs: map[string]string{"status": "on"}},
		}},
	}
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	b := NewBinder(func() RuleSource { return fakeRuleSource{sets: sets} }, reg, falseFn, nil)

	entries := []*xmlutil.Element{{Name: "Service", Attrs: map[string]string{"name": "httpd"}}}

	bound, err := b.BindAll(context.Background(), "c1", map[string]struct{}{}, entries)
	require.NoError(t, err)
	assert.Equal(t, "error", bound[0].Name)

	bound, err = b.BindAll(context.Background(), "c1", map[string]struct{}{"apache-server": {}}, entries)
	require.NoError(t, err)
	assert.Equal(t, "Service", bound[0].Name)
}
