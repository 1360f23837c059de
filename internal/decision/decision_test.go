// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/confd/internal/config"
	"github.com/openconf/confd/internal/xmlutil"
)

func entries() []*xmlutil.Element {
	return []*xmlutil.Element{
		{Name: "Path", Attrs: map[string]string{"name": "/etc/hosts"}},
		{Name: "Path", Attrs: map[string]string{"name": "/etc/passwd"}},
		{Name: "Service", Attrs: map[string]string{"name": "httpd"}},
	}
}

func TestFilterOffPassesEverythingThrough(t *testing.T) {
	f := NewFilter(config.DecisionOff, nil)
	out := f.Apply(entries())
	assert.Len(t, out, 3)
}

func TestFilterWhitelistKeepsOnlyListedEntries(t *testing.T) {
	list := &List{Whitelist: []Entry{{Kind: "Path", Name: "/etc/hosts"}}}
	f := NewFilter(config.DecisionWhitelist, list)
	out := f.Apply(entries())
	require.Len(t, out, 1)
	assert.Equal(t, "/etc/hosts", out[0].Attrs["name"])
}

func TestFilterBlacklistRemovesListedEntries(t *testing.T) {
	list := &List{Blacklist: []Entry{{Kind: "Path", Name: "/etc/passwd"}}}
	f := NewFilter(config.DecisionBlacklist, list)
	out := f.Apply(entries())
	require.Len(t, out, 2)
	for _, e := range out {
		assert.NotEqual(t, "/etc/passwd", e.Attrs["name"])
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	list := &List{Blacklist: []Entry{{Kind: "Service", Name: "httpd"}}}
	f := NewFilter(config.DecisionBlacklist, list)
	out := f.Apply(entries())
	require.Len(t, out, 2)
	assert.Equal(t, "/etc/hosts", out[0].Attrs["name"])
	assert.Equal(t, "/etc/passwd", out[1].Attrs["name"])
}

func TestLoadParsesYAMLDecisionList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decisions.yaml")
	content := "whitelist:\n  - kind: Path\n    name: /etc/hosts\nblacklist:\n  - kind: Service\n    name: telnet\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list.Whitelist, 1)
	require.Len(t, list.Blacklist, 1)
	assert.Equal(t, "Path", list.Whitelist[0].Kind)
	assert.Equal(t, "telnet", list.Blacklist[0].Name)
}

func TestLoadEmptyPathReturnsEmptyList(t *testing.T) {
	list, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, list.Whitelist)
	assert.Empty(t, list.Blacklist)
}

func TestGetDecisionListReturnsRequestedModeRegardlessOfActiveFilter(t *testing.T) {
	list := &List{
		Whitelist: []Entry{{Kind: "Path", Name: "/etc/hosts"}},
		Blacklist: []Entry{{Kind: "Service", Name: "telnet"}},
	}
	assert.Equal(t, list.Whitelist, list.ForMode(config.DecisionWhitelist))
	assert.Equal(t, list.Blacklist, list.ForMode(config.DecisionBlacklist))
	assert.Nil(t, list.ForMode(config.DecisionOff))
}
