// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package structure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/xmlutil"
)

type fakeSource struct {
	bundles map[string]*repo.BundleDoc
}

func (f fakeSource) BundleByName(name string) (*repo.BundleDoc, bool) {
	b, ok := f.bundles[name]
	return b, ok
}

func mustParse(t *testing.T, raw string) *xmlutil.Element {
	t.Helper()
	el, err := xmlutil.Parse([]byte(raw))
	require.NoError(t, err)
	return el
}

func TestAssembleRendersKnownBundle(t *testing.T) {
	src := fakeSource{bundles: map[string]*repo.BundleDoc{
		"nginx": {Name: "nginx", Root: mustParse(t, `<Bundle name="nginx"><Path name="/etc/nginx/nginx.conf"/></Bundle>`)},
	}}
	asm := NewAssembler(func() BundleSource { return src }, plugin.NewRegistry())

	meta := &metadata.ClientMetadata{Hostname: "c1", Bundles: []string{"nginx"}, Groups: map[string]struct{}{}}
	results, err := asm.Assemble(context.Background(), meta)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Err)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, "Path", results[0].Entries[0].Name)
}

func TestAssembleMissingBundleProducesStructureError(t *testing.T) {
	src := fakeSource{bundles: map[string]*repo.BundleDoc{}}
	asm := NewAssembler(func() BundleSource { return src }, plugin.NewRegistry())

	meta := &metadata.ClientMetadata{Hostname: "c1", Bundles: []string{"missing"}, Groups: map[string]struct{}{}}
	results, err := asm.Assemble(context.Background(), meta)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, xmlutil.KindStructureError, results[0].Err.Kind)
	assert.Equal(t, "missing", results[0].Err.Diagnostic, "wire-facing semantic kind per spec.md's Boundary behaviors")
}

func TestAssembleRendersTemplatedAttribute(t *testing.T) {
	src := fakeSource{bundles: map[string]*repo.BundleDoc{
		"host-info": {Name: "host-info", Root: mustParse(t, `<Bundle><Path name="{{.Hostname}}"/></Bundle>`)},
	}}
	asm := NewAssembler(func() BundleSource { return src }, plugin.NewRegistry())

	meta := &metadata.ClientMetadata{Hostname: "web1.example.org", Bundles: []string{"host-info"}, Groups: map[string]struct{}{}}
	results, err := asm.Assemble(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, "web1.example.org", results[0].Entries[0].Attrs["name"])
}
