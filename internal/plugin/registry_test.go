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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMetadataSource struct {
	groups []string
}

func (s stubMetadataSource) Groups(context.Context, string) ([]string, error) {
	return s.groups, nil
}

type stubGenerator struct {
	kind string
}

func (s stubGenerator) Kind() string { return s.kind }
func (s stubGenerator) Bind(context.Context, string, []BindCandidate) ([]xml.Token, error) {
	return nil, nil
}

func TestRegistryCollectGroupsUnionsSourcesInOrder(t *testing.T) {
	reg := NewRegistry().
		WithMetadataSource(stubMetadataSource{groups: []string{"a", "b"}}).
		WithMetadataSource(stubMetadataSource{groups: []string{"c"}})

	groups, err := reg.CollectGroups(context.Background(), "host1.example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, groups)
}

func TestRegistryEmptyRegistryCollectsNothing(t *testing.T) {
	reg := NewRegistry()
	groups, err := reg.CollectGroups(context.Background(), "host1.example.org")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestRegistryGeneratorLookup(t *testing.T) {
	reg := NewRegistry().WithGenerator(stubGenerator{kind: "Path"})

	gen, ok := reg.Generator("Path")
	require.True(t, ok)
	assert.Equal(t, "Path", gen.Kind())

	_, ok = reg.Generator("Service")
	assert.False(t, ok)
}

func TestRegistryWithGeneratorReplacesSameKind(t *testing.T) {
	reg := NewRegistry().
		WithGenerator(stubGenerator{kind: "Path"}).
		WithGenerator(stubGenerator{kind: "Path"})

	assert.Len(t, reg.GeneratorKinds(), 1)
}
