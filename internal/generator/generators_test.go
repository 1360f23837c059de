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
)

func TestRulesGeneratorBindRendersLiteralAttributes(t *testing.T) {
	gen := NewRulesGenerator("Path")
	entry := &repo.RuleEntry{Kind: "Path", Name: "/etc/hosts", Attrs: map[string]string{"type": "file", "owner": "root"}}

	tokens, err := gen.Bind(context.Background(), "c1", []plugin.BindCandidate{
		{RuleName: "/etc/hosts", Priority: 0, Payload: entry},
	})
	require.NoError(t, err)

	el, err := decodeLiteral("Path", tokens)
	require.NoError(t, err)
	assert.Equal(t, "Path", el.Name)
	assert.Equal(t, "/etc/hosts", el.Attrs["name"])
	assert.Equal(t, "file", el.Attrs["type"])
	assert.Equal(t, "root", el.Attrs["owner"])
}

func TestRulesGeneratorBindRejectsWrongCandidateCount(t *testing.T) {
	gen := NewRulesGenerator("Path")
	_, err := gen.Bind(context.Background(), "c1", nil)
	assert.Error(t, err)

	entry := &repo.RuleEntry{Kind: "Path", Name: "/etc/hosts"}
	_, err = gen.Bind(context.Background(), "c1", []plugin.BindCandidate{
		{RuleName: "/etc/hosts", Payload: entry},
		{RuleName: "/etc/hosts", Payload: entry},
	})
	assert.Error(t, err)
}

func TestRulesGeneratorBindRejectsWrongPayloadType(t *testing.T) {
	gen := NewRulesGenerator("Path")
	_, err := gen.Bind(context.Background(), "c1", []plugin.BindCandidate{
		{RuleName: "/etc/hosts", Payload: "not-a-rule-entry"},
	})
	assert.Error(t, err)
}

func TestRegisterDefaultGeneratorsCoversAllAbstractKinds(t *testing.T) {
	reg := RegisterDefaultGenerators(plugin.NewRegistry())
	for _, kind := range []string{"Path", "Service", "Package", "Action", "SELinux"} {
		_, ok := reg.Generator(kind)
		assert.True(t, ok, "expected generator registered for kind %q", kind)
	}
}
