// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xmlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsAttributesAndTrimsWhitespace(t *testing.T) {
	a, err := Canonicalize([]byte(`<Bundle name="nginx" priority="1">
		<Path name="/etc/nginx.conf"/>
	</Bundle>`))
	require.NoError(t, err)

	b, err := Canonicalize([]byte(`<Bundle priority="1" name="nginx"><Path name="/etc/nginx.conf"/></Bundle>`))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
}

func TestCanonicalizeIsDeterministicAcrossRuns(t *testing.T) {
	raw := []byte(`<Configuration><Bundle name="nginx"><Service name="nginx" status="on"/></Bundle></Configuration>`)

	first, err := Canonicalize(raw)
	require.NoError(t, err)
	second, err := Canonicalize(raw)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestCanonicalizeEscapesSpecialCharacters(t *testing.T) {
	raw := []byte(`<Path name="a &amp; b" value="&lt;tag&gt;">x &amp; y</Path>`)
	out, err := Canonicalize(raw)
	require.NoError(t, err)

	assert.Contains(t, string(out), `name="a &amp; b"`)
	assert.Contains(t, string(out), `value="&lt;tag&gt;"`)
	assert.Contains(t, string(out), `>x &amp; y<`)

	// the canonicalized form must itself parse back cleanly, proving
	// it is well-formed XML rather than just containing escape-like text.
	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "a & b", back.Attrs["name"])
	assert.Equal(t, "<tag>", back.Attrs["value"])
	assert.Equal(t, "x & y", back.Text)
}

func TestParseRejectsUnbalancedDocument(t *testing.T) {
	_, err := Parse([]byte(`<Bundle name="nginx">`))
	assert.Error(t, err)
}

func TestPipelineErrorFormatsWithDiagnostic(t *testing.T) {
	err := &PipelineError{Kind: KindStructureError, Message: "missing bundle", Diagnostic: `<error kind="missing"/>`}
	assert.Contains(t, err.Error(), "StructureError")
	assert.Contains(t, err.Error(), "missing bundle")
}

func TestFaultCodeMapping(t *testing.T) {
	assert.Equal(t, 1, FaultCode(KindMetadataAuthError))
	assert.Equal(t, 2, FaultCode(KindProbeOrderError))
	assert.Equal(t, 3, FaultCode(KindRepoLoadError))
	assert.Equal(t, 7, FaultCode("UnknownMethod"))
}
