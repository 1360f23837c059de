// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFlagsDanglingBundleReference(t *testing.T) {
	root := writeRepo(t)
	l := NewLoader(root, nil)
	require.NoError(t, l.Reload())

	findings := l.Validate()
	require.NotEmpty(t, findings)
	found := false
	for _, f := range findings {
		if f.Severity == SeverityError && f.Message == `group "web" declares bundle "nginx", which has no Bundler/nginx.xml` {
			found = true
		}
	}
	assert.True(t, found, "expected a dangling-bundle finding, got %v", findings)
}

func TestValidateIsCleanWhenEveryReferenceResolves(t *testing.T) {
	root := writeRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Bundler", "nginx.xml"), []byte(`<Bundle/>`), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Bundler", "httpd.xml"), []byte(`<Bundle/>`), 0640))

	l := NewLoader(root, nil)
	require.NoError(t, l.Reload())

	assert.Empty(t, l.Validate())
}

func TestValidateFlagsUnknownProfileOnClient(t *testing.T) {
	root := writeRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Metadata", "clients.xml"), []byte(`
<Clients>
  <Client name="c1.example.org" profile="does-not-exist"/>
</Clients>`), 0640))

	l := NewLoader(root, nil)
	require.NoError(t, l.Reload())

	findings := l.Validate()
	require.NotEmpty(t, findings)
	assert.Equal(t, SeverityError, findings[len(findings)-1].Severity)
}
