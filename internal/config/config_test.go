// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "confd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
metadata:
  use_database: false
rules:
  regex: true
server:
  decision: blacklist
  protocol: http
  repository: /var/lib/confd
  listen: 0.0.0.0:6789
  password: s3cret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Metadata.UseDatabase)
	assert.True(t, cfg.Rules.Regex)
	assert.Equal(t, DecisionBlacklist, cfg.Server.Decision)
	assert.Equal(t, ProtocolHTTP, cfg.Server.Protocol)
	assert.Equal(t, "", cfg.Server.Password, "plaintext password must be zeroed after sealing")
	assert.NotNil(t, cfg.SealedPassword())
}

func TestLoadRejectsUnknownDecisionMode(t *testing.T) {
	path := writeConfig(t, `
server:
  decision: allow-everything
  repository: /var/lib/confd
  listen: 0.0.0.0:6789
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresCertAndKeyForHTTPS(t *testing.T) {
	path := writeConfig(t, `
server:
  protocol: https
  repository: /var/lib/confd
  listen: 0.0.0.0:6789
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "server.cert and server.key")
}

func TestLoadRejectsMissingRepository(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: 0.0.0.0:6789
`)

	_, err := Load(path)
	assert.Error(t, err)
}
