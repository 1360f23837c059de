// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		assert.Equal(t, want, level.String())
	}
}

func TestLoggerExportsAboveConfiguredLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelWarn, Service: "confd-test", Quiet: true, Exporter: exporter})

	logger.Info("should not export")
	logger.Warn("should export", "client", "c1.example.org")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 5*time.Millisecond, "export runs on its own goroutine")
}

func TestLoggerWithAddsAttributesWithoutMutatingParent(t *testing.T) {
	parent := Default()
	child := parent.With("session", "abc123")

	assert.NotSame(t, parent, child)
	assert.Equal(t, parent.config, child.config)
}
