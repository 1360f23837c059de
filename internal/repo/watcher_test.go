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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollWatcherFiresOnModifiedFile(t *testing.T) {
	root := writeRepo(t)
	w := NewPollWatcher(10*time.Millisecond, nil)

	changed := make(chan struct{}, 1)
	go func() {
		_ = w.Watch(root, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()
	defer w.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Metadata", "clients.xml"), []byte(`<Clients/>`), 0640))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("poll watcher did not observe the modified file")
	}
}

func TestNoopWatcherNeverFires(t *testing.T) {
	w := NoopWatcher{}
	fired := false
	assert.NoError(t, w.Watch("/nonexistent", func() { fired = true }))
	assert.False(t, fired)
}
