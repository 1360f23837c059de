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
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openconf/confd/internal/logging"
)

// Watcher notifies a Loader that the repository changed on disk. The
// monitor body (what to do with that event — debounce, reload
// scheduling) lives outside this package; Watcher only needs to invoke
// the callback confd wires it with.
type Watcher interface {
	// Watch blocks, invoking onChange once per detected change, until
	// Close is called.
	Watch(root string, onChange func()) error
	Close() error
}

// FSNotifyWatcher is the default Watcher, backed by fsnotify. It
// watches the Metadata/, Bundler/, and Rules/ directories under the
// repository root; their subdirectories are not watched.
type FSNotifyWatcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	done    chan struct{}
}

// NewFSNotifyWatcher constructs an FSNotifyWatcher.
func NewFSNotifyWatcher(logger *logging.Logger) (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FSNotifyWatcher{watcher: w, logger: logger, done: make(chan struct{})}, nil
}

// Watch implements Watcher.
func (w *FSNotifyWatcher) Watch(root string, onChange func()) error {
	for _, sub := range []string{"Metadata", "Bundler", "Rules"} {
		dir := filepath.Join(root, sub)
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("failed to watch repository subdirectory", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("repository change detected", "path", event.Name, "op", event.Op.String())
				onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watch error", "error", err)
		case <-w.done:
			return nil
		}
	}
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// PollWatcher backs server.filemonitor: poll, for filesystems where
// fsnotify's inotify/kqueue backend is unavailable (e.g. some network
// mounts and most container overlay filesystems under emulation).
type PollWatcher struct {
	interval time.Duration
	logger   *logging.Logger
	done     chan struct{}
}

// NewPollWatcher constructs a PollWatcher that checks every interval.
func NewPollWatcher(interval time.Duration, logger *logging.Logger) *PollWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PollWatcher{interval: interval, logger: logger, done: make(chan struct{})}
}

// Watch implements Watcher by comparing the newest mtime under
// Metadata/, Bundler/, and Rules/ against the last-seen value on each
// tick.
func (w *PollWatcher) Watch(root string, onChange func()) error {
	last := w.newestMtime(root)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			current := w.newestMtime(root)
			if current.After(last) {
				last = current
				onChange()
			}
		case <-w.done:
			return nil
		}
	}
}

func (w *PollWatcher) newestMtime(root string) time.Time {
	var newest time.Time
	for _, sub := range []string{"Metadata", "Bundler", "Rules"} {
		dir := filepath.Join(root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
	}
	return newest
}

// Close stops the watcher.
func (w *PollWatcher) Close() error {
	close(w.done)
	return nil
}

// NoopWatcher never fires change events, and its Watch returns
// immediately rather than blocking; used when server.filemonitor is
// configured to "none".
type NoopWatcher struct{}

func (NoopWatcher) Watch(_ string, _ func()) error { return nil }
func (NoopWatcher) Close() error                   { return nil }

var _ Watcher = (*FSNotifyWatcher)(nil)
var _ Watcher = (*PollWatcher)(nil)
var _ Watcher = NoopWatcher{}
