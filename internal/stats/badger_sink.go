// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/openconf/confd/internal/plugin"
)

// BadgerSink is the default plugin.StatisticsSink: one row per client
// interaction, keyed by clientName, the report's own revision and the
// time of storage so repeated RecvStats calls for the same client do not
// overwrite history.
// It is the local-storage tier described for confd's Statistics
// Intake — an external reports database is the out-of-scope cold tier
// a deployment may wire in as a second plugin.StatisticsSink instead.
type BadgerSink struct {
	db *badger.DB
}

// record is the on-disk shape of one stored report.
type record struct {
	ClientName string            `json:"client_name"`
	Good       bool              `json:"good"`
	Revision   string            `json:"revision"`
	Entries    map[string]string `json:"entries"`
	StoredAt   int64             `json:"stored_at"`
}

// OpenBadgerSink opens (or creates) a BadgerDB at path and returns a
// BadgerSink backed by it.
func OpenBadgerSink(path string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true).WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open statistics store at %s: %w", path, err)
	}
	return &BadgerSink{db: db}, nil
}

// storedAtNow lets tests substitute a deterministic clock.
var storedAtNow = func() int64 { return time.Now().Unix() }

func statsKey(clientName, revision string, storedAtNano int64) []byte {
	return []byte(fmt.Sprintf("stats/%s/%s/%d", clientName, revision, storedAtNano))
}

// Record implements plugin.StatisticsSink.
func (s *BadgerSink) Record(ctx context.Context, clientName string, report plugin.StatsReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := record{
		ClientName: clientName,
		Good:       report.Good,
		Revision:   report.Revision,
		Entries:    report.Entries,
		StoredAt:   storedAtNow(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal stats record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statsKey(clientName, report.Revision, time.Now().UnixNano()), data)
	})
}

// ForClient returns every stored report for clientName in BadgerDB key
// order (by revision string, then by time of storage), for inspection
// tooling.
func (s *BadgerSink) ForClient(clientName string) ([]plugin.StatsReport, error) {
	prefix := []byte(fmt.Sprintf("stats/%s/", clientName))
	var out []plugin.StatsReport
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, plugin.StatsReport{ClientName: rec.ClientName, Good: rec.Good, Revision: rec.Revision, Entries: rec.Entries})
		}
		return nil
	})
	return out, err
}

// Close implements plugin.StatisticsSink.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

var _ plugin.StatisticsSink = (*BadgerSink)(nil)
