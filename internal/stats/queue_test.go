// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/confd/internal/plugin"
)

type recordingSink struct {
	mu      sync.Mutex
	reports []plugin.StatsReport
}

func (s *recordingSink) Record(_ context.Context, clientName string, report plugin.StatsReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.ClientName = clientName
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestQueueDrainsSubmittedReports(t *testing.T) {
	sink := &recordingSink{}
	reg := plugin.NewRegistry().WithStatisticsSink(sink)
	q := NewQueue(8, 50*time.Millisecond, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)

	q.Submit(context.Background(), "client-a", plugin.StatsReport{Good: true, Revision: "r1"})
	q.Submit(context.Background(), "client-b", plugin.StatsReport{Good: false, Revision: "r1"})

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	q.Close()
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	reg := plugin.NewRegistry()
	q := NewQueue(2, 0, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = ctx

	q.mu.Lock()
	q.buf = append(q.buf, item{clientName: "a"}, item{clientName: "b"})
	q.mu.Unlock()

	q.Submit(context.Background(), "c", plugin.StatsReport{Revision: "r1"})

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.buf, 2)
	assert.Equal(t, "b", q.buf[0].clientName)
	assert.Equal(t, "c", q.buf[1].clientName)
}

func TestQueueDepthReflectsBufferedCount(t *testing.T) {
	q := NewQueue(4, 0, plugin.NewRegistry(), nil)
	q.mu.Lock()
	q.buf = append(q.buf, item{clientName: "a"})
	q.mu.Unlock()
	assert.Equal(t, 1, q.Depth())
}
