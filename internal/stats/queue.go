// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stats implements the Statistics Intake: a bounded,
// drop-oldest queue accepting RecvStats reports off the request path,
// drained into a pluggable plugin.StatisticsSink.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/plugin"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confd_stats_queue_depth",
		Help: "Current number of buffered RecvStats reports awaiting drain.",
	})
	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confd_stats_queue_dropped_total",
		Help: "Total RecvStats reports dropped because the queue was full.",
	})
	queueAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confd_stats_queue_accepted_total",
		Help: "Total RecvStats reports accepted into the queue.",
	})
	sinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confd_stats_sink_errors_total",
		Help: "Total errors returned by the statistics sink while draining.",
	})
)

// Queue buffers plugin.StatsReport values off the RecvStats request
// path. Submit never blocks longer than the configured budget: once
// full, the oldest buffered report is dropped to make room for the
// newest, and the drop counter increments. One background goroutine
// drains the queue into the registered plugin.StatisticsSink chain.
type Queue struct {
	mu       sync.Mutex
	buf      []item
	capacity int
	budget   time.Duration

	registry *plugin.Registry
	logger   *logging.Logger

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

type item struct {
	clientName string
	report     plugin.StatsReport
}

// NewQueue constructs a Queue with the given capacity and per-Submit
// blocking budget, draining into registry's StatisticsSink chain.
func NewQueue(capacity int, budget time.Duration, registry *plugin.Registry, logger *logging.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	q := &Queue{
		capacity: capacity,
		budget:   budget,
		registry: registry,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	return q
}

// Run drains the queue until ctx is canceled. Call once, typically from
// a dedicated goroutine started alongside the server.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.drainAll(context.Background())
			return
		case <-q.notify:
			q.drainAll(ctx)
		}
	}
}

// Submit enqueues a report for clientName. It never blocks longer than
// the queue's configured budget; if the queue is at capacity once the
// budget elapses, the oldest entry is dropped to make room.
func (q *Queue) Submit(ctx context.Context, clientName string, report plugin.StatsReport) {
	deadline := time.Now().Add(q.budget)
	for {
		q.mu.Lock()
		if len(q.buf) < q.capacity {
			q.buf = append(q.buf, item{clientName: clientName, report: report})
			depth := len(q.buf)
			q.mu.Unlock()
			queueAccepted.Inc()
			queueDepth.Set(float64(depth))
			q.wake()
			return
		}
		q.mu.Unlock()

		if q.budget <= 0 || time.Now().After(deadline) {
			q.dropOldestAndPush(clientName, report)
			return
		}
		select {
		case <-ctx.Done():
			q.dropOldestAndPush(clientName, report)
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (q *Queue) dropOldestAndPush(clientName string, report plugin.StatsReport) {
	q.mu.Lock()
	if len(q.buf) >= q.capacity {
		q.buf = q.buf[1:]
		queueDropped.Inc()
	}
	q.buf = append(q.buf, item{clientName: clientName, report: report})
	depth := len(q.buf)
	q.mu.Unlock()
	queueAccepted.Inc()
	queueDepth.Set(float64(depth))
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) drainAll(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.buf[0]
		q.buf = q.buf[1:]
		queueDepth.Set(float64(len(q.buf)))
		q.mu.Unlock()

		if q.registry != nil {
			if err := q.registry.RecordStats(ctx, next.clientName, next.report); err != nil {
				sinkErrors.Inc()
				q.logger.Warn("statistics sink error", "client", next.clientName, "error", err)
			}
		}
	}
}

// Depth returns the current buffered item count, for tests and health
// checks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close waits for Run to return after its context is canceled.
func (q *Queue) Close() {
	q.once.Do(func() {
		<-q.done
	})
}
