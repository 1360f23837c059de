// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCTotal counts every XML-RPC method call the Request Façade serves,
// by method name and outcome ("ok" or the fault's PipelineError kind).
var RPCTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "confd_rpc_total",
	Help: "Total XML-RPC method calls served, by method and outcome.",
}, []string{"method", "outcome"})

// RPCDuration tracks per-method RPC latency.
var RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "confd_rpc_duration_seconds",
	Help:    "XML-RPC method call duration in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})

// BindErrorsTotal counts abstract entries that resolved to an <error>
// entry during binding, by abstract kind and failure reason class.
var BindErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "confd_bind_errors_total",
	Help: "Total abstract entries that failed to bind, by kind.",
}, []string{"kind"})

// SessionsActive tracks the number of client sessions currently held in
// server memory, by state-machine state.
var SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "confd_sessions_active",
	Help: "Active client sessions by state-machine state.",
}, []string{"state"})
