// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRPCTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(RPCTotal.WithLabelValues("GetConfig", "ok"))
	RPCTotal.WithLabelValues("GetConfig", "ok").Inc()
	after := testutil.ToFloat64(RPCTotal.WithLabelValues("GetConfig", "ok"))
	assert.Equal(t, before+1, after)
}

func TestBindErrorsTotalTracksByKind(t *testing.T) {
	before := testutil.ToFloat64(BindErrorsTotal.WithLabelValues("Path"))
	BindErrorsTotal.WithLabelValues("Path").Inc()
	after := testutil.ToFloat64(BindErrorsTotal.WithLabelValues("Path"))
	assert.Equal(t, before+1, after)
}
