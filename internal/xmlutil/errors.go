// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xmlutil

import "fmt"

// PipelineError is the structured error shape that crosses plugin and
// component boundaries: a kind, a human message, and an optional
// diagnostic value (for a structure error, the wire-facing kind such as
// "missing"). Nothing downstream of a component boundary
// ever sees a Go stack trace or a bare error string.
type PipelineError struct {
	Kind       string
	Message    string
	Diagnostic string
}

func (e *PipelineError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Diagnostic)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewPipelineError builds a PipelineError of the given kind.
func NewPipelineError(kind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// Well-known pipeline error kinds, named directly in spec.
const (
	KindRepoLoadError            = "RepoLoadError"
	KindRepoDegraded             = "RepoDegraded"
	KindStructureError           = "StructureError"
	KindProbeOrderError          = "ProbeOrderError"
	KindMetadataAuthError        = "MetadataAuthError"
	KindMetadataConsistencyError = "MetadataConsistencyError"
	KindMetadataRuntimeError     = "MetadataRuntimeError"
	KindBindError                = "BindError"
	KindPluginExecutionError     = "PluginExecutionError"
	KindUnknownMethod            = "UnknownMethod"
)

// FaultCode maps a PipelineError's kind to an XML-RPC fault code per the
// surface contract: 1=auth, 2=consistency, 3=runtime, 7=unknown method.
func FaultCode(kind string) int {
	switch kind {
	case KindMetadataAuthError:
		return 1
	case KindMetadataConsistencyError, KindProbeOrderError:
		return 2
	case KindUnknownMethod:
		return 7
	default:
		return 3
	}
}
