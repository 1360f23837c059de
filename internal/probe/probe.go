// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package probe implements the two-phase probe subsystem: harvesting
// probe scripts from the repository, serializing them for GetProbes,
// and folding RecvProbeData responses into per-client group state that
// the Metadata Resolver consumes on the next Resolve call. Connector
// data returned by a plugin's ReceiveData is not retained.
package probe

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/xmlutil"
)

// Def is one probe script harvested from the repository's Probes/
// tree: Probes/<source>/<name>, where the first line may be a shebang
// naming the interpreter.
type Def struct {
	Name        string
	Source      string
	Interpreter string
	Script      string
}

// LoadDefs walks root/Probes/<source>/<name> and returns every probe
// script found, sorted by (source, name) for deterministic GetProbes
// output. A missing Probes directory yields an empty, non-error
// result — most repositories declare zero static probes.
func LoadDefs(root string) ([]Def, error) {
	base := filepath.Join(root, "Probes")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read Probes dir: %w", err)
	}

	var defs []Def
	for _, sourceEntry := range entries {
		if !sourceEntry.IsDir() {
			continue
		}
		source := sourceEntry.Name()
		sourceDir := filepath.Join(base, source)
		files, err := os.ReadDir(sourceDir)
		if err != nil {
			return nil, fmt.Errorf("read Probes/%s: %w", source, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(sourceDir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read Probes/%s/%s: %w", source, f.Name(), err)
			}
			interpreter, script := splitShebang(string(raw))
			defs = append(defs, Def{
				Name:        f.Name(),
				Source:      source,
				Interpreter: interpreter,
				Script:      script,
			})
		}
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Source != defs[j].Source {
			return defs[i].Source < defs[j].Source
		}
		return defs[i].Name < defs[j].Name
	})
	return defs, nil
}

func splitShebang(content string) (interpreter, script string) {
	if !strings.HasPrefix(content, "#!") {
		return "", content
	}
	nl := strings.IndexByte(content, '\n')
	if nl < 0 {
		return strings.TrimPrefix(content, "#!"), ""
	}
	return strings.TrimSpace(strings.TrimPrefix(content[:nl], "#!")), content[nl+1:]
}

// Engine is the request-facing half of the probe subsystem: it
// serializes GetProbes responses from the repository's static Defs
// plus any plugin.ProbeProducer contributions, and folds
// RecvProbeData responses into the ProbeGroups store the Metadata
// Resolver reads from.
type Engine struct {
	defs     func() []Def
	registry *plugin.Registry
	probes   *metadata.ProbeGroups
	logger   *logging.Logger

	mu      sync.Mutex
	pending map[string]map[string]struct{} // client -> outstanding probe "source/name" keys
}

// NewEngine constructs an Engine. defs is called on every GetProbes so
// a repository reload's newly-added probes take effect without
// reconstructing the Engine.
func NewEngine(defs func() []Def, registry *plugin.Registry, probes *metadata.ProbeGroups, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		defs:     defs,
		registry: registry,
		probes:   probes,
		logger:   logger,
		pending:  make(map[string]map[string]struct{}),
	}
}

// probeKey identifies one probe uniquely across plugins.
func probeKey(source, name string) string { return source + "/" + name }

// GetProbes serializes the <probes> document for clientName and
// records every probe name as outstanding until a matching
// RecvProbeData response arrives.
func (e *Engine) GetProbes(ctx context.Context, clientName string, groups []string) ([]byte, error) {
	outstanding := make(map[string]struct{})

	var buf strings.Builder
	buf.WriteString("<probes>")
	for _, d := range e.defs() {
		fmt.Fprintf(&buf, "<probe name=%q source=%q", xmlEscapeAttr(d.Name), xmlEscapeAttr(d.Source))
		if d.Interpreter != "" {
			fmt.Fprintf(&buf, " interpreter=%q", xmlEscapeAttr(d.Interpreter))
		}
		buf.WriteString(">")
		xml.EscapeText(&buf, []byte(d.Script))
		buf.WriteString("</probe>")
		outstanding[probeKey(d.Source, d.Name)] = struct{}{}
	}

	if e.registry != nil {
		tokens, err := e.registry.CollectProbes(ctx, clientName, groups)
		if err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindPluginExecutionError, Message: err.Error()}
		}
		if len(tokens) > 0 {
			frag, err := encodeTokens(tokens)
			if err != nil {
				return nil, err
			}
			buf.Write(frag)
		}
		for _, tok := range tokens {
			if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "probe" {
				var name, source string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "name":
						name = a.Value
					case "source":
						source = a.Value
					}
				}
				outstanding[probeKey(source, name)] = struct{}{}
			}
		}
	}
	buf.WriteString("</probes>")

	e.mu.Lock()
	if len(outstanding) > 0 {
		e.pending[clientName] = outstanding
	} else {
		delete(e.pending, clientName)
	}
	e.mu.Unlock()
	return []byte(buf.String()), nil
}

// HasPending reports whether clientName has outstanding probes from
// its most recent GetProbes call that have not yet been satisfied by
// RecvProbeData. The Request Façade consults this to enforce the
// ProbeOrderError contract.
func (e *Engine) HasPending(clientName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending[clientName]) > 0
}

// RecvProbeData parses a <ProbeData> document, dispatches each
// <probe-data> element to its originating plugin (if registered),
// folds group: -prefixed strings and plugin-contributed groups into
// the ProbeGroups store, and clears the corresponding pending entry.
func (e *Engine) RecvProbeData(ctx context.Context, clientName string, body []byte) error {
	doc, err := xmlutil.Parse(body)
	if err != nil {
		return &xmlutil.PipelineError{Kind: xmlutil.KindPluginExecutionError, Message: fmt.Sprintf("parse probe data: %v", err)}
	}

	var groups []string
	for _, el := range doc.Children {
		if el.Name != "probe-data" {
			continue
		}
		name := el.Attrs["name"]
		source := el.Attrs["source"]
		output := el.Text

		e.mu.Lock()
		if pend, ok := e.pending[clientName]; ok {
			delete(pend, probeKey(source, name))
		}
		e.mu.Unlock()

		if e.registry != nil {
			result, dispatched, err := e.registry.DispatchProbeData(ctx, clientName, source, name, output)
			if err != nil {
				e.logger.Warn("probe data dispatch failed, continuing", "client", clientName, "source", source, "probe", name, "error", err)
				continue
			}
			if dispatched {
				groups = append(groups, result.Groups...)
				continue
			}
		}

		groups = append(groups, parseInlineGroups(output)...)
	}

	existing := e.probes.Get(clientName)
	e.probes.Set(clientName, append(existing, groups...))
	return nil
}

// parseInlineGroups extracts "group:<name>" tokens from raw probe
// output for plugins with no registered ReceiveData handler.
func parseInlineGroups(output string) []string {
	var groups []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if g, ok := strings.CutPrefix(line, "group:"); ok {
			groups = append(groups, strings.TrimSpace(g))
		}
	}
	return groups
}

func xmlEscapeAttr(s string) string {
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func encodeTokens(tokens []xml.Token) ([]byte, error) {
	var buf strings.Builder
	enc := xml.NewEncoder(&buf)
	for _, t := range tokens {
		if err := enc.EncodeToken(t); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
