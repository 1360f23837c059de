// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package structure expands a client's resolved metadata into an
// ordered stream of abstract entries by rendering each declared bundle
// against the frozen ClientMetadata. Rendering happens here, not at
// parse time, so a single Bundler document can serve many clients with
// different literal attribute values.
package structure

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/xmlutil"
)

// BundleSource is the subset of repo.Snapshot the Assembler needs.
type BundleSource interface {
	BundleByName(name string) (*repo.BundleDoc, bool)
}

// Structure is one rendered bundle (or synthetic host structure) ready
// for the Generator Binder.
type Structure struct {
	Name    string
	Entries []*xmlutil.Element
	Err     *xmlutil.PipelineError // set iff the bundle could not be assembled at all
}

// Assembler expands a ClientMetadata into ordered Structures.
type Assembler struct {
	source     func() BundleSource
	registry   *plugin.Registry
	logger     *logging.Logger
	maxParallel int
}

// Option configures an Assembler at construction.
type Option func(*Assembler)

// WithMaxParallel bounds how many bundles render concurrently. Defaults
// to 4.
func WithMaxParallel(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxParallel = n
		}
	}
}

// WithLogger overrides the Assembler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler constructs an Assembler. source is called on every
// Assemble so a repository reload's bundle changes take effect without
// reconstructing the Assembler.
func NewAssembler(source func() BundleSource, registry *plugin.Registry, opts ...Option) *Assembler {
	a := &Assembler{
		source:      source,
		registry:    registry,
		logger:      logging.Default(),
		maxParallel: 4,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces one Structure per bundle named in meta.Bundles,
// plus any bundles contributed by a registered plugin.StructureSource,
// in declared order. A missing bundle produces a Structure carrying a
// StructureError rather than aborting the whole assembly (spec.md
// §4.D). Rendering checks ctx for cancellation between bundles.
func (a *Assembler) Assemble(ctx context.Context, meta *metadata.ClientMetadata) ([]*Structure, error) {
	names := append([]string{}, meta.Bundles...)
	if a.registry != nil {
		extra, err := a.registry.CollectBundles(ctx, meta.Hostname, meta.SortedGroups())
		if err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindPluginExecutionError, Message: err.Error()}
		}
		names = appendDedup(names, extra)
	}

	src := a.source()
	results := make([]*Structure, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.renderBundle(src, name, meta)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Assembler) renderBundle(src BundleSource, name string, meta *metadata.ClientMetadata) *Structure {
	doc, ok := src.BundleByName(name)
	if !ok {
		a.logger.Warn("bundle referenced but not found", "bundle", name, "client", meta.Hostname)
		return &Structure{
			Name: name,
			Err:  &xmlutil.PipelineError{Kind: xmlutil.KindStructureError, Message: fmt.Sprintf("missing bundle %q", name), Diagnostic: "missing"},
		}
	}

	rendered, err := renderElement(doc.Root, meta)
	if err != nil {
		return &Structure{
			Name: name,
			Err:  &xmlutil.PipelineError{Kind: xmlutil.KindStructureError, Message: fmt.Sprintf("render bundle %q: %v", name, err)},
		}
	}

	return &Structure{Name: name, Entries: rendered.Children}
}

// renderElement walks el, running text/template over any attribute
// value or text content containing "{{" against data, and returns a
// new Element tree. Non-templated content is copied verbatim.
func renderElement(el *xmlutil.Element, data *metadata.ClientMetadata) (*xmlutil.Element, error) {
	out := &xmlutil.Element{Name: el.Name, Attrs: make(map[string]string, len(el.Attrs))}

	for k, v := range el.Attrs {
		rendered, err := renderString(v, data)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out.Attrs[k] = rendered
	}

	text, err := renderString(el.Text, data)
	if err != nil {
		return nil, err
	}
	out.Text = text

	out.Children = make([]*xmlutil.Element, 0, len(el.Children))
	for _, child := range el.Children {
		renderedChild, err := renderElement(child, data)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, renderedChild)
	}
	return out, nil
}

func renderString(s string, data *metadata.ClientMetadata) (string, error) {
	if !containsTemplate(s) {
		return s, nil
	}
	tmpl, err := template.New("bundle").Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newTemplateData(data)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func containsTemplate(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

// templateData is the value exposed to bundle templates — a flattened
// view of ClientMetadata so operators write {{.Hostname}} rather than
// reaching into unexported fields.
type templateData struct {
	Hostname string
	Profile  string
	Groups   []string
	UUID     string
}

func newTemplateData(m *metadata.ClientMetadata) templateData {
	return templateData{
		Hostname: m.Hostname,
		Profile:  m.Profile,
		Groups:   m.SortedGroups(),
		UUID:     m.UUID,
	}
}

func appendDedup(base []string, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, b := range base {
		seen[b] = struct{}{}
	}
	out := append([]string{}, base...)
	for _, e := range extra {
		if _, ok := seen[e]; !ok {
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
