// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator implements the Generator Registry + Binder: it
// routes each abstract entry the Structure Assembler produces to
// exactly one literal entry, by ranking every Rules/*.xml candidate
// that names it and invoking the winning candidate's registered
// plugin.Generator.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/xmlutil"
)

var tracer = otel.Tracer("github.com/openconf/confd/internal/generator")

// RuleSource is the subset of repo.Snapshot the Binder needs.
type RuleSource interface {
	RuleSets() []repo.RuleSet
}

// Binder resolves abstract entries against a set of Rules/*.xml
// candidates and the registered plugin.Generator for each kind.
type Binder struct {
	rules        func() RuleSource
	registry     *plugin.Registry
	regexEnabled func() bool
	logger       *logging.Logger
}

// NewBinder constructs a Binder. rules and regexEnabled are called on
// every Bind so a repository or config reload takes effect without
// reconstructing the Binder.
func NewBinder(rules func() RuleSource, registry *plugin.Registry, regexEnabled func() bool, logger *logging.Logger) *Binder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Binder{rules: rules, registry: registry, regexEnabled: regexEnabled, logger: logger}
}

// candidate is one ranked contender for binding a single abstract
// entry, carrying enough provenance to apply the tie-break rules in
// spec.md §4.E.
type candidate struct {
	ruleSetIndex int
	priority     int
	entry        repo.RuleEntry
	isLiteral    bool
}

// BindAll resolves every abstract entry in entries against the current
// rule set, returning one literal *xmlutil.Element per input entry —
// either the generator's rendered output, a Bound<Kind> entry copied
// verbatim, or an <error> entry on no-match or handler failure. ctx is
// checked for cancellation between entries.
func (b *Binder) BindAll(ctx context.Context, clientName string, groups map[string]struct{}, entries []*xmlutil.Element) ([]*xmlutil.Element, error) {
	out := make([]*xmlutil.Element, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, b.bindOne(ctx, clientName, groups, e))
	}
	return out, nil
}

// BindStructure binds every entry in one structure's entry list and
// then runs the bundle-wide plugin.GoalValidator post-pass (spec.md
// §4.E), whose output replaces the structure's entries.
func (b *Binder) BindStructure(ctx context.Context, clientName, bundleName string, groups map[string]struct{}, entries []*xmlutil.Element) ([]*xmlutil.Element, error) {
	bound, err := b.BindAll(ctx, clientName, groups, entries)
	if err != nil {
		return nil, err
	}
	if b.registry == nil {
		return bound, nil
	}

	amended, err := b.registry.RunGoalValidators(ctx, clientName, bundleName, elementsToTokens(bound))
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindStructureError, Message: err.Error()}
	}
	return tokensToElements(amended)
}

func (b *Binder) bindOne(ctx context.Context, clientName string, groups map[string]struct{}, e *xmlutil.Element) *xmlutil.Element {
	ctx, span := tracer.Start(ctx, "generator.Bind",
		trace.WithAttributes(attribute.String("entry.kind", e.Name), attribute.String("entry.name", e.Attrs["name"])))
	defer span.End()

	if kind, ok := strings.CutPrefix(e.Name, "Bound"); ok {
		copied := cloneElement(e)
		copied.Name = kind
		return copied
	}

	name := e.Attrs["name"]
	candidates := b.collectCandidates(e.Name, name, clientName, groups)
	if len(candidates) == 0 {
		b.logger.Warn("no matching rule for abstract entry", "kind", e.Name, "name", name, "client", clientName)
		return errorEntry(e.Name, name, "no matching rule")
	}

	winner, tied := rankCandidates(candidates)
	if tied {
		b.logger.Warn("multiple candidates tied on priority and scope, registration order decided the winner",
			"kind", e.Name, "name", name, "client", clientName, "winner_rule_set", winner.ruleSetIndex, "winner_entry", winner.entry.Name)
	}

	gen, ok := b.registry.Generator(winner.entry.Kind)
	if !ok {
		return errorEntry(e.Name, name, fmt.Sprintf("no generator registered for kind %q", winner.entry.Kind))
	}

	tokens, err := gen.Bind(ctx, clientName, []plugin.BindCandidate{{
		RuleName: name,
		Priority: winner.priority,
		Groups:   winner.entry.Groups,
		Payload:  &winner.entry,
	}})
	if err != nil {
		b.logger.Warn("generator bind failed", "kind", e.Name, "name", name, "client", clientName, "error", err)
		return errorEntry(e.Name, name, err.Error())
	}

	literal, err := decodeLiteral(e.Name, tokens)
	if err != nil {
		return errorEntry(e.Name, name, err.Error())
	}
	return literal
}

func (b *Binder) collectCandidates(kind, name, clientName string, groups map[string]struct{}) []candidate {
	regexEnabled := b.regexEnabled != nil && b.regexEnabled()
	var out []candidate

	for i, rs := range b.rules().RuleSets() {
		for _, entry := range rs.Entries {
			if entry.Kind != kind {
				continue
			}
			matched, literal := matchName(entry, name, regexEnabled)
			if !matched {
				continue
			}
			if !selectorsMatch(entry, clientName, groups) {
				continue
			}
			out = append(out, candidate{ruleSetIndex: i, priority: rs.Priority, entry: entry, isLiteral: literal})
		}
	}
	return out
}

func matchName(entry repo.RuleEntry, name string, regexEnabled bool) (matched, literal bool) {
	if entry.Name == name {
		return true, true
	}
	if regexEnabled && entry.IsRegex {
		re, err := regexp.Compile("^(?:" + entry.Name + ")$")
		if err != nil {
			return false, false
		}
		if re.MatchString(name) {
			return true, false
		}
	}
	return false, false
}

func selectorsMatch(entry repo.RuleEntry, clientName string, groups map[string]struct{}) bool {
	for _, g := range entry.Groups {
		if _, ok := groups[g]; !ok {
			return false
		}
	}
	for _, g := range entry.NotGroups {
		if _, ok := groups[g]; ok {
			return false
		}
	}
	for _, c := range entry.Clients {
		if c != clientName {
			return false
		}
	}
	for _, c := range entry.NotClients {
		if c == clientName {
			return false
		}
	}
	return true
}

// rankCandidates applies the tie-break ladder from spec.md §4.E and
// returns the single winner:
//  1. higher rule-set priority wins; within the same rule set a
//     literal match always beats a regex match regardless of priority.
//  2. group-scoped candidates beat unscoped ones.
//  3. among group-scoped candidates, more group selectors wins (a
//     proxy for "superset of all others", since a strict superset
//     always has a larger selector count).
//  4. remaining ties: lexicographic comparison of the sorted,
//     comma-joined group-selector set (the semantic tightening named
//     in spec.md §9 "open questions" #2).
//  5. final fallback: later-registered rule set wins (spec.md §4.E: "the
//     second-registered plugin's version wins"), then entry name.
// rankCandidates returns the winner along with whether it was decided
// by the final registration-order/name fallback rather than on
// priority or group scoping — i.e. whether step 5 actually had to
// break a tie among otherwise-equal candidates.
func rankCandidates(candidates []candidate) (candidate, bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]

		if a.ruleSetIndex == c.ruleSetIndex && a.isLiteral != c.isLiteral {
			return a.isLiteral
		}
		if a.priority != c.priority {
			return a.priority > c.priority
		}
		aScoped, cScoped := len(a.entry.Groups) > 0, len(c.entry.Groups) > 0
		if aScoped != cScoped {
			return aScoped
		}
		if len(a.entry.Groups) != len(c.entry.Groups) {
			return len(a.entry.Groups) > len(c.entry.Groups)
		}
		aKey, cKey := groupSetKey(a.entry.Groups), groupSetKey(c.entry.Groups)
		if aKey != cKey {
			return aKey < cKey
		}
		if a.ruleSetIndex != c.ruleSetIndex {
			return a.ruleSetIndex > c.ruleSetIndex
		}
		return a.entry.Name < c.entry.Name
	})
	winner := candidates[0]
	tied := len(candidates) > 1 && tiedBeforeFallback(winner, candidates[1])
	return winner, tied
}

// tiedBeforeFallback reports whether a and c are indistinguishable on
// every tie-break criterion ahead of the final registration-order/name
// fallback (steps 1-4 of rankCandidates' ladder).
func tiedBeforeFallback(a, c candidate) bool {
	if a.ruleSetIndex == c.ruleSetIndex && a.isLiteral != c.isLiteral {
		return false
	}
	if a.priority != c.priority {
		return false
	}
	if (len(a.entry.Groups) > 0) != (len(c.entry.Groups) > 0) {
		return false
	}
	if len(a.entry.Groups) != len(c.entry.Groups) {
		return false
	}
	return groupSetKey(a.entry.Groups) == groupSetKey(c.entry.Groups)
}

func groupSetKey(groups []string) string {
	sorted := append([]string{}, groups...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func cloneElement(e *xmlutil.Element) *xmlutil.Element {
	attrs := make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	children := make([]*xmlutil.Element, len(e.Children))
	for i, c := range e.Children {
		children[i] = cloneElement(c)
	}
	return &xmlutil.Element{Name: e.Name, Attrs: attrs, Children: children, Text: e.Text}
}

func errorEntry(kind, name, reason string) *xmlutil.Element {
	return &xmlutil.Element{
		Name: "error",
		Attrs: map[string]string{
			"kind":    kind,
			"name":    name,
			"failure": reason,
		},
	}
}
