// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/xmlutil"
	"github.com/openconf/confd/pkg/validation"
)

// Loader owns the single writable path into the repository. Readers
// never touch Loader directly; they call Current to get a Snapshot and
// hold onto it for the duration of one request.
type Loader struct {
	root    string
	current atomic.Pointer[Snapshot]
	logger  *logging.Logger

	// degraded is set when the last reload attempt failed and the
	// previous good Snapshot is still being served.
	degraded atomic.Bool

	// allowDynamic controls whether new Snapshots permit dynamic client
	// registration (identity resolution step 5). Defaults to true.
	allowDynamic atomic.Bool
}

// NewLoader constructs a Loader rooted at dir. The first Reload must
// succeed before the server can start serving.
func NewLoader(dir string, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	l := &Loader{root: dir, logger: logger}
	l.allowDynamic.Store(true)
	return l
}

// SetAllowDynamicRegistration controls whether future Reloads permit
// dynamic client creation for unrecognized identities.
func (l *Loader) SetAllowDynamicRegistration(allow bool) {
	l.allowDynamic.Store(allow)
}

// Current returns the most recently loaded Snapshot. Safe for
// concurrent use; the returned value is never mutated.
func (l *Loader) Current() *Snapshot {
	return l.current.Load()
}

// Degraded reports whether the last reload attempt failed, leaving the
// server on the previous good Snapshot.
func (l *Loader) Degraded() bool {
	return l.degraded.Load()
}

// Reload parses the repository from disk and, on success, atomically
// swaps it in as the Current Snapshot. On failure the previous good
// Snapshot (if any) is retained, Degraded becomes true, and the error
// returned is an *xmlutil.PipelineError of kind RepoDegraded carrying
// the parse failure's message.
func (l *Loader) Reload() error {
	snap, err := l.parse()
	if err != nil {
		l.degraded.Store(true)
		l.logger.Warn("repository reload failed, serving previous snapshot",
			"error", err, "root", l.root)
		return &xmlutil.PipelineError{
			Kind:    xmlutil.KindRepoDegraded,
			Message: err.Error(),
		}
	}

	prev := l.current.Load()
	if prev != nil {
		snap.Revision = prev.Revision + 1
	} else {
		snap.Revision = 1
	}

	l.current.Store(snap)
	l.degraded.Store(false)
	l.logger.Info("repository reloaded", "revision", snap.Revision, "groups", len(snap.Groups), "clients", len(snap.Clients))
	return nil
}

func (l *Loader) parse() (*Snapshot, error) {
	groupsDoc, err := xmlutil.ExpandIncludes(filepath.Join(l.root, "Metadata", "groups.xml"), l.root)
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("parse groups.xml: %v", err)}
	}

	groups, order, defaultProfile, err := parseGroups(groupsDoc)
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("groups.xml: %v", err)}
	}

	clientsDoc, err := xmlutil.ExpandIncludes(filepath.Join(l.root, "Metadata", "clients.xml"), l.root)
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("parse clients.xml: %v", err)}
	}
	clients, err := parseClients(clientsDoc)
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("clients.xml: %v", err)}
	}

	rules, err := l.parseRules()
	if err != nil {
		return nil, err
	}

	bundles, err := l.parseBundles()
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Groups:              groups,
		GroupsOrder:         order,
		Clients:              clients,
		Rules:                rules,
		Bundles:              bundles,
		DefaultProfileGroup: defaultProfile,
		AllowDynamic:         l.allowDynamic.Load(),
	}, nil
}

// parseBundles reads every Bundler/<name>.xml document. A missing
// Bundler directory is not an error — a repository with no bundles is
// legal, it simply never resolves any abstract entries.
func (l *Loader) parseBundles() (map[string]*BundleDoc, error) {
	dir := filepath.Join(l.root, "Bundler")
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("glob Bundler: %v", err)}
	}

	bundles := make(map[string]*BundleDoc, len(matches))
	for _, path := range matches {
		doc, err := xmlutil.ExpandIncludes(path, l.root)
		if err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("parse %s: %v", path, err)}
		}
		name := strings.TrimSuffix(filepath.Base(path), ".xml")
		if _, err := validation.SanitizeBundlePathSegment(name); err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("Bundler/%s.xml: %v", name, err)}
		}
		bundles[name] = &BundleDoc{Name: name, Root: doc}
	}
	return bundles, nil
}

func parseGroups(doc *xmlutil.Element) (map[string]*metadata.Group, []string, string, error) {
	groups := make(map[string]*metadata.Group)
	var order []string
	var names []string
	defaultProfile := ""

	for _, el := range doc.Children {
		if el.Name != "Group" {
			continue
		}
		name := el.Attrs["name"]
		if name == "" {
			continue
		}
		names = append(names, name)
		g := &metadata.Group{
			Name:      name,
			IsProfile: el.Attrs["profile"] == "true",
			IsPublic:  el.Attrs["public"] != "false",
			IsDefault: el.Attrs["default"] == "true",
			Category:  el.Attrs["category"],
		}
		for _, child := range el.Children {
			switch child.Name {
			case "Bundle":
				g.Bundles = append(g.Bundles, child.Text)
			case "Group":
				g.Includes = append(g.Includes, child.Attrs["name"])
			}
		}
		groups[name] = g
		order = append(order, name)
		if g.IsDefault {
			defaultProfile = name
		}
	}
	if err := validation.ValidateNames("group", names); err != nil {
		return nil, nil, "", err
	}
	return groups, order, defaultProfile, nil
}

func parseClients(doc *xmlutil.Element) (map[string]*metadata.Client, error) {
	clients := make(map[string]*metadata.Client)
	var names []string
	for _, el := range doc.Children {
		if el.Name != "Client" {
			continue
		}
		name := el.Attrs["name"]
		if name == "" {
			continue
		}
		names = append(names, name)
		c := &metadata.Client{
			Name:     name,
			Profile:  el.Attrs["profile"],
			UUID:     el.Attrs["uuid"],
			Password: el.Attrs["password"],
			Secure:   el.Attrs["secure"] == "true",
			Floating: el.Attrs["floating"] == "true",
		}
		for _, child := range el.Children {
			switch child.Name {
			case "Alias":
				c.Aliases = append(c.Aliases, child.Attrs["name"])
				if addr := child.Attrs["address"]; addr != "" {
					c.Addresses = append(c.Addresses, addr)
				}
			case "Address":
				c.Addresses = append(c.Addresses, child.Text)
			case "Group":
				if child.Attrs["negate"] == "true" {
					c.NegatedGroups = append(c.NegatedGroups, child.Attrs["name"])
				} else {
					c.ExtraGroups = append(c.ExtraGroups, child.Attrs["name"])
				}
			}
		}
		clients[name] = c
	}
	if err := validation.ValidateNames("client", names); err != nil {
		return nil, err
	}
	return clients, nil
}

func (l *Loader) parseRules() ([]RuleSet, error) {
	matches, err := filepath.Glob(filepath.Join(l.root, "Rules", "*.xml"))
	if err != nil {
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("glob Rules: %v", err)}
	}

	var rules []RuleSet
	for _, path := range matches {
		doc, err := xmlutil.ExpandIncludes(path, l.root)
		if err != nil {
			return nil, &xmlutil.PipelineError{Kind: xmlutil.KindRepoLoadError, Message: fmt.Sprintf("parse %s: %v", path, err)}
		}
		priority := 0
		if p, ok := doc.Attrs["priority"]; ok {
			if n, perr := strconv.Atoi(p); perr == nil {
				priority = n
			}
		}
		pluginName := filepath.Base(path)

		rs := RuleSet{PluginName: pluginName, Priority: priority}
		for _, entryEl := range doc.Children {
			entry := RuleEntry{
				Kind:    entryEl.Name,
				Name:    entryEl.Attrs["name"],
				IsRegex: entryEl.Attrs["regex"] == "true",
				Attrs:   make(map[string]string),
			}
			for k, v := range entryEl.Attrs {
				if k == "name" || k == "regex" {
					continue
				}
				entry.Attrs[k] = v
			}
			var selectors, payload []*xmlutil.Element
			for _, sel := range entryEl.Children {
				switch sel.Name {
				case "Group":
					if sel.Attrs["negate"] == "true" {
						entry.NotGroups = append(entry.NotGroups, sel.Attrs["name"])
					} else {
						entry.Groups = append(entry.Groups, sel.Attrs["name"])
					}
					selectors = append(selectors, sel)
				case "Client":
					if sel.Attrs["negate"] == "true" {
						entry.NotClients = append(entry.NotClients, sel.Attrs["name"])
					} else {
						entry.Clients = append(entry.Clients, sel.Attrs["name"])
					}
					selectors = append(selectors, sel)
				default:
					payload = append(payload, sel)
				}
			}
			if len(payload) > 0 || entryEl.Text != "" {
				entry.Payload = &xmlutil.Element{Name: entryEl.Name, Attrs: entry.Attrs, Children: payload, Text: entryEl.Text}
			}
			rs.Entries = append(rs.Entries, entry)
		}
		rules = append(rules, rs)
	}
	return rules, nil
}
