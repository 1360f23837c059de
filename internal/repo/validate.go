// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import "fmt"

// FindingSeverity classifies how serious a lint Finding is.
type FindingSeverity int

const (
	SeverityWarning FindingSeverity = iota
	SeverityError
)

func (s FindingSeverity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Finding is one repository consistency issue surfaced by Validate.
// Findings never block a reload — the Repository Loader keeps serving
// the previous snapshot on a hard parse failure regardless — but
// confd validate-config exits non-zero when any Finding is an error.
type Finding struct {
	Severity FindingSeverity
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Severity, f.Message)
}

// Validate runs a lint pass over the snapshot: dangling bundle and
// group references that would otherwise surface only as a runtime
// StructureError or MetadataConsistencyError for whichever client
// happens to need them. It does not re-validate XML well-formedness —
// a document that failed to parse never reaches a Snapshot at all.
func (l *Loader) Validate() []Finding {
	return l.Current().validate()
}

func (s *Snapshot) validate() []Finding {
	var findings []Finding

	if s.DefaultProfileGroup != "" {
		if _, ok := s.Groups[s.DefaultProfileGroup]; !ok {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Message:  fmt.Sprintf("default profile group %q is not declared in Metadata/groups.xml", s.DefaultProfileGroup),
			})
		}
	}

	for _, group := range s.Groups {
		for _, bundle := range group.Bundles {
			if _, ok := s.Bundles[bundle]; !ok {
				findings = append(findings, Finding{
					Severity: SeverityError,
					Message:  fmt.Sprintf("group %q declares bundle %q, which has no Bundler/%s.xml", group.Name, bundle, bundle),
				})
			}
		}
		for _, include := range group.Includes {
			if _, ok := s.Groups[include]; !ok {
				findings = append(findings, Finding{
					Severity: SeverityError,
					Message:  fmt.Sprintf("group %q includes undeclared group %q", group.Name, include),
				})
			}
		}
	}

	for _, client := range s.Clients {
		if client.Profile == "" {
			continue
		}
		group, ok := s.Groups[client.Profile]
		if !ok {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Message:  fmt.Sprintf("client %q declares profile %q, which is not a declared group", client.Name, client.Profile),
			})
			continue
		}
		if !group.IsProfile {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("client %q declares profile %q, which is not marked profile=\"true\"", client.Name, client.Profile),
			})
		}
	}

	for _, rs := range s.Rules {
		for _, entry := range rs.Entries {
			for _, g := range append(append([]string{}, entry.Groups...), entry.NotGroups...) {
				if _, ok := s.Groups[g]; !ok {
					findings = append(findings, Finding{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("rule %q %q selects undeclared group %q", entry.Kind, entry.Name, g),
					})
				}
			}
			for _, c := range append(append([]string{}, entry.Clients...), entry.NotClients...) {
				if _, ok := s.Clients[c]; !ok {
					findings = append(findings, Finding{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("rule %q %q selects undeclared client %q", entry.Kind, entry.Name, c),
					})
				}
			}
		}
	}

	return findings
}
