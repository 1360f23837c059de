// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconf/confd/internal/repo"
)

func runValidateConfig(cmd *cobra.Command, args []string) error {
	loader := repo.NewLoader(cfg.Server.Repository, nil)
	loader.SetAllowDynamicRegistration(cfg.Metadata.AllowDynamicRegistration)
	if err := loader.Reload(); err != nil {
		return fmt.Errorf("repository failed to parse: %w", err)
	}

	findings := loader.Validate()
	failed := false
	for _, f := range findings {
		fmt.Println(f.String())
		if f.Severity == repo.SeverityError {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("%d finding(s), at least one error", len(findings))
	}
	fmt.Printf("%s: ok (%d finding(s))\n", configPath, len(findings))
	return nil
}
