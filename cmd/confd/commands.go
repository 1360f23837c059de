// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/openconf/confd/internal/config"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "confd",
		Short: "confd synthesizes and serves per-client configuration documents",
		Long: `confd is a configuration-management server: it resolves each
client's metadata against a declarative repository, probes the client
for facts it cannot declare ahead of time, binds abstract entries to
literal ones, and serves the result over XML-RPC.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the confd server",
		RunE:  runServe,
	}

	validateConfigCmd = &cobra.Command{
		Use:   "validate-config",
		Short: "Load confd.yaml and lint the repository it points at, without starting the server",
		RunE:  runValidateConfig,
	}

	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Ask a running confd serve process to reload its repository",
		RunE:  runReload,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "confd.yaml", "path to confd.yaml")
	rootCmd.AddCommand(serveCmd, validateConfigCmd, reloadCmd)
}

func init() {
	log.SetFlags(0)
}
