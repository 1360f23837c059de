// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads confd.yaml into a typed, immutable ServerConfig
// threaded into each pipeline component at construction. Nothing under
// this package ever mutates a loaded ServerConfig — a reload produces a
// brand new value and the caller swaps it in atomically.
package config

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DecisionMode selects the Decision Filter's behavior.
type DecisionMode int

const (
	DecisionOff DecisionMode = iota
	DecisionWhitelist
	DecisionBlacklist
)

func (m DecisionMode) String() string {
	switch m {
	case DecisionWhitelist:
		return "whitelist"
	case DecisionBlacklist:
		return "blacklist"
	default:
		return "off"
	}
}

// UnmarshalYAML validates the decoded decision mode against the closed
// enum instead of accepting any string.
func (m *DecisionMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch raw {
	case "", "off":
		*m = DecisionOff
	case "whitelist":
		*m = DecisionWhitelist
	case "blacklist":
		*m = DecisionBlacklist
	default:
		return fmt.Errorf("server.decision: invalid mode %q: want off, whitelist, or blacklist", raw)
	}
	return nil
}

// FileMonitorBackend selects the filesystem-watch implementation backing
// repository reloads.
type FileMonitorBackend int

const (
	FileMonitorFSNotify FileMonitorBackend = iota
	FileMonitorPoll
	FileMonitorNone
)

func (b FileMonitorBackend) String() string {
	switch b {
	case FileMonitorPoll:
		return "poll"
	case FileMonitorNone:
		return "none"
	default:
		return "fsnotify"
	}
}

// UnmarshalYAML validates the decoded backend against the closed enum.
func (b *FileMonitorBackend) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch raw {
	case "", "fsnotify":
		*b = FileMonitorFSNotify
	case "poll":
		*b = FileMonitorPoll
	case "none":
		*b = FileMonitorNone
	default:
		return fmt.Errorf("server.filemonitor: invalid backend %q: want fsnotify, poll, or none", raw)
	}
	return nil
}

// Protocol selects the transport confd listens with.
type Protocol int

const (
	ProtocolHTTPS Protocol = iota
	ProtocolHTTP
)

func (p Protocol) String() string {
	if p == ProtocolHTTP {
		return "http"
	}
	return "https"
}

func (p *Protocol) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch raw {
	case "", "https", "xmlrpc+https":
		*p = ProtocolHTTPS
	case "http", "xmlrpc+http":
		*p = ProtocolHTTP
	default:
		return fmt.Errorf("server.protocol: invalid protocol %q", raw)
	}
	return nil
}

// MetadataConfig is the "metadata" YAML section.
type MetadataConfig struct {
	UseDatabase bool `yaml:"use_database"`

	// AllowDynamicRegistration permits an unrecognized identity to be
	// bound to the repository's default profile group and created on
	// the fly, rather than failing authentication outright (identity
	// resolution step 5).
	AllowDynamicRegistration bool `yaml:"allow_dynamic_registration"`
}

// RulesConfig is the "rules" YAML section.
type RulesConfig struct {
	Regex bool `yaml:"regex"`
}

// ServerConfig is the "server" YAML section.
type ServerConfig struct {
	Decision    DecisionMode        `yaml:"decision"`
	Password    string               `yaml:"password" validate:"omitempty"`
	Protocol    Protocol             `yaml:"protocol"`
	Key         string               `yaml:"key" validate:"omitempty,filepath"`
	Cert        string               `yaml:"cert" validate:"omitempty,filepath"`
	CA          string               `yaml:"ca" validate:"omitempty,filepath"`
	FileMonitor FileMonitorBackend   `yaml:"filemonitor"`
	Repository  string               `yaml:"repository" validate:"required"`
	Listen      string               `yaml:"listen" validate:"required,hostname_port"`

	// DecisionList names a YAML file of whitelist/blacklist (kind,
	// name) pairs. Optional in every Decision mode; Load does not
	// require it.
	DecisionList string `yaml:"decisionlist" validate:"omitempty,filepath"`

	// StatsDB is the path to the badger directory backing the
	// Statistics Intake's default sink. Defaults to
	// "<repository>/.stats.db" when left empty, so a bare confd.yaml
	// still records client feedback without a separate reports DB.
	StatsDB string `yaml:"statsdb" validate:"omitempty"`

	// ControlSocket is the unix socket path `confd serve` listens on
	// for `confd reload` requests. Defaults to "confd.sock" next to
	// the repository when left empty.
	ControlSocket string `yaml:"controlsocket" validate:"omitempty"`

	// password sealed once validated; Password above is zeroed after
	// SealSecrets runs.
	sealedPassword *memguard.Enclave
}

// Config is the root of confd.yaml.
type Config struct {
	Metadata MetadataConfig `yaml:"metadata"`
	Rules    RulesConfig    `yaml:"rules"`
	Server   ServerConfig   `yaml:"server"`
}

// SealedPassword returns the sealed global server password, or nil if
// none was configured. Call SealSecrets first.
func (c *Config) SealedPassword() *memguard.Enclave {
	return c.Server.sealedPassword
}

// SealSecrets moves plaintext secret fields into memguard enclaves and
// zeroes the plaintext struct fields. Call once after Load succeeds.
func (c *Config) SealSecrets() {
	if c.Server.Password != "" {
		c.Server.sealedPassword = memguard.NewEnclave([]byte(c.Server.Password))
		c.Server.Password = ""
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a confd.yaml file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := validate.Struct(cfg.Server); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	if cfg.Server.Protocol == ProtocolHTTPS {
		if cfg.Server.Cert == "" || cfg.Server.Key == "" {
			return nil, fmt.Errorf("validate config %s: server.cert and server.key are required when protocol is https", path)
		}
	}

	cfg.SealSecrets()
	return &cfg, nil
}
