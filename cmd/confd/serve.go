// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconf/confd/internal/config"
	"github.com/openconf/confd/internal/decision"
	"github.com/openconf/confd/internal/facade"
	"github.com/openconf/confd/internal/generator"
	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/observability"
	"github.com/openconf/confd/internal/plugin"
	"github.com/openconf/confd/internal/probe"
	"github.com/openconf/confd/internal/repo"
	"github.com/openconf/confd/internal/stats"
	"github.com/openconf/confd/internal/structure"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(logging.Config{Service: "confd"})
	defer logger.Close()

	shutdownTelemetry, err := observability.Init(ctx, observability.DefaultConfig())
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	loader := repo.NewLoader(cfg.Server.Repository, logger)
	loader.SetAllowDynamicRegistration(cfg.Metadata.AllowDynamicRegistration)
	if err := loader.Reload(); err != nil {
		return err
	}

	decisionList, err := loadDecisionList(cfg)
	if err != nil {
		return err
	}
	var decisionMu sync.RWMutex
	currentDecisionList := func() *decision.List {
		decisionMu.RLock()
		defer decisionMu.RUnlock()
		return decisionList
	}

	registry := generator.RegisterDefaultGenerators(plugin.NewRegistry())

	sink, err := stats.OpenBadgerSink(statsDBPath(cfg))
	if err != nil {
		return err
	}
	defer sink.Close()
	registry.WithStatisticsSink(sink)

	probes := metadata.NewProbeGroups()
	resolver := metadata.NewResolver(func() metadata.SnapshotView { return loader.Current() }, probes, registry)

	probeDefs, err := probe.LoadDefs(cfg.Server.Repository)
	if err != nil {
		return err
	}
	probeEngine := probe.NewEngine(func() []probe.Def { return probeDefs }, registry, probes, logger)

	assembler := structure.NewAssembler(func() structure.BundleSource { return loader.Current() }, registry)
	binder := generator.NewBinder(func() generator.RuleSource { return loader.Current() }, registry, func() bool { return cfg.Rules.Regex }, logger)

	queue := stats.NewQueue(256, 50*time.Millisecond, registry, logger)
	queueCtx, queueCancel := context.WithCancel(context.Background())
	go queue.Run(queueCtx)
	defer func() {
		queueCancel()
		queue.Close()
	}()

	ops := facade.NewOps(facade.Deps{
		Loader:         loader,
		Resolver:       resolver,
		Probes:         probeEngine,
		Assembler:      assembler,
		Binder:         binder,
		DecisionList:   currentDecisionList,
		Decisions:      func() *decision.Filter { return decision.NewFilter(cfg.Server.Decision, currentDecisionList()) },
		StatsQueue:     queue,
		Sessions:       facade.NewSessionStore(),
		GlobalPassword: cfg.SealedPassword,
		Logger:         logger,
	})
	server := facade.NewServer(ops, logger, "confd")

	watcher, err := openWatcher(cfg, logger)
	if err != nil {
		return err
	}
	go func() {
		_ = watcher.Watch(cfg.Server.Repository, func() {
			if err := loader.Reload(); err != nil {
				logger.Warn("repository reload failed", "error", err)
				return
			}
			resolver.InvalidateAll()
			logger.Info("repository reloaded")
			if list, err := loadDecisionList(cfg); err == nil {
				decisionMu.Lock()
				decisionList = list
				decisionMu.Unlock()
			}
		})
	}()
	defer watcher.Close()

	control, err := newControlServer(controlSocketPath(cfg), logger, func() error {
		if err := loader.Reload(); err != nil {
			return err
		}
		resolver.InvalidateAll()
		if list, err := loadDecisionList(cfg); err == nil {
			decisionMu.Lock()
			decisionList = list
			decisionMu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}
	go control.Serve()
	defer control.Close()

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.Handler(),
	}
	if cfg.Server.Protocol == config.ProtocolHTTPS {
		cert, err := tls.LoadX509KeyPair(cfg.Server.Cert, cfg.Server.Key)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, ClientAuth: tls.RequestClientCert}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("confd listening", "addr", cfg.Server.Listen, "protocol", cfg.Server.Protocol.String())
		var err error
		if cfg.Server.Protocol == config.ProtocolHTTPS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadDecisionList(cfg *config.Config) (*decision.List, error) {
	return decision.Load(cfg.Server.DecisionList)
}

func statsDBPath(cfg *config.Config) string {
	if cfg.Server.StatsDB != "" {
		return cfg.Server.StatsDB
	}
	return filepath.Join(cfg.Server.Repository, ".stats.db")
}

func controlSocketPath(cfg *config.Config) string {
	if cfg.Server.ControlSocket != "" {
		return cfg.Server.ControlSocket
	}
	return filepath.Join(filepath.Dir(cfg.Server.Repository), "confd.sock")
}

func openWatcher(cfg *config.Config, logger *logging.Logger) (repo.Watcher, error) {
	switch cfg.Server.FileMonitor {
	case config.FileMonitorNone:
		return repo.NoopWatcher{}, nil
	case config.FileMonitorPoll:
		return repo.NewPollWatcher(5*time.Second, logger), nil
	default:
		return repo.NewFSNotifyWatcher(logger)
	}
}
