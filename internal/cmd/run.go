// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd wires the bridge components together and runs the service.
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/applypilot/captcha-bridge/internal/config"
	"github.com/applypilot/captcha-bridge/internal/heartbeat"
	"github.com/applypilot/captcha-bridge/internal/logging"
	"github.com/applypilot/captcha-bridge/internal/relay"
	"github.com/applypilot/captcha-bridge/internal/solver"
	"github.com/applypilot/captcha-bridge/internal/watcher"
)

// StartService builds the solver client, HTTP relay and heartbeat monitor
// from cfg and runs them until SIGINT or SIGTERM.
//
// Parameters:
//   - cfg: The application configuration
//   - configPath: The path to the configuration file, watched for changes
func StartService(cfg *config.Config, configPath string) {
	ctxSignal, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	resolver := solver.New(cfg.SolverConfig())
	server := relay.NewServer(cfg.Host, cfg.Port, cfg.AllowRemote, resolver)

	var monitor *heartbeat.Monitor
	if cfg.Heartbeat.Enabled {
		monitor = heartbeat.NewMonitor(cfg.HeartbeatConfig())
		probe := relay.NewClient(cfg.BridgeURL())
		for _, checker := range []heartbeat.Checker{
			heartbeat.NewBridgeChecker(probe),
			heartbeat.NewProviderChecker(resolver),
		} {
			if err := monitor.Register(checker); err != nil {
				log.Errorf("failed to register %s checker: %v", checker.Name(), err)
			}
		}
		if err := monitor.Start(ctxSignal); err != nil {
			log.Errorf("failed to start heartbeat monitor: %v", err)
		} else {
			defer monitor.Stop()
		}
	}

	if configPath != "" {
		w, err := watcher.NewWatcher(configPath, func(next *config.Config) {
			resolver.SetAPIKey(next.Solver.APIKey)
			logging.SetDebug(next.Debug)
		})
		if err != nil {
			log.Warnf("config watching disabled: %v", err)
		} else {
			w.Start(ctxSignal)
			defer w.Stop()
		}
	}

	log.Infof("bridge listening on %s", cfg.BridgeURL())
	if err := server.Run(ctxSignal); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("bridge service exited with error: %v", err)
	}
}
