// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the captcha bridge daemon.
// The daemon exposes a loopback HTTP API that browser automation sessions
// call to hand challenges off to a remote solving service.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/applypilot/captcha-bridge/internal/buildinfo"
	"github.com/applypilot/captcha-bridge/internal/cmd"
	"github.com/applypilot/captcha-bridge/internal/config"
	"github.com/applypilot/captcha-bridge/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("captcha-bridge Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	var cfg *config.Config
	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
		cfg, err = config.LoadConfigOptional(configPath)
	} else {
		cfg, err = config.LoadConfig(configPath)
	}
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	logging.SetDebug(cfg.Debug)

	log.Infof("captcha-bridge Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	cmd.StartService(cfg, configPath)
}
