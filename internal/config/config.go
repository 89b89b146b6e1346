// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the captcha bridge.
// It handles loading and parsing the YAML configuration file and provides
// structured access to bridge, solver, detector, and heartbeat settings.
// Durations are configured as integer seconds (milliseconds for detector
// delays) to keep the file format unambiguous.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/applypilot/captcha-bridge/internal/detector"
	"github.com/applypilot/captcha-bridge/internal/heartbeat"
	"github.com/applypilot/captcha-bridge/internal/solver"
)

// APIKeyEnv is the environment variable that overrides the configured
// solving service API key.
const APIKeyEnv = "CAPTCHA_API_KEY"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the bridge binds. Defaults to 127.0.0.1; the
	// bridge is a local-only service and should not normally be exposed.
	Host string `yaml:"host"`

	// Port is the bridge's listen port.
	Port int `yaml:"port"`

	// AllowRemote disables the localhost-direct request guard. Leave off
	// unless the page context genuinely runs on another machine.
	AllowRemote bool `yaml:"allow-remote"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile switches logs from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file"`

	// Solver configures access to the external solving service.
	Solver SolverSettings `yaml:"solver"`

	// Detector configures page-scan timing.
	Detector DetectorSettings `yaml:"detector"`

	// Heartbeat configures background reachability monitoring.
	Heartbeat HeartbeatSettings `yaml:"heartbeat"`
}

// SolverSettings configures the solving service client.
type SolverSettings struct {
	// APIKey authenticates against the solving service. The CAPTCHA_API_KEY
	// environment variable takes precedence.
	APIKey string `yaml:"api-key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base-url"`

	// PollIntervalSeconds is the wait between result polls.
	PollIntervalSeconds int `yaml:"poll-interval-seconds"`

	// MaxWaitSeconds is the total-wait ceiling for one solve.
	MaxWaitSeconds int `yaml:"max-wait-seconds"`

	// RetryAttempts bounds consecutive transient poll failures.
	RetryAttempts int `yaml:"retry-attempts"`

	// RequestTimeoutSeconds bounds a single provider HTTP exchange.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// DetectorSettings configures detection timing.
type DetectorSettings struct {
	// SettleDelayMS is the post-load settling delay before the first scan.
	SettleDelayMS int `yaml:"settle-delay-ms"`

	// RetryDelayMS is the wait before the single retry scan.
	RetryDelayMS int `yaml:"retry-delay-ms"`
}

// HeartbeatSettings configures the reachability monitor.
type HeartbeatSettings struct {
	Enabled           bool `yaml:"enabled"`
	IntervalSeconds   int  `yaml:"interval-seconds"`
	TimeoutSeconds    int  `yaml:"timeout-seconds"`
	RetryAttempts     int  `yaml:"retry-attempts"`
	RetryDelaySeconds int  `yaml:"retry-delay-seconds"`
}

// DefaultConfig returns the stock configuration matching the original
// bridge's defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8765,
		Solver: SolverSettings{
			BaseURL:               solver.DefaultBaseURL,
			PollIntervalSeconds:   5,
			MaxWaitSeconds:        120,
			RetryAttempts:         3,
			RequestTimeoutSeconds: 30,
		},
		Detector: DetectorSettings{
			SettleDelayMS: 1000,
			RetryDelayMS:  2000,
		},
		Heartbeat: HeartbeatSettings{
			Enabled:           true,
			IntervalSeconds:   60,
			TimeoutSeconds:    5,
			RetryAttempts:     1,
			RetryDelaySeconds: 1,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies the
// environment override for the API key.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but falls back to defaults
// (plus environment overrides) when the file does not exist.
func LoadConfigOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnv()
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadConfig(path)
}

func (c *Config) applyEnv() {
	if key := os.Getenv(APIKeyEnv); key != "" {
		c.Solver.APIKey = key
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Solver.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	if c.Solver.MaxWaitSeconds < c.Solver.PollIntervalSeconds {
		return fmt.Errorf("config: max wait must be at least one poll interval")
	}
	return nil
}

// BridgeURL is the base URL page-side components use to reach the bridge.
func (c *Config) BridgeURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// SolverConfig materializes the solver client configuration.
func (c *Config) SolverConfig() solver.Config {
	return solver.Config{
		APIKey:         c.Solver.APIKey,
		BaseURL:        c.Solver.BaseURL,
		PollInterval:   time.Duration(c.Solver.PollIntervalSeconds) * time.Second,
		MaxWait:        time.Duration(c.Solver.MaxWaitSeconds) * time.Second,
		RetryAttempts:  c.Solver.RetryAttempts,
		RequestTimeout: time.Duration(c.Solver.RequestTimeoutSeconds) * time.Second,
	}
}

// DetectorConfig materializes the detector timing configuration.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		SettleDelay: time.Duration(c.Detector.SettleDelayMS) * time.Millisecond,
		RetryDelay:  time.Duration(c.Detector.RetryDelayMS) * time.Millisecond,
	}
}

// HeartbeatConfig materializes the monitor configuration.
func (c *Config) HeartbeatConfig() heartbeat.Config {
	return heartbeat.Config{
		Enabled:       c.Heartbeat.Enabled,
		Interval:      time.Duration(c.Heartbeat.IntervalSeconds) * time.Second,
		Timeout:       time.Duration(c.Heartbeat.TimeoutSeconds) * time.Second,
		RetryAttempts: c.Heartbeat.RetryAttempts,
		RetryDelay:    time.Duration(c.Heartbeat.RetryDelaySeconds) * time.Second,
	}
}
