// Package heartbeat provides reachability monitoring for the solve pipeline's
// two external legs: the local bridge and the solving service account. The
// supervisor consults it before every solve attempt; when the bridge is not
// reachable the pipeline degrades to submitting forms without a solved
// challenge instead of retrying per request.
package heartbeat

import (
	"context"
	"time"
)

// Status is the current reachability verdict for a component.
type Status string

const (
	// StatusHealthy indicates the component answered its probe.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates the component answered but is not fully usable,
	// e.g. the solving account balance is exhausted.
	StatusDegraded Status = "degraded"

	// StatusUnavailable indicates the component did not answer.
	StatusUnavailable Status = "unavailable"
)

// HealthStatus is the last probe result for one component.
type HealthStatus struct {
	// Component names the probed component.
	Component string `json:"component"`

	// Status is the probe verdict.
	Status Status `json:"status"`

	// LastCheck is when this status was recorded.
	LastCheck time.Time `json:"last_check"`

	// ResponseTime is how long the probe took.
	ResponseTime time.Duration `json:"response_time"`

	// Balance is the solving account balance, when the probe reports one.
	Balance float64 `json:"balance,omitempty"`

	// ErrorMessage carries the probe failure, when not healthy.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Checker probes one component.
type Checker interface {
	// Check performs a probe and returns the current status.
	Check(ctx context.Context) (*HealthStatus, error)

	// Name returns the component name this checker covers.
	Name() string
}

// Config controls the monitoring loop.
type Config struct {
	// Enabled controls whether the background loop runs. On-demand checks
	// work either way.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between background probe cycles.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single probe.
	Timeout time.Duration `yaml:"timeout"`

	// RetryAttempts is the number of probe retries before a component is
	// marked unavailable.
	RetryAttempts int `yaml:"retry-attempts"`

	// RetryDelay is the wait between probe retries.
	RetryDelay time.Duration `yaml:"retry-delay"`
}

// DefaultConfig returns the stock monitoring configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Interval:      time.Minute,
		Timeout:       5 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Second,
	}
}
