package heartbeat

import (
	"context"
	"time"

	"github.com/applypilot/captcha-bridge/internal/solver"
)

// ComponentBridge is the registered name of the local bridge probe.
const ComponentBridge = "bridge"

// ComponentProvider is the registered name of the solving account probe.
const ComponentProvider = "provider"

// BridgeProbe is the reachability check the bridge client exposes.
type BridgeProbe interface {
	Health(ctx context.Context) bool
}

// BridgeChecker probes the local bridge's /health endpoint.
type BridgeChecker struct {
	probe BridgeProbe
}

// NewBridgeChecker creates a checker around the bridge client.
func NewBridgeChecker(probe BridgeProbe) *BridgeChecker {
	return &BridgeChecker{probe: probe}
}

func (c *BridgeChecker) Name() string {
	return ComponentBridge
}

func (c *BridgeChecker) Check(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	healthy := c.probe.Health(ctx)

	status := &HealthStatus{
		Component:    ComponentBridge,
		LastCheck:    time.Now(),
		ResponseTime: time.Since(start),
	}
	if healthy {
		status.Status = StatusHealthy
	} else {
		status.Status = StatusUnavailable
		status.ErrorMessage = "bridge did not answer health probe"
	}
	return status, nil
}

// ProviderChecker probes the solving service account via a balance query.
// An exhausted balance is reported as degraded: the service is reachable but
// every solve would fail with no_balance.
type ProviderChecker struct {
	resolver solver.Resolver
}

// NewProviderChecker creates a checker around the provider client.
func NewProviderChecker(resolver solver.Resolver) *ProviderChecker {
	return &ProviderChecker{resolver: resolver}
}

func (c *ProviderChecker) Name() string {
	return ComponentProvider
}

func (c *ProviderChecker) Check(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	balance, err := c.resolver.Balance(ctx)
	if err != nil {
		return nil, err
	}

	status := &HealthStatus{
		Component:    ComponentProvider,
		Status:       StatusHealthy,
		LastCheck:    time.Now(),
		ResponseTime: time.Since(start),
		Balance:      balance,
	}
	if balance <= 0 {
		status.Status = StatusDegraded
		status.ErrorMessage = "solving account balance exhausted"
	}
	return status, nil
}
