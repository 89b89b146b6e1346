package heartbeat

import "context"

// Gate is a pre-solve health gate bound to one monitored component. The
// first consultation probes on demand; afterwards the monitor's last known
// status answers without an extra round trip.
type Gate struct {
	monitor   *Monitor
	component string
}

// GateFor binds a gate to a component on the monitor.
func GateFor(m *Monitor, component string) *Gate {
	return &Gate{monitor: m, component: component}
}

// Healthy reports whether the component is currently reachable.
func (g *Gate) Healthy(ctx context.Context) bool {
	if _, err := g.monitor.Status(g.component); err != nil {
		// Never probed yet; do it now so startup gets a real verdict.
		if _, err := g.monitor.CheckNow(ctx, g.component); err != nil {
			return false
		}
	}
	return g.monitor.IsHealthy(g.component)
}
