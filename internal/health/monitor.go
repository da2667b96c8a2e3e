// Package health tracks role liveness and derives per-role circuit state.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

// Circuit is the derived liveness state of a role.
type Circuit string

const (
	// CircuitClosed means the role is healthy and may be assigned work.
	CircuitClosed Circuit = "closed"
	// CircuitOpen means the role cannot participate right now. It is a
	// point-in-time signal, never an indefinite block.
	CircuitOpen Circuit = "open"
)

// StatusRunning is the only reported status treated as healthy.
const StatusRunning = "running"

// Monitor records heartbeats and recomputes circuit state each poll cycle.
type Monitor struct {
	store     *store.Store
	staleness time.Duration
	interval  time.Duration
	poll      time.Duration

	mu       sync.RWMutex
	circuits map[org.Role]Circuit
}

// New creates a monitor.
func New(st *store.Store, heartbeatInterval, staleness, pollInterval time.Duration) *Monitor {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if staleness <= 0 {
		staleness = 3 * heartbeatInterval
	}
	if pollInterval <= 0 {
		pollInterval = heartbeatInterval / 2
	}
	return &Monitor{
		store:     st,
		staleness: staleness,
		interval:  heartbeatInterval,
		poll:      pollInterval,
		circuits:  make(map[org.Role]Circuit),
	}
}

// Heartbeat upserts the role's last-heartbeat and status.
func (m *Monitor) Heartbeat(role org.Role, status string) error {
	return m.store.UpsertAgentStatus(string(role), status, time.Now().UTC())
}

// StartHeartbeat emits heartbeats for a role at the configured interval
// until the context is cancelled.
func (m *Monitor) StartHeartbeat(ctx context.Context, role org.Role) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if err := m.Heartbeat(role, StatusRunning); err != nil {
		slog.Warn("heartbeat failed", "role", role, "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Heartbeat(role, StatusRunning); err != nil {
				slog.Warn("heartbeat failed", "role", role, "error", err)
			}
		}
	}
}

// Run recomputes circuit state every poll cycle until cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	m.Recompute()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Recompute()
		}
	}
}

// Recompute derives circuit state for every role from the stored heartbeats.
// A role is down when its heartbeat is stale or its last reported status is
// not running. If the store is unreachable the previous view is kept and the
// failure is logged: a flaky store must not cascade false-down status.
func (m *Monitor) Recompute() {
	statuses, err := m.store.ListAgentStatus()
	if err != nil {
		slog.Warn("circuit recompute skipped, store unreachable", "error", err)
		return
	}

	now := time.Now().UTC()
	next := make(map[org.Role]Circuit, len(statuses))
	for _, s := range statuses {
		role, err := org.ParseRole(s.Role)
		if err != nil {
			slog.Warn("ignoring status row for unknown role", "role", s.Role)
			continue
		}
		circuit := CircuitClosed
		if now.Sub(s.LastHeartbeat) > m.staleness || s.Status != StatusRunning {
			circuit = CircuitOpen
		}
		next[role] = circuit
	}

	m.mu.Lock()
	for role, c := range next {
		if m.circuits[role] != c {
			slog.Info("circuit transition", "role", role, "state", c)
		}
		m.circuits[role] = c
	}
	m.mu.Unlock()
}

// Available reports whether a role may be assigned work. Roles with no
// recorded state default to available: assume healthy over false-down.
func (m *Monitor) Available(role org.Role) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.circuits[role]
	if !ok {
		return true
	}
	return c == CircuitClosed
}

// State returns the current circuit of a role.
func (m *Monitor) State(role org.Role) Circuit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.circuits[role]; ok {
		return c
	}
	return CircuitClosed
}

// Snapshot returns the circuit state of every tracked role.
func (m *Monitor) Snapshot() map[org.Role]Circuit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[org.Role]Circuit, len(m.circuits))
	for r, c := range m.circuits {
		out[r] = c
	}
	return out
}
