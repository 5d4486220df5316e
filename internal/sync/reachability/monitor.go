// Package reachability observes network connectivity and raises
// online/offline transition events.
package reachability

import (
	"context"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/kimhsiao/appdeck/internal/logging"
)

// Probe determines connectivity; nil error means online.
type Probe func() error

// TCPProbe probes connectivity by dialing a well-known TCP address.
func TCPProbe(addr string, timeout time.Duration) Probe {
	return Probe(healthcheck.TCPDialCheck(addr, timeout))
}

// TransitionFunc is invoked on every online/offline transition. It runs on
// the monitor's own goroutine and must hand off into the coordinator's
// execution context instead of mutating shared state directly.
type TransitionFunc func(online bool)

// Monitor polls a Probe at a fixed interval and notifies subscribers on
// state transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.RWMutex
	online bool
	subs   []TransitionFunc
}

// New creates a Monitor. The initial state is offline until the first
// successful probe.
func New(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{probe: probe, interval: interval}
}

// OnTransition registers a transition callback. Registration must happen
// before Start.
func (m *Monitor) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Online returns the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Start begins polling until the context is cancelled. The first probe
// runs immediately so startup doesn't wait a full interval for a state.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	m.check()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	online := m.probe() == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Network reachability changed",
		map[string]interface{}{"online": online})
	for _, fn := range subs {
		fn(online)
	}
}
