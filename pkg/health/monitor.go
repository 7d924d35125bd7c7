package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/log"
)

// loopFallback is how long the monitor sleeps after a loop-level failure
// before resuming the normal interval.
const loopFallback = 5 * time.Second

// Monitor runs the configured probes on a timer and aggregates their latest
// results. A failing probe never terminates the loop.
type Monitor struct {
	probers  []Prober
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	results map[string]CheckResult

	started time.Time
	stopCh  chan struct{}
}

// NewMonitor creates a Monitor probing every interval.
func NewMonitor(interval time.Duration, probers ...Prober) *Monitor {
	return &Monitor{
		probers:  probers,
		interval: interval,
		log:      log.WithComponent("health"),
		results:  make(map[string]CheckResult),
		started:  time.Now(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop signals the loop to exit at its next check.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	// Probe immediately so the endpoints have data before the first tick.
	m.CheckNow(context.Background())

	for {
		wait := m.interval
		select {
		case <-m.stopCh:
			return
		case <-time.After(wait):
		}

		if err := m.safeCheck(); err != nil {
			m.log.Error().Err(err).Msg("health check cycle failed")
			select {
			case <-m.stopCh:
				return
			case <-time.After(loopFallback):
			}
		}
	}
}

func (m *Monitor) safeCheck() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in health check cycle: %v", r)
		}
	}()
	m.CheckNow(context.Background())
	return nil
}

// CheckNow runs every probe once and stores the results. A panicking probe is
// recorded as unhealthy with the panic message.
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, p := range m.probers {
		res := m.runProbe(ctx, p)
		m.mu.Lock()
		m.results[p.Name()] = res
		m.mu.Unlock()
	}
}

func (m *Monitor) runProbe(ctx context.Context, p Prober) (res CheckResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = result(p.Name(), StateUnhealthy, fmt.Sprintf("probe panicked: %v", r), started)
		}
	}()
	return p.Check(ctx)
}

// Results returns a copy of the latest result per probe.
func (m *Monitor) Results() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CheckResult, len(m.results))
	for name, res := range m.results {
		out[name] = res
	}
	return out
}

// Overall folds the individual results: any unhealthy makes the whole system
// unhealthy; otherwise any degraded makes it degraded; all healthy means
// healthy; anything else is unknown.
func (m *Monitor) Overall() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StateUnknown
	}

	allHealthy := true
	degraded := false
	for _, res := range m.results {
		switch res.Status {
		case StateUnhealthy:
			return StateUnhealthy
		case StateDegraded:
			degraded = true
			allHealthy = false
		case StateHealthy:
		default:
			allHealthy = false
		}
	}

	switch {
	case degraded:
		return StateDegraded
	case allHealthy:
		return StateHealthy
	default:
		return StateUnknown
	}
}

// Ready reports whether the three connectivity probes are all healthy.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range []string{ProbePostgres, ProbeStarRocks, ProbeEngine} {
		res, ok := m.results[name]
		if !ok || res.Status != StateHealthy {
			return false
		}
	}
	return true
}

// Uptime reports how long the monitor has been running.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.started)
}
