package relay

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/weftworks/weft/internal/telemetry"
)

// Health states. The monitor moves healthy→degraded on failed probes,
// degraded→restarting when the failure streak crosses the threshold, and
// back to healthy once a probe succeeds.
type HealthState string

// Monitor states.
const (
	StateHealthy    HealthState = "healthy"
	StateDegraded   HealthState = "degraded"
	StateRestarting HealthState = "restarting"
)

// Monitor tuning. Variables so tests can tighten the loop.
var (
	monitorCheckInterval   = 10 * time.Second
	monitorProbeTimeout    = 2 * time.Second
	monitorBackoffInterval = 60 * time.Second
)

const (
	monitorFailureStreak = 3
	monitorMaxRestarts   = 3
)

// Monitor watches relay health and restarts the relay process when it
// stops responding. Restarts are rate-limited: after monitorMaxRestarts
// consecutive failed restarts the monitor backs off to slow checks until
// monitorBackoffInterval passes.
type Monitor struct {
	client     *Client
	restartCmd []string
	counters   *telemetry.Counters

	mu    sync.RWMutex
	state HealthState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor probing via client. restartCmd is the
// command that (re)starts the relay process; empty disables restarts and
// the monitor only tracks state.
func NewMonitor(client *Client, restartCmd []string) *Monitor {
	return &Monitor{
		client:     client,
		restartCmd: restartCmd,
		counters:   telemetry.NewCounters(),
		state:      StateHealthy,
	}
}

// State returns the current health state.
func (m *Monitor) State() HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) setState(s HealthState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start begins background monitoring. Stop with Stop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts monitoring and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	var (
		failureStreak int
		restartCount  int
		lastFailure   time.Time
		backingOff    bool
	)

	ticker := time.NewTicker(monitorCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if backingOff {
			if time.Since(lastFailure) < monitorBackoffInterval {
				continue
			}
			backingOff = false
			restartCount = 0
		}

		probeCtx, cancel := context.WithTimeout(ctx, monitorProbeTimeout)
		err := m.client.Ping(probeCtx)
		cancel()

		if err == nil {
			if m.State() != StateHealthy {
				fmt.Fprintf(os.Stderr, "relay monitor: relay recovered (healthy)\n")
			}
			m.setState(StateHealthy)
			failureStreak = 0
			restartCount = 0
			continue
		}

		failureStreak++
		lastFailure = time.Now()
		if m.State() == StateHealthy {
			fmt.Fprintf(os.Stderr, "relay monitor: relay unhealthy: %v\n", err)
			m.setState(StateDegraded)
		}

		if failureStreak < monitorFailureStreak || len(m.restartCmd) == 0 {
			continue
		}

		restartCount++
		if restartCount > monitorMaxRestarts {
			fmt.Fprintf(os.Stderr, "relay monitor: max restart attempts (%d) exceeded, backing off to %v checks\n",
				monitorMaxRestarts, monitorBackoffInterval)
			backingOff = true
			continue
		}

		fmt.Fprintf(os.Stderr, "relay monitor: restart attempt %d/%d\n", restartCount, monitorMaxRestarts)
		m.setState(StateRestarting)
		telemetry.Add(ctx, m.counters.RelayRestarts, 1)

		if err := m.restartRelay(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "relay monitor: restart failed: %v\n", err)
			m.setState(StateDegraded)
			continue
		}

		// Give the relay a moment to bind before the next probe.
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}

		probeCtx, cancel = context.WithTimeout(ctx, monitorProbeTimeout)
		err = m.client.Ping(probeCtx)
		cancel()
		if err == nil {
			fmt.Fprintf(os.Stderr, "relay monitor: relay restarted successfully\n")
			m.setState(StateHealthy)
			failureStreak = 0
			restartCount = 0
		} else {
			m.setState(StateDegraded)
		}
	}
}

// restartRelay launches the configured relay command detached from our
// process group so it survives weft exiting.
func (m *Monitor) restartRelay(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.restartCmd[0], m.restartCmd[1:]...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	// Reap in the background; the relay daemonizes or runs long.
	go func() { _ = cmd.Wait() }()
	return nil
}
