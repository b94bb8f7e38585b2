package flush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/telemetry"
	"github.com/weftworks/weft/internal/ui"
)

// Flusher is the export operation the manager drives. *Exporter satisfies
// it; tests substitute fakes.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// Manager debounces export flushes behind an event-driven loop. All flush
// state (dirty flag, debounce timer, failure streak) is owned by a single
// background goroutine; callers interact through channels only, so every
// method is safe from any goroutine.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	exporter Flusher
	counters *telemetry.Counters

	markDirtyCh  chan struct{}
	timerFiredCh chan struct{}
	flushNowCh   chan chan error
	shutdownCh   chan chan error

	wg sync.WaitGroup

	enabled  bool
	debounce time.Duration

	shutdownOnce sync.Once
}

// failureWarnThreshold is the consecutive-failure count at which the
// manager escalates from debug logging to a user-visible warning.
const failureWarnThreshold = 3

// NewManager starts the background flush loop. Stop it with Shutdown.
func NewManager(exporter Flusher, enabled bool, debounce time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		ctx:          ctx,
		cancel:       cancel,
		exporter:     exporter,
		counters:     telemetry.NewCounters(),
		markDirtyCh:  make(chan struct{}, 10),
		timerFiredCh: make(chan struct{}, 1),
		flushNowCh:   make(chan chan error, 1),
		shutdownCh:   make(chan chan error, 1),
		enabled:      enabled,
		debounce:     debounce,
	}

	m.wg.Add(1)
	go m.run()

	return m
}

// MarkDirty schedules a debounced flush. Non-blocking; repeated calls
// within the debounce window coalesce into one flush.
func (m *Manager) MarkDirty() {
	if !m.enabled {
		return
	}
	select {
	case m.markDirtyCh <- struct{}{}:
	case <-m.ctx.Done():
	}
}

// FlushNow flushes immediately, bypassing the debounce. Blocks until the
// flush completes.
func (m *Manager) FlushNow() error {
	if !m.enabled {
		return nil
	}
	responseCh := make(chan error, 1)
	select {
	case m.flushNowCh <- responseCh:
		return <-responseCh
	case <-m.ctx.Done():
		return fmt.Errorf("flush manager shut down")
	}
}

// Shutdown performs a final flush if dirty and stops the loop. Idempotent;
// only the first call does work.
func (m *Manager) Shutdown() error {
	var shutdownErr error

	m.shutdownOnce.Do(func() {
		responseCh := make(chan error, 1)
		select {
		case m.shutdownCh <- responseCh:
			err := <-responseCh
			m.wg.Wait()
			m.cancel()
			shutdownErr = err
		case <-time.After(30 * time.Second):
			m.cancel()
			shutdownErr = fmt.Errorf("shutdown timeout after 30s, final flush may not have completed")
		}
	})

	return shutdownErr
}

// run is the event loop. It alone touches the dirty flag, the timer and
// the failure streak.
func (m *Manager) run() {
	defer m.wg.Done()

	var (
		isDirty       bool
		failureStreak int
		debounceTimer *time.Timer
	)

	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	flush := func() error {
		n, err := m.exporter.Flush(m.ctx)
		if err != nil {
			failureStreak++
			telemetry.Add(m.ctx, m.counters.FlushFailures, 1)
			if failureStreak >= failureWarnThreshold {
				ui.Warnf("auto-flush has failed %d times in a row: %v", failureStreak, err)
			} else {
				debug.Logf("auto-flush failed (%d consecutive): %v", failureStreak, err)
			}
			return err
		}
		failureStreak = 0
		telemetry.Add(m.ctx, m.counters.Flushes, 1)
		debug.Logf("auto-flush exported %d cells", n)
		return nil
	}

	for {
		select {
		case <-m.markDirtyCh:
			isDirty = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(m.debounce, func() {
				select {
				case m.timerFiredCh <- struct{}{}:
				default:
					// A flush is already pending; it will pick this up.
				}
			})

		case <-m.timerFiredCh:
			if isDirty {
				if err := flush(); err == nil {
					isDirty = false
				}
			}

		case responseCh := <-m.flushNowCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
				debounceTimer = nil
			}
			drainDirty(m.markDirtyCh)
			err := flush()
			if err == nil {
				isDirty = false
			}
			responseCh <- err

		case responseCh := <-m.shutdownCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			if !m.enabled {
				responseCh <- nil
				return
			}
			drainDirty(m.markDirtyCh)
			responseCh <- flush()
			return

		case <-m.ctx.Done():
			return
		}
	}
}

// drainDirty consumes buffered dirty marks so a flush that is about to run
// does not leave a stale wakeup behind. Flushing with nothing dirty is a
// no-op, so over-draining is harmless.
func drainDirty(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
