package relay

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFastMonitor(t *testing.T) {
	t.Helper()
	oldCheck, oldProbe := monitorCheckInterval, monitorProbeTimeout
	monitorCheckInterval = 10 * time.Millisecond
	monitorProbeTimeout = 100 * time.Millisecond
	t.Cleanup(func() {
		monitorCheckInterval = oldCheck
		monitorProbeTimeout = oldProbe
	})
}

func TestMonitorDegradesWhenRelayFails(t *testing.T) {
	withFastMonitor(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(NewClient(srv.URL), nil)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StateDegraded
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorRecoversToHealthy(t *testing.T) {
	withFastMonitor(t)

	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(NewClient(srv.URL), nil)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == StateDegraded
	}, time.Second, 5*time.Millisecond)

	failing.Store(false)
	require.Eventually(t, func() bool {
		return m.State() == StateHealthy
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorStaysHealthyAgainstHealthyRelay(t *testing.T) {
	withFastMonitor(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(NewClient(srv.URL), nil)
	m.Start()
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateHealthy, m.State())
}

func TestMonitorStopBeforeStart(t *testing.T) {
	m := NewMonitor(NewClient("http://127.0.0.1:1"), nil)
	m.Stop()
}
