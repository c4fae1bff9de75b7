package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a hand-driven ReachabilitySource.
type fakeSource struct {
	handler      func(Reachability)
	unsubscribed bool
}

func (f *fakeSource) Subscribe(handler func(Reachability)) func() {
	f.handler = handler
	return func() { f.unsubscribed = true }
}

func (f *fakeSource) push(r Reachability) {
	f.handler(r)
}

func boolPtr(b bool) *bool { return &b }

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMonitor(t *testing.T, urls ...string) *Monitor {
	t.Helper()
	m := NewMonitor(Config{
		ProbeURLs:        urls,
		ProbeTimeout:     2 * time.Second,
		OfflineThreshold: 2,
		MaxAutoRetries:   5,
	})
	t.Cleanup(m.Stop)
	return m
}

func TestNextDelayFollowsEscalatingTable(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
	}
	for failures, delay := range want {
		assert.Equal(t, delay, NextDelay(failures+1), "failures=%d", failures+1)
	}

	// Past the table the delay stays capped.
	assert.Equal(t, 30*time.Second, NextDelay(6))
	assert.Equal(t, 30*time.Second, NextDelay(100))
	// Degenerate input clamps to the first entry.
	assert.Equal(t, 1*time.Second, NextDelay(0))
}

func TestAnyOfNProbeSucceedsOnSingleHealthyEndpoint(t *testing.T) {
	healthy := statusServer(t, http.StatusNoContent)
	bad1 := statusServer(t, http.StatusInternalServerError)
	bad2 := statusServer(t, http.StatusBadGateway)
	bad3 := statusServer(t, http.StatusNotFound)

	m := newTestMonitor(t, bad1.URL, bad2.URL, healthy.URL, bad3.URL)

	status := m.ForceCheck(context.Background())
	assert.Equal(t, StatusOnline, status)
}

func TestConsecutiveProbeFailuresForceOffline(t *testing.T) {
	bad := statusServer(t, http.StatusInternalServerError)
	m := newTestMonitor(t, bad.URL)

	// One failure is below the threshold; the optimistic Online holds.
	assert.Equal(t, StatusOnline, m.ForceCheck(context.Background()))

	// The second consecutive failure crosses it.
	assert.Equal(t, StatusOffline, m.ForceCheck(context.Background()))
}

func TestRecoveryResetsFailureCounter(t *testing.T) {
	bad := statusServer(t, http.StatusInternalServerError)
	m := newTestMonitor(t, bad.URL)

	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())
	require.Equal(t, StatusOffline, m.Status())

	good := statusServer(t, http.StatusNoContent)
	m.cfg.ProbeURLs = []string{good.URL}

	assert.Equal(t, StatusOnline, m.ForceCheck(context.Background()))
	m.mu.Lock()
	assert.Equal(t, 0, m.failures)
	m.mu.Unlock()
}

func TestOSDisconnectFastPath(t *testing.T) {
	source := &fakeSource{}
	m := newTestMonitor(t, "http://127.0.0.1:0/unused")
	m.Start(source)

	source.push(Reachability{Connected: false})

	// No probe needed: the radio is down.
	assert.Equal(t, StatusOffline, m.Status())
	m.mu.Lock()
	assert.Equal(t, len(backoffTable), m.failures)
	m.mu.Unlock()
}

func TestOSReachableTransitionsOnline(t *testing.T) {
	source := &fakeSource{}
	m := newTestMonitor(t, "http://127.0.0.1:0/unused")
	m.Start(source)

	source.push(Reachability{Connected: false})
	require.Equal(t, StatusOffline, m.Status())

	source.push(Reachability{Connected: true, InternetReachable: boolPtr(true)})
	assert.Equal(t, StatusOnline, m.Status())

	source.push(Reachability{Connected: true, InternetReachable: boolPtr(false)})
	assert.Equal(t, StatusOffline, m.Status())
}

func TestSubscribeDeliversTransitions(t *testing.T) {
	source := &fakeSource{}
	m := newTestMonitor(t, "http://127.0.0.1:0/unused")
	m.Start(source)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	source.push(Reachability{Connected: false})

	select {
	case got := <-ch:
		assert.Equal(t, StatusOffline, got)
	case <-time.After(time.Second):
		t.Fatal("expected a status notification")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	source := &fakeSource{}
	m := newTestMonitor(t, "http://127.0.0.1:0/unused")
	m.Start(source)

	ch, unsubscribe := m.Subscribe()
	unsubscribe()

	source.push(Reachability{Connected: false})

	select {
	case <-ch:
		t.Fatal("unsubscribed channel must not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackgroundSuppressesProbes(t *testing.T) {
	bad := statusServer(t, http.StatusInternalServerError)
	m := newTestMonitor(t, bad.URL)

	m.EnterBackground()

	// Probe rounds are skipped entirely while backgrounded, so repeated
	// forced checks cannot accumulate failures.
	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())
	assert.Equal(t, StatusOnline, m.Status())

	m.mu.Lock()
	assert.Equal(t, 0, m.failures)
	m.mu.Unlock()
}

func TestPeriodicCheckOnlyRunsWhileOnline(t *testing.T) {
	bad := statusServer(t, http.StatusInternalServerError)
	m := newTestMonitor(t, bad.URL)

	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())
	require.Equal(t, StatusOffline, m.Status())
	m.mu.Lock()
	failuresBefore := m.failures
	m.mu.Unlock()

	// Offline: the periodic probe yields to the backoff-driven recheck path.
	m.PeriodicCheck(context.Background())
	m.mu.Lock()
	assert.Equal(t, failuresBefore, m.failures)
	m.mu.Unlock()
}

func TestStopUnsubscribesFromSource(t *testing.T) {
	source := &fakeSource{}
	m := NewMonitor(Config{ProbeURLs: []string{"http://127.0.0.1:0/unused"}})
	m.Start(source)
	m.Stop()
	assert.True(t, source.unsubscribed)
}
