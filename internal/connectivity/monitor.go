// Package connectivity determines whether the remote services are actually
// reachable, as opposed to the radio merely being up.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tenantgate/visitsync/internal/logger"
)

// Status is the binary connectivity state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Reachability is a platform network signal. InternetReachable is nil when
// the platform reports a link but cannot tell whether the internet is
// actually reachable.
type Reachability struct {
	Connected         bool
	InternetReachable *bool
}

// ReachabilitySource adapts a platform's network event API. Subscribe
// registers a handler and returns a disposer.
type ReachabilitySource interface {
	Subscribe(handler func(Reachability)) (unsubscribe func())
}

// Config tunes the monitor.
type Config struct {
	// ProbeURLs are independent low-cost endpoints checked with HEAD.
	ProbeURLs []string
	// ProbeTimeout bounds each individual probe request.
	ProbeTimeout time.Duration
	// OfflineThreshold is the consecutive-failure count that forces Offline.
	OfflineThreshold int
	// MaxAutoRetries caps backoff-scheduled rechecks until an external
	// trigger resets the counter.
	MaxAutoRetries int
}

// backoffTable maps the consecutive-failure count to the delay before the
// next automatic recheck. The last entry is the cap.
var backoffTable = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Monitor tracks online/offline state from platform signals and active
// multi-endpoint probing. One instance per process, owned by the
// composition root.
type Monitor struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	status      Status
	failures    int
	autoRetries int
	lastCheck   time.Time
	probing     bool
	retryTimer  *time.Timer
	probeCancel context.CancelFunc
	background  bool

	subMu   sync.Mutex
	subs    map[int]chan Status
	nextSub int

	unsubSource func()
}

// NewMonitor creates a Monitor. The initial status is optimistically Online.
func NewMonitor(cfg Config) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 4 * time.Second
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 2
	}
	if cfg.MaxAutoRetries <= 0 {
		cfg.MaxAutoRetries = len(backoffTable)
	}
	return &Monitor{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.ProbeTimeout},
		status: StatusOnline,
		subs:   make(map[int]chan Status),
	}
}

// Start attaches the monitor to a platform reachability source. source may
// be nil when no platform signal is available; the monitor then relies on
// active probing alone.
func (m *Monitor) Start(source ReachabilitySource) {
	if source != nil {
		m.unsubSource = source.Subscribe(m.handleReachability)
	}
}

// Stop detaches from the reachability source and cancels in-flight probes.
func (m *Monitor) Stop() {
	if m.unsubSource != nil {
		m.unsubSource()
		m.unsubSource = nil
	}
	m.cancelPending()
}

// Status returns the current connectivity status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastCheck returns when the status was last refreshed.
func (m *Monitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// Subscribe registers for status-change notifications. The returned disposer
// must be called when the subscriber goes away.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Status, 1)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

// ForceCheck resets the auto-retry budget and runs a probe round
// synchronously, returning the resulting status.
func (m *Monitor) ForceCheck(ctx context.Context) Status {
	m.mu.Lock()
	m.autoRetries = 0
	m.mu.Unlock()

	m.probeRound(ctx)
	return m.Status()
}

// PeriodicCheck runs a probe round only while Online, to detect silent
// degradation. It does not reset the auto-retry budget.
func (m *Monitor) PeriodicCheck(ctx context.Context) {
	if m.Status() != StatusOnline {
		return
	}
	m.probeRound(ctx)
}

// EnterForeground forces an immediate probe with a fresh retry budget.
func (m *Monitor) EnterForeground(ctx context.Context) {
	m.mu.Lock()
	m.background = false
	m.autoRetries = 0
	m.mu.Unlock()

	go m.probeRound(ctx)
}

// EnterBackground cancels in-flight probes and pending rechecks.
func (m *Monitor) EnterBackground() {
	m.mu.Lock()
	m.background = true
	m.mu.Unlock()

	m.cancelPending()
}

// handleReachability applies a platform network event.
func (m *Monitor) handleReachability(r Reachability) {
	switch {
	case !r.Connected:
		// Radio down: no point probing, go straight to the backoff cap.
		m.mu.Lock()
		m.failures = len(backoffTable)
		m.lastCheck = time.Now()
		m.mu.Unlock()
		m.setStatus(StatusOffline)
	case r.InternetReachable != nil && !*r.InternetReachable:
		m.mu.Lock()
		m.failures = m.cfg.OfflineThreshold
		m.lastCheck = time.Now()
		m.mu.Unlock()
		m.setStatus(StatusOffline)
	case r.InternetReachable != nil && *r.InternetReachable:
		m.mu.Lock()
		m.failures = 0
		m.autoRetries = 0
		m.lastCheck = time.Now()
		m.mu.Unlock()
		m.setStatus(StatusOnline)
	default:
		// Link up but reachability unknown: verify with an active probe.
		go m.probeRound(context.Background())
	}
}

// probeRound runs one any-of-N probe pass. Only one round runs at a time;
// overlapping calls return immediately.
func (m *Monitor) probeRound(ctx context.Context) {
	m.mu.Lock()
	if m.probing || m.background {
		m.mu.Unlock()
		return
	}
	m.probing = true
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	m.probeCancel = cancel
	m.mu.Unlock()

	ok := m.probeAny(probeCtx)
	cancel()

	m.mu.Lock()
	m.probing = false
	m.probeCancel = nil
	m.lastCheck = time.Now()

	if ok {
		m.failures = 0
		m.autoRetries = 0
		m.mu.Unlock()
		m.setStatus(StatusOnline)
		return
	}

	m.failures++
	failures := m.failures
	offline := failures >= m.cfg.OfflineThreshold
	schedule := m.autoRetries < m.cfg.MaxAutoRetries && !m.background
	if schedule {
		m.autoRetries++
		delay := NextDelay(failures)
		if m.retryTimer != nil {
			m.retryTimer.Stop()
		}
		m.retryTimer = time.AfterFunc(delay, func() {
			m.probeRound(context.Background())
		})
		logger.Log.Debug("connectivity probe failed, recheck scheduled",
			zap.Int("failures", failures), zap.Duration("delay", delay))
	} else {
		logger.Log.Debug("connectivity probe failed, retry budget exhausted",
			zap.Int("failures", failures))
	}
	m.mu.Unlock()

	if offline {
		m.setStatus(StatusOffline)
	}
}

// probeAny issues HEAD requests concurrently against all probe endpoints and
// reports success if any one of them responds with an HTTP success status.
// A single blocked or slow endpoint therefore cannot force a false negative.
func (m *Monitor) probeAny(ctx context.Context) bool {
	results := make(chan bool, len(m.cfg.ProbeURLs))

	for _, url := range m.cfg.ProbeURLs {
		go func(url string) {
			results <- m.probeOne(ctx, url)
		}(url)
	}

	for range m.cfg.ProbeURLs {
		select {
		case ok := <-results:
			if ok {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (m *Monitor) probeOne(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// setStatus applies a status transition and notifies subscribers. Slow
// subscribers are skipped rather than blocked on.
func (m *Monitor) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()

	logger.Log.Info("connectivity status changed", zap.String("status", string(s)))

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// cancelPending aborts the in-flight probe round and any scheduled recheck.
func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probeCancel != nil {
		m.probeCancel()
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// NextDelay returns the recheck delay for the given consecutive-failure
// count, drawn from the fixed escalating table and capped at its last entry.
func NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(backoffTable) {
		failures = len(backoffTable)
	}
	return backoffTable[failures-1]
}
