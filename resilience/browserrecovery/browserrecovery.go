// Package browserrecovery implements the Browser Recovery Manager
// (component R): a health loop over registered browsers with
// exponential-backoff crash recovery.
package browserrecovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/resolveguard/eventbus"
)

// State is a browser's lifecycle state.
type State string

const (
	StateUnknown    State = "unknown"
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateCrashed    State = "crashed"
	StateRecovering State = "recovering"
	StateTerminated State = "terminated"
)

// HealthMetrics is one probe's sampled view of a browser's health.
type HealthMetrics struct {
	CPUPercent    float64
	MemoryPercent float64
	ErrorRate     float64
	ResponseTimeMS int64
}

// Probe samples live health metrics for a browser; satisfied by the
// driver package or a test double.
type Probe func(browserID string) (HealthMetrics, error)

// RestartFunc recreates a browser process/session; returns an error if
// the restart attempt itself fails.
type RestartFunc func(ctx context.Context, browserID, sessionID string) error

// recoveryContext tracks one registered browser's recovery bookkeeping.
type recoveryContext struct {
	browserID       string
	sessionID       string
	state           State
	recoveryAttempts int
	lastMetrics     HealthMetrics
	lastChecked     time.Time
}

// Manager registers browsers by (browserID, sessionID), runs a periodic
// health loop, and drives crash recovery with exponential backoff
// (component R).
type Manager struct {
	mu                 sync.Mutex
	browsers           map[string]*recoveryContext
	probes             []Probe
	restart            RestartFunc
	bus                *eventbus.Bus
	logger             *slog.Logger
	healthInterval     time.Duration
	maxRecoveryAttempts int
	baseDelay          time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires a Manager. maxRecoveryAttempts defaults to 3 and baseDelay to
// 5s (doubling each attempt), per the component's documented defaults.
func New(healthInterval time.Duration, maxRecoveryAttempts int, baseDelay time.Duration, restart RestartFunc, bus *eventbus.Bus, logger *slog.Logger) *Manager {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	if maxRecoveryAttempts <= 0 {
		maxRecoveryAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		browsers:            make(map[string]*recoveryContext),
		restart:             restart,
		bus:                 bus,
		logger:              logger,
		healthInterval:      healthInterval,
		maxRecoveryAttempts: maxRecoveryAttempts,
		baseDelay:           baseDelay,
		stopCh:              make(chan struct{}),
	}
}

// RegisterProbe adds a health probe consulted during each health-check
// pass (CPU, memory, error rate, response time probes are all the same
// shape here).
func (m *Manager) RegisterProbe(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, p)
}

func key(browserID, sessionID string) string { return browserID + "/" + sessionID }

// RegisterBrowser starts tracking a browser in the Unknown state.
func (m *Manager) RegisterBrowser(browserID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.browsers[key(browserID, sessionID)] = &recoveryContext{browserID: browserID, sessionID: sessionID, state: StateUnknown}
}

// UnregisterBrowser stops tracking a browser.
func (m *Manager) UnregisterBrowser(browserID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.browsers, key(browserID, sessionID))
}

// Start launches the periodic health-check loop in the background.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.monitoringLoop(ctx)
}

// Stop halts the monitoring loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) monitoringLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.performHealthChecks(ctx)
		}
	}
}

func (m *Manager) performHealthChecks(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.browsers))
	for k := range m.browsers {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.checkBrowserHealth(ctx, k)
	}
}

func (m *Manager) checkBrowserHealth(ctx context.Context, k string) {
	m.mu.Lock()
	rc, ok := m.browsers[k]
	m.mu.Unlock()
	if !ok {
		return
	}

	var worst HealthMetrics
	for _, p := range m.probes {
		metrics, err := p(rc.browserID)
		if err != nil {
			continue
		}
		if metrics.ErrorRate > worst.ErrorRate {
			worst = metrics
		}
	}

	m.mu.Lock()
	rc.lastMetrics = worst
	rc.lastChecked = time.Now()
	switch {
	case worst.ErrorRate > 0.5 || worst.MemoryPercent > 95:
		rc.state = StateCrashed
	case worst.ErrorRate > 0.1 || worst.MemoryPercent > 80 || worst.CPUPercent > 90:
		rc.state = StateDegraded
	default:
		if rc.state != StateRecovering {
			rc.state = StateHealthy
		}
	}
	crashed := rc.state == StateCrashed
	m.mu.Unlock()

	if crashed {
		m.ReportBrowserCrash(ctx, rc.browserID, rc.sessionID)
	}
}

// ReportBrowserCrash initiates recovery with exponential backoff: starts
// at baseDelay, doubles each attempt, capped by maxRecoveryAttempts. A
// successful recovery emits a recovery_event; definitive failure leaves
// the browser Crashed.
func (m *Manager) ReportBrowserCrash(ctx context.Context, browserID, sessionID string) {
	m.mu.Lock()
	rc, ok := m.browsers[key(browserID, sessionID)]
	if !ok {
		m.mu.Unlock()
		return
	}
	rc.state = StateCrashed
	m.mu.Unlock()

	go m.initiateRecovery(ctx, rc)
}

func (m *Manager) initiateRecovery(ctx context.Context, rc *recoveryContext) {
	m.mu.Lock()
	rc.state = StateRecovering
	m.mu.Unlock()

	delay := m.baseDelay
	for attempt := 1; attempt <= m.maxRecoveryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		rc.recoveryAttempts = attempt
		m.mu.Unlock()

		if m.restart == nil {
			continue
		}
		if err := m.restart(ctx, rc.browserID, rc.sessionID); err == nil {
			m.mu.Lock()
			rc.state = StateHealthy
			rc.recoveryAttempts = 0
			m.mu.Unlock()
			m.publishRecovery(rc.browserID, true, attempt)
			return
		}
		delay *= 2
	}

	m.mu.Lock()
	rc.state = StateCrashed
	m.mu.Unlock()
	m.publishRecovery(rc.browserID, false, m.maxRecoveryAttempts)
}

func (m *Manager) publishRecovery(browserID string, success bool, attempts int) {
	if m.bus == nil {
		return
	}
	sev := eventbus.SeverityLow
	if !success {
		sev = eventbus.SeverityHigh
	}
	m.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindRecoveryEvent,
		Component: "browserrecovery",
		Severity:  sev,
		Details:   map[string]any{"browser_id": browserID, "success": success, "attempts": attempts},
	})
}

// Status is the externally-visible snapshot of one browser's recovery
// state, for the stats endpoint.
type Status struct {
	BrowserID        string
	SessionID        string
	State            State
	RecoveryAttempts int
	LastMetrics      HealthMetrics
}

// GetBrowserStatus returns the current status for one browser.
func (m *Manager) GetBrowserStatus(browserID, sessionID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.browsers[key(browserID, sessionID)]
	if !ok {
		return Status{}, false
	}
	return Status{BrowserID: rc.browserID, SessionID: rc.sessionID, State: rc.state, RecoveryAttempts: rc.recoveryAttempts, LastMetrics: rc.lastMetrics}, true
}

// GetAllBrowserStatus returns a snapshot of every tracked browser.
func (m *Manager) GetAllBrowserStatus() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.browsers))
	for _, rc := range m.browsers {
		out = append(out, Status{BrowserID: rc.browserID, SessionID: rc.sessionID, State: rc.state, RecoveryAttempts: rc.recoveryAttempts, LastMetrics: rc.lastMetrics})
	}
	return out
}
