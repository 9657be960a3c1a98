package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/logger"
)

const (
	DEFAULT_FRESHNESS_THRESHOLD = 15 * time.Second
	DEFAULT_STALE_THRESHOLD     = 60 * time.Second
	DEFAULT_CHECK_INTERVAL      = 5 * time.Second
)

// Config holds the health monitor thresholds
type Config struct {
	FreshnessThreshold time.Duration // how recent an update must be for "live"
	StaleThreshold     time.Duration // silence beyond this means "stale"
	CheckInterval      time.Duration
}

func (c *Config) setDefaults() {
	if c.FreshnessThreshold <= 0 {
		c.FreshnessThreshold = DEFAULT_FRESHNESS_THRESHOLD
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DEFAULT_STALE_THRESHOLD
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DEFAULT_CHECK_INTERVAL
	}
}

// Observer is notified on every derived status transition
type Observer func(previous, current domain.HealthStatus)

// Monitor is a state machine over channel adapter signals. Transitions are
// driven purely by the timestamps recorded on adapter success and failure
// callbacks; entering degraded tightens the poll cadence, entering stale
// surfaces a user-visible warning but never clears the ledger.
type Monitor struct {
	config Config
	clock  adapter.Clock

	mu            sync.RWMutex
	startedAt     time.Time
	pushConnected bool
	lastPushEvent time.Time
	lastPollOK    time.Time
	status        domain.HealthStatus
	observers     []Observer
}

// NewMonitor creates a health monitor. A fresh session starts degraded:
// nothing has been observed yet, but polling is about to begin.
func NewMonitor(cfg Config, clock adapter.Clock) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		config:    cfg,
		clock:     clock,
		startedAt: clock.Now(),
		status:    domain.HealthDegraded,
	}
}

// AddObserver registers an observer for status transitions
func (m *Monitor) AddObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// SetPushConnected records a push channel connect or disconnect
func (m *Monitor) SetPushConnected(connected bool) {
	m.mu.Lock()
	m.pushConnected = connected
	m.mu.Unlock()
	m.evaluate()
}

// RecordPushEvent records a successfully received push event
func (m *Monitor) RecordPushEvent() {
	m.mu.Lock()
	m.lastPushEvent = m.clock.Now()
	m.mu.Unlock()
	m.evaluate()
}

// RecordPollSuccess records a successful poll tick
func (m *Monitor) RecordPollSuccess() {
	m.mu.Lock()
	m.lastPollOK = m.clock.Now()
	m.mu.Unlock()
	m.evaluate()
}

// Health returns the current channel health including the derived status
func (m *Monitor) Health() domain.ChannelHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.ChannelHealth{
		PushConnected:   m.pushConnected,
		LastPushEventAt: m.lastPushEvent,
		LastPollSuccess: m.lastPollOK,
		Status:          m.status,
	}
}

// Status returns just the derived status
func (m *Monitor) Status() domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run re-evaluates the status on a fixed cadence so that silence alone
// (no adapter callbacks at all) still drives transitions to stale. It
// returns when the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.evaluate()
		}
	}
}

// evaluate derives the status from the recorded signals and notifies
// observers on transition
func (m *Monitor) evaluate() {
	m.mu.Lock()

	now := m.clock.Now()
	// A session that has not observed anything yet measures silence from
	// startup, so the user-visible stale warning does not trip immediately.
	latest := m.startedAt
	if m.lastPushEvent.After(latest) {
		latest = m.lastPushEvent
	}
	if m.lastPollOK.After(latest) {
		latest = m.lastPollOK
	}
	observed := !m.lastPushEvent.IsZero() || !m.lastPollOK.IsZero()

	var next domain.HealthStatus
	switch {
	case now.Sub(latest) >= m.config.StaleThreshold:
		next = domain.HealthStale
	case m.pushConnected && observed && now.Sub(latest) <= m.config.FreshnessThreshold:
		next = domain.HealthLive
	default:
		next = domain.HealthDegraded
	}

	previous := m.status
	m.status = next
	observers := m.observers
	m.mu.Unlock()

	if previous == next {
		return
	}

	logger.Info("Channel health transition",
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	for _, obs := range observers {
		obs(previous, next)
	}
}
