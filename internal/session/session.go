package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/aggregate"
	"github.com/stakelight/ledgersync/internal/config"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/health"
	"github.com/stakelight/ledgersync/internal/ledger"
	"github.com/stakelight/ledgersync/internal/logger"
	"github.com/stakelight/ledgersync/internal/optimistic"
	"github.com/stakelight/ledgersync/internal/poll"
	"github.com/stakelight/ledgersync/internal/push"
	"github.com/stakelight/ledgersync/internal/reconcile"
)

const SUBSCRIBER_BUFFER = 64

// Update is one change delivered to a domain subscriber. Item is set for
// tracked item changes, Aggregate for recomputed totals.
type Update struct {
	Domain    domain.Domain
	Item      *domain.TrackedItem
	Aggregate *domain.AggregateSnapshot
}

// Session owns one user session's synchronization engine: the ledger
// store, reconciler, aggregator, health monitor and both channel
// adapters. Nothing here is ambient; everything is torn down by Close.
type Session struct {
	id     string
	config *config.SyncdConfig
	clock  adapter.Clock

	store      *ledger.Store
	reconciler *reconcile.Reconciler
	aggregator *aggregate.Aggregator
	monitor    *health.Monitor
	buffer     *optimistic.Buffer
	pusher     *push.Adapter
	poller     *poll.Poller

	mu         sync.RWMutex
	subs       map[domain.Domain][]chan Update
	adminStats *domain.AggregateSnapshot // backend-computed, as pushed on admin.stats

	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Deps are the injectable seams, mockable in tests
type Deps struct {
	Clock adapter.Clock
	JSON  adapter.JSON
	Nats  adapter.Nats
	HTTP  adapter.HTTPClient
	Token poll.TokenProvider
}

// New builds a session from configuration. Nothing runs until Start.
func New(cfg *config.SyncdConfig, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = adapter.NewClock()
	}
	if deps.JSON == nil {
		deps.JSON = adapter.NewJSON()
	}
	if deps.Nats == nil {
		deps.Nats = adapter.NewNats()
	}
	if deps.HTTP == nil {
		deps.HTTP = adapter.NewHTTPClient(cfg.Poll.RequestTimeout)
	}
	if deps.Token == nil {
		token := cfg.AuthToken
		deps.Token = func() string { return token }
	}

	s := &Session{
		id:     uuid.NewString(),
		config: cfg,
		clock:  deps.Clock,
		subs:   make(map[domain.Domain][]chan Update),
		done:   make(chan struct{}),
	}

	s.store = ledger.NewStore()
	s.reconciler = reconcile.New(s.store, deps.Clock, reconcile.Config{
		QueueSize:         cfg.Reconciler.QueueSize,
		CorrelationWindow: cfg.Reconciler.CorrelationWindow,
		RetryCeiling:      cfg.Reconciler.RetryCeiling,
		CycleInterval:     cfg.Reconciler.CycleInterval,
		FailedGracePeriod: cfg.Reconciler.FailedGracePeriod,
	})
	s.buffer = optimistic.NewBuffer(s.reconciler, deps.Clock)
	s.monitor = health.NewMonitor(health.Config{
		FreshnessThreshold: cfg.Health.FreshnessThreshold,
		StaleThreshold:     cfg.Health.StaleThreshold,
		CheckInterval:      cfg.Health.CheckInterval,
	}, deps.Clock)

	// Aggregator performs its cold start rescan on construction, then
	// stays incremental off the store's change feed.
	s.aggregator = aggregate.New(s.store, deps.Clock)
	s.store.AddObserver(s.aggregator.Apply)
	s.store.AddObserver(s.settleRekeyed)
	s.store.AddObserver(s.publishItem)
	s.aggregator.AddObserver(s.publishAggregate)

	pollClient := poll.NewHTTPClient(deps.HTTP, cfg.Poll.BaseURL, deps.Token)
	s.poller = poll.NewPoller(poll.Config{
		RequestTimeout: cfg.Poll.RequestTimeout,
		Intervals: map[domain.Domain]time.Duration{
			domain.DomainTransactions: cfg.Poll.TransactionsInterval,
			domain.DomainStaking:      cfg.Poll.StakingInterval,
			domain.DomainAdmin:        cfg.Poll.AdminInterval,
		},
		DegradedDivisor: cfg.Poll.DegradedDivisor,
	}, pollClient, deps.Clock, s.reconciler, poll.Signals{
		Success: s.monitor.RecordPollSuccess,
	})

	if cfg.Push.Enabled {
		s.pusher = push.NewAdapter(push.Config{
			URL:             cfg.NATS.URL,
			ConnectionName:  fmt.Sprintf("%s-%s", cfg.NATS.ConnectionName, s.id),
			MaxReconnects:   cfg.NATS.MaxReconnects,
			WorkerPoolSize:  cfg.Push.WorkerPoolSize,
			WorkerQueueSize: cfg.Push.WorkerQueueSize,
		}, deps.Nats, deps.JSON, deps.Clock, s.reconciler, push.Signals{
			Connected:  s.monitor.SetPushConnected,
			Event:      s.monitor.RecordPushEvent,
			Resync:     s.poller.TriggerAll,
			AdminStats: s.setAdminStats,
		})
	}

	// Health feedback loop: losing the push channel tightens the poll
	// cadence; stale surfaces a warning but never clears the ledger.
	s.monitor.AddObserver(func(previous, current domain.HealthStatus) {
		s.poller.SetDegraded(current != domain.HealthLive)
		if current == domain.HealthStale {
			logger.Warn("Session data is stale: no channel has delivered updates",
				zap.String("session_id", s.id),
				zap.String("previous", string(previous)),
			)
		}
	})

	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Buffer returns the optimistic write buffer for local user actions
func (s *Session) Buffer() *optimistic.Buffer {
	return s.buffer
}

// Store returns the ledger store for read access
func (s *Session) Store() *ledger.Store {
	return s.store
}

// Start launches the reconciler, adapters and health monitor. It returns
// immediately; the engine runs until Close or context cancellation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	logger.InfoCtx(ctx, "Starting session",
		zap.String("session_id", s.id),
		zap.Bool("push_enabled", s.pusher != nil),
	)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(err, zap.String("component", name), zap.String("session_id", s.id))
			}
		}()
	}

	run("reconciler", s.reconciler.Run)
	run("health-monitor", s.monitor.Run)
	run("poller", s.poller.Run)
	if s.pusher != nil {
		run("push-adapter", s.pusher.Run)
	}

	go func() {
		wg.Wait()
		close(s.done)
	}()
	return nil
}

// Subscribe returns a stream of updates for one domain. The channel is
// buffered; a subscriber that stops draining loses updates rather than
// stalling reconciliation.
func (s *Session) Subscribe(dom domain.Domain) (<-chan Update, error) {
	if !domain.IsValidDomain(dom) {
		return nil, fmt.Errorf("unknown domain %q", dom)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	ch := make(chan Update, SUBSCRIBER_BUFFER)
	s.subs[dom] = append(s.subs[dom], ch)
	return ch, nil
}

// Health returns the current channel health
func (s *Session) Health() domain.ChannelHealth {
	return s.monitor.Health()
}

// Aggregates returns the derived totals for one domain
func (s *Session) Aggregates(dom domain.Domain) domain.AggregateSnapshot {
	return s.aggregator.Snapshot(dom)
}

// AdminStats returns the latest backend-computed aggregate snapshot, if
// one has been pushed
func (s *Session) AdminStats() *domain.AggregateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.adminStats == nil {
		return nil
	}
	snap := *s.adminStats
	return &snap
}

// Refresh triggers an immediate poll of every domain and a full
// aggregator rescan, the manual consistency backstop.
func (s *Session) Refresh() {
	s.poller.TriggerAll()
	s.aggregator.Rescan()
}

// Close cancels all adapter tasks, waits for them to stop, and flushes
// the store. No orphaned timer mutates a torn-down store.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	subs := s.subs
	s.subs = make(map[domain.Domain][]chan Update)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			logger.WarnCtx(ctx, "Session close interrupted before tasks stopped",
				zap.String("session_id", s.id))
			return ctx.Err()
		}
	}

	for _, channels := range subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	s.store.Flush()
	logger.Info("Session closed", zap.String("session_id", s.id))
	return nil
}

// settleRekeyed releases the buffer's local-id bookkeeping once an
// optimistic entry adopts an authoritative identifier. Rekeys are the only
// changes where the stored ID moves.
func (s *Session) settleRekeyed(change ledger.Change) {
	if change.Previous != nil && change.Current != nil && change.Previous.ID != change.Current.ID {
		s.buffer.Settle(change.Previous.ID)
	}
}

// publishItem fans a ledger change out to domain subscribers
func (s *Session) publishItem(change ledger.Change) {
	item := change.Current
	if item == nil {
		item = change.Previous
	}
	if item == nil {
		return
	}
	s.publish(item.Domain, Update{Domain: item.Domain, Item: item.Clone()})
}

// publishAggregate fans recomputed totals out to domain subscribers
func (s *Session) publishAggregate(snap domain.AggregateSnapshot) {
	s.publish(snap.Domain, Update{Domain: snap.Domain, Aggregate: &snap})
}

func (s *Session) publish(dom domain.Domain, update Update) {
	s.mu.RLock()
	channels := s.subs[dom]
	s.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- update:
		default:
			logger.Debug("Dropping update for slow subscriber", zap.String("domain", string(dom)))
		}
	}
}

func (s *Session) setAdminStats(snap domain.AggregateSnapshot) {
	s.mu.Lock()
	s.adminStats = &snap
	s.mu.Unlock()
	s.publish(domain.DomainAdmin, Update{Domain: domain.DomainAdmin, Aggregate: &snap})
}
