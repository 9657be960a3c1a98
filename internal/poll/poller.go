package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/logger"
)

const (
	DEFAULT_REQUEST_TIMEOUT       = 2 * time.Second
	DEFAULT_TRANSACTIONS_INTERVAL = 3 * time.Second
	DEFAULT_STAKING_INTERVAL      = 5 * time.Second
	DEFAULT_ADMIN_INTERVAL        = 10 * time.Second
	DEFAULT_DEGRADED_DIVISOR      = 2
)

// Config holds the poll adapter configuration
type Config struct {
	RequestTimeout time.Duration
	Intervals      map[domain.Domain]time.Duration
	// DegradedDivisor shrinks every interval while the push channel is
	// down, compensating for the lost low-latency updates.
	DegradedDivisor int
}

func (c *Config) setDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DEFAULT_REQUEST_TIMEOUT
	}
	if c.Intervals == nil {
		c.Intervals = map[domain.Domain]time.Duration{}
	}
	if c.Intervals[domain.DomainTransactions] <= 0 {
		c.Intervals[domain.DomainTransactions] = DEFAULT_TRANSACTIONS_INTERVAL
	}
	if c.Intervals[domain.DomainStaking] <= 0 {
		c.Intervals[domain.DomainStaking] = DEFAULT_STAKING_INTERVAL
	}
	if c.Intervals[domain.DomainAdmin] <= 0 {
		c.Intervals[domain.DomainAdmin] = DEFAULT_ADMIN_INTERVAL
	}
	if c.DegradedDivisor < 1 {
		c.DegradedDivisor = DEFAULT_DEGRADED_DIVISOR
	}
}

// Sink accepts fragments for reconciliation
type Sink interface {
	Enqueue(ctx context.Context, frag *domain.Fragment) error
}

// Signals carries the poller's outbound callbacks to the health monitor
type Signals struct {
	Success func()
}

// Poller issues periodic snapshot fetches, one independent timer per
// domain. A failed poll never stops its timer: it logs and leaves
// previously reconciled state untouched until the next tick.
type Poller struct {
	config Config
	client Client
	clock  adapter.Clock
	sink   Sink
	signal Signals

	degraded atomic.Bool
	kicks    map[domain.Domain]chan struct{}
	running  atomic.Bool
}

// NewPoller creates a poll adapter
func NewPoller(cfg Config, client Client, clock adapter.Clock, sink Sink, signals Signals) *Poller {
	cfg.setDefaults()
	kicks := make(map[domain.Domain]chan struct{}, len(cfg.Intervals))
	for dom := range cfg.Intervals {
		kicks[dom] = make(chan struct{}, 1)
	}
	return &Poller{
		config: cfg,
		client: client,
		clock:  clock,
		sink:   sink,
		signal: signals,
		kicks:  kicks,
	}
}

// SetDegraded tightens or relaxes the poll cadence. The new interval takes
// effect on each domain's next tick; in-flight requests are never cut short
// by a cadence change.
func (p *Poller) SetDegraded(degraded bool) {
	if p.degraded.Swap(degraded) != degraded {
		logger.Info("Poll cadence changed",
			zap.Bool("degraded", degraded),
			zap.Int("divisor", p.config.DegradedDivisor),
		)
	}
}

// TriggerAll requests an immediate out-of-band tick for every domain,
// used to resynchronize after a push reconnect. Pending triggers coalesce.
func (p *Poller) TriggerAll() {
	for dom, kick := range p.kicks {
		select {
		case kick <- struct{}{}:
		default:
			logger.Debug("Poll trigger already pending", zap.String("domain", string(dom)))
		}
	}
}

// Run starts one polling loop per domain and blocks until the context is
// cancelled and all loops have stopped.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller already running")
	}
	defer p.running.Store(false)

	var wg sync.WaitGroup
	for dom := range p.config.Intervals {
		wg.Add(1)
		go func(dom domain.Domain) {
			defer wg.Done()
			p.loop(ctx, dom)
		}(dom)
	}
	wg.Wait()
	return ctx.Err()
}

// loop runs the timer for one domain
func (p *Poller) loop(ctx context.Context, dom domain.Domain) {
	interval := p.interval(dom)
	logger.InfoCtx(ctx, "Starting poll loop",
		zap.String("domain", string(dom)),
		zap.Duration("interval", interval),
	)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Poll loop stopping", zap.String("domain", string(dom)))
			return
		case <-ticker.Chan():
		case <-p.kicks[dom]:
		}

		p.tick(ctx, dom)

		// Cadence feedback from the health monitor is applied between
		// ticks, never mid-request.
		if next := p.interval(dom); next != interval {
			interval = next
			ticker.Reset(interval)
			logger.InfoCtx(ctx, "Poll interval updated",
				zap.String("domain", string(dom)),
				zap.Duration("interval", interval),
			)
		}
	}
}

// tick performs one snapshot fetch. A timeout counts as a failed tick,
// not a crash.
func (p *Poller) tick(ctx context.Context, dom domain.Domain) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	frags, err := p.client.Fetch(reqCtx, dom)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.WarnCtx(ctx, "Poll tick failed, keeping previous state",
			zap.String("domain", string(dom)),
			zap.Error(err),
		)
		return
	}

	for _, frag := range frags {
		if frag == nil {
			continue
		}
		frag.Origin = domain.OriginPoll
		if frag.Domain == "" {
			frag.Domain = dom
		}
		if err := p.sink.Enqueue(ctx, frag); err != nil {
			logger.WarnCtx(ctx, "Failed to enqueue poll fragment",
				zap.String("domain", string(dom)),
				zap.String("id", frag.ID),
				zap.Error(err),
			)
		}
	}

	if p.signal.Success != nil {
		p.signal.Success()
	}

	logger.DebugCtx(ctx, "Poll tick reconciled",
		zap.String("domain", string(dom)),
		zap.Int("fragments", len(frags)),
	)
}

// interval returns the current cadence for a domain, honoring degraded mode
func (p *Poller) interval(dom domain.Domain) time.Duration {
	interval := p.config.Intervals[dom]
	if p.degraded.Load() {
		interval /= time.Duration(p.config.DegradedDivisor)
		if interval <= 0 {
			interval = time.Second
		}
	}
	return interval
}
