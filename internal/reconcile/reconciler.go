package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
	"github.com/stakelight/ledgersync/internal/logger"
)

const (
	DEFAULT_QUEUE_SIZE          = 1024
	DEFAULT_CORRELATION_WINDOW  = 10 * time.Second
	DEFAULT_RETRY_CEILING       = 20
	DEFAULT_CYCLE_INTERVAL      = 5 * time.Second
	DEFAULT_FAILED_GRACE_PERIOD = 30 * time.Second

	// StuckReason is the synthetic failure reason for items escalated past
	// the retry ceiling.
	StuckReason = "stuck: retry ceiling exceeded"
)

// Config holds the reconciler's merge policy configuration
type Config struct {
	QueueSize         int
	CorrelationWindow time.Duration // window matching optimistic entries to authoritative fragments
	RetryCeiling      int           // reconciliation cycles a non-terminal item may survive
	CycleInterval     time.Duration // cadence of the retry/eviction sweep
	FailedGracePeriod time.Duration // how long locally failed entries stay visible
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DEFAULT_QUEUE_SIZE
	}
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = DEFAULT_CORRELATION_WINDOW
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = DEFAULT_RETRY_CEILING
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = DEFAULT_CYCLE_INTERVAL
	}
	if c.FailedGracePeriod <= 0 {
		c.FailedGracePeriod = DEFAULT_FAILED_GRACE_PERIOD
	}
}

// Reconciler merges fragments from the optimistic buffer and both channel
// adapters into the ledger store. All mutations are serialized through its
// single processing goroutine, so no two fragments race on the same item.
type Reconciler struct {
	store  *ledger.Store
	clock  adapter.Clock
	config Config
	queue  chan *domain.Fragment

	running atomic.Bool
}

// New creates a reconciler for the given store
func New(store *ledger.Store, clock adapter.Clock, cfg Config) *Reconciler {
	cfg.setDefaults()
	return &Reconciler{
		store:  store,
		clock:  clock,
		config: cfg,
		queue:  make(chan *domain.Fragment, cfg.QueueSize),
	}
}

// Enqueue submits a fragment for reconciliation. Fragments are applied in
// arrival order; the merge policy makes the converged result independent
// of that order. Malformed fragments are dropped here, before they can
// reach the store.
func (r *Reconciler) Enqueue(ctx context.Context, frag *domain.Fragment) error {
	if frag == nil {
		return domain.ErrMalformedFragment
	}
	if !frag.Valid() {
		logger.WarnCtx(ctx, "Dropping malformed fragment",
			zap.String("id", frag.ID),
			zap.String("source_ref", frag.SourceRef),
			zap.String("kind", string(frag.Kind)),
			zap.String("origin", string(frag.Origin)),
		)
		return domain.ErrMalformedFragment
	}

	select {
	case r.queue <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the processing loop. It returns when the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reconciler already running")
	}
	defer r.running.Store(false)

	logger.InfoCtx(ctx, "Starting reconciler",
		zap.Duration("correlation_window", r.config.CorrelationWindow),
		zap.Int("retry_ceiling", r.config.RetryCeiling),
		zap.Duration("cycle_interval", r.config.CycleInterval),
	)

	ticker := r.clock.NewTicker(r.config.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Reconciler stopping", zap.Error(ctx.Err()))
			return ctx.Err()
		case frag := <-r.queue:
			r.apply(ctx, frag)
		case <-ticker.Chan():
			r.sweep(ctx)
		}
	}
}

// apply resolves the fragment's identity and merges it into the store
func (r *Reconciler) apply(ctx context.Context, frag *domain.Fragment) {
	current, oldID := r.resolve(frag)

	if current != nil && current.SourceRef != "" && frag.SourceRef != "" &&
		current.SourceRef != frag.SourceRef {
		// Never rebind an item to a second authoritative reference.
		logger.WarnCtx(ctx, "Fragment carries conflicting source reference, keeping existing",
			zap.String("item_id", current.ID),
			zap.String("existing_ref", current.SourceRef),
			zap.String("fragment_ref", frag.SourceRef),
			zap.String("fragment_origin", string(frag.Origin)),
		)
	}

	next := Merge(current, frag)

	if current != nil && current.Lifecycle.Terminal() && frag.Lifecycle.Terminal() &&
		current.Lifecycle != frag.Lifecycle {
		logger.WarnCtx(ctx, "Conflicting terminal states resolved",
			zap.String("item_id", next.ID),
			zap.String("stored", string(current.Lifecycle)),
			zap.String("incoming", string(frag.Lifecycle)),
			zap.String("resolved", string(next.Lifecycle)),
			zap.String("origin", string(frag.Origin)),
			zap.String("source_ref", next.SourceRef),
		)
	}

	r.store.Replace(oldID, next)

	logger.DebugCtx(ctx, "Fragment reconciled",
		zap.String("item_id", next.ID),
		zap.String("lifecycle", string(next.Lifecycle)),
		zap.String("origin", string(frag.Origin)),
	)
}

// resolve finds the existing item the fragment refers to, if any. It
// returns the item and the ID it is currently stored under (which the
// merged result may replace when an optimistic entry adopts an
// authoritative identifier).
func (r *Reconciler) resolve(frag *domain.Fragment) (*domain.TrackedItem, string) {
	// An authoritative reference trumps any identifier mismatch.
	if frag.SourceRef != "" {
		if item, err := r.store.GetBySourceRef(frag.SourceRef); err == nil {
			return item, item.ID
		}
	}

	if frag.ID != "" {
		if item, err := r.store.Get(frag.ID); err == nil {
			return item, item.ID
		}
	}

	// Authoritative fragments may correspond to an optimistic entry that
	// is still waiting for its reference: same kind and amount, created
	// within the correlation window.
	if frag.Origin != domain.OriginOptimistic {
		if item := r.correlate(frag); item != nil {
			return item, item.ID
		}
	}

	return nil, ""
}

// correlate matches an authoritative fragment against optimistic entries
func (r *Reconciler) correlate(frag *domain.Fragment) *domain.TrackedItem {
	reference := frag.CreatedAt
	if reference.IsZero() {
		reference = r.clock.Now()
	}

	// Only entries still in the optimistic lifecycle are candidates: a
	// locally rejected entry keeps its optimistic origin through the grace
	// period and must not capture a confirmation meant for a live retry.
	candidates := r.store.List(ledger.Filter{
		Origin:    domain.OriginOptimistic,
		Kind:      frag.Kind,
		Lifecycle: domain.LifecycleOptimistic,
		NoRefOnly: true,
	})
	for _, item := range candidates {
		gap := reference.Sub(item.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= r.config.CorrelationWindow && item.Amount == frag.Amount {
			return item
		}
	}
	return nil
}

// sweep runs one reconciliation cycle over the store: every non-terminal
// item accrues a retry, items past the ceiling escalate to failed with a
// synthetic reason, and locally failed entries past their grace period are
// evicted.
func (r *Reconciler) sweep(ctx context.Context) {
	now := r.clock.Now()

	for _, item := range r.store.List(ledger.Filter{Unsettled: true}) {
		item.RetryCount++
		if item.RetryCount > r.config.RetryCeiling {
			item.Lifecycle = domain.LifecycleFailed
			item.FailReason = StuckReason
			item.UpdatedAt = now
			logger.WarnCtx(ctx, "Item stuck past retry ceiling, marking failed",
				zap.String("item_id", item.ID),
				zap.String("kind", string(item.Kind)),
				zap.Int("retry_count", item.RetryCount),
			)
		}
		r.store.Upsert(item)
	}

	// Locally failed entries (never acknowledged by the backend) are kept
	// long enough for the user to see the failure, then dropped.
	for _, item := range r.store.List(ledger.Filter{Lifecycle: domain.LifecycleFailed, NoRefOnly: true}) {
		if now.Sub(item.UpdatedAt) >= r.config.FailedGracePeriod {
			logger.DebugCtx(ctx, "Evicting failed local entry past grace period",
				zap.String("item_id", item.ID))
			r.store.Remove(item.ID)
		}
	}
}
