package optimistic

import (
	"context"
	"math/rand"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/logger"
)

// Sink accepts fragments for reconciliation. The reconciler implements it.
type Sink interface {
	Enqueue(ctx context.Context, frag *domain.Fragment) error
}

// Action describes a local user action awaiting an authoritative response
type Action struct {
	LocalID string
	Kind    domain.ItemKind
	Amount  string
	Domain  domain.Domain
}

// Buffer inserts provisional ledger entries for local user actions so the
// user gets instant feedback before any network round trip completes. It
// keeps the local-identifier-to-action mapping until the entry is unified
// with an authoritative fragment or rejected.
type Buffer struct {
	sink  Sink
	clock adapter.Clock

	mu      sync.Mutex
	entropy *rand.Rand
	pending map[string]Action
}

// NewBuffer creates an optimistic write buffer feeding the given sink
func NewBuffer(sink Sink, clock adapter.Clock) *Buffer {
	return &Buffer{
		sink:    sink,
		clock:   clock,
		entropy: rand.New(rand.NewSource(clock.Now().UnixNano())), //nolint:gosec // IDs are local-only, not secrets
		pending: make(map[string]Action),
	}
}

// Record creates a provisional entry for a local user action and returns
// its locally generated identifier. The entry enters the ledger through
// the same reconciliation path as every other fragment.
func (b *Buffer) Record(ctx context.Context, kind domain.ItemKind, dom domain.Domain, amount string) (string, error) {
	now := b.clock.Now()

	b.mu.Lock()
	localID := ulid.MustNew(ulid.Timestamp(now), b.entropy).String()
	b.pending[localID] = Action{LocalID: localID, Kind: kind, Amount: amount, Domain: dom}
	b.mu.Unlock()

	frag := &domain.Fragment{
		ID:        localID,
		Kind:      kind,
		Lifecycle: domain.LifecycleOptimistic,
		Domain:    dom,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
		Origin:    domain.OriginOptimistic,
	}
	if err := b.sink.Enqueue(ctx, frag); err != nil {
		b.mu.Lock()
		delete(b.pending, localID)
		b.mu.Unlock()
		return "", err
	}

	logger.DebugCtx(ctx, "Recorded optimistic entry",
		zap.String("local_id", localID),
		zap.String("kind", string(kind)),
		zap.String("amount", amount),
	)
	return localID, nil
}

// Reject transitions a provisional entry straight to failed after a
// synchronous network rejection. The entry stays visible for the
// reconciler's grace period so the user sees the failure rather than the
// item vanishing.
func (b *Buffer) Reject(ctx context.Context, localID string, reason string) error {
	b.mu.Lock()
	action, ok := b.pending[localID]
	if ok {
		delete(b.pending, localID)
	}
	b.mu.Unlock()

	if !ok {
		return domain.ErrItemNotFound
	}

	now := b.clock.Now()
	frag := &domain.Fragment{
		ID:         localID,
		Kind:       action.Kind,
		Lifecycle:  domain.LifecycleFailed,
		Domain:     action.Domain,
		Amount:     action.Amount,
		UpdatedAt:  now,
		FailReason: reason,
		Origin:     domain.OriginOptimistic,
	}
	if err := b.sink.Enqueue(ctx, frag); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Optimistic entry rejected",
		zap.String("local_id", localID),
		zap.String("reason", reason),
	)
	return nil
}

// Settle forgets the pending mapping once the action has been unified with
// an authoritative fragment. Settling an unknown ID is a no-op.
func (b *Buffer) Settle(localID string) {
	b.mu.Lock()
	delete(b.pending, localID)
	b.mu.Unlock()
}

// Pending returns the number of actions still awaiting an authoritative
// response
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
