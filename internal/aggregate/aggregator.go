package aggregate

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
)

// Aggregator derives per-domain summary counters from ledger store deltas.
// Each change applies as an O(1) delta: the pre-merge item's contribution
// is subtracted and the post-merge item's contribution added. A full
// rescan happens only on cold start or explicit refresh, as a consistency
// backstop against any missed-delta bug.
type Aggregator struct {
	store *ledger.Store
	clock adapter.Clock

	mu        sync.RWMutex
	snapshots map[domain.Domain]*domain.AggregateSnapshot
	observers []Observer
}

// Observer receives a copy of the snapshot for a domain whose totals changed
type Observer func(snapshot domain.AggregateSnapshot)

// New creates an aggregator over the given store and performs the cold
// start rescan. Register it as a store observer with Apply.
func New(store *ledger.Store, clock adapter.Clock) *Aggregator {
	a := &Aggregator{
		store:     store,
		clock:     clock,
		snapshots: make(map[domain.Domain]*domain.AggregateSnapshot),
	}
	a.Rescan()
	return a
}

// AddObserver registers an observer for aggregate changes
func (a *Aggregator) AddObserver(obs Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, obs)
}

// Apply folds one ledger change into the running totals. It is the store
// observer entry point.
func (a *Aggregator) Apply(change ledger.Change) {
	var affected domain.Domain
	switch {
	case change.Current != nil:
		affected = change.Current.Domain
	case change.Previous != nil:
		affected = change.Previous.Domain
	default:
		return
	}

	a.mu.Lock()
	if change.Previous != nil {
		a.subtract(change.Previous)
	}
	if change.Current != nil {
		a.add(change.Current)
	}
	// A rekey can move an item across domains; both sides change and both
	// sides' observers hear about it.
	var snapshots []domain.AggregateSnapshot
	if change.Previous != nil && change.Previous.Domain != affected {
		snapshots = append(snapshots, a.touch(change.Previous.Domain))
	}
	snapshots = append(snapshots, a.touch(affected))
	observers := a.observers
	a.mu.Unlock()

	for _, snapshot := range snapshots {
		for _, obs := range observers {
			obs(snapshot)
		}
	}
}

// Snapshot returns a copy of the current totals for a domain
func (a *Aggregator) Snapshot(dom domain.Domain) domain.AggregateSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.copyLocked(dom)
}

// Rescan rebuilds every snapshot from the full store contents. Cold start
// and manual refresh only; steady-state updates are incremental.
func (a *Aggregator) Rescan() {
	items := a.store.List(ledger.Filter{})

	a.mu.Lock()
	a.snapshots = make(map[domain.Domain]*domain.AggregateSnapshot)
	for _, dom := range domain.Domains() {
		a.snapshots[dom] = a.emptySnapshot(dom)
	}
	for _, item := range items {
		a.add(item)
	}
	for _, snap := range a.snapshots {
		snap.UpdatedAt = a.clock.Now()
	}
	a.mu.Unlock()
}

func (a *Aggregator) emptySnapshot(dom domain.Domain) *domain.AggregateSnapshot {
	return &domain.AggregateSnapshot{
		Domain:     dom,
		PendingSum: decimal.Zero,
		Buckets:    make(map[domain.AggregateKey]domain.AggregateBucket),
	}
}

func (a *Aggregator) snapshotFor(dom domain.Domain) *domain.AggregateSnapshot {
	snap, ok := a.snapshots[dom]
	if !ok {
		snap = a.emptySnapshot(dom)
		a.snapshots[dom] = snap
	}
	return snap
}

func (a *Aggregator) add(item *domain.TrackedItem) {
	snap := a.snapshotFor(item.Domain)
	key := domain.AggregateKey{Kind: item.Kind, Lifecycle: item.Lifecycle}
	bucket := snap.Buckets[key]
	bucket.Count++
	bucket.Sum = bucket.Sum.Add(item.AmountDecimal())
	snap.Buckets[key] = bucket
	snap.TotalCount++
	if !item.Lifecycle.Terminal() {
		snap.PendingSum = snap.PendingSum.Add(item.AmountDecimal())
	}
}

func (a *Aggregator) subtract(item *domain.TrackedItem) {
	snap := a.snapshotFor(item.Domain)
	key := domain.AggregateKey{Kind: item.Kind, Lifecycle: item.Lifecycle}
	bucket := snap.Buckets[key]
	bucket.Count--
	bucket.Sum = bucket.Sum.Sub(item.AmountDecimal())
	if bucket.Count <= 0 && bucket.Sum.IsZero() {
		delete(snap.Buckets, key)
	} else {
		snap.Buckets[key] = bucket
	}
	snap.TotalCount--
	if !item.Lifecycle.Terminal() {
		snap.PendingSum = snap.PendingSum.Sub(item.AmountDecimal())
	}
}

// touch stamps the snapshot and returns a copy for observers
func (a *Aggregator) touch(dom domain.Domain) domain.AggregateSnapshot {
	snap := a.snapshotFor(dom)
	snap.UpdatedAt = a.clock.Now()
	return a.copyLocked(dom)
}

func (a *Aggregator) copyLocked(dom domain.Domain) domain.AggregateSnapshot {
	snap, ok := a.snapshots[dom]
	if !ok {
		return domain.AggregateSnapshot{Domain: dom, PendingSum: decimal.Zero, Buckets: map[domain.AggregateKey]domain.AggregateBucket{}}
	}
	out := *snap
	out.Buckets = make(map[domain.AggregateKey]domain.AggregateBucket, len(snap.Buckets))
	for k, v := range snap.Buckets {
		out.Buckets[k] = v
	}
	return out
}
