package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind represents the kind of tracked transaction
type ItemKind string

const (
	KindStake    ItemKind = "stake"
	KindUnstake  ItemKind = "unstake"
	KindClaim    ItemKind = "claim"
	KindTransfer ItemKind = "transfer"
	KindApprove  ItemKind = "approve"
)

// IsValidKind checks if a kind is one of the known transaction kinds
func IsValidKind(kind ItemKind) bool {
	switch kind {
	case KindStake, KindUnstake, KindClaim, KindTransfer, KindApprove:
		return true
	}
	return false
}

// Lifecycle represents the lifecycle state of a tracked item
type Lifecycle string

const (
	LifecycleOptimistic Lifecycle = "optimistic"
	LifecyclePending    Lifecycle = "pending"
	LifecycleConfirmed  Lifecycle = "confirmed"
	LifecycleFailed     Lifecycle = "failed"
	LifecycleCancelled  Lifecycle = "cancelled"
)

// lifecycleRank encodes the total order optimistic < pending < confirmed.
// Terminal states rank above confirmed so they absorb any later update.
var lifecycleRank = map[Lifecycle]int{
	LifecycleOptimistic: 0,
	LifecyclePending:    1,
	LifecycleConfirmed:  2,
	LifecycleFailed:     3,
	LifecycleCancelled:  3,
}

// Rank returns the position of the lifecycle in the forward order.
// Unknown lifecycles rank below optimistic so they never win a merge.
func (l Lifecycle) Rank() int {
	if r, ok := lifecycleRank[l]; ok {
		return r
	}
	return -1
}

// Terminal reports whether the lifecycle is an absorbing state
func (l Lifecycle) Terminal() bool {
	return l == LifecycleConfirmed || l == LifecycleFailed || l == LifecycleCancelled
}

// IsValidLifecycle checks if a lifecycle is one of the known states
func IsValidLifecycle(l Lifecycle) bool {
	_, ok := lifecycleRank[l]
	return ok
}

// Origin identifies the channel that authored an item or fragment
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginPush       Origin = "push"
	OriginPoll       Origin = "poll"
)

// originPriority breaks updatedAt ties: push is lowest latency and most
// specific, optimistic is least authoritative.
var originPriority = map[Origin]int{
	OriginOptimistic: 0,
	OriginPoll:       1,
	OriginPush:       2,
}

// Priority returns the tie-break priority of the origin
func (o Origin) Priority() int {
	return originPriority[o]
}

// Domain identifies an independently polled data domain
type Domain string

const (
	DomainTransactions Domain = "transactions"
	DomainStaking      Domain = "staking"
	DomainAdmin        Domain = "admin"
)

// Domains lists all polled domains
func Domains() []Domain {
	return []Domain{DomainTransactions, DomainStaking, DomainAdmin}
}

// IsValidDomain checks if a domain is one of the polled domains
func IsValidDomain(d Domain) bool {
	return d == DomainTransactions || d == DomainStaking || d == DomainAdmin
}

// TrackedItem represents one logical transaction or stake-affecting record
// held in the ledger store. Exactly one item exists per logical transaction;
// fragments from different channels merge into the same ID.
type TrackedItem struct {
	ID          string     `json:"id"`
	Kind        ItemKind   `json:"kind"`
	Lifecycle   Lifecycle  `json:"lifecycle"`
	Domain      Domain     `json:"domain"`
	Amount      string     `json:"amount"` // exact decimal, string-encoded
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	SourceRef   string     `json:"source_ref,omitempty"` // authoritative chain reference, empty for optimistic entries
	FailReason  string     `json:"fail_reason,omitempty"`
	RetryCount  int        `json:"retry_count"`
	Origin      Origin     `json:"origin"` // channel that last authored the item
}

// AmountDecimal parses the string-encoded amount into an exact decimal.
// Fragments are validated before they reach the store, so a parse failure
// only happens for the zero value and yields zero.
func (i *TrackedItem) AmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(i.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Clone returns a deep copy of the item
func (i *TrackedItem) Clone() *TrackedItem {
	clone := *i
	if i.ConfirmedAt != nil {
		t := *i.ConfirmedAt
		clone.ConfirmedAt = &t
	}
	return &clone
}

// Equal reports whether two items agree on every observable field.
// RetryCount is bookkeeping, not observable: the stuck-item sweep bumps it
// every cycle and must not generate a notification per bump.
func (i *TrackedItem) Equal(other *TrackedItem) bool {
	if other == nil {
		return false
	}
	if i.ID != other.ID ||
		i.Kind != other.Kind ||
		i.Lifecycle != other.Lifecycle ||
		i.Domain != other.Domain ||
		i.Amount != other.Amount ||
		i.SourceRef != other.SourceRef ||
		i.FailReason != other.FailReason ||
		i.Origin != other.Origin {
		return false
	}
	if !i.CreatedAt.Equal(other.CreatedAt) || !i.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if (i.ConfirmedAt == nil) != (other.ConfirmedAt == nil) {
		return false
	}
	if i.ConfirmedAt != nil && !i.ConfirmedAt.Equal(*other.ConfirmedAt) {
		return false
	}
	return true
}

// Fragment represents a partial or full TrackedItem update arriving from one
// channel. This is the only input type the reconciler accepts.
type Fragment struct {
	ID          string     `json:"id"`
	Kind        ItemKind   `json:"kind"`
	Lifecycle   Lifecycle  `json:"lifecycle"`
	Domain      Domain     `json:"domain"`
	Amount      string     `json:"amount"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	SourceRef   string     `json:"source_ref,omitempty"`
	FailReason  string     `json:"fail_reason,omitempty"`
	Origin      Origin     `json:"origin"`
}

// Valid checks that the fragment carries the identity fields required to
// merge it safely. Malformed fragments are dropped at the boundary.
func (f *Fragment) Valid() bool {
	if f.ID == "" && f.SourceRef == "" {
		return false
	}
	if !IsValidKind(f.Kind) {
		return false
	}
	if f.Amount == "" {
		return false
	}
	if _, err := decimal.NewFromString(f.Amount); err != nil {
		return false
	}
	if f.Lifecycle != "" && !IsValidLifecycle(f.Lifecycle) {
		return false
	}
	return true
}

// AggregateKey identifies one bucket of the per-domain aggregate totals
type AggregateKey struct {
	Kind      ItemKind  `json:"kind"`
	Lifecycle Lifecycle `json:"lifecycle"`
}

// AggregateBucket holds the running totals for one kind/lifecycle bucket
type AggregateBucket struct {
	Count int             `json:"count"`
	Sum   decimal.Decimal `json:"sum"`
}

// AggregateSnapshot holds derived totals for one domain. Owned exclusively
// by the aggregator and rebuilt incrementally from ledger deltas.
type AggregateSnapshot struct {
	Domain     Domain                           `json:"domain"`
	TotalCount int                              `json:"total_count"`
	PendingSum decimal.Decimal                  `json:"pending_sum"`
	Buckets    map[AggregateKey]AggregateBucket `json:"-"`
	UpdatedAt  time.Time                        `json:"updated_at"`
}

// HealthStatus represents the derived connection health state
type HealthStatus string

const (
	HealthLive     HealthStatus = "live"
	HealthDegraded HealthStatus = "degraded"
	HealthStale    HealthStatus = "stale"
)

// ChannelHealth captures the raw adapter signals plus the derived status
type ChannelHealth struct {
	PushConnected   bool         `json:"push_connected"`
	LastPushEventAt time.Time    `json:"last_push_event_at"`
	LastPollSuccess time.Time    `json:"last_poll_success_at"`
	Status          HealthStatus `json:"status"`
}
