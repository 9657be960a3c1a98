package reconcile

import (
	"github.com/stakelight/ledgersync/internal/domain"
)

// Merge folds a fragment into the current item and returns the next value.
// It is a pure function of (current, fragment): no clocks, no hidden
// counters. Merging the same fragment twice yields the same result as
// merging it once, and for fragments with distinct updatedAt or distinct
// origins the result is independent of arrival order.
//
// current may be nil, in which case the fragment materializes a new item.
// The caller is responsible for validating the fragment first.
func Merge(current *domain.TrackedItem, frag *domain.Fragment) *domain.TrackedItem {
	if current == nil {
		return materialize(frag)
	}

	next := current.Clone()

	// fragWins decides field-level last-writer-wins for every field other
	// than lifecycle and identity: later updatedAt wins, ties prefer
	// push over poll over optimistic.
	fragWins := frag.UpdatedAt.After(current.UpdatedAt) ||
		(frag.UpdatedAt.Equal(current.UpdatedAt) && frag.Origin.Priority() > current.Origin.Priority())

	if fragWins {
		if frag.Amount != "" {
			next.Amount = frag.Amount
		}
		if frag.Domain != "" {
			next.Domain = frag.Domain
		}
		if frag.FailReason != "" {
			next.FailReason = frag.FailReason
		}
		next.Origin = frag.Origin
	}
	if next.Domain == "" && frag.Domain != "" {
		next.Domain = frag.Domain
	}

	// Timestamps per item are monotonically non-decreasing: createdAt keeps
	// the earliest known value, updatedAt the latest.
	if !frag.CreatedAt.IsZero() && (next.CreatedAt.IsZero() || frag.CreatedAt.Before(next.CreatedAt)) {
		next.CreatedAt = frag.CreatedAt
	}
	if frag.UpdatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = frag.UpdatedAt
	}
	if next.ConfirmedAt == nil && frag.ConfirmedAt != nil {
		t := *frag.ConfirmedAt
		next.ConfirmedAt = &t
	}

	// The authoritative reference is identity information, adopted as soon
	// as any channel provides it regardless of LWW. A second, different
	// reference never replaces the first.
	if next.SourceRef == "" && frag.SourceRef != "" {
		next.SourceRef = frag.SourceRef
	}

	// An optimistic entry adopts the authoritative identifier the first
	// time a push or poll fragment claims it.
	if current.Origin == domain.OriginOptimistic && current.SourceRef == "" &&
		frag.Origin != domain.OriginOptimistic && frag.ID != "" {
		next.ID = frag.ID
	}

	next.Lifecycle = mergeLifecycle(current, frag)
	// Backfill only from the fragment that carries the confirmation, so the
	// converged ConfirmedAt does not depend on what arrived after it.
	if next.Lifecycle == domain.LifecycleConfirmed && next.ConfirmedAt == nil &&
		frag.Lifecycle == domain.LifecycleConfirmed && !frag.UpdatedAt.IsZero() {
		t := frag.UpdatedAt
		next.ConfirmedAt = &t
	}

	return next
}

// materialize builds a fresh item from a fragment with no prior state
func materialize(frag *domain.Fragment) *domain.TrackedItem {
	item := &domain.TrackedItem{
		ID:         frag.ID,
		Kind:       frag.Kind,
		Lifecycle:  frag.Lifecycle,
		Domain:     frag.Domain,
		Amount:     frag.Amount,
		CreatedAt:  frag.CreatedAt,
		UpdatedAt:  frag.UpdatedAt,
		SourceRef:  frag.SourceRef,
		FailReason: frag.FailReason,
		Origin:     frag.Origin,
	}
	if item.ID == "" {
		item.ID = frag.SourceRef
	}
	if item.Lifecycle == "" {
		if frag.Origin == domain.OriginOptimistic {
			item.Lifecycle = domain.LifecycleOptimistic
		} else {
			item.Lifecycle = domain.LifecyclePending
		}
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if frag.ConfirmedAt != nil {
		t := *frag.ConfirmedAt
		item.ConfirmedAt = &t
	} else if item.Lifecycle == domain.LifecycleConfirmed && !frag.UpdatedAt.IsZero() {
		t := frag.UpdatedAt
		item.ConfirmedAt = &t
	}
	return item
}

// mergeLifecycle applies the forward-only lifecycle order. A fragment with
// a lower lifecycle is accepted for its other fields but the lifecycle
// itself is ignored. Conflicting terminal states resolve deterministically:
// the side backed by an authoritative reference wins; confirmed beats
// failed and cancelled only when a reference backs it, otherwise failure
// outranks it.
func mergeLifecycle(current *domain.TrackedItem, frag *domain.Fragment) domain.Lifecycle {
	fragLC := frag.Lifecycle
	if fragLC == "" {
		return current.Lifecycle
	}

	curLC := current.Lifecycle
	if curLC == fragLC {
		return curLC
	}

	// Both terminal, disagreeing.
	if curLC.Terminal() && fragLC.Terminal() {
		return resolveTerminalConflict(curLC, current.SourceRef != "", fragLC, frag.SourceRef != "")
	}

	// Terminal states absorb everything non-terminal.
	if curLC.Terminal() {
		return curLC
	}
	if fragLC.Terminal() {
		return fragLC
	}

	// Forward-only within the non-terminal order.
	if fragLC.Rank() > curLC.Rank() {
		return fragLC
	}
	return curLC
}

// resolveTerminalConflict picks between two disagreeing terminal states.
// The rule is symmetric in its inputs so that convergence does not depend
// on which channel delivered first.
func resolveTerminalConflict(a domain.Lifecycle, aRef bool, b domain.Lifecycle, bRef bool) domain.Lifecycle {
	if aRef != bRef {
		if aRef {
			return a
		}
		return b
	}

	// Both referenced or neither: confirmed wins only when a reference
	// backs it; without one, a reported failure is more trustworthy than
	// an unbacked confirmation.
	rank := func(l domain.Lifecycle) int {
		switch {
		case l == domain.LifecycleConfirmed && aRef && bRef:
			return 3
		case l == domain.LifecycleFailed:
			return 2
		case l == domain.LifecycleCancelled:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
