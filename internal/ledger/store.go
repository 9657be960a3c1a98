package ledger

import (
	"sort"
	"sync"

	"github.com/stakelight/ledgersync/internal/domain"
)

// Change describes one observable store mutation. Previous is nil for an
// insert, Current is nil for a removal; both are defensive copies.
type Change struct {
	Previous *domain.TrackedItem
	Current  *domain.TrackedItem
}

// Observer receives store changes. Observers are invoked synchronously in
// registration order on the mutating goroutine; they must not call back
// into the store.
type Observer func(change Change)

// Filter narrows a List call. Zero-valued fields match everything.
type Filter struct {
	Domain     domain.Domain
	Kind       domain.ItemKind
	Lifecycle  domain.Lifecycle
	Origin     domain.Origin
	NoRefOnly  bool // only items without a sourceRef
	Unsettled  bool // only items in a non-terminal lifecycle
}

// Store is the authoritative client-side cache of tracked items. It is pure
// data plus mutation primitives: no I/O, no timers. All mutations flow
// through Upsert, which is the reconciler's single serialization point.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*domain.TrackedItem
	byRef     map[string]string // sourceRef -> item ID
	observers []Observer
}

// NewStore creates an empty ledger store
func NewStore() *Store {
	return &Store{
		items: make(map[string]*domain.TrackedItem),
		byRef: make(map[string]string),
	}
}

// AddObserver registers an observer for subsequent changes
func (s *Store) AddObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Upsert inserts or replaces the item. Applying an identical item twice
// produces no observable change and no duplicate notification.
func (s *Store) Upsert(item *domain.TrackedItem) {
	if item == nil || item.ID == "" {
		return
	}

	s.mu.Lock()
	previous := s.items[item.ID]
	if previous != nil && previous.Equal(item) {
		// Not observable, but bookkeeping fields (RetryCount) still persist.
		s.items[item.ID] = item.Clone()
		s.mu.Unlock()
		return
	}

	stored := item.Clone()
	s.items[item.ID] = stored
	if stored.SourceRef != "" {
		s.byRef[stored.SourceRef] = stored.ID
	}
	observers := s.observers
	s.mu.Unlock()

	change := Change{Current: stored.Clone()}
	if previous != nil {
		change.Previous = previous.Clone()
	}
	for _, obs := range observers {
		obs(change)
	}
}

// Get returns a copy of the item, or ErrItemNotFound
func (s *Store) Get(id string) (*domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return item.Clone(), nil
}

// GetBySourceRef returns a copy of the item carrying the given authoritative
// reference, or ErrItemNotFound
func (s *Store) GetBySourceRef(ref string) (*domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[ref]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return item.Clone(), nil
}

// List returns copies of all items matching the filter, ordered by CreatedAt
// then ID for determinism
func (s *Store) List(filter Filter) []*domain.TrackedItem {
	s.mu.RLock()
	result := make([]*domain.TrackedItem, 0, len(s.items))
	for _, item := range s.items {
		if matches(item, filter) {
			result = append(result, item.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Remove deletes the item and notifies observers. Removing an absent item
// is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, id)
	if item.SourceRef != "" {
		delete(s.byRef, item.SourceRef)
	}
	observers := s.observers
	s.mu.Unlock()

	change := Change{Previous: item.Clone()}
	for _, obs := range observers {
		obs(change)
	}
}

// Replace atomically removes the item stored under oldID and stores item
// under its own (possibly different) ID. Observers see the rekey as a
// single change from the old value to the new one, which keeps incremental
// aggregates consistent when an optimistic entry adopts an authoritative
// identifier. With oldID equal to item.ID this behaves exactly like Upsert.
func (s *Store) Replace(oldID string, item *domain.TrackedItem) {
	if item == nil || item.ID == "" {
		return
	}
	if oldID == "" || oldID == item.ID {
		s.Upsert(item)
		return
	}

	s.mu.Lock()
	previous, ok := s.items[oldID]
	if !ok {
		s.mu.Unlock()
		s.Upsert(item)
		return
	}
	delete(s.items, oldID)
	if previous.SourceRef != "" {
		delete(s.byRef, previous.SourceRef)
	}

	stored := item.Clone()
	s.items[stored.ID] = stored
	if stored.SourceRef != "" {
		s.byRef[stored.SourceRef] = stored.ID
	}
	observers := s.observers
	s.mu.Unlock()

	change := Change{Previous: previous.Clone(), Current: stored.Clone()}
	for _, obs := range observers {
		obs(change)
	}
}

// Len returns the number of stored items
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Flush empties the store without notifying observers. Used on session
// teardown only.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*domain.TrackedItem)
	s.byRef = make(map[string]string)
}

func matches(item *domain.TrackedItem, f Filter) bool {
	if f.Domain != "" && item.Domain != f.Domain {
		return false
	}
	if f.Kind != "" && item.Kind != f.Kind {
		return false
	}
	if f.Lifecycle != "" && item.Lifecycle != f.Lifecycle {
		return false
	}
	if f.Origin != "" && item.Origin != f.Origin {
		return false
	}
	if f.NoRefOnly && item.SourceRef != "" {
		return false
	}
	if f.Unsettled && item.Lifecycle.Terminal() {
		return false
	}
	return true
}
