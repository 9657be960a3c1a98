package reconcile_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
	"github.com/stakelight/ledgersync/internal/logger"
	"github.com/stakelight/ledgersync/internal/mocks"
	"github.com/stakelight/ledgersync/internal/reconcile"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// testClock makes the mocked time settable from the test goroutine
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) get() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testReconcilerMocks contains everything needed for testing the reconciler
type testReconcilerMocks struct {
	ctrl       *gomock.Controller
	store      *ledger.Store
	clock      *mocks.MockClock
	time       *testClock
	ticks      chan time.Time
	reconciler *reconcile.Reconciler
	cancel     context.CancelFunc
	done       chan struct{}
}

// setupTest creates the mocks and starts the reconciler loop
func setupTest(t *testing.T, cfg reconcile.Config) *testReconcilerMocks {
	ctrl := gomock.NewController(t)

	tc := &testClock{now: t0}
	ticks := make(chan time.Time)

	mockClock := mocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().DoAndReturn(tc.get).AnyTimes()

	mockTicker := mocks.NewMockTicker(ctrl)
	mockTicker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	mockTicker.EXPECT().Stop().AnyTimes()
	mockClock.EXPECT().NewTicker(gomock.Any()).Return(mockTicker).AnyTimes()

	store := ledger.NewStore()
	reconciler := reconcile.New(store, mockClock, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reconciler.Run(ctx)
	}()

	return &testReconcilerMocks{
		ctrl:       ctrl,
		store:      store,
		clock:      mockClock,
		time:       tc,
		ticks:      ticks,
		reconciler: reconciler,
		cancel:     cancel,
		done:       done,
	}
}

// tearDownTest stops the reconciler loop and verifies the mocks
func tearDownTest(tm *testReconcilerMocks) {
	tm.cancel()
	<-tm.done
	tm.ctrl.Finish()
}

// tick delivers one sweep tick to the running loop
func (tm *testReconcilerMocks) tick() {
	tm.ticks <- tm.time.get()
}

func TestReconciler_EnqueueRejectsMalformedFragment(t *testing.T) {
	tm := setupTest(t, reconcile.Config{})
	defer tearDownTest(tm)

	ctx := context.Background()

	err := tm.reconciler.Enqueue(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrMalformedFragment)

	// No identity at all.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		Kind:   domain.KindStake,
		Amount: "1",
	})
	assert.ErrorIs(t, err, domain.ErrMalformedFragment)

	// Unparseable amount.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:     "x",
		Kind:   domain.KindStake,
		Amount: "not-a-number",
	})
	assert.ErrorIs(t, err, domain.ErrMalformedFragment)

	assert.Equal(t, 0, tm.store.Len())
}

func TestReconciler_AppliesFragmentToStore(t *testing.T) {
	tm := setupTest(t, reconcile.Config{})
	defer tearDownTest(tm)

	err := tm.reconciler.Enqueue(context.Background(), &domain.Fragment{
		ID:        "tx1",
		Kind:      domain.KindTransfer,
		Lifecycle: domain.LifecyclePending,
		Domain:    domain.DomainTransactions,
		Amount:    "42",
		SourceRef: "0x1",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginPush,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("tx1")
		return err == nil && item.Lifecycle == domain.LifecyclePending && item.SourceRef == "0x1"
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_CorrelatesOptimisticEntry(t *testing.T) {
	tm := setupTest(t, reconcile.Config{CorrelationWindow: 10 * time.Second})
	defer tearDownTest(tm)

	ctx := context.Background()

	// User stakes 500 optimistically.
	err := tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "local-1",
		Kind:      domain.KindStake,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginOptimistic,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := tm.store.Get("local-1")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// The poll snapshot reports the same stake, confirmed, under its
	// authoritative identity, created within the correlation window.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "tx123",
		Kind:      domain.KindStake,
		Lifecycle: domain.LifecycleConfirmed,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		SourceRef: "0x123",
		CreatedAt: t0.Add(2 * time.Second),
		UpdatedAt: t0.Add(2 * time.Second),
		Origin:    domain.OriginPoll,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("tx123")
		if err != nil {
			return false
		}
		_, gone := tm.store.Get("local-1")
		return item.Lifecycle == domain.LifecycleConfirmed &&
			item.SourceRef == "0x123" &&
			item.CreatedAt.Equal(t0) &&
			gone == domain.ErrItemNotFound
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, tm.store.Len(), "the optimistic entry and the poll result must unify into one item")
}

func TestReconciler_NoCorrelationOutsideWindow(t *testing.T) {
	tm := setupTest(t, reconcile.Config{CorrelationWindow: 10 * time.Second})
	defer tearDownTest(tm)

	ctx := context.Background()

	err := tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "local-2",
		Kind:      domain.KindStake,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginOptimistic,
	})
	assert.NoError(t, err)

	// Same kind and amount, but created a minute later: a different stake.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "tx456",
		Kind:      domain.KindStake,
		Lifecycle: domain.LifecycleConfirmed,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		SourceRef: "0x456",
		CreatedAt: t0.Add(time.Minute),
		UpdatedAt: t0.Add(time.Minute),
		Origin:    domain.OriginPoll,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return tm.store.Len() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_RejectedEntryDoesNotCaptureConfirmation(t *testing.T) {
	tm := setupTest(t, reconcile.Config{CorrelationWindow: 10 * time.Second})
	defer tearDownTest(tm)

	ctx := context.Background()

	// First attempt at a stake of 500, rejected synchronously.
	err := tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "local-old",
		Kind:      domain.KindStake,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginOptimistic,
	})
	assert.NoError(t, err)
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:         "local-old",
		Kind:       domain.KindStake,
		Lifecycle:  domain.LifecycleFailed,
		Domain:     domain.DomainStaking,
		Amount:     "500",
		UpdatedAt:  t1,
		FailReason: "insufficient balance",
		Origin:     domain.OriginOptimistic,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("local-old")
		return err == nil && item.Lifecycle == domain.LifecycleFailed
	}, time.Second, 5*time.Millisecond)

	// The user retries the same stake while the rejected entry is still
	// visible inside its grace period.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "local-new",
		Kind:      domain.KindStake,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		CreatedAt: t0.Add(2 * time.Second),
		UpdatedAt: t0.Add(2 * time.Second),
		Origin:    domain.OriginOptimistic,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := tm.store.Get("local-new")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// The confirmation belongs to the live retry, not the dead entry.
	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "tx123",
		Kind:      domain.KindStake,
		Lifecycle: domain.LifecycleConfirmed,
		Domain:    domain.DomainStaking,
		Amount:    "500",
		SourceRef: "0x123",
		CreatedAt: t0.Add(3 * time.Second),
		UpdatedAt: t0.Add(3 * time.Second),
		Origin:    domain.OriginPoll,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("tx123")
		if err != nil {
			return false
		}
		_, retryGone := tm.store.Get("local-new")
		return item.Lifecycle == domain.LifecycleConfirmed &&
			item.SourceRef == "0x123" &&
			item.CreatedAt.Equal(t0.Add(2*time.Second)) &&
			item.FailReason == "" &&
			retryGone == domain.ErrItemNotFound
	}, time.Second, 5*time.Millisecond)

	// The rejected entry is untouched: still failed, still unreferenced.
	rejected, err := tm.store.Get("local-old")
	assert.NoError(t, err)
	assert.Equal(t, domain.LifecycleFailed, rejected.Lifecycle)
	assert.Equal(t, "insufficient balance", rejected.FailReason)
	assert.Empty(t, rejected.SourceRef)
	assert.Equal(t, 2, tm.store.Len())
}

func TestReconciler_ConflictingSourceRefKeepsExisting(t *testing.T) {
	tm := setupTest(t, reconcile.Config{})
	defer tearDownTest(tm)

	ctx := context.Background()

	err := tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "tx7",
		Kind:      domain.KindClaim,
		Lifecycle: domain.LifecyclePending,
		Domain:    domain.DomainTransactions,
		Amount:    "1",
		SourceRef: "0xaaa",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginPoll,
	})
	assert.NoError(t, err)

	err = tm.reconciler.Enqueue(ctx, &domain.Fragment{
		ID:        "tx7",
		Kind:      domain.KindClaim,
		Amount:    "1",
		SourceRef: "0xbbb",
		UpdatedAt: t1,
		Origin:    domain.OriginPush,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("tx7")
		return err == nil && item.SourceRef == "0xaaa" && item.UpdatedAt.Equal(t1)
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_StuckItemEscalatesOnceWithSingleNotification(t *testing.T) {
	tm := setupTest(t, reconcile.Config{RetryCeiling: 2})
	defer tearDownTest(tm)

	var mu sync.Mutex
	failedNotifications := 0
	tm.store.AddObserver(func(change ledger.Change) {
		mu.Lock()
		defer mu.Unlock()
		if change.Current != nil && change.Current.Lifecycle == domain.LifecycleFailed {
			failedNotifications++
		}
	})

	err := tm.reconciler.Enqueue(context.Background(), &domain.Fragment{
		ID:        "tx-stuck",
		Kind:      domain.KindUnstake,
		Lifecycle: domain.LifecyclePending,
		Domain:    domain.DomainStaking,
		Amount:    "30",
		SourceRef: "0xstuck",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginPoll,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := tm.store.Get("tx-stuck")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// Two cycles accrue retries without any observable change, the third
	// crosses the ceiling.
	tm.tick()
	tm.tick()
	tm.tick()

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("tx-stuck")
		return err == nil &&
			item.Lifecycle == domain.LifecycleFailed &&
			item.FailReason == reconcile.StuckReason
	}, time.Second, 5*time.Millisecond)

	// Further cycles leave the terminal item alone.
	tm.tick()
	tm.tick()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedNotifications == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_EvictsLocalFailureAfterGracePeriod(t *testing.T) {
	tm := setupTest(t, reconcile.Config{
		RetryCeiling:      1,
		FailedGracePeriod: 30 * time.Second,
	})
	defer tearDownTest(tm)

	// An optimistic entry that never gets an authoritative response.
	err := tm.reconciler.Enqueue(context.Background(), &domain.Fragment{
		ID:        "local-3",
		Kind:      domain.KindStake,
		Domain:    domain.DomainStaking,
		Amount:    "5",
		CreatedAt: t0,
		UpdatedAt: t0,
		Origin:    domain.OriginOptimistic,
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := tm.store.Get("local-3")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// Cross the retry ceiling: the entry fails with the synthetic reason.
	tm.tick()
	tm.tick()

	assert.Eventually(t, func() bool {
		item, err := tm.store.Get("local-3")
		return err == nil && item.Lifecycle == domain.LifecycleFailed
	}, time.Second, 5*time.Millisecond)

	// After the grace period the failed local entry is evicted.
	tm.time.set(t0.Add(time.Minute))
	tm.tick()

	assert.Eventually(t, func() bool {
		return tm.store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
