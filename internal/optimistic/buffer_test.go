package optimistic_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/logger"
	"github.com/stakelight/ledgersync/internal/mocks"
	"github.com/stakelight/ledgersync/internal/optimistic"
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

// captureSink records enqueued fragments
type captureSink struct {
	mu    sync.Mutex
	frags []*domain.Fragment
	err   error
}

func (s *captureSink) Enqueue(_ context.Context, frag *domain.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frags = append(s.frags, frag)
	return nil
}

func (s *captureSink) all() []*domain.Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Fragment(nil), s.frags...)
}

// testBufferMocks contains everything needed for testing the buffer
type testBufferMocks struct {
	ctrl   *gomock.Controller
	clock  *mocks.MockClock
	sink   *captureSink
	buffer *optimistic.Buffer
}

// setupTest creates the mocks and the buffer
func setupTest(t *testing.T) *testBufferMocks {
	ctrl := gomock.NewController(t)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mockClock := mocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().Return(now).AnyTimes()

	sink := &captureSink{}
	buffer := optimistic.NewBuffer(sink, mockClock)

	return &testBufferMocks{
		ctrl:   ctrl,
		clock:  mockClock,
		sink:   sink,
		buffer: buffer,
	}
}

// tearDownTest cleans up the test mocks
func tearDownTest(tm *testBufferMocks) {
	tm.ctrl.Finish()
}

func TestBuffer_RecordEnqueuesOptimisticFragment(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	localID, err := tm.buffer.Record(context.Background(), domain.KindStake, domain.DomainStaking, "500")
	assert.NoError(t, err)
	assert.NotEmpty(t, localID)
	assert.Equal(t, 1, tm.buffer.Pending())

	frags := tm.sink.all()
	assert.Len(t, frags, 1)
	frag := frags[0]
	assert.Equal(t, localID, frag.ID)
	assert.Equal(t, domain.KindStake, frag.Kind)
	assert.Equal(t, domain.LifecycleOptimistic, frag.Lifecycle)
	assert.Equal(t, domain.OriginOptimistic, frag.Origin)
	assert.Equal(t, "500", frag.Amount)
	assert.Empty(t, frag.SourceRef, "optimistic entries have no authoritative reference yet")
	assert.True(t, frag.Valid())
}

func TestBuffer_RecordGeneratesUniqueIDs(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	id1, err := tm.buffer.Record(context.Background(), domain.KindStake, domain.DomainStaking, "1")
	assert.NoError(t, err)
	id2, err := tm.buffer.Record(context.Background(), domain.KindStake, domain.DomainStaking, "1")
	assert.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, tm.buffer.Pending())
}

func TestBuffer_RecordRollsBackOnSinkError(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.sink.err = errors.New("queue full")

	_, err := tm.buffer.Record(context.Background(), domain.KindStake, domain.DomainStaking, "500")
	assert.Error(t, err)
	assert.Equal(t, 0, tm.buffer.Pending())
}

func TestBuffer_RejectEnqueuesFailedFragment(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	localID, err := tm.buffer.Record(context.Background(), domain.KindUnstake, domain.DomainStaking, "200")
	assert.NoError(t, err)

	err = tm.buffer.Reject(context.Background(), localID, "insufficient balance")
	assert.NoError(t, err)
	assert.Equal(t, 0, tm.buffer.Pending())

	frags := tm.sink.all()
	assert.Len(t, frags, 2)
	failed := frags[1]
	assert.Equal(t, localID, failed.ID)
	assert.Equal(t, domain.LifecycleFailed, failed.Lifecycle)
	assert.Equal(t, "insufficient balance", failed.FailReason)
}

func TestBuffer_RejectUnknownID(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	err := tm.buffer.Reject(context.Background(), "nope", "whatever")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestBuffer_Settle(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	localID, err := tm.buffer.Record(context.Background(), domain.KindClaim, domain.DomainTransactions, "9")
	assert.NoError(t, err)

	tm.buffer.Settle(localID)
	assert.Equal(t, 0, tm.buffer.Pending())

	// Settling twice is harmless.
	tm.buffer.Settle(localID)
	assert.Equal(t, 0, tm.buffer.Pending())
}
