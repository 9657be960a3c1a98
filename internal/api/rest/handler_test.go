package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/stakelight/ledgersync/internal/api/rest"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
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
	gin.SetMode(gin.TestMode)

	code := m.Run()
	os.Exit(code)
}

// captureSink records fragments the optimistic buffer emits
type captureSink struct {
	mu    sync.Mutex
	frags []*domain.Fragment
}

func (s *captureSink) Enqueue(_ context.Context, frag *domain.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frags = append(s.frags, frag)
	return nil
}

// testHandlerMocks contains everything needed for testing the REST handlers
type testHandlerMocks struct {
	ctrl   *gomock.Controller
	engine *mocks.MockEngine
	store  *ledger.Store
	buffer *optimistic.Buffer
	sink   *captureSink
	router *gin.Engine
}

// setupTest prepares the mocks and routes before each test
func setupTest(t *testing.T) *testHandlerMocks {
	ctrl := gomock.NewController(t)

	mockClock := mocks.NewMockClock(ctrl)
	mockClock.EXPECT().Now().Return(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)).AnyTimes()

	sink := &captureSink{}
	store := ledger.NewStore()
	buffer := optimistic.NewBuffer(sink, mockClock)

	mockEngine := mocks.NewMockEngine(ctrl)
	mockEngine.EXPECT().Store().Return(store).AnyTimes()
	mockEngine.EXPECT().Buffer().Return(buffer).AnyTimes()

	router := gin.New()
	rest.SetupRoutes(router, rest.NewHandler(mockEngine))

	return &testHandlerMocks{
		ctrl:   ctrl,
		engine: mockEngine,
		store:  store,
		buffer: buffer,
		sink:   sink,
		router: router,
	}
}

// tearDownTest verifies the mock expectations after each test
func tearDownTest(tm *testHandlerMocks) {
	tm.ctrl.Finish()
}

func (tm *testHandlerMocks) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	tm.router.ServeHTTP(rec, req)
	return rec
}

func seedItem(store *ledger.Store, id string, kind domain.ItemKind, lifecycle domain.Lifecycle) {
	store.Upsert(&domain.TrackedItem{
		ID:        id,
		Kind:      kind,
		Lifecycle: lifecycle,
		Domain:    domain.DomainTransactions,
		Amount:    "100",
		CreatedAt: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
		Origin:    domain.OriginPoll,
	})
}

func TestHealthCheck(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().Health().Return(domain.ChannelHealth{
		PushConnected: true,
		Status:        domain.HealthLive,
	})

	rec := tm.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health domain.ChannelHealth
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, domain.HealthLive, health.Status)
	assert.True(t, health.PushConnected)
}

func TestHealthCheck_StaleIsUnavailable(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().Health().Return(domain.ChannelHealth{
		Status: domain.HealthStale,
	})

	rec := tm.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListItems(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	seedItem(tm.store, "tx1", domain.KindStake, domain.LifecycleConfirmed)
	seedItem(tm.store, "tx2", domain.KindClaim, domain.LifecyclePending)

	rec := tm.do(http.MethodGet, "/api/v1/items", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []*domain.TrackedItem `json:"items"`
		Total int                   `json:"total"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	rec = tm.do(http.MethodGet, "/api/v1/items?kind=claim", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "tx2", resp.Items[0].ID)
}

func TestListItems_RejectsUnknownFilterValues(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	for _, query := range []string{
		"?domain=minting",
		"?kind=mint",
		"?lifecycle=settled",
	} {
		rec := tm.do(http.MethodGet, "/api/v1/items"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestGetItem(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	seedItem(tm.store, "tx1", domain.KindStake, domain.LifecycleConfirmed)

	rec := tm.do(http.MethodGet, "/api/v1/items/tx1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var item domain.TrackedItem
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "tx1", item.ID)
	assert.Equal(t, domain.LifecycleConfirmed, item.Lifecycle)
}

func TestGetItem_NotFound(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	rec := tm.do(http.MethodGet, "/api/v1/items/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAggregates(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().Aggregates(domain.DomainStaking).Return(domain.AggregateSnapshot{
		Domain:     domain.DomainStaking,
		TotalCount: 2,
		PendingSum: decimal.RequireFromString("150.5"),
		UpdatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Buckets: map[domain.AggregateKey]domain.AggregateBucket{
			{Kind: domain.KindStake, Lifecycle: domain.LifecyclePending}: {
				Count: 1,
				Sum:   decimal.RequireFromString("150.5"),
			},
			{Kind: domain.KindStake, Lifecycle: domain.LifecycleConfirmed}: {
				Count: 1,
				Sum:   decimal.RequireFromString("500"),
			},
		},
	})

	rec := tm.do(http.MethodGet, "/api/v1/aggregates/staking", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Domain     string `json:"domain"`
		TotalCount int    `json:"total_count"`
		PendingSum string `json:"pending_sum"`
		UpdatedAt  string `json:"updated_at"`
		Buckets    []struct {
			Kind      string `json:"kind"`
			Lifecycle string `json:"lifecycle"`
			Count     int    `json:"count"`
			Sum       string `json:"sum"`
		} `json:"buckets"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "staking", resp.Domain)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, "150.5", resp.PendingSum)
	assert.Equal(t, "2024-06-01T12:00:00.000Z", resp.UpdatedAt)

	// Buckets flatten into a stable kind-then-lifecycle order.
	assert.Len(t, resp.Buckets, 2)
	assert.Equal(t, "confirmed", resp.Buckets[0].Lifecycle)
	assert.Equal(t, "500", resp.Buckets[0].Sum)
	assert.Equal(t, "pending", resp.Buckets[1].Lifecycle)
}

func TestGetAggregates_UnknownDomain(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	rec := tm.do(http.MethodGet, "/api/v1/aggregates/minting", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAdminStats(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().AdminStats().Return(&domain.AggregateSnapshot{
		Domain:     domain.DomainAdmin,
		TotalCount: 42,
		PendingSum: decimal.RequireFromString("1000"),
	})

	rec := tm.do(http.MethodGet, "/api/v1/admin/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Domain     string `json:"domain"`
		TotalCount int    `json:"total_count"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "admin", resp.Domain)
	assert.Equal(t, 42, resp.TotalCount)
}

func TestGetAdminStats_NoneReceivedYet(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().AdminStats().Return(nil)

	rec := tm.do(http.MethodGet, "/api/v1/admin/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordAction(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	rec := tm.do(http.MethodPost, "/api/v1/actions",
		`{"kind":"stake","domain":"staking","amount":"250.75"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		LocalID string `json:"local_id"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.LocalID)

	// The action entered the reconciliation path as an optimistic fragment.
	tm.sink.mu.Lock()
	defer tm.sink.mu.Unlock()
	assert.Len(t, tm.sink.frags, 1)
	assert.Equal(t, resp.LocalID, tm.sink.frags[0].ID)
	assert.Equal(t, domain.LifecycleOptimistic, tm.sink.frags[0].Lifecycle)
	assert.Equal(t, "250.75", tm.sink.frags[0].Amount)
}

func TestRecordAction_Validation(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	cases := map[string]string{
		"missing amount": `{"kind":"stake","domain":"staking"}`,
		"unknown kind":   `{"kind":"mint","domain":"staking","amount":"1"}`,
		"unknown domain": `{"kind":"stake","domain":"minting","amount":"1"}`,
		"not json":       `stake 100`,
	}
	for name, body := range cases {
		rec := tm.do(http.MethodPost, "/api/v1/actions", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Equal(t, 0, tm.buffer.Pending())
}

func TestRejectAction(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	localID, err := tm.buffer.Record(context.Background(), domain.KindStake, domain.DomainStaking, "100")
	assert.NoError(t, err)

	rec := tm.do(http.MethodPost, "/api/v1/actions/"+localID+"/reject",
		`{"reason":"insufficient balance"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	tm.sink.mu.Lock()
	defer tm.sink.mu.Unlock()
	assert.Len(t, tm.sink.frags, 2)
	assert.Equal(t, domain.LifecycleFailed, tm.sink.frags[1].Lifecycle)
	assert.Equal(t, "insufficient balance", tm.sink.frags[1].FailReason)
}

func TestRejectAction_UnknownID(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	rec := tm.do(http.MethodPost, "/api/v1/actions/nope/reject", `{"reason":"whatever"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	tm := setupTest(t)
	defer tearDownTest(tm)

	tm.engine.EXPECT().Refresh()

	rec := tm.do(http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
