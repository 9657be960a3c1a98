package rest

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// HealthCheck returns the derived connection health
	// GET /health
	HealthCheck(c *gin.Context)

	// ListItems retrieves tracked items with optional filters
	// GET /api/v1/items?domain=<domain>&kind=<kind>&lifecycle=<lifecycle>&origin=<origin>
	ListItems(c *gin.Context)

	// GetItem retrieves a single tracked item by ID
	// GET /api/v1/items/:id
	GetItem(c *gin.Context)

	// GetAggregates retrieves the derived totals for one domain
	// GET /api/v1/aggregates/:domain
	GetAggregates(c *gin.Context)

	// GetAdminStats retrieves the latest backend-computed aggregate snapshot
	// GET /api/v1/admin/stats
	GetAdminStats(c *gin.Context)

	// RecordAction records a local user action as an optimistic entry
	// POST /api/v1/actions
	RecordAction(c *gin.Context)

	// RejectAction fails a pending optimistic entry after a network rejection
	// POST /api/v1/actions/:id/reject
	RejectAction(c *gin.Context)

	// Refresh triggers an immediate poll of every domain and an aggregate rescan
	// POST /api/v1/refresh
	Refresh(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	engine Engine
}

// NewHandler creates a new REST API handler backed by the session engine
func NewHandler(engine Engine) Handler {
	return &handler{engine: engine}
}

// HealthCheck returns the raw channel signals plus the derived status
func (h *handler) HealthCheck(c *gin.Context) {
	health := h.engine.Health()
	status := http.StatusOK
	if health.Status == domain.HealthStale {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// ListItems retrieves tracked items matching the query filters
func (h *handler) ListItems(c *gin.Context) {
	filter := ledger.Filter{
		Domain:    domain.Domain(c.Query("domain")),
		Kind:      domain.ItemKind(c.Query("kind")),
		Lifecycle: domain.Lifecycle(c.Query("lifecycle")),
		Origin:    domain.Origin(c.Query("origin")),
	}
	if filter.Domain != "" && !domain.IsValidDomain(filter.Domain) {
		respondValidationError(c, "unknown domain")
		return
	}
	if filter.Kind != "" && !domain.IsValidKind(filter.Kind) {
		respondValidationError(c, "unknown kind")
		return
	}
	if filter.Lifecycle != "" && !domain.IsValidLifecycle(filter.Lifecycle) {
		respondValidationError(c, "unknown lifecycle")
		return
	}

	items := h.engine.Store().List(filter)
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// GetItem retrieves a single tracked item by ID
func (h *handler) GetItem(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Item ID is required")
		return
	}

	item, err := h.engine.Store().Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			respondNotFound(c, "Item not found")
			return
		}
		respondInternalError(c, err, "Failed to load item", zap.String("id", id))
		return
	}
	c.JSON(http.StatusOK, item)
}

// GetAggregates retrieves the derived totals for one domain
func (h *handler) GetAggregates(c *gin.Context) {
	dom := domain.Domain(c.Param("domain"))
	if !domain.IsValidDomain(dom) {
		respondValidationError(c, "unknown domain")
		return
	}
	c.JSON(http.StatusOK, toAggregateDTO(h.engine.Aggregates(dom)))
}

// GetAdminStats retrieves the last aggregate snapshot the backend pushed
func (h *handler) GetAdminStats(c *gin.Context) {
	snap := h.engine.AdminStats()
	if snap == nil {
		respondNotFound(c, "No admin stats received yet")
		return
	}
	c.JSON(http.StatusOK, toAggregateDTO(*snap))
}

// actionRequest is the body of POST /api/v1/actions
type actionRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Domain string `json:"domain" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// RecordAction records a local user action and returns its local ID
func (h *handler) RecordAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if !domain.IsValidKind(domain.ItemKind(req.Kind)) {
		respondValidationError(c, "unknown kind")
		return
	}
	if !domain.IsValidDomain(domain.Domain(req.Domain)) {
		respondValidationError(c, "unknown domain")
		return
	}

	localID, err := h.engine.Buffer().Record(
		c.Request.Context(),
		domain.ItemKind(req.Kind),
		domain.Domain(req.Domain),
		req.Amount,
	)
	if err != nil {
		respondInternalError(c, err, "Failed to record action")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"local_id": localID})
}

// rejectRequest is the body of POST /api/v1/actions/:id/reject
type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectAction fails a pending optimistic entry
func (h *handler) RejectAction(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Action ID is required")
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := h.engine.Buffer().Reject(c.Request.Context(), id, req.Reason); err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			respondNotFound(c, "No pending action with that ID")
			return
		}
		respondInternalError(c, err, "Failed to reject action", zap.String("id", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"local_id": id})
}

// Refresh triggers the manual consistency backstop
func (h *handler) Refresh(c *gin.Context) {
	h.engine.Refresh()
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

// aggregateDTO flattens the bucket map into a stable list for JSON
type aggregateDTO struct {
	Domain     domain.Domain `json:"domain"`
	TotalCount int           `json:"total_count"`
	PendingSum string        `json:"pending_sum"`
	UpdatedAt  string        `json:"updated_at,omitempty"`
	Buckets    []bucketDTO   `json:"buckets"`
}

type bucketDTO struct {
	Kind      domain.ItemKind  `json:"kind"`
	Lifecycle domain.Lifecycle `json:"lifecycle"`
	Count     int              `json:"count"`
	Sum       string           `json:"sum"`
}

func toAggregateDTO(snap domain.AggregateSnapshot) aggregateDTO {
	dto := aggregateDTO{
		Domain:     snap.Domain,
		TotalCount: snap.TotalCount,
		PendingSum: snap.PendingSum.String(),
		Buckets:    make([]bucketDTO, 0, len(snap.Buckets)),
	}
	if !snap.UpdatedAt.IsZero() {
		dto.UpdatedAt = snap.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	for key, bucket := range snap.Buckets {
		dto.Buckets = append(dto.Buckets, bucketDTO{
			Kind:      key.Kind,
			Lifecycle: key.Lifecycle,
			Count:     bucket.Count,
			Sum:       bucket.Sum.String(),
		})
	}
	sort.Slice(dto.Buckets, func(i, j int) bool {
		if dto.Buckets[i].Kind != dto.Buckets[j].Kind {
			return dto.Buckets[i].Kind < dto.Buckets[j].Kind
		}
		return dto.Buckets[i].Lifecycle < dto.Buckets[j].Lifecycle
	})
	return dto
}
