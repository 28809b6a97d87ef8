package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notionsync/internal/models"
	"notionsync/internal/repository"
	"notionsync/internal/service"
)

// SyncOpsHandler is the operator surface for sync runs: manual triggers,
// status, the audit log, reconciliation and queue management.
type SyncOpsHandler struct {
	Engine     *service.SyncEngine
	Queue      *service.SyncQueueService
	Reconciler *service.ReconciliationService
	Repo       repository.Repository
	Logger     *zap.Logger
}

func (h *SyncOpsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/sync")
	g.POST("/trigger", h.trigger)
	g.POST("/pages/resync", h.resyncPage)
	g.GET("/status", h.status)
	g.GET("/logs", h.listLogs)
	g.POST("/reconcile", h.reconcile)
	g.GET("/queue", h.listQueue)
	g.GET("/queue/stats", h.queueStats)
	g.POST("/queue/retry-failed", h.retryFailed)
	g.POST("/queue/clear", h.clearQueue)
}

// @Summary Trigger a full database sync
// @Tags sync
// @Param entity_type query string false "entity type (empty = all)"
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/trigger [post]
func (h *SyncOpsHandler) trigger(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Query("entity_type"))
	ctx := c.Request.Context()
	if entityType == "" {
		reports := h.Engine.SyncAll(ctx, models.SyncMethodManual)
		Ok(c, reports, nil)
		return
	}
	if !models.ValidEntityType(entityType) {
		Error(c, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	report, err := h.Engine.SyncDatabase(ctx, entityType, models.SyncMethodManual)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual sync failed", zap.String("entity_type", entityType), zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

type resyncPageRequest struct {
	EntityType string `json:"entity_type"`
	NotionID   string `json:"notion_id"`
}

// @Summary Resync a single page
// @Tags sync
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/pages/resync [post]
func (h *SyncOpsHandler) resyncPage(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req resyncPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if !models.ValidEntityType(req.EntityType) {
		Error(c, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	if strings.TrimSpace(req.NotionID) == "" {
		Error(c, http.StatusBadRequest, "notion_id is required", nil)
		return
	}
	if err := h.Engine.SyncPage(c.Request.Context(), req.EntityType, strings.TrimSpace(req.NotionID), models.SyncMethodManual); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"entity_type": req.EntityType, "notion_id": req.NotionID, "synced": true}, nil)
}

type entitySyncStatus struct {
	EntityType          string     `json:"entity_type"`
	DatabaseID          string     `json:"database_id"`
	PollingInterval     string     `json:"polling_interval"`
	CacheTTL            string     `json:"cache_ttl"`
	WebhookEnabled      bool       `json:"webhook_enabled"`
	MappingVersion      int        `json:"mapping_version"`
	CachedRows          int64      `json:"cached_rows"`
	BreakerOpen         bool       `json:"breaker_open"`
	FailureCount        int        `json:"failure_count"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	ReopenAt            *time.Time `json:"reopen_at,omitempty"`
	NextScheduledSyncAt *time.Time `json:"next_scheduled_sync_at,omitempty"`
	LastWebhookSyncAt   *time.Time `json:"last_webhook_sync_at,omitempty"`
	LastPollingSyncAt   *time.Time `json:"last_polling_sync_at,omitempty"`
}

// @Summary Sync status for every entity type
// @Tags sync
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/status [get]
func (h *SyncOpsHandler) status(c *gin.Context) {
	if h.Repo == nil || h.Queue == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	settings, err := h.Repo.ListSyncSettings(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	entities := make([]entitySyncStatus, 0, len(settings))
	for _, setting := range settings {
		cached, err := h.Repo.CountCache(ctx, setting.EntityType)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		entities = append(entities, entitySyncStatus{
			EntityType:          setting.EntityType,
			DatabaseID:          setting.DatabaseID,
			PollingInterval:     setting.PollingInterval,
			CacheTTL:            setting.CacheTTL,
			WebhookEnabled:      setting.WebhookEnabled,
			MappingVersion:      setting.MappingVersion,
			CachedRows:          cached,
			BreakerOpen:         setting.IsOpen,
			FailureCount:        setting.FailureCount,
			LastFailureAt:       setting.LastFailureAt,
			ReopenAt:            setting.ReopenAt,
			NextScheduledSyncAt: setting.NextScheduledSyncAt,
			LastWebhookSyncAt:   setting.LastWebhookSyncAt,
			LastPollingSyncAt:   setting.LastPollingSyncAt,
		})
	}
	queueStats, err := h.Queue.Stats(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"entities": entities, "queue": queueStats}, nil)
}

// @Summary List sync audit log entries
// @Tags sync
// @Param entity_type query string false "entity type"
// @Param method query string false "webhook|polling|manual|initial|reconciliation"
// @Param status query string false "success|partial|failed"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/logs [get]
func (h *SyncOpsHandler) listLogs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSyncLogsParams{
		Limit:      limit,
		Offset:     offset,
		EntityType: strQueryPtr(c, "entity_type"),
		Method:     strQueryPtr(c, "method"),
		Status:     strQueryPtr(c, "status"),
		Since:      timeQueryPtr(c, "since"),
		OrderBy:    "started_at",
	}
	items, err := h.Repo.ListSyncLogs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSyncLogs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Reconcile the cache against the source of record
// @Tags sync
// @Param entity_type query string false "entity type (empty = all)"
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/reconcile [post]
func (h *SyncOpsHandler) reconcile(c *gin.Context) {
	if h.Reconciler == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Query("entity_type"))
	if entityType == "" {
		reports := h.Reconciler.RunAll(c.Request.Context())
		Ok(c, reports, nil)
		return
	}
	report, err := h.Reconciler.RunOne(c.Request.Context(), entityType)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

func (h *SyncOpsHandler) listQueue(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListQueueParams{
		Limit:      limit,
		Offset:     offset,
		EntityType: strQueryPtr(c, "entity_type"),
		Status:     strQueryPtr(c, "status"),
		Operation:  strQueryPtr(c, "operation"),
		Source:     strQueryPtr(c, "source"),
		OrderBy:    "created_at",
		Asc:        boolPtr(true),
	}
	items, total, err := h.Queue.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *SyncOpsHandler) queueStats(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

// @Summary Retry permanently failed queue items
// @Tags sync
// @Param entity_type query string false "entity type"
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/queue/retry-failed [post]
func (h *SyncOpsHandler) retryFailed(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	count, err := h.Queue.RetryFailed(c.Request.Context(), strQueryPtr(c, "entity_type"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"retried": count}, nil)
}

type clearQueueRequest struct {
	EntityType *string  `json:"entity_type"`
	Statuses   []string `json:"statuses"`
}

// @Summary Clear queue items
// @Tags sync
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/v1/sync/queue/clear [post]
func (h *SyncOpsHandler) clearQueue(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req clearQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	count, err := h.Queue.Clear(c.Request.Context(), req.EntityType, req.Statuses)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"cleared": count}, nil)
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func timeQueryPtr(c *gin.Context, key string) *time.Time {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return &t
		}
	}
	return nil
}

func uintParam(c *gin.Context, key string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func boolPtr(v bool) *bool { return &v }
