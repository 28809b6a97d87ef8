package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"notionsync/internal/models"
	"notionsync/internal/repository"
	"notionsync/internal/service"
)

type ConflictsHandler struct {
	Service *service.ConflictService
	Repo    repository.Repository
}

func (h *ConflictsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/conflicts")
	g.GET("", h.list)
	g.GET("/stats", h.stats)
	g.GET("/:id", h.get)
	g.POST("/:id/resolve", h.resolve)
	g.POST("/batch-resolve", h.resolveBatch)
}

func (h *ConflictsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListConflictsParams{
		Limit:      limit,
		Offset:     offset,
		EntityType: strQueryPtr(c, "entity_type"),
		NotionID:   strQueryPtr(c, "notion_id"),
		Resolution: strQueryPtr(c, "resolution"),
		Severity:   strQueryPtr(c, "severity"),
		Since:      timeQueryPtr(c, "since"),
		OrderBy:    "detected_at",
	}
	items, err := h.Repo.ListConflicts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountConflicts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *ConflictsHandler) stats(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	stats, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

func (h *ConflictsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetConflict(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "conflict not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ConflictsHandler) resolve(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req service.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if !models.ValidResolutionStrategy(req.Strategy) {
		Error(c, http.StatusBadRequest, "unknown resolution strategy", nil)
		return
	}
	item, err := h.Service.Resolve(c.Request.Context(), id, req)
	if errors.Is(err, service.ErrAlreadyResolved) {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "conflict not found", nil)
		return
	}
	Ok(c, item, nil)
}

type resolveBatchRequest struct {
	Items      []service.BatchResolveItem `json:"items"`
	ResolvedBy string                     `json:"resolved_by"`
}

func (h *ConflictsHandler) resolveBatch(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req resolveBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if len(req.Items) == 0 {
		Error(c, http.StatusBadRequest, "items is required", nil)
		return
	}
	results := h.Service.BatchResolve(c.Request.Context(), req.Items, req.ResolvedBy)
	Ok(c, results, nil)
}
