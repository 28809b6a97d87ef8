package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notionsync/internal/mapping"
	"notionsync/internal/models"
	"notionsync/internal/repository"
	"notionsync/internal/service"
)

type SyncSettingsHandler struct {
	Service   *service.SyncSettingsService
	Scheduler *service.PollingScheduler
	Breaker   *service.CircuitBreaker
	Mapper    *mapping.Mapper
	Notion    service.NotionAPI
	Repo      repository.Repository
	Logger    *zap.Logger
}

func (h *SyncSettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/sync/settings")
	g.GET("", h.list)
	g.POST("/validate", h.validateMappings)
	g.GET("/:entity_type", h.get)
	g.PUT("/:entity_type", h.update)
	g.POST("/:entity_type/reset-breaker", h.resetBreaker)
	g.GET("/:entity_type/mappings", h.listMappings)
	g.POST("/:entity_type/mappings/reload", h.reloadMappings)
}

func (h *SyncSettingsHandler) list(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	items, err := h.Service.List(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *SyncSettingsHandler) get(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("entity_type"))
	item, err := h.Service.Get(c.Request.Context(), entityType)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "sync setting not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *SyncSettingsHandler) update(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("entity_type"))
	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Service.Update(c.Request.Context(), entityType, patch)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "sync setting not found", nil)
		return
	}
	if patch.PollingInterval != nil && h.Scheduler != nil {
		if interval, err := time.ParseDuration(*patch.PollingInterval); err == nil {
			if err := h.Scheduler.Reschedule(entityType, interval); err != nil && h.Logger != nil {
				h.Logger.Warn("reschedule after settings update failed",
					zap.String("entity_type", entityType), zap.Error(err))
			}
		}
	}
	Ok(c, item, nil)
}

func (h *SyncSettingsHandler) resetBreaker(c *gin.Context) {
	if h.Breaker == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("entity_type"))
	if !models.ValidEntityType(entityType) {
		Error(c, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	if err := h.Breaker.Reset(c.Request.Context(), entityType); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"entity_type": entityType, "breaker_open": false}, nil)
}

func (h *SyncSettingsHandler) listMappings(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("entity_type"))
	if !models.ValidEntityType(entityType) {
		Error(c, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	version := intQuery(c, "version", 0)
	if version <= 0 {
		setting, err := h.Repo.GetSyncSetting(c.Request.Context(), entityType)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		version = 1
		if setting != nil && setting.MappingVersion > 0 {
			version = setting.MappingVersion
		}
	}
	items, err := h.Repo.ListSchemaMappings(c.Request.Context(), entityType, version)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"version": version})
}

func (h *SyncSettingsHandler) reloadMappings(c *gin.Context) {
	if h.Mapper == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	entityType := strings.TrimSpace(c.Param("entity_type"))
	if !models.ValidEntityType(entityType) {
		Error(c, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	if err := h.Mapper.Reload(c.Request.Context(), entityType); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{
		"entity_type": entityType,
		"version":     h.Mapper.Version(entityType),
		"rules":       len(h.Mapper.Rules(entityType)),
	}, nil)
}

// validateMappings probes the live database schemas and reports rules
// that no longer line up.
func (h *SyncSettingsHandler) validateMappings(c *gin.Context) {
	if h.Mapper == nil || h.Notion == nil || h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	settings, err := h.Service.List(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if err := h.Mapper.Validate(c.Request.Context(), h.Notion, settings); err != nil {
		Ok(c, map[string]any{"valid": false, "detail": err.Error()}, nil)
		return
	}
	Ok(c, map[string]any{"valid": true}, nil)
}
