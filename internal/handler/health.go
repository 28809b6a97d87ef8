package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"notionsync/internal/mapping"
	"notionsync/internal/models"
)

// HealthHandler answers liveness and readiness probes. Ready means the
// database answers and a mapping version resolved for every entity
// type; sync work cannot start without either.
type HealthHandler struct {
	DB     *gorm.DB
	Mapper *mapping.Mapper
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notionsync"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]any
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	mappingVersions := gin.H{}
	if h.Mapper != nil {
		for _, entityType := range models.AllEntityTypes() {
			version := h.Mapper.Version(entityType)
			if version == 0 {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mappings_not_loaded", "entity_type": entityType})
				return
			}
			mappingVersions[entityType] = version
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "mapping_versions": mappingVersions})
}
