package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"notionsync/internal/models"
	"notionsync/internal/repository"
	"notionsync/internal/service"
)

type ScheduleHandler struct {
	Service *service.ScheduleService
	Repo    repository.Repository
}

func (h *ScheduleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/scheduling-conflicts", h.list)
	g.POST("/scheduling-conflicts/:id/status", h.setStatus)
	g.POST("/tasks/:id/recompute-conflicts", h.recompute)
}

func (h *ScheduleHandler) list(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSchedulingConflictsParams{
		Limit:        limit,
		Offset:       offset,
		TaskID:       strQueryPtr(c, "task_id"),
		MemberID:     strQueryPtr(c, "member_id"),
		ConflictType: strQueryPtr(c, "conflict_type"),
		Status:       strQueryPtr(c, "status"),
		OrderBy:      "detected_at",
	}
	items, total, err := h.Service.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type setScheduleStatusRequest struct {
	Status string `json:"status"`
}

func (h *ScheduleHandler) setStatus(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req setScheduleStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	status := strings.TrimSpace(req.Status)
	if err := h.Service.SetStatus(c.Request.Context(), id, status); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "status": status}, nil)
}

// recompute reruns detection for one task, for operators who changed
// data out of band and do not want to wait for the next sync.
func (h *ScheduleHandler) recompute(c *gin.Context) {
	if h.Service == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	taskID := strings.TrimSpace(c.Param("id"))
	if taskID == "" {
		Error(c, http.StatusBadRequest, "invalid task id", nil)
		return
	}
	task, err := h.Repo.GetTask(c.Request.Context(), taskID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if task == nil {
		Error(c, http.StatusNotFound, "task not found", nil)
		return
	}
	if err := h.Service.RecomputeForTask(c.Request.Context(), task); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	status := models.ScheduleStatusActive
	items, _, err := h.Service.List(c.Request.Context(), repository.ListSchedulingConflictsParams{
		Limit:  100,
		TaskID: &taskID,
		Status: &status,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
