package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notionsync/internal/models"
	"notionsync/internal/repository"
	"notionsync/internal/service"
)

// WebhookHandler ingests Notion webhook deliveries. It only validates,
// maps the parent database to an entity type and enqueues; the actual
// sync happens on the queue workers, so the endpoint answers fast no
// matter what state the source API is in.
type WebhookHandler struct {
	Queue  *service.SyncQueueService
	Repo   repository.Repository
	Flags  *service.SystemSettingsService
	Secret string
	Logger *zap.Logger
}

func (h *WebhookHandler) Register(r *gin.Engine) {
	r.POST("/webhooks/notion", h.ingest)
}

type webhookEntity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type webhookPayload struct {
	VerificationToken string        `json:"verification_token"`
	ID                string        `json:"id"`
	Timestamp         string        `json:"timestamp"`
	Type              string        `json:"type"`
	Entity            webhookEntity `json:"entity"`
	Data              struct {
		Parent webhookEntity `json:"parent"`
	} `json:"data"`
}

// @Summary Ingest a Notion webhook event
// @Tags webhooks
// @Accept json
// @Param X-Notion-Signature header string false "HMAC signature"
// @Success 202 {object} apiResponse
// @Router /webhooks/notion [post]
func (h *WebhookHandler) ingest(c *gin.Context) {
	if h.Queue == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	if h.Secret != "" && !verifySignature(body, c.GetHeader("X-Notion-Signature"), h.Secret) {
		Error(c, http.StatusUnauthorized, "bad signature", nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		Error(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}

	// Subscription handshake: echo the token back.
	if payload.VerificationToken != "" {
		if h.Logger != nil {
			h.Logger.Info("webhook verification received")
		}
		Ok(c, map[string]any{"verification_token": payload.VerificationToken}, nil)
		return
	}

	if h.Flags != nil && !h.Flags.IsEnabled(c.Request.Context(), service.FeatureWebhookIngest, true) {
		Accepted(c, map[string]any{"status": "ignored", "reason": "webhook ingest disabled"})
		return
	}

	operation, priority, ok := classifyWebhookEvent(payload.Type)
	if !ok {
		Accepted(c, map[string]any{"status": "ignored", "reason": "unhandled event type"})
		return
	}

	databaseID := payload.Data.Parent.ID
	if operation == models.QueueOpSchemaRefresh {
		databaseID = payload.Entity.ID
	}
	entityType, found, err := h.resolveEntityType(c, databaseID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if !found {
		// Databases we do not mirror are not an error; ack so the source
		// does not retry.
		if h.Logger != nil {
			h.Logger.Info("webhook for unmapped database", zap.String("database_id", databaseID))
		}
		Accepted(c, map[string]any{"status": "ignored", "reason": "unmapped database"})
		return
	}

	item, err := h.Queue.Enqueue(c.Request.Context(), service.EnqueueRequest{
		EntityType: entityType,
		NotionID:   payload.Entity.ID,
		Operation:  operation,
		Source:     models.QueueSourceWebhook,
		Priority:   priority,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("webhook enqueue failed",
				zap.String("event_type", payload.Type),
				zap.String("entity_type", entityType),
				zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Accepted(c, map[string]any{
		"status":      "queued",
		"id":          item.ID,
		"entity_type": entityType,
		"operation":   operation,
	})
}

func classifyWebhookEvent(eventType string) (operation string, priority int, ok bool) {
	switch eventType {
	case "page.created", "page.undeleted":
		return models.QueueOpCreate, models.PriorityMedium, true
	case "page.updated", "page.properties_updated", "page.content_updated":
		return models.QueueOpUpdate, models.PriorityMedium, true
	case "page.deleted":
		return models.QueueOpDelete, models.PriorityHigh, true
	case "database.schema.updated", "schema.changed":
		return models.QueueOpSchemaRefresh, models.PriorityHigh, true
	}
	return "", 0, false
}

// resolveEntityType maps a Notion database id to the entity type whose
// sync settings point at it. Ids compare with hyphens stripped because
// the API is inconsistent about them.
func (h *WebhookHandler) resolveEntityType(c *gin.Context, databaseID string) (string, bool, error) {
	normalized := normalizeNotionID(databaseID)
	if normalized == "" {
		return "", false, nil
	}
	settings, err := h.Repo.ListSyncSettings(c.Request.Context())
	if err != nil {
		return "", false, err
	}
	for _, setting := range settings {
		if normalizeNotionID(setting.DatabaseID) == normalized {
			return setting.EntityType, true, nil
		}
	}
	return "", false, nil
}

func normalizeNotionID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

func verifySignature(body []byte, header, secret string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}
