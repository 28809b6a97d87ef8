package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"notionsync/internal/client/notion"
	"notionsync/internal/config"
	"notionsync/internal/events"
	"notionsync/internal/repository"
)

// CircuitBreaker keeps one failure counter per entity type, persisted in
// sync_settings so the state survives restarts. Three consecutive failures
// open the circuit; while open, sync attempts are skipped with a soft log
// instead of hammering a remote that is already down. Expiry of the
// cooldown closes it again on the next check, and any success resets the
// counter immediately.
type CircuitBreaker struct {
	Repo   repository.Repository
	Config config.BreakerConfig
	Events *events.Hub
	Logger *zap.Logger
}

func (b *CircuitBreaker) threshold() int {
	if b.Config.TripThreshold > 0 {
		return b.Config.TripThreshold
	}
	return 3
}

func (b *CircuitBreaker) cooldown() time.Duration {
	if b.Config.Cooldown > 0 {
		return b.Config.Cooldown
	}
	return 5 * time.Minute
}

// Allow reports whether a sync for entityType may call out. A breaker
// whose cooldown has passed counts as closed and its state is reset.
func (b *CircuitBreaker) Allow(ctx context.Context, entityType string) (bool, error) {
	if b == nil || b.Repo == nil {
		return true, nil
	}
	setting, err := b.Repo.GetSyncSetting(ctx, entityType)
	if err != nil {
		return false, err
	}
	if setting == nil || !setting.IsOpen {
		return true, nil
	}
	now := time.Now().UTC()
	if setting.ReopenAt != nil && now.After(*setting.ReopenAt) {
		if err := b.Repo.UpdateSyncSettingFields(ctx, entityType, map[string]any{
			"is_open":       false,
			"failure_count": 0,
			"reopen_at":     nil,
		}); err != nil {
			return false, err
		}
		if b.Logger != nil {
			b.Logger.Info("circuit closed after cooldown", zap.String("entity_type", entityType))
		}
		b.publish(events.TypeBreakerClosed, entityType, "cooldown elapsed")
		return true, nil
	}
	if b.Logger != nil {
		b.Logger.Info("circuit open, skipping sync",
			zap.String("entity_type", entityType),
			zap.Timep("reopen_at", setting.ReopenAt),
		)
	}
	return false, nil
}

// RecordFailure bumps the counter under a row lock and opens the circuit
// once the threshold is reached. Auth failures never count; they log at
// error level and wait for an operator.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, entityType string, cause error) error {
	if b == nil || b.Repo == nil {
		return nil
	}
	if notion.IsAuth(cause) {
		if b.Logger != nil {
			b.Logger.Error("notion authentication failed",
				zap.String("entity_type", entityType),
				zap.Error(cause),
			)
		}
		return nil
	}
	now := time.Now().UTC()
	opened := false
	err := b.Repo.InTx(ctx, func(tx *gorm.DB) error {
		setting, err := b.Repo.GetSyncSettingForUpdateTx(ctx, tx, entityType)
		if err != nil || setting == nil {
			return err
		}
		failures := setting.FailureCount + 1
		fields := map[string]any{
			"failure_count":   failures,
			"last_failure_at": now,
			"updated_at":      now,
		}
		if failures >= b.threshold() && !setting.IsOpen {
			fields["is_open"] = true
			fields["reopen_at"] = now.Add(b.cooldown())
			opened = true
		}
		return b.Repo.UpdateSyncSettingFieldsTx(ctx, tx, entityType, fields)
	})
	if err != nil {
		return err
	}
	if opened {
		if b.Logger != nil {
			b.Logger.Warn("circuit opened",
				zap.String("entity_type", entityType),
				zap.Int("failures", b.threshold()),
				zap.Error(cause),
			)
		}
		detail := ""
		if cause != nil {
			detail = cause.Error()
		}
		b.publish(events.TypeBreakerOpened, entityType, detail)
	}
	return nil
}

// RecordSuccess resets the counter. Called on every successful remote
// fetch so a single good call closes a half-open circuit.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, entityType string) error {
	if b == nil || b.Repo == nil {
		return nil
	}
	setting, err := b.Repo.GetSyncSetting(ctx, entityType)
	if err != nil || setting == nil {
		return err
	}
	if setting.FailureCount == 0 && !setting.IsOpen {
		return nil
	}
	wasOpen := setting.IsOpen
	if err := b.Repo.UpdateSyncSettingFields(ctx, entityType, map[string]any{
		"is_open":       false,
		"failure_count": 0,
		"reopen_at":     nil,
	}); err != nil {
		return err
	}
	if wasOpen {
		if b.Logger != nil {
			b.Logger.Info("circuit closed after success", zap.String("entity_type", entityType))
		}
		b.publish(events.TypeBreakerClosed, entityType, "successful sync")
	}
	return nil
}

// Reset force-closes the breaker, used by the operator endpoint.
func (b *CircuitBreaker) Reset(ctx context.Context, entityType string) error {
	if b == nil || b.Repo == nil {
		return nil
	}
	if err := b.Repo.UpdateSyncSettingFields(ctx, entityType, map[string]any{
		"is_open":       false,
		"failure_count": 0,
		"reopen_at":     nil,
	}); err != nil {
		return err
	}
	b.publish(events.TypeBreakerClosed, entityType, "manual reset")
	return nil
}

func (b *CircuitBreaker) publish(eventType, entityType, detail string) {
	if b == nil || b.Events == nil {
		return
	}
	b.Events.Publish(events.Event{
		Type:       eventType,
		EntityType: entityType,
		Detail:     detail,
	})
}
