package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// SaveExhaustedEvent saves an exhausted DLQ event to the database.
func (r *PostgresRepo) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		// The DLQ worker runs outside per-message tenant contexts sometimes;
		// the metric label falls back to a placeholder.
		logger.FromContext(ctx).Warn("Failed to get tenant ID for exhausted event metric", zap.Error(err))
		orgID = "unknown"
	}

	operation := func() error {
		// Simple create, exhausted events are append-only
		result := r.db.WithContext(ctx).Create(&event)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveExhaustedEvent Commit", operation)
	observer.ObserveDbOperationDuration("save", "exhausted_event", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted event after retries",
			zap.String("source_subject", event.SourceSubject),
			zap.String("org_id", event.OrgID),
			zap.Error(commitErr))
		return commitErr // Already wrapped
	}

	logger.FromContext(ctx).Info("Successfully saved exhausted event", zap.Uint("event_id", event.ID), zap.String("source_subject", event.SourceSubject))
	return nil
}
