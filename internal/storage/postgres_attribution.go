package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// --- Attribution Repository Methods ---

// CommitAttributionSet replaces the current attribution rows for a
// (conversion, model) pair in one transaction: existing calculated rows are
// marked superseded, the new rows are inserted, and the conversion is flipped
// to attributed. A failure rolls everything back, leaving the previous rows
// current and the conversion pending. Returns the number of rows superseded.
func (r *PostgresRepo) CommitAttributionSet(ctx context.Context, conversionEventID string, modelType model.AttributionModelType, attributions []model.Attribution) (int64, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	for _, a := range attributions {
		if a.OrgID != orgID {
			return 0, fmt.Errorf("%w: attribution OrgID %s does not match org ID %s", apperrors.ErrBadRequest, a.OrgID, orgID)
		}
	}

	var superseded int64
	operation := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.
				Model(&model.Attribution{}).
				Where("conversion_event_id = ? AND model_type = ? AND org_id = ? AND status = ?",
					conversionEventID, modelType, orgID, model.AttributionStatusCalculated).
				Update("status", model.AttributionStatusSuperseded)
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			superseded = result.RowsAffected

			if len(attributions) > 0 {
				if result := tx.CreateInBatches(attributions, 100); result.Error != nil {
					return checkConstraintViolation(result.Error)
				}
			}

			result = tx.
				Model(&model.ConversionEvent{}).
				Where("id = ? AND org_id = ?", conversionEventID, orgID).
				Updates(map[string]interface{}{
					"status":     model.ConversionStatusAttributed,
					"updated_at": utils.Now(),
				})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: conversion %s", apperrors.ErrNotFound, conversionEventID)
			}
			return nil
		})
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CommitAttributionSet", operation)
	observer.ObserveDbOperationDuration("commit_set", "attribution", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to commit attribution set after retries",
			zap.String("conversion_event_id", conversionEventID),
			zap.String("model_type", string(modelType)),
			zap.Int("count", len(attributions)),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return superseded, nil
}

// FindAttributionsByConversionID returns the current (non-superseded)
// attribution rows for a (conversion, model) pair.
func (r *PostgresRepo) FindAttributionsByConversionID(ctx context.Context, conversionEventID string, modelType model.AttributionModelType) ([]model.Attribution, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var attributions []model.Attribution
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversion_event_id = ? AND model_type = ? AND org_id = ? AND status = ?",
				conversionEventID, modelType, orgID, model.AttributionStatusCalculated).
			Find(&attributions)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAttributionsByConversionID", operation)
	observer.ObserveDbOperationDuration("find_by_conversion_id", "attribution", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find attributions by conversion_event_id after retries",
			zap.String("conversion_event_id", conversionEventID),
			zap.String("model_type", string(modelType)),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if attributions == nil {
		return []model.Attribution{}, nil
	}
	return attributions, nil
}

// channelSummaryRow is the scan target for the channel rollup query.
type channelSummaryRow struct {
	Channel         string
	TotalAttributed float64
	TouchpointCount int64
	AvgWeight       float64
}

// SummarizeAttributionByChannel rolls up current attribution rows per channel
// for a model type over a conversion time range.
func (r *PostgresRepo) SummarizeAttributionByChannel(ctx context.Context, modelType model.AttributionModelType, from, to time.Time) (*model.AttributionSummary, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var rows []channelSummaryRow
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Attribution{}).
			Select("t.channel AS channel, SUM(attributions.attributed_value) AS total_attributed, COUNT(*) AS touchpoint_count, AVG(attributions.weight) AS avg_weight").
			Joins("JOIN touchpoints t ON t.id = attributions.touchpoint_id").
			Where("attributions.model_type = ? AND attributions.org_id = ? AND attributions.status = ?",
				modelType, orgID, model.AttributionStatusCalculated).
			Where("t.occurred_at >= ? AND t.occurred_at <= ?", from, to).
			Group("t.channel").
			Scan(&rows)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "SummarizeAttributionByChannel", operation)
	observer.ObserveDbOperationDuration("summarize_by_channel", "attribution", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to summarize attribution by channel after retries",
			zap.String("model_type", string(modelType)),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}

	summary := &model.AttributionSummary{
		ModelType: modelType,
		Channels:  make(map[string]model.ChannelSummary, len(rows)),
	}
	for _, row := range rows {
		summary.Channels[row.Channel] = model.ChannelSummary{
			TotalAttributed: row.TotalAttributed,
			TouchpointCount: row.TouchpointCount,
			AvgWeight:       row.AvgWeight,
		}
		summary.TotalAttributed += row.TotalAttributed
		summary.TotalTouchpoints += row.TouchpointCount
	}
	return summary, nil
}

// --- Attribution Model Config Repository Methods ---

// UpsertAttributionModelConfig creates or replaces the organization's model
// configuration.
func (r *PostgresRepo) UpsertAttributionModelConfig(ctx context.Context, cfg model.AttributionModelConfig) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	if orgID != cfg.OrgID {
		return fmt.Errorf("%w: config OrgID %s does not match org ID %s", apperrors.ErrBadRequest, cfg.OrgID, orgID)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.AttributionModelConfig{}).
			Where("org_id = ?", orgID).
			Updates(map[string]interface{}{
				"model_type":           cfg.ModelType,
				"lookback_window_days": cfg.LookbackWindowDays,
				"half_life_days":       cfg.HalfLifeDays,
				"first_touch_weight":   cfg.FirstTouchWeight,
				"last_touch_weight":    cfg.LastTouchWeight,
				"updated_at":           utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			created := r.db.WithContext(ctx).Create(&cfg)
			if created.Error != nil {
				return checkConstraintViolation(created.Error)
			}
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertAttributionModelConfig", operation)
	observer.ObserveDbOperationDuration("upsert", "attribution_model_config", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to upsert attribution model config after retries",
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindAttributionModelConfig returns the organization's model configuration.
func (r *PostgresRepo) FindAttributionModelConfig(ctx context.Context) (*model.AttributionModelConfig, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var cfg model.AttributionModelConfig
	operation := func() error {
		result := r.db.WithContext(ctx).Where("org_id = ?", orgID).First(&cfg)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAttributionModelConfig", operation)
	observer.ObserveDbOperationDuration("find_by_org_id", "attribution_model_config", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		if apperrors.IsNotFoundError(findErr) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find attribution model config after retries",
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &cfg, nil
}
