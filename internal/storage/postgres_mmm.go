package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// --- Marketing Mix Model Repository Methods ---

// SaveMarketingMixModel inserts a new model definition.
func (r *PostgresRepo) SaveMarketingMixModel(ctx context.Context, m model.MarketingMixModel) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	if orgID != m.OrgID {
		return fmt.Errorf("%w: model OrgID %s does not match org ID %s", apperrors.ErrBadRequest, m.OrgID, orgID)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&m)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMarketingMixModel", operation)
	observer.ObserveDbOperationDuration("save", "marketing_mix_model", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to save marketing mix model after retries",
			zap.String("model_id", m.ID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateMarketingMixModel persists a full model update, typically after
// training writes coefficients and fit metrics.
func (r *PostgresRepo) UpdateMarketingMixModel(ctx context.Context, m model.MarketingMixModel) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	m.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.MarketingMixModel{}).
			Where("id = ? AND org_id = ?", m.ID, orgID).
			Updates(&m)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: marketing mix model %s", apperrors.ErrNotFound, m.ID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateMarketingMixModel", operation)
	observer.ObserveDbOperationDuration("update", "marketing_mix_model", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to update marketing mix model after retries",
			zap.String("model_id", m.ID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindMarketingMixModelByID finds a model by primary key.
func (r *PostgresRepo) FindMarketingMixModelByID(ctx context.Context, id string) (*model.MarketingMixModel, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var m model.MarketingMixModel
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ? AND org_id = ?", id, orgID).First(&m)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMarketingMixModelByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "marketing_mix_model", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find marketing mix model by id after retries",
			zap.String("model_id", id),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &m, nil
}

// FindMarketingMixModelsByOrgID returns all of the organization's models,
// newest first.
func (r *PostgresRepo) FindMarketingMixModelsByOrgID(ctx context.Context) ([]model.MarketingMixModel, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var models []model.MarketingMixModel
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("org_id = ?", orgID).
			Order("created_at DESC").
			Find(&models)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMarketingMixModelsByOrgID", operation)
	observer.ObserveDbOperationDuration("find_by_org_id", "marketing_mix_model", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find marketing mix models by org_id after retries",
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if models == nil {
		return []model.MarketingMixModel{}, nil
	}
	return models, nil
}

// SaveMMMPrediction persists a forecast record.
func (r *PostgresRepo) SaveMMMPrediction(ctx context.Context, p model.MMMPrediction) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&p)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMMMPrediction", operation)
	observer.ObserveDbOperationDuration("save", "mmm_prediction", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to save MMM prediction after retries",
			zap.String("model_id", p.ModelID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// SaveMMMBudgetOptimization persists a budget optimization record.
func (r *PostgresRepo) SaveMMMBudgetOptimization(ctx context.Context, o model.MMMBudgetOptimization) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&o)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMMMBudgetOptimization", operation)
	observer.ObserveDbOperationDuration("save", "mmm_budget_optimization", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to save MMM budget optimization after retries",
			zap.String("model_id", o.ModelID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
