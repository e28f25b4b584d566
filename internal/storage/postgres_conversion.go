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

// --- Conversion Event Repository Methods ---

// SaveConversionEvent inserts a new conversion event. A duplicate event_id
// maps to apperrors.ErrDuplicate so redelivery stays idempotent.
func (r *PostgresRepo) SaveConversionEvent(ctx context.Context, conversion model.ConversionEvent) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	if orgID != conversion.OrgID {
		return fmt.Errorf("%w: conversion OrgID %s does not match org ID %s", apperrors.ErrBadRequest, conversion.OrgID, orgID)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&conversion)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			loggerCtx.Warn("SaveConversionEvent resulted in 0 rows affected", zap.String("event_id", conversion.EventID))
			return fmt.Errorf("%w: create operation affected 0 rows", apperrors.ErrDatabase)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveConversionEvent", operation)
	observer.ObserveDbOperationDuration("save", "conversion_event", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrDuplicate) {
			return commitErr
		}
		loggerCtx.Error("Failed to save conversion event after retries",
			zap.String("event_id", conversion.EventID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	observer.IncConversionsRecorded(orgID)
	return nil
}

// UpdateConversionStatus moves a conversion to a new attribution lifecycle status.
func (r *PostgresRepo) UpdateConversionStatus(ctx context.Context, conversionID string, status model.ConversionStatus) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.ConversionEvent{}).
			Where("id = ? AND org_id = ?", conversionID, orgID).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversion %s", apperrors.ErrNotFound, conversionID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateConversionStatus", operation)
	observer.ObserveDbOperationDuration("update_status", "conversion_event", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to update conversion status after retries",
			zap.String("conversion_id", conversionID),
			zap.String("status", string(status)),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindConversionByID finds a conversion event by primary key.
func (r *PostgresRepo) FindConversionByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var conversion model.ConversionEvent
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ? AND org_id = ?", id, orgID).First(&conversion)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversionByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "conversion_event", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find conversion by id after retries",
			zap.String("conversion_id", id),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &conversion, nil
}

// FindConversionByEventID finds a conversion event by the event that produced it.
func (r *PostgresRepo) FindConversionByEventID(ctx context.Context, eventID string) (*model.ConversionEvent, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var conversion model.ConversionEvent
	operation := func() error {
		result := r.db.WithContext(ctx).Where("event_id = ? AND org_id = ?", eventID, orgID).First(&conversion)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversionByEventID", operation)
	observer.ObserveDbOperationDuration("find_by_event_id", "conversion_event", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find conversion by event_id after retries",
			zap.String("event_id", eventID),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &conversion, nil
}

// FindConversionsByCustomerID returns the customer's conversions ordered by
// occurrence time ascending.
func (r *PostgresRepo) FindConversionsByCustomerID(ctx context.Context, customerID string) ([]model.ConversionEvent, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var conversions []model.ConversionEvent
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("customer_id = ? AND org_id = ?", customerID, orgID).
			Order("occurred_at ASC").
			Find(&conversions)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversionsByCustomerID", operation)
	observer.ObserveDbOperationDuration("find_by_customer_id", "conversion_event", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find conversions by customer_id after retries",
			zap.String("customer_id", customerID),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if conversions == nil {
		return []model.ConversionEvent{}, nil
	}
	return conversions, nil
}

// FindConversionsByStatus returns up to limit conversions in the given status,
// oldest first. Used by the attribution workers to pick up pending work.
func (r *PostgresRepo) FindConversionsByStatus(ctx context.Context, status model.ConversionStatus, limit int) ([]model.ConversionEvent, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var conversions []model.ConversionEvent
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND org_id = ?", status, orgID).
			Order("occurred_at ASC").
			Limit(limit).
			Find(&conversions)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversionsByStatus", operation)
	observer.ObserveDbOperationDuration("find_by_status", "conversion_event", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find conversions by status after retries",
			zap.String("status", string(status)),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if conversions == nil {
		return []model.ConversionEvent{}, nil
	}
	return conversions, nil
}
