package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// --- Touchpoint Repository Methods ---

// SaveTouchpoint inserts a new touchpoint. A duplicate event_id maps to
// apperrors.ErrDuplicate so the caller can treat redelivery as a no-op.
func (r *PostgresRepo) SaveTouchpoint(ctx context.Context, touchpoint model.Touchpoint) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	if orgID != touchpoint.OrgID {
		return fmt.Errorf("%w: touchpoint OrgID %s does not match org ID %s", apperrors.ErrBadRequest, touchpoint.OrgID, orgID)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&touchpoint)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			loggerCtx.Warn("SaveTouchpoint resulted in 0 rows affected", zap.String("event_id", touchpoint.EventID))
			return fmt.Errorf("%w: create operation affected 0 rows", apperrors.ErrDatabase)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveTouchpoint", operation)
	observer.ObserveDbOperationDuration("save", "touchpoint", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrDuplicate) {
			return commitErr // Caller decides; no error log for redelivery
		}
		loggerCtx.Error("Failed to save touchpoint after retries",
			zap.String("event_id", touchpoint.EventID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	observer.IncTouchpointsCreated(orgID)
	return nil
}

// FindTouchpointByEventID finds a touchpoint by the event that produced it.
func (r *PostgresRepo) FindTouchpointByEventID(ctx context.Context, eventID string) (*model.Touchpoint, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var touchpoint model.Touchpoint
	operation := func() error {
		result := r.db.WithContext(ctx).Where("event_id = ? AND org_id = ?", eventID, orgID).First(&touchpoint)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTouchpointByEventID", operation)
	observer.ObserveDbOperationDuration("find_by_event_id", "touchpoint", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find touchpoint by event_id after retries",
			zap.String("event_id", eventID),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &touchpoint, nil
}

// FindTouchpointsByCustomerID returns the customer's touchpoints ordered by
// occurrence time ascending.
func (r *PostgresRepo) FindTouchpointsByCustomerID(ctx context.Context, customerID string) ([]model.Touchpoint, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var touchpoints []model.Touchpoint
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("customer_id = ? AND org_id = ?", customerID, orgID).
			Order("occurred_at ASC").
			Find(&touchpoints)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTouchpointsByCustomerID", operation)
	observer.ObserveDbOperationDuration("find_by_customer_id", "touchpoint", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find touchpoints by customer_id after retries",
			zap.String("customer_id", customerID),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if touchpoints == nil {
		return []model.Touchpoint{}, nil
	}
	return touchpoints, nil
}

// FindUnlinkedTouchpointsInWindow returns the customer's active, unlinked
// touchpoints with occurred_at in [from, to], ordered ascending.
func (r *PostgresRepo) FindUnlinkedTouchpointsInWindow(ctx context.Context, customerID string, from, to time.Time) ([]model.Touchpoint, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var touchpoints []model.Touchpoint
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("customer_id = ? AND org_id = ? AND conversion_event_id IS NULL AND status = ? AND occurred_at >= ? AND occurred_at <= ?",
				customerID, orgID, model.TouchpointStatusActive, from, to).
			Order("occurred_at ASC").
			Find(&touchpoints)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindUnlinkedTouchpointsInWindow", operation)
	observer.ObserveDbOperationDuration("find_unlinked_in_window", "touchpoint", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find unlinked touchpoints in window after retries",
			zap.String("customer_id", customerID),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if touchpoints == nil {
		return []model.Touchpoint{}, nil
	}
	return touchpoints, nil
}

// FindTouchpointsByConversionID returns the journey linked to a conversion,
// ordered by position.
func (r *PostgresRepo) FindTouchpointsByConversionID(ctx context.Context, conversionEventID string) ([]model.Touchpoint, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var touchpoints []model.Touchpoint
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversion_event_id = ? AND org_id = ?", conversionEventID, orgID).
			Order("position_in_journey ASC").
			Find(&touchpoints)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindTouchpointsByConversionID", operation)
	observer.ObserveDbOperationDuration("find_by_conversion_id", "touchpoint", orgID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find touchpoints by conversion_event_id after retries",
			zap.String("conversion_event_id", conversionEventID),
			zap.String("org_id", orgID),
			zap.Error(findErr))
		return nil, findErr
	}
	if touchpoints == nil {
		return []model.Touchpoint{}, nil
	}
	return touchpoints, nil
}

// LinkTouchpointToConversion stamps a touchpoint with its conversion, journey
// position and time-to-conversion. Already-linked touchpoints are left alone.
func (r *PostgresRepo) LinkTouchpointToConversion(ctx context.Context, touchpointID, conversionEventID string, position int, timeToConversion float64) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Touchpoint{}).
			Where("id = ? AND org_id = ? AND conversion_event_id IS NULL", touchpointID, orgID).
			Updates(map[string]interface{}{
				"conversion_event_id": conversionEventID,
				"position_in_journey": position,
				"time_to_conversion":  timeToConversion,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: touchpoint %s not linkable", apperrors.ErrConflict, touchpointID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "LinkTouchpointToConversion", operation)
	observer.ObserveDbOperationDuration("link_to_conversion", "touchpoint", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrConflict) {
			return commitErr // Already linked by a concurrent worker
		}
		loggerCtx.Error("Failed to link touchpoint to conversion after retries",
			zap.String("touchpoint_id", touchpointID),
			zap.String("conversion_event_id", conversionEventID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// ReassignTouchpointCustomer moves unlinked touchpoints from one customer ID
// to another. Used when an anonymous journey is identified. Returns the number
// of touchpoints moved.
func (r *PostgresRepo) ReassignTouchpointCustomer(ctx context.Context, fromCustomerID, toCustomerID string) (int64, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var moved int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.Touchpoint{}).
			Where("customer_id = ? AND org_id = ? AND conversion_event_id IS NULL", fromCustomerID, orgID).
			Updates(map[string]interface{}{
				"customer_id": toCustomerID,
				"updated_at":  utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		moved = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ReassignTouchpointCustomer", operation)
	observer.ObserveDbOperationDuration("reassign_customer", "touchpoint", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to reassign touchpoints after retries",
			zap.String("from_customer_id", fromCustomerID),
			zap.String("to_customer_id", toCustomerID),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return moved, nil
}

// BulkUpsertTouchpoints inserts a batch of touchpoints, skipping rows whose
// event_id already exists. Used by the historical backfill path.
func (r *PostgresRepo) BulkUpsertTouchpoints(ctx context.Context, touchpoints []model.Touchpoint) error {
	if len(touchpoints) == 0 {
		return nil
	}
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get org ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	for _, tp := range touchpoints {
		if tp.OrgID != orgID {
			return fmt.Errorf("%w: touchpoint OrgID %s does not match org ID %s", apperrors.ErrBadRequest, tp.OrgID, orgID)
		}
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}},
				DoNothing: true,
			}).
			CreateInBatches(touchpoints, 100)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "BulkUpsertTouchpoints", operation)
	observer.ObserveDbOperationDuration("bulk_upsert", "touchpoint", orgID, time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to bulk upsert touchpoints after retries",
			zap.Int("count", len(touchpoints)),
			zap.String("org_id", orgID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
