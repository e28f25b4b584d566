package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/cache"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/internal/validator"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// EventService is the entry point for consumed behavioral events. It
// validates, dedupes, and routes them through the tracker, queueing
// attribution work for any conversion produced.
type EventService struct {
	tracker           *TrackerService
	dedupeCache       *cache.EventDedupeCache
	attributionWorker IAttributionWorker
	trainingWorker    ITrainingWorker
}

// NewEventService creates the event service.
func NewEventService(tracker *TrackerService, dedupeCache *cache.EventDedupeCache, attributionWorker IAttributionWorker, trainingWorker ITrainingWorker) *EventService {
	return &EventService{
		tracker:           tracker,
		dedupeCache:       dedupeCache,
		attributionWorker: attributionWorker,
		trainingWorker:    trainingWorker,
	}
}

// validatePayloadTenant validates that the payload's org matches the tenant
// from context.
func validatePayloadTenant(ctx context.Context, payloadOrgID string) error {
	if payloadOrgID == "" {
		return nil // Skip validation if org is not provided
	}

	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tenant ID: %w", err)
	}

	if payloadOrgID != orgID {
		return fmt.Errorf("payload org (%s) does not match tenant ID (%s)", payloadOrgID, orgID)
	}

	return nil
}

// ProcessTrackEvent handles one behavioral event: it may produce a
// touchpoint, a conversion, both, or neither. Duplicate event IDs are
// dropped silently.
func (s *EventService) ProcessTrackEvent(ctx context.Context, payload *model.TrackEventPayload) error {
	loggerCtx := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(err, "invalid track payload")
	}
	if err := validatePayloadTenant(ctx, payload.OrgID); err != nil {
		return apperrors.NewFatal(err, "tenant mismatch")
	}

	if s.dedupeCache != nil && s.dedupeCache.MightBeSeen(payload.EventID) {
		stored, checkErr := s.eventAlreadyStored(ctx, payload.EventID)
		switch {
		case checkErr != nil:
			// Can't confirm; fall through and let the unique constraint on
			// event_id settle it.
			loggerCtx.Warn("Duplicate check failed, deferring to unique constraint",
				zap.String("event_id", payload.EventID),
				zap.Error(checkErr))
		case stored:
			loggerCtx.Debug("Dropping duplicate event",
				zap.String("event_id", payload.EventID))
			return nil
		default:
			s.dedupeCache.RecordFalsePositive()
			loggerCtx.Debug("Bloom filter false positive",
				zap.String("event_id", payload.EventID))
		}
	}

	touchpoint, err := s.tracker.TrackTouchpointFromEvent(ctx, payload)
	if err != nil {
		return s.wrapProcessingError("touchpoint", payload.EventID, err)
	}

	conversion, err := s.tracker.TrackConversionFromEvent(ctx, payload)
	if err != nil {
		return s.wrapProcessingError("conversion", payload.EventID, err)
	}

	if s.dedupeCache != nil {
		s.dedupeCache.MarkSeen(payload.EventID)
	}

	if conversion != nil {
		task := AttributionTaskData{
			Ctx:          context.WithoutCancel(ctx),
			OrgID:        conversion.OrgID,
			ConversionID: conversion.ID,
		}
		if err := s.attributionWorker.SubmitTask(task); err != nil {
			// The conversion stays pending; a sweep can attribute it later.
			loggerCtx.Error("Failed to queue attribution for conversion",
				zap.String("conversion_id", conversion.ID),
				zap.Error(err))
		}
	}

	if touchpoint == nil && conversion == nil {
		loggerCtx.Debug("Event produced no attributable records",
			zap.String("event_id", payload.EventID),
			zap.String("event_type", payload.EventType))
	}
	return nil
}

// eventAlreadyStored confirms a bloom filter hit against the database: an
// event is a true duplicate only when a touchpoint or conversion row already
// carries its event ID.
func (s *EventService) eventAlreadyStored(ctx context.Context, eventID string) (bool, error) {
	if _, err := s.tracker.touchpointRepo.FindByEventID(ctx, eventID); err == nil {
		return true, nil
	} else if !apperrors.IsNotFoundError(err) {
		return false, err
	}
	if _, err := s.tracker.conversionRepo.FindByEventID(ctx, eventID); err == nil {
		return true, nil
	} else if !apperrors.IsNotFoundError(err) {
		return false, err
	}
	return false, nil
}

// ProcessIdentifyEvent resolves an anonymous journey onto an identified
// customer.
func (s *EventService) ProcessIdentifyEvent(ctx context.Context, payload *model.IdentifyPayload) error {
	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(err, "invalid identify payload")
	}
	if err := validatePayloadTenant(ctx, payload.OrgID); err != nil {
		return apperrors.NewFatal(err, "tenant mismatch")
	}

	_, err := s.tracker.MergeCustomerJourneys(ctx, payload.AnonymousID, payload.CustomerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return apperrors.NewFatal(err, "identify rejected")
		}
		return apperrors.NewRetryable(err, "identify merge failed")
	}
	return nil
}

// ProcessHistoricalBatch ingests a backfill batch. Touchpoint-class events
// are bulk-upserted; conversion-class events run through the regular
// conversion path so linking and attribution still happen.
func (s *EventService) ProcessHistoricalBatch(ctx context.Context, payload *model.HistoricalEventsPayload) error {
	loggerCtx := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(err, "invalid historical payload")
	}
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant context")
	}

	touchpoints := make([]model.Touchpoint, 0, len(payload.Events))
	conversionEvents := make([]*model.TrackEventPayload, 0)

	for i := range payload.Events {
		event := &payload.Events[i]
		if err := validatePayloadTenant(ctx, event.OrgID); err != nil {
			return apperrors.NewFatal(err, "tenant mismatch in batch")
		}
		if _, isConversion := DetectConversionType(event.EventType, event.EventName); isConversion {
			conversionEvents = append(conversionEvents, event)
			continue
		}
		if !qualifiesAsTouchpoint(event) {
			continue
		}
		touchpoints = append(touchpoints, buildTouchpoint(orgID, event))
	}

	if len(touchpoints) > 0 {
		if err := s.tracker.touchpointRepo.BulkUpsert(ctx, touchpoints); err != nil {
			return apperrors.NewRetryable(err, "historical touchpoint upsert failed")
		}
	}
	for _, event := range conversionEvents {
		if _, err := s.tracker.TrackConversionFromEvent(ctx, event); err != nil {
			return s.wrapProcessingError("historical conversion", event.EventID, err)
		}
	}

	loggerCtx.Info("Historical batch processed",
		zap.Int("events", len(payload.Events)),
		zap.Int("touchpoints", len(touchpoints)),
		zap.Int("conversions", len(conversionEvents)),
		zap.Bool("last_batch", payload.IsLastBatch))
	return nil
}

// ProcessTrainCommand queues a marketing mix model training run. The fit
// itself happens on the training pool; the consumer only validates and
// hands off.
func (s *EventService) ProcessTrainCommand(ctx context.Context, payload *model.MMMTrainPayload) error {
	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(err, "invalid train command")
	}
	if err := validatePayloadTenant(ctx, payload.OrgID); err != nil {
		return apperrors.NewFatal(err, "tenant mismatch")
	}
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return apperrors.NewFatal(err, "missing tenant context")
	}

	rows := make([]SpendRow, 0, len(payload.Rows))
	for i := range payload.Rows {
		date, parseErr := time.Parse("2006-01-02", payload.Rows[i].Date)
		if parseErr != nil {
			return apperrors.NewFatal(fmt.Errorf("%w: row %d: %v", apperrors.ErrValidation, i, parseErr), "invalid train command date")
		}
		rows = append(rows, SpendRow{
			Date:   date,
			Spend:  payload.Rows[i].Spend,
			Target: payload.Rows[i].Target,
		})
	}

	task := TrainingTaskData{
		Ctx:     context.WithoutCancel(ctx),
		OrgID:   orgID,
		ModelID: payload.ModelID,
		Rows:    rows,
	}
	if err := s.trainingWorker.SubmitTask(task); err != nil {
		// Pool overload is transient; let the message redeliver.
		return apperrors.NewRetryable(err, "failed to queue training for model %s", payload.ModelID)
	}

	logger.FromContext(ctx).Info("Training run queued",
		zap.String("model_id", payload.ModelID),
		zap.Int("rows", len(rows)))
	return nil
}

// ProcessConfigCommand applies an attribution model configuration command
// for the tenant organization.
func (s *EventService) ProcessConfigCommand(ctx context.Context, payload *model.AttributionConfigPayload) error {
	if err := validator.Validate(payload); err != nil {
		return apperrors.NewFatal(err, "invalid config command")
	}
	if err := validatePayloadTenant(ctx, payload.OrgID); err != nil {
		return apperrors.NewFatal(err, "tenant mismatch")
	}

	cfg, err := s.tracker.UpdateModelConfig(ctx, payload)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrUnknownAttributionModel) || errors.Is(err, apperrors.ErrUnauthorized) {
			return apperrors.NewFatal(err, "config command rejected")
		}
		return apperrors.NewRetryable(err, "config update failed")
	}

	logger.FromContext(ctx).Info("Attribution config command applied",
		zap.String("model_type", string(cfg.ModelType)))
	return nil
}

// wrapProcessingError classifies a tracker error for the consumer's
// ack/nak decision.
func (s *EventService) wrapProcessingError(stage, eventID string, err error) error {
	if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrBadRequest) || errors.Is(err, apperrors.ErrUnauthorized) {
		return apperrors.NewFatal(err, "%s processing for event %s", stage, eventID)
	}
	return apperrors.NewRetryable(err, "%s processing for event %s", stage, eventID)
}

// buildTouchpoint constructs an unsaved touchpoint row from an event, used
// by the historical bulk path.
func buildTouchpoint(orgID string, payload *model.TrackEventPayload) model.Touchpoint {
	channel, tpType := DetermineChannel(payload)
	tp := model.Touchpoint{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		CustomerID:      payload.SubjectID(),
		EventID:         payload.EventID,
		Type:            tpType,
		Channel:         channel,
		Cost:            payload.Properties.Cost,
		EngagementScore: CalculateEngagementScore(&payload.Properties),
		Status:          model.TouchpointStatusActive,
		OccurredAt:      utils.UnixToTimeWithMilliseconds(payload.Timestamp),
	}
	if payload.Context.Campaign != nil {
		tp.Campaign = payload.Context.Campaign.UTMCampaign
		tp.Source = payload.Context.Campaign.UTMSource
		tp.Medium = payload.Context.Campaign.UTMMedium
	}
	return tp
}
