package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
)

// RealtimeHandler processes realtime behavioral events
type RealtimeHandler struct {
	service RealtimeService
}

// RealtimeService defines the interface for realtime event processing
type RealtimeService interface {
	ProcessTrackEvent(ctx context.Context, payload *model.TrackEventPayload) error
	ProcessIdentifyEvent(ctx context.Context, payload *model.IdentifyPayload) error
	ProcessTrainCommand(ctx context.Context, payload *model.MMMTrainPayload) error
	ProcessConfigCommand(ctx context.Context, payload *model.AttributionConfigPayload) error
}

// NewRealtimeHandler creates a new realtime event handler
func NewRealtimeHandler(service RealtimeService) *RealtimeHandler {
	return &RealtimeHandler{
		service: service,
	}
}

// HandleEvent processes realtime events
func (h *RealtimeHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	// Generate request ID
	requestID := uuid.NewString()
	ctx = tenant.WithRequestID(ctx, requestID)

	log := logger.FromContext(ctx)
	log.Info("Processing realtime event", zap.String("type", string(eventType)))

	var err error
	switch eventType {
	case model.V1EventsTrack:
		err = h.handleTrack(ctx, metadata, rawEvent)
	case model.V1EventsIdentify:
		err = h.handleIdentify(ctx, metadata, rawEvent)
	case model.V1MMMTrain:
		err = h.handleTrain(ctx, metadata, rawEvent)
	case model.V1AttributionConfig:
		err = h.handleConfig(ctx, metadata, rawEvent)
	default:
		unsupportedErr := fmt.Errorf("unsupported realtime event type: %s", eventType)
		log.Error("Unsupported realtime event type", zap.String("eventType", string(eventType)))
		err = apperrors.NewFatal(unsupportedErr, "unsupported realtime event type")
	}
	return err // Return error (already wrapped by handlers or service)
}

// handleTrack processes behavioral track events
func (h *RealtimeHandler) handleTrack(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.TrackEventPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal track event payload", zap.Error(err))
		// Unmarshal failures never succeed on redelivery
		return apperrors.NewFatal(err, "failed to unmarshal track event payload")
	}

	// Enrich payload with OrgID from metadata
	if payload.OrgID == "" {
		payload.OrgID = metadata.OrgID
	}

	log.Info("Processing track event",
		zap.String("event_id", payload.EventID),
		zap.String("event_type", payload.EventType),
		zap.String("nats_message_id", metadata.MessageID))
	return h.service.ProcessTrackEvent(ctx, &payload)
}

// handleIdentify processes identity-stitching events
func (h *RealtimeHandler) handleIdentify(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.IdentifyPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal identify payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal identify payload")
	}

	if payload.AnonymousID == "" || payload.CustomerID == "" {
		validationErr := fmt.Errorf("anonymous ID and customer ID are required for identify")
		log.Error("Identify validation failed", zap.Error(validationErr))
		return apperrors.NewFatal(validationErr, "anonymous ID and customer ID are required for identify")
	}

	// Enrich payload with OrgID from metadata
	if payload.OrgID == "" {
		payload.OrgID = metadata.OrgID
	}

	log.Info("Processing identify event",
		zap.String("anonymous_id", payload.AnonymousID),
		zap.String("customer_id", payload.CustomerID))
	return h.service.ProcessIdentifyEvent(ctx, &payload)
}

// handleTrain processes marketing mix model training commands
func (h *RealtimeHandler) handleTrain(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.MMMTrainPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal train command payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal train command payload")
	}

	// Enrich payload with OrgID from metadata
	if payload.OrgID == "" {
		payload.OrgID = metadata.OrgID
	}

	log.Info("Processing train command",
		zap.String("model_id", payload.ModelID),
		zap.Int("rows", len(payload.Rows)))
	return h.service.ProcessTrainCommand(ctx, &payload)
}

// handleConfig processes attribution model configuration commands
func (h *RealtimeHandler) handleConfig(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.AttributionConfigPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal config command payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal config command payload")
	}

	// Enrich payload with OrgID from metadata
	if payload.OrgID == "" {
		payload.OrgID = metadata.OrgID
	}

	log.Info("Processing attribution config command",
		zap.String("model_type", payload.ModelType))
	return h.service.ProcessConfigCommand(ctx, &payload)
}
