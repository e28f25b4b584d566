package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/pkg/logger"
)

// HistoricalHandler processes backfill event batches
type HistoricalHandler struct {
	service HistoricalService
}

// HistoricalService defines the interface for historical event processing
type HistoricalService interface {
	ProcessHistoricalBatch(ctx context.Context, payload *model.HistoricalEventsPayload) error
}

// NewHistoricalHandler creates a new historical event handler
func NewHistoricalHandler(service HistoricalService) *HistoricalHandler {
	return &HistoricalHandler{
		service: service,
	}
}

// HandleEvent processes historical events
func (h *HistoricalHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)
	log.Info("Processing historical event", zap.String("type", string(eventType)))

	var err error
	switch eventType {
	case model.V1HistoricalEvents:
		err = h.handleHistoricalEvents(ctx, metadata, rawEvent)
	default:
		unsupportedErr := fmt.Errorf("unsupported historical event type: %s", eventType)
		log.Error("Unsupported historical event type", zap.String("eventType", string(eventType)))
		err = apperrors.NewFatal(unsupportedErr, "unsupported historical event type")
	}

	// Return the error (already wrapped by handlers or service layer)
	return err
}

// handleHistoricalEvents processes a batch of backfill events
func (h *HistoricalHandler) handleHistoricalEvents(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var batch model.HistoricalEventsPayload
	if err := json.Unmarshal(rawEvent, &batch); err != nil {
		log.Error("Failed to unmarshal historical events payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal historical events payload")
	}

	if len(batch.Events) == 0 {
		log.Warn("No events in historical batch payload")
		return nil
	}

	// Enrich each event with OrgID from metadata when absent
	for i := range batch.Events {
		if batch.Events[i].OrgID == "" {
			batch.Events[i].OrgID = metadata.OrgID
		}
	}

	log.Info("Processing historical events batch",
		zap.Int("count", len(batch.Events)),
		zap.Bool("is_last_batch", batch.IsLastBatch))
	return h.service.ProcessHistoricalBatch(ctx, &batch)
}
