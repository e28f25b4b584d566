package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/ingestion"
	"github.com/marketfuse/attribution-engine/internal/ingestion/handler"
	"github.com/marketfuse/attribution-engine/internal/jetstream"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/pkg/logger"
)

// Processor orchestrates event processing
type Processor struct {
	service            *EventService
	jsClient           jetstream.ClientInterface
	realtimeConsumer   *ingestion.RealtimeConsumer
	historicalConsumer *ingestion.HistoricalConsumer
	eventRouter        ingestion.RouterInterface
	histHandler        handler.HistoricalHandlerInterface
	realtimeHandler    handler.RealtimeHandlerInterface
}

// NewProcessor creates a new processor with all components wired up.
// Accepts the main config object to access NATS settings.
func NewProcessor(service *EventService, jsClient jetstream.ClientInterface, cfg *config.Config, orgID string) *Processor {
	// Create the event router (shared by both consumers)
	router := ingestion.NewRouter()

	// Create handlers (used by the router)
	histHandler := handler.NewHistoricalHandler(service)
	realtimeHandler := handler.NewRealtimeHandler(service)

	// Create specific consumers using dedicated config from the main cfg object.
	// Append orgID to consumer names for uniqueness.
	realtimeCfg := cfg.NATS.Realtime
	realtimeCfg.Consumer = realtimeCfg.Consumer + orgID
	realtimeCfg.QueueGroup = realtimeCfg.QueueGroup + orgID
	realtimeConsumer := ingestion.NewRealtimeConsumer(jsClient, router, realtimeCfg, orgID, cfg.NATS.DLQSubject)

	historicalCfg := cfg.NATS.Historical
	historicalCfg.Consumer = historicalCfg.Consumer + orgID
	historicalCfg.QueueGroup = historicalCfg.QueueGroup + orgID
	historicalConsumer := ingestion.NewHistoricalConsumer(jsClient, router, historicalCfg, orgID, cfg.NATS.DLQSubject)

	return &Processor{
		service:            service,
		jsClient:           jsClient,
		realtimeConsumer:   realtimeConsumer,
		historicalConsumer: historicalConsumer,
		eventRouter:        router,
		histHandler:        histHandler,
		realtimeHandler:    realtimeHandler,
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup sets up the processor by registering handlers and setting up both consumers
func (p *Processor) Setup() error {
	// Register historical event handlers
	p.eventRouter.Register(model.V1HistoricalEvents, p.histHandler.HandleEvent)

	// Register realtime event handlers
	p.eventRouter.Register(model.V1EventsTrack, p.realtimeHandler.HandleEvent)
	p.eventRouter.Register(model.V1EventsIdentify, p.realtimeHandler.HandleEvent)
	p.eventRouter.Register(model.V1MMMTrain, p.realtimeHandler.HandleEvent)
	p.eventRouter.Register(model.V1AttributionConfig, p.realtimeHandler.HandleEvent)

	// Default handler for unknown event types, useful for logging
	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("version", eventType.GetVersion()),
			zap.String("base_type", string(eventType.GetBaseType())),
		)
		return nil
	})

	// Setup both consumers
	if err := p.realtimeConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup realtime consumer: %w", err)
	}
	if err := p.historicalConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup historical consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete for both consumers")
	return nil
}

// Start starts the processor by starting both consumers
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor with both consumers...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.realtimeConsumer.Start(); err != nil {
		p.historicalConsumer.Stop()
		return fmt.Errorf("failed to start realtime consumer: %w", err)
	}
	if err := p.historicalConsumer.Start(); err != nil {
		// If historical fails, stop the already started realtime consumer
		p.realtimeConsumer.Stop()
		return fmt.Errorf("failed to start historical consumer: %w", err)
	}

	logger.Log.Info("Both consumers started successfully")
	return nil
}

// Stop stops the processor by stopping both consumers
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor and both consumers...")
	p.historicalConsumer.Stop() // Stop historical first
	p.realtimeConsumer.Stop()
	logger.Log.Info("Both consumers stopped")
}
