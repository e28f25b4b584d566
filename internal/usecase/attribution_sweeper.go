package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/storage"
	"github.com/marketfuse/attribution-engine/internal/tenant"
)

// AttributionSweeper periodically requeues conversions stuck in pending.
// A conversion lands there when the worker pool rejected the submit, when a
// commit failed mid-attribution, or when the process died with tasks queued.
// Attribution is idempotent, so resubmitting an already in-flight conversion
// is harmless.
type AttributionSweeper struct {
	conversionRepo storage.ConversionRepo
	worker         IAttributionWorker
	orgID          string
	interval       time.Duration
	batchSize      int

	baseLogger *zap.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewAttributionSweeper creates a sweeper over the organization's pending
// conversions.
func NewAttributionSweeper(conversionRepo storage.ConversionRepo, worker IAttributionWorker, orgID string, interval time.Duration, batchSize int, baseLogger *zap.Logger) *AttributionSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AttributionSweeper{
		conversionRepo: conversionRepo,
		worker:         worker,
		orgID:          orgID,
		interval:       interval,
		batchSize:      batchSize,
		baseLogger:     baseLogger.Named("attribution_sweeper"),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs after one full
// interval so startup backlog does not race consumer warm-up.
func (s *AttributionSweeper) Start(ctx context.Context) {
	s.baseLogger.Info("Starting pending-conversion sweeper",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				requeued, err := s.sweepOnce(ctx)
				if err != nil {
					s.baseLogger.Warn("Pending-conversion sweep failed", zap.Error(err))
				} else if requeued > 0 {
					s.baseLogger.Info("Requeued pending conversions", zap.Int("count", requeued))
				}
			}
		}
	}()
}

// sweepOnce loads one batch of pending conversions and resubmits them to the
// attribution pool. A rejected submit is left for the next sweep.
func (s *AttributionSweeper) sweepOnce(ctx context.Context) (int, error) {
	sweepCtx := tenant.WithOrgID(ctx, s.orgID)

	conversions, err := s.conversionRepo.FindByStatus(sweepCtx, model.ConversionStatusPending, s.batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, conversion := range conversions {
		task := AttributionTaskData{
			Ctx:          context.WithoutCancel(sweepCtx),
			OrgID:        s.orgID,
			ConversionID: conversion.ID,
		}
		if err := s.worker.SubmitTask(task); err != nil {
			s.baseLogger.Debug("Sweep submit rejected, will retry next interval",
				zap.String("conversion_id", conversion.ID),
				zap.Error(err))
			continue
		}
		requeued++
	}
	return requeued, nil
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *AttributionSweeper) Stop() {
	s.baseLogger.Info("Stopping pending-conversion sweeper...")
	close(s.stopCh)
	<-s.doneCh
	s.baseLogger.Info("Pending-conversion sweeper stopped")
}
