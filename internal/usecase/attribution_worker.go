package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
)

const attributionPoolName = "attribution"

// AttributionTaskData holds one conversion attribution task.
type AttributionTaskData struct {
	Ctx          context.Context // Context derived for the task, NOT the original request context
	OrgID        string
	ConversionID string
}

// IAttributionWorker defines the interface for the attribution worker pool.
type IAttributionWorker interface {
	SubmitTask(taskData AttributionTaskData) error
	Stop()
}

// AttributionWorker runs conversion attributions off the consumer goroutines
// on a bounded pool.
type AttributionWorker struct {
	pool       *ants.PoolWithFunc
	engine     *AttributionEngine
	cfg        config.WorkerPoolConfig
	baseLogger *zap.Logger
}

var _ IAttributionWorker = (*AttributionWorker)(nil)

// NewAttributionWorker creates and initializes the attribution worker pool.
func NewAttributionWorker(cfg config.WorkerPoolConfig, engine *AttributionEngine, baseLogger *zap.Logger) (*AttributionWorker, error) {
	worker := &AttributionWorker{
		engine:     engine,
		cfg:        cfg,
		baseLogger: baseLogger.Named("attribution_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(AttributionTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processAttributionTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false), // Block submitters when the queue is full
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in attribution worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribution worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Attribution worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask queues one conversion for attribution.
func (w *AttributionWorker) SubmitTask(taskData AttributionTaskData) error {
	start := time.Now()
	observer.IncPoolTaskSubmitted(attributionPoolName)
	observer.SetPoolQueueLength(attributionPoolName, w.pool.Waiting())

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit attribution task to pool",
			zap.String("conversion_id", taskData.ConversionID),
			zap.String("org_id", taskData.OrgID),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncPoolTaskProcessed(attributionPoolName, taskData.OrgID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("attribution pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke attribution task: %w", err)
	}

	w.baseLogger.Debug("Submitted attribution task",
		zap.String("conversion_id", taskData.ConversionID),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

func (w *AttributionWorker) processAttributionTask(taskData AttributionTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("task_conversion_id", taskData.ConversionID),
		zap.String("task_org_id", taskData.OrgID),
	)

	start := time.Now()
	status := "success"
	observer.SetPoolWorkersActive(attributionPoolName, w.pool.Running())

	taskCtx := tenant.WithOrgID(taskData.Ctx, taskData.OrgID)
	if _, err := w.engine.ProcessConversion(taskCtx, taskData.ConversionID); err != nil {
		status = "error"
		log.Error("Attribution task failed", zap.Error(err))
	}

	observer.IncPoolTaskProcessed(attributionPoolName, taskData.OrgID, status)
	log.Debug("Attribution task finished",
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop gracefully shuts down the worker pool, waiting for queued tasks.
func (w *AttributionWorker) Stop() {
	w.baseLogger.Info("Stopping attribution worker pool...")
	w.pool.Release()
	w.baseLogger.Info("Attribution worker pool stopped")
}
