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

const trainingPoolName = "mmm_training"

// TrainingTaskData holds one model training task. Training is CPU-bound, so
// it never runs on a consumer goroutine.
type TrainingTaskData struct {
	Ctx     context.Context // Context derived for the task, NOT the original request context
	OrgID   string
	ModelID string
	Rows    []SpendRow
}

// ITrainingWorker defines the interface for the training worker pool.
type ITrainingWorker interface {
	SubmitTask(taskData TrainingTaskData) error
	Stop()
}

// TrainingWorker runs marketing mix model fits on a small bounded pool.
type TrainingWorker struct {
	pool       *ants.PoolWithFunc
	service    *MMMService
	cfg        config.WorkerPoolConfig
	baseLogger *zap.Logger
}

var _ ITrainingWorker = (*TrainingWorker)(nil)

// NewTrainingWorker creates and initializes the training worker pool.
func NewTrainingWorker(cfg config.WorkerPoolConfig, service *MMMService, baseLogger *zap.Logger) (*TrainingWorker, error) {
	worker := &TrainingWorker{
		service:    service,
		cfg:        cfg,
		baseLogger: baseLogger.Named("training_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(TrainingTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processTrainingTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in training worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create training worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Training worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask queues one model training run.
func (w *TrainingWorker) SubmitTask(taskData TrainingTaskData) error {
	start := time.Now()
	observer.IncPoolTaskSubmitted(trainingPoolName)
	observer.SetPoolQueueLength(trainingPoolName, w.pool.Waiting())

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit training task to pool",
			zap.String("model_id", taskData.ModelID),
			zap.String("org_id", taskData.OrgID),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncPoolTaskProcessed(trainingPoolName, taskData.OrgID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("training pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke training task: %w", err)
	}

	w.baseLogger.Debug("Submitted training task",
		zap.String("model_id", taskData.ModelID),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

func (w *TrainingWorker) processTrainingTask(taskData TrainingTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("task_model_id", taskData.ModelID),
		zap.String("task_org_id", taskData.OrgID),
	)

	start := time.Now()
	status := "success"
	observer.SetPoolWorkersActive(trainingPoolName, w.pool.Running())

	taskCtx := tenant.WithOrgID(taskData.Ctx, taskData.OrgID)
	if _, err := w.service.TrainModel(taskCtx, taskData.ModelID, taskData.Rows); err != nil {
		status = "error"
		log.Error("Training task failed", zap.Error(err))
	}

	observer.IncPoolTaskProcessed(trainingPoolName, taskData.OrgID, status)
	log.Debug("Training task finished",
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop gracefully shuts down the worker pool, waiting for queued tasks.
func (w *TrainingWorker) Stop() {
	w.baseLogger.Info("Stopping training worker pool...")
	w.pool.Release()
	w.baseLogger.Info("Training worker pool stopped")
}
