package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/mmm"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/storage"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/internal/validator"
	"github.com/marketfuse/attribution-engine/pkg/logger"
)

// SpendRow is one day of the historical/future spend table.
type SpendRow struct {
	Date   time.Time          `json:"date" validate:"required"`
	Spend  map[string]float64 `json:"spend" validate:"required"`
	Target float64            `json:"target,omitempty"`
}

// MMMService orchestrates marketing mix model training, prediction and
// budget optimization over the persisted model records.
type MMMService struct {
	mmmRepo   storage.MMMRepo
	trainer   *mmm.Trainer
	predictor *mmm.Predictor
	optimizer *mmm.Optimizer
}

// NewMMMService creates an MMM service.
func NewMMMService(mmmRepo storage.MMMRepo, cfg config.MMMConfig) *MMMService {
	return &MMMService{
		mmmRepo:   mmmRepo,
		trainer:   mmm.NewTrainer(cfg.Regularization),
		predictor: mmm.NewPredictor(),
		optimizer: mmm.NewOptimizer(mmm.OptimizerConfig{
			Steps:     cfg.OptimizerSteps,
			Tolerance: cfg.OptimizerTolerance,
		}),
	}
}

// CreateModel persists a new draft model definition.
func (s *MMMService) CreateModel(ctx context.Context, m *model.MarketingMixModel) error {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.OrgID = orgID
	m.Status = model.ModelStatusDraft
	if err := validator.Validate(m); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("%w: model requires at least one channel", apperrors.ErrValidation)
	}
	return s.mmmRepo.SaveModel(ctx, *m)
}

// TrainModel fits the referenced model against a historical spend/target
// table, persists the fitted coefficients and quality metrics, and advances
// the model status to trained. Retraining a deployed model is rejected; a
// fresh model record has to be created instead.
func (s *MMMService) TrainModel(ctx context.Context, modelID string, rows []SpendRow) (*mmm.TrainingResult, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}
	loggerCtx := logger.FromContext(ctx)
	startTime := time.Now()

	m, err := s.mmmRepo.FindModelByID(ctx, modelID)
	if err != nil {
		observer.ObserveMMMTraining(orgID, "error", time.Since(startTime))
		return nil, err
	}
	if !m.Status.CanTransitionTo(model.ModelStatusTrained) && m.Status != model.ModelStatusTrained {
		observer.ObserveMMMTraining(orgID, "rejected", time.Since(startTime))
		return nil, fmt.Errorf("%w: model %s in status %s cannot be retrained", apperrors.ErrConflict, modelID, m.Status)
	}

	frame, err := s.buildFrame(rows, m, true)
	if err != nil {
		observer.ObserveMMMTraining(orgID, "error", time.Since(startTime))
		return nil, err
	}

	result, err := s.trainer.Train(m, frame)
	if err != nil {
		observer.ObserveMMMTraining(orgID, "error", time.Since(startTime))
		return nil, err
	}

	trainedAt := time.Now().UTC()
	m.Coefficients = &result.Coefficients
	m.RSquared = &result.RSquared
	m.MAPE = &result.MAPE
	m.TrainedAt = &trainedAt
	m.Status = model.ModelStatusTrained
	if err := s.mmmRepo.UpdateModel(ctx, *m); err != nil {
		observer.ObserveMMMTraining(orgID, "error", time.Since(startTime))
		return nil, err
	}

	loggerCtx.Info("Marketing mix model trained",
		zap.String("model_id", modelID),
		zap.Float64("r_squared", result.RSquared),
		zap.Float64("mape", result.MAPE),
		zap.Int("rows", result.Rows),
		zap.Duration("duration", time.Since(startTime)))
	observer.ObserveMMMTraining(orgID, "success", time.Since(startTime))
	return result, nil
}

// AdvanceModelStatus moves a model one or more steps forward in its
// lifecycle (trained → validated → deployed). Backward moves are rejected.
func (s *MMMService) AdvanceModelStatus(ctx context.Context, modelID string, target model.ModelStatus) error {
	m, err := s.mmmRepo.FindModelByID(ctx, modelID)
	if err != nil {
		return err
	}
	if !m.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot move model %s from %s to %s", apperrors.ErrConflict, modelID, m.Status, target)
	}
	m.Status = target
	return s.mmmRepo.UpdateModel(ctx, *m)
}

// Predict applies a trained model to a future spend table and persists the
// forecast for the requested date range.
func (s *MMMService) Predict(ctx context.Context, modelID string, rows []SpendRow, start, end time.Time) (*mmm.PredictionResult, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}

	m, err := s.mmmRepo.FindModelByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	frame, err := s.buildFrame(rows, m, false)
	if err != nil {
		return nil, err
	}

	result, err := s.predictor.Predict(m, frame)
	if err != nil {
		return nil, err
	}

	prediction := model.MMMPrediction{
		ID:                 uuid.NewString(),
		OrgID:              orgID,
		ModelID:            modelID,
		StartDate:          start,
		EndDate:            end,
		PredictedTotal:     result.PredictedTotal,
		ChannelPredictions: result.ChannelPredictions,
	}
	if err := s.mmmRepo.SavePrediction(ctx, prediction); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Prediction generated",
		zap.String("model_id", modelID),
		zap.Float64("predicted_total", result.PredictedTotal))
	return result, nil
}

// OptimizeBudget searches a constrained reallocation of totalBudget across
// the model's channels, persists the outcome, and returns it alongside the
// ranked recommendations.
func (s *MMMService) OptimizeBudget(ctx context.Context, modelID string, totalBudget float64, currentSpend map[string]float64, constraints map[string]mmm.SpendConstraint) (*mmm.OptimizationResult, []model.ReallocationRecommendation, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}

	m, err := s.mmmRepo.FindModelByID(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.optimizer.Optimize(m, totalBudget, currentSpend, constraints)
	if err != nil {
		return nil, nil, err
	}
	recommendations := mmm.Recommendations(result)

	optimization := model.MMMBudgetOptimization{
		ID:                  uuid.NewString(),
		OrgID:               orgID,
		ModelID:             modelID,
		TotalBudget:         totalBudget,
		CurrentAllocation:   result.CurrentAllocation,
		OptimizedAllocation: result.OptimizedAllocation,
		ImprovementPct:      result.ImprovementPct,
		ImprovementAbsolute: result.ImprovementAbsolute,
	}
	if err := s.mmmRepo.SaveOptimization(ctx, optimization); err != nil {
		return nil, nil, err
	}

	logger.FromContext(ctx).Info("Budget optimization completed",
		zap.String("model_id", modelID),
		zap.Float64("total_budget", totalBudget),
		zap.Float64("improvement_pct", result.ImprovementPct))
	return result, recommendations, nil
}

// ListModels returns all models for the calling organization.
func (s *MMMService) ListModels(ctx context.Context) ([]model.MarketingMixModel, error) {
	return s.mmmRepo.FindModelsByOrgID(ctx)
}

// buildFrame assembles the dense training/prediction table from spend rows.
// Rows must be in date order; every model channel needs a spend series, and
// training additionally needs the target series.
func (s *MMMService) buildFrame(rows []SpendRow, m *model.MarketingMixModel, includeTarget bool) (*mmm.Frame, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: spend table is empty", apperrors.ErrValidation)
	}

	dates := make([]time.Time, len(rows))
	for i, row := range rows {
		dates[i] = row.Date
		if i > 0 && !row.Date.After(rows[i-1].Date) {
			return nil, fmt.Errorf("%w: spend table dates must be strictly increasing", apperrors.ErrValidation)
		}
	}
	frame := mmm.NewFrame(dates)

	for _, ch := range m.Channels {
		col := ch.SpendColumn()
		series := make([]float64, len(rows))
		for i, row := range rows {
			v, ok := row.Spend[col]
			if !ok {
				return nil, fmt.Errorf("%w: row %d missing spend for channel %s", apperrors.ErrValidation, i, col)
			}
			series[i] = v
		}
		if err := frame.AddColumn(col, series); err != nil {
			return nil, err
		}
	}

	if includeTarget {
		target := make([]float64, len(rows))
		for i, row := range rows {
			target[i] = row.Target
		}
		if err := frame.AddColumn(m.TargetVariable, target); err != nil {
			return nil, err
		}
	}
	return frame, nil
}
