package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/storage"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

const (
	hoursPerDay         = 24.0
	defaultHalfLifeDays = 7.0
)

// AttributionEngine computes per-touchpoint weights for conversions under the
// configured attribution model and persists the results.
type AttributionEngine struct {
	touchpointRepo  storage.TouchpointRepo
	conversionRepo  storage.ConversionRepo
	attributionRepo storage.AttributionRepo
	configRepo      storage.ModelConfigRepo

	defaults config.AttributionConfig
}

// NewAttributionEngine creates an attribution engine.
func NewAttributionEngine(touchpointRepo storage.TouchpointRepo, conversionRepo storage.ConversionRepo, attributionRepo storage.AttributionRepo, configRepo storage.ModelConfigRepo, defaults config.AttributionConfig) *AttributionEngine {
	return &AttributionEngine{
		touchpointRepo:  touchpointRepo,
		conversionRepo:  conversionRepo,
		attributionRepo: attributionRepo,
		configRepo:      configRepo,
		defaults:        defaults,
	}
}

// ComputeWeights runs one attribution model over an ordered touchpoint
// sequence (earliest first) and a conversion. Every returned weight is in
// [0,1] and the weights sum to 1 for non-empty input; empty input yields an
// empty result without error. An unknown model type fails fast.
func ComputeWeights(modelType model.AttributionModelType, touchpoints []model.Touchpoint, conversion *model.ConversionEvent, cfg *model.AttributionModelConfig) ([]model.AttributionResult, error) {
	n := len(touchpoints)
	if n == 0 {
		return []model.AttributionResult{}, nil
	}

	var weights []float64
	switch modelType {
	case model.AttributionFirstTouch:
		weights = singleAnchorWeights(n, 0)
	case model.AttributionLastTouch:
		weights = singleAnchorWeights(n, n-1)
	case model.AttributionLinear:
		weights = linearWeights(n)
	case model.AttributionTimeDecay:
		halfLife := cfg.HalfLifeDays
		if halfLife <= 0 {
			halfLife = defaultHalfLifeDays
		}
		weights = timeDecayWeights(touchpoints, conversion.OccurredAt, halfLife)
	case model.AttributionPositionBased:
		first, last := cfg.FirstTouchWeight, cfg.LastTouchWeight
		if first <= 0 {
			first = 0.4
		}
		if last <= 0 {
			last = 0.4
		}
		weights = positionBasedWeights(n, first, last)
	case model.AttributionWShaped:
		weights = wShapedWeights(n)
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownAttributionModel, modelType)
	}

	results := make([]model.AttributionResult, n)
	for i, tp := range touchpoints {
		results[i] = model.AttributionResult{
			TouchpointID:      tp.ID,
			Weight:            weights[i],
			AttributedValue:   weights[i] * conversion.Value,
			Position:          i + 1,
			TotalTouchpoints:  n,
			HoursToConversion: utils.HoursBetween(tp.OccurredAt, conversion.OccurredAt),
		}
	}
	return results, nil
}

// singleAnchorWeights puts the full weight on one index.
func singleAnchorWeights(n, anchor int) []float64 {
	weights := make([]float64, n)
	weights[anchor] = 1.0
	return weights
}

func linearWeights(n int) []float64 {
	weights := make([]float64, n)
	w := 1.0 / float64(n)
	for i := range weights {
		weights[i] = w
	}
	return weights
}

// timeDecayWeights gives each touchpoint weight proportional to
// 2^(-age/halfLife) where age is the time from touchpoint to conversion in
// days, then normalizes. More recent touchpoints always weigh at least as
// much as older ones.
func timeDecayWeights(touchpoints []model.Touchpoint, conversionAt time.Time, halfLifeDays float64) []float64 {
	weights := make([]float64, len(touchpoints))
	var total float64
	for i, tp := range touchpoints {
		ageDays := utils.HoursBetween(tp.OccurredAt, conversionAt) / hoursPerDay
		if ageDays < 0 {
			ageDays = 0
		}
		weights[i] = math.Exp2(-ageDays / halfLifeDays)
		total += weights[i]
	}
	if total == 0 {
		return linearWeights(len(touchpoints))
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// positionBasedWeights implements the U-shaped model: fixed weights on the
// first and last touchpoints, the middle splitting the remainder equally.
// One touchpoint collapses to 1.0; two normalize the first/last weights
// proportionally. A stored pair summing past 1 is renormalized the same way
// so no middle weight ever goes negative.
func positionBasedWeights(n int, first, last float64) []float64 {
	switch n {
	case 1:
		return []float64{1.0}
	case 2:
		total := first + last
		return []float64{first / total, last / total}
	}
	weights := make([]float64, n)
	if total := first + last; total >= 1 {
		weights[0] = first / total
		weights[n-1] = last / total
		return weights
	}
	weights[0] = first
	weights[n-1] = last
	middle := (1 - first - last) / float64(n-2)
	for i := 1; i < n-1; i++ {
		weights[i] = middle
	}
	return weights
}

// wShapedWeights anchors the first, middle (opportunity-creation proxy) and
// last touchpoints at 0.3 each, splitting the remaining 0.1 across the
// non-anchor touchpoints. Journeys too short to carry three distinct anchors
// fall back to an even split.
func wShapedWeights(n int) []float64 {
	if n <= 3 {
		return linearWeights(n)
	}
	const anchor = 0.3
	weights := make([]float64, n)
	mid := n / 2
	weights[0] = anchor
	weights[mid] = anchor
	weights[n-1] = anchor

	remainder := 1.0 - 3*anchor
	fillers := n - 3
	share := remainder / float64(fillers)
	for i := 1; i < n-1; i++ {
		if i == mid {
			continue
		}
		weights[i] = share
	}
	return weights
}

// ProcessConversion loads a conversion's linked touchpoints and computes
// attribution under the organization's configured model. A conversion with
// zero linked touchpoints is marked excluded and produces no rows. Existing
// rows for the same conversion/model pair are superseded, so recomputation is
// idempotent.
func (e *AttributionEngine) ProcessConversion(ctx context.Context, conversionID string) ([]model.Attribution, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}
	loggerCtx := logger.FromContext(ctx)
	startTime := time.Now()

	conversion, err := e.conversionRepo.FindByID(ctx, conversionID)
	if err != nil {
		return nil, err
	}

	modelType, modelCfg := e.resolveModelConfig(ctx)
	if !modelType.IsValid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownAttributionModel, modelType)
	}

	touchpoints, err := e.touchpointRepo.FindByConversionID(ctx, conversionID)
	if err != nil {
		return nil, err
	}
	if len(touchpoints) == 0 {
		if err := e.conversionRepo.UpdateStatus(ctx, conversionID, model.ConversionStatusExcluded); err != nil {
			return nil, err
		}
		loggerCtx.Info("Conversion excluded: no linked touchpoints",
			zap.String("conversion_id", conversionID))
		observer.ObserveAttributionComputation(orgID, string(modelType), time.Since(startTime))
		return []model.Attribution{}, nil
	}

	results, err := ComputeWeights(modelType, touchpoints, conversion, modelCfg)
	if err != nil {
		return nil, err
	}

	attributions := make([]model.Attribution, len(results))
	for i, r := range results {
		attributions[i] = model.Attribution{
			ID:                uuid.NewString(),
			OrgID:             orgID,
			ConversionEventID: conversionID,
			TouchpointID:      r.TouchpointID,
			ModelType:         modelType,
			Weight:            r.Weight,
			AttributedValue:   r.AttributedValue,
			Status:            model.AttributionStatusCalculated,
		}
	}

	// Supersede, insert and the status flip commit atomically: a failure
	// leaves the previous rows current and the conversion pending, so the
	// sweep can retry it.
	superseded, err := e.attributionRepo.CommitForConversion(ctx, conversionID, modelType, attributions)
	if err != nil {
		return nil, err
	}

	loggerCtx.Info("Conversion attributed",
		zap.String("conversion_id", conversionID),
		zap.String("model_type", string(modelType)),
		zap.Int("touchpoints", len(touchpoints)),
		zap.Int64("superseded", superseded),
		zap.Duration("duration", time.Since(startTime)))
	observer.ObserveAttributionComputation(orgID, string(modelType), time.Since(startTime))
	return attributions, nil
}

// resolveModelConfig loads the organization's attribution config, falling
// back to service defaults when none is stored.
func (e *AttributionEngine) resolveModelConfig(ctx context.Context) (model.AttributionModelType, *model.AttributionModelConfig) {
	if cfg, err := e.configRepo.FindByOrgID(ctx); err == nil {
		return cfg.ModelType, cfg
	}
	fallback := &model.AttributionModelConfig{
		ModelType:          model.AttributionModelType(e.defaults.DefaultModel),
		LookbackWindowDays: e.defaults.LookbackWindowDays,
		HalfLifeDays:       e.defaults.HalfLifeDays,
		FirstTouchWeight:   e.defaults.FirstTouchWeight,
		LastTouchWeight:    e.defaults.LastTouchWeight,
	}
	return fallback.ModelType, fallback
}

// GetAttributionSummary aggregates attributed value by channel for one model
// type over a reporting window.
func (e *AttributionEngine) GetAttributionSummary(ctx context.Context, modelType model.AttributionModelType, from, to time.Time) (*model.AttributionSummary, error) {
	if !modelType.IsValid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownAttributionModel, modelType)
	}
	return e.attributionRepo.SummarizeByChannel(ctx, modelType, from, to)
}

// ComputeROI returns (attributed - cost) / cost, or nil when cost is zero or
// unknown.
func ComputeROI(attributedValue float64, cost *float64) *float64 {
	if cost == nil || *cost == 0 {
		return nil
	}
	roi := (attributedValue - *cost) / *cost
	return &roi
}

// ComputeROAS returns attributed / cost, or nil when cost is zero or unknown.
func ComputeROAS(attributedValue float64, cost *float64) *float64 {
	if cost == nil || *cost == 0 {
		return nil
	}
	roas := attributedValue / *cost
	return &roas
}
