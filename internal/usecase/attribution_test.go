package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/model"
	storagemock "github.com/marketfuse/attribution-engine/internal/storage/mock"
	"github.com/marketfuse/attribution-engine/internal/tenant"
)

func makeTouchpoints(n int, conversionAt time.Time, spacing time.Duration) []model.Touchpoint {
	touchpoints := make([]model.Touchpoint, n)
	for i := 0; i < n; i++ {
		touchpoints[i] = model.Touchpoint{
			ID:         string(rune('a' + i)),
			OccurredAt: conversionAt.Add(-time.Duration(n-i) * spacing),
		}
	}
	return touchpoints
}

func sumWeights(results []model.AttributionResult) float64 {
	var total float64
	for _, r := range results {
		total += r.Weight
	}
	return total
}

func TestComputeWeights_FirstTouch(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(3, conversionAt, time.Hour)

	results, err := ComputeWeights(model.AttributionFirstTouch, touchpoints, conversion, &model.AttributionModelConfig{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1.0, results[0].Weight)
	assert.Equal(t, 0.0, results[1].Weight)
	assert.Equal(t, 0.0, results[2].Weight)
	assert.Equal(t, 100.0, results[0].AttributedValue)
}

func TestComputeWeights_LastTouch(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(3, conversionAt, time.Hour)

	results, err := ComputeWeights(model.AttributionLastTouch, touchpoints, conversion, &model.AttributionModelConfig{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0.0, results[0].Weight)
	assert.Equal(t, 0.0, results[1].Weight)
	assert.Equal(t, 1.0, results[2].Weight)
}

func TestComputeWeights_Linear(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 120, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(4, conversionAt, time.Hour)

	results, err := ComputeWeights(model.AttributionLinear, touchpoints, conversion, &model.AttributionModelConfig{})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.InDelta(t, 0.25, r.Weight, 1e-9)
		assert.InDelta(t, 30.0, r.AttributedValue, 1e-9)
	}
}

func TestComputeWeights_TimeDecay(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	// Oldest touchpoint 14 days out, newest 1 day out.
	touchpoints := []model.Touchpoint{
		{ID: "old", OccurredAt: conversionAt.Add(-14 * 24 * time.Hour)},
		{ID: "mid", OccurredAt: conversionAt.Add(-7 * 24 * time.Hour)},
		{ID: "new", OccurredAt: conversionAt.Add(-1 * 24 * time.Hour)},
	}

	results, err := ComputeWeights(model.AttributionTimeDecay, touchpoints, conversion, &model.AttributionModelConfig{HalfLifeDays: 7})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.InDelta(t, 1.0, sumWeights(results), 1e-9)
	// Newer touchpoints always weigh more.
	assert.Greater(t, results[2].Weight, results[1].Weight)
	assert.Greater(t, results[1].Weight, results[0].Weight)
	// A 7-day half-life halves the weight per 7 days of age.
	assert.InDelta(t, results[1].Weight*2, results[0].Weight*4, 1e-9)
}

func TestComputeWeights_TimeDecay_DefaultHalfLife(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(2, conversionAt, 24*time.Hour)

	// Zero half-life in config falls back to the 7 day default rather than
	// dividing by zero.
	results, err := ComputeWeights(model.AttributionTimeDecay, touchpoints, conversion, &model.AttributionModelConfig{HalfLifeDays: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sumWeights(results), 1e-9)
	assert.Greater(t, results[1].Weight, results[0].Weight)
}

func TestComputeWeights_PositionBased(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	cfg := &model.AttributionModelConfig{FirstTouchWeight: 0.4, LastTouchWeight: 0.4}

	t.Run("five touchpoints", func(t *testing.T) {
		touchpoints := makeTouchpoints(5, conversionAt, time.Hour)
		results, err := ComputeWeights(model.AttributionPositionBased, touchpoints, conversion, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 0.4, results[0].Weight, 1e-9)
		assert.InDelta(t, 0.4, results[4].Weight, 1e-9)
		for i := 1; i < 4; i++ {
			assert.InDelta(t, 0.2/3.0, results[i].Weight, 1e-9)
		}
		assert.InDelta(t, 1.0, sumWeights(results), 1e-9)
	})

	t.Run("single touchpoint collapses to full weight", func(t *testing.T) {
		touchpoints := makeTouchpoints(1, conversionAt, time.Hour)
		results, err := ComputeWeights(model.AttributionPositionBased, touchpoints, conversion, cfg)
		require.NoError(t, err)
		assert.Equal(t, 1.0, results[0].Weight)
	})

	t.Run("two touchpoints normalize proportionally", func(t *testing.T) {
		touchpoints := makeTouchpoints(2, conversionAt, time.Hour)
		asymmetric := &model.AttributionModelConfig{FirstTouchWeight: 0.3, LastTouchWeight: 0.6}
		results, err := ComputeWeights(model.AttributionPositionBased, touchpoints, conversion, asymmetric)
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3.0, results[0].Weight, 1e-9)
		assert.InDelta(t, 2.0/3.0, results[1].Weight, 1e-9)
	})

	t.Run("zero config weights fall back to defaults", func(t *testing.T) {
		touchpoints := makeTouchpoints(3, conversionAt, time.Hour)
		results, err := ComputeWeights(model.AttributionPositionBased, touchpoints, conversion, &model.AttributionModelConfig{})
		require.NoError(t, err)
		assert.InDelta(t, 0.4, results[0].Weight, 1e-9)
		assert.InDelta(t, 0.2, results[1].Weight, 1e-9)
		assert.InDelta(t, 0.4, results[2].Weight, 1e-9)
	})

	t.Run("anchors summing past one renormalize instead of going negative", func(t *testing.T) {
		touchpoints := makeTouchpoints(3, conversionAt, time.Hour)
		oversized := &model.AttributionModelConfig{FirstTouchWeight: 0.7, LastTouchWeight: 0.7}
		results, err := ComputeWeights(model.AttributionPositionBased, touchpoints, conversion, oversized)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, results[0].Weight, 1e-9)
		assert.InDelta(t, 0.0, results[1].Weight, 1e-9)
		assert.InDelta(t, 0.5, results[2].Weight, 1e-9)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Weight, 0.0)
		}
		assert.InDelta(t, 1.0, sumWeights(results), 1e-9)
	})
}

func TestComputeWeights_WShaped(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	cfg := &model.AttributionModelConfig{}

	t.Run("five touchpoints anchor first middle last", func(t *testing.T) {
		touchpoints := makeTouchpoints(5, conversionAt, time.Hour)
		results, err := ComputeWeights(model.AttributionWShaped, touchpoints, conversion, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 0.3, results[0].Weight, 1e-9)
		assert.InDelta(t, 0.05, results[1].Weight, 1e-9)
		assert.InDelta(t, 0.3, results[2].Weight, 1e-9)
		assert.InDelta(t, 0.05, results[3].Weight, 1e-9)
		assert.InDelta(t, 0.3, results[4].Weight, 1e-9)
		assert.InDelta(t, 1.0, sumWeights(results), 1e-9)
	})

	t.Run("three or fewer touchpoints split evenly", func(t *testing.T) {
		touchpoints := makeTouchpoints(3, conversionAt, time.Hour)
		results, err := ComputeWeights(model.AttributionWShaped, touchpoints, conversion, cfg)
		require.NoError(t, err)
		for _, r := range results {
			assert.InDelta(t, 1.0/3.0, r.Weight, 1e-9)
		}
	})
}

func TestComputeWeights_EmptyInput(t *testing.T) {
	results, err := ComputeWeights(model.AttributionLinear, nil, &model.ConversionEvent{}, &model.AttributionModelConfig{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestComputeWeights_UnknownModel(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(2, conversionAt, time.Hour)

	_, err := ComputeWeights(model.AttributionModelType("markov_chain"), touchpoints, conversion, &model.AttributionModelConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttributionModel)
}

func TestComputeWeights_PositionMetadata(t *testing.T) {
	conversionAt := time.Now()
	conversion := &model.ConversionEvent{Value: 100, OccurredAt: conversionAt}
	touchpoints := makeTouchpoints(3, conversionAt, time.Hour)

	results, err := ComputeWeights(model.AttributionLinear, touchpoints, conversion, &model.AttributionModelConfig{})
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i+1, r.Position)
		assert.Equal(t, 3, r.TotalTouchpoints)
		assert.GreaterOrEqual(t, r.HoursToConversion, 0.0)
	}
}

func newTestEngine(touchpointRepo *storagemock.TouchpointRepoMock, conversionRepo *storagemock.ConversionRepoMock, attributionRepo *storagemock.AttributionRepoMock, configRepo *storagemock.ModelConfigRepoMock) *AttributionEngine {
	defaults := config.AttributionConfig{
		DefaultModel:       "linear",
		LookbackWindowDays: 30,
		HalfLifeDays:       7,
		FirstTouchWeight:   0.4,
		LastTouchWeight:    0.4,
	}
	return NewAttributionEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo, defaults)
}

func TestProcessConversion_NoTouchpoints(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	conversion := &model.ConversionEvent{ID: "conv-1", Value: 100, OccurredAt: time.Now()}
	conversionRepo.On("FindByID", mock.Anything, "conv-1").Return(conversion, nil)
	configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
	touchpointRepo.On("FindByConversionID", mock.Anything, "conv-1").Return([]model.Touchpoint{}, nil)
	conversionRepo.On("UpdateStatus", mock.Anything, "conv-1", model.ConversionStatusExcluded).Return(nil)

	attributions, err := engine.ProcessConversion(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, attributions)
	attributionRepo.AssertNotCalled(t, "CommitForConversion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conversionRepo.AssertExpectations(t)
}

func TestProcessConversion_HappyPath(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	now := time.Now()
	conversion := &model.ConversionEvent{ID: "conv-1", Value: 200, OccurredAt: now}
	touchpoints := makeTouchpoints(2, now, time.Hour)

	conversionRepo.On("FindByID", mock.Anything, "conv-1").Return(conversion, nil)
	configRepo.On("FindByOrgID", mock.Anything).Return(&model.AttributionModelConfig{ModelType: model.AttributionLinear}, nil)
	touchpointRepo.On("FindByConversionID", mock.Anything, "conv-1").Return(touchpoints, nil)
	attributionRepo.On("CommitForConversion", mock.Anything, "conv-1", model.AttributionLinear, mock.MatchedBy(func(attrs []model.Attribution) bool {
		if len(attrs) != 2 {
			return false
		}
		for _, a := range attrs {
			if a.OrgID != "org_test" || a.ConversionEventID != "conv-1" || a.Status != model.AttributionStatusCalculated {
				return false
			}
		}
		return attrs[0].Weight == 0.5 && attrs[0].AttributedValue == 100.0
	})).Return(int64(0), nil)

	attributions, err := engine.ProcessConversion(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, attributions, 2)
	attributionRepo.AssertExpectations(t)
	conversionRepo.AssertExpectations(t)
	// The status flip rides inside the commit, never as a separate call.
	conversionRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessConversion_CommitFailureLeavesConversionPending(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	now := time.Now()
	conversion := &model.ConversionEvent{ID: "conv-1", Value: 200, OccurredAt: now}
	touchpoints := makeTouchpoints(2, now, time.Hour)

	conversionRepo.On("FindByID", mock.Anything, "conv-1").Return(conversion, nil)
	configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
	touchpointRepo.On("FindByConversionID", mock.Anything, "conv-1").Return(touchpoints, nil)
	attributionRepo.On("CommitForConversion", mock.Anything, "conv-1", model.AttributionLinear, mock.Anything).
		Return(int64(0), apperrors.ErrDatabase)

	_, err := engine.ProcessConversion(ctx, "conv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	// No separate status write happens on failure; the conversion stays
	// pending for the sweeper to retry.
	conversionRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessConversion_MissingTenant(t *testing.T) {
	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	_, err := engine.ProcessConversion(context.Background(), "conv-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorizedError(err))
	conversionRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestProcessConversion_UnknownConfiguredModel(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	conversion := &model.ConversionEvent{ID: "conv-1", Value: 100, OccurredAt: time.Now()}
	conversionRepo.On("FindByID", mock.Anything, "conv-1").Return(conversion, nil)
	configRepo.On("FindByOrgID", mock.Anything).Return(&model.AttributionModelConfig{ModelType: "shapley"}, nil)

	_, err := engine.ProcessConversion(ctx, "conv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttributionModel)
}

func TestGetAttributionSummary_InvalidModel(t *testing.T) {
	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	attributionRepo := new(storagemock.AttributionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	engine := newTestEngine(touchpointRepo, conversionRepo, attributionRepo, configRepo)

	_, err := engine.GetAttributionSummary(context.Background(), "nonsense", time.Now().Add(-24*time.Hour), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttributionModel)
}

func TestComputeROI(t *testing.T) {
	assert.Nil(t, ComputeROI(100, nil))
	assert.Nil(t, ComputeROI(100, float64Ptr(0)))

	roi := ComputeROI(150, float64Ptr(50))
	require.NotNil(t, roi)
	assert.InDelta(t, 2.0, *roi, 1e-9)
}

func TestComputeROAS(t *testing.T) {
	assert.Nil(t, ComputeROAS(100, nil))
	assert.Nil(t, ComputeROAS(100, float64Ptr(0)))

	roas := ComputeROAS(150, float64Ptr(50))
	require.NotNil(t, roas)
	assert.InDelta(t, 3.0, *roas, 1e-9)
}
