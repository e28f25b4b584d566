package mmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/model"
)

func twoChannelModel() *model.MarketingMixModel {
	return &model.MarketingMixModel{
		ID:             "mmm-1",
		OrgID:          "org-1",
		Name:           "test model",
		TargetVariable: "revenue",
		Status:         model.ModelStatusDraft,
		Config:         model.MMMModelConfig{Regularization: 0.01},
		Channels: []model.ChannelSpec{
			{
				Name:       "google_ads",
				Adstock:    model.AdstockParams{Decay: 0.3},
				Saturation: model.SaturationParams{Shape: model.SaturationHill, K: 1.0, HalfSpend: 500},
			},
			{
				Name:       "facebook_ads",
				Adstock:    model.AdstockParams{Decay: 0.2},
				Saturation: model.SaturationParams{Shape: model.SaturationHill, K: 1.0, HalfSpend: 300},
			},
		},
	}
}

// syntheticFrame builds a training table whose target is an exact linear
// function of the saturated spend features plus a baseline.
func syntheticFrame(t *testing.T, m *model.MarketingMixModel, days int, intercept, betaG, betaF float64) *Frame {
	t.Helper()
	dates := makeDates(days)

	gSpend := make([]float64, days)
	fSpend := make([]float64, days)
	for i := 0; i < days; i++ {
		gSpend[i] = 200 + 50*math.Sin(float64(i)/3)
		fSpend[i] = 150 + 40*math.Cos(float64(i)/5)
	}

	// Compute the saturated features on a scratch frame to build the target.
	scratch := NewFrame(dates)
	require.NoError(t, scratch.AddColumn("google_ads", gSpend))
	require.NoError(t, scratch.AddColumn("facebook_ads", fSpend))
	require.NoError(t, TransformFeatures(scratch, m.Channels))
	gSat, err := scratch.Column("google_ads_saturated")
	require.NoError(t, err)
	fSat, err := scratch.Column("facebook_ads_saturated")
	require.NoError(t, err)

	target := make([]float64, days)
	for i := 0; i < days; i++ {
		target[i] = intercept + betaG*gSat[i] + betaF*fSat[i]
	}

	frame := NewFrame(dates)
	require.NoError(t, frame.AddColumn("google_ads", gSpend))
	require.NoError(t, frame.AddColumn("facebook_ads", fSpend))
	require.NoError(t, frame.AddColumn("revenue", target))
	return frame
}

func TestTrainerRecoversLinearRelationship(t *testing.T) {
	m := twoChannelModel()
	frame := syntheticFrame(t, m, 90, 1000, 4000, 2500)

	trainer := NewTrainer(0.1)
	result, err := trainer.Train(m, frame)
	require.NoError(t, err)

	assert.Greater(t, result.RSquared, 0.95)
	assert.Less(t, result.MAPE, 0.1)
	assert.Equal(t, 90, result.Rows)

	gCoeff := result.Coefficients.Channels["google_ads"]
	fCoeff := result.Coefficients.Channels["facebook_ads"]
	assert.InDelta(t, 4000, gCoeff.Beta, 400)
	assert.InDelta(t, 2500, fCoeff.Beta, 400)
	assert.Positive(t, gCoeff.ROI)
}

func TestTrainerContributionsSumToOne(t *testing.T) {
	m := twoChannelModel()
	frame := syntheticFrame(t, m, 60, 500, 3000, 1500)

	trainer := NewTrainer(0.1)
	result, err := trainer.Train(m, frame)
	require.NoError(t, err)

	total := result.Coefficients.BaselineContributionPct
	for _, cc := range result.Coefficients.Channels {
		total += cc.ContributionPct
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestTrainerContributionsSumToOneWithSeasonalityAndTrend(t *testing.T) {
	m := twoChannelModel()
	m.Config.IncludeSeasonality = true
	m.Config.IncludeTrend = true
	frame := syntheticFrame(t, m, 120, 500, 3000, 1500)

	trainer := NewTrainer(0.1)
	result, err := trainer.Train(m, frame)
	require.NoError(t, err)

	require.NotNil(t, result.Coefficients.SeasonalityContributionPct)
	require.NotNil(t, result.Coefficients.TrendContributionPct)

	// Every term of the fit owns a bucket, so the decomposition is a full
	// partition of the predicted total.
	total := result.Coefficients.BaselineContributionPct +
		*result.Coefficients.SeasonalityContributionPct +
		*result.Coefficients.TrendContributionPct
	for _, cc := range result.Coefficients.Channels {
		total += cc.ContributionPct
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestTrainerDegenerateTargetStillFits(t *testing.T) {
	m := twoChannelModel()
	dates := makeDates(30)
	frame := NewFrame(dates)

	flat := make([]float64, 30)
	zero := make([]float64, 30)
	constant := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
		constant[i] = 500
	}
	require.NoError(t, frame.AddColumn("google_ads", flat))
	require.NoError(t, frame.AddColumn("facebook_ads", zero))
	require.NoError(t, frame.AddColumn("revenue", constant))

	trainer := NewTrainer(0.1)
	result, err := trainer.Train(m, frame)
	require.NoError(t, err)

	// Constant target: defined, low-quality fit rather than a crash.
	assert.False(t, math.IsNaN(result.RSquared))
	assert.False(t, math.IsNaN(result.MAPE))
	assert.False(t, math.IsNaN(result.Coefficients.Intercept))
}

func TestTrainerSeasonalityAndTrendFeatures(t *testing.T) {
	m := twoChannelModel()
	m.Config.IncludeSeasonality = true
	m.Config.IncludeTrend = true
	frame := syntheticFrame(t, m, 120, 800, 3500, 2000)

	trainer := NewTrainer(0.1)
	result, err := trainer.Train(m, frame)
	require.NoError(t, err)

	assert.NotNil(t, result.Coefficients.SeasonalityBeta)
	assert.NotNil(t, result.Coefficients.TrendBeta)
	assert.NotNil(t, result.Coefficients.SeasonalityContributionPct)
	assert.NotNil(t, result.Coefficients.TrendContributionPct)
}

func TestTrainerRejectsMissingTarget(t *testing.T) {
	m := twoChannelModel()
	frame := NewFrame(makeDates(30))
	require.NoError(t, frame.AddColumn("google_ads", make([]float64, 30)))
	require.NoError(t, frame.AddColumn("facebook_ads", make([]float64, 30)))

	trainer := NewTrainer(0.1)
	_, err := trainer.Train(m, frame)
	assert.Error(t, err)
}

func TestTrainerRejectsTooFewRows(t *testing.T) {
	m := twoChannelModel()
	frame := NewFrame(makeDates(2))
	require.NoError(t, frame.AddColumn("google_ads", []float64{1, 2}))
	require.NoError(t, frame.AddColumn("facebook_ads", []float64{1, 2}))
	require.NoError(t, frame.AddColumn("revenue", []float64{1, 2}))

	trainer := NewTrainer(0.1)
	_, err := trainer.Train(m, frame)
	assert.Error(t, err)
}

func TestRSquaredConstantTargetIsZero(t *testing.T) {
	actual := []float64{5, 5, 5}
	predicted := []float64{5, 5, 5}
	assert.Zero(t, rSquared(actual, predicted))
}

func TestMAPESkipsZeroActuals(t *testing.T) {
	actual := []float64{0, 100}
	predicted := []float64{50, 90}
	assert.InDelta(t, 0.1, mape(actual, predicted), 1e-9)
}
