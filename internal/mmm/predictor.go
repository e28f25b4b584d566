package mmm

import (
	"fmt"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
)

// PredictionResult is the outcome of applying a trained model to a future
// spend scenario.
type PredictionResult struct {
	PredictedTotal     float64
	ChannelPredictions map[string]float64
	Baseline           float64
}

// Predictor applies a trained model's coefficients to future spend.
type Predictor struct{}

// NewPredictor creates a Predictor.
func NewPredictor() *Predictor {
	return &Predictor{}
}

// Predict transforms the supplied spend frame with the model's stored
// adstock/saturation parameters and applies the fitted coefficients. The
// frame must carry one spend column per model channel.
func (p *Predictor) Predict(m *model.MarketingMixModel, frame *Frame) (*PredictionResult, error) {
	if !m.IsReadyForPrediction() {
		return nil, fmt.Errorf("%w: model %s status %s", apperrors.ErrModelNotReady, m.ID, m.Status)
	}

	if err := TransformFeatures(frame, m.Channels); err != nil {
		return nil, err
	}
	if m.Config.IncludeSeasonality {
		addSeasonality(frame)
	}
	if m.Config.IncludeTrend {
		addTrend(frame)
	}

	n := frame.Len()
	coeffs := m.Coefficients

	result := &PredictionResult{
		ChannelPredictions: make(map[string]float64, len(m.Channels)),
		Baseline:           coeffs.Intercept * float64(n),
	}
	result.PredictedTotal = result.Baseline

	for _, ch := range m.Channels {
		cc, ok := coeffs.Channels[ch.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no coefficient for channel %s", apperrors.ErrModelNotReady, ch.Name)
		}
		saturated, err := frame.Column(ch.Name + "_saturated")
		if err != nil {
			return nil, err
		}
		contribution := 0.0
		for _, v := range saturated {
			contribution += cc.Beta * v
		}
		result.ChannelPredictions[ch.Name] = contribution
		result.PredictedTotal += contribution
	}

	if m.Config.IncludeSeasonality && coeffs.SeasonalityBeta != nil {
		season, err := frame.Column(seasonalityCol)
		if err != nil {
			return nil, err
		}
		for _, v := range season {
			result.PredictedTotal += *coeffs.SeasonalityBeta * v
		}
	}
	if m.Config.IncludeTrend && coeffs.TrendBeta != nil {
		trend, err := frame.Column(trendCol)
		if err != nil {
			return nil, err
		}
		for _, v := range trend {
			result.PredictedTotal += *coeffs.TrendBeta * v
		}
	}

	return result, nil
}

// PredictChannelReturn evaluates one channel's predicted return for a flat
// daily spend level over horizon days. Steady-state adstock is assumed: a
// constant spend s carries over to s/(1-decay) once the series settles.
func PredictChannelReturn(m *model.MarketingMixModel, channel string, dailySpend float64, horizon int) (float64, error) {
	if !m.IsReadyForPrediction() {
		return 0, fmt.Errorf("%w: model %s status %s", apperrors.ErrModelNotReady, m.ID, m.Status)
	}
	spec, ok := m.ChannelSpecByName(channel)
	if !ok {
		return 0, fmt.Errorf("%w: channel %s", apperrors.ErrNotFound, channel)
	}
	cc, ok := m.Coefficients.Channels[channel]
	if !ok {
		return 0, fmt.Errorf("%w: no coefficient for channel %s", apperrors.ErrModelNotReady, channel)
	}

	adstocked := dailySpend
	if spec.Adstock.Decay > 0 && spec.Adstock.Decay < 1 {
		adstocked = dailySpend / (1 - spec.Adstock.Decay)
	}
	saturated, err := SaturatedResponse(adstocked, spec)
	if err != nil {
		return 0, err
	}
	return cc.Beta * saturated * float64(horizon), nil
}
