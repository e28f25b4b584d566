package mmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
)

const (
	seasonalityCol = "seasonality"
	trendCol       = "trend"

	// minimum rows for a meaningful fit: one per feature plus headroom
	minTrainingRows = 4
)

// TrainingResult is the outcome of one training run.
type TrainingResult struct {
	Coefficients model.Coefficients
	RSquared     float64
	MAPE         float64
	Rows         int
}

// Trainer fits a regularized linear model of an outcome metric on transformed
// channel spend.
type Trainer struct {
	defaultRegularization float64
}

// NewTrainer creates a Trainer. defaultRegularization is used when a model's
// config leaves Regularization at zero.
func NewTrainer(defaultRegularization float64) *Trainer {
	return &Trainer{defaultRegularization: defaultRegularization}
}

// Train fits the model's channels against the target column of the frame.
// The frame must hold one spend column per channel plus the target series.
// Degenerate data (constant target, zero-variance features) still returns a
// defined fit rather than an error.
func (tr *Trainer) Train(m *model.MarketingMixModel, frame *Frame) (*TrainingResult, error) {
	if len(m.Channels) == 0 {
		return nil, fmt.Errorf("%w: model %s has no channels", apperrors.ErrValidation, m.ID)
	}
	n := frame.Len()
	if n < minTrainingRows {
		return nil, fmt.Errorf("%w: %d rows of training data, need at least %d", apperrors.ErrValidation, n, minTrainingRows)
	}

	target, err := frame.Column(m.TargetVariable)
	if err != nil {
		return nil, fmt.Errorf("target column: %w", err)
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

	featureCols := make([]string, 0, len(m.Channels)+2)
	for _, ch := range m.Channels {
		featureCols = append(featureCols, ch.Name+"_saturated")
	}
	if m.Config.IncludeSeasonality {
		featureCols = append(featureCols, seasonalityCol)
	}
	if m.Config.IncludeTrend {
		featureCols = append(featureCols, trendCol)
	}

	lambda := m.Config.Regularization
	if lambda <= 0 {
		lambda = tr.defaultRegularization
	}

	betas, err := tr.ridgeFit(frame, featureCols, target, lambda)
	if err != nil {
		return nil, err
	}

	return tr.decompose(m, frame, featureCols, target, betas)
}

// ridgeFit solves (XᵀX + λI)β = Xᵀy via normal equations. The intercept
// column carries no penalty. On a singular system it retries with a heavier
// penalty before giving up with an intercept-only fallback.
func (tr *Trainer) ridgeFit(frame *Frame, featureCols []string, target []float64, lambda float64) ([]float64, error) {
	n := frame.Len()
	p := len(featureCols) + 1 // +1 intercept

	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1.0)
	}
	for j, col := range featureCols {
		values, err := frame.Column(col)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			x.Set(i, j+1, values[i])
		}
	}
	y := mat.NewVecDense(n, target)

	solve := func(penalty float64) ([]float64, error) {
		var xtx mat.Dense
		xtx.Mul(x.T(), x)
		for j := 1; j < p; j++ { // no penalty on the intercept
			xtx.Set(j, j, xtx.At(j, j)+penalty)
		}
		var xty mat.VecDense
		xty.MulVec(x.T(), y)

		var beta mat.VecDense
		if err := beta.SolveVec(&xtx, &xty); err != nil {
			return nil, err
		}
		out := make([]float64, p)
		for j := 0; j < p; j++ {
			out[j] = beta.AtVec(j)
		}
		return out, nil
	}

	betas, err := solve(lambda)
	if err == nil {
		return betas, nil
	}

	// Singular normal equations: zero-variance features or collinear spend
	// series. A heavier penalty usually conditions the system.
	betas, retryErr := solve(lambda + 1.0)
	if retryErr == nil {
		return betas, nil
	}

	// Intercept-only mean model as the defined degenerate fit.
	mean := 0.0
	for _, v := range target {
		mean += v
	}
	mean /= float64(len(target))
	fallback := make([]float64, p)
	fallback[0] = mean
	return fallback, nil
}

// decompose computes per-feature contribution shares, ROI per channel and the
// fit-quality metrics.
func (tr *Trainer) decompose(m *model.MarketingMixModel, frame *Frame, featureCols []string, target, betas []float64) (*TrainingResult, error) {
	n := frame.Len()

	features := make([][]float64, len(featureCols))
	for j, col := range featureCols {
		values, err := frame.Column(col)
		if err != nil {
			return nil, err
		}
		features[j] = values
	}

	predicted := make([]float64, n)
	sumPredicted := 0.0
	featureSums := make([]float64, len(featureCols))
	for i := 0; i < n; i++ {
		v := betas[0]
		for j := range featureCols {
			term := betas[j+1] * features[j][i]
			v += term
			featureSums[j] += term
		}
		predicted[i] = v
		sumPredicted += v
	}

	coeffs := model.Coefficients{
		Channels: make(map[string]model.ChannelCoefficient, len(m.Channels)),
	}
	coeffs.Intercept = betas[0]

	baselineSum := betas[0] * float64(n)
	if sumPredicted != 0 {
		coeffs.BaselineContributionPct = baselineSum / sumPredicted
	}

	for ci, ch := range m.Channels {
		beta := betas[ci+1]
		contribution := featureSums[ci]

		contributionPct := 0.0
		if sumPredicted != 0 {
			contributionPct = contribution / sumPredicted
		}

		spend, err := frame.Column(ch.SpendColumn())
		if err != nil {
			return nil, err
		}
		totalSpend := 0.0
		for _, s := range spend {
			totalSpend += s
		}
		roi := 0.0
		if totalSpend > 0 {
			roi = contribution / totalSpend
		}

		coeffs.Channels[ch.Name] = model.ChannelCoefficient{
			Beta:            beta,
			ROI:             roi,
			ContributionPct: contributionPct,
		}
	}

	// Seasonality and trend get contribution buckets of their own so the
	// decomposition stays a full partition of the predicted total.
	fi := len(m.Channels)
	if m.Config.IncludeSeasonality {
		b := betas[fi+1]
		coeffs.SeasonalityBeta = &b
		pct := 0.0
		if sumPredicted != 0 {
			pct = featureSums[fi] / sumPredicted
		}
		coeffs.SeasonalityContributionPct = &pct
		fi++
	}
	if m.Config.IncludeTrend {
		b := betas[fi+1]
		coeffs.TrendBeta = &b
		pct := 0.0
		if sumPredicted != 0 {
			pct = featureSums[fi] / sumPredicted
		}
		coeffs.TrendContributionPct = &pct
	}

	return &TrainingResult{
		Coefficients: coeffs,
		RSquared:     rSquared(target, predicted),
		MAPE:         mape(target, predicted),
		Rows:         n,
	}, nil
}

// addSeasonality appends a cyclical day-of-year feature in [-1, 1].
func addSeasonality(frame *Frame) {
	values := make([]float64, frame.Len())
	for i, d := range frame.Dates {
		dayOfYear := float64(d.YearDay())
		values[i] = math.Sin(2 * math.Pi * dayOfYear / 365.25)
	}
	frame.AddColumn(seasonalityCol, values) //nolint:errcheck // length matches by construction
}

// addTrend appends a linear day index.
func addTrend(frame *Frame) {
	values := make([]float64, frame.Len())
	for i := range values {
		values[i] = float64(i)
	}
	frame.AddColumn(trendCol, values) //nolint:errcheck // length matches by construction
}

// rSquared computes the coefficient of determination. A constant target
// (zero total variance) yields 0 rather than NaN.
func rSquared(actual, predicted []float64) float64 {
	mean := 0.0
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssTot, ssRes float64
	for i := range actual {
		ssTot += (actual[i] - mean) * (actual[i] - mean)
		ssRes += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// mape computes mean absolute percentage error, skipping zero actuals.
func mape(actual, predicted []float64) float64 {
	sum := 0.0
	count := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
