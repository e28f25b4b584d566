package mmm

import (
	"fmt"
	"math"
	"sort"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
)

// SpendConstraint bounds one channel's allocation.
type SpendConstraint struct {
	MinSpend float64
	MaxSpend float64 // 0 means unbounded
}

// OptimizerConfig tunes the reallocation search.
type OptimizerConfig struct {
	Steps     int     // maximum hill-climb iterations
	Tolerance float64 // stop when the marginal-ROI spread drops below this
	Horizon   int     // planning horizon in days
}

// DefaultOptimizerConfig returns the standard search parameters.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{Steps: 1000, Tolerance: 1e-6, Horizon: 30}
}

// OptimizationResult is the outcome of one budget optimization run.
type OptimizationResult struct {
	CurrentAllocation   map[string]model.ChannelAllocation
	OptimizedAllocation map[string]model.ChannelAllocation
	ImprovementPct      float64
	ImprovementAbsolute float64
}

// Optimizer reallocates a fixed budget across a trained model's channels to
// maximize predicted return.
type Optimizer struct {
	cfg OptimizerConfig
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultOptimizerConfig().Steps
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultOptimizerConfig().Tolerance
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultOptimizerConfig().Horizon
	}
	return &Optimizer{cfg: cfg}
}

// Optimize searches an allocation of totalBudget across the model's channels
// maximizing predicted return, holding Σ spend = totalBudget and respecting
// per-channel box constraints. currentSpend seeds the search and anchors the
// improvement figures. The result allocation never underperforms the
// (projected) current one.
func (o *Optimizer) Optimize(m *model.MarketingMixModel, totalBudget float64, currentSpend map[string]float64, constraints map[string]SpendConstraint) (*OptimizationResult, error) {
	if !m.IsReadyForPrediction() {
		return nil, fmt.Errorf("%w: model %s status %s", apperrors.ErrModelNotReady, m.ID, m.Status)
	}
	if totalBudget <= 0 {
		return nil, fmt.Errorf("%w: total budget must be positive, got %f", apperrors.ErrValidation, totalBudget)
	}
	channels := m.ChannelNames()
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: model %s has no channels", apperrors.ErrValidation, m.ID)
	}

	mins := make(map[string]float64, len(channels))
	maxs := make(map[string]float64, len(channels))
	var minTotal float64
	for _, ch := range channels {
		c := constraints[ch]
		mins[ch] = math.Max(0, c.MinSpend)
		if c.MaxSpend > 0 {
			maxs[ch] = c.MaxSpend
		} else {
			maxs[ch] = totalBudget
		}
		if maxs[ch] < mins[ch] {
			return nil, fmt.Errorf("%w: channel %s max_spend %f below min_spend %f", apperrors.ErrValidation, ch, maxs[ch], mins[ch])
		}
		minTotal += mins[ch]
	}
	if minTotal > totalBudget {
		return nil, fmt.Errorf("%w: min_spend total %f exceeds budget %f", apperrors.ErrValidation, minTotal, totalBudget)
	}

	// Seed from current spend projected onto the constraint box, then scale
	// the slack so the allocation sums exactly to the budget.
	allocation := o.projectOntoConstraints(channels, currentSpend, mins, maxs, totalBudget)

	// Marginal-ROI equalizing hill-climb: repeatedly shift a small slice of
	// budget from the channel with the lowest marginal return to the one with
	// the highest, while the move is profitable and feasible.
	step := totalBudget / 100.0
	for iter := 0; iter < o.cfg.Steps; iter++ {
		bestCh, worstCh := "", ""
		bestROI, worstROI := math.Inf(-1), math.Inf(1)
		for _, ch := range channels {
			roi, err := o.marginalROI(m, ch, allocation[ch], step)
			if err != nil {
				return nil, err
			}
			if allocation[ch]+step <= maxs[ch] && roi > bestROI {
				bestROI, bestCh = roi, ch
			}
			if allocation[ch]-step >= mins[ch] && roi < worstROI {
				worstROI, worstCh = roi, ch
			}
		}
		if bestCh == "" || worstCh == "" || bestCh == worstCh {
			step /= 2
			if step < totalBudget*o.cfg.Tolerance {
				break
			}
			continue
		}
		if bestROI-worstROI <= o.cfg.Tolerance {
			step /= 2
			if step < totalBudget*o.cfg.Tolerance {
				break
			}
			continue
		}
		allocation[bestCh] += step
		allocation[worstCh] -= step
	}

	// Assemble result rows.
	current := make(map[string]model.ChannelAllocation, len(channels))
	optimized := make(map[string]model.ChannelAllocation, len(channels))
	var currentReturn, optimizedReturn float64
	for _, ch := range channels {
		curSpend := currentSpend[ch]
		curReturn, err := o.channelReturn(m, ch, curSpend)
		if err != nil {
			return nil, err
		}
		current[ch] = model.ChannelAllocation{Spend: curSpend, PredictedReturn: curReturn}
		currentReturn += curReturn

		optSpend := allocation[ch]
		optReturn, err := o.channelReturn(m, ch, optSpend)
		if err != nil {
			return nil, err
		}
		mroi, err := o.marginalROI(m, ch, optSpend, step+totalBudget*o.cfg.Tolerance)
		if err != nil {
			return nil, err
		}
		optimized[ch] = model.ChannelAllocation{Spend: optSpend, PredictedReturn: optReturn, MarginalROI: mroi}
		optimizedReturn += optReturn
	}

	result := &OptimizationResult{
		CurrentAllocation:   current,
		OptimizedAllocation: optimized,
		ImprovementAbsolute: optimizedReturn - currentReturn,
	}
	if currentReturn > 0 {
		result.ImprovementPct = (optimizedReturn - currentReturn) / currentReturn * 100
	}
	return result, nil
}

// Recommendations derives per-channel spend changes from an optimization
// result, ranked by absolute change magnitude (priority 1 = largest).
func Recommendations(result *OptimizationResult) []model.ReallocationRecommendation {
	recs := make([]model.ReallocationRecommendation, 0, len(result.OptimizedAllocation))
	for ch, opt := range result.OptimizedAllocation {
		cur := result.CurrentAllocation[ch]
		change := opt.Spend - cur.Spend
		changePct := 0.0
		if cur.Spend > 0 {
			changePct = change / cur.Spend * 100
		}
		recs = append(recs, model.ReallocationRecommendation{
			Channel:      ch,
			ChangeAmount: change,
			ChangePct:    changePct,
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		return math.Abs(recs[i].ChangeAmount) > math.Abs(recs[j].ChangeAmount)
	})
	for i := range recs {
		recs[i].Priority = i + 1
	}
	return recs
}

// projectOntoConstraints clamps the seed allocation into the box and scales
// the slack above each minimum so the total lands exactly on the budget.
func (o *Optimizer) projectOntoConstraints(channels []string, seed map[string]float64, mins, maxs map[string]float64, totalBudget float64) map[string]float64 {
	allocation := make(map[string]float64, len(channels))
	var total float64
	for _, ch := range channels {
		v := seed[ch]
		if v < mins[ch] {
			v = mins[ch]
		}
		if v > maxs[ch] {
			v = maxs[ch]
		}
		allocation[ch] = v
		total += v
	}

	// Redistribute the difference over the channels with slack, iterating
	// because clamping can reintroduce a residual.
	for i := 0; i < 16; i++ {
		diff := totalBudget - total
		if math.Abs(diff) < 1e-9 {
			break
		}
		var adjustable []string
		for _, ch := range channels {
			if diff > 0 && allocation[ch] < maxs[ch] {
				adjustable = append(adjustable, ch)
			}
			if diff < 0 && allocation[ch] > mins[ch] {
				adjustable = append(adjustable, ch)
			}
		}
		if len(adjustable) == 0 {
			break
		}
		share := diff / float64(len(adjustable))
		total = 0
		for _, ch := range channels {
			v := allocation[ch]
			for _, a := range adjustable {
				if a == ch {
					v += share
					break
				}
			}
			if v < mins[ch] {
				v = mins[ch]
			}
			if v > maxs[ch] {
				v = maxs[ch]
			}
			allocation[ch] = v
			total += v
		}
	}
	return allocation
}

// channelReturn evaluates the predicted return for spending `spend` on a
// channel over the planning horizon, spread evenly per day.
func (o *Optimizer) channelReturn(m *model.MarketingMixModel, channel string, spend float64) (float64, error) {
	if spend <= 0 {
		return 0, nil
	}
	daily := spend / float64(o.cfg.Horizon)
	return PredictChannelReturn(m, channel, daily, o.cfg.Horizon)
}

// marginalROI estimates the return gradient at a spend level by a forward
// finite difference of size delta.
func (o *Optimizer) marginalROI(m *model.MarketingMixModel, channel string, spend, delta float64) (float64, error) {
	if delta <= 0 {
		delta = 1
	}
	base, err := o.channelReturn(m, channel, spend)
	if err != nil {
		return 0, err
	}
	bumped, err := o.channelReturn(m, channel, spend+delta)
	if err != nil {
		return 0, err
	}
	return (bumped - base) / delta, nil
}
