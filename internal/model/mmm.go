package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ModelStatus is the lifecycle state of a marketing mix model. Transitions
// are strictly forward: draft -> trained -> validated -> deployed.
type ModelStatus string

const (
	ModelStatusDraft     ModelStatus = "draft"
	ModelStatusTrained   ModelStatus = "trained"
	ModelStatusValidated ModelStatus = "validated"
	ModelStatusDeployed  ModelStatus = "deployed"
)

// rank orders statuses for the forward-only transition check
func (s ModelStatus) rank() int {
	switch s {
	case ModelStatusDraft:
		return 0
	case ModelStatusTrained:
		return 1
	case ModelStatusValidated:
		return 2
	case ModelStatusDeployed:
		return 3
	}
	return -1
}

// CanTransitionTo reports whether moving to next is a legal forward transition.
func (s ModelStatus) CanTransitionTo(next ModelStatus) bool {
	return next.rank() > s.rank() && s.rank() >= 0
}

// SaturationShape selects the diminishing-returns curve
type SaturationShape string

const (
	SaturationHill     SaturationShape = "hill"
	SaturationLogistic SaturationShape = "logistic"
	SaturationLinear   SaturationShape = "linear"
)

// AdstockParams configures the temporal carryover transform for one channel.
type AdstockParams struct {
	Decay     float64 `json:"decay" validate:"gte=0,lt=1"`
	PeakDelay int     `json:"peak_delay" validate:"gte=0"`
}

// SaturationParams configures the diminishing-returns transform for one channel.
type SaturationParams struct {
	Shape     SaturationShape `json:"shape" validate:"required,oneof=hill logistic linear"`
	K         float64         `json:"k" validate:"gt=0"`
	HalfSpend float64         `json:"half_spend" validate:"gt=0"` // spend producing 50% response
}

// ChannelSpec describes one spend driver of a marketing mix model.
type ChannelSpec struct {
	Name       string           `json:"name" validate:"required"`
	SpendCol   string           `json:"spend_col,omitempty"` // column in the training table; defaults to Name
	Adstock    AdstockParams    `json:"adstock"`
	Saturation SaturationParams `json:"saturation"`
}

// SpendColumn returns the training-table column holding this channel's spend.
func (c ChannelSpec) SpendColumn() string {
	if c.SpendCol != "" {
		return c.SpendCol
	}
	return c.Name
}

// MMMModelConfig holds training options for a marketing mix model.
type MMMModelConfig struct {
	IncludeSeasonality bool    `json:"include_seasonality"`
	IncludeTrend       bool    `json:"include_trend"`
	Regularization     float64 `json:"regularization" validate:"gte=0"`
}

// ChannelCoefficient is the fitted outcome for one channel.
type ChannelCoefficient struct {
	Beta            float64 `json:"beta"` // regression coefficient on the saturated feature
	ROI             float64 `json:"roi"`
	ContributionPct float64 `json:"contribution_pct"`
}

// Coefficients is the full fitted parameter set of a trained model. The
// baseline, channel, seasonality and trend contribution shares partition the
// predicted total, so together they sum to 1.
type Coefficients struct {
	Intercept                  float64                       `json:"intercept"`
	Channels                   map[string]ChannelCoefficient `json:"channels"`
	SeasonalityBeta            *float64                      `json:"seasonality_beta,omitempty"`
	TrendBeta                  *float64                      `json:"trend_beta,omitempty"`
	BaselineContributionPct    float64                       `json:"baseline_contribution_pct"`
	SeasonalityContributionPct *float64                      `json:"seasonality_contribution_pct,omitempty"`
	TrendContributionPct       *float64                      `json:"trend_contribution_pct,omitempty"`
}

// MarketingMixModel relates transformed channel spend to an outcome metric.
type MarketingMixModel struct {
	ID             string         `json:"id" gorm:"primaryKey;type:text"`
	OrgID          string         `json:"org_id" gorm:"column:org_id;index" validate:"required"`
	Name           string         `json:"name" gorm:"type:text" validate:"required"`
	TargetVariable string         `json:"target_variable" gorm:"column:target_variable" validate:"required"`
	TargetUnit     string         `json:"target_unit,omitempty" gorm:"column:target_unit"`
	Status         ModelStatus    `json:"status" gorm:"type:text;default:draft"`
	Config         MMMModelConfig `json:"config" gorm:"type:jsonb;serializer:json"`
	Channels       []ChannelSpec  `json:"channels" gorm:"type:jsonb;serializer:json"`
	Coefficients   *Coefficients  `json:"coefficients,omitempty" gorm:"type:jsonb;serializer:json"`
	RSquared       *float64       `json:"r_squared,omitempty" gorm:"column:r_squared"`
	MAPE           *float64       `json:"mape,omitempty" gorm:"column:mape"`
	TrainedAt      *time.Time     `json:"trained_at,omitempty" gorm:"column:trained_at"`
	CreatedAt      time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the MarketingMixModel model, respecting the Namer.
func (MarketingMixModel) TableName(namer schema.Namer) string {
	return namer.TableName("marketing_mix_models")
}

// IsReadyForPrediction reports whether the model carries usable coefficients.
func (m *MarketingMixModel) IsReadyForPrediction() bool {
	switch m.Status {
	case ModelStatusTrained, ModelStatusValidated, ModelStatusDeployed:
		return m.Coefficients != nil
	}
	return false
}

// ChannelNames returns the ordered channel names of the model.
func (m *MarketingMixModel) ChannelNames() []string {
	names := make([]string, 0, len(m.Channels))
	for _, ch := range m.Channels {
		names = append(names, ch.Name)
	}
	return names
}

// ChannelSpecByName returns the spec for a channel, if present.
func (m *MarketingMixModel) ChannelSpecByName(name string) (ChannelSpec, bool) {
	for _, ch := range m.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelSpec{}, false
}

// MMMPrediction is a persisted forecast for a spend scenario.
type MMMPrediction struct {
	ID                 string             `json:"id" gorm:"primaryKey;type:text"`
	OrgID              string             `json:"org_id" gorm:"column:org_id;index"`
	ModelID            string             `json:"model_id" gorm:"column:model_id;index" validate:"required"`
	StartDate          time.Time          `json:"start_date" gorm:"column:start_date"`
	EndDate            time.Time          `json:"end_date" gorm:"column:end_date"`
	PredictedTotal     float64            `json:"predicted_total" gorm:"column:predicted_total"`
	ChannelPredictions map[string]float64 `json:"channel_predictions" gorm:"type:jsonb;serializer:json"`
	CreatedAt          time.Time          `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the MMMPrediction model, respecting the Namer.
func (MMMPrediction) TableName(namer schema.Namer) string {
	return namer.TableName("mmm_predictions")
}

// ChannelAllocation is one channel's share of a budget scenario.
type ChannelAllocation struct {
	Spend           float64 `json:"spend"`
	PredictedReturn float64 `json:"predicted_return"`
	MarginalROI     float64 `json:"marginal_roi,omitempty"`
}

// MMMBudgetOptimization is a persisted budget reallocation result.
type MMMBudgetOptimization struct {
	ID                  string                       `json:"id" gorm:"primaryKey;type:text"`
	OrgID               string                       `json:"org_id" gorm:"column:org_id;index"`
	ModelID             string                       `json:"model_id" gorm:"column:model_id;index" validate:"required"`
	TotalBudget         float64                      `json:"total_budget" gorm:"column:total_budget"`
	CurrentAllocation   map[string]ChannelAllocation `json:"current_allocation" gorm:"type:jsonb;serializer:json"`
	OptimizedAllocation map[string]ChannelAllocation `json:"optimized_allocation" gorm:"type:jsonb;serializer:json"`
	ImprovementPct      float64                      `json:"improvement_pct" gorm:"column:improvement_pct"`
	ImprovementAbsolute float64                      `json:"improvement_absolute" gorm:"column:improvement_absolute"`
	CreatedAt           time.Time                    `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the MMMBudgetOptimization model, respecting the Namer.
func (MMMBudgetOptimization) TableName(namer schema.Namer) string {
	return namer.TableName("mmm_budget_optimizations")
}

// ReallocationRecommendation describes the spend change for one channel,
// ranked by absolute change magnitude.
type ReallocationRecommendation struct {
	Channel      string  `json:"channel"`
	ChangeAmount float64 `json:"change_amount"`
	ChangePct    float64 `json:"change_pct"`
	Priority     int     `json:"priority"` // 1 = largest absolute change
}
