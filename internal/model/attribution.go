package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// AttributionModelType enumerates the supported weighting models
type AttributionModelType string

const (
	AttributionFirstTouch    AttributionModelType = "first_touch"
	AttributionLastTouch     AttributionModelType = "last_touch"
	AttributionLinear        AttributionModelType = "linear"
	AttributionTimeDecay     AttributionModelType = "time_decay"
	AttributionPositionBased AttributionModelType = "position_based"
	AttributionWShaped       AttributionModelType = "w_shaped"
)

// AllAttributionModelTypes lists every supported model type.
var AllAttributionModelTypes = []AttributionModelType{
	AttributionFirstTouch,
	AttributionLastTouch,
	AttributionLinear,
	AttributionTimeDecay,
	AttributionPositionBased,
	AttributionWShaped,
}

// IsValid reports whether the model type is one of the supported set.
func (m AttributionModelType) IsValid() bool {
	switch m {
	case AttributionFirstTouch, AttributionLastTouch, AttributionLinear,
		AttributionTimeDecay, AttributionPositionBased, AttributionWShaped:
		return true
	}
	return false
}

// AttributionStatus tracks whether an attribution row is current or superseded
type AttributionStatus string

const (
	AttributionStatusCalculated AttributionStatus = "calculated"
	AttributionStatusSuperseded AttributionStatus = "superseded"
)

// Attribution is a (model, touchpoint, conversion) weight/value assignment.
// Rows are superseded rather than edited in place when a conversion is
// recomputed, preserving audit history.
type Attribution struct {
	ID                string               `json:"id" gorm:"primaryKey;type:text"`
	OrgID             string               `json:"org_id" gorm:"column:org_id;index"`
	ConversionEventID string               `json:"conversion_event_id" gorm:"column:conversion_event_id;index" validate:"required"`
	TouchpointID      string               `json:"touchpoint_id" gorm:"column:touchpoint_id;index" validate:"required"`
	ModelType         AttributionModelType `json:"model_type" gorm:"type:text;index" validate:"required"`
	Weight            float64              `json:"weight" validate:"gte=0,lte=1"`
	AttributedValue   float64              `json:"attributed_value"`
	Status            AttributionStatus    `json:"status" gorm:"type:text;default:calculated"`
	CreatedAt         time.Time            `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the Attribution model, respecting the Namer.
func (Attribution) TableName(namer schema.Namer) string {
	return namer.TableName("attributions")
}

// AttributionModelConfig selects the attribution model and its parameters for
// one organization.
type AttributionModelConfig struct {
	ID                 string               `json:"id" gorm:"primaryKey;type:text"`
	OrgID              string               `json:"org_id" gorm:"column:org_id;uniqueIndex" validate:"required"`
	ModelType          AttributionModelType `json:"model_type" gorm:"type:text" validate:"required"`
	LookbackWindowDays int                  `json:"lookback_window_days" gorm:"column:lookback_window_days" validate:"gt=0"`
	HalfLifeDays       float64              `json:"half_life_days" gorm:"column:half_life_days" validate:"gt=0"` // time-decay
	FirstTouchWeight   float64              `json:"first_touch_weight" gorm:"column:first_touch_weight" validate:"gte=0,lte=1"`
	LastTouchWeight    float64              `json:"last_touch_weight" gorm:"column:last_touch_weight" validate:"gte=0,lte=1"`
	CreatedAt          time.Time            `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt          time.Time            `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the AttributionModelConfig model, respecting the Namer.
func (AttributionModelConfig) TableName(namer schema.Namer) string {
	return namer.TableName("attribution_model_configs")
}

// AttributionResult is the in-memory outcome of weighting one touchpoint. It
// is persisted as an Attribution row.
type AttributionResult struct {
	TouchpointID      string  `json:"touchpoint_id"`
	Weight            float64 `json:"weight"`
	AttributedValue   float64 `json:"attributed_value"`
	Position          int     `json:"position"` // 1-based
	TotalTouchpoints  int     `json:"total_touchpoints"`
	HoursToConversion float64 `json:"hours_to_conversion"`
}

// ChannelSummary aggregates attribution outcomes for one channel.
type ChannelSummary struct {
	TotalAttributed float64 `json:"total_attributed"`
	TouchpointCount int64   `json:"touchpoint_count"`
	AvgWeight       float64 `json:"avg_weight"`
}

// AttributionSummary is the reporting contract for one model type.
type AttributionSummary struct {
	ModelType        AttributionModelType      `json:"model_type"`
	Channels         map[string]ChannelSummary `json:"channels"`
	TotalAttributed  float64                   `json:"total_attributed"`
	TotalTouchpoints int64                     `json:"total_touchpoints"`
}
