package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// TouchpointType classifies the marketing exposure behind a touchpoint
type TouchpointType string

const (
	TouchpointPaidSearch    TouchpointType = "paid_search"
	TouchpointPaidSocial    TouchpointType = "paid_social"
	TouchpointOrganicSearch TouchpointType = "organic_search"
	TouchpointOrganicSocial TouchpointType = "organic_social"
	TouchpointEmail         TouchpointType = "email"
	TouchpointDirect        TouchpointType = "direct"
	TouchpointReferral      TouchpointType = "referral"
	TouchpointAdClick       TouchpointType = "ad_click"
	TouchpointContentView   TouchpointType = "content_view"
)

// TouchpointStatus is the lifecycle flag of a touchpoint. Touchpoints are
// never deleted, only excluded.
type TouchpointStatus string

const (
	TouchpointStatusActive   TouchpointStatus = "active"
	TouchpointStatusExcluded TouchpointStatus = "excluded"
)

// Touchpoint represents a timestamped, channel-attributed marketing exposure
// for a customer.
type Touchpoint struct {
	ID                string           `json:"id" gorm:"primaryKey;type:text"`
	OrgID             string           `json:"org_id" gorm:"column:org_id;index" validate:"required"`
	CustomerID        string           `json:"customer_id" gorm:"column:customer_id;index" validate:"required"` // customer or anonymous ID
	EventID           string           `json:"event_id,omitempty" gorm:"column:event_id;uniqueIndex"`
	ConversionEventID *string          `json:"conversion_event_id,omitempty" gorm:"column:conversion_event_id;index"` // set when linked
	Type              TouchpointType   `json:"type" gorm:"type:text"`
	Channel           string           `json:"channel" gorm:"type:text;index"`
	Campaign          string           `json:"campaign,omitempty" gorm:"type:text"`
	Source            string           `json:"source,omitempty" gorm:"type:text"`
	Medium            string           `json:"medium,omitempty" gorm:"type:text"`
	Cost              *float64         `json:"cost,omitempty" gorm:"column:cost"`
	EngagementScore   float64          `json:"engagement_score,omitempty" gorm:"column:engagement_score"`
	PositionInJourney int              `json:"position_in_journey,omitempty" gorm:"column:position_in_journey"` // 1-based, set at link time
	TimeToConversion  *float64         `json:"time_to_conversion,omitempty" gorm:"column:time_to_conversion"`   // hours
	Status            TouchpointStatus `json:"status" gorm:"type:text;default:active"`
	OccurredAt        time.Time        `json:"occurred_at" gorm:"column:occurred_at;index"`
	CreatedAt         time.Time        `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt         time.Time        `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Touchpoint model, respecting the Namer.
func (Touchpoint) TableName(namer schema.Namer) string {
	return namer.TableName("touchpoints")
}

// IsLinked reports whether the touchpoint has been linked to a conversion.
func (t *Touchpoint) IsLinked() bool {
	return t.ConversionEventID != nil && *t.ConversionEventID != ""
}
