package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ConversionType classifies a goal completion
type ConversionType string

const (
	ConversionPurchase     ConversionType = "purchase"
	ConversionSignup       ConversionType = "signup"
	ConversionLead         ConversionType = "lead"
	ConversionTrialStart   ConversionType = "trial_start"
	ConversionSubscription ConversionType = "subscription"
	ConversionDemoRequest  ConversionType = "demo_request"
)

// ConversionStatus tracks the attribution lifecycle of a conversion
type ConversionStatus string

const (
	ConversionStatusPending    ConversionStatus = "pending"
	ConversionStatusAttributed ConversionStatus = "attributed"
	ConversionStatusExcluded   ConversionStatus = "excluded"
)

// ConversionEvent is a recorded goal completion with monetary value.
type ConversionEvent struct {
	ID         string           `json:"id" gorm:"primaryKey;type:text"`
	OrgID      string           `json:"org_id" gorm:"column:org_id;index" validate:"required"`
	CustomerID string           `json:"customer_id" gorm:"column:customer_id;index" validate:"required"`
	EventID    string           `json:"event_id,omitempty" gorm:"column:event_id;uniqueIndex"`
	Type       ConversionType   `json:"type" gorm:"type:text" validate:"required"`
	Value      float64          `json:"value" gorm:"column:value"`
	Currency   string           `json:"currency,omitempty" gorm:"type:text;default:USD"`
	Status     ConversionStatus `json:"status" gorm:"type:text;default:pending"`
	OccurredAt time.Time        `json:"occurred_at" gorm:"column:occurred_at;index"`
	CreatedAt  time.Time        `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt  time.Time        `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ConversionEvent model, respecting the Namer.
func (ConversionEvent) TableName(namer schema.Namer) string {
	return namer.TableName("conversion_events")
}
