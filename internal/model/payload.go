package model

import (
	"encoding/json"
	"time"
)

// --- Behavioral event NATS payloads --- //

// CampaignContext carries UTM parameters captured with an event.
type CampaignContext struct {
	UTMSource   string `json:"utm_source,omitempty" validate:"omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty" validate:"omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty" validate:"omitempty"`
}

// PageContext carries page information captured with an event.
type PageContext struct {
	URL      string `json:"url,omitempty" validate:"omitempty"`
	Referrer string `json:"referrer,omitempty" validate:"omitempty"`
}

// EventContext groups the contextual blocks of an event.
type EventContext struct {
	Campaign *CampaignContext `json:"campaign,omitempty" validate:"omitempty"`
	Page     *PageContext     `json:"page,omitempty" validate:"omitempty"`
}

// EventProperties carries the free-form properties of an event. Monetary and
// engagement fields are pointers so absence can be told apart from zero.
type EventProperties struct {
	Value       *float64 `json:"value,omitempty" validate:"omitempty,gte=0"`
	Currency    string   `json:"currency,omitempty" validate:"omitempty,len=3"`
	Cost        *float64 `json:"cost,omitempty" validate:"omitempty,gte=0"`
	TimeOnPage  *float64 `json:"time_on_page,omitempty" validate:"omitempty,gte=0"` // seconds
	PagesViewed *int     `json:"pages_viewed,omitempty" validate:"omitempty,gte=0"`
	ScrollDepth *float64 `json:"scroll_depth,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// TrackEventPayload is the ingestion contract for one behavioral event.
// Either CustomerID or AnonymousID must be set.
type TrackEventPayload struct {
	EventID     string          `json:"event_id,omitempty" validate:"required"`
	OrgID       string          `json:"org_id,omitempty" validate:"required"`
	EventType   string          `json:"event_type,omitempty" validate:"required"`
	EventName   string          `json:"event_name,omitempty" validate:"omitempty"`
	Properties  EventProperties `json:"properties,omitempty" validate:"omitempty"`
	Context     EventContext    `json:"context,omitempty" validate:"omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty" validate:"required,gt=0"`
	CustomerID  string          `json:"customer_id,omitempty" validate:"required_without=AnonymousID"`
	AnonymousID string          `json:"anonymous_id,omitempty" validate:"required_without=CustomerID"`
}

// SubjectID returns the customer ID when known, else the anonymous ID.
func (p *TrackEventPayload) SubjectID() string {
	if p.CustomerID != "" {
		return p.CustomerID
	}
	return p.AnonymousID
}

// IdentifyPayload links an anonymous journey to an identified customer.
type IdentifyPayload struct {
	OrgID       string `json:"org_id,omitempty" validate:"required"`
	AnonymousID string `json:"anonymous_id,omitempty" validate:"required"`
	CustomerID  string `json:"customer_id,omitempty" validate:"required"`
	Timestamp   int64  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// DLQPayload represents the structure of messages sent to the Dead Letter Queue.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`          // The original subject the message was published to
	Org             string          `json:"org"`                     // The organization ID associated with the message
	OriginalPayload json.RawMessage `json:"original_payload"`        // The raw JSON payload of the original message
	Error           string          `json:"error"`                   // The full error message encountered during processing
	ErrorType       string          `json:"error_type"`              // Type of error ('fatal', 'retryable', 'unknown')
	RetryCount      uint64          `json:"retry_count"`             // How many times delivery was attempted (NumDelivered from NATS metadata)
	MaxRetry        int             `json:"max_retry"`               // The configured maximum delivery attempts for the consumer
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"` // Timestamp for the next scheduled retry attempt (set by DLQ worker)
	Timestamp       time.Time       `json:"ts"`                      // Timestamp when the message was sent to the DLQ
}

// MMMSpendRowPayload is one daily observation in a training command.
type MMMSpendRowPayload struct {
	Date   string             `json:"date" validate:"required,datetime=2006-01-02"`
	Spend  map[string]float64 `json:"spend" validate:"required"`
	Target float64            `json:"target" validate:"gte=0"`
}

// MMMTrainPayload is the command contract that triggers a model training run.
type MMMTrainPayload struct {
	OrgID   string               `json:"org_id,omitempty" validate:"required"`
	ModelID string               `json:"model_id" validate:"required"`
	Rows    []MMMSpendRowPayload `json:"rows" validate:"required,min=1,dive"`
}

// AttributionConfigPayload is the command contract that sets an
// organization's attribution model and parameters. Zero-valued optional
// fields keep their server-side defaults.
type AttributionConfigPayload struct {
	OrgID              string  `json:"org_id,omitempty" validate:"required"`
	ModelType          string  `json:"model_type" validate:"required"`
	LookbackWindowDays int     `json:"lookback_window_days,omitempty" validate:"omitempty,gt=0"`
	HalfLifeDays       float64 `json:"half_life_days,omitempty" validate:"omitempty,gt=0"`
	FirstTouchWeight   float64 `json:"first_touch_weight,omitempty" validate:"gte=0,lte=1"`
	LastTouchWeight    float64 `json:"last_touch_weight,omitempty" validate:"gte=0,lte=1"`
}

// HistoricalEventsPayload is the backfill contract: a batch of events.
type HistoricalEventsPayload struct {
	Events      []TrackEventPayload `json:"events" validate:"required,dive,required"`
	IsLastBatch bool                `json:"is_last_batch,omitempty"`
}
