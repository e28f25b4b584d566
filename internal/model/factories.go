package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// randomChannel picks a plausible channel name for fake data.
func randomChannel() string {
	return gofakeit.RandomString([]string{
		"google_ads", "facebook_ads", "organic_search", "email", "direct", "referral",
	})
}

// NewTouchpoint creates a Touchpoint with default fake data.
func NewTouchpoint(overrideDefaults ...*Touchpoint) *Touchpoint {
	cost := gofakeit.Float64Range(0.5, 25)
	base := &Touchpoint{
		ID:              uuid.NewString(),
		OrgID:           "org_" + gofakeit.LetterN(10),
		CustomerID:      gofakeit.UUID(),
		EventID:         gofakeit.UUID(),
		Type:            TouchpointType(gofakeit.RandomString([]string{string(TouchpointPaidSearch), string(TouchpointPaidSocial), string(TouchpointOrganicSearch), string(TouchpointEmail), string(TouchpointDirect), string(TouchpointReferral)})),
		Channel:         randomChannel(),
		Campaign:        gofakeit.Word(),
		Source:          gofakeit.DomainName(),
		Medium:          gofakeit.RandomString([]string{"cpc", "organic", "email", "referral"}),
		Cost:            &cost,
		EngagementScore: gofakeit.Float64Range(0, 1),
		Status:          TouchpointStatusActive,
		OccurredAt:      utils.Now().Add(-time.Duration(gofakeit.Number(1, 720)) * time.Hour),
		CreatedAt:       utils.Now(),
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OrgID != "" {
			base.OrgID = ovr.OrgID
		}
		if ovr.CustomerID != "" {
			base.CustomerID = ovr.CustomerID
		}
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.ConversionEventID != nil {
			base.ConversionEventID = ovr.ConversionEventID
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		if ovr.Campaign != "" {
			base.Campaign = ovr.Campaign
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.Medium != "" {
			base.Medium = ovr.Medium
		}
		if ovr.Cost != nil {
			base.Cost = ovr.Cost
		}
		if ovr.EngagementScore != 0 {
			base.EngagementScore = ovr.EngagementScore
		}
		if ovr.PositionInJourney != 0 {
			base.PositionInJourney = ovr.PositionInJourney
		}
		if ovr.TimeToConversion != nil {
			base.TimeToConversion = ovr.TimeToConversion
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.OccurredAt.IsZero() {
			base.OccurredAt = ovr.OccurredAt
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewConversionEvent creates a ConversionEvent with default fake data.
func NewConversionEvent(overrideDefaults ...*ConversionEvent) *ConversionEvent {
	base := &ConversionEvent{
		ID:         uuid.NewString(),
		OrgID:      "org_" + gofakeit.LetterN(10),
		CustomerID: gofakeit.UUID(),
		EventID:    gofakeit.UUID(),
		Type:       ConversionType(gofakeit.RandomString([]string{string(ConversionPurchase), string(ConversionSignup), string(ConversionLead)})),
		Value:      gofakeit.Float64Range(10, 500),
		Currency:   "USD",
		Status:     ConversionStatusPending,
		OccurredAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 48)) * time.Hour),
		CreatedAt:  utils.Now(),
		UpdatedAt:  utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OrgID != "" {
			base.OrgID = ovr.OrgID
		}
		if ovr.CustomerID != "" {
			base.CustomerID = ovr.CustomerID
		}
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Value != 0 {
			base.Value = ovr.Value
		}
		if ovr.Currency != "" {
			base.Currency = ovr.Currency
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.OccurredAt.IsZero() {
			base.OccurredAt = ovr.OccurredAt
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewAttributionModelConfig creates an AttributionModelConfig with default fake data.
func NewAttributionModelConfig(overrideDefaults ...*AttributionModelConfig) *AttributionModelConfig {
	base := &AttributionModelConfig{
		ID:                 uuid.NewString(),
		OrgID:              "org_" + gofakeit.LetterN(10),
		ModelType:          AttributionLinear,
		LookbackWindowDays: 30,
		HalfLifeDays:       7,
		FirstTouchWeight:   0.4,
		LastTouchWeight:    0.4,
		CreatedAt:          utils.Now(),
		UpdatedAt:          utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OrgID != "" {
			base.OrgID = ovr.OrgID
		}
		if ovr.ModelType != "" {
			base.ModelType = ovr.ModelType
		}
		if ovr.LookbackWindowDays != 0 {
			base.LookbackWindowDays = ovr.LookbackWindowDays
		}
		if ovr.HalfLifeDays != 0 {
			base.HalfLifeDays = ovr.HalfLifeDays
		}
		if ovr.FirstTouchWeight != 0 {
			base.FirstTouchWeight = ovr.FirstTouchWeight
		}
		if ovr.LastTouchWeight != 0 {
			base.LastTouchWeight = ovr.LastTouchWeight
		}
	}
	return base
}

// NewTrackEventPayload creates a TrackEventPayload with default fake data.
func NewTrackEventPayload(overrideDefaults ...*TrackEventPayload) *TrackEventPayload {
	timeOnPage := gofakeit.Float64Range(5, 900)
	base := &TrackEventPayload{
		EventID:    gofakeit.UUID(),
		OrgID:      "org_" + gofakeit.LetterN(10),
		EventType:  "page_view",
		EventName:  gofakeit.Word(),
		CustomerID: gofakeit.UUID(),
		Timestamp:  utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Minute).Unix(),
		Properties: EventProperties{
			TimeOnPage: &timeOnPage,
		},
		Context: EventContext{
			Campaign: &CampaignContext{
				UTMSource:   gofakeit.DomainName(),
				UTMMedium:   "cpc",
				UTMCampaign: gofakeit.Word(),
			},
			Page: &PageContext{
				URL:      gofakeit.URL(),
				Referrer: gofakeit.URL(),
			},
		},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.OrgID != "" {
			base.OrgID = ovr.OrgID
		}
		if ovr.EventType != "" {
			base.EventType = ovr.EventType
		}
		if ovr.EventName != "" {
			base.EventName = ovr.EventName
		}
		if ovr.CustomerID != "" || ovr.AnonymousID != "" {
			base.CustomerID = ovr.CustomerID
			base.AnonymousID = ovr.AnonymousID
		}
		if ovr.Timestamp != 0 {
			base.Timestamp = ovr.Timestamp
		}
		if ovr.Properties != (EventProperties{}) {
			base.Properties = ovr.Properties
		}
		if ovr.Context.Campaign != nil || ovr.Context.Page != nil {
			base.Context = ovr.Context
		}
	}
	return base
}

// NewMarketingMixModel creates a trained MarketingMixModel with default fake
// data over two channels.
func NewMarketingMixModel(overrideDefaults ...*MarketingMixModel) *MarketingMixModel {
	trainedAt := utils.Now()
	r2 := gofakeit.Float64Range(0.6, 0.95)
	mape := gofakeit.Float64Range(0.05, 0.3)
	base := &MarketingMixModel{
		ID:             uuid.NewString(),
		OrgID:          "org_" + gofakeit.LetterN(10),
		Name:           gofakeit.AppName(),
		TargetVariable: "revenue",
		Status:         ModelStatusTrained,
		Config: MMMModelConfig{
			IncludeSeasonality: true,
			IncludeTrend:       true,
			Regularization:     0.1,
		},
		Channels: []ChannelSpec{
			{
				Name:       "google_ads",
				Adstock:    AdstockParams{Decay: 0.5},
				Saturation: SaturationParams{Shape: SaturationHill, K: 1.2, HalfSpend: 5000},
			},
			{
				Name:       "facebook_ads",
				Adstock:    AdstockParams{Decay: 0.3, PeakDelay: 1},
				Saturation: SaturationParams{Shape: SaturationHill, K: 0.9, HalfSpend: 3000},
			},
		},
		Coefficients: &Coefficients{
			Intercept: gofakeit.Float64Range(500, 2000),
			Channels: map[string]ChannelCoefficient{
				"google_ads":   {Beta: gofakeit.Float64Range(100, 5000), ROI: gofakeit.Float64Range(0.5, 4), ContributionPct: 0.3},
				"facebook_ads": {Beta: gofakeit.Float64Range(100, 5000), ROI: gofakeit.Float64Range(0.5, 4), ContributionPct: 0.2},
			},
			BaselineContributionPct: 0.5,
		},
		RSquared:  &r2,
		MAPE:      &mape,
		TrainedAt: &trainedAt,
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OrgID != "" {
			base.OrgID = ovr.OrgID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.TargetVariable != "" {
			base.TargetVariable = ovr.TargetVariable
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Channels != nil {
			base.Channels = ovr.Channels
		}
		if ovr.Coefficients != nil {
			base.Coefficients = ovr.Coefficients
		}
		if ovr.Config != (MMMModelConfig{}) {
			base.Config = ovr.Config
		}
		if ovr.RSquared != nil {
			base.RSquared = ovr.RSquared
		}
		if ovr.MAPE != nil {
			base.MAPE = ovr.MAPE
		}
		if ovr.TrainedAt != nil {
			base.TrainedAt = ovr.TrainedAt
		}
	}
	return base
}
