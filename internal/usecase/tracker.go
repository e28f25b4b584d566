package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/storage"
	"github.com/marketfuse/attribution-engine/internal/tenant"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// Engagement score thresholds. An event at or above a threshold earns the
// full weight for that signal.
const (
	engagementTimeThresholdSeconds = 600.0
	engagementPagesThreshold       = 8.0
	engagementDepthThreshold       = 0.9

	engagementTimeWeight  = 0.4
	engagementPagesWeight = 0.3
	engagementDepthWeight = 0.3
)

// TrackerService classifies behavioral events into touchpoints and conversion
// events, and maintains the touchpoint-to-conversion links that attribution
// runs on.
type TrackerService struct {
	touchpointRepo storage.TouchpointRepo
	conversionRepo storage.ConversionRepo
	configRepo     storage.ModelConfigRepo

	defaultLookbackDays int
}

// NewTrackerService creates a tracker service.
func NewTrackerService(touchpointRepo storage.TouchpointRepo, conversionRepo storage.ConversionRepo, configRepo storage.ModelConfigRepo, defaultLookbackDays int) *TrackerService {
	if defaultLookbackDays <= 0 {
		defaultLookbackDays = 30
	}
	return &TrackerService{
		touchpointRepo:      touchpointRepo,
		conversionRepo:      conversionRepo,
		configRepo:          configRepo,
		defaultLookbackDays: defaultLookbackDays,
	}
}

// DetectConversionType maps an event to a conversion type. The bool is false
// for non-conversion events (page views, ad clicks, and so on).
func DetectConversionType(eventType, eventName string) (model.ConversionType, bool) {
	name := strings.ToLower(eventName)
	switch strings.ToLower(eventType) {
	case "purchase", "order_completed":
		return model.ConversionPurchase, true
	case "sign_up", "signup":
		if strings.Contains(name, "trial") {
			return model.ConversionTrialStart, true
		}
		return model.ConversionSignup, true
	case "form_submit":
		if strings.Contains(name, "demo") {
			return model.ConversionDemoRequest, true
		}
		return model.ConversionLead, true
	case "subscription_started":
		return model.ConversionSubscription, true
	case "trial_started":
		return model.ConversionTrialStart, true
	}
	return "", false
}

// DetermineChannel resolves the marketing channel and touchpoint type for an
// event. UTM parameters take precedence; without them the event type and page
// referrer decide.
func DetermineChannel(payload *model.TrackEventPayload) (string, model.TouchpointType) {
	var utmSource, utmMedium string
	if payload.Context.Campaign != nil {
		utmSource = strings.ToLower(payload.Context.Campaign.UTMSource)
		utmMedium = strings.ToLower(payload.Context.Campaign.UTMMedium)
	}

	if utmSource != "" {
		switch {
		case utmMedium == "cpc" || utmMedium == "ppc" || utmMedium == "paid_search":
			return utmSource, model.TouchpointPaidSearch
		case utmMedium == "paid_social" || utmMedium == "social_paid":
			return utmSource, model.TouchpointPaidSocial
		case utmMedium == "email":
			return utmSource, model.TouchpointEmail
		case utmMedium == "social" || utmMedium == "organic_social":
			return utmSource, model.TouchpointOrganicSocial
		case utmMedium == "referral":
			return utmSource, model.TouchpointReferral
		default:
			return utmSource, model.TouchpointPaidSearch
		}
	}

	switch strings.ToLower(payload.EventType) {
	case "ad_click":
		return "paid_ads", model.TouchpointAdClick
	case "email_click", "email_open":
		return "email", model.TouchpointEmail
	}

	if payload.Context.Page != nil && payload.Context.Page.Referrer != "" {
		return "organic", model.TouchpointOrganicSearch
	}
	return "direct", model.TouchpointDirect
}

// CalculateEngagementScore combines time-on-page, pages-viewed and
// scroll-depth into a [0,1] score. Missing signals contribute zero.
func CalculateEngagementScore(props *model.EventProperties) float64 {
	var score float64
	if props.TimeOnPage != nil {
		ratio := *props.TimeOnPage / engagementTimeThresholdSeconds
		if ratio > 1 {
			ratio = 1
		}
		score += engagementTimeWeight * ratio
	}
	if props.PagesViewed != nil {
		ratio := float64(*props.PagesViewed) / engagementPagesThreshold
		if ratio > 1 {
			ratio = 1
		}
		score += engagementPagesWeight * ratio
	}
	if props.ScrollDepth != nil {
		ratio := *props.ScrollDepth / engagementDepthThreshold
		if ratio > 1 {
			ratio = 1
		}
		score += engagementDepthWeight * ratio
	}
	return score
}

// qualifiesAsTouchpoint reports whether an event represents a marketing
// exposure worth recording. Conversion events never double as touchpoints.
func qualifiesAsTouchpoint(payload *model.TrackEventPayload) bool {
	if _, isConversion := DetectConversionType(payload.EventType, payload.EventName); isConversion {
		return false
	}
	switch strings.ToLower(payload.EventType) {
	case "ad_click", "email_click", "email_open", "content_view":
		return true
	case "page_view":
		// Page views qualify only when they carry campaign context or a
		// referrer; a bare direct page view is noise.
		if payload.Context.Campaign != nil && payload.Context.Campaign.UTMSource != "" {
			return true
		}
		if payload.Context.Page != nil && payload.Context.Page.Referrer != "" {
			return true
		}
		return false
	}
	return false
}

// TrackTouchpointFromEvent converts a qualifying event into a persisted
// touchpoint. Non-qualifying events return (nil, nil).
func (s *TrackerService) TrackTouchpointFromEvent(ctx context.Context, payload *model.TrackEventPayload) (*model.Touchpoint, error) {
	if !qualifiesAsTouchpoint(payload) {
		return nil, nil
	}
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}

	channel, tpType := DetermineChannel(payload)
	tp := model.Touchpoint{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		CustomerID:      payload.SubjectID(),
		EventID:         payload.EventID,
		Type:            tpType,
		Channel:         channel,
		Cost:            payload.Properties.Cost,
		EngagementScore: CalculateEngagementScore(&payload.Properties),
		Status:          model.TouchpointStatusActive,
		OccurredAt:      utils.UnixToTimeWithMilliseconds(payload.Timestamp),
	}
	if payload.Context.Campaign != nil {
		tp.Campaign = payload.Context.Campaign.UTMCampaign
		tp.Source = payload.Context.Campaign.UTMSource
		tp.Medium = payload.Context.Campaign.UTMMedium
	}

	if err := s.touchpointRepo.Save(ctx, tp); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			logger.FromContext(ctx).Debug("Touchpoint already recorded, skipping",
				zap.String("event_id", payload.EventID))
			return nil, nil
		}
		return nil, err
	}
	return &tp, nil
}

// TrackConversionFromEvent converts a conversion-class event into a persisted
// conversion and links the customer's recent touchpoints to it. Events that
// are not conversions return (nil, nil).
func (s *TrackerService) TrackConversionFromEvent(ctx context.Context, payload *model.TrackEventPayload) (*model.ConversionEvent, error) {
	convType, ok := DetectConversionType(payload.EventType, payload.EventName)
	if !ok {
		return nil, nil
	}
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}

	var value float64
	if payload.Properties.Value != nil {
		value = *payload.Properties.Value
	}
	currency := payload.Properties.Currency
	if currency == "" {
		currency = "USD"
	}

	conversion := model.ConversionEvent{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		CustomerID: payload.SubjectID(),
		EventID:    payload.EventID,
		Type:       convType,
		Value:      value,
		Currency:   currency,
		Status:     model.ConversionStatusPending,
		OccurredAt: utils.UnixToTimeWithMilliseconds(payload.Timestamp),
	}

	if err := s.conversionRepo.Save(ctx, conversion); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			logger.FromContext(ctx).Debug("Conversion already recorded, skipping",
				zap.String("event_id", payload.EventID))
			return nil, nil
		}
		return nil, err
	}

	if err := s.linkTouchpointsForConversion(ctx, &conversion); err != nil {
		// The conversion is saved; a linking failure leaves it pending for a
		// later re-attribution pass rather than failing the whole event.
		logger.FromContext(ctx).Error("Failed to link touchpoints for conversion",
			zap.String("conversion_id", conversion.ID),
			zap.Error(err))
	}
	return &conversion, nil
}

// linkTouchpointsForConversion scans the customer's unlinked touchpoints
// within the lookback window and links them to the conversion in timestamp
// order, assigning journey positions and time-to-conversion.
func (s *TrackerService) linkTouchpointsForConversion(ctx context.Context, conversion *model.ConversionEvent) error {
	lookbackDays := s.defaultLookbackDays
	if cfg, err := s.configRepo.FindByOrgID(ctx); err == nil && cfg.LookbackWindowDays > 0 {
		lookbackDays = cfg.LookbackWindowDays
	}

	from := conversion.OccurredAt.AddDate(0, 0, -lookbackDays)
	touchpoints, err := s.touchpointRepo.FindUnlinkedInWindow(ctx, conversion.CustomerID, from, conversion.OccurredAt)
	if err != nil {
		return err
	}

	linked := 0
	for i, tp := range touchpoints {
		timeToConversion := utils.HoursBetween(tp.OccurredAt, conversion.OccurredAt)
		err := s.touchpointRepo.LinkToConversion(ctx, tp.ID, conversion.ID, i+1, timeToConversion)
		if err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				// Claimed by a concurrent conversion, skip.
				continue
			}
			return err
		}
		linked++
	}

	logger.FromContext(ctx).Info("Linked touchpoints to conversion",
		zap.String("conversion_id", conversion.ID),
		zap.String("customer_id", conversion.CustomerID),
		zap.Int("linked", linked),
		zap.Int("candidates", len(touchpoints)))
	return nil
}

// LinkTouchpointToConversion links one touchpoint to one conversion,
// recomputing its time-to-conversion. It reports false, without error, when
// either record is missing or the touchpoint is already linked.
func (s *TrackerService) LinkTouchpointToConversion(ctx context.Context, touchpointID, conversionID string) bool {
	loggerCtx := logger.FromContext(ctx)

	conversion, err := s.conversionRepo.FindByID(ctx, conversionID)
	if err != nil {
		loggerCtx.Debug("Conversion not found for manual link",
			zap.String("conversion_id", conversionID), zap.Error(err))
		return false
	}

	linked, err := s.touchpointRepo.FindByConversionID(ctx, conversionID)
	if err != nil {
		loggerCtx.Warn("Failed to load linked touchpoints", zap.Error(err))
	}
	position := len(linked) + 1

	target, err := s.findTouchpointByID(ctx, conversion.CustomerID, touchpointID)
	if err != nil || target == nil {
		loggerCtx.Debug("Touchpoint not found for manual link",
			zap.String("touchpoint_id", touchpointID))
		return false
	}

	timeToConversion := utils.HoursBetween(target.OccurredAt, conversion.OccurredAt)
	if err := s.touchpointRepo.LinkToConversion(ctx, touchpointID, conversionID, position, timeToConversion); err != nil {
		loggerCtx.Debug("Manual touchpoint link rejected",
			zap.String("touchpoint_id", touchpointID),
			zap.String("conversion_id", conversionID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *TrackerService) findTouchpointByID(ctx context.Context, customerID, touchpointID string) (*model.Touchpoint, error) {
	touchpoints, err := s.touchpointRepo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range touchpoints {
		if touchpoints[i].ID == touchpointID {
			return &touchpoints[i], nil
		}
	}
	return nil, nil
}

// UpdateModelConfig writes the organization's attribution model settings.
// Zero-valued optional fields fall back to the service defaults. A
// position-based anchor pair summing past 1 is rejected outright so a stored
// config can never produce a negative middle weight.
func (s *TrackerService) UpdateModelConfig(ctx context.Context, payload *model.AttributionConfigPayload) (*model.AttributionModelConfig, error) {
	orgID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, err.Error())
	}

	modelType := model.AttributionModelType(payload.ModelType)
	if !modelType.IsValid() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownAttributionModel, payload.ModelType)
	}
	if payload.FirstTouchWeight+payload.LastTouchWeight > 1 {
		return nil, fmt.Errorf("%w: first_touch_weight and last_touch_weight sum to %.2f, must not exceed 1",
			apperrors.ErrValidation, payload.FirstTouchWeight+payload.LastTouchWeight)
	}

	lookbackDays := payload.LookbackWindowDays
	if lookbackDays <= 0 {
		lookbackDays = s.defaultLookbackDays
	}
	halfLifeDays := payload.HalfLifeDays
	if halfLifeDays <= 0 {
		halfLifeDays = defaultHalfLifeDays
	}

	cfg := model.AttributionModelConfig{
		ID:                 uuid.NewString(),
		OrgID:              orgID,
		ModelType:          modelType,
		LookbackWindowDays: lookbackDays,
		HalfLifeDays:       halfLifeDays,
		FirstTouchWeight:   payload.FirstTouchWeight,
		LastTouchWeight:    payload.LastTouchWeight,
	}
	if err := s.configRepo.Upsert(ctx, cfg); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Attribution model config updated",
		zap.String("model_type", string(modelType)),
		zap.Int("lookback_window_days", lookbackDays))
	return &cfg, nil
}

// CustomerJourney is the ordered touchpoint history for one customer,
// independent of any specific conversion.
type CustomerJourney struct {
	CustomerID      string                  `json:"customer_id"`
	Touchpoints     []model.Touchpoint      `json:"touchpoints"`
	Conversions     []model.ConversionEvent `json:"conversions"`
	TouchpointCount int                     `json:"touchpoint_count"`
	TotalValue      float64                 `json:"total_value"`
}

// GetCustomerJourney returns the customer's touchpoints in timestamp order
// together with their conversions.
func (s *TrackerService) GetCustomerJourney(ctx context.Context, customerID string) (*CustomerJourney, error) {
	touchpoints, err := s.touchpointRepo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	conversions, err := s.conversionRepo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	journey := &CustomerJourney{
		CustomerID:      customerID,
		Touchpoints:     touchpoints,
		Conversions:     conversions,
		TouchpointCount: len(touchpoints),
	}
	for _, c := range conversions {
		journey.TotalValue += c.Value
	}
	return journey, nil
}

// MergeCustomerJourneys re-points all unlinked touchpoints owned by an
// anonymous ID to the identified customer ID, preserving timestamps and
// order. Returns the number of touchpoints moved.
func (s *TrackerService) MergeCustomerJourneys(ctx context.Context, anonymousID, customerID string) (int64, error) {
	if anonymousID == "" || customerID == "" {
		return 0, fmt.Errorf("%w: both anonymous_id and customer_id are required", apperrors.ErrValidation)
	}
	if anonymousID == customerID {
		return 0, nil
	}

	startTime := time.Now()
	moved, err := s.touchpointRepo.ReassignCustomer(ctx, anonymousID, customerID)
	if err != nil {
		return 0, err
	}

	logger.FromContext(ctx).Info("Merged customer journeys",
		zap.String("anonymous_id", anonymousID),
		zap.String("customer_id", customerID),
		zap.Int64("touchpoints_moved", moved),
		zap.Duration("duration", time.Since(startTime)))
	return moved, nil
}
