package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	storagemock "github.com/marketfuse/attribution-engine/internal/storage/mock"
	"github.com/marketfuse/attribution-engine/internal/tenant"
)

func float64Ptr(f float64) *float64 { return &f }
func intPtr(i int) *int             { return &i }

func TestDetectConversionType(t *testing.T) {
	testCases := []struct {
		name         string
		eventType    string
		eventName    string
		expectedType model.ConversionType
		isConversion bool
	}{
		{"purchase", "purchase", "", model.ConversionPurchase, true},
		{"order completed", "order_completed", "Order Completed", model.ConversionPurchase, true},
		{"plain signup", "sign_up", "Account Created", model.ConversionSignup, true},
		{"signup without underscore", "signup", "", model.ConversionSignup, true},
		{"trial signup", "sign_up", "Free Trial Signup", model.ConversionTrialStart, true},
		{"demo form", "form_submit", "Request a Demo", model.ConversionDemoRequest, true},
		{"generic form", "form_submit", "Newsletter", model.ConversionLead, true},
		{"subscription", "subscription_started", "", model.ConversionSubscription, true},
		{"trial event", "trial_started", "", model.ConversionTrialStart, true},
		{"case insensitive", "PURCHASE", "", model.ConversionPurchase, true},
		{"page view is not a conversion", "page_view", "", "", false},
		{"ad click is not a conversion", "ad_click", "", "", false},
		{"unknown type", "video_play", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			convType, ok := DetectConversionType(tc.eventType, tc.eventName)
			assert.Equal(t, tc.isConversion, ok)
			assert.Equal(t, tc.expectedType, convType)
		})
	}
}

func TestDetermineChannel(t *testing.T) {
	testCases := []struct {
		name            string
		payload         model.TrackEventPayload
		expectedChannel string
		expectedType    model.TouchpointType
	}{
		{
			name: "utm cpc wins over everything",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "google", UTMMedium: "cpc"},
					Page:     &model.PageContext{Referrer: "https://bing.com"},
				},
			},
			expectedChannel: "google",
			expectedType:    model.TouchpointPaidSearch,
		},
		{
			name: "utm ppc",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "bing", UTMMedium: "ppc"},
				},
			},
			expectedChannel: "bing",
			expectedType:    model.TouchpointPaidSearch,
		},
		{
			name: "utm paid social",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "facebook", UTMMedium: "paid_social"},
				},
			},
			expectedChannel: "facebook",
			expectedType:    model.TouchpointPaidSocial,
		},
		{
			name: "utm email",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "mailchimp", UTMMedium: "email"},
				},
			},
			expectedChannel: "mailchimp",
			expectedType:    model.TouchpointEmail,
		},
		{
			name: "utm organic social",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "twitter", UTMMedium: "social"},
				},
			},
			expectedChannel: "twitter",
			expectedType:    model.TouchpointOrganicSocial,
		},
		{
			name: "utm referral",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Campaign: &model.CampaignContext{UTMSource: "partnersite", UTMMedium: "referral"},
				},
			},
			expectedChannel: "partnersite",
			expectedType:    model.TouchpointReferral,
		},
		{
			name: "ad click without utm",
			payload: model.TrackEventPayload{
				EventType: "ad_click",
			},
			expectedChannel: "paid_ads",
			expectedType:    model.TouchpointAdClick,
		},
		{
			name: "email click without utm",
			payload: model.TrackEventPayload{
				EventType: "email_click",
			},
			expectedChannel: "email",
			expectedType:    model.TouchpointEmail,
		},
		{
			name: "email open without utm",
			payload: model.TrackEventPayload{
				EventType: "email_open",
			},
			expectedChannel: "email",
			expectedType:    model.TouchpointEmail,
		},
		{
			name: "referrer means organic",
			payload: model.TrackEventPayload{
				EventType: "page_view",
				Context: model.EventContext{
					Page: &model.PageContext{Referrer: "https://google.com/search"},
				},
			},
			expectedChannel: "organic",
			expectedType:    model.TouchpointOrganicSearch,
		},
		{
			name: "nothing means direct",
			payload: model.TrackEventPayload{
				EventType: "page_view",
			},
			expectedChannel: "direct",
			expectedType:    model.TouchpointDirect,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			channel, tpType := DetermineChannel(&tc.payload)
			assert.Equal(t, tc.expectedChannel, channel)
			assert.Equal(t, tc.expectedType, tpType)
		})
	}
}

func TestCalculateEngagementScore(t *testing.T) {
	testCases := []struct {
		name     string
		props    model.EventProperties
		expected float64
	}{
		{
			name:     "no signals",
			props:    model.EventProperties{},
			expected: 0,
		},
		{
			name: "all signals at thresholds",
			props: model.EventProperties{
				TimeOnPage:  float64Ptr(600),
				PagesViewed: intPtr(8),
				ScrollDepth: float64Ptr(0.9),
			},
			expected: 1.0,
		},
		{
			name: "signals above thresholds are capped",
			props: model.EventProperties{
				TimeOnPage:  float64Ptr(3600),
				PagesViewed: intPtr(50),
				ScrollDepth: float64Ptr(1.0),
			},
			expected: 1.0,
		},
		{
			name: "half time only",
			props: model.EventProperties{
				TimeOnPage: float64Ptr(300),
			},
			expected: 0.2,
		},
		{
			name: "half of each signal",
			props: model.EventProperties{
				TimeOnPage:  float64Ptr(300),
				PagesViewed: intPtr(4),
				ScrollDepth: float64Ptr(0.45),
			},
			expected: 0.5,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			score := CalculateEngagementScore(&tc.props)
			assert.InDelta(t, tc.expected, score, 1e-9)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		})
	}
}

func TestQualifiesAsTouchpoint(t *testing.T) {
	testCases := []struct {
		name      string
		payload   model.TrackEventPayload
		qualifies bool
	}{
		{"ad click always qualifies", model.TrackEventPayload{EventType: "ad_click"}, true},
		{"email click always qualifies", model.TrackEventPayload{EventType: "email_click"}, true},
		{"content view always qualifies", model.TrackEventPayload{EventType: "content_view"}, true},
		{"bare page view does not qualify", model.TrackEventPayload{EventType: "page_view"}, false},
		{
			"page view with utm qualifies",
			model.TrackEventPayload{
				EventType: "page_view",
				Context:   model.EventContext{Campaign: &model.CampaignContext{UTMSource: "google"}},
			},
			true,
		},
		{
			"page view with referrer qualifies",
			model.TrackEventPayload{
				EventType: "page_view",
				Context:   model.EventContext{Page: &model.PageContext{Referrer: "https://news.site"}},
			},
			true,
		},
		{"conversion never doubles as touchpoint", model.TrackEventPayload{EventType: "purchase"}, false},
		{"unknown event does not qualify", model.TrackEventPayload{EventType: "video_play"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.qualifies, qualifiesAsTouchpoint(&tc.payload))
		})
	}
}

func TestTrackTouchpointFromEvent(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("qualifying event is saved", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		touchpointRepo.On("Save", mock.Anything, mock.MatchedBy(func(tp model.Touchpoint) bool {
			return tp.OrgID == "org_test" &&
				tp.CustomerID == "cust-1" &&
				tp.EventID == "evt-1" &&
				tp.Channel == "google" &&
				tp.Type == model.TouchpointPaidSearch
		})).Return(nil)

		payload := &model.TrackEventPayload{
			EventID:    "evt-1",
			EventType:  "page_view",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
			Context: model.EventContext{
				Campaign: &model.CampaignContext{UTMSource: "google", UTMMedium: "cpc", UTMCampaign: "summer"},
			},
		}

		tp, err := svc.TrackTouchpointFromEvent(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, tp)
		assert.Equal(t, "summer", tp.Campaign)
		assert.Equal(t, model.TouchpointStatusActive, tp.Status)
		touchpointRepo.AssertExpectations(t)
	})

	t.Run("non-qualifying event is skipped", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		payload := &model.TrackEventPayload{
			EventID:    "evt-2",
			EventType:  "page_view",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
		}

		tp, err := svc.TrackTouchpointFromEvent(ctx, payload)
		require.NoError(t, err)
		assert.Nil(t, tp)
		touchpointRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("duplicate event id is dropped silently", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate)

		payload := &model.TrackEventPayload{
			EventID:    "evt-dup",
			EventType:  "ad_click",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
		}

		tp, err := svc.TrackTouchpointFromEvent(ctx, payload)
		require.NoError(t, err)
		assert.Nil(t, tp)
	})

	t.Run("missing tenant context is unauthorized", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		payload := &model.TrackEventPayload{
			EventID:    "evt-3",
			EventType:  "ad_click",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
		}

		_, err := svc.TrackTouchpointFromEvent(context.Background(), payload)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnauthorizedError(err))
	})
}

func TestTrackConversionFromEvent(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("conversion is saved and touchpoints linked", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		now := time.Now()
		unlinked := []model.Touchpoint{
			{ID: "tp-1", OccurredAt: now.Add(-48 * time.Hour)},
			{ID: "tp-2", OccurredAt: now.Add(-24 * time.Hour)},
		}

		conversionRepo.On("Save", mock.MatchedBy(func(_ context.Context) bool { return true }), mock.MatchedBy(func(c model.ConversionEvent) bool {
			return c.Type == model.ConversionPurchase &&
				c.Value == 99.5 &&
				c.Status == model.ConversionStatusPending
		})).Return(nil)
		configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
		touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, "cust-1", mock.Anything, mock.Anything).Return(unlinked, nil)
		touchpointRepo.On("LinkToConversion", mock.Anything, "tp-1", mock.Anything, 1, mock.Anything).Return(nil)
		touchpointRepo.On("LinkToConversion", mock.Anything, "tp-2", mock.Anything, 2, mock.Anything).Return(nil)

		payload := &model.TrackEventPayload{
			EventID:    "evt-conv-1",
			EventType:  "purchase",
			CustomerID: "cust-1",
			Timestamp:  now.UnixMilli(),
			Properties: model.EventProperties{Value: float64Ptr(99.5)},
		}

		conversion, err := svc.TrackConversionFromEvent(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, conversion)
		assert.Equal(t, "USD", conversion.Currency)
		touchpointRepo.AssertExpectations(t)
		conversionRepo.AssertExpectations(t)
	})

	t.Run("non-conversion event returns nil", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		payload := &model.TrackEventPayload{
			EventID:    "evt-4",
			EventType:  "page_view",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
		}

		conversion, err := svc.TrackConversionFromEvent(ctx, payload)
		require.NoError(t, err)
		assert.Nil(t, conversion)
		conversionRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("linking failure does not fail the conversion", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		conversionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
		configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
		touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.ErrDatabase)

		payload := &model.TrackEventPayload{
			EventID:    "evt-conv-2",
			EventType:  "purchase",
			CustomerID: "cust-1",
			Timestamp:  time.Now().UnixMilli(),
		}

		conversion, err := svc.TrackConversionFromEvent(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, conversion)
	})

	t.Run("concurrently claimed touchpoints are skipped", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		now := time.Now()
		unlinked := []model.Touchpoint{
			{ID: "tp-1", OccurredAt: now.Add(-2 * time.Hour)},
			{ID: "tp-2", OccurredAt: now.Add(-1 * time.Hour)},
		}

		conversionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
		configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
		touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, "cust-1", mock.Anything, mock.Anything).Return(unlinked, nil)
		touchpointRepo.On("LinkToConversion", mock.Anything, "tp-1", mock.Anything, 1, mock.Anything).Return(apperrors.ErrConflict)
		touchpointRepo.On("LinkToConversion", mock.Anything, "tp-2", mock.Anything, 2, mock.Anything).Return(nil)

		payload := &model.TrackEventPayload{
			EventID:    "evt-conv-3",
			EventType:  "purchase",
			CustomerID: "cust-1",
			Timestamp:  now.UnixMilli(),
		}

		conversion, err := svc.TrackConversionFromEvent(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, conversion)
		touchpointRepo.AssertExpectations(t)
	})
}

func TestMergeCustomerJourneys(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("moves touchpoints", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		touchpointRepo.On("ReassignCustomer", mock.Anything, "anon-1", "cust-1").Return(int64(3), nil)

		moved, err := svc.MergeCustomerJourneys(ctx, "anon-1", "cust-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), moved)
	})

	t.Run("empty ids are rejected", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		_, err := svc.MergeCustomerJourneys(ctx, "", "cust-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidationError(err))
	})

	t.Run("identical ids are a no-op", func(t *testing.T) {
		touchpointRepo := new(storagemock.TouchpointRepoMock)
		conversionRepo := new(storagemock.ConversionRepoMock)
		configRepo := new(storagemock.ModelConfigRepoMock)
		svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

		moved, err := svc.MergeCustomerJourneys(ctx, "cust-1", "cust-1")
		require.NoError(t, err)
		assert.Zero(t, moved)
		touchpointRepo.AssertNotCalled(t, "ReassignCustomer", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGetCustomerJourney(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	svc := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)

	touchpoints := []model.Touchpoint{{ID: "tp-1"}, {ID: "tp-2"}}
	conversions := []model.ConversionEvent{
		{ID: "conv-1", Value: 100},
		{ID: "conv-2", Value: 50},
	}
	touchpointRepo.On("FindByCustomerID", mock.Anything, "cust-1").Return(touchpoints, nil)
	conversionRepo.On("FindByCustomerID", mock.Anything, "cust-1").Return(conversions, nil)

	journey, err := svc.GetCustomerJourney(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 2, journey.TouchpointCount)
	assert.Equal(t, 150.0, journey.TotalValue)
}
