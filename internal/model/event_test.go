package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapToBaseEventType(t *testing.T) {
	testCases := []struct {
		name     string
		subject  string
		expected EventType
		found    bool
	}{
		{
			name:     "track subject with org suffix",
			subject:  "v1.events.track.org_abc123",
			expected: V1EventsTrack,
			found:    true,
		},
		{
			name:     "identify subject with org suffix",
			subject:  "v1.events.identify.org_abc123",
			expected: V1EventsIdentify,
			found:    true,
		},
		{
			name:     "historical subject with org suffix",
			subject:  "v1.history.events.org_abc123",
			expected: V1HistoricalEvents,
			found:    true,
		},
		{
			name:     "train subject with org suffix",
			subject:  "v1.mmm.train.org_abc123",
			expected: V1MMMTrain,
			found:    true,
		},
		{
			name:     "config subject with org suffix",
			subject:  "v1.attribution.config.org_abc123",
			expected: V1AttributionConfig,
			found:    true,
		},
		{
			name:     "bare subject without suffix",
			subject:  "v1.events.track",
			expected: V1EventsTrack,
			found:    true,
		},
		{
			name:     "unknown subject is not mapped",
			subject:  "v1.events.unknown.org_abc123",
			expected: "",
			found:    false,
		},
		{
			name:     "subject without dots is not mapped",
			subject:  "garbage",
			expected: "",
			found:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eventType, found := MapToBaseEventType(tc.subject)
			assert.Equal(t, tc.expected, eventType)
			assert.Equal(t, tc.found, found)
		})
	}
}

func TestTrackEventPayloadSubjectID(t *testing.T) {
	p := &TrackEventPayload{CustomerID: "cust-1", AnonymousID: "anon-1"}
	assert.Equal(t, "cust-1", p.SubjectID())

	p = &TrackEventPayload{AnonymousID: "anon-1"}
	assert.Equal(t, "anon-1", p.SubjectID())
}

func TestAttributionModelTypeIsValid(t *testing.T) {
	for _, mt := range AllAttributionModelTypes {
		assert.True(t, mt.IsValid(), "expected %s to be valid", mt)
	}
	assert.False(t, AttributionModelType("markov_chain").IsValid())
	assert.False(t, AttributionModelType("").IsValid())
}

func TestModelStatusTransitions(t *testing.T) {
	assert.True(t, ModelStatusDraft.CanTransitionTo(ModelStatusTrained))
	assert.True(t, ModelStatusTrained.CanTransitionTo(ModelStatusDeployed))
	assert.False(t, ModelStatusTrained.CanTransitionTo(ModelStatusDraft))
	assert.False(t, ModelStatusDeployed.CanTransitionTo(ModelStatusValidated))
	assert.False(t, ModelStatusDraft.CanTransitionTo(ModelStatusDraft))
}

func TestMarketingMixModelIsReadyForPrediction(t *testing.T) {
	m := NewMarketingMixModel()
	assert.True(t, m.IsReadyForPrediction())

	draft := NewMarketingMixModel(&MarketingMixModel{Status: ModelStatusDraft})
	assert.False(t, draft.IsReadyForPrediction())

	trainedNoCoef := NewMarketingMixModel()
	trainedNoCoef.Coefficients = nil
	assert.False(t, trainedNoCoef.IsReadyForPrediction())
}
