package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
)

// HistoricalServiceMock mocks the HistoricalService interface
type HistoricalServiceMock struct {
	mock.Mock
}

func (m *HistoricalServiceMock) ProcessHistoricalBatch(ctx context.Context, payload *model.HistoricalEventsPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func TestHistoricalHandler_HandleEvent_Batch(t *testing.T) {
	service := new(HistoricalServiceMock)
	handler := NewHistoricalHandler(service)

	service.On("ProcessHistoricalBatch", mock.Anything, mock.MatchedBy(func(p *model.HistoricalEventsPayload) bool {
		if len(p.Events) != 2 {
			return false
		}
		// Events without an org are enriched from message metadata.
		return p.Events[0].OrgID == "org_a" && p.Events[1].OrgID == "org_preset"
	})).Return(nil)

	payload := mustMarshal(t, model.HistoricalEventsPayload{
		Events: []model.TrackEventPayload{
			{EventID: "evt-1", EventType: "page_view", CustomerID: "cust-1", Timestamp: 1700000000000},
			{EventID: "evt-2", EventType: "purchase", CustomerID: "cust-1", Timestamp: 1700000100000, OrgID: "org_preset"},
		},
		IsLastBatch: true,
	})
	metadata := &model.MessageMetadata{MessageID: "msg-1", OrgID: "org_a"}

	err := handler.HandleEvent(context.Background(), model.V1HistoricalEvents, metadata, payload)
	require.NoError(t, err)
	service.AssertExpectations(t)
}

func TestHistoricalHandler_HandleEvent_EmptyBatch(t *testing.T) {
	service := new(HistoricalServiceMock)
	handler := NewHistoricalHandler(service)

	payload := mustMarshal(t, model.HistoricalEventsPayload{})
	metadata := &model.MessageMetadata{MessageID: "msg-1", OrgID: "org_a"}

	err := handler.HandleEvent(context.Background(), model.V1HistoricalEvents, metadata, payload)
	assert.NoError(t, err)
	service.AssertNotCalled(t, "ProcessHistoricalBatch", mock.Anything, mock.Anything)
}

func TestHistoricalHandler_HandleEvent_InvalidJSON(t *testing.T) {
	service := new(HistoricalServiceMock)
	handler := NewHistoricalHandler(service)

	metadata := &model.MessageMetadata{MessageID: "msg-1", OrgID: "org_a"}
	err := handler.HandleEvent(context.Background(), model.V1HistoricalEvents, metadata, []byte(`not json`))
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestHistoricalHandler_HandleEvent_UnsupportedType(t *testing.T) {
	service := new(HistoricalServiceMock)
	handler := NewHistoricalHandler(service)

	metadata := &model.MessageMetadata{MessageID: "msg-1", OrgID: "org_a"}
	err := handler.HandleEvent(context.Background(), model.V1EventsTrack, metadata, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
