package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	"github.com/marketfuse/attribution-engine/internal/tenant"
)

// MockHandler mocks an event handler for router tests
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}

func newTestMetadata(subject, orgID string) *model.MessageMetadata {
	return &model.MessageMetadata{
		MessageID:      "msg-1",
		MessageSubject: subject,
		OrgID:          orgID,
	}
}

func TestRouter_Route_ExactMatch(t *testing.T) {
	router := NewRouter()
	handler := new(MockHandler)
	handler.On("Handle", mock.Anything, model.V1EventsTrack, mock.Anything, mock.Anything).Return(nil)

	router.Register(model.V1EventsTrack, handler.Handle)

	metadata := newTestMetadata("v1.events.track.org_a", "org_a")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	require.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestRouter_Route_SubjectWithOrgSuffix(t *testing.T) {
	router := NewRouter()
	handler := new(MockHandler)
	handler.On("Handle", mock.Anything, model.V1HistoricalEvents, mock.Anything, mock.Anything).Return(nil)

	router.Register(model.V1HistoricalEvents, handler.Handle)

	// Tenant-suffixed subjects resolve to the same base event type.
	metadata := newTestMetadata("v1.history.events.org_b", "org_b")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	require.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	router := NewRouter()
	specific := new(MockHandler)
	fallback := new(MockHandler)
	fallback.On("Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	router.Register(model.V1EventsTrack, specific.Handle)
	router.RegisterDefault(fallback.Handle)

	metadata := newTestMetadata("v1.events.unknown.org_a", "org_a")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	require.NoError(t, err)

	specific.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	fallback.AssertExpectations(t)
}

func TestRouter_Route_NoHandler(t *testing.T) {
	router := NewRouter()

	// No handler and no default: the message is dropped without error.
	metadata := newTestMetadata("v1.events.unknown.org_a", "org_a")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	assert.NoError(t, err)
}

func TestRouter_Route_HandlerError(t *testing.T) {
	router := NewRouter()
	handler := new(MockHandler)
	processingErr := apperrors.NewFatal(assert.AnError, "handler failed")
	handler.On("Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(processingErr)

	router.Register(model.V1EventsTrack, handler.Handle)

	metadata := newTestMetadata("v1.events.track.org_a", "org_a")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestRouter_Route_TenantContext(t *testing.T) {
	router := NewRouter()

	var capturedOrgID string
	router.Register(model.V1EventsTrack, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		orgID, err := tenant.FromContext(ctx)
		if err != nil {
			return err
		}
		capturedOrgID = orgID
		return nil
	})

	metadata := newTestMetadata("v1.events.track.org_xyz", "org_xyz")
	err := router.Route(context.Background(), metadata, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "org_xyz", capturedOrgID)
}

func TestRouter_Route_PayloadPassthrough(t *testing.T) {
	router := NewRouter()
	payload := []byte(`{"event_id":"evt-1"}`)

	var captured []byte
	router.Register(model.V1EventsIdentify, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		captured = rawEvent
		return nil
	})

	metadata := newTestMetadata("v1.events.identify.org_a", "org_a")
	err := router.Route(context.Background(), metadata, payload)
	require.NoError(t, err)
	assert.Equal(t, payload, captured)
}
