package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/cache"
	"github.com/marketfuse/attribution-engine/internal/model"
	storagemock "github.com/marketfuse/attribution-engine/internal/storage/mock"
	"github.com/marketfuse/attribution-engine/internal/tenant"
)

// AttributionWorkerMock mocks the attribution worker pool
type AttributionWorkerMock struct {
	mock.Mock
}

func (m *AttributionWorkerMock) SubmitTask(taskData AttributionTaskData) error {
	args := m.Called(taskData)
	return args.Error(0)
}

func (m *AttributionWorkerMock) Stop() {
	m.Called()
}

// TrainingWorkerMock mocks the training worker pool
type TrainingWorkerMock struct {
	mock.Mock
}

func (m *TrainingWorkerMock) SubmitTask(taskData TrainingTaskData) error {
	args := m.Called(taskData)
	return args.Error(0)
}

func (m *TrainingWorkerMock) Stop() {
	m.Called()
}

type serviceFixture struct {
	service           *EventService
	touchpointRepo    *storagemock.TouchpointRepoMock
	conversionRepo    *storagemock.ConversionRepoMock
	configRepo        *storagemock.ModelConfigRepoMock
	attributionWorker *AttributionWorkerMock
	trainingWorker    *TrainingWorkerMock
}

func newServiceFixture() *serviceFixture {
	touchpointRepo := new(storagemock.TouchpointRepoMock)
	conversionRepo := new(storagemock.ConversionRepoMock)
	configRepo := new(storagemock.ModelConfigRepoMock)
	attributionWorker := new(AttributionWorkerMock)
	trainingWorker := new(TrainingWorkerMock)

	tracker := NewTrackerService(touchpointRepo, conversionRepo, configRepo, 30)
	dedupeCache := cache.NewEventDedupeCache("org_test", 1000, 0.01)
	service := NewEventService(tracker, dedupeCache, attributionWorker, trainingWorker)

	return &serviceFixture{
		service:           service,
		touchpointRepo:    touchpointRepo,
		conversionRepo:    conversionRepo,
		configRepo:        configRepo,
		attributionWorker: attributionWorker,
		trainingWorker:    trainingWorker,
	}
}

func validTrackPayload() *model.TrackEventPayload {
	return &model.TrackEventPayload{
		EventID:    "evt-1",
		OrgID:      "org_test",
		EventType:  "ad_click",
		CustomerID: "cust-1",
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestProcessTrackEvent_Touchpoint(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	err := f.service.ProcessTrackEvent(ctx, validTrackPayload())
	require.NoError(t, err)
	f.touchpointRepo.AssertExpectations(t)
	f.attributionWorker.AssertNotCalled(t, "SubmitTask", mock.Anything)
}

func TestProcessTrackEvent_ConversionQueuesAttribution(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.conversionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Touchpoint{}, nil)
	f.attributionWorker.On("SubmitTask", mock.MatchedBy(func(task AttributionTaskData) bool {
		return task.OrgID == "org_test" && task.ConversionID != ""
	})).Return(nil)

	payload := validTrackPayload()
	payload.EventType = "purchase"

	err := f.service.ProcessTrackEvent(ctx, payload)
	require.NoError(t, err)
	f.attributionWorker.AssertExpectations(t)
}

func TestProcessTrackEvent_PoolOverloadDoesNotFailEvent(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.conversionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Touchpoint{}, nil)
	f.attributionWorker.On("SubmitTask", mock.Anything).Return(errors.New("pool overloaded"))

	payload := validTrackPayload()
	payload.EventType = "purchase"

	// The conversion stays pending; queue pressure never naks the message.
	err := f.service.ProcessTrackEvent(ctx, payload)
	assert.NoError(t, err)
}

func TestProcessTrackEvent_DuplicateDroppedAfterConfirmation(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	// First delivery stores the touchpoint and marks the event seen.
	require.NoError(t, f.service.ProcessTrackEvent(ctx, validTrackPayload()))

	// Redelivery hits the bloom filter; the stored row confirms the
	// duplicate and the event is dropped without another write.
	f.touchpointRepo.On("FindByEventID", mock.Anything, "evt-1").
		Return(&model.Touchpoint{ID: "tp-1", EventID: "evt-1"}, nil)

	require.NoError(t, f.service.ProcessTrackEvent(ctx, validTrackPayload()))
	f.touchpointRepo.AssertNumberOfCalls(t, "Save", 1)
}

func TestProcessTrackEvent_BloomFalsePositiveRecorded(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	// A colliding event ID makes the filter claim it was seen even though
	// nothing was stored.
	f.service.dedupeCache.MarkSeen("evt-1")

	f.touchpointRepo.On("FindByEventID", mock.Anything, "evt-1").Return(nil, apperrors.ErrNotFound)
	f.conversionRepo.On("FindByEventID", mock.Anything, "evt-1").Return(nil, apperrors.ErrNotFound)
	f.touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	err := f.service.ProcessTrackEvent(ctx, validTrackPayload())
	require.NoError(t, err)
	f.touchpointRepo.AssertExpectations(t)
	assert.Equal(t, int64(1), f.service.dedupeCache.Stats().FalsePositives)
}

func TestProcessTrackEvent_DuplicateCheckErrorFallsThrough(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.service.dedupeCache.MarkSeen("evt-1")

	// The confirmation lookup failing must not drop the event; the unique
	// constraint stays the arbiter.
	f.touchpointRepo.On("FindByEventID", mock.Anything, "evt-1").Return(nil, apperrors.ErrDatabase)
	f.touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	err := f.service.ProcessTrackEvent(ctx, validTrackPayload())
	require.NoError(t, err)
	f.touchpointRepo.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestProcessTrackEvent_InvalidPayloadIsFatal(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	payload := validTrackPayload()
	payload.EventID = ""

	err := f.service.ProcessTrackEvent(ctx, payload)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestProcessTrackEvent_TenantMismatchIsFatal(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_other")
	f := newServiceFixture()

	err := f.service.ProcessTrackEvent(ctx, validTrackPayload())
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestProcessTrackEvent_StorageErrorIsRetryable(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")
	f := newServiceFixture()

	f.touchpointRepo.On("Save", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase)

	err := f.service.ProcessTrackEvent(ctx, validTrackPayload())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestProcessIdentifyEvent(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("merges journeys", func(t *testing.T) {
		f := newServiceFixture()
		f.touchpointRepo.On("ReassignCustomer", mock.Anything, "anon-1", "cust-1").Return(int64(2), nil)

		err := f.service.ProcessIdentifyEvent(ctx, &model.IdentifyPayload{
			OrgID:       "org_test",
			AnonymousID: "anon-1",
			CustomerID:  "cust-1",
		})
		require.NoError(t, err)
		f.touchpointRepo.AssertExpectations(t)
	})

	t.Run("missing ids are fatal", func(t *testing.T) {
		f := newServiceFixture()

		err := f.service.ProcessIdentifyEvent(ctx, &model.IdentifyPayload{
			OrgID:      "org_test",
			CustomerID: "cust-1",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
	})

	t.Run("storage error is retryable", func(t *testing.T) {
		f := newServiceFixture()
		f.touchpointRepo.On("ReassignCustomer", mock.Anything, mock.Anything, mock.Anything).
			Return(int64(0), apperrors.ErrDatabase)

		err := f.service.ProcessIdentifyEvent(ctx, &model.IdentifyPayload{
			OrgID:       "org_test",
			AnonymousID: "anon-1",
			CustomerID:  "cust-1",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})
}

func TestProcessHistoricalBatch(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("bulk upserts touchpoints and tracks conversions", func(t *testing.T) {
		f := newServiceFixture()

		f.touchpointRepo.On("BulkUpsert", mock.Anything, mock.MatchedBy(func(tps []model.Touchpoint) bool {
			return len(tps) == 1 && tps[0].OrgID == "org_test"
		})).Return(nil)
		f.conversionRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
		f.configRepo.On("FindByOrgID", mock.Anything).Return(nil, apperrors.ErrNotFound)
		f.touchpointRepo.On("FindUnlinkedInWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]model.Touchpoint{}, nil)

		payload := &model.HistoricalEventsPayload{
			Events: []model.TrackEventPayload{
				{EventID: "evt-1", OrgID: "org_test", EventType: "ad_click", CustomerID: "cust-1", Timestamp: time.Now().UnixMilli()},
				{EventID: "evt-2", OrgID: "org_test", EventType: "purchase", CustomerID: "cust-1", Timestamp: time.Now().UnixMilli()},
				{EventID: "evt-3", OrgID: "org_test", EventType: "page_view", CustomerID: "cust-1", Timestamp: time.Now().UnixMilli()},
			},
			IsLastBatch: true,
		}

		err := f.service.ProcessHistoricalBatch(ctx, payload)
		require.NoError(t, err)
		f.touchpointRepo.AssertExpectations(t)
		f.conversionRepo.AssertExpectations(t)
	})

	t.Run("upsert failure is retryable", func(t *testing.T) {
		f := newServiceFixture()
		f.touchpointRepo.On("BulkUpsert", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase)

		payload := &model.HistoricalEventsPayload{
			Events: []model.TrackEventPayload{
				{EventID: "evt-1", OrgID: "org_test", EventType: "ad_click", CustomerID: "cust-1", Timestamp: time.Now().UnixMilli()},
			},
		}

		err := f.service.ProcessHistoricalBatch(ctx, payload)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("missing tenant is fatal", func(t *testing.T) {
		f := newServiceFixture()

		payload := &model.HistoricalEventsPayload{
			Events: []model.TrackEventPayload{
				{EventID: "evt-1", OrgID: "org_test", EventType: "ad_click", CustomerID: "cust-1", Timestamp: time.Now().UnixMilli()},
			},
		}

		err := f.service.ProcessHistoricalBatch(context.Background(), payload)
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
	})
}

func TestProcessTrainCommand(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	validPayload := func() *model.MMMTrainPayload {
		return &model.MMMTrainPayload{
			OrgID:   "org_test",
			ModelID: "mmm-1",
			Rows: []model.MMMSpendRowPayload{
				{Date: "2026-01-01", Spend: map[string]float64{"search": 100}, Target: 40},
				{Date: "2026-01-02", Spend: map[string]float64{"search": 120}, Target: 48},
			},
		}
	}

	t.Run("queues a training task with parsed dates", func(t *testing.T) {
		f := newServiceFixture()
		f.trainingWorker.On("SubmitTask", mock.MatchedBy(func(task TrainingTaskData) bool {
			if task.OrgID != "org_test" || task.ModelID != "mmm-1" || len(task.Rows) != 2 {
				return false
			}
			return task.Rows[0].Date.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		})).Return(nil)

		err := f.service.ProcessTrainCommand(ctx, validPayload())
		require.NoError(t, err)
		f.trainingWorker.AssertExpectations(t)
	})

	t.Run("bad date is fatal", func(t *testing.T) {
		f := newServiceFixture()

		payload := validPayload()
		payload.Rows[1].Date = "01/02/2026"

		err := f.service.ProcessTrainCommand(ctx, payload)
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
		f.trainingWorker.AssertNotCalled(t, "SubmitTask", mock.Anything)
	})

	t.Run("empty rows are fatal", func(t *testing.T) {
		f := newServiceFixture()

		payload := validPayload()
		payload.Rows = nil

		err := f.service.ProcessTrainCommand(ctx, payload)
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
	})

	t.Run("pool overload is retryable", func(t *testing.T) {
		f := newServiceFixture()
		f.trainingWorker.On("SubmitTask", mock.Anything).Return(errors.New("pool overloaded"))

		err := f.service.ProcessTrainCommand(ctx, validPayload())
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})
}

func TestProcessConfigCommand(t *testing.T) {
	ctx := tenant.WithOrgID(context.Background(), "org_test")

	t.Run("upserts the config with defaults filled in", func(t *testing.T) {
		f := newServiceFixture()
		f.configRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(cfg model.AttributionModelConfig) bool {
			return cfg.OrgID == "org_test" &&
				cfg.ModelType == model.AttributionPositionBased &&
				cfg.LookbackWindowDays == 30 &&
				cfg.HalfLifeDays == 7 &&
				cfg.FirstTouchWeight == 0.4 &&
				cfg.LastTouchWeight == 0.4
		})).Return(nil)

		err := f.service.ProcessConfigCommand(ctx, &model.AttributionConfigPayload{
			OrgID:            "org_test",
			ModelType:        "position_based",
			FirstTouchWeight: 0.4,
			LastTouchWeight:  0.4,
		})
		require.NoError(t, err)
		f.configRepo.AssertExpectations(t)
	})

	t.Run("anchor weights summing past one are rejected", func(t *testing.T) {
		f := newServiceFixture()

		err := f.service.ProcessConfigCommand(ctx, &model.AttributionConfigPayload{
			OrgID:            "org_test",
			ModelType:        "position_based",
			FirstTouchWeight: 0.7,
			LastTouchWeight:  0.7,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
		f.configRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("unknown model type is fatal", func(t *testing.T) {
		f := newServiceFixture()

		err := f.service.ProcessConfigCommand(ctx, &model.AttributionConfigPayload{
			OrgID:     "org_test",
			ModelType: "markov_chain",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err))
		f.configRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("storage error is retryable", func(t *testing.T) {
		f := newServiceFixture()
		f.configRepo.On("Upsert", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase)

		err := f.service.ProcessConfigCommand(ctx, &model.AttributionConfigPayload{
			OrgID:     "org_test",
			ModelType: "linear",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	})
}
