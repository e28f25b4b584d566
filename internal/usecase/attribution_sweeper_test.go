package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap/zaptest"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
	"github.com/marketfuse/attribution-engine/internal/model"
	storagemock "github.com/marketfuse/attribution-engine/internal/storage/mock"
)

func newTestSweeper(t *testing.T, conversionRepo *storagemock.ConversionRepoMock, worker *AttributionWorkerMock) *AttributionSweeper {
	t.Helper()
	return NewAttributionSweeper(conversionRepo, worker, "org_test", time.Minute, 50, zaptest.NewLogger(t))
}

func TestSweepOnce_RequeuesPendingConversions(t *testing.T) {
	conversionRepo := new(storagemock.ConversionRepoMock)
	worker := new(AttributionWorkerMock)
	sweeper := newTestSweeper(t, conversionRepo, worker)

	pending := []model.ConversionEvent{
		{ID: "conv-1", OrgID: "org_test", Status: model.ConversionStatusPending},
		{ID: "conv-2", OrgID: "org_test", Status: model.ConversionStatusPending},
	}
	conversionRepo.On("FindByStatus", mock.Anything, model.ConversionStatusPending, 50).Return(pending, nil)
	worker.On("SubmitTask", mock.MatchedBy(func(task AttributionTaskData) bool {
		return task.OrgID == "org_test" && (task.ConversionID == "conv-1" || task.ConversionID == "conv-2")
	})).Return(nil)

	requeued, err := sweeper.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	worker.AssertNumberOfCalls(t, "SubmitTask", 2)
}

func TestSweepOnce_ToleratesSubmitRejection(t *testing.T) {
	conversionRepo := new(storagemock.ConversionRepoMock)
	worker := new(AttributionWorkerMock)
	sweeper := newTestSweeper(t, conversionRepo, worker)

	pending := []model.ConversionEvent{
		{ID: "conv-1", OrgID: "org_test", Status: model.ConversionStatusPending},
		{ID: "conv-2", OrgID: "org_test", Status: model.ConversionStatusPending},
	}
	conversionRepo.On("FindByStatus", mock.Anything, model.ConversionStatusPending, 50).Return(pending, nil)
	worker.On("SubmitTask", mock.MatchedBy(func(task AttributionTaskData) bool {
		return task.ConversionID == "conv-1"
	})).Return(errors.New("pool overloaded"))
	worker.On("SubmitTask", mock.MatchedBy(func(task AttributionTaskData) bool {
		return task.ConversionID == "conv-2"
	})).Return(nil)

	// A rejected submit leaves the conversion for the next sweep without
	// failing the pass.
	requeued, err := sweeper.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
}

func TestSweepOnce_FindErrorPropagates(t *testing.T) {
	conversionRepo := new(storagemock.ConversionRepoMock)
	worker := new(AttributionWorkerMock)
	sweeper := newTestSweeper(t, conversionRepo, worker)

	conversionRepo.On("FindByStatus", mock.Anything, model.ConversionStatusPending, 50).
		Return(nil, apperrors.ErrDatabase)

	_, err := sweeper.sweepOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	worker.AssertNotCalled(t, "SubmitTask", mock.Anything)
}

func TestSweepOnce_NoPendingIsNoop(t *testing.T) {
	conversionRepo := new(storagemock.ConversionRepoMock)
	worker := new(AttributionWorkerMock)
	sweeper := newTestSweeper(t, conversionRepo, worker)

	conversionRepo.On("FindByStatus", mock.Anything, model.ConversionStatusPending, 50).
		Return([]model.ConversionEvent{}, nil)

	requeued, err := sweeper.sweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, requeued)
	worker.AssertNotCalled(t, "SubmitTask", mock.Anything)
}

func TestSweeperStartStop(t *testing.T) {
	conversionRepo := new(storagemock.ConversionRepoMock)
	worker := new(AttributionWorkerMock)
	sweeper := NewAttributionSweeper(conversionRepo, worker, "org_test", time.Hour, 50, zaptest.NewLogger(t))

	sweeper.Start(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop in time")
	}
	conversionRepo.AssertNotCalled(t, "FindByStatus", mock.Anything, mock.Anything, mock.Anything)
}
