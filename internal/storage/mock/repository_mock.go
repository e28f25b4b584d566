package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/marketfuse/attribution-engine/internal/model"
)

// --- TouchpointRepo Mock ---

// TouchpointRepoMock mocks the TouchpointRepo interface
type TouchpointRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *TouchpointRepoMock) Save(ctx context.Context, touchpoint model.Touchpoint) error {
	args := m.Called(ctx, touchpoint)
	return args.Error(0)
}

// FindByEventID mocks the FindByEventID method
func (m *TouchpointRepoMock) FindByEventID(ctx context.Context, eventID string) (*model.Touchpoint, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Touchpoint), args.Error(1)
}

// FindByCustomerID mocks the FindByCustomerID method
func (m *TouchpointRepoMock) FindByCustomerID(ctx context.Context, customerID string) ([]model.Touchpoint, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Touchpoint), args.Error(1)
}

// FindUnlinkedInWindow mocks the FindUnlinkedInWindow method
func (m *TouchpointRepoMock) FindUnlinkedInWindow(ctx context.Context, customerID string, from, to time.Time) ([]model.Touchpoint, error) {
	args := m.Called(ctx, customerID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Touchpoint), args.Error(1)
}

// FindByConversionID mocks the FindByConversionID method
func (m *TouchpointRepoMock) FindByConversionID(ctx context.Context, conversionEventID string) ([]model.Touchpoint, error) {
	args := m.Called(ctx, conversionEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Touchpoint), args.Error(1)
}

// LinkToConversion mocks the LinkToConversion method
func (m *TouchpointRepoMock) LinkToConversion(ctx context.Context, touchpointID, conversionEventID string, position int, timeToConversion float64) error {
	args := m.Called(ctx, touchpointID, conversionEventID, position, timeToConversion)
	return args.Error(0)
}

// ReassignCustomer mocks the ReassignCustomer method
func (m *TouchpointRepoMock) ReassignCustomer(ctx context.Context, fromCustomerID, toCustomerID string) (int64, error) {
	args := m.Called(ctx, fromCustomerID, toCustomerID)
	return args.Get(0).(int64), args.Error(1)
}

// BulkUpsert mocks the BulkUpsert method
func (m *TouchpointRepoMock) BulkUpsert(ctx context.Context, touchpoints []model.Touchpoint) error {
	args := m.Called(ctx, touchpoints)
	return args.Error(0)
}

func (m *TouchpointRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ConversionRepo Mock ---

// ConversionRepoMock mocks the ConversionRepo interface
type ConversionRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ConversionRepoMock) Save(ctx context.Context, conversion model.ConversionEvent) error {
	args := m.Called(ctx, conversion)
	return args.Error(0)
}

// UpdateStatus mocks the UpdateStatus method
func (m *ConversionRepoMock) UpdateStatus(ctx context.Context, conversionID string, status model.ConversionStatus) error {
	args := m.Called(ctx, conversionID, status)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *ConversionRepoMock) FindByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversionEvent), args.Error(1)
}

// FindByEventID mocks the FindByEventID method
func (m *ConversionRepoMock) FindByEventID(ctx context.Context, eventID string) (*model.ConversionEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversionEvent), args.Error(1)
}

// FindByCustomerID mocks the FindByCustomerID method
func (m *ConversionRepoMock) FindByCustomerID(ctx context.Context, customerID string) ([]model.ConversionEvent, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConversionEvent), args.Error(1)
}

// FindByStatus mocks the FindByStatus method
func (m *ConversionRepoMock) FindByStatus(ctx context.Context, status model.ConversionStatus, limit int) ([]model.ConversionEvent, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConversionEvent), args.Error(1)
}

func (m *ConversionRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- AttributionRepo Mock ---

// AttributionRepoMock mocks the AttributionRepo interface
type AttributionRepoMock struct {
	mock.Mock
}

// CommitForConversion mocks the CommitForConversion method
func (m *AttributionRepoMock) CommitForConversion(ctx context.Context, conversionEventID string, modelType model.AttributionModelType, attributions []model.Attribution) (int64, error) {
	args := m.Called(ctx, conversionEventID, modelType, attributions)
	return args.Get(0).(int64), args.Error(1)
}

// FindByConversionID mocks the FindByConversionID method
func (m *AttributionRepoMock) FindByConversionID(ctx context.Context, conversionEventID string, modelType model.AttributionModelType) ([]model.Attribution, error) {
	args := m.Called(ctx, conversionEventID, modelType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Attribution), args.Error(1)
}

// SummarizeByChannel mocks the SummarizeByChannel method
func (m *AttributionRepoMock) SummarizeByChannel(ctx context.Context, modelType model.AttributionModelType, from, to time.Time) (*model.AttributionSummary, error) {
	args := m.Called(ctx, modelType, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AttributionSummary), args.Error(1)
}

func (m *AttributionRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ModelConfigRepo Mock ---

// ModelConfigRepoMock mocks the ModelConfigRepo interface
type ModelConfigRepoMock struct {
	mock.Mock
}

// Upsert mocks the Upsert method
func (m *ModelConfigRepoMock) Upsert(ctx context.Context, cfg model.AttributionModelConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

// FindByOrgID mocks the FindByOrgID method
func (m *ModelConfigRepoMock) FindByOrgID(ctx context.Context) (*model.AttributionModelConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AttributionModelConfig), args.Error(1)
}

func (m *ModelConfigRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- MMMRepo Mock ---

// MMMRepoMock mocks the MMMRepo interface
type MMMRepoMock struct {
	mock.Mock
}

// SaveModel mocks the SaveModel method
func (m *MMMRepoMock) SaveModel(ctx context.Context, mm model.MarketingMixModel) error {
	args := m.Called(ctx, mm)
	return args.Error(0)
}

// UpdateModel mocks the UpdateModel method
func (m *MMMRepoMock) UpdateModel(ctx context.Context, mm model.MarketingMixModel) error {
	args := m.Called(ctx, mm)
	return args.Error(0)
}

// FindModelByID mocks the FindModelByID method
func (m *MMMRepoMock) FindModelByID(ctx context.Context, id string) (*model.MarketingMixModel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MarketingMixModel), args.Error(1)
}

// FindModelsByOrgID mocks the FindModelsByOrgID method
func (m *MMMRepoMock) FindModelsByOrgID(ctx context.Context) ([]model.MarketingMixModel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MarketingMixModel), args.Error(1)
}

// SavePrediction mocks the SavePrediction method
func (m *MMMRepoMock) SavePrediction(ctx context.Context, p model.MMMPrediction) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// SaveOptimization mocks the SaveOptimization method
func (m *MMMRepoMock) SaveOptimization(ctx context.Context, o model.MMMBudgetOptimization) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MMMRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ExhaustedEventRepo Mock ---

// ExhaustedEventRepoMock mocks the ExhaustedEventRepo interface
type ExhaustedEventRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ExhaustedEventRepoMock) Save(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *ExhaustedEventRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
