package storage

import (
	"context"
	"time"

	"github.com/marketfuse/attribution-engine/internal/model"
)

// TouchpointRepo defines touchpoint storage operations
type TouchpointRepo interface {
	Save(ctx context.Context, touchpoint model.Touchpoint) error
	FindByEventID(ctx context.Context, eventID string) (*model.Touchpoint, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]model.Touchpoint, error)
	FindUnlinkedInWindow(ctx context.Context, customerID string, from, to time.Time) ([]model.Touchpoint, error)
	FindByConversionID(ctx context.Context, conversionEventID string) ([]model.Touchpoint, error)
	LinkToConversion(ctx context.Context, touchpointID, conversionEventID string, position int, timeToConversion float64) error
	ReassignCustomer(ctx context.Context, fromCustomerID, toCustomerID string) (int64, error)
	BulkUpsert(ctx context.Context, touchpoints []model.Touchpoint) error
	Close(ctx context.Context) error
}

// ConversionRepo defines conversion event storage operations
type ConversionRepo interface {
	Save(ctx context.Context, conversion model.ConversionEvent) error
	UpdateStatus(ctx context.Context, conversionID string, status model.ConversionStatus) error
	FindByID(ctx context.Context, id string) (*model.ConversionEvent, error)
	FindByEventID(ctx context.Context, eventID string) (*model.ConversionEvent, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]model.ConversionEvent, error)
	FindByStatus(ctx context.Context, status model.ConversionStatus, limit int) ([]model.ConversionEvent, error)
	Close(ctx context.Context) error
}

// AttributionRepo defines attribution result storage operations
type AttributionRepo interface {
	// CommitForConversion atomically supersedes the current rows for the
	// (conversion, model) pair, inserts the replacement rows and marks the
	// conversion attributed. Returns the number of rows superseded.
	CommitForConversion(ctx context.Context, conversionEventID string, modelType model.AttributionModelType, attributions []model.Attribution) (int64, error)
	FindByConversionID(ctx context.Context, conversionEventID string, modelType model.AttributionModelType) ([]model.Attribution, error)
	SummarizeByChannel(ctx context.Context, modelType model.AttributionModelType, from, to time.Time) (*model.AttributionSummary, error)
	Close(ctx context.Context) error
}

// ModelConfigRepo defines attribution model configuration storage operations
type ModelConfigRepo interface {
	Upsert(ctx context.Context, cfg model.AttributionModelConfig) error
	FindByOrgID(ctx context.Context) (*model.AttributionModelConfig, error)
	Close(ctx context.Context) error
}

// ExhaustedEventRepo defines storage operations for DLQ events that ran out
// of retries.
type ExhaustedEventRepo interface {
	Save(ctx context.Context, event model.ExhaustedEvent) error
	Close(ctx context.Context) error
}

// MMMRepo defines marketing mix model storage operations
type MMMRepo interface {
	SaveModel(ctx context.Context, m model.MarketingMixModel) error
	UpdateModel(ctx context.Context, m model.MarketingMixModel) error
	FindModelByID(ctx context.Context, id string) (*model.MarketingMixModel, error)
	FindModelsByOrgID(ctx context.Context) ([]model.MarketingMixModel, error)
	SavePrediction(ctx context.Context, p model.MMMPrediction) error
	SaveOptimization(ctx context.Context, o model.MMMBudgetOptimization) error
	Close(ctx context.Context) error
}
