package storage

import (
	"context"
	"time"

	"github.com/marketfuse/attribution-engine/internal/model"
)

// TouchpointRepoAdapter adapts the PostgresRepo to the TouchpointRepo interface
type TouchpointRepoAdapter struct {
	postgres *PostgresRepo
}

// NewTouchpointRepoAdapter creates a new touchpoint repository adapter
func NewTouchpointRepoAdapter(postgres *PostgresRepo) TouchpointRepo {
	return &TouchpointRepoAdapter{postgres: postgres}
}

// Save saves a touchpoint
func (a *TouchpointRepoAdapter) Save(ctx context.Context, touchpoint model.Touchpoint) error {
	return a.postgres.SaveTouchpoint(ctx, touchpoint)
}

// FindByEventID finds a touchpoint by its source event ID
func (a *TouchpointRepoAdapter) FindByEventID(ctx context.Context, eventID string) (*model.Touchpoint, error) {
	return a.postgres.FindTouchpointByEventID(ctx, eventID)
}

// FindByCustomerID finds all touchpoints for a customer
func (a *TouchpointRepoAdapter) FindByCustomerID(ctx context.Context, customerID string) ([]model.Touchpoint, error) {
	return a.postgres.FindTouchpointsByCustomerID(ctx, customerID)
}

// FindUnlinkedInWindow finds linkable touchpoints within a time window
func (a *TouchpointRepoAdapter) FindUnlinkedInWindow(ctx context.Context, customerID string, from, to time.Time) ([]model.Touchpoint, error) {
	return a.postgres.FindUnlinkedTouchpointsInWindow(ctx, customerID, from, to)
}

// FindByConversionID finds the touchpoints linked to a conversion
func (a *TouchpointRepoAdapter) FindByConversionID(ctx context.Context, conversionEventID string) ([]model.Touchpoint, error) {
	return a.postgres.FindTouchpointsByConversionID(ctx, conversionEventID)
}

// LinkToConversion links a touchpoint to a conversion
func (a *TouchpointRepoAdapter) LinkToConversion(ctx context.Context, touchpointID, conversionEventID string, position int, timeToConversion float64) error {
	return a.postgres.LinkTouchpointToConversion(ctx, touchpointID, conversionEventID, position, timeToConversion)
}

// ReassignCustomer moves unlinked touchpoints between customer IDs
func (a *TouchpointRepoAdapter) ReassignCustomer(ctx context.Context, fromCustomerID, toCustomerID string) (int64, error) {
	return a.postgres.ReassignTouchpointCustomer(ctx, fromCustomerID, toCustomerID)
}

// BulkUpsert performs a bulk insert of touchpoints
func (a *TouchpointRepoAdapter) BulkUpsert(ctx context.Context, touchpoints []model.Touchpoint) error {
	return a.postgres.BulkUpsertTouchpoints(ctx, touchpoints)
}

func (a *TouchpointRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ConversionRepoAdapter adapts the PostgresRepo to the ConversionRepo interface
type ConversionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversionRepoAdapter creates a new conversion repository adapter
func NewConversionRepoAdapter(postgres *PostgresRepo) ConversionRepo {
	return &ConversionRepoAdapter{postgres: postgres}
}

// Save saves a conversion event
func (a *ConversionRepoAdapter) Save(ctx context.Context, conversion model.ConversionEvent) error {
	return a.postgres.SaveConversionEvent(ctx, conversion)
}

// UpdateStatus updates a conversion's lifecycle status
func (a *ConversionRepoAdapter) UpdateStatus(ctx context.Context, conversionID string, status model.ConversionStatus) error {
	return a.postgres.UpdateConversionStatus(ctx, conversionID, status)
}

// FindByID finds a conversion by ID
func (a *ConversionRepoAdapter) FindByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	return a.postgres.FindConversionByID(ctx, id)
}

// FindByEventID finds a conversion by its source event ID
func (a *ConversionRepoAdapter) FindByEventID(ctx context.Context, eventID string) (*model.ConversionEvent, error) {
	return a.postgres.FindConversionByEventID(ctx, eventID)
}

// FindByCustomerID finds all conversions for a customer
func (a *ConversionRepoAdapter) FindByCustomerID(ctx context.Context, customerID string) ([]model.ConversionEvent, error) {
	return a.postgres.FindConversionsByCustomerID(ctx, customerID)
}

// FindByStatus finds conversions in a given status
func (a *ConversionRepoAdapter) FindByStatus(ctx context.Context, status model.ConversionStatus, limit int) ([]model.ConversionEvent, error) {
	return a.postgres.FindConversionsByStatus(ctx, status, limit)
}

func (a *ConversionRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// AttributionRepoAdapter adapts the PostgresRepo to the AttributionRepo interface
type AttributionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAttributionRepoAdapter creates a new attribution repository adapter
func NewAttributionRepoAdapter(postgres *PostgresRepo) AttributionRepo {
	return &AttributionRepoAdapter{postgres: postgres}
}

// CommitForConversion atomically replaces the rows for a conversion/model pair
func (a *AttributionRepoAdapter) CommitForConversion(ctx context.Context, conversionEventID string, modelType model.AttributionModelType, attributions []model.Attribution) (int64, error) {
	return a.postgres.CommitAttributionSet(ctx, conversionEventID, modelType, attributions)
}

// FindByConversionID finds the current rows for a conversion/model pair
func (a *AttributionRepoAdapter) FindByConversionID(ctx context.Context, conversionEventID string, modelType model.AttributionModelType) ([]model.Attribution, error) {
	return a.postgres.FindAttributionsByConversionID(ctx, conversionEventID, modelType)
}

// SummarizeByChannel rolls up attribution per channel
func (a *AttributionRepoAdapter) SummarizeByChannel(ctx context.Context, modelType model.AttributionModelType, from, to time.Time) (*model.AttributionSummary, error) {
	return a.postgres.SummarizeAttributionByChannel(ctx, modelType, from, to)
}

func (a *AttributionRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ModelConfigRepoAdapter adapts the PostgresRepo to the ModelConfigRepo interface
type ModelConfigRepoAdapter struct {
	postgres *PostgresRepo
}

// NewModelConfigRepoAdapter creates a new model config repository adapter
func NewModelConfigRepoAdapter(postgres *PostgresRepo) ModelConfigRepo {
	return &ModelConfigRepoAdapter{postgres: postgres}
}

// Upsert creates or replaces the organization's model config
func (a *ModelConfigRepoAdapter) Upsert(ctx context.Context, cfg model.AttributionModelConfig) error {
	return a.postgres.UpsertAttributionModelConfig(ctx, cfg)
}

// FindByOrgID returns the organization's model config
func (a *ModelConfigRepoAdapter) FindByOrgID(ctx context.Context) (*model.AttributionModelConfig, error) {
	return a.postgres.FindAttributionModelConfig(ctx)
}

func (a *ModelConfigRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ExhaustedEventRepoAdapter adapts the PostgresRepo to the ExhaustedEventRepo interface
type ExhaustedEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExhaustedEventRepoAdapter creates a new exhausted event repository adapter
func NewExhaustedEventRepoAdapter(postgres *PostgresRepo) ExhaustedEventRepo {
	return &ExhaustedEventRepoAdapter{postgres: postgres}
}

// Save saves an exhausted DLQ event
func (a *ExhaustedEventRepoAdapter) Save(ctx context.Context, event model.ExhaustedEvent) error {
	return a.postgres.SaveExhaustedEvent(ctx, event)
}

func (a *ExhaustedEventRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// MMMRepoAdapter adapts the PostgresRepo to the MMMRepo interface
type MMMRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMMMRepoAdapter creates a new marketing mix model repository adapter
func NewMMMRepoAdapter(postgres *PostgresRepo) MMMRepo {
	return &MMMRepoAdapter{postgres: postgres}
}

// SaveModel saves a model definition
func (a *MMMRepoAdapter) SaveModel(ctx context.Context, m model.MarketingMixModel) error {
	return a.postgres.SaveMarketingMixModel(ctx, m)
}

// UpdateModel updates a model
func (a *MMMRepoAdapter) UpdateModel(ctx context.Context, m model.MarketingMixModel) error {
	return a.postgres.UpdateMarketingMixModel(ctx, m)
}

// FindModelByID finds a model by ID
func (a *MMMRepoAdapter) FindModelByID(ctx context.Context, id string) (*model.MarketingMixModel, error) {
	return a.postgres.FindMarketingMixModelByID(ctx, id)
}

// FindModelsByOrgID finds all of the organization's models
func (a *MMMRepoAdapter) FindModelsByOrgID(ctx context.Context) ([]model.MarketingMixModel, error) {
	return a.postgres.FindMarketingMixModelsByOrgID(ctx)
}

// SavePrediction saves a forecast record
func (a *MMMRepoAdapter) SavePrediction(ctx context.Context, p model.MMMPrediction) error {
	return a.postgres.SaveMMMPrediction(ctx, p)
}

// SaveOptimization saves a budget optimization record
func (a *MMMRepoAdapter) SaveOptimization(ctx context.Context, o model.MMMBudgetOptimization) error {
	return a.postgres.SaveMMMBudgetOptimization(ctx, o)
}

func (a *MMMRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}
