package port

import (
	"context"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

// ForecastStore persists predictions, provider comparisons and accuracy
// records. Backends are append oriented; for a given (date, provider) pair
// the most recently appended accuracy row wins.
type ForecastStore interface {
	AppendPrediction(ctx context.Context, record domain.PredictionRecord) error
	AppendComparison(ctx context.Context, record domain.ComparisonRecord) error

	// AppendPendingAccuracy files a forecast awaiting its realized value.
	AppendPendingAccuracy(ctx context.Context, record domain.AccuracyRecord) error
	// PendingAccuracy returns the records for date still missing an actual.
	PendingAccuracy(ctx context.Context, date string) ([]domain.AccuracyRecord, error)
	// CompleteAccuracy appends the completed record, superseding its pending row.
	CompleteAccuracy(ctx context.Context, record domain.AccuracyRecord) error
	// CompletedAccuracy returns all completed records for a provider,
	// or for every provider when provider is empty.
	CompletedAccuracy(ctx context.Context, provider string) ([]domain.AccuracyRecord, error)

	Close() error
}
