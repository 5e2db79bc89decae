package port

import (
	"context"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

// ForecastProvider is a remote solar forecast source. Implementations map
// transport failures to the typed errors in the domain package and never
// retry on their own.
type ForecastProvider interface {
	Id() string
	// TestConnection checks credentials and reachability. Depending on the
	// provider this may consume request quota.
	TestConnection(ctx context.Context) error
	// FetchForecast returns the predicted yield for the request's target
	// date. One call is exactly one upstream request.
	FetchForecast(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastResult, error)
}

// RateBudget guards a provider's daily request quota. Reserve must be called
// before every upstream request; Release returns a reservation that was never
// spent on the wire.
type RateBudget interface {
	Reserve(provider string) error
	Release(provider string)
	Remaining(provider string) int
}
