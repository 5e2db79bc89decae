package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

// Credentials holds the per-provider secrets. Never logged verbatim.
type Credentials struct {
	SolcastAPIKey       string
	SolcastResourceIds  string
	ForecastSolarAPIKey string
}

// FromId maps a provider identifier to its adapter. The set of identifiers
// is closed; unknown ids are configuration errors.
func FromId(id string, creds Credentials, site Site, logger *zap.Logger) (port.ForecastProvider, error) {
	switch id {
	case domain.PROVIDER_ID_SOLCAST:
		return NewSolcastProvider(creds.SolcastAPIKey, creds.SolcastResourceIds, site, logger), nil
	case domain.PROVIDER_ID_FORECAST_SOLAR:
		return NewForecastSolarProvider(creds.ForecastSolarAPIKey, site, logger), nil
	default:
		return nil, fmt.Errorf("unknown forecast provider %q", id)
	}
}

// Build instantiates the configured provider list, preserving order.
func Build(ids []string, creds Credentials, site Site, logger *zap.Logger) ([]port.ForecastProvider, error) {
	providers := make([]port.ForecastProvider, 0, len(ids))
	for _, id := range ids {
		p, err := FromId(id, creds, site, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
