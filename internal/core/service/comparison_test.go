package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

func okOutcome(provider string, wh float64) domain.ProviderOutcome {
	return domain.ProviderOutcome{
		Provider: provider,
		Result:   &domain.ForecastResult{Provider: provider, EnergyWh: wh},
	}
}

func failedOutcome(provider string) domain.ProviderOutcome {
	return domain.ProviderOutcome{
		Provider: provider,
		Err:      domain.NewNetworkError(provider, "connection refused", nil),
	}
}

func testEngine() *ComparisonEngine {
	return NewComparisonEngine(0, 0, zap.NewNop())
}

func TestCompareTwoProviders(t *testing.T) {

	require := require.New(t)

	record := testEngine().Compare("2026-03-15", []domain.ProviderOutcome{
		okOutcome("solcast", 8500),
		okOutcome("forecast.solar", 12300),
	})

	require.Equal(2, record.SuccessCount)
	assert.InDelta(t, 10400.0, record.AverageWh, 0.001)
	assert.InDelta(t, 3800.0, record.RangeWh, 0.001)
	assert.InDelta(t, 36.538, record.VariancePct, 0.01)
	assert.Equal(t, domain.DISAGREEMENT_HIGH, record.Level)
}

func TestCompareAgreementLevels(t *testing.T) {

	cases := []struct {
		name  string
		a, b  float64
		level domain.DisagreementLevel
	}{
		{"identical", 10000, 10000, domain.DISAGREEMENT_LOW},
		{"small spread", 10000, 11000, domain.DISAGREEMENT_LOW},
		{"moderate spread", 9000, 11000, domain.DISAGREEMENT_MODERATE},
		{"just under high threshold", 8600, 11400, domain.DISAGREEMENT_MODERATE},
		{"large spread", 7000, 13000, domain.DISAGREEMENT_HIGH},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := testEngine().Compare("2026-03-15", []domain.ProviderOutcome{
				okOutcome("solcast", tc.a),
				okOutcome("forecast.solar", tc.b),
			})
			assert.Equal(t, tc.level, record.Level)
		})
	}
}

func TestCompareIgnoresFailedProviders(t *testing.T) {

	require := require.New(t)

	record := testEngine().Compare("2026-03-15", []domain.ProviderOutcome{
		failedOutcome("solcast"),
		okOutcome("forecast.solar", 12300),
	})

	require.Equal(1, record.SuccessCount)
	assert.InDelta(t, 12300.0, record.AverageWh, 0.001)
	assert.Zero(t, record.VariancePct)
	assert.Equal(t, domain.DISAGREEMENT_LOW, record.Level)
}

func TestCompareAllFailed(t *testing.T) {

	record := testEngine().Compare("2026-03-15", []domain.ProviderOutcome{
		failedOutcome("solcast"),
		failedOutcome("forecast.solar"),
	})

	assert.Zero(t, record.SuccessCount)
	assert.Zero(t, record.AverageWh)
	assert.Equal(t, domain.DISAGREEMENT_LOW, record.Level)
}

func TestCompareCustomThresholds(t *testing.T) {

	engine := NewComparisonEngine(5, 10, zap.NewNop())

	record := engine.Compare("2026-03-15", []domain.ProviderOutcome{
		okOutcome("solcast", 10000),
		okOutcome("forecast.solar", 10700),
	})
	// ~6.76% variance: moderate under tightened thresholds
	assert.Equal(t, domain.DISAGREEMENT_MODERATE, record.Level)
}
