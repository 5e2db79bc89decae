package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

type fakeProvider struct {
	id    string
	wh    float64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *fakeProvider) Id() string {
	return p.id
}

func (p *fakeProvider) TestConnection(ctx context.Context) error {
	return p.err
}

func (p *fakeProvider) FetchForecast(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, domain.NewNetworkError(p.id, "request timed out", ctx.Err())
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ForecastResult{
		Provider:  p.id,
		EnergyWh:  p.wh,
		FetchedAt: time.Now(),
	}, nil
}

func testManager(t *testing.T, providers []port.ForecastProvider, primary string,
	fallbackEnabled, compareAll bool, budget port.RateBudget) *ProviderManager {

	t.Helper()
	if budget == nil {
		budget = testBudget(nil)
	}
	manager, err := NewProviderManager(providers, primary, fallbackEnabled, compareAll,
		time.Second, budget, testEngine(), zap.NewNop())
	require.NoError(t, err)
	return manager
}

func testRequest() domain.ForecastRequest {
	return domain.ForecastRequest{
		TargetDate:   time.Date(2025, 10, 14, 0, 0, 0, 0, time.Local),
		Latitude:     40.4,
		Longitude:    -3.7,
		Declination:  30,
		Azimuth:      0,
		KilowattPeak: 5.5,
	}
}

func TestManagerPrimaryMustBeConfigured(t *testing.T) {

	_, err := NewProviderManager([]port.ForecastProvider{&fakeProvider{id: "a", wh: 1}},
		"b", true, false, time.Second, testBudget(nil), testEngine(), zap.NewNop())
	require.Error(t, err)
}

func TestManagerSingleMode(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", wh: 9000}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12000}
	manager := testManager(t, []port.ForecastProvider{primary, secondary}, "solcast", false, false, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.NoError(err)
	require.NotNil(run.Decision)
	assert.Equal(t, "solcast", run.Decision.Provider)
	assert.Len(t, run.Outcomes, 1)
	assert.Zero(t, secondary.calls.Load())
}

func TestManagerSingleModeFailureIsTotal(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", err: domain.NewNetworkError("solcast", "connection refused", nil)}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12000}
	manager := testManager(t, []port.ForecastProvider{primary, secondary}, "solcast", false, false, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.Error(err)
	require.IsType(&domain.TotalFailureError{}, err)
	assert.Nil(t, run.Decision)
	assert.Zero(t, secondary.calls.Load())

	// plain exhaustion, not a policy outcome
	var total *domain.TotalFailureError
	require.ErrorAs(err, &total)
	assert.Empty(t, total.Reason)
}

func TestManagerFallbackOrdering(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", err: domain.NewNetworkError("solcast", "connection refused", nil)}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12300}
	third := &fakeProvider{id: "other", wh: 9000}
	manager := testManager(t, []port.ForecastProvider{primary, secondary, third}, "solcast", true, false, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.NoError(err)
	require.NotNil(run.Decision)
	assert.Equal(t, "forecast.solar", run.Decision.Provider)
	assert.InDelta(t, 12300.0, run.Decision.EnergyWh, 0.001)
	assert.True(t, run.FallbackUsed)

	// outcome set contains both the failure and the success,
	// and the third provider was never called
	require.Len(run.Outcomes, 2)
	assert.False(t, run.Outcomes[0].OK())
	assert.True(t, run.Outcomes[1].OK())
	assert.Zero(t, third.calls.Load())
}

func TestManagerFallbackExhaustion(t *testing.T) {

	require := require.New(t)

	a := &fakeProvider{id: "solcast", err: domain.NewAuthenticationError("solcast", "api key rejected")}
	b := &fakeProvider{id: "forecast.solar", err: domain.NewNetworkError("forecast.solar", "connection refused", nil)}
	manager := testManager(t, []port.ForecastProvider{a, b}, "solcast", true, false, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.Error(err)

	var total *domain.TotalFailureError
	require.ErrorAs(err, &total)
	require.Len(total.Errors, 2)
	assert.Equal(t, domain.ERROR_KIND_AUTHENTICATION, total.Errors[0].Kind)
	assert.Equal(t, domain.ERROR_KIND_NETWORK, total.Errors[1].Kind)
	assert.Nil(t, run.Decision)
}

func TestManagerCompareModeIndependence(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", err: domain.NewNetworkError("solcast", "connection refused", nil)}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12300}
	manager := testManager(t, []port.ForecastProvider{primary, secondary}, "solcast", true, true, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.NoError(err)

	// both outcomes recorded even though one failed
	require.Len(run.Outcomes, 2)
	assert.False(t, run.Outcomes[0].OK())
	assert.True(t, run.Outcomes[1].OK())

	require.NotNil(run.Decision)
	assert.Equal(t, "forecast.solar", run.Decision.Provider)
	assert.True(t, run.FallbackUsed)
	assert.Equal(t, 1, run.Comparison.SuccessCount)
}

func TestManagerCompareModeFallbackDisabled(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", err: domain.NewNetworkError("solcast", "connection refused", nil)}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12300}
	manager := testManager(t, []port.ForecastProvider{primary, secondary}, "solcast", false, true, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.Error(err)
	assert.Nil(t, run.Decision)

	var total *domain.TotalFailureError
	require.ErrorAs(err, &total)
	assert.Equal(t, "fallback disabled", total.Reason)

	// alternatives are still collected for logging
	require.Len(run.Outcomes, 2)
	assert.True(t, run.Outcomes[1].OK())
}

func TestManagerCompareModeAllCalled(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", wh: 8500}
	secondary := &fakeProvider{id: "forecast.solar", wh: 12300}
	manager := testManager(t, []port.ForecastProvider{primary, secondary}, "solcast", true, true, nil)

	run, err := manager.Run(context.Background(), testRequest())
	require.NoError(err)
	assert.Equal(t, "solcast", run.Decision.Provider)
	assert.False(t, run.FallbackUsed)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
	assert.Equal(t, domain.DISAGREEMENT_HIGH, run.Comparison.Level)
}

func TestManagerCallTimeoutBecomesNetworkError(t *testing.T) {

	require := require.New(t)

	slow := &fakeProvider{id: "solcast", wh: 9000, delay: 5 * time.Second}
	manager, err := NewProviderManager([]port.ForecastProvider{slow}, "solcast", false, false,
		50*time.Millisecond, testBudget(nil), testEngine(), zap.NewNop())
	require.NoError(err)

	run, err := manager.Run(context.Background(), testRequest())
	require.Error(err)
	require.Len(run.Outcomes, 1)
	require.NotNil(run.Outcomes[0].Err)
	assert.Equal(t, domain.ERROR_KIND_NETWORK, run.Outcomes[0].Err.Kind)
}

func TestManagerRateLimitShortCircuit(t *testing.T) {

	require := require.New(t)

	primary := &fakeProvider{id: "solcast", wh: 9000}
	budget := testBudget(map[string]int{"solcast": 1})
	manager := testManager(t, []port.ForecastProvider{primary}, "solcast", false, false, budget)

	_, err := manager.Run(context.Background(), testRequest())
	require.NoError(err)

	// budget exhausted: no network call happens on the second run
	run, err := manager.Run(context.Background(), testRequest())
	require.Error(err)
	require.Len(run.Outcomes, 1)
	assert.Equal(t, domain.ERROR_KIND_RATE_LIMIT, run.Outcomes[0].Err.Kind)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestManagerTestConnections(t *testing.T) {

	require := require.New(t)

	ok := &fakeProvider{id: "solcast", wh: 9000}
	broken := &fakeProvider{id: "forecast.solar", err: domain.NewAuthenticationError("forecast.solar", "api key rejected")}
	manager := testManager(t, []port.ForecastProvider{ok, broken}, "solcast", true, false, nil)

	results := manager.TestConnections(context.Background())
	require.Len(results, 2)
	assert.NoError(t, results["solcast"])
	require.Error(results["forecast.solar"])

	var provErr *domain.ProviderError
	require.ErrorAs(results["forecast.solar"], &provErr)
	assert.Equal(t, domain.ERROR_KIND_AUTHENTICATION, provErr.Kind)
}

func TestManagerTestConnectionsConsumesBudget(t *testing.T) {

	require := require.New(t)

	ok := &fakeProvider{id: "solcast", wh: 9000}
	budget := testBudget(map[string]int{"solcast": 1})
	manager := testManager(t, []port.ForecastProvider{ok}, "solcast", false, false, budget)

	results := manager.TestConnections(context.Background())
	require.NoError(results["solcast"])
	assert.Zero(t, budget.Remaining("solcast"))
}

func TestManagerConfigurationErrorReleasesBudget(t *testing.T) {

	require := require.New(t)

	broken := &fakeProvider{id: "solcast", err: domain.NewConfigurationError("solcast", "api key missing")}
	budget := testBudget(map[string]int{"solcast": 1})
	manager := testManager(t, []port.ForecastProvider{broken}, "solcast", false, false, budget)

	_, err := manager.Run(context.Background(), testRequest())
	require.Error(err)

	// pre-flight failures never reach the network, so the slot comes back
	assert.Equal(t, 1, budget.Remaining("solcast"))
}
