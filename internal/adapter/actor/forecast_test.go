package actor

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/adapter/provider"
	"github.com/berfenger/forecast2mqtt/internal/adapter/storage"
	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
	"github.com/berfenger/forecast2mqtt/internal/core/service"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	id  string
	wh  float64
	err error
}

func (p *stubProvider) Id() string {
	return p.id
}

func (p *stubProvider) TestConnection(ctx context.Context) error {
	return p.err
}

func (p *stubProvider) FetchForecast(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ForecastResult{
		Provider:  p.id,
		EnergyWh:  p.wh,
		FetchedAt: time.Now(),
	}, nil
}

var testActorSite = provider.Site{
	Latitude:     40.4,
	Longitude:    -3.7,
	Declination:  30,
	KilowattPeak: 5.5,
}

func spawnForecastActor(t *testing.T, store *storage.MemoryStore, providers ...port.ForecastProvider) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())

	manager, err := service.NewProviderManager(providers, providers[0].Id(), true, false,
		time.Second, service.NewRateBudgetTracker(nil, logger), service.NewComparisonEngine(0, 0, logger), logger)
	require.NoError(t, err)

	tracker := service.NewAccuracyTracker(store, logger)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewForecastActor(manager, tracker, testActorSite, logger)
	})
	return as, as.Root.Spawn(props)
}

func TestForecastActorRun(t *testing.T) {

	store := storage.NewMemoryStore()
	as, pid := spawnForecastActor(t, store, &stubProvider{id: "forecast.solar", wh: 12300})

	result, err := as.Root.RequestFuture(pid, domain.RunForecastRequest{Date: "2025-10-14"}, 5*time.Second).Result()
	require.NoError(t, err)

	resp, ok := result.(domain.RunForecastResponse)
	require.True(t, ok)
	require.False(t, resp.HasResponseError())
	require.NotNil(t, resp.Run)
	assert.Equal(t, "forecast.solar", resp.Run.DecisionProvider())
	assert.InDelta(t, 12300, resp.Run.Decision.EnergyWh, 0.001)
	assert.Equal(t, "2025-10-14", resp.Run.Date)

	// run must be persisted
	assert.Len(t, store.Predictions, 1)
	assert.Len(t, store.Comparisons, 1)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestForecastActorTotalFailure(t *testing.T) {

	store := storage.NewMemoryStore()
	as, pid := spawnForecastActor(t, store,
		&stubProvider{id: "forecast.solar", err: domain.NewAuthenticationError("forecast.solar", "bad key")})

	result, err := as.Root.RequestFuture(pid, domain.RunForecastRequest{Date: "2025-10-14"}, 5*time.Second).Result()
	require.NoError(t, err)

	resp, ok := result.(domain.RunForecastResponse)
	require.True(t, ok)
	assert.True(t, resp.HasResponseError())
	require.NotNil(t, resp.Run)
	assert.Nil(t, resp.Run.Decision)

	// the failed run still logs its comparison, but no prediction
	assert.Len(t, store.Predictions, 0)
	assert.Len(t, store.Comparisons, 1)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestForecastActorProviderTest(t *testing.T) {

	store := storage.NewMemoryStore()
	as, pid := spawnForecastActor(t, store,
		&stubProvider{id: "forecast.solar", wh: 12300},
		&stubProvider{id: "solcast", err: domain.NewAuthenticationError("solcast", "bad key")})

	result, err := as.Root.RequestFuture(pid, domain.ProviderTestRequest{}, 5*time.Second).Result()
	require.NoError(t, err)

	resp, ok := result.(domain.ProviderTestResponse)
	require.True(t, ok)
	require.False(t, resp.HasResponseError())
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "forecast.solar", resp.Results[0].Provider)
	assert.True(t, resp.Results[0].OK)
	assert.Equal(t, "solcast", resp.Results[1].Provider)
	assert.False(t, resp.Results[1].OK)
	assert.NotEmpty(t, resp.Results[1].Error)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestForecastActorBadDate(t *testing.T) {

	store := storage.NewMemoryStore()
	as, pid := spawnForecastActor(t, store, &stubProvider{id: "forecast.solar", wh: 12300})

	result, err := as.Root.RequestFuture(pid, domain.RunForecastRequest{Date: "14/10/2025"}, 5*time.Second).Result()
	require.NoError(t, err)

	resp, ok := result.(domain.RunForecastResponse)
	require.True(t, ok)
	assert.True(t, resp.HasResponseError())
	assert.Nil(t, resp.Run)

	as.Root.Stop(pid)
	as.Shutdown()
}
