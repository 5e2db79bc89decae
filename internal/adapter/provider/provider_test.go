package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

var testSite = Site{
	Latitude:     40.4,
	Longitude:    -3.7,
	Declination:  30,
	Azimuth:      0,
	KilowattPeak: 5.5,
	Damping:      0.1,
}

func requestFor(date string) domain.ForecastRequest {
	day, _ := time.ParseInLocation(domain.DateFormat, date, time.Local)
	return testSite.Request(day)
}

const solcastBody = `{
	"forecasts": [
		{"period_end": "2025-10-14T10:30:00.0000000Z", "period": "PT30M",
		 "pv_estimate": 2.0, "pv_estimate10": 1.0, "pv_estimate90": 3.0},
		{"period_end": "2025-10-14T11:00:00.0000000Z", "period": "PT30M",
		 "pv_estimate": 3.0, "pv_estimate10": 2.0, "pv_estimate90": 4.0},
		{"period_end": "2025-10-15T11:30:00.0000000Z", "period": "PT30M",
		 "pv_estimate": 5.0}
	]
}`

func testSolcast(t *testing.T, handler http.HandlerFunc) (*SolcastProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p := NewSolcastProvider("test-key", "site-1", testSite, zap.NewNop())
	p.baseURL = server.URL
	p.client = server.Client()
	return p, server
}

func TestSolcastFetchForecast(t *testing.T) {

	require := require.New(t)

	var gotPath, gotAuth string
	p, _ := testSolcast(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(solcastBody))
	})

	result, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.NoError(err)

	assert.Equal(t, "/rooftop_sites/site-1/forecasts", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)

	// two 30 minute periods on the target date: (2.0 + 3.0) kW * 0.5h * 1000
	assert.InDelta(t, 2500.0, result.EnergyWh, 0.001)
	assert.InDelta(t, 1500.0, result.P10Wh, 0.001)
	assert.InDelta(t, 3500.0, result.P90Wh, 0.001)
}

func TestSolcastMultipleResources(t *testing.T) {

	require := require.New(t)

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(solcastBody))
	}))
	t.Cleanup(server.Close)

	p := NewSolcastProvider("test-key", "east-array, west-array", testSite, zap.NewNop())
	p.baseURL = server.URL
	p.client = server.Client()

	result, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.NoError(err)

	assert.Equal(t, []string{"/rooftop_sites/east-array/forecasts", "/rooftop_sites/west-array/forecasts"}, paths)
	// per-period estimates summed across both arrays
	assert.InDelta(t, 5000.0, result.EnergyWh, 0.001)
}

func TestSolcastErrorMapping(t *testing.T) {

	cases := []struct {
		name   string
		status int
		kind   domain.ProviderErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ERROR_KIND_RATE_LIMIT},
		{"bad key", http.StatusUnauthorized, domain.ERROR_KIND_AUTHENTICATION},
		{"server error", http.StatusInternalServerError, domain.ERROR_KIND_NETWORK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := testSolcast(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
			require.Error(t, err)
			assert.True(t, domain.IsErrorKind(err, tc.kind), "expected %s, got %v", tc.kind, err)
		})
	}
}

func TestSolcastMalformedBody(t *testing.T) {

	p, _ := testSolcast(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})

	_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_VALIDATION))
}

func TestSolcastMissingDate(t *testing.T) {

	p, _ := testSolcast(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(solcastBody))
	})

	_, err := p.FetchForecast(context.Background(), requestFor("2025-12-24"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_VALIDATION))
}

func TestSolcastMissingAPIKey(t *testing.T) {

	p := NewSolcastProvider("", "site-1", testSite, zap.NewNop())

	_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_CONFIGURATION))
}

func TestSolcastAzimuthConversion(t *testing.T) {

	// Forecast.Solar convention (0 south) to Solcast (0 north, +-180 south)
	assert.InDelta(t, 180.0, solcastAzimuth(0), 0.001)
	assert.InDelta(t, -90.0, solcastAzimuth(90), 0.001)
	assert.InDelta(t, 90.0, solcastAzimuth(-90), 0.001)
	assert.InDelta(t, 0.0, solcastAzimuth(-180), 0.001)
}

func testForecastSolar(t *testing.T, apiKey string, handler http.HandlerFunc) *ForecastSolarProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p := NewForecastSolarProvider(apiKey, testSite, zap.NewNop())
	p.baseURL = server.URL
	p.client = server.Client()
	return p
}

func TestForecastSolarFetchForecast(t *testing.T) {

	require := require.New(t)

	var gotPath, gotDamping string
	p := testForecastSolar(t, "", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDamping = r.URL.Query().Get("damping")
		w.Write([]byte(`{"result": {"watt_hours_day": {"2025-10-14": 12300, "2025-10-15": 9800}}}`))
	})

	result, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.NoError(err)

	assert.Equal(t, "/estimate/40.4/-3.7/30/0/5.5", gotPath)
	assert.Equal(t, "0.1", gotDamping)
	assert.InDelta(t, 12300.0, result.EnergyWh, 0.001)
	assert.Equal(t, domain.PROVIDER_ID_FORECAST_SOLAR, result.Provider)
}

func TestForecastSolarPersonalAPIKey(t *testing.T) {

	var gotPath string
	p := testForecastSolar(t, "personal-key", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"result": {"watt_hours_day": {"2025-10-14": 12300}}}`))
	})

	_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.NoError(t, err)
	assert.Equal(t, "/personal-key/estimate/40.4/-3.7/30/0/5.5", gotPath)
}

func TestForecastSolarMissingDate(t *testing.T) {

	p := testForecastSolar(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"watt_hours_day": {}}}`))
	})

	_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_VALIDATION))
}

func TestForecastSolarMissingLocation(t *testing.T) {

	p := NewForecastSolarProvider("", Site{KilowattPeak: 5.5}, zap.NewNop())

	_, err := p.FetchForecast(context.Background(), p.site.Request(time.Now()))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_CONFIGURATION))
}

func TestForecastSolarRateLimit(t *testing.T) {

	p := testForecastSolar(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.FetchForecast(context.Background(), requestFor("2025-10-14"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorKind(err, domain.ERROR_KIND_RATE_LIMIT))
}

func TestRegistryBuild(t *testing.T) {

	require := require.New(t)

	providers, err := Build([]string{domain.PROVIDER_ID_SOLCAST, domain.PROVIDER_ID_FORECAST_SOLAR},
		Credentials{SolcastAPIKey: "k", SolcastResourceIds: "site-1"}, testSite, zap.NewNop())
	require.NoError(err)
	require.Len(providers, 2)
	assert.Equal(t, domain.PROVIDER_ID_SOLCAST, providers[0].Id())
	assert.Equal(t, domain.PROVIDER_ID_FORECAST_SOLAR, providers[1].Id())

	_, err = Build([]string{"nonexistent"}, Credentials{}, testSite, zap.NewNop())
	require.Error(err)
}
