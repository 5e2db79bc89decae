package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

const FORECAST_SOLAR_BASE_URL = "https://api.forecast.solar"

// ForecastSolarProvider fetches daily yield estimates from the public
// Forecast.Solar API. The free tier needs no credentials; an API key, when
// set, unlocks the personal plan rate limits.
type ForecastSolarProvider struct {
	apiKey  string
	site    Site
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewForecastSolarProvider(apiKey string, site Site, logger *zap.Logger) *ForecastSolarProvider {
	return &ForecastSolarProvider{
		apiKey:  apiKey,
		site:    site,
		baseURL: FORECAST_SOLAR_BASE_URL,
		client:  defaultHTTPClient(),
		logger:  logger.Named("forecast_solar"),
	}
}

func (p *ForecastSolarProvider) Id() string {
	return domain.PROVIDER_ID_FORECAST_SOLAR
}

func (p *ForecastSolarProvider) TestConnection(ctx context.Context) error {
	_, err := p.FetchForecast(ctx, p.site.Request(tomorrow()))
	return err
}

type forecastSolarResponse struct {
	Result struct {
		WattHoursDay map[string]float64 `json:"watt_hours_day"`
	} `json:"result"`
}

func (p *ForecastSolarProvider) FetchForecast(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastResult, error) {

	if request.Latitude == 0 || request.Longitude == 0 {
		return nil, domain.NewConfigurationError(p.Id(), "latitude and longitude must be configured")
	}
	if request.KilowattPeak <= 0 {
		return nil, domain.NewConfigurationError(p.Id(), "panel peak power must be configured")
	}

	var response forecastSolarResponse
	if err := getJSON(ctx, p.client, p.Id(), p.estimateURL(request), nil, &response); err != nil {
		return nil, err
	}

	dateKey := request.DateKey()
	wh, ok := response.Result.WattHoursDay[dateKey]
	if !ok {
		return nil, domain.NewValidationError(p.Id(),
			fmt.Sprintf("no daily estimate for %s in response", dateKey), nil)
	}

	p.logger.Debug("forecast fetched", zap.String("date", dateKey), zap.Float64("energy_wh", wh))
	return &domain.ForecastResult{
		Provider:  p.Id(),
		EnergyWh:  wh,
		FetchedAt: time.Now(),
	}, nil
}

// estimateURL builds /estimate/:lat/:lon/:dec/:az/:kwp with the optional
// personal API key as the leading path segment.
func (p *ForecastSolarProvider) estimateURL(request domain.ForecastRequest) string {
	path := fmt.Sprintf("/estimate/%s/%s/%s/%s/%s",
		formatCoord(request.Latitude), formatCoord(request.Longitude),
		formatCoord(request.Declination), formatCoord(request.Azimuth),
		formatCoord(request.KilowattPeak))
	if p.apiKey != "" {
		path = "/" + url.PathEscape(p.apiKey) + path
	}
	full := p.baseURL + path
	if request.Damping > 0 {
		query := url.Values{}
		query.Set("damping", formatCoord(request.Damping))
		full += "?" + query.Encode()
	}
	return full
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ port.ForecastProvider = (*ForecastSolarProvider)(nil)
