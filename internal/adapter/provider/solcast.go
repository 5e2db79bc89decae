package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

const SOLCAST_BASE_URL = "https://api.solcast.com.au"

// SolcastProvider fetches rooftop forecasts from the Solcast API. With one or
// more resource ids configured it queries each rooftop site and sums the
// estimates per period; without resource ids it falls back to the world PV
// power endpoint, which needs the site geometry and a paid tier.
type SolcastProvider struct {
	apiKey      string
	resourceIds []string
	site        Site
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

func NewSolcastProvider(apiKey, resourceIds string, site Site, logger *zap.Logger) *SolcastProvider {
	var ids []string
	for _, id := range strings.Split(resourceIds, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return &SolcastProvider{
		apiKey:      apiKey,
		resourceIds: ids,
		site:        site,
		baseURL:     SOLCAST_BASE_URL,
		client:      defaultHTTPClient(),
		logger:      logger.Named("solcast"),
	}
}

func (p *SolcastProvider) Id() string {
	return domain.PROVIDER_ID_SOLCAST
}

// TestConnection fetches tomorrow's forecast as a probe. Solcast has no
// cheaper authenticated endpoint, so the probe consumes one quota unit.
func (p *SolcastProvider) TestConnection(ctx context.Context) error {
	_, err := p.FetchForecast(ctx, p.site.Request(tomorrow()))
	return err
}

func (p *SolcastProvider) FetchForecast(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastResult, error) {

	if p.apiKey == "" {
		return nil, domain.NewConfigurationError(p.Id(), "API key not configured")
	}
	if len(p.resourceIds) == 0 && (request.Latitude == 0 || request.Longitude == 0) {
		return nil, domain.NewConfigurationError(p.Id(), "either resource ids or latitude/longitude must be configured")
	}

	periods, err := p.collectPeriods(ctx, request)
	if err != nil {
		return nil, err
	}

	dateKey := request.DateKey()
	result := &domain.ForecastResult{
		Provider:  p.Id(),
		FetchedAt: time.Now(),
	}
	matched := false
	for _, entry := range periods {
		if entry.PeriodEnd.Format(domain.DateFormat) != dateKey {
			continue
		}
		matched = true
		// estimates are average kW over a 30 minute period
		result.EnergyWh += entry.PvEstimate * 0.5 * 1000
		result.P10Wh += entry.PvEstimate10 * 0.5 * 1000
		result.P90Wh += entry.PvEstimate90 * 0.5 * 1000
	}
	if !matched {
		return nil, domain.NewValidationError(p.Id(),
			fmt.Sprintf("no forecast periods for %s in response", dateKey), nil)
	}

	p.logger.Debug("forecast fetched", zap.String("date", dateKey),
		zap.Float64("energy_wh", result.EnergyWh))
	return result, nil
}

type solcastPeriod struct {
	PeriodEnd    time.Time `json:"period_end"`
	Period       string    `json:"period"`
	PvEstimate   float64   `json:"pv_estimate"`
	PvEstimate10 float64   `json:"pv_estimate10"`
	PvEstimate90 float64   `json:"pv_estimate90"`
}

type solcastResponse struct {
	Forecasts []solcastPeriod `json:"forecasts"`
}

// collectPeriods fetches every configured rooftop site and merges the
// estimates by period end. Multi-array installations register one site per
// array, so the total is the per-period sum.
func (p *SolcastProvider) collectPeriods(ctx context.Context, request domain.ForecastRequest) ([]solcastPeriod, error) {

	if len(p.resourceIds) == 0 {
		return p.fetch(ctx, p.worldURL(request))
	}
	if len(p.resourceIds) == 1 {
		return p.fetch(ctx, p.rooftopURL(p.resourceIds[0]))
	}

	merged := make(map[time.Time]solcastPeriod)
	for _, id := range p.resourceIds {
		periods, err := p.fetch(ctx, p.rooftopURL(id))
		if err != nil {
			return nil, err
		}
		for _, entry := range periods {
			sum := merged[entry.PeriodEnd]
			sum.PeriodEnd = entry.PeriodEnd
			sum.PvEstimate += entry.PvEstimate
			sum.PvEstimate10 += entry.PvEstimate10
			sum.PvEstimate90 += entry.PvEstimate90
			merged[entry.PeriodEnd] = sum
		}
	}
	periods := make([]solcastPeriod, 0, len(merged))
	for _, entry := range merged {
		periods = append(periods, entry)
	}
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].PeriodEnd.Before(periods[j].PeriodEnd)
	})
	return periods, nil
}

func (p *SolcastProvider) fetch(ctx context.Context, url string) ([]solcastPeriod, error) {
	var response solcastResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := getJSON(ctx, p.client, p.Id(), url, headers, &response); err != nil {
		return nil, err
	}
	return response.Forecasts, nil
}

func (p *SolcastProvider) rooftopURL(resourceId string) string {
	return fmt.Sprintf("%s/rooftop_sites/%s/forecasts?format=json", p.baseURL, url.PathEscape(resourceId))
}

func (p *SolcastProvider) worldURL(request domain.ForecastRequest) string {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%g", request.Latitude))
	query.Set("longitude", fmt.Sprintf("%g", request.Longitude))
	query.Set("capacity", fmt.Sprintf("%g", request.KilowattPeak))
	query.Set("tilt", fmt.Sprintf("%g", request.Declination))
	query.Set("azimuth", fmt.Sprintf("%g", solcastAzimuth(request.Azimuth)))
	query.Set("format", "json")
	return fmt.Sprintf("%s/world_pv_power/forecasts?%s", p.baseURL, query.Encode())
}

// solcastAzimuth converts a Forecast.Solar azimuth (0 south, 90 west) to the
// Solcast convention (0 north, 180/-180 south): add 180 and normalize to
// [-180, 180].
func solcastAzimuth(azimuth float64) float64 {
	converted := azimuth + 180
	if converted > 180 {
		converted -= 360
	}
	return converted
}

var _ port.ForecastProvider = (*SolcastProvider)(nil)
