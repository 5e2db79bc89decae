package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

const DEFAULT_HTTP_TIMEOUT = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: DEFAULT_HTTP_TIMEOUT}
}

// getJSON performs one GET and decodes the JSON body, mapping transport and
// HTTP status failures to the typed provider errors. No retries.
func getJSON(ctx context.Context, client *http.Client, providerId, url string, headers map[string]string, out any) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewNetworkError(providerId, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewNetworkError(providerId, "request timeout", err)
		}
		return domain.NewNetworkError(providerId, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewRateLimitError(providerId, "API rate limit exceeded")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewAuthenticationError(providerId, "API key rejected")
	case resp.StatusCode >= 400:
		return domain.NewNetworkError(providerId, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewValidationError(providerId, "malformed response body", err)
	}
	return nil
}

// Site describes the PV installation. Adapters use it for connection probes
// and callers use it to build forecast requests. Azimuth follows the
// Forecast.Solar convention: 0 south, 90 west, -90 east.
type Site struct {
	Latitude     float64
	Longitude    float64
	Declination  float64
	Azimuth      float64
	KilowattPeak float64
	Damping      float64
	Confidence   float64
}

func (s Site) Request(date time.Time) domain.ForecastRequest {
	return domain.ForecastRequest{
		TargetDate:   date,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Declination:  s.Declination,
		Azimuth:      s.Azimuth,
		KilowattPeak: s.KilowattPeak,
		Damping:      s.Damping,
		Confidence:   s.Confidence,
	}
}

// tomorrow is the probe date used by connection tests.
func tomorrow() time.Time {
	return time.Now().AddDate(0, 0, 1)
}
