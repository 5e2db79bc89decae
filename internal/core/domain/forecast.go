package domain

import (
	"time"
)

const (
	PROVIDER_ID_SOLCAST        = "solcast"
	PROVIDER_ID_FORECAST_SOLAR = "forecast.solar"
)

// DateFormat is the canonical day key used across records, logs and topics.
const DateFormat = "2006-01-02"

// ForecastRequest describes one site/date forecast query. Immutable once built.
type ForecastRequest struct {
	TargetDate time.Time
	Latitude   float64
	Longitude  float64
	// Declination is the panel angle: 0=horizontal, 90=vertical.
	Declination float64
	// Azimuth uses the Forecast.Solar convention: 0=south, 90=west, -90=east.
	Azimuth      float64
	KilowattPeak float64
	// Damping attenuates morning/evening output (0-1). Ignored by providers
	// that have no equivalent tuning knob.
	Damping    float64
	Confidence float64
}

// DateKey returns the target date formatted as the canonical day key.
func (r ForecastRequest) DateKey() string {
	return r.TargetDate.Format(DateFormat)
}

// ForecastResult is a single provider's prediction for one request.
// Never mutated after creation.
type ForecastResult struct {
	Provider string  `json:"provider"`
	EnergyWh float64 `json:"energy_wh"`
	// P10Wh/P90Wh are the provider's confidence band when available, 0 otherwise.
	P10Wh     float64   `json:"p10_wh,omitempty"`
	P90Wh     float64   `json:"p90_wh,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ProviderOutcome is the result of exactly one adapter invocation:
// either a ForecastResult or a ProviderError.
type ProviderOutcome struct {
	Provider string
	Result   *ForecastResult
	Err      *ProviderError
}

func (o ProviderOutcome) OK() bool {
	return o.Err == nil && o.Result != nil
}

type DisagreementLevel string

const (
	DISAGREEMENT_LOW      DisagreementLevel = "low"
	DISAGREEMENT_MODERATE DisagreementLevel = "moderate"
	DISAGREEMENT_HIGH     DisagreementLevel = "high"
)

// ComparisonRecord holds the disagreement statistics over the successful
// outcomes of one run. Derived data: recomputed on every run, persisted only
// as a log entry.
type ComparisonRecord struct {
	Date         string            `json:"date"`
	Outcomes     []ProviderOutcome `json:"-"`
	SuccessCount int               `json:"success_count"`
	AverageWh    float64           `json:"average_wh"`
	MinWh        float64           `json:"min_wh"`
	MaxWh        float64           `json:"max_wh"`
	RangeWh      float64           `json:"range_wh"`
	VariancePct  float64           `json:"variance_pct"`
	Level        DisagreementLevel `json:"level"`
}

// ForecastRun is the complete output of one Provider Manager evaluation:
// the full outcome set, the comparison over it, and the decision value
// (nil when the run ended in total failure).
type ForecastRun struct {
	RunID        string
	Date         string
	Outcomes     []ProviderOutcome
	Comparison   ComparisonRecord
	Decision     *ForecastResult
	FallbackUsed bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

// DecisionProvider returns the id of the provider whose value was chosen,
// or "" on total failure.
func (r ForecastRun) DecisionProvider() string {
	if r.Decision == nil {
		return ""
	}
	return r.Decision.Provider
}

// PredictionRecord is the append-only log entry written after a run that
// produced a decision value.
type PredictionRecord struct {
	Date       string
	RunID      string
	Provider   string
	ForecastWh float64
	// Alternatives maps every other configured provider to its value or a
	// failure marker, for later comparison against actuals.
	Alternatives map[string]string
	LoggedAt     time.Time
}

// AccuracyRecord tracks one provider's forecast for one date against the
// later-observed actual yield. Created Pending at prediction time, completed
// exactly once when the actual arrives, immutable thereafter.
type AccuracyRecord struct {
	Date        string
	Provider    string
	ForecastWh  float64
	ActualWh    float64
	AbsErrorPct float64
	Completed   bool
	LoggedAt    time.Time
	CompletedAt time.Time
}

// AccuracyPct is 100 - error%, floored at 0. Only meaningful on completed
// records.
func (r AccuracyRecord) AccuracyPct() float64 {
	if !r.Completed {
		return 0
	}
	acc := 100 - r.AbsErrorPct
	if acc < 0 {
		return 0
	}
	return acc
}

// ProviderStatistics aggregates completed accuracy records for one provider.
type ProviderStatistics struct {
	Provider        string  `json:"provider"`
	MeanAccuracyPct float64 `json:"mean_accuracy_pct"`
	SampleCount     int     `json:"sample_count"`
}
