package domain

const (
	ACTOR_ID_MASTER   = "master"
	ACTOR_ID_FORECAST = "forecast"
	ACTOR_ID_ACCURACY = "accuracy"
	ACTOR_ID_MQTT     = "mqtt"
)

// RunForecastRequest asks for one full evaluation of the configured providers
// for the given date (canonical day key). An empty date means tomorrow.
type RunForecastRequest struct {
	ActorRequestMixIn
	Date string
}

type RunForecastResponse struct {
	ActorResponseMixIn
	Run *ForecastRun
}

// ReconcileActualRequest supplies (or asks the production meter for) the
// realized yield of a past date and completes that date's accuracy records.
type ReconcileActualRequest struct {
	ActorRequestMixIn
	Date string
	// ActualWh > 0 bypasses the production meter (manual input).
	ActualWh float64
}

type ReconcileActualResponse struct {
	ActorResponseMixIn
	Date      string
	ActualWh  float64
	Completed int
}

// CaptureBaselineRequest makes the production meter sample the inverter's
// lifetime energy counter at the current day boundary. Fire-and-forget.
type CaptureBaselineRequest struct {
	ActorRequestMixIn
}

// ProviderTestRequest probes every configured provider's connectivity and
// credentials. Probes count against the daily call budget.
type ProviderTestRequest struct {
	ActorRequestMixIn
}

// ProviderTestResult is the outcome of one provider probe. Error is empty on
// success.
type ProviderTestResult struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type ProviderTestResponse struct {
	ActorResponseMixIn
	Results []ProviderTestResult
}

type ProviderStatsRequest struct {
	ActorRequestMixIn
}

type ProviderStatsResponse struct {
	ActorResponseMixIn
	Stats []ProviderStatistics
}

// PublishForecastRequest pushes a finished run to the MQTT bridge.
type PublishForecastRequest struct {
	ActorRequestMixIn
	Run *ForecastRun
}

type PublishForecastResponse struct {
	ActorResponseMixIn
}

// PublishReconcileRequest pushes a finished accuracy reconciliation to the
// MQTT bridge.
type PublishReconcileRequest struct {
	ActorRequestMixIn
	Date      string
	ActualWh  float64
	Completed int
}

type PublishReconcileResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
