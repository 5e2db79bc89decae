package server

import (
	"net/http"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var validate = validator.New()

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	e.POST("/api/forecast/run", s.RunForecastHandler)
	e.POST("/api/actual", s.ReconcileHandler)
	e.GET("/api/providers/stats", s.ProviderStatsHandler)
	e.POST("/api/providers/test", s.ProviderTestHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type outcomeDTO struct {
	Provider string  `json:"provider"`
	EnergyWh float64 `json:"energy_wh,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type runDTO struct {
	RunID        string                  `json:"run_id"`
	Date         string                  `json:"date"`
	Provider     string                  `json:"provider,omitempty"`
	EnergyWh     float64                 `json:"energy_wh,omitempty"`
	FallbackUsed bool                    `json:"fallback_used"`
	Comparison   domain.ComparisonRecord `json:"comparison"`
	Outcomes     []outcomeDTO            `json:"outcomes"`
}

// RunForecastHandler triggers a forecast run for the date given in the
// "date" query param (tomorrow when absent) and returns the full run.
func (s *Server) RunForecastHandler(c echo.Context) error {
	req := domain.RunForecastRequest{Date: c.QueryParam("date")}

	res, err := s.rootContext.RequestFuture(s.masterActor, req, 5*time.Minute).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	response, ok := res.(domain.RunForecastResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.Run == nil {
		if response.HasResponseError() {
			return echo.NewHTTPError(http.StatusBadRequest, response.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "empty run")
	}

	status := http.StatusOK
	if response.HasResponseError() {
		// total failure: report the run anyway so the caller can see the
		// per provider errors
		status = http.StatusBadGateway
	}
	return c.JSON(status, runToDTO(response.Run))
}

type reconcileBody struct {
	Date     string  `json:"date"`
	ActualWh float64 `json:"actual_wh" validate:"gte=0"`
}

// ReconcileHandler completes the accuracy records of a past date. An absent
// or zero actual_wh makes the production meter supply the value.
func (s *Server) ReconcileHandler(c echo.Context) error {
	var body reconcileBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req := domain.ReconcileActualRequest{Date: body.Date, ActualWh: body.ActualWh}
	res, err := s.rootContext.RequestFuture(s.masterActor, req, 2*time.Minute).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	response, ok := res.(domain.ReconcileActualResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusBadRequest, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"date":      response.Date,
		"actual_wh": response.ActualWh,
		"completed": response.Completed,
	})
}

func (s *Server) ProviderStatsHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ProviderStatsRequest{}, 30*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	response, ok := res.(domain.ProviderStatsResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.Stats)
}

// ProviderTestHandler probes every configured provider. POST because each
// probe consumes a call from the provider's daily budget.
func (s *Server) ProviderTestHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ProviderTestRequest{}, 2*time.Minute).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	response, ok := res.(domain.ProviderTestResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.Results)
}

func runToDTO(run *domain.ForecastRun) runDTO {
	outcomes := make([]outcomeDTO, 0, len(run.Outcomes))
	for _, outcome := range run.Outcomes {
		dto := outcomeDTO{Provider: outcome.Provider}
		if outcome.OK() {
			dto.EnergyWh = outcome.Result.EnergyWh
		} else if outcome.Err != nil {
			dto.Error = outcome.Err.Error()
		}
		outcomes = append(outcomes, dto)
	}
	dto := runDTO{
		RunID:        run.RunID,
		Date:         run.Date,
		FallbackUsed: run.FallbackUsed,
		Comparison:   run.Comparison,
		Outcomes:     outcomes,
	}
	if run.Decision != nil {
		dto.Provider = run.Decision.Provider
		dto.EnergyWh = run.Decision.EnergyWh
	}
	return dto
}
