package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

const DEFAULT_PROVIDER_CALL_TIMEOUT = 30 * time.Second

// ProviderManager orchestrates one forecast run over the configured
// providers. The provider order defines both fallback order and display
// order. Modes:
//   - compare: all providers are called concurrently; the decision is the
//     primary's result, or the first successful fallback when fallback is
//     enabled.
//   - fallback: providers are tried in order until one succeeds; the rest
//     are not called.
//   - single: only the primary is called; any failure is total.
type ProviderManager struct {
	providers       []port.ForecastProvider
	primary         string
	fallbackEnabled bool
	compareAll      bool
	callTimeout     time.Duration
	budget          port.RateBudget
	comparison      *ComparisonEngine
	logger          *zap.Logger
}

func NewProviderManager(providers []port.ForecastProvider, primary string,
	fallbackEnabled, compareAll bool, callTimeout time.Duration,
	budget port.RateBudget, comparison *ComparisonEngine, logger *zap.Logger) (*ProviderManager, error) {

	if len(providers) == 0 {
		return nil, fmt.Errorf("no forecast providers configured")
	}
	found := false
	for _, p := range providers {
		if p.Id() == primary {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("primary provider %s is not in the configured provider list", primary)
	}
	if callTimeout <= 0 {
		callTimeout = DEFAULT_PROVIDER_CALL_TIMEOUT
	}
	return &ProviderManager{
		providers:       providers,
		primary:         primary,
		fallbackEnabled: fallbackEnabled,
		compareAll:      compareAll,
		callTimeout:     callTimeout,
		budget:          budget,
		comparison:      comparison,
		logger:          logger.Named("provider_manager"),
	}, nil
}

// Run evaluates the configured providers once for the given request. The
// returned run always carries the full outcome set and comparison, even when
// the decision itself fails. A failed decision is reported as a
// TotalFailureError enumerating every provider's reason.
func (m *ProviderManager) Run(ctx context.Context, request domain.ForecastRequest) (*domain.ForecastRun, error) {

	run := &domain.ForecastRun{
		RunID:     uuid.NewString(),
		Date:      request.DateKey(),
		StartedAt: time.Now(),
	}

	m.logger.Info("forecast run started", zap.String("run_id", run.RunID),
		zap.String("date", run.Date), zap.String("mode", m.mode()))

	switch {
	case m.compareAll:
		run.Outcomes = m.callAll(ctx, request)
	case m.fallbackEnabled:
		run.Outcomes = m.callUntilSuccess(ctx, request)
	default:
		run.Outcomes = []domain.ProviderOutcome{m.call(ctx, m.providerById(m.primary), request)}
	}

	run.Comparison = m.comparison.Compare(run.Date, run.Outcomes)

	decision, fallbackUsed, err := m.selectDecision(run.Date, run.Outcomes)
	run.Decision = decision
	run.FallbackUsed = fallbackUsed
	run.FinishedAt = time.Now()

	if err != nil {
		m.logger.Error("forecast run failed", zap.String("run_id", run.RunID), zap.Error(err))
		return run, err
	}
	m.logger.Info("forecast run finished", zap.String("run_id", run.RunID),
		zap.String("provider", decision.Provider), zap.Float64("forecast_wh", decision.EnergyWh),
		zap.Bool("fallback", fallbackUsed))
	return run, nil
}

func (m *ProviderManager) mode() string {
	switch {
	case m.compareAll:
		return "compare"
	case m.fallbackEnabled:
		return "fallback"
	default:
		return "single"
	}
}

// ProviderIds returns the configured provider ids in call order.
func (m *ProviderManager) ProviderIds() []string {
	ids := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		ids = append(ids, p.Id())
	}
	return ids
}

func (m *ProviderManager) providerById(id string) port.ForecastProvider {
	for _, p := range m.providers {
		if p.Id() == id {
			return p
		}
	}
	return nil
}

// call performs exactly one guarded provider attempt. The budget reservation
// is kept on any error that reached the network and returned only on
// pre-flight configuration failures.
func (m *ProviderManager) call(ctx context.Context, provider port.ForecastProvider, request domain.ForecastRequest) domain.ProviderOutcome {

	id := provider.Id()
	if err := m.budget.Reserve(id); err != nil {
		return domain.ProviderOutcome{Provider: id, Err: domain.AsProviderError(id, err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	result, err := provider.FetchForecast(callCtx, request)
	if err != nil {
		provErr := domain.AsProviderError(id, err)
		if provErr.Kind == domain.ERROR_KIND_CONFIGURATION {
			m.budget.Release(id)
		}
		m.logger.Warn("provider call failed", zap.String("provider", id),
			zap.String("kind", string(provErr.Kind)), zap.String("detail", provErr.Detail))
		return domain.ProviderOutcome{Provider: id, Err: provErr}
	}
	return domain.ProviderOutcome{Provider: id, Result: result}
}

// TestConnections probes every configured provider and reports the result per
// provider id. A probe that reaches the network consumes budget like any other
// call, so this is not free on quota-limited providers.
func (m *ProviderManager) TestConnections(ctx context.Context) map[string]error {
	results := make(map[string]error, len(m.providers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, provider := range m.providers {
		wg.Add(1)
		go func(provider port.ForecastProvider) {
			defer wg.Done()
			err := m.testConnection(ctx, provider)
			mu.Lock()
			results[provider.Id()] = err
			mu.Unlock()
		}(provider)
	}
	wg.Wait()
	return results
}

func (m *ProviderManager) testConnection(ctx context.Context, provider port.ForecastProvider) error {

	id := provider.Id()
	if err := m.budget.Reserve(id); err != nil {
		return domain.AsProviderError(id, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if err := provider.TestConnection(callCtx); err != nil {
		provErr := domain.AsProviderError(id, err)
		if provErr.Kind == domain.ERROR_KIND_CONFIGURATION {
			m.budget.Release(id)
		}
		m.logger.Warn("provider connection test failed", zap.String("provider", id),
			zap.String("kind", string(provErr.Kind)), zap.String("detail", provErr.Detail))
		return provErr
	}
	m.logger.Info("provider connection test ok", zap.String("provider", id))
	return nil
}

// callUntilSuccess tries providers strictly in configured order and stops at
// the first success. Providers after it are not called.
func (m *ProviderManager) callUntilSuccess(ctx context.Context, request domain.ForecastRequest) []domain.ProviderOutcome {
	var outcomes []domain.ProviderOutcome
	for _, provider := range m.providers {
		outcome := m.call(ctx, provider, request)
		outcomes = append(outcomes, outcome)
		if outcome.OK() {
			break
		}
	}
	return outcomes
}

// callAll fans out to every provider concurrently. One provider's failure or
// timeout never prevents the others from completing.
func (m *ProviderManager) callAll(ctx context.Context, request domain.ForecastRequest) []domain.ProviderOutcome {
	outcomes := make([]domain.ProviderOutcome, len(m.providers))
	var wg sync.WaitGroup
	for i, provider := range m.providers {
		wg.Add(1)
		go func(i int, provider port.ForecastProvider) {
			defer wg.Done()
			outcomes[i] = m.call(ctx, provider, request)
		}(i, provider)
	}
	wg.Wait()
	return outcomes
}

// selectDecision picks the decision value from the outcome set: the primary
// if it succeeded, otherwise the first successful provider in configured
// order when fallback is enabled. With fallback disabled, a failed primary
// fails the decision even when alternatives succeeded.
func (m *ProviderManager) selectDecision(date string, outcomes []domain.ProviderOutcome) (*domain.ForecastResult, bool, error) {

	byId := make(map[string]domain.ProviderOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byId[outcome.Provider] = outcome
	}

	if primary, ok := byId[m.primary]; ok && primary.OK() {
		return primary.Result, false, nil
	}

	if m.fallbackEnabled {
		for _, provider := range m.providers {
			if outcome, ok := byId[provider.Id()]; ok && outcome.OK() {
				return outcome.Result, true, nil
			}
		}
	}

	failure := &domain.TotalFailureError{Date: date}
	for _, provider := range m.providers {
		if outcome, ok := byId[provider.Id()]; ok && !outcome.OK() {
			failure.Errors = append(failure.Errors, outcome.Err)
		}
	}
	// only meaningful in compare mode, where alternatives were actually
	// called and may have succeeded
	if m.compareAll && !m.fallbackEnabled {
		failure.Reason = "fallback disabled"
	}
	return nil, false, failure
}
