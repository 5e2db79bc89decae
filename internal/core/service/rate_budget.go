package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

// RateBudgetTracker enforces a per-provider daily request budget. Counters
// reset at local midnight, matching the reset schedule of the upstream APIs.
type RateBudgetTracker struct {
	limits map[string]int
	now    func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	used map[string]int
	day  string
}

func NewRateBudgetTracker(limits map[string]int, logger *zap.Logger) *RateBudgetTracker {
	return &RateBudgetTracker{
		limits: limits,
		now:    time.Now,
		logger: logger.Named("rate_budget"),
		used:   make(map[string]int),
	}
}

// Reserve takes one request slot for provider. It fails with a typed
// rate-limit error when the daily budget is exhausted, so callers can skip
// the upstream call entirely.
func (t *RateBudgetTracker) Reserve(provider string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	limit, ok := t.limits[provider]
	if !ok || limit <= 0 {
		// unlimited provider
		return nil
	}
	if t.used[provider] >= limit {
		t.logger.Warn("daily request budget exhausted", zap.String("provider", provider),
			zap.Int("limit", limit))
		return domain.NewRateLimitError(provider, "daily request budget exhausted")
	}
	t.used[provider]++
	t.logger.Debug("reserved request slot", zap.String("provider", provider),
		zap.Int("used", t.used[provider]), zap.Int("limit", limit))
	return nil
}

// Release gives back a reservation that never reached the wire. Failed
// requests that did reach the provider still count against the budget.
func (t *RateBudgetTracker) Release(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	if t.used[provider] > 0 {
		t.used[provider]--
	}
}

// Remaining reports the unused slots for provider, or -1 when unlimited.
func (t *RateBudgetTracker) Remaining(provider string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	limit, ok := t.limits[provider]
	if !ok || limit <= 0 {
		return -1
	}
	return limit - t.used[provider]
}

// rollover resets all counters when the local day has changed. Callers must
// hold the mutex.
func (t *RateBudgetTracker) rollover() {
	day := t.now().Local().Format(domain.DateFormat)
	if day != t.day {
		if t.day != "" {
			t.logger.Info("daily request budgets reset", zap.String("day", day))
		}
		t.day = day
		t.used = make(map[string]int)
	}
}

var _ port.RateBudget = (*RateBudgetTracker)(nil)
