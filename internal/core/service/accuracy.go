package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

// AccuracyTracker persists every forecast run and later reconciles it
// against the realized yield, keeping rolling per-provider accuracy.
type AccuracyTracker struct {
	store  port.ForecastStore
	logger *zap.Logger
}

func NewAccuracyTracker(store port.ForecastStore, logger *zap.Logger) *AccuracyTracker {
	return &AccuracyTracker{
		store:  store,
		logger: logger.Named("accuracy"),
	}
}

// RecordRun logs a finished forecast run: the comparison entry, one pending
// accuracy record per successful provider, and the prediction entry when a
// decision was reached. Alternatives capture every other provider's value or
// failure for later inspection.
func (t *AccuracyTracker) RecordRun(ctx context.Context, run *domain.ForecastRun) error {

	if err := t.store.AppendComparison(ctx, run.Comparison); err != nil {
		return fmt.Errorf("append comparison: %w", err)
	}

	now := time.Now()
	for _, outcome := range run.Outcomes {
		if !outcome.OK() {
			continue
		}
		record := domain.AccuracyRecord{
			Date:       run.Date,
			Provider:   outcome.Provider,
			ForecastWh: outcome.Result.EnergyWh,
			LoggedAt:   now,
		}
		if err := t.store.AppendPendingAccuracy(ctx, record); err != nil {
			return fmt.Errorf("append pending accuracy: %w", err)
		}
	}

	if run.Decision == nil {
		return nil
	}

	alternatives := make(map[string]string, len(run.Outcomes))
	for _, outcome := range run.Outcomes {
		if outcome.Provider == run.Decision.Provider {
			continue
		}
		if outcome.OK() {
			alternatives[outcome.Provider] = fmt.Sprintf("%.0f", outcome.Result.EnergyWh)
		} else {
			alternatives[outcome.Provider] = fmt.Sprintf("ERROR:%s", outcome.Err.Kind)
		}
	}

	prediction := domain.PredictionRecord{
		Date:         run.Date,
		RunID:        run.RunID,
		Provider:     run.Decision.Provider,
		ForecastWh:   run.Decision.EnergyWh,
		Alternatives: alternatives,
		LoggedAt:     now,
	}
	if err := t.store.AppendPrediction(ctx, prediction); err != nil {
		return fmt.Errorf("append prediction: %w", err)
	}

	t.logger.Info("forecast run recorded", zap.String("date", run.Date),
		zap.String("provider", prediction.Provider), zap.Float64("forecast_wh", prediction.ForecastWh))
	return nil
}

// RecordActual completes every pending accuracy record for date with the
// realized yield. Running it again for the same date is a no-op, so a record
// completes at most once. Returns the number of records completed.
func (t *AccuracyTracker) RecordActual(ctx context.Context, date string, actualWh float64) (int, error) {

	if actualWh <= 0 {
		return 0, fmt.Errorf("actual yield must be positive, got %.1f", actualWh)
	}

	pending, err := t.store.PendingAccuracy(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("load pending accuracy: %w", err)
	}

	now := time.Now()
	completed := 0
	for _, record := range pending {
		record.ActualWh = actualWh
		record.AbsErrorPct = math.Abs(record.ForecastWh-actualWh) / actualWh * 100
		record.Completed = true
		record.CompletedAt = now
		if err := t.store.CompleteAccuracy(ctx, record); err != nil {
			return completed, fmt.Errorf("complete accuracy: %w", err)
		}
		completed++
		t.logger.Info("accuracy record completed", zap.String("date", date),
			zap.String("provider", record.Provider), zap.Float64("forecast_wh", record.ForecastWh),
			zap.Float64("actual_wh", actualWh), zap.Float64("abs_error_pct", record.AbsErrorPct))
	}

	if completed == 0 {
		t.logger.Debug("no pending accuracy records", zap.String("date", date))
	}
	return completed, nil
}

// ProviderStatistics aggregates completed records into mean accuracy per
// provider. Accuracy is 100 minus the absolute error percentage, floored at
// zero. Pass an empty provider for all of them.
func (t *AccuracyTracker) ProviderStatistics(ctx context.Context, provider string) ([]domain.ProviderStatistics, error) {

	records, err := t.store.CompletedAccuracy(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("load completed accuracy: %w", err)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, record := range records {
		sums[record.Provider] += record.AccuracyPct()
		counts[record.Provider]++
	}

	stats := make([]domain.ProviderStatistics, 0, len(counts))
	for id, count := range counts {
		stats = append(stats, domain.ProviderStatistics{
			Provider:        id,
			MeanAccuracyPct: sums[id] / float64(count),
			SampleCount:     count,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Provider < stats[j].Provider
	})
	return stats, nil
}
