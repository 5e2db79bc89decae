package service

import (
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
)

const (
	DEFAULT_LOW_VARIANCE_THRESHOLD  = 15.0
	DEFAULT_HIGH_VARIANCE_THRESHOLD = 30.0
)

// ComparisonEngine rates how much the configured providers disagree on a
// given day's forecast. Variance is the spread of the successful forecasts
// relative to their average, in percent.
type ComparisonEngine struct {
	lowThreshold  float64
	highThreshold float64
	logger        *zap.Logger
}

func NewComparisonEngine(lowThreshold, highThreshold float64, logger *zap.Logger) *ComparisonEngine {
	if lowThreshold <= 0 {
		lowThreshold = DEFAULT_LOW_VARIANCE_THRESHOLD
	}
	if highThreshold <= 0 {
		highThreshold = DEFAULT_HIGH_VARIANCE_THRESHOLD
	}
	return &ComparisonEngine{
		lowThreshold:  lowThreshold,
		highThreshold: highThreshold,
		logger:        logger.Named("comparison"),
	}
}

// Compare summarizes the outcomes of one forecast run. Failed providers are
// counted but excluded from the statistics. With fewer than two successes the
// disagreement level is low by definition.
func (e *ComparisonEngine) Compare(date string, outcomes []domain.ProviderOutcome) domain.ComparisonRecord {

	record := domain.ComparisonRecord{
		Date:     date,
		Outcomes: outcomes,
		Level:    domain.DISAGREEMENT_LOW,
	}

	var sum, min, max float64
	for _, outcome := range outcomes {
		if !outcome.OK() {
			continue
		}
		wh := outcome.Result.EnergyWh
		if record.SuccessCount == 0 || wh < min {
			min = wh
		}
		if record.SuccessCount == 0 || wh > max {
			max = wh
		}
		sum += wh
		record.SuccessCount++
	}

	if record.SuccessCount == 0 {
		return record
	}

	record.AverageWh = sum / float64(record.SuccessCount)
	record.MinWh = min
	record.MaxWh = max
	record.RangeWh = max - min

	if record.SuccessCount >= 2 && record.AverageWh > 0 {
		record.VariancePct = record.RangeWh / record.AverageWh * 100
		record.Level = e.level(record.VariancePct)
	}

	e.logger.Debug("compared provider forecasts", zap.String("date", date),
		zap.Int("successes", record.SuccessCount),
		zap.Float64("average_wh", record.AverageWh),
		zap.Float64("variance_pct", record.VariancePct),
		zap.String("level", string(record.Level)))

	return record
}

func (e *ComparisonEngine) level(variancePct float64) domain.DisagreementLevel {
	switch {
	case variancePct < e.lowThreshold:
		return domain.DISAGREEMENT_LOW
	case variancePct > e.highThreshold:
		return domain.DISAGREEMENT_HIGH
	default:
		return domain.DISAGREEMENT_MODERATE
	}
}
