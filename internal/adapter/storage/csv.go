package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

const (
	PREDICTIONS_FILE = "predictions.csv"
	COMPARISONS_FILE = "comparisons.csv"
	ACCURACY_FILE    = "accuracy.csv"

	csvTimeFormat = "2006-01-02 15:04:05"

	accuracyStatusPending  = "pending"
	accuracyStatusComplete = "complete"
)

// CSVStore keeps the forecast history in append-only CSV files under one
// directory. Accuracy rows are never rewritten: completing a record appends
// a new row, and on read the latest row per (date, provider) wins.
type CSVStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewCSVStore(dir string, logger *zap.Logger) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &CSVStore{
		dir:    dir,
		logger: logger.Named("csv_store"),
	}, nil
}

var predictionHeader = []string{"date", "run_id", "provider", "forecast_wh", "alternatives", "logged_at"}

func (s *CSVStore) AppendPrediction(ctx context.Context, record domain.PredictionRecord) error {
	alternatives, err := json.Marshal(record.Alternatives)
	if err != nil {
		return fmt.Errorf("encode alternatives: %w", err)
	}
	return s.appendRow(PREDICTIONS_FILE, predictionHeader, []string{
		record.Date,
		record.RunID,
		record.Provider,
		formatWh(record.ForecastWh),
		string(alternatives),
		record.LoggedAt.Format(csvTimeFormat),
	})
}

var comparisonHeader = []string{"date", "outcomes", "success_count", "average_wh",
	"min_wh", "max_wh", "range_wh", "variance_pct", "level"}

func (s *CSVStore) AppendComparison(ctx context.Context, record domain.ComparisonRecord) error {
	outcomes := make(map[string]string, len(record.Outcomes))
	for _, outcome := range record.Outcomes {
		if outcome.OK() {
			outcomes[outcome.Provider] = formatWh(outcome.Result.EnergyWh)
		} else {
			outcomes[outcome.Provider] = "ERROR:" + string(outcome.Err.Kind)
		}
	}
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	return s.appendRow(COMPARISONS_FILE, comparisonHeader, []string{
		record.Date,
		string(encoded),
		strconv.Itoa(record.SuccessCount),
		formatWh(record.AverageWh),
		formatWh(record.MinWh),
		formatWh(record.MaxWh),
		formatWh(record.RangeWh),
		strconv.FormatFloat(record.VariancePct, 'f', 2, 64),
		string(record.Level),
	})
}

var accuracyHeader = []string{"date", "provider", "forecast_wh", "actual_wh",
	"abs_error_pct", "status", "logged_at", "completed_at"}

func (s *CSVStore) AppendPendingAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	return s.appendRow(ACCURACY_FILE, accuracyHeader, []string{
		record.Date,
		record.Provider,
		formatWh(record.ForecastWh),
		"",
		"",
		accuracyStatusPending,
		record.LoggedAt.Format(csvTimeFormat),
		"",
	})
}

func (s *CSVStore) CompleteAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	return s.appendRow(ACCURACY_FILE, accuracyHeader, []string{
		record.Date,
		record.Provider,
		formatWh(record.ForecastWh),
		formatWh(record.ActualWh),
		strconv.FormatFloat(record.AbsErrorPct, 'f', 2, 64),
		accuracyStatusComplete,
		record.LoggedAt.Format(csvTimeFormat),
		record.CompletedAt.Format(csvTimeFormat),
	})
}

func (s *CSVStore) PendingAccuracy(ctx context.Context, date string) ([]domain.AccuracyRecord, error) {
	latest, order, err := s.latestAccuracy()
	if err != nil {
		return nil, err
	}
	var records []domain.AccuracyRecord
	for _, key := range order {
		record := latest[key]
		if record.Date == date && !record.Completed {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *CSVStore) CompletedAccuracy(ctx context.Context, provider string) ([]domain.AccuracyRecord, error) {
	latest, order, err := s.latestAccuracy()
	if err != nil {
		return nil, err
	}
	var records []domain.AccuracyRecord
	for _, key := range order {
		record := latest[key]
		if record.Completed && (provider == "" || record.Provider == provider) {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *CSVStore) Close() error {
	return nil
}

// latestAccuracy folds the accuracy file into the newest row per
// (date, provider), preserving first-seen order.
func (s *CSVStore) latestAccuracy() (map[string]domain.AccuracyRecord, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, ACCURACY_FILE)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", ACCURACY_FILE, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", ACCURACY_FILE, err)
	}

	latest := make(map[string]domain.AccuracyRecord)
	var order []string
	for i, row := range rows {
		if i == 0 || len(row) < len(accuracyHeader) {
			continue
		}
		record := domain.AccuracyRecord{
			Date:       row[0],
			Provider:   row[1],
			ForecastWh: parseWh(row[2]),
			ActualWh:   parseWh(row[3]),
			Completed:  row[5] == accuracyStatusComplete,
		}
		record.AbsErrorPct, _ = strconv.ParseFloat(row[4], 64)
		record.LoggedAt, _ = time.ParseInLocation(csvTimeFormat, row[6], time.Local)
		if row[7] != "" {
			record.CompletedAt, _ = time.ParseInLocation(csvTimeFormat, row[7], time.Local)
		}
		key := record.Date + "|" + record.Provider
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = record
	}
	return latest, order, nil
}

// appendRow opens the file in append mode, writing the header first on a
// fresh file.
func (s *CSVStore) appendRow(name string, header, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if fresh {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func formatWh(wh float64) string {
	return strconv.FormatFloat(wh, 'f', 0, 64)
}

func parseWh(s string) float64 {
	wh, _ := strconv.ParseFloat(s, 64)
	return wh
}

var _ port.ForecastStore = (*CSVStore)(nil)
