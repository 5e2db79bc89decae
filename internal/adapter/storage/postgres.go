package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

// PostgresStore is the database-backed ForecastStore. Accuracy rows are
// unique per (date, provider); completion is a one-shot update of the
// pending row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS predictions (
	id           BIGSERIAL PRIMARY KEY,
	date         TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	provider     TEXT NOT NULL,
	forecast_wh  DOUBLE PRECISION NOT NULL,
	alternatives JSONB,
	logged_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS comparisons (
	id            BIGSERIAL PRIMARY KEY,
	date          TEXT NOT NULL,
	outcomes      JSONB,
	success_count INT NOT NULL,
	average_wh    DOUBLE PRECISION NOT NULL,
	min_wh        DOUBLE PRECISION NOT NULL,
	max_wh        DOUBLE PRECISION NOT NULL,
	range_wh      DOUBLE PRECISION NOT NULL,
	variance_pct  DOUBLE PRECISION NOT NULL,
	level         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS accuracy (
	date          TEXT NOT NULL,
	provider      TEXT NOT NULL,
	forecast_wh   DOUBLE PRECISION NOT NULL,
	actual_wh     DOUBLE PRECISION,
	abs_error_pct DOUBLE PRECISION,
	completed     BOOLEAN NOT NULL DEFAULT FALSE,
	logged_at     TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	PRIMARY KEY (date, provider)
);`

func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.Named("postgres_store"),
	}, nil
}

func (s *PostgresStore) AppendPrediction(ctx context.Context, record domain.PredictionRecord) error {
	alternatives, err := json.Marshal(record.Alternatives)
	if err != nil {
		return fmt.Errorf("encode alternatives: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO predictions (date, run_id, provider, forecast_wh, alternatives, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Date, record.RunID, record.Provider, record.ForecastWh, alternatives, record.LoggedAt)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendComparison(ctx context.Context, record domain.ComparisonRecord) error {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO comparisons (date, outcomes, success_count, average_wh, min_wh, max_wh, range_wh, variance_pct, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.Date, encoded, record.SuccessCount, record.AverageWh, record.MinWh,
		record.MaxWh, record.RangeWh, record.VariancePct, string(record.Level))
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	return nil
}

// AppendPendingAccuracy is idempotent per (date, provider): re-running a
// forecast for the same date refreshes a pending row but never downgrades a
// completed one.
func (s *PostgresStore) AppendPendingAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accuracy (date, provider, forecast_wh, logged_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, provider) DO UPDATE
		SET forecast_wh = EXCLUDED.forecast_wh, logged_at = EXCLUDED.logged_at
		WHERE accuracy.completed = FALSE`,
		record.Date, record.Provider, record.ForecastWh, record.LoggedAt)
	if err != nil {
		return fmt.Errorf("insert pending accuracy: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingAccuracy(ctx context.Context, date string) ([]domain.AccuracyRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, provider, forecast_wh, logged_at
		FROM accuracy
		WHERE date = $1 AND completed = FALSE
		ORDER BY provider`, date)
	if err != nil {
		return nil, fmt.Errorf("query pending accuracy: %w", err)
	}
	defer rows.Close()

	var records []domain.AccuracyRecord
	for rows.Next() {
		var record domain.AccuracyRecord
		if err := rows.Scan(&record.Date, &record.Provider, &record.ForecastWh, &record.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan pending accuracy: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CompleteAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accuracy
		SET actual_wh = $3, abs_error_pct = $4, completed = TRUE, completed_at = $5
		WHERE date = $1 AND provider = $2 AND completed = FALSE`,
		record.Date, record.Provider, record.ActualWh, record.AbsErrorPct, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("complete accuracy: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompletedAccuracy(ctx context.Context, provider string) ([]domain.AccuracyRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, provider, forecast_wh, actual_wh, abs_error_pct, logged_at, completed_at
		FROM accuracy
		WHERE completed = TRUE AND ($1 = '' OR provider = $1)
		ORDER BY date, provider`, provider)
	if err != nil {
		return nil, fmt.Errorf("query completed accuracy: %w", err)
	}
	defer rows.Close()

	var records []domain.AccuracyRecord
	for rows.Next() {
		record := domain.AccuracyRecord{Completed: true}
		if err := rows.Scan(&record.Date, &record.Provider, &record.ForecastWh,
			&record.ActualWh, &record.AbsErrorPct, &record.LoggedAt, &record.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completed accuracy: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ port.ForecastStore = (*PostgresStore)(nil)
