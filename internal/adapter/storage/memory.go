package storage

import (
	"context"
	"sync"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
)

// MemoryStore is an in-memory ForecastStore, used in tests and when no
// persistence backend is configured.
type MemoryStore struct {
	mu          sync.Mutex
	Predictions []domain.PredictionRecord
	Comparisons []domain.ComparisonRecord
	pending     map[string][]domain.AccuracyRecord
	completed   []domain.AccuracyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[string][]domain.AccuracyRecord),
	}
}

func (s *MemoryStore) AppendPrediction(ctx context.Context, record domain.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Predictions = append(s.Predictions, record)
	return nil
}

func (s *MemoryStore) AppendComparison(ctx context.Context, record domain.ComparisonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Comparisons = append(s.Comparisons, record)
	return nil
}

func (s *MemoryStore) AppendPendingAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// latest row wins per (date, provider), like the other backends
	for i, pending := range s.pending[record.Date] {
		if pending.Provider == record.Provider {
			s.pending[record.Date][i] = record
			return nil
		}
	}
	s.pending[record.Date] = append(s.pending[record.Date], record)
	return nil
}

func (s *MemoryStore) PendingAccuracy(ctx context.Context, date string) ([]domain.AccuracyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]domain.AccuracyRecord, len(s.pending[date]))
	copy(records, s.pending[date])
	return records, nil
}

func (s *MemoryStore) CompleteAccuracy(ctx context.Context, record domain.AccuracyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.pending[record.Date][:0]
	for _, pending := range s.pending[record.Date] {
		if pending.Provider != record.Provider {
			remaining = append(remaining, pending)
		}
	}
	s.pending[record.Date] = remaining
	for i, completed := range s.completed {
		if completed.Date == record.Date && completed.Provider == record.Provider {
			s.completed[i] = record
			return nil
		}
	}
	s.completed = append(s.completed, record)
	return nil
}

func (s *MemoryStore) CompletedAccuracy(ctx context.Context, provider string) ([]domain.AccuracyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []domain.AccuracyRecord
	for _, record := range s.completed {
		if provider == "" || record.Provider == provider {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ port.ForecastStore = (*MemoryStore)(nil)
