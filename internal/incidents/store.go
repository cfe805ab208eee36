package incidents

import (
	"context"
	"log"
	"slices"
	"sync"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
)

// Store keeps the two incident logs of a dashboard session: the live
// sequence grown by push events and the history sequence loaded from the
// alert store. They are never merged or deduplicated.
type Store struct {
	fetcher domain.HistoryFetcher
	metrics *metrics.Metrics

	mu       sync.RWMutex
	arrivals []domain.IncidentRecord // live, oldest first
	history  []domain.IncidentRecord // newest first

	activateOnce sync.Once
	activateErr  error
}

func NewStore(fetcher domain.HistoryFetcher, m *metrics.Metrics) *Store {
	return &Store{
		fetcher: fetcher,
		metrics: m,
	}
}

// Push prepends rec to the live sequence. Duplicates are kept.
func (s *Store) Push(rec domain.IncidentRecord) {
	s.mu.Lock()
	s.arrivals = append(s.arrivals, rec)
	s.mu.Unlock()
}

// Activate performs the one historical fetch of the store's lifetime.
// Later calls return the first call's result without fetching.
func (s *Store) Activate(ctx context.Context) error {
	s.activateOnce.Do(func() {
		s.activateErr = s.Refresh(ctx)
	})
	return s.activateErr
}

// Refresh fetches the history and replaces it wholesale. On failure the
// current history is kept and the error is logged and returned.
func (s *Store) Refresh(ctx context.Context) error {
	records, err := s.fetcher.FetchAlerts(ctx)
	if err != nil {
		log.Printf("[incidents] history fetch failed: %v", err)
		return err
	}

	valid := make([]domain.IncidentRecord, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			log.Printf("[incidents] skipping history record %q: %v", r.ID, err)
			continue
		}
		valid = append(valid, r)
	}
	slices.SortStableFunc(valid, func(a, b domain.IncidentRecord) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})

	s.mu.Lock()
	s.history = valid
	s.mu.Unlock()

	s.metrics.IncidentsReceived("history", len(valid))
	log.Printf("[incidents] history loaded: %d incidents", len(valid))
	return nil
}

// Live returns the live sequence, newest first.
func (s *Store) Live() []domain.IncidentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IncidentRecord, len(s.arrivals))
	for i, r := range s.arrivals {
		out[len(out)-1-i] = r
	}
	return out
}

// History returns the history sequence, newest first.
func (s *Store) History() []domain.IncidentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}
