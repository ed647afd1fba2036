package visit

import (
	"context"
	"sort"
	"sync"
	"time"

	"olocus/internal/ledger"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

var ErrVisitNotFound = dErrors.New(dErrors.CodeNotFound, "visit not found")

// Store persists detected visits until the pruning policy allows deletion.
// It doubles as the frequency History behind the home/work rules.
type Store interface {
	History

	SaveVisit(ctx context.Context, v Visit) error
	VisitByID(ctx context.Context, id domain.VisitID) (Visit, error)

	// VisitsInPeriod returns visits whose arrival lies in [from, to),
	// ordered by arrival. This is the anchor period query.
	VisitsInPeriod(ctx context.Context, chainID domain.ChainID, from, to time.Time) ([]Visit, error)

	DeleteVisitsBefore(ctx context.Context, chainID domain.ChainID, cutoff time.Time) (int64, error)
}

// InMemoryStore keeps visits in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	visits map[domain.VisitID]Visit
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{visits: make(map[domain.VisitID]Visit)}
}

func (s *InMemoryStore) SaveVisit(_ context.Context, v Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[v.ID] = v
	return nil
}

func (s *InMemoryStore) VisitByID(_ context.Context, id domain.VisitID) (Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.visits[id]; ok {
		return v, nil
	}
	return Visit{}, ErrVisitNotFound
}

func (s *InMemoryStore) VisitsInPeriod(_ context.Context, chainID domain.ChainID, from, to time.Time) ([]Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Visit
	for _, v := range s.visits {
		if v.ChainID == chainID && !v.Arrival.Before(from) && v.Arrival.Before(to) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Arrival.Before(out[j].Arrival) })
	return out, nil
}

func (s *InMemoryStore) VisitCountNear(_ context.Context, center ledger.GeoCoordinates, radiusMeters float64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, v := range s.visits {
		if HaversineMeters(v.Center, center) <= radiusMeters {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) DeleteVisitsBefore(_ context.Context, chainID domain.ChainID, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, v := range s.visits {
		if v.ChainID == chainID && v.Departure.Before(cutoff) {
			delete(s.visits, id)
			deleted++
		}
	}
	return deleted, nil
}
