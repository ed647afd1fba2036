package anchor

import (
	"context"
	"sort"
	"sync"
	"time"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

var ErrAnchorNotFound = dErrors.New(dErrors.CodeNotFound, "anchor not found")

// Store persists daily anchors. Anchors are append-only except for the
// external-proof fields, which are filled in as retries succeed.
type Store interface {
	SaveAnchor(ctx context.Context, a DailyAnchor) error
	// UpdateProofs replaces the timestamp token, chain reference, and status
	// of an existing anchor.
	UpdateProofs(ctx context.Context, a DailyAnchor) error
	AnchorByID(ctx context.Context, id domain.AnchorID) (DailyAnchor, error)
	// AnchorByDay looks up the anchor covering the UTC day of the given time.
	AnchorByDay(ctx context.Context, chainID domain.ChainID, day time.Time) (DailyAnchor, error)
	// PendingAnchors returns anchors with outstanding external proofs,
	// oldest first.
	PendingAnchors(ctx context.Context, chainID domain.ChainID) ([]DailyAnchor, error)
	LatestAnchor(ctx context.Context, chainID domain.ChainID) (DailyAnchor, error)
}

// InMemoryStore keeps anchors in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	anchors map[domain.AnchorID]DailyAnchor
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{anchors: make(map[domain.AnchorID]DailyAnchor)}
}

func (s *InMemoryStore) SaveAnchor(_ context.Context, a DailyAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := a.Day()
	for _, existing := range s.anchors {
		if existing.ChainID == a.ChainID && existing.Day().Equal(day) {
			return dErrors.Newf(dErrors.CodeAnchorDuplicateDay, "anchor for %s already exists", day.Format("2006-01-02"))
		}
	}
	s.anchors[a.ID] = a
	return nil
}

func (s *InMemoryStore) UpdateProofs(_ context.Context, a DailyAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.anchors[a.ID]
	if !ok {
		return ErrAnchorNotFound
	}
	existing.TimestampToken = a.TimestampToken
	existing.ChainRef = a.ChainRef
	existing.Status = a.Status
	s.anchors[a.ID] = existing
	return nil
}

func (s *InMemoryStore) AnchorByID(_ context.Context, id domain.AnchorID) (DailyAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.anchors[id]; ok {
		return a, nil
	}
	return DailyAnchor{}, ErrAnchorNotFound
}

func (s *InMemoryStore) AnchorByDay(_ context.Context, chainID domain.ChainID, day time.Time) (DailyAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := day.UTC().Truncate(24 * time.Hour)
	for _, a := range s.anchors {
		if a.ChainID == chainID && a.Day().Equal(want) {
			return a, nil
		}
	}
	return DailyAnchor{}, ErrAnchorNotFound
}

func (s *InMemoryStore) PendingAnchors(_ context.Context, chainID domain.ChainID) ([]DailyAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DailyAnchor
	for _, a := range s.anchors {
		if a.ChainID == chainID && a.Pending() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (s *InMemoryStore) LatestAnchor(_ context.Context, chainID domain.ChainID) (DailyAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest DailyAnchor
	found := false
	for _, a := range s.anchors {
		if a.ChainID != chainID {
			continue
		}
		if !found || a.PeriodStart.After(latest.PeriodStart) {
			latest = a
			found = true
		}
	}
	if !found {
		return DailyAnchor{}, ErrAnchorNotFound
	}
	return latest, nil
}
