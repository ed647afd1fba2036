package ledger

import (
	"context"
	"sync"
	"time"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// InMemoryBlockStore keeps chains in process memory. It intentionally favors
// clarity over performance; production deployments use the postgres store.
type InMemoryBlockStore struct {
	mu     sync.RWMutex
	chains map[domain.ChainID][]LocationBlock
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{chains: make(map[domain.ChainID][]LocationBlock)}
}

func (s *InMemoryBlockStore) AppendBlock(_ context.Context, chainID domain.ChainID, block LocationBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.chains[chainID]
	if block.Index != uint64(len(blocks)) {
		return dErrors.Newf(dErrors.CodeIntegrity,
			"append index %d does not extend chain of length %d", block.Index, len(blocks))
	}
	s.chains[chainID] = append(blocks, block)
	return nil
}

func (s *InMemoryBlockStore) BlockByIndex(_ context.Context, chainID domain.ChainID, index uint64) (LocationBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := s.chains[chainID]
	if index >= uint64(len(blocks)) {
		return LocationBlock{}, ErrBlockNotFound
	}
	return blocks[index], nil
}

func (s *InMemoryBlockStore) BlocksInRange(_ context.Context, chainID domain.ChainID, from, to uint64) ([]LocationBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := s.chains[chainID]
	if from >= uint64(len(blocks)) || to < from {
		return nil, nil
	}
	if to >= uint64(len(blocks)) {
		to = uint64(len(blocks)) - 1
	}
	out := make([]LocationBlock, to-from+1)
	copy(out, blocks[from:to+1])
	return out, nil
}

func (s *InMemoryBlockStore) BlocksByTime(_ context.Context, chainID domain.ChainID, from, to time.Time) ([]LocationBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LocationBlock
	for _, b := range s.chains[chainID] {
		if !b.Timestamp.Before(from) && b.Timestamp.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *InMemoryBlockStore) DeleteBlocksBefore(_ context.Context, chainID domain.ChainID, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.chains[chainID]
	kept := blocks[:0]
	var deleted int64
	for _, b := range blocks {
		if b.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, b)
	}
	s.chains[chainID] = kept
	return deleted, nil
}
