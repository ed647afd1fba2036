package ledger

import (
	"context"
	"time"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// ErrBlockNotFound keeps store-level 404s consistent across the in-memory
// and postgres implementations.
var ErrBlockNotFound = dErrors.New(dErrors.CodeNotFound, "block not found")

// BlockStore is the persistence contract the encrypted store collaborator
// must satisfy: append, range queries by index and time, and pruning.
type BlockStore interface {
	// AppendBlock persists the block; it must reject non-sequential indexes
	// so a store-level race can never silently fork the chain.
	AppendBlock(ctx context.Context, chainID domain.ChainID, block LocationBlock) error

	BlockByIndex(ctx context.Context, chainID domain.ChainID, index uint64) (LocationBlock, error)

	// BlocksInRange returns blocks with index in [from, to], ordered.
	BlocksInRange(ctx context.Context, chainID domain.ChainID, from, to uint64) ([]LocationBlock, error)

	// BlocksByTime returns blocks with timestamp in [from, to), ordered by
	// index. This is the anchor period query.
	BlocksByTime(ctx context.Context, chainID domain.ChainID, from, to time.Time) ([]LocationBlock, error)

	// DeleteBlocksBefore removes pruned rows older than the cutoff and
	// returns the number deleted. Anchored history stays provable through
	// the anchors, which are never pruned.
	DeleteBlocksBefore(ctx context.Context, chainID domain.ChainID, cutoff time.Time) (int64, error)
}
