package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	"olocus/internal/crypto"
	dErrors "olocus/pkg/domain-errors"
)

// Ledger serializes appends to a single chain. Concurrent appends from two
// writers would constitute a fork, so the mutex is the protocol invariant,
// not an implementation detail.
type Ledger struct {
	mu     sync.Mutex
	chain  *Chain
	store  BlockStore
	keys   crypto.Signer
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(chain *Chain, store BlockStore, keys crypto.Signer, opts ...Option) (*Ledger, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if store == nil {
		return nil, fmt.Errorf("block store is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("signer is required")
	}

	l := &Ledger{
		chain:  chain,
		store:  store,
		keys:   keys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Chain returns a snapshot of the current head state.
func (l *Ledger) Chain() Chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.chain
}

// Append constructs, signs, and persists the next block. Either the block is
// fully persisted and the head advances, or neither happens; readers never
// observe partial state.
func (l *Ledger) Append(ctx context.Context, sample Sample) (*LocationBlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sample.Timestamp.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample timestamp is required")
	}
	if l.chain.Length > 0 && !sample.Timestamp.After(l.chain.LastTimestamp) {
		return nil, dErrors.Newf(dErrors.CodeIntegrity,
			"sample timestamp %s not after chain head timestamp %s",
			sample.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			l.chain.LastTimestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	}

	block := LocationBlock{
		Index:        l.chain.Length,
		Timestamp:    sample.Timestamp,
		Coordinates:  sample.Coordinates,
		Accuracy:     sample.Accuracy,
		PreviousHash: l.chain.Head,
		Motion:       sample.Motion,
		Device:       sample.Device,
	}
	block.Hash = block.ComputeHash()

	sig, err := l.keys.Sign(ctx, l.chain.SigningKeyID, block.Hash[:])
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign block")
	}
	block.Signature = sig

	if err := l.store.AppendBlock(ctx, l.chain.ID, block); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist block")
	}

	// Persisted; only now advance the head.
	l.chain.Head = block.Hash
	l.chain.Length = block.Index + 1
	l.chain.LastTimestamp = block.Timestamp

	l.logger.DebugContext(ctx, "block appended",
		"chain_id", l.chain.ID,
		"index", block.Index,
		"hash", block.Hash.Hex(),
	)
	return &block, nil
}

// SegmentResult reports the outcome of verifying a block sequence. When
// invalid, FailedIndex is the chain index at which verification first
// failed; for a gap, that is the index that should have been present.
type SegmentResult struct {
	Valid       bool
	FailedIndex uint64
	Reason      string
}

func invalid(index uint64, reason string) SegmentResult {
	return SegmentResult{FailedIndex: index, Reason: reason}
}

// VerifySegment checks an ordered block sequence against the chain's
// verification key: signature validity, previous-hash linkage, strictly
// sequential indexes, strictly increasing timestamps, and hash integrity.
// It reports the first failure rather than silently short-circuiting.
func VerifySegment(pub ed25519.PublicKey, blocks []LocationBlock) SegmentResult {
	for i, block := range blocks {
		if i > 0 {
			prev := blocks[i-1]
			if expected := prev.Index + 1; block.Index != expected {
				return invalid(expected, "non-sequential index")
			}
			if !block.Timestamp.After(prev.Timestamp) {
				return invalid(block.Index, "non-monotonic timestamp")
			}
			if block.PreviousHash != prev.Hash {
				return invalid(block.Index, "broken previous-hash link")
			}
		}
		if block.ComputeHash() != block.Hash {
			return invalid(block.Index, "block hash mismatch")
		}
		if !crypto.Verify(pub, block.Hash[:], block.Signature) {
			return invalid(block.Index, "invalid signature")
		}
	}
	return SegmentResult{Valid: true}
}

// VerifySegment verifies a segment against this ledger's chain, adding the
// genesis linkage check when the segment starts at index zero.
func (l *Ledger) VerifySegment(ctx context.Context, pub ed25519.PublicKey, blocks []LocationBlock) SegmentResult {
	if len(blocks) > 0 && blocks[0].Index == 0 {
		genesis := l.Chain().Genesis
		if blocks[0].PreviousHash != genesis {
			return invalid(0, "first block not linked to genesis")
		}
	}
	result := VerifySegment(pub, blocks)
	if !result.Valid {
		l.logger.WarnContext(ctx, "segment verification failed",
			"chain_id", l.chain.ID,
			"failed_index", result.FailedIndex,
			"reason", result.Reason,
		)
	}
	return result
}
