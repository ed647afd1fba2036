package attestation

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"

	"olocus/internal/crypto"
	"olocus/internal/merkle"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// BatchConfig bounds batch assembly.
type BatchConfig struct {
	// MinSize is the smallest batch worth signing; below it the window
	// timer keeps waiting.
	MinSize int
	// MaxSize triggers an immediate flush.
	MaxSize int
	// PendingCap bounds the unflushed backlog; Add fails beyond it.
	PendingCap int
	// Window is how long the first pending attestation may wait before a
	// flush is attempted regardless of size.
	Window time.Duration
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MinSize:    3,
		MaxSize:    20,
		PendingCap: 50,
		Window:     5 * time.Minute,
	}
}

// BuildBatch signs a batch over the given attestations. The signature
// covers the metadata and Merkle root only; tampering with any entry breaks
// its leaf against the root rather than the signature.
func BuildBatch(ctx context.Context, keys crypto.Signer, signingKeyID string, attester domain.DID, atts []Attestation, at time.Time) (*Batch, error) {
	if len(atts) == 0 {
		return nil, dErrors.New(dErrors.CodeAttestationBatchSize, "cannot batch zero attestations")
	}

	leaves := make([]crypto.Hash, len(atts))
	for i, a := range atts {
		if a.AttesterDID != attester {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "attestation %s belongs to a different attester", a.ID)
		}
		leaves[i] = a.Leaf()
	}

	batch := Batch{
		ID:           domain.NewBatchID(),
		AttesterDID:  attester,
		Root:         merkle.Build(leaves).Root(),
		Count:        len(atts),
		CreatedAt:    at.UTC(),
		Attestations: append([]Attestation(nil), atts...),
	}
	sig, err := keys.Sign(ctx, signingKeyID, batch.Digest().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign attestation batch")
	}
	batch.Signature = sig
	return &batch, nil
}

// VerifyBatch checks the batch signature and that the entries reproduce the
// signed root.
func VerifyBatch(b Batch, attesterPub ed25519.PublicKey) error {
	if b.Count != len(b.Attestations) {
		return dErrors.Newf(dErrors.CodeAttestationBatchSize,
			"batch declares %d entries but carries %d", b.Count, len(b.Attestations))
	}
	if !crypto.Verify(attesterPub, b.Digest().Bytes(), b.Signature) {
		return dErrors.New(dErrors.CodeAttestationBadSignature, "batch signature invalid")
	}

	leaves := make([]crypto.Hash, len(b.Attestations))
	for i, a := range b.Attestations {
		leaves[i] = a.Leaf()
	}
	if merkle.Build(leaves).Root() != b.Root {
		return dErrors.New(dErrors.CodeAttestationBadProof, "batch entries do not reproduce the signed root")
	}
	return nil
}

// EntryProof returns the Merkle inclusion proof for one attestation of the
// batch, so a single entry can be presented without the other entries.
func EntryProof(b Batch, id domain.AttestationID) (merkle.Proof, error) {
	leaves := make([]crypto.Hash, len(b.Attestations))
	index := -1
	for i, a := range b.Attestations {
		leaves[i] = a.Leaf()
		if a.ID == id {
			index = i
		}
	}
	if index < 0 {
		return merkle.Proof{}, dErrors.Newf(dErrors.CodeNotFound, "attestation %s not in batch", id)
	}
	return merkle.Build(leaves).Proof(index)
}

// Builder accumulates this device's outgoing attestations and flushes
// signed batches either when MaxSize is reached or when the window timer
// fires with at least MinSize pending.
type Builder struct {
	cfg          BatchConfig
	attester     domain.DID
	signingKeyID string
	keys         crypto.Signer
	sink         func(context.Context, Batch)
	logger       *slog.Logger
	now          func() time.Time
	inbox        chan Attestation
}

type BuilderOption func(*Builder)

func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(cfg BatchConfig, attester domain.DID, signingKeyID string, keys crypto.Signer, sink func(context.Context, Batch), opts ...BuilderOption) *Builder {
	if cfg.MinSize <= 0 {
		cfg.MinSize = 3
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = 20
	}
	if cfg.PendingCap < cfg.MaxSize {
		cfg.PendingCap = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	b := &Builder{
		cfg:          cfg,
		attester:     attester,
		signingKeyID: signingKeyID,
		keys:         keys,
		sink:         sink,
		logger:       slog.Default(),
		now:          time.Now,
		inbox:        make(chan Attestation, cfg.PendingCap),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues an attestation for batching. It fails when the pending
// backlog is at capacity rather than blocking the attestation path.
func (b *Builder) Add(att Attestation) error {
	select {
	case b.inbox <- att:
		return nil
	default:
		return dErrors.Newf(dErrors.CodeAttestationBatchSize,
			"batch backlog full at %d attestations", b.cfg.PendingCap)
	}
}

// Run consumes the inbox until the context ends, flushing any remainder of
// at least MinSize on shutdown.
func (b *Builder) Run(ctx context.Context) error {
	var pending []Attestation
	timer := time.NewTimer(b.cfg.Window)
	if !timer.Stop() {
		<-timer.C
	}
	timerActive := false

	flush := func() {
		for len(pending) > 0 {
			n := len(pending)
			if n > b.cfg.MaxSize {
				n = b.cfg.MaxSize
			}
			batch, err := BuildBatch(ctx, b.keys, b.signingKeyID, b.attester, pending[:n], b.now())
			if err != nil {
				b.logger.ErrorContext(ctx, "batch build failed", "error", err, "pending", n)
				return
			}
			b.sink(ctx, *batch)
			pending = pending[n:]
		}
		if timerActive {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerActive = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			if len(pending) >= b.cfg.MinSize {
				flush()
			}
			return ctx.Err()

		case att := <-b.inbox:
			pending = append(pending, att)
			if len(pending) >= b.cfg.MaxSize {
				flush()
				continue
			}
			if !timerActive {
				timer.Reset(b.cfg.Window)
				timerActive = true
			}

		case <-timer.C:
			timerActive = false
			if len(pending) >= b.cfg.MinSize {
				flush()
			} else if len(pending) > 0 {
				// Not enough to sign yet; give stragglers another window.
				timer.Reset(b.cfg.Window)
				timerActive = true
			}
		}
	}
}
