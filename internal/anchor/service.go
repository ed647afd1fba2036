package anchor

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"olocus/internal/crypto"
	"olocus/internal/ledger"
	"olocus/internal/merkle"
	"olocus/internal/visit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// Config bounds anchor creation and verification.
type Config struct {
	// BacklogCap is the number of unconfirmed anchors tolerated before new
	// anchor creation is refused. A growing backlog means external proofs
	// keep failing and piling up more days would only widen the gap an
	// attacker could rewrite.
	BacklogCap int
	// TokenTolerance is the allowed skew between the anchor's creation time
	// and the authority's asserted time.
	TokenTolerance time.Duration
	// LateLimit is how long after the covered day ends a timestamp token is
	// still acceptable.
	LateLimit time.Duration
}

func DefaultConfig() Config {
	return Config{
		BacklogCap:     7,
		TokenTolerance: 15 * time.Minute,
		LateLimit:      48 * time.Hour,
	}
}

// Service creates one signed anchor per chain per UTC day and drives the
// external proofs. External failures never lose an anchor; they park it
// pending and RetryPending completes it later.
type Service struct {
	cfg    Config
	store  Store
	visits visit.Store
	blocks ledger.BlockStore
	keys   crypto.Signer
	tsa    TimestampAuthority
	chain  ChainSubmitter
	logger *slog.Logger
	now    func() time.Time
}

type ServiceOption func(*Service)

func WithChainSubmitter(c ChainSubmitter) ServiceOption {
	return func(s *Service) {
		s.chain = c
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(cfg Config, store Store, visits visit.Store, blocks ledger.BlockStore, keys crypto.Signer, tsa TimestampAuthority, opts ...ServiceOption) *Service {
	if cfg.BacklogCap <= 0 {
		cfg.BacklogCap = 7
	}
	if cfg.TokenTolerance <= 0 {
		cfg.TokenTolerance = 15 * time.Minute
	}
	if cfg.LateLimit <= 0 {
		cfg.LateLimit = 48 * time.Hour
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		visits: visits,
		blocks: blocks,
		keys:   keys,
		tsa:    tsa,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDailyAnchor anchors the given UTC day for the chain. It returns nil
// without error when the day holds neither blocks nor visits; there is
// nothing to commit. Creation is refused while the pending backlog is at
// capacity.
func (s *Service) CreateDailyAnchor(ctx context.Context, chain ledger.Chain, day time.Time) (*DailyAnchor, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	periodStart := day
	periodEnd := day.Add(24 * time.Hour)

	if _, err := s.store.AnchorByDay(ctx, chain.ID, day); err == nil {
		return nil, dErrors.Newf(dErrors.CodeAnchorDuplicateDay,
			"anchor for %s already exists", day.Format("2006-01-02"))
	}

	pending, err := s.store.PendingAnchors(ctx, chain.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count pending anchors")
	}
	if len(pending) >= s.cfg.BacklogCap {
		return nil, dErrors.Newf(dErrors.CodeAnchorBacklogFull,
			"%d anchors awaiting external proofs, limit %d", len(pending), s.cfg.BacklogCap)
	}

	blocks, err := s.blocks.BlocksByTime(ctx, chain.ID, periodStart, periodEnd)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load blocks for period")
	}
	visits, err := s.visits.VisitsInPeriod(ctx, chain.ID, periodStart, periodEnd)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load visits for period")
	}
	if len(blocks) == 0 && len(visits) == 0 {
		s.logger.DebugContext(ctx, "skipping empty anchor period",
			"chain_id", chain.ID,
			"day", day.Format("2006-01-02"),
		)
		return nil, nil
	}

	// The head commitment is the last block inside the covered period, so
	// anchoring a past day is unaffected by blocks appended since.
	head := chain.Head
	if len(blocks) > 0 {
		head = blocks[len(blocks)-1].Hash
	}

	commitments := make([]crypto.Hash, len(visits))
	for i, v := range visits {
		commitments[i] = v.Commitment
	}

	anchor := DailyAnchor{
		ID:               domain.NewAnchorID(),
		ChainID:          chain.ID,
		ChainHeadHash:    head,
		VisitsMerkleRoot: merkle.Build(commitments).Root(),
		VisitCommitments: commitments,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		Status:           StatusConfirmed,
		CreatedAt:        s.now().UTC(),
	}

	sig, err := s.keys.Sign(ctx, chain.SigningKeyID, anchor.Hash().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign anchor")
	}
	anchor.Signature = sig

	s.attachProofs(ctx, &anchor)

	if err := s.store.SaveAnchor(ctx, anchor); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "daily anchor created",
		"anchor_id", anchor.ID,
		"chain_id", chain.ID,
		"day", day.Format("2006-01-02"),
		"visits", len(visits),
		"status", anchor.Status,
	)
	return &anchor, nil
}

// attachProofs fills in whichever external proofs are still missing and
// downgrades the status when one cannot be obtained. The timestamp token is
// mandatory for a confirmed anchor; the chain reference only when a
// submitter is configured.
func (s *Service) attachProofs(ctx context.Context, a *DailyAnchor) {
	digest := a.Hash()

	if a.TimestampToken == nil {
		token, err := s.tsa.Timestamp(ctx, digest)
		if err != nil {
			s.logger.WarnContext(ctx, "timestamp proof deferred",
				"anchor_id", a.ID,
				"error", err,
			)
			a.Status = StatusNeedsTimestamp
			return
		}
		a.TimestampToken = token
	}

	if s.chain != nil && a.ChainRef == nil {
		ref, err := s.chain.Submit(ctx, digest)
		if err != nil {
			s.logger.WarnContext(ctx, "chain proof deferred",
				"anchor_id", a.ID,
				"error", err,
			)
			a.Status = StatusNeedsChain
			return
		}
		a.ChainRef = ref
	}

	a.Status = StatusConfirmed
}

// RetryPending reattempts the missing external proofs of every pending
// anchor for the chain. Anchors are retried concurrently; the first
// persistent store error aborts the pass.
func (s *Service) RetryPending(ctx context.Context, chainID domain.ChainID) (completed int, err error) {
	pending, err := s.store.PendingAnchors(ctx, chainID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "load pending anchors")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	results := make([]bool, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range pending {
		g.Go(func() error {
			a := pending[i]
			before := a.Status
			s.attachProofs(gctx, &a)
			if a.Status == before && a.TimestampToken == nil && a.ChainRef == nil {
				return nil // nothing gained, keep the stored record untouched
			}
			if err := s.store.UpdateProofs(gctx, a); err != nil {
				return err
			}
			results[i] = !a.Pending()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "persist retried anchors")
	}

	for _, done := range results {
		if done {
			completed++
		}
	}
	s.logger.InfoContext(ctx, "pending anchors retried",
		"chain_id", chainID,
		"pending", len(pending),
		"completed", completed,
	)
	return completed, nil
}

// Verify checks an anchor's device signature and timestamp proof against
// the configured tolerances. Chain references are checked for presence only;
// confirming the transaction on chain is the verifier's own lookup.
func (s *Service) Verify(a DailyAnchor, pub ed25519.PublicKey) error {
	if !crypto.Verify(pub, a.Hash().Bytes(), a.Signature) {
		return dErrors.New(dErrors.CodeIntegrity, "anchor signature invalid")
	}
	if a.TimestampToken == nil {
		return dErrors.New(dErrors.CodeTimestampAuthority, "anchor has no timestamp token")
	}

	asserted := a.TimestampToken.AssertedAt
	if asserted.Before(a.PeriodStart) {
		return dErrors.Newf(dErrors.CodeTimestampAuthority,
			"timestamp asserted %s before the covered day began", a.PeriodStart.Sub(asserted))
	}
	if asserted.After(a.PeriodEnd.Add(s.cfg.LateLimit)) {
		return dErrors.Newf(dErrors.CodeAnchorLate,
			"timestamp asserted %s after the covered day ended", asserted.Sub(a.PeriodEnd))
	}
	skew := asserted.Sub(a.CreatedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.TokenTolerance {
		return dErrors.Newf(dErrors.CodeTimestampAuthority,
			"timestamp skew %s exceeds tolerance %s", skew, s.cfg.TokenTolerance)
	}
	return nil
}
