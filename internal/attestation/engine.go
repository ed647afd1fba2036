package attestation

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"sync"
	"time"

	"olocus/internal/crypto"
	"olocus/internal/friendship"
	"olocus/internal/visit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// Engine runs both sides of the attestation protocol for one device.
type Engine struct {
	did          domain.DID
	chainID      domain.ChainID
	signingKeyID string
	keys         crypto.Signer
	visits       visit.Store
	friends      friendship.Store
	fingerprint  string
	tampered     bool
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	requests map[domain.RequestID]Request // requests this device issued
}

type EngineOption func(*Engine)

func WithDeviceState(fingerprint string, tampered bool) EngineOption {
	return func(e *Engine) {
		e.fingerprint = fingerprint
		e.tampered = tampered
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(did domain.DID, chainID domain.ChainID, signingKeyID string, keys crypto.Signer, visits visit.Store, friends friendship.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		did:          did,
		chainID:      chainID,
		signingKeyID: signingKeyID,
		keys:         keys,
		visits:       visits,
		friends:      friends,
		logger:       slog.Default(),
		now:          time.Now,
		requests:     make(map[domain.RequestID]Request),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRequest signs and remembers an attestation request for a claim this
// device holds. The engine keeps the request so Validate can later check
// that an incoming attestation answers something actually asked.
func (e *Engine) NewRequest(ctx context.Context, claim Claim, attester domain.DID, reqs Requirements) (*Request, error) {
	if claim.ClaimantDID != e.did {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim does not belong to this device")
	}
	if reqs.MaxDistanceMeters <= 0 || reqs.MinOverlapSeconds < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid attestation requirements")
	}

	now := e.now().UTC()
	req := Request{
		ID:           domain.NewRequestID(),
		Claim:        claim,
		AttesterDID:  attester,
		Requirements: reqs,
		CreatedAt:    now,
		ExpiresAt:    now.Add(DefaultExpiry),
	}
	sig, err := e.keys.Sign(ctx, e.signingKeyID, req.Digest().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign attestation request")
	}
	req.Signature = sig

	e.mu.Lock()
	e.requests[req.ID] = req
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "attestation requested",
		"request_id", req.ID,
		"attester", attester,
	)
	return &req, nil
}

// Respond answers a request as the attester: verify it, locate an own visit
// overlapping the claim within the requirements, and sign the resulting
// statement. Device tamper state is recorded, not judged; scoring treats it
// as a penalty input.
func (e *Engine) Respond(ctx context.Context, req Request, claimantPub ed25519.PublicKey) (*Attestation, error) {
	now := e.now().UTC()
	if now.After(req.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeAttestationExpired, "attestation request expired")
	}
	if !crypto.Verify(claimantPub, req.Digest().Bytes(), req.Signature) {
		return nil, dErrors.New(dErrors.CodeAttestationBadSignature, "attestation request signature invalid")
	}
	if req.AttesterDID != e.did {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request addressed to a different attester")
	}

	if req.Requirements.RequireFriendship {
		cred, err := e.friends.CredentialByPair(ctx, e.did, req.Claim.ClaimantDID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeFriendshipNotFound, "no friendship with claimant")
		}
		if !cred.ValidAt(now) {
			return nil, dErrors.New(dErrors.CodeFriendshipExpired, "friendship with claimant expired")
		}
	}

	own, distance, overlap, err := e.bestOverlappingVisit(ctx, req)
	if err != nil {
		return nil, err
	}

	att := Attestation{
		ID:                domain.NewAttestationID(),
		RequestID:         req.ID,
		CredentialID:      req.Claim.CredentialID,
		ClaimantDID:       req.Claim.ClaimantDID,
		AttesterDID:       e.did,
		DistanceMeters:    distance,
		OverlapSeconds:    overlap,
		Proof:             OverlapProof{Mode: ProofCommitment, Commitment: own.Commitment},
		DeviceFingerprint: e.fingerprint,
		Tampered:          e.tampered,
		CreatedAt:         now,
	}
	sig, err := e.keys.Sign(ctx, e.signingKeyID, att.Digest().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign attestation")
	}
	att.Signature = sig

	e.logger.InfoContext(ctx, "attestation produced",
		"attestation_id", att.ID,
		"request_id", req.ID,
		"distance_m", distance,
		"overlap_s", overlap,
	)
	return &att, nil
}

// bestOverlappingVisit picks the own visit with the longest overlap that
// satisfies the request bounds.
func (e *Engine) bestOverlappingVisit(ctx context.Context, req Request) (visit.Visit, float64, int64, error) {
	// Widen the window by a day either side; visits are indexed by arrival.
	candidates, err := e.visits.VisitsInPeriod(ctx, e.chainID,
		req.Claim.Arrival.Add(-24*time.Hour), req.Claim.Departure.Add(24*time.Hour))
	if err != nil {
		return visit.Visit{}, 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "load own visits")
	}

	var (
		best        visit.Visit
		bestOverlap int64 = -1
		bestDist    float64
	)
	for _, v := range candidates {
		overlap := v.Overlap(req.Claim.Arrival, req.Claim.Departure)
		if overlap <= 0 || overlap <= bestOverlap {
			continue
		}
		best = v
		bestOverlap = overlap
		bestDist = visit.HaversineMeters(v.Center, req.Claim.Center)
	}

	if bestOverlap < 0 {
		return visit.Visit{}, 0, 0, dErrors.New(dErrors.CodeAttestationLowOverlap, "no own visit overlaps the claim")
	}
	if bestDist > req.Requirements.MaxDistanceMeters {
		return visit.Visit{}, 0, 0, dErrors.Newf(dErrors.CodeAttestationTooFar,
			"closest overlapping visit is %.0fm away, limit %.0fm", bestDist, req.Requirements.MaxDistanceMeters)
	}
	if bestOverlap < req.Requirements.MinOverlapSeconds {
		return visit.Visit{}, 0, 0, dErrors.Newf(dErrors.CodeAttestationLowOverlap,
			"overlap %ds below required %ds", bestOverlap, req.Requirements.MinOverlapSeconds)
	}
	return best, bestDist, bestOverlap, nil
}

// Validate checks an incoming attestation on the claimant side. Tamper
// flags do not fail validation; they lower the eventual trust score.
func (e *Engine) Validate(ctx context.Context, att Attestation, attesterPub ed25519.PublicKey) error {
	e.mu.Lock()
	req, ok := e.requests[att.RequestID]
	e.mu.Unlock()
	if !ok {
		return dErrors.Newf(dErrors.CodeAttestationNoRequest, "attestation answers unknown request %s", att.RequestID)
	}

	now := e.now().UTC()
	if now.After(req.ExpiresAt) {
		return dErrors.New(dErrors.CodeAttestationExpired, "attestation arrived after request expiry")
	}
	if att.AttesterDID != req.AttesterDID {
		return dErrors.New(dErrors.CodeInvalidInput, "attestation from a different attester than requested")
	}
	if !crypto.Verify(attesterPub, att.Digest().Bytes(), att.Signature) {
		return dErrors.New(dErrors.CodeAttestationBadSignature, "attestation signature invalid")
	}
	if err := att.Proof.validate(); err != nil {
		return err
	}

	if req.Requirements.RequireFriendship {
		cred, err := e.friends.CredentialByPair(ctx, e.did, att.AttesterDID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeFriendshipNotFound, "attester is not a friend")
		}
		if !cred.ValidAt(now) {
			return dErrors.New(dErrors.CodeFriendshipExpired, "friendship with attester expired")
		}
	}

	if att.DistanceMeters > req.Requirements.MaxDistanceMeters {
		return dErrors.Newf(dErrors.CodeAttestationTooFar,
			"claimed distance %.0fm exceeds limit %.0fm", att.DistanceMeters, req.Requirements.MaxDistanceMeters)
	}
	if att.OverlapSeconds < req.Requirements.MinOverlapSeconds {
		return dErrors.Newf(dErrors.CodeAttestationLowOverlap,
			"claimed overlap %ds below required %ds", att.OverlapSeconds, req.Requirements.MinOverlapSeconds)
	}
	return nil
}
