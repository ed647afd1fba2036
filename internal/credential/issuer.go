package credential

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"

	"olocus/internal/anchor"
	"olocus/internal/crypto"
	"olocus/internal/ledger"
	"olocus/internal/merkle"
	"olocus/internal/visit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// DefaultValidity is how long an issued credential stays presentable.
const DefaultValidity = 30 * 24 * time.Hour

// Prover produces the opaque spatial proof for the ZK disclosure variant.
// Implementations wrap the circuit backend; this package never interprets
// the payload.
type Prover interface {
	Prove(ctx context.Context, v visit.Visit) (circuitID string, proof []byte, err error)
}

// ProofVerifier checks an opaque spatial proof. Nil means ZK credentials
// verify structurally only.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, circuitID string, proof []byte) error
}

// Issuer mints location credentials over anchored visits and verifies
// credentials presented by peers.
type Issuer struct {
	anchors  anchor.Store
	keys     crypto.Signer
	prover   Prover
	verifier ProofVerifier
	validity time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type IssuerOption func(*Issuer)

func WithProver(p Prover) IssuerOption {
	return func(i *Issuer) {
		i.prover = p
	}
}

func WithProofVerifier(v ProofVerifier) IssuerOption {
	return func(i *Issuer) {
		i.verifier = v
	}
}

func WithValidity(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.validity = d
	}
}

func WithLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(anchors anchor.Store, keys crypto.Signer, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		anchors:  anchors,
		keys:     keys,
		validity: DefaultValidity,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a credential over the visit with the requested disclosure
// mode. The visit must already be covered by a daily anchor; the credential
// carries the Merkle proof tying the visit commitment to that anchor's
// visits root.
func (i *Issuer) Issue(ctx context.Context, chain ledger.Chain, v visit.Visit, mode Mode) (*LocationCredential, error) {
	if v.Commitment.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "visit has no commitment")
	}

	disclosure, err := i.buildDisclosure(ctx, v, mode)
	if err != nil {
		return nil, err
	}

	covering, err := i.anchors.AnchorByDay(ctx, chain.ID, v.Arrival)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeClaimNotAnchored, "visit day is not anchored")
	}

	leafIndex := -1
	for idx, c := range covering.VisitCommitments {
		if c == v.Commitment {
			leafIndex = idx
			break
		}
	}
	if leafIndex < 0 {
		return nil, dErrors.New(dErrors.CodeClaimNotAnchored, "visit commitment not in the day's anchor")
	}

	proof, err := merkle.Build(covering.VisitCommitments).Proof(leafIndex)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build inclusion proof")
	}

	now := i.now().UTC()
	cred := LocationCredential{
		ID:              domain.NewCredentialID(),
		SubjectDID:      chain.Owner,
		ChainID:         chain.ID,
		VisitID:         v.ID,
		VisitType:       v.Type,
		Arrival:         v.Arrival,
		Departure:       v.Departure,
		Disclosure:      disclosure,
		VisitCommitment: v.Commitment,
		AnchorID:        covering.ID,
		InclusionProof:  proof,
		IssuedAt:        now,
		ExpiresAt:       now.Add(i.validity),
	}

	digest, err := cred.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := i.keys.Sign(ctx, chain.SigningKeyID, digest.Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign credential")
	}
	cred.Signature = sig

	i.logger.InfoContext(ctx, "credential issued",
		"credential_id", cred.ID,
		"visit_id", v.ID,
		"mode", mode,
		"anchor_id", covering.ID,
	)
	return &cred, nil
}

func (i *Issuer) buildDisclosure(ctx context.Context, v visit.Visit, mode Mode) (Disclosure, error) {
	switch mode {
	case ModeExact:
		return ExactDisclosure{Coordinates: v.Center}, nil
	case ModeCommitment:
		return CommitmentDisclosure{Commitment: CommitCoordinates(v.Center)}, nil
	case ModeZK:
		if i.prover == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "no spatial prover configured")
		}
		circuitID, proof, err := i.prover.Prove(ctx, v)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build spatial proof")
		}
		return ZKDisclosure{CircuitID: circuitID, Proof: proof}, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown disclosure mode %q", mode)
	}
}

// Verify checks a presented credential: structure, signature under the
// subject's verification key, validity window, anchor existence, Merkle
// inclusion, and the disclosure variant's own rules.
func (i *Issuer) Verify(ctx context.Context, cred LocationCredential, pub ed25519.PublicKey) error {
	if cred.ID.IsNil() || cred.VisitID.IsNil() || cred.ChainID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "credential is missing identifiers")
	}
	if !cred.Departure.After(cred.Arrival) {
		return dErrors.New(dErrors.CodeInvalidInput, "credential departure must be after arrival")
	}
	if cred.Disclosure == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "credential has no disclosure")
	}
	if err := cred.Disclosure.validate(); err != nil {
		return err
	}

	digest, err := cred.Digest()
	if err != nil {
		return err
	}
	if !crypto.Verify(pub, digest.Bytes(), cred.Signature) {
		return dErrors.New(dErrors.CodeIntegrity, "credential signature invalid")
	}

	now := i.now().UTC()
	if now.Before(cred.IssuedAt) {
		return dErrors.New(dErrors.CodeInvalidInput, "credential issued in the future")
	}
	if !cred.ExpiresAt.IsZero() && now.After(cred.ExpiresAt) {
		return dErrors.New(dErrors.CodeClaimExpired, "credential expired")
	}

	covering, err := i.anchors.AnchorByID(ctx, cred.AnchorID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeClaimNotAnchored, "credential anchor not found")
	}
	if covering.ChainID != cred.ChainID {
		return dErrors.New(dErrors.CodeClaimNotAnchored, "credential anchor belongs to a different chain")
	}
	if cred.InclusionProof.Leaf != cred.VisitCommitment {
		return dErrors.New(dErrors.CodeIntegrity, "inclusion proof leaf does not match visit commitment")
	}
	if !merkle.Verify(cred.InclusionProof, covering.VisitsMerkleRoot) {
		return dErrors.New(dErrors.CodeAttestationBadProof, "inclusion proof does not reach the anchor root")
	}

	if zk, ok := cred.Disclosure.(ZKDisclosure); ok && i.verifier != nil {
		if err := i.verifier.VerifyProof(ctx, zk.CircuitID, zk.Proof); err != nil {
			return dErrors.Wrap(err, dErrors.CodeAttestationBadProof, "spatial proof rejected")
		}
	}
	return nil
}
