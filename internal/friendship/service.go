package friendship

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"olocus/internal/crypto"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// Confirmer answers whether the human verification code was confirmed out
// of band. The UI layer implements this; tests stub it.
type Confirmer func(code string) bool

// Establisher runs one side of the handshake. The same instance can act as
// requester and acceptor for different peers.
type Establisher struct {
	did          domain.DID
	signingKeyID string
	keys         crypto.Signer
	store        Store
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	pending map[domain.RequestID]*pendingRequest
}

type pendingRequest struct {
	request Request
	priv    *crypto.AgreementPrivateKey
}

type Option func(*Establisher)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Establisher) {
		e.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Establisher) {
		e.now = now
	}
}

func NewEstablisher(did domain.DID, signingKeyID string, keys crypto.Signer, store Store, opts ...Option) *Establisher {
	e := &Establisher{
		did:          did,
		signingKeyID: signingKeyID,
		keys:         keys,
		store:        store,
		logger:       slog.Default(),
		now:          time.Now,
		pending:      make(map[domain.RequestID]*pendingRequest),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initiate starts a handshake: fresh ephemeral keypair, human verification
// code, signed request. The ephemeral private key stays in memory until
// Complete or Abort zeroizes it.
func (e *Establisher) Initiate(ctx context.Context, level Level) (*Request, error) {
	priv, pub, err := crypto.GenerateAgreementKey()
	if err != nil {
		return nil, err
	}

	code, err := verificationCode()
	if err != nil {
		priv.Zeroize()
		return nil, err
	}

	now := e.now().UTC()
	req := Request{
		ID:               domain.NewRequestID(),
		RequesterDID:     e.did,
		EphemeralKey:     pub,
		VerificationCode: code,
		Level:            level,
		CreatedAt:        now,
		ExpiresAt:        now.Add(DefaultExpiry),
	}

	digest := req.Digest()
	sig, err := e.keys.Sign(ctx, e.signingKeyID, digest.Bytes())
	if err != nil {
		priv.Zeroize()
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign friendship request")
	}
	req.Signature = sig

	e.mu.Lock()
	e.pending[req.ID] = &pendingRequest{request: req, priv: priv}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "friendship request created",
		"request_id", req.ID,
		"level", level,
	)
	return &req, nil
}

// Abort drops a pending request and zeroizes its ephemeral key.
func (e *Establisher) Abort(id domain.RequestID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pending[id]; ok {
		p.priv.Zeroize()
		delete(e.pending, id)
	}
}

// Accept runs the acceptor side: verify the request, confirm the code out
// of band, derive the commitment, and return the signed response together
// with this side's half-signed credential. The shared secret and the
// ephemeral private key are zeroized on every exit path.
func (e *Establisher) Accept(ctx context.Context, req Request, requesterPub ed25519.PublicKey, confirm Confirmer) (*Response, *Credential, error) {
	now := e.now().UTC()
	if now.After(req.ExpiresAt) {
		return nil, nil, dErrors.New(dErrors.CodeFriendshipExpired, "friendship request expired")
	}
	if !crypto.Verify(requesterPub, req.Digest().Bytes(), req.Signature) {
		return nil, nil, dErrors.New(dErrors.CodeFriendshipBadSignature, "friendship request signature invalid")
	}
	if req.RequesterDID == e.did {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "cannot befriend self")
	}
	if confirm == nil || !confirm(req.VerificationCode) {
		return nil, nil, dErrors.New(dErrors.CodeFriendshipMismatch, "verification code not confirmed")
	}

	priv, pub, err := crypto.GenerateAgreementKey()
	if err != nil {
		return nil, nil, err
	}
	defer priv.Zeroize()

	commitment, err := deriveCommitment(priv, req.EphemeralKey)
	if err != nil {
		return nil, nil, err
	}

	resp := Response{
		RequestID:    req.ID,
		AcceptorDID:  e.did,
		EphemeralKey: pub,
		CreatedAt:    now,
	}
	sig, err := e.keys.Sign(ctx, e.signingKeyID, resp.Digest().Bytes())
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign friendship response")
	}
	resp.Signature = sig

	cred, err := e.buildCredential(ctx, req, commitment, now)
	if err != nil {
		return nil, nil, err
	}

	e.logger.InfoContext(ctx, "friendship request accepted",
		"request_id", req.ID,
		"friendship_id", cred.ID,
	)
	return &resp, cred, nil
}

// Complete runs the requester's final step: derive the same commitment from
// the acceptor's ephemeral key, check it against the acceptor's half-signed
// credential, countersign, and store. The pending ephemeral key is zeroized
// on every exit path.
func (e *Establisher) Complete(ctx context.Context, resp Response, acceptorCred Credential, acceptorPub ed25519.PublicKey) (*Credential, error) {
	e.mu.Lock()
	p, ok := e.pending[resp.RequestID]
	delete(e.pending, resp.RequestID)
	e.mu.Unlock()
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeFriendshipNotFound, "no pending request %s", resp.RequestID)
	}
	defer p.priv.Zeroize()

	now := e.now().UTC()
	if now.After(p.request.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeFriendshipExpired, "friendship request expired before completion")
	}
	if !crypto.Verify(acceptorPub, resp.Digest().Bytes(), resp.Signature) {
		return nil, dErrors.New(dErrors.CodeFriendshipBadSignature, "friendship response signature invalid")
	}

	commitment, err := deriveCommitment(p.priv, resp.EphemeralKey)
	if err != nil {
		return nil, err
	}
	if commitment != acceptorCred.Commitment {
		return nil, dErrors.New(dErrors.CodeFriendshipMismatch, "commitments do not match")
	}

	a, b := domain.OrderDIDs(e.did, resp.AcceptorDID)
	if acceptorCred.ParticipantA != a || acceptorCred.ParticipantB != b {
		return nil, dErrors.New(dErrors.CodeFriendshipMismatch, "participants not in canonical order")
	}

	// Check the acceptor's signature half before adding ours.
	theirSig := acceptorCred.SignatureB
	if resp.AcceptorDID == a {
		theirSig = acceptorCred.SignatureA
	}
	if !crypto.Verify(acceptorPub, acceptorCred.Digest().Bytes(), theirSig) {
		return nil, dErrors.New(dErrors.CodeFriendshipBadSignature, "acceptor credential signature invalid")
	}

	sig, err := e.keys.Sign(ctx, e.signingKeyID, acceptorCred.Digest().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign friendship credential")
	}
	cred := acceptorCred
	if e.did == a {
		cred.SignatureA = sig
	} else {
		cred.SignatureB = sig
	}

	if err := e.store.SaveCredential(ctx, cred); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "friendship established",
		"friendship_id", cred.ID,
		"participant_a", cred.ParticipantA,
		"participant_b", cred.ParticipantB,
	)
	return &cred, nil
}

// Adopt stores the fully countersigned credential on the acceptor side
// after validating the requester's signature half.
func (e *Establisher) Adopt(ctx context.Context, cred Credential, requesterPub ed25519.PublicKey) error {
	otherSig := cred.SignatureA
	if cred.ParticipantA == e.did {
		otherSig = cred.SignatureB
	}
	if !crypto.Verify(requesterPub, cred.Digest().Bytes(), otherSig) {
		return dErrors.New(dErrors.CodeFriendshipBadSignature, "requester credential signature invalid")
	}
	return e.store.SaveCredential(ctx, cred)
}

// buildCredential assembles the canonical credential record with this
// side's signature in the slot matching its DID order position.
func (e *Establisher) buildCredential(ctx context.Context, req Request, commitment crypto.Hash, establishedAt time.Time) (*Credential, error) {
	a, b := domain.OrderDIDs(req.RequesterDID, e.did)
	cred := Credential{
		ID:            deterministicID(req.ID, commitment),
		ParticipantA:  a,
		ParticipantB:  b,
		Commitment:    commitment,
		Level:         req.Level,
		EstablishedAt: establishedAt,
	}

	sig, err := e.keys.Sign(ctx, e.signingKeyID, cred.Digest().Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "sign friendship credential")
	}
	if e.did == a {
		cred.SignatureA = sig
	} else {
		cred.SignatureB = sig
	}
	return &cred, nil
}

// deriveCommitment computes H(shared_secret) and zeroizes the secret before
// returning, success or failure.
func deriveCommitment(priv *crypto.AgreementPrivateKey, peer crypto.AgreementPublicKey) (crypto.Hash, error) {
	secret, err := priv.SharedSecret(peer)
	if err != nil {
		return crypto.Hash{}, err
	}
	defer crypto.Zeroize(secret)
	return crypto.Sum(secret), nil
}

// deterministicID derives the friendship id from the request and the
// commitment so both sides mint the same globally unique identifier.
func deterministicID(reqID domain.RequestID, commitment crypto.Hash) domain.FriendshipID {
	seed := append([]byte(reqID.String()), commitment[:]...)
	return domain.FriendshipID(uuid.NewSHA1(uuid.NameSpaceOID, seed))
}

// verificationCode renders six random digits as "123-456"; enough entropy
// for a human comparison that only defends against MITM during the
// handshake window.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate verification code")
	}
	v := n.Int64()
	return fmt.Sprintf("%03d-%03d", v/1000, v%1000), nil
}

// Validate checks a stored credential: canonical ordering, both signatures,
// and the validity window.
func Validate(cred Credential, pubA, pubB ed25519.PublicKey, at time.Time) error {
	if cred.ParticipantA >= cred.ParticipantB {
		return dErrors.New(dErrors.CodeFriendshipMismatch, "participants not in canonical order")
	}
	if cred.Commitment.IsZero() {
		return dErrors.New(dErrors.CodeFriendshipMismatch, "credential has no commitment")
	}
	digest := cred.Digest()
	if !crypto.Verify(pubA, digest.Bytes(), cred.SignatureA) {
		return dErrors.New(dErrors.CodeFriendshipBadSignature, "participant A signature invalid")
	}
	if !crypto.Verify(pubB, digest.Bytes(), cred.SignatureB) {
		return dErrors.New(dErrors.CodeFriendshipBadSignature, "participant B signature invalid")
	}
	if !cred.ValidAt(at) {
		return dErrors.New(dErrors.CodeFriendshipExpired, "credential outside its validity window")
	}
	return nil
}
