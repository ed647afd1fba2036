package friendship

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olocus/internal/crypto"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

type FriendshipSuite struct {
	suite.Suite

	ctx      context.Context
	now      time.Time
	keys     *crypto.MemoryKeyStore
	alicePub ed25519.PublicKey
	bobPub   ed25519.PublicKey
	alice    *Establisher
	bob      *Establisher
	aliceDB  *InMemoryStore
	bobDB    *InMemoryStore
}

func TestFriendshipSuite(t *testing.T) {
	suite.Run(t, new(FriendshipSuite))
}

func (s *FriendshipSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 16, 0, 0, 0, time.UTC)

	s.keys = crypto.NewMemoryKeyStore()
	alicePub, err := s.keys.GenerateSigningKey(s.ctx, "alice-key")
	s.Require().NoError(err)
	bobPub, err := s.keys.GenerateSigningKey(s.ctx, "bob-key")
	s.Require().NoError(err)
	s.alicePub, s.bobPub = alicePub, bobPub

	clock := func() time.Time { return s.now }
	s.aliceDB = NewInMemoryStore()
	s.bobDB = NewInMemoryStore()
	s.alice = NewEstablisher("did:olocus:alice", "alice-key", s.keys, s.aliceDB, WithClock(clock))
	s.bob = NewEstablisher("did:olocus:bob", "bob-key", s.keys, s.bobDB, WithClock(clock))
}

func confirmAny(string) bool { return true }

// handshake runs the full two-phase protocol and returns both sides'
// stored credentials plus the requester's ephemeral key handle.
func (s *FriendshipSuite) handshake() (aliceCred, bobCred Credential, alicePriv *crypto.AgreementPrivateKey) {
	req, err := s.alice.Initiate(s.ctx, LevelClose)
	s.Require().NoError(err)
	alicePriv = s.alice.pending[req.ID].priv

	resp, half, err := s.bob.Accept(s.ctx, *req, s.alicePub, confirmAny)
	s.Require().NoError(err)

	full, err := s.alice.Complete(s.ctx, *resp, *half, s.bobPub)
	s.Require().NoError(err)

	s.Require().NoError(s.bob.Adopt(s.ctx, *full, s.alicePub))
	return *full, *full, alicePriv
}

func (s *FriendshipSuite) TestHandshakeProducesEqualCommitments() {
	req, err := s.alice.Initiate(s.ctx, LevelClose)
	s.Require().NoError(err)
	alicePriv := s.alice.pending[req.ID].priv
	s.False(alicePriv.IsZero(), "key must live until completion")

	resp, bobHalf, err := s.bob.Accept(s.ctx, *req, s.alicePub, confirmAny)
	s.Require().NoError(err)
	s.False(bobHalf.Commitment.IsZero())

	full, err := s.alice.Complete(s.ctx, *resp, *bobHalf, s.bobPub)
	s.Require().NoError(err)

	// Both parties ended at the same commitment without ever exchanging
	// the secret itself.
	s.Equal(bobHalf.Commitment, full.Commitment)

	// Every ephemeral private key buffer is wiped once the commitment
	// exists.
	s.True(alicePriv.IsZero(), "requester ephemeral key must be zeroized")
	s.Empty(s.alice.pending, "no pending request may survive completion")
}

func (s *FriendshipSuite) TestParticipantsStoredInLexicographicOrder() {
	cred, _, _ := s.handshake()
	s.Equal(domain.DID("did:olocus:alice"), cred.ParticipantA)
	s.Equal(domain.DID("did:olocus:bob"), cred.ParticipantB)
	s.Less(cred.ParticipantA.String(), cred.ParticipantB.String())
}

func (s *FriendshipSuite) TestBothSidesDeriveSameCredentialID() {
	aliceCred, _, _ := s.handshake()

	stored, err := s.bobDB.CredentialByPair(s.ctx, "did:olocus:bob", "did:olocus:alice")
	s.Require().NoError(err)
	s.Equal(aliceCred.ID, stored.ID)
}

func (s *FriendshipSuite) TestValidateFullCredential() {
	cred, _, _ := s.handshake()
	s.Require().NoError(Validate(cred, s.alicePub, s.bobPub, s.now))

	// A flipped participant order must be rejected.
	swapped := cred
	swapped.ParticipantA, swapped.ParticipantB = cred.ParticipantB, cred.ParticipantA
	err := Validate(swapped, s.bobPub, s.alicePub, s.now)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipMismatch))
}

func (s *FriendshipSuite) TestExpiredRequestRejected() {
	req, err := s.alice.Initiate(s.ctx, LevelAcquaintance)
	s.Require().NoError(err)

	s.now = s.now.Add(8 * 24 * time.Hour)
	_, _, err = s.bob.Accept(s.ctx, *req, s.alicePub, confirmAny)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipExpired))
}

func (s *FriendshipSuite) TestUnconfirmedCodeRejected() {
	req, err := s.alice.Initiate(s.ctx, LevelClose)
	s.Require().NoError(err)

	_, _, err = s.bob.Accept(s.ctx, *req, s.alicePub, func(string) bool { return false })
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipMismatch))
}

func (s *FriendshipSuite) TestForgedRequestSignatureRejected() {
	req, err := s.alice.Initiate(s.ctx, LevelClose)
	s.Require().NoError(err)

	forged := *req
	forged.VerificationCode = "000-000"
	_, _, err = s.bob.Accept(s.ctx, forged, s.alicePub, confirmAny)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipBadSignature))
}

func (s *FriendshipSuite) TestTamperedCommitmentRejectedAtCompletion() {
	req, err := s.alice.Initiate(s.ctx, LevelClose)
	s.Require().NoError(err)
	alicePriv := s.alice.pending[req.ID].priv

	resp, half, err := s.bob.Accept(s.ctx, *req, s.alicePub, confirmAny)
	s.Require().NoError(err)

	tampered := *half
	tampered.Commitment = crypto.Sum([]byte("wrong"))
	_, err = s.alice.Complete(s.ctx, *resp, tampered, s.bobPub)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipMismatch))
	s.True(alicePriv.IsZero(), "ephemeral key must be zeroized on the failure path too")
}

func (s *FriendshipSuite) TestAbortZeroizesPendingKey() {
	req, err := s.alice.Initiate(s.ctx, LevelColleague)
	s.Require().NoError(err)
	priv := s.alice.pending[req.ID].priv

	s.alice.Abort(req.ID)
	s.True(priv.IsZero())
	s.Empty(s.alice.pending)
}

func (s *FriendshipSuite) TestDuplicatePairRejected() {
	cred, _, _ := s.handshake()

	other := cred
	other.ID = domain.NewFriendshipID()
	err := s.aliceDB.SaveCredential(s.ctx, other)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeFriendshipDuplicate))
}

func TestVerificationCodeFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := verificationCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 7 || code[3] != '-' {
			t.Fatalf("unexpected code format %q", code)
		}
	}
}
