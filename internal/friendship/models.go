// Package friendship implements the two-phase ephemeral key agreement that
// leaves both peers with an identical shared-secret commitment and neither
// with the secret. The commitment later proves an attester actually knows
// the claimant without revealing anything about the relationship.
package friendship

import (
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/pkg/domain"
)

// DefaultExpiry bounds how long a handshake request stays acceptable.
const DefaultExpiry = 7 * 24 * time.Hour

// Level grades the relationship; the trust scorer weights attestations
// by it.
type Level string

const (
	LevelClose        Level = "close"
	LevelAcquaintance Level = "acquaintance"
	LevelColleague    Level = "colleague"
)

// Request is phase one of the handshake: the requester's ephemeral public
// key plus a short code the peers compare out of band.
type Request struct {
	ID               domain.RequestID          `json:"id"`
	RequesterDID     domain.DID                `json:"requester_did"`
	EphemeralKey     crypto.AgreementPublicKey `json:"ephemeral_key"`
	VerificationCode string                    `json:"verification_code"`
	Level            Level                     `json:"level"`
	CreatedAt        time.Time                 `json:"created_at"`
	ExpiresAt        time.Time                 `json:"expires_at"`
	Signature        crypto.Signature          `json:"signature"`
}

type requestCore struct {
	ID               string                    `cbor:"1,keyasint"`
	RequesterDID     string                    `cbor:"2,keyasint"`
	EphemeralKey     crypto.AgreementPublicKey `cbor:"3,keyasint"`
	VerificationCode string                    `cbor:"4,keyasint"`
	Level            string                    `cbor:"5,keyasint"`
	CreatedAt        int64                     `cbor:"6,keyasint"`
	ExpiresAt        int64                     `cbor:"7,keyasint"`
}

func (r Request) Digest() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(requestCore{
		ID:               r.ID.String(),
		RequesterDID:     string(r.RequesterDID),
		EphemeralKey:     r.EphemeralKey,
		VerificationCode: r.VerificationCode,
		Level:            string(r.Level),
		CreatedAt:        r.CreatedAt.Unix(),
		ExpiresAt:        r.ExpiresAt.Unix(),
	}))
}

// Response is phase two: the acceptor's ephemeral public key, signed.
type Response struct {
	RequestID    domain.RequestID          `json:"request_id"`
	AcceptorDID  domain.DID                `json:"acceptor_did"`
	EphemeralKey crypto.AgreementPublicKey `json:"ephemeral_key"`
	CreatedAt    time.Time                 `json:"created_at"`
	Signature    crypto.Signature          `json:"signature"`
}

type responseCore struct {
	RequestID    string                    `cbor:"1,keyasint"`
	AcceptorDID  string                    `cbor:"2,keyasint"`
	EphemeralKey crypto.AgreementPublicKey `cbor:"3,keyasint"`
	CreatedAt    int64                     `cbor:"4,keyasint"`
}

func (r Response) Digest() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(responseCore{
		RequestID:    r.RequestID.String(),
		AcceptorDID:  string(r.AcceptorDID),
		EphemeralKey: r.EphemeralKey,
		CreatedAt:    r.CreatedAt.Unix(),
	}))
}

// Credential is the durable outcome of a completed handshake. Participants
// are stored in lexicographic DID order so both sides produce the same
// record; the shared secret itself is never stored anywhere.
type Credential struct {
	ID            domain.FriendshipID `json:"id"`
	ParticipantA  domain.DID          `json:"participant_a"`
	ParticipantB  domain.DID          `json:"participant_b"`
	Commitment    crypto.Hash         `json:"commitment"`
	Level         Level               `json:"level"`
	EstablishedAt time.Time           `json:"established_at"`
	ExpiresAt     time.Time           `json:"expires_at,omitempty"`
	SignatureA    crypto.Signature    `json:"signature_a"`
	SignatureB    crypto.Signature    `json:"signature_b"`
}

type credentialCore struct {
	ID            string      `cbor:"1,keyasint"`
	ParticipantA  string      `cbor:"2,keyasint"`
	ParticipantB  string      `cbor:"3,keyasint"`
	Commitment    crypto.Hash `cbor:"4,keyasint"`
	Level         string      `cbor:"5,keyasint"`
	EstablishedAt int64       `cbor:"6,keyasint"`
	ExpiresAt     int64       `cbor:"7,keyasint"`
}

// Digest is the canonical signing digest both participants sign.
func (c Credential) Digest() crypto.Hash {
	var expires int64
	if !c.ExpiresAt.IsZero() {
		expires = c.ExpiresAt.Unix()
	}
	return crypto.Sum(canonical.MustMarshal(credentialCore{
		ID:            c.ID.String(),
		ParticipantA:  string(c.ParticipantA),
		ParticipantB:  string(c.ParticipantB),
		Commitment:    c.Commitment,
		Level:         string(c.Level),
		EstablishedAt: c.EstablishedAt.Unix(),
		ExpiresAt:     expires,
	}))
}

// Involves reports whether the DID is one of the two participants.
func (c Credential) Involves(did domain.DID) bool {
	return c.ParticipantA == did || c.ParticipantB == did
}

// ValidAt checks the credential's validity window.
func (c Credential) ValidAt(t time.Time) bool {
	if t.Before(c.EstablishedAt) {
		return false
	}
	if !c.ExpiresAt.IsZero() && !t.Before(c.ExpiresAt) {
		return false
	}
	return true
}
