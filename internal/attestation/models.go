// Package attestation implements the peer protocol by which a friend
// attests to spatio-temporal co-location with a claim, individually and in
// signed batches. Attestations are the raw material of trust scores.
package attestation

import (
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/internal/ledger"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// DefaultExpiry bounds how long an attestation request stays answerable.
const DefaultExpiry = 7 * 24 * time.Hour

// Requirements are the claimant's acceptance bounds for an attestation.
type Requirements struct {
	MaxDistanceMeters float64 `json:"max_distance_meters"`
	MinOverlapSeconds int64   `json:"min_overlap_seconds"`
	RequireFriendship bool    `json:"require_friendship"`
}

// Claim is the disclosed slice of a location credential the claimant shares
// with a prospective attester. Sharing the center is a deliberate
// disclosure to a trusted peer; the credential shown to verifiers may still
// hide it.
type Claim struct {
	CredentialID    domain.CredentialID   `json:"credential_id"`
	ClaimantDID     domain.DID            `json:"claimant_did"`
	Center          ledger.GeoCoordinates `json:"center"`
	Arrival         time.Time             `json:"arrival"`
	Departure       time.Time             `json:"departure"`
	VisitCommitment crypto.Hash           `json:"visit_commitment"`
}

// Request asks a named attester to vouch for a claim.
type Request struct {
	ID           domain.RequestID `json:"id"`
	Claim        Claim            `json:"claim"`
	AttesterDID  domain.DID       `json:"attester_did"`
	Requirements Requirements     `json:"requirements"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Signature    crypto.Signature `json:"signature"`
}

type requestCore struct {
	ID              string      `cbor:"1,keyasint"`
	CredentialID    string      `cbor:"2,keyasint"`
	ClaimantDID     string      `cbor:"3,keyasint"`
	CenterLon       float64     `cbor:"4,keyasint"`
	CenterLat       float64     `cbor:"5,keyasint"`
	Arrival         int64       `cbor:"6,keyasint"`
	Departure       int64       `cbor:"7,keyasint"`
	VisitCommitment crypto.Hash `cbor:"8,keyasint"`
	AttesterDID     string      `cbor:"9,keyasint"`
	MaxDistance     float64     `cbor:"10,keyasint"`
	MinOverlap      int64       `cbor:"11,keyasint"`
	NeedFriendship  bool        `cbor:"12,keyasint"`
	CreatedAt       int64       `cbor:"13,keyasint"`
	ExpiresAt       int64       `cbor:"14,keyasint"`
}

func (r Request) Digest() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(requestCore{
		ID:              r.ID.String(),
		CredentialID:    r.Claim.CredentialID.String(),
		ClaimantDID:     string(r.Claim.ClaimantDID),
		CenterLon:       r.Claim.Center.Longitude,
		CenterLat:       r.Claim.Center.Latitude,
		Arrival:         r.Claim.Arrival.Unix(),
		Departure:       r.Claim.Departure.Unix(),
		VisitCommitment: r.Claim.VisitCommitment,
		AttesterDID:     string(r.AttesterDID),
		MaxDistance:     r.Requirements.MaxDistanceMeters,
		MinOverlap:      r.Requirements.MinOverlapSeconds,
		NeedFriendship:  r.Requirements.RequireFriendship,
		CreatedAt:       r.CreatedAt.Unix(),
		ExpiresAt:       r.ExpiresAt.Unix(),
	}))
}

// ProofMode tags the overlap proof variant.
type ProofMode string

const (
	ProofCommitment ProofMode = "commitment"
	ProofZK         ProofMode = "zk"
)

// OverlapProof backs the attester's overlap statement. Commitment mode
// carries the attester's own visit commitment; ZK mode an opaque payload
// for a named circuit.
type OverlapProof struct {
	Mode       ProofMode   `cbor:"1,keyasint" json:"mode"`
	Commitment crypto.Hash `cbor:"2,keyasint,omitempty" json:"commitment,omitempty"`
	CircuitID  string      `cbor:"3,keyasint,omitempty" json:"circuit_id,omitempty"`
	Payload    []byte      `cbor:"4,keyasint,omitempty" json:"payload,omitempty"`
}

func (p OverlapProof) validate() error {
	switch p.Mode {
	case ProofCommitment:
		if p.Commitment.IsZero() {
			return dErrors.New(dErrors.CodeAttestationBadProof, "commitment proof missing commitment")
		}
	case ProofZK:
		if p.CircuitID == "" || len(p.Payload) == 0 {
			return dErrors.New(dErrors.CodeAttestationBadProof, "zk proof missing circuit or payload")
		}
	default:
		return dErrors.Newf(dErrors.CodeAttestationBadProof, "unknown proof mode %q", p.Mode)
	}
	return nil
}

// Attestation is the attester's signed co-location statement.
type Attestation struct {
	ID                domain.AttestationID `json:"id"`
	RequestID         domain.RequestID     `json:"request_id"`
	CredentialID      domain.CredentialID  `json:"credential_id"`
	ClaimantDID       domain.DID           `json:"claimant_did"`
	AttesterDID       domain.DID           `json:"attester_did"`
	DistanceMeters    float64              `json:"distance_meters"`
	OverlapSeconds    int64                `json:"overlap_seconds"`
	Proof             OverlapProof         `json:"proof"`
	DeviceFingerprint string               `json:"device_fingerprint"`
	Tampered          bool                 `json:"tampered"`
	CreatedAt         time.Time            `json:"created_at"`
	Signature         crypto.Signature     `json:"signature"`
}

type attestationCore struct {
	ID                string       `cbor:"1,keyasint"`
	RequestID         string       `cbor:"2,keyasint"`
	CredentialID      string       `cbor:"3,keyasint"`
	ClaimantDID       string       `cbor:"4,keyasint"`
	AttesterDID       string       `cbor:"5,keyasint"`
	DistanceMeters    float64      `cbor:"6,keyasint"`
	OverlapSeconds    int64        `cbor:"7,keyasint"`
	Proof             OverlapProof `cbor:"8,keyasint"`
	DeviceFingerprint string       `cbor:"9,keyasint"`
	Tampered          bool         `cbor:"10,keyasint"`
	CreatedAt         int64        `cbor:"11,keyasint"`
}

func (a Attestation) Digest() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(attestationCore{
		ID:                a.ID.String(),
		RequestID:         a.RequestID.String(),
		CredentialID:      a.CredentialID.String(),
		ClaimantDID:       string(a.ClaimantDID),
		AttesterDID:       string(a.AttesterDID),
		DistanceMeters:    a.DistanceMeters,
		OverlapSeconds:    a.OverlapSeconds,
		Proof:             a.Proof,
		DeviceFingerprint: a.DeviceFingerprint,
		Tampered:          a.Tampered,
		CreatedAt:         a.CreatedAt.Unix(),
	}))
}

// Leaf is the attestation's Merkle leaf inside a batch: the hash of its id.
func (a Attestation) Leaf() crypto.Hash {
	return crypto.Sum([]byte(a.ID.String()))
}

// Batch groups attestations from one attester under a single signature.
// The signature covers the batch metadata and the Merkle root only, never
// the entry contents; entries are bound through their leaves.
type Batch struct {
	ID           domain.BatchID   `json:"id"`
	AttesterDID  domain.DID       `json:"attester_did"`
	Root         crypto.Hash      `json:"root"`
	Count        int              `json:"count"`
	CreatedAt    time.Time        `json:"created_at"`
	Signature    crypto.Signature `json:"signature"`
	Attestations []Attestation    `json:"attestations"`
}

type batchCore struct {
	ID          string      `cbor:"1,keyasint"`
	AttesterDID string      `cbor:"2,keyasint"`
	Root        crypto.Hash `cbor:"3,keyasint"`
	Count       int         `cbor:"4,keyasint"`
	CreatedAt   int64       `cbor:"5,keyasint"`
}

func (b Batch) Digest() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(batchCore{
		ID:          b.ID.String(),
		AttesterDID: string(b.AttesterDID),
		Root:        b.Root,
		Count:       b.Count,
		CreatedAt:   b.CreatedAt.Unix(),
	}))
}
