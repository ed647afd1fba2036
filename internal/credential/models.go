// Package credential turns anchored visits into selectively-disclosable
// location credentials. The holder picks how much location detail to reveal
// per credential; temporal fields and visit type are always revealed.
package credential

import (
	"encoding/json"
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/internal/ledger"
	"olocus/internal/merkle"
	"olocus/internal/visit"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// Mode names the disclosure variant carried by a credential.
type Mode string

const (
	ModeExact      Mode = "exact"
	ModeCommitment Mode = "commitment"
	ModeZK         Mode = "zk"
)

// Disclosure is the tagged sum of location disclosure variants. Exactly one
// variant is present per credential.
type Disclosure interface {
	Mode() Mode
	// validate checks the variant's own structural invariants.
	validate() error
}

// ExactDisclosure reveals the visit center outright.
type ExactDisclosure struct {
	Coordinates ledger.GeoCoordinates `json:"coordinates"`
}

func (ExactDisclosure) Mode() Mode { return ModeExact }

func (d ExactDisclosure) validate() error {
	if d.Coordinates.Longitude < -180 || d.Coordinates.Longitude > 180 ||
		d.Coordinates.Latitude < -90 || d.Coordinates.Latitude > 90 {
		return dErrors.New(dErrors.CodeInvalidInput, "disclosed coordinates out of range")
	}
	return nil
}

// CommitmentDisclosure reveals only H(coordinates); the verifier can later
// check an out-of-band reveal against it.
type CommitmentDisclosure struct {
	Commitment crypto.Hash `json:"commitment"`
}

func (CommitmentDisclosure) Mode() Mode { return ModeCommitment }

func (d CommitmentDisclosure) validate() error {
	if d.Commitment.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "coordinate commitment must not be zero")
	}
	return nil
}

// CommitCoordinates derives the coordinate commitment for the commitment
// disclosure variant.
func CommitCoordinates(c ledger.GeoCoordinates) crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(c))
}

// ZKDisclosure carries an opaque spatial proof for a named circuit. The
// payload is verified by a pluggable verifier, not by this package.
type ZKDisclosure struct {
	CircuitID string `json:"circuit_id"`
	Proof     []byte `json:"proof"`
}

func (ZKDisclosure) Mode() Mode { return ModeZK }

func (d ZKDisclosure) validate() error {
	if d.CircuitID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "zk disclosure requires a circuit id")
	}
	if len(d.Proof) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "zk disclosure requires a proof payload")
	}
	return nil
}

// disclosureEnvelope is the wire form of the sum type. One pointer set, the
// rest nil; the mode tag is authoritative.
type disclosureEnvelope struct {
	Mode       Mode                  `cbor:"1,keyasint" json:"mode"`
	Exact      *ExactDisclosure      `cbor:"2,keyasint,omitempty" json:"exact,omitempty"`
	Commitment *CommitmentDisclosure `cbor:"3,keyasint,omitempty" json:"commitment,omitempty"`
	ZK         *ZKDisclosure         `cbor:"4,keyasint,omitempty" json:"zk,omitempty"`
}

func envelopeOf(d Disclosure) (disclosureEnvelope, error) {
	switch v := d.(type) {
	case ExactDisclosure:
		return disclosureEnvelope{Mode: ModeExact, Exact: &v}, nil
	case CommitmentDisclosure:
		return disclosureEnvelope{Mode: ModeCommitment, Commitment: &v}, nil
	case ZKDisclosure:
		return disclosureEnvelope{Mode: ModeZK, ZK: &v}, nil
	case nil:
		return disclosureEnvelope{}, dErrors.New(dErrors.CodeInvalidInput, "credential requires a disclosure")
	default:
		return disclosureEnvelope{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown disclosure mode %q", d.Mode())
	}
}

func (e disclosureEnvelope) disclosure() (Disclosure, error) {
	switch e.Mode {
	case ModeExact:
		if e.Exact == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "exact disclosure payload missing")
		}
		return *e.Exact, nil
	case ModeCommitment:
		if e.Commitment == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "commitment disclosure payload missing")
		}
		return *e.Commitment, nil
	case ModeZK:
		if e.ZK == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "zk disclosure payload missing")
		}
		return *e.ZK, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown disclosure mode %q", e.Mode)
	}
}

// LocationCredential is a claim over exactly one anchored visit.
type LocationCredential struct {
	ID              domain.CredentialID
	SubjectDID      domain.DID
	ChainID         domain.ChainID
	VisitID         domain.VisitID
	VisitType       visit.Type
	Arrival         time.Time
	Departure       time.Time
	Disclosure      Disclosure
	VisitCommitment crypto.Hash
	AnchorID        domain.AnchorID
	InclusionProof  merkle.Proof
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Signature       crypto.Signature
}

// credentialWire mirrors LocationCredential with the disclosure flattened
// into its envelope form.
type credentialWire struct {
	ID              domain.CredentialID `json:"id"`
	SubjectDID      domain.DID          `json:"subject_did"`
	ChainID         domain.ChainID      `json:"chain_id"`
	VisitID         domain.VisitID      `json:"visit_id"`
	VisitType       visit.Type          `json:"visit_type"`
	Arrival         time.Time           `json:"arrival"`
	Departure       time.Time           `json:"departure"`
	Disclosure      disclosureEnvelope  `json:"disclosure"`
	VisitCommitment crypto.Hash         `json:"visit_commitment"`
	AnchorID        domain.AnchorID     `json:"anchor_id"`
	InclusionProof  merkle.Proof        `json:"inclusion_proof"`
	IssuedAt        time.Time           `json:"issued_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	Signature       crypto.Signature    `json:"signature"`
}

func (c LocationCredential) MarshalJSON() ([]byte, error) {
	env, err := envelopeOf(c.Disclosure)
	if err != nil {
		return nil, err
	}
	return json.Marshal(credentialWire{
		ID: c.ID, SubjectDID: c.SubjectDID, ChainID: c.ChainID,
		VisitID: c.VisitID, VisitType: c.VisitType,
		Arrival: c.Arrival, Departure: c.Departure,
		Disclosure: env, VisitCommitment: c.VisitCommitment,
		AnchorID: c.AnchorID, InclusionProof: c.InclusionProof,
		IssuedAt: c.IssuedAt, ExpiresAt: c.ExpiresAt, Signature: c.Signature,
	})
}

func (c *LocationCredential) UnmarshalJSON(data []byte) error {
	var w credentialWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	disclosure, err := w.Disclosure.disclosure()
	if err != nil {
		return err
	}
	*c = LocationCredential{
		ID: w.ID, SubjectDID: w.SubjectDID, ChainID: w.ChainID,
		VisitID: w.VisitID, VisitType: w.VisitType,
		Arrival: w.Arrival, Departure: w.Departure,
		Disclosure: disclosure, VisitCommitment: w.VisitCommitment,
		AnchorID: w.AnchorID, InclusionProof: w.InclusionProof,
		IssuedAt: w.IssuedAt, ExpiresAt: w.ExpiresAt, Signature: w.Signature,
	}
	return nil
}

type credentialCore struct {
	ID              string             `cbor:"1,keyasint"`
	SubjectDID      string             `cbor:"2,keyasint"`
	ChainID         string             `cbor:"3,keyasint"`
	VisitID         string             `cbor:"4,keyasint"`
	VisitType       string             `cbor:"5,keyasint"`
	ArrivalSeconds  int64              `cbor:"6,keyasint"`
	DepartureSec    int64              `cbor:"7,keyasint"`
	Disclosure      disclosureEnvelope `cbor:"8,keyasint"`
	VisitCommitment crypto.Hash        `cbor:"9,keyasint"`
	AnchorID        string             `cbor:"10,keyasint"`
	IssuedSeconds   int64              `cbor:"11,keyasint"`
	ExpiresSeconds  int64              `cbor:"12,keyasint"`
}

// Digest is the canonical signing digest. The inclusion proof is excluded;
// it is derivable from the anchor and re-verified independently.
func (c LocationCredential) Digest() (crypto.Hash, error) {
	env, err := envelopeOf(c.Disclosure)
	if err != nil {
		return crypto.Hash{}, err
	}
	raw, err := canonical.Marshal(credentialCore{
		ID:              c.ID.String(),
		SubjectDID:      string(c.SubjectDID),
		ChainID:         c.ChainID.String(),
		VisitID:         c.VisitID.String(),
		VisitType:       string(c.VisitType),
		ArrivalSeconds:  c.Arrival.Unix(),
		DepartureSec:    c.Departure.Unix(),
		Disclosure:      env,
		VisitCommitment: c.VisitCommitment,
		AnchorID:        c.AnchorID.String(),
		IssuedSeconds:   c.IssuedAt.Unix(),
		ExpiresSeconds:  c.ExpiresAt.Unix(),
	})
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.Sum(raw), nil
}
