// Package ledger maintains the append-only, per-device hash chain of signed
// location samples. A chain is owned by exactly one device key; it is never
// merged or forked, and blocks are never edited or reordered.
package ledger

import (
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/pkg/domain"
)

// ProtocolVersion is stamped into every chain and block header.
const ProtocolVersion uint32 = 1

// GeoCoordinates is the canonical position wire type.
type GeoCoordinates struct {
	Longitude float64 `cbor:"1,keyasint" json:"longitude"`
	Latitude  float64 `cbor:"2,keyasint" json:"latitude"`
	Altitude  float64 `cbor:"3,keyasint" json:"altitude"`
}

// GeoAccuracy carries the sensor-reported accuracy in meters.
type GeoAccuracy struct {
	Horizontal float64 `cbor:"1,keyasint" json:"horizontal"`
	Vertical   float64 `cbor:"2,keyasint" json:"vertical"`
}

// MotionState is the motion classification reported alongside a sample.
type MotionState string

const (
	MotionStationary MotionState = "stationary"
	MotionWalking    MotionState = "walking"
	MotionRunning    MotionState = "running"
	MotionCycling    MotionState = "cycling"
	MotionDriving    MotionState = "driving"
	MotionUnknown    MotionState = "unknown"
)

// DeviceState captures the device integrity signals recorded with each
// sample. Tamper flags are fraud-score inputs, not hard gates.
type DeviceState struct {
	Fingerprint string `cbor:"1,keyasint" json:"fingerprint"`
	Tampered    bool   `cbor:"2,keyasint" json:"tampered"`
}

// wireTime is the canonical Timestamp{unix_seconds,nanos} encoding used
// inside hashed structures. time.Time alone would hash differently across
// monotonic-clock readings.
type wireTime struct {
	Seconds int64 `cbor:"1,keyasint"`
	Nanos   int32 `cbor:"2,keyasint"`
}

func toWireTime(t time.Time) wireTime {
	return wireTime{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Sample is the raw input handed to Append by the acquisition layer.
type Sample struct {
	Timestamp   time.Time
	Coordinates GeoCoordinates
	Accuracy    GeoAccuracy
	Motion      MotionState
	Device      DeviceState
}

// LocationBlock is one immutable link of the chain.
type LocationBlock struct {
	Index        uint64           `json:"index"`
	Timestamp    time.Time        `json:"timestamp"`
	Coordinates  GeoCoordinates   `json:"coordinates"`
	Accuracy     GeoAccuracy      `json:"accuracy"`
	PreviousHash crypto.Hash      `json:"previous_hash"`
	Motion       MotionState      `json:"motion_state"`
	Device       DeviceState      `json:"device_state"`
	Hash         crypto.Hash      `json:"hash"`
	Signature    crypto.Signature `json:"signature"`
}

// blockHeader and blockPayload are the two canonically-serialized halves of
// a block. The block hash is H(serialize(header) || serialize(payload)).
type blockHeader struct {
	Version      uint32      `cbor:"1,keyasint"`
	Index        uint64      `cbor:"2,keyasint"`
	Timestamp    wireTime    `cbor:"3,keyasint"`
	PreviousHash crypto.Hash `cbor:"4,keyasint"`
}

type blockPayload struct {
	Coordinates GeoCoordinates `cbor:"1,keyasint"`
	Accuracy    GeoAccuracy    `cbor:"2,keyasint"`
	Motion      MotionState    `cbor:"3,keyasint"`
	Device      DeviceState    `cbor:"4,keyasint"`
}

// ComputeHash derives the block hash from the block's own fields. Used both
// when appending and when re-checking a segment.
func (b LocationBlock) ComputeHash() crypto.Hash {
	header := canonical.MustMarshal(blockHeader{
		Version:      ProtocolVersion,
		Index:        b.Index,
		Timestamp:    toWireTime(b.Timestamp),
		PreviousHash: b.PreviousHash,
	})
	payload := canonical.MustMarshal(blockPayload{
		Coordinates: b.Coordinates,
		Accuracy:    b.Accuracy,
		Motion:      b.Motion,
		Device:      b.Device,
	})
	return crypto.Sum(header, payload)
}

// Chain is the mutable head state of one device's ledger.
type Chain struct {
	ID            domain.ChainID
	Owner         domain.DID
	SigningKeyID  string
	Genesis       crypto.Hash
	Head          crypto.Hash
	Length        uint64
	LastTimestamp time.Time
	Version       uint32
	CreatedAt     time.Time
	LastAnchorID  domain.AnchorID
	LastAnchorAt  time.Time
}

type genesisSeed struct {
	ChainID   string   `cbor:"1,keyasint"`
	Owner     string   `cbor:"2,keyasint"`
	CreatedAt wireTime `cbor:"3,keyasint"`
	Version   uint32   `cbor:"4,keyasint"`
}

// NewChain creates the one chain a device owns, with its genesis commitment
// as the initial head.
func NewChain(owner domain.DID, signingKeyID string, now time.Time) *Chain {
	id := domain.NewChainID()
	genesis := crypto.Sum(canonical.MustMarshal(genesisSeed{
		ChainID:   id.String(),
		Owner:     owner.String(),
		CreatedAt: toWireTime(now),
		Version:   ProtocolVersion,
	}))
	return &Chain{
		ID:           id,
		Owner:        owner,
		SigningKeyID: signingKeyID,
		Genesis:      genesis,
		Head:         genesis,
		Version:      ProtocolVersion,
		CreatedAt:    now,
	}
}
