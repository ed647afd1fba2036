// Package visit derives disclosable visit units from raw chain blocks via
// deterministic spatio-temporal clustering. Visits are derived data: they
// reference blocks, never mutate the chain, and can always be recomputed.
package visit

import (
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/internal/ledger"
	"olocus/pkg/domain"
)

// Type classifies a visit. The classifier precedence is frozen for
// interoperability: home > work > transit > dining > shopping > other.
type Type string

const (
	TypeHome     Type = "home"
	TypeWork     Type = "work"
	TypeTransit  Type = "transit"
	TypeDining   Type = "dining"
	TypeShopping Type = "shopping"
	TypeOther    Type = "other"
)

// Visit is a clustered stay derived from a contiguous window of blocks.
type Visit struct {
	ID           domain.VisitID        `json:"id"`
	ChainID      domain.ChainID        `json:"chain_id"`
	Center       ledger.GeoCoordinates `json:"center"`
	RadiusMeters float64               `json:"radius_meters"`
	Arrival      time.Time             `json:"arrival"`
	Departure    time.Time             `json:"departure"`
	Type         Type                  `json:"type"`
	Confidence   float64               `json:"confidence"`
	BlockHashes  []crypto.Hash         `json:"block_hashes"`
	BlockIndexes []uint64              `json:"block_indexes"`
	MerkleRoot   crypto.Hash           `json:"merkle_root"`
	Commitment   crypto.Hash           `json:"commitment"`
}

// Duration is the stay length.
func (v Visit) Duration() time.Duration {
	return v.Departure.Sub(v.Arrival)
}

// Overlap returns the overlap in seconds between this visit's interval and
// [from, to]; zero when disjoint.
func (v Visit) Overlap(from, to time.Time) int64 {
	start := v.Arrival
	if from.After(start) {
		start = from
	}
	end := v.Departure
	if to.Before(end) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}

type commitmentSeed struct {
	ID             string                `cbor:"1,keyasint"`
	Center         ledger.GeoCoordinates `cbor:"2,keyasint"`
	ArrivalSeconds int64                 `cbor:"3,keyasint"`
	ArrivalNanos   int32                 `cbor:"4,keyasint"`
}

// ComputeCommitment derives commitment = H(id || center || arrival) over the
// canonical encoding. The commitment is what anchors and credentials bind
// to; coordinates themselves stay private.
func ComputeCommitment(id domain.VisitID, center ledger.GeoCoordinates, arrival time.Time) crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(commitmentSeed{
		ID:             id.String(),
		Center:         center,
		ArrivalSeconds: arrival.Unix(),
		ArrivalNanos:   int32(arrival.Nanosecond()),
	}))
}
