// Package anchor commits ledger and visit state to external roots of
// trust: one signed DailyAnchor per UTC day per chain, timestamped by a
// trusted authority and optionally mirrored to a blockchain. Anchors are
// never pruned; they are the temporal root every later proof hangs off.
package anchor

import (
	"time"

	"olocus/internal/crypto"
	"olocus/internal/crypto/canonical"
	"olocus/pkg/domain"
)

// Status tracks external-proof completion. External failures park the
// anchor in a pending state rather than failing creation.
type Status string

const (
	StatusConfirmed      Status = "confirmed"
	StatusNeedsTimestamp Status = "needs_timestamp"
	StatusNeedsChain     Status = "needs_chain"
)

// TimestampToken is the authority's countersignature over the anchor hash.
type TimestampToken struct {
	Authority  string    `json:"authority"`
	Token      []byte    `json:"token"`
	AssertedAt time.Time `json:"asserted_at"`
}

// ChainReference points at the transaction that carries the anchor hash.
type ChainReference struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// DailyAnchor is the per-day commitment to chain head and visit set.
type DailyAnchor struct {
	ID               domain.AnchorID  `json:"id"`
	ChainID          domain.ChainID   `json:"chain_id"`
	ChainHeadHash    crypto.Hash      `json:"chain_head_hash"`
	VisitsMerkleRoot crypto.Hash      `json:"visits_merkle_root"`
	VisitCommitments []crypto.Hash    `json:"visit_commitments"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	TimestampToken   *TimestampToken  `json:"timestamp_token,omitempty"`
	ChainRef         *ChainReference  `json:"chain_reference,omitempty"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	Signature        crypto.Signature `json:"signature"`
}

type anchorCore struct {
	ID               string      `cbor:"1,keyasint"`
	ChainID          string      `cbor:"2,keyasint"`
	ChainHeadHash    crypto.Hash `cbor:"3,keyasint"`
	VisitsMerkleRoot crypto.Hash `cbor:"4,keyasint"`
	PeriodStart      int64       `cbor:"5,keyasint"`
	PeriodEnd        int64       `cbor:"6,keyasint"`
}

// Hash covers the anchor without its external proofs or signature; this is
// the digest handed to the timestamp authority and the blockchain, and the
// digest the device signs.
func (a *DailyAnchor) Hash() crypto.Hash {
	return crypto.Sum(canonical.MustMarshal(anchorCore{
		ID:               a.ID.String(),
		ChainID:          a.ChainID.String(),
		ChainHeadHash:    a.ChainHeadHash,
		VisitsMerkleRoot: a.VisitsMerkleRoot,
		PeriodStart:      a.PeriodStart.Unix(),
		PeriodEnd:        a.PeriodEnd.Unix(),
	}))
}

// Day returns the UTC day the anchor covers, the uniqueness key.
func (a *DailyAnchor) Day() time.Time {
	return a.PeriodStart.UTC().Truncate(24 * time.Hour)
}

// Pending reports whether any external proof is still outstanding.
func (a *DailyAnchor) Pending() bool {
	return a.Status != StatusConfirmed
}
