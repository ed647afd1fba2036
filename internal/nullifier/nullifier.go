// Package nullifier prevents the same visit from being published as a
// claim more than once. A nullifier reveals nothing about the visit; equal
// nullifiers only prove an identical (visit, claimant, salt) triple.
package nullifier

import (
	"olocus/internal/crypto"
	"olocus/pkg/domain"
)

// Compute derives the claim nullifier H(visit_id || claimant_did || salt)
// over the raw byte concatenation. The salt lets a holder mint independent
// nullifiers for distinct marketplaces.
func Compute(visitID domain.VisitID, claimant domain.DID, salt []byte) crypto.Hash {
	return crypto.Sum([]byte(visitID.String()), []byte(claimant), salt)
}
