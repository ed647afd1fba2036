package domain

import (
	"strings"

	dErrors "olocus/pkg/domain-errors"
)

// DIDPrefix is the method prefix of every identity handled by this node.
const DIDPrefix = "did:olocus:"

// DID is a self-certifying decentralized identifier string. It is kept as an
// opaque value after parse; ordering uses plain lexicographic comparison, the
// canonical order used when storing friendship pairs.
type DID string

// ParseDID validates the method prefix and a non-empty suffix.
func ParseDID(raw string) (DID, error) {
	if !strings.HasPrefix(raw, DIDPrefix) {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "did must start with %q", DIDPrefix)
	}
	if len(raw) == len(DIDPrefix) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "did suffix must not be empty")
	}
	return DID(raw), nil
}

func (d DID) String() string { return string(d) }

func (d DID) IsZero() bool { return d == "" }

// OrderDIDs returns the pair in canonical lexicographic order.
func OrderDIDs(a, b DID) (DID, DID) {
	if b < a {
		return b, a
	}
	return a, b
}
