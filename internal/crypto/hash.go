// Package crypto holds the primitive contracts every layer above depends
// on: SHA-256 hashing, Ed25519 signing through a non-exporting key store,
// X25519 key agreement, and explicit zeroization of short-lived secrets.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the byte length of every protocol hash.
const HashSize = 32

// SignatureSize is the byte length of every protocol signature.
const SignatureSize = 64

// Hash is a SHA-256 digest. Fixed-size array so it can key maps and be
// compared with ==.
type Hash [HashSize]byte

// Signature is an Ed25519 signature over a protocol digest.
type Signature [SignatureSize]byte

// Sum hashes the raw concatenation of the given byte slices. Concatenation
// order is part of the wire contract; callers never insert separators or
// length prefixes.
func Sum(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// Bytes returns a fresh copy of the digest for APIs taking []byte.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a 64-character hex digest.
func ParseHash(s string) (Hash, error) {
	var out Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != HashSize {
		return out, errHashLength
	}
	copy(out[:], raw)
	return out, nil
}

func (s Signature) Hex() string { return hex.EncodeToString(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

// JSON carries hashes and signatures as hex strings. Canonical CBOR is not
// affected; it encodes the fixed-size arrays directly.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

func (s *Signature) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != SignatureSize {
		return errSignatureLength
	}
	copy(s[:], raw)
	return nil
}
