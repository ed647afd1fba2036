package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"

	dErrors "olocus/pkg/domain-errors"
)

var (
	errHashLength      = errors.New("digest must be exactly 32 bytes")
	errSignatureLength = errors.New("signature must be exactly 64 bytes")
)

// Signer is the minimal surface needed by code that only signs.
type Signer interface {
	// Sign signs the digest with the named key. The digest is signed as-is;
	// callers hash first.
	Sign(ctx context.Context, keyID string, digest []byte) (Signature, error)
	// PublicKey returns the verification key for the named key.
	PublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
}

// KeyStore generates, uses, and destroys signing keys. Implementations must
// never expose private key material; platform-secure backends (enclave,
// keychain) satisfy the same interface.
type KeyStore interface {
	Signer
	// GenerateSigningKey creates a new Ed25519 keypair under keyID and
	// returns only the public half. Generating over an existing keyID fails.
	GenerateSigningKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
	// DestroyKey zeroizes and removes the named key.
	DestroyKey(ctx context.Context, keyID string) error
}

// Verify checks an Ed25519 signature over a digest.
func Verify(pub ed25519.PublicKey, digest []byte, sig Signature) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, digest, sig[:])
}

// MemoryKeyStore is the in-process key store used by tests and single-node
// deployments. Private keys never leave the struct and are overwritten on
// destroy.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]ed25519.PrivateKey)}
}

func (s *MemoryKeyStore) GenerateSigningKey(_ context.Context, keyID string) (ed25519.PublicKey, error) {
	if keyID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[keyID]; exists {
		return nil, dErrors.Newf(dErrors.CodeKeyUnavailable, "key %q already exists", keyID)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "generate signing key")
	}
	s.keys[keyID] = priv
	return pub, nil
}

func (s *MemoryKeyStore) Sign(_ context.Context, keyID string, digest []byte) (Signature, error) {
	s.mu.RLock()
	priv, ok := s.keys[keyID]
	s.mu.RUnlock()

	if !ok {
		return Signature{}, dErrors.Newf(dErrors.CodeKeyUnavailable, "unknown key %q", keyID)
	}

	raw := ed25519.Sign(priv, digest)
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}

func (s *MemoryKeyStore) PublicKey(_ context.Context, keyID string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	priv, ok := s.keys[keyID]
	s.mu.RUnlock()

	if !ok {
		return nil, dErrors.Newf(dErrors.CodeKeyUnavailable, "unknown key %q", keyID)
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func (s *MemoryKeyStore) DestroyKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, ok := s.keys[keyID]
	if !ok {
		return dErrors.Newf(dErrors.CodeKeyUnavailable, "unknown key %q", keyID)
	}
	Zeroize(priv)
	delete(s.keys, keyID)
	return nil
}
