package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/curve25519"

	dErrors "olocus/pkg/domain-errors"
)

// AgreementKeySize is the byte length of X25519 keys.
const AgreementKeySize = 32

// AgreementPublicKey is an X25519 public key exchanged during friendship
// establishment.
type AgreementPublicKey [AgreementKeySize]byte

// JSON carries agreement keys as hex strings, like hashes and signatures.
func (k AgreementPublicKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k[:])), nil
}

func (k *AgreementPublicKey) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != AgreementKeySize {
		return dErrors.New(dErrors.CodeInvalidInput, "agreement key must be 32 bytes")
	}
	copy(k[:], raw)
	return nil
}

// AgreementPrivateKey is an ephemeral X25519 private key. It is heap
// allocated behind a pointer so every holder zeroizes the same buffer; the
// deriving routine must call Zeroize on every exit path.
type AgreementPrivateKey struct {
	k [AgreementKeySize]byte
}

// GenerateAgreementKey produces a fresh ephemeral X25519 keypair.
func GenerateAgreementKey() (*AgreementPrivateKey, AgreementPublicKey, error) {
	priv := &AgreementPrivateKey{}
	if _, err := rand.Read(priv.k[:]); err != nil {
		return nil, AgreementPublicKey{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "generate agreement key")
	}

	pubRaw, err := curve25519.X25519(priv.k[:], curve25519.Basepoint)
	if err != nil {
		priv.Zeroize()
		return nil, AgreementPublicKey{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "derive agreement public key")
	}

	var pub AgreementPublicKey
	copy(pub[:], pubRaw)
	return priv, pub, nil
}

// SharedSecret combines the private key with a peer public key. The caller
// owns the returned slice and must Zeroize it as soon as the commitment is
// derived.
func (p *AgreementPrivateKey) SharedSecret(peer AgreementPublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(p.k[:], peer[:])
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "derive shared secret")
	}
	return secret, nil
}

// Zeroize overwrites the private scalar. Safe to call more than once.
func (p *AgreementPrivateKey) Zeroize() {
	if p == nil {
		return
	}
	for i := range p.k {
		p.k[i] = 0
	}
}

// IsZero reports whether the scalar has been wiped. Exposed so tests can
// assert the release obligation without reading key material.
func (p *AgreementPrivateKey) IsZero() bool {
	if p == nil {
		return true
	}
	return p.k == [AgreementKeySize]byte{}
}

// Zeroize overwrites a sensitive byte slice in place.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
