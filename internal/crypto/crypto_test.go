package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "olocus/pkg/domain-errors"
)

func TestSumConcatenatesParts(t *testing.T) {
	// H(a || b) must equal hashing the concatenation in one piece.
	joined := Sum([]byte("hello world"))
	split := Sum([]byte("hello "), []byte("world"))
	assert.Equal(t, joined, split)

	assert.NotEqual(t, Sum([]byte("a"), []byte("b")), Sum([]byte("ab"), []byte("")))
	assert.Equal(t, Sum([]byte("ab")), Sum([]byte("ab"), []byte("")))
}

func TestHashHexRoundTrip(t *testing.T) {
	h := Sum([]byte("payload"))
	parsed, err := ParseHash(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("zz")
	assert.Error(t, err)
	_, err = ParseHash("abcd")
	assert.Error(t, err, "short digests rejected")
}

func TestMemoryKeyStoreSignAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := NewMemoryKeyStore()

	pub, err := keys.GenerateSigningKey(ctx, "k1")
	require.NoError(t, err)

	digest := Sum([]byte("message")).Bytes()
	sig, err := keys.Sign(ctx, "k1", digest)
	require.NoError(t, err)

	assert.True(t, Verify(pub, digest, sig))
	assert.False(t, Verify(pub, Sum([]byte("other")).Bytes(), sig))

	otherPub, err := keys.GenerateSigningKey(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, Verify(otherPub, digest, sig))
}

func TestSignUnknownKey(t *testing.T) {
	keys := NewMemoryKeyStore()
	_, err := keys.Sign(context.Background(), "missing", []byte("digest"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyUnavailable))
}

func TestDestroyKeyRemovesIt(t *testing.T) {
	ctx := context.Background()
	keys := NewMemoryKeyStore()
	_, err := keys.GenerateSigningKey(ctx, "k1")
	require.NoError(t, err)

	require.NoError(t, keys.DestroyKey(ctx, "k1"))
	_, err = keys.Sign(ctx, "k1", []byte("digest"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyUnavailable))

	// Generating under the freed id works again.
	_, err = keys.GenerateSigningKey(ctx, "k1")
	assert.NoError(t, err)
}

func TestGenerateOverExistingKeyFails(t *testing.T) {
	ctx := context.Background()
	keys := NewMemoryKeyStore()
	_, err := keys.GenerateSigningKey(ctx, "k1")
	require.NoError(t, err)
	_, err = keys.GenerateSigningKey(ctx, "k1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyUnavailable))
}

func TestAgreementSharedSecretSymmetry(t *testing.T) {
	privA, pubA, err := GenerateAgreementKey()
	require.NoError(t, err)
	privB, pubB, err := GenerateAgreementKey()
	require.NoError(t, err)

	secretA, err := privA.SharedSecret(pubB)
	require.NoError(t, err)
	secretB, err := privB.SharedSecret(pubA)
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)

	privA.Zeroize()
	privB.Zeroize()
	assert.True(t, privA.IsZero())
	assert.True(t, privB.IsZero())

	Zeroize(secretA)
	assert.Equal(t, make([]byte, len(secretA)), secretA)
}

func TestAgreementPublicKeyTextRoundTrip(t *testing.T) {
	_, pub, err := GenerateAgreementKey()
	require.NoError(t, err)

	text, err := pub.MarshalText()
	require.NoError(t, err)

	var back AgreementPublicKey
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, pub, back)

	assert.Error(t, back.UnmarshalText([]byte("abcd")))
}
