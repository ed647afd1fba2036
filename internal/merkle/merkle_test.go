package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olocus/internal/crypto"
)

func leafSet(n int) []crypto.Hash {
	leaves := make([]crypto.Hash, n)
	for i := range leaves {
		leaves[i] = crypto.Sum([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestEmptyTreeSentinel(t *testing.T) {
	tree := Build(nil)
	assert.Equal(t, crypto.Sum([]byte("EMPTY_TREE")), tree.Root())
	assert.Equal(t, EmptyRoot(), tree.Root())

	_, err := tree.Proof(0)
	require.Error(t, err)
}

func TestSingleLeafIsRehashed(t *testing.T) {
	leaf := crypto.Sum([]byte("only"))
	tree := Build([]crypto.Hash{leaf})

	assert.Equal(t, crypto.Sum(leaf[:]), tree.Root(), "single leaf must be re-hashed, never used raw")
	assert.NotEqual(t, leaf, tree.Root())

	proof, err := tree.Proof(0)
	require.NoError(t, err)
	assert.Empty(t, proof.Path)
	assert.True(t, Verify(proof, tree.Root()))
}

func TestOddLayerDuplicatesLast(t *testing.T) {
	leaves := leafSet(3)
	tree := Build(leaves)

	// Hand-derive: bottom = H(l0),H(l1),H(l2),H(l2) then two pair rounds.
	h := make([]crypto.Hash, 3)
	for i, l := range leaves {
		h[i] = crypto.Sum(l[:])
	}
	left := crypto.Sum(h[0][:], h[1][:])
	right := crypto.Sum(h[2][:], h[2][:])
	want := crypto.Sum(left[:], right[:])

	assert.Equal(t, want, tree.Root())
}

func TestProofRoundTripAllLeaves(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13, 64, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			leaves := leafSet(n)
			tree := Build(leaves)
			for i := range leaves {
				proof, err := tree.Proof(i)
				require.NoError(t, err)
				assert.True(t, Verify(proof, tree.Root()), "leaf %d of %d", i, n)
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	leaves := leafSet(8)
	tree := Build(leaves)

	proof, err := tree.Proof(3)
	require.NoError(t, err)

	t.Run("altered leaf", func(t *testing.T) {
		bad := proof
		bad.Leaf = crypto.Sum([]byte("other"))
		assert.False(t, Verify(bad, tree.Root()))
	})

	t.Run("altered path node", func(t *testing.T) {
		bad := proof
		bad.Path = append([]crypto.Hash(nil), proof.Path...)
		bad.Path[0] = crypto.Sum([]byte("swapped"))
		assert.False(t, Verify(bad, tree.Root()))
	})

	t.Run("flipped direction", func(t *testing.T) {
		bad := proof
		bad.Directions = append([]Direction(nil), proof.Directions...)
		if bad.Directions[0] == SiblingLeft {
			bad.Directions[0] = SiblingRight
		} else {
			bad.Directions[0] = SiblingLeft
		}
		assert.False(t, Verify(bad, tree.Root()))
	})

	t.Run("wrong root", func(t *testing.T) {
		assert.False(t, Verify(proof, crypto.Sum([]byte("not the root"))))
	})

	t.Run("mismatched path and directions", func(t *testing.T) {
		bad := proof
		bad.Directions = bad.Directions[:len(bad.Directions)-1]
		assert.False(t, Verify(bad, tree.Root()))
	})
}

func TestBuildIsDeterministic(t *testing.T) {
	leaves := leafSet(17)
	assert.Equal(t, Build(leaves).Root(), Build(leaves).Root())
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	leaves := leafSet(4)
	tree := Build(leaves)
	root := tree.Root()

	leaves[0] = crypto.Sum([]byte("mutated after build"))
	assert.Equal(t, root, tree.Root())
}
