// Package merkle implements the protocol's shared Merkle construction.
// The duplication, ordering, and sentinel policy here is a bit-level wire
// contract: visits commit to block hashes with it, anchors commit to visit
// commitments with it, and attestation batches commit to entry ids with it.
// Any deviation breaks cross-device proof verification.
package merkle

import (
	"olocus/internal/crypto"
	dErrors "olocus/pkg/domain-errors"
)

// emptyTreeSentinel is the root of a tree with no leaves. Hashing a constant
// keeps "no data" distinguishable from any real leaf set.
var emptyTreeSentinel = crypto.Sum([]byte("EMPTY_TREE"))

// Direction tells the verifier which side a sibling sits on.
type Direction uint8

const (
	SiblingLeft  Direction = iota // sibling || node
	SiblingRight                  // node || sibling
)

// Proof carries everything needed to verify one leaf against a root.
type Proof struct {
	Leaf       crypto.Hash   `cbor:"1,keyasint" json:"leaf"`
	Path       []crypto.Hash `cbor:"2,keyasint" json:"path"`
	Directions []Direction   `cbor:"3,keyasint" json:"directions"`
}

// Tree is an immutable Merkle tree over an ordered leaf sequence. Callers
// order leaves by source block index before building; the tree never sorts.
type Tree struct {
	leaves []crypto.Hash
	layers [][]crypto.Hash
	root   crypto.Hash
}

// Build constructs the tree. Every leaf is hashed once to form the bottom
// layer, even when there is a single leaf; odd layers duplicate their last
// node; parents hash the raw concatenation of their children.
func Build(leaves []crypto.Hash) *Tree {
	t := &Tree{leaves: append([]crypto.Hash(nil), leaves...)}

	if len(leaves) == 0 {
		t.root = emptyTreeSentinel
		return t
	}

	bottom := make([]crypto.Hash, len(leaves))
	for i, leaf := range leaves {
		bottom[i] = crypto.Sum(leaf[:])
	}
	t.layers = append(t.layers, bottom)

	current := bottom
	for len(current) > 1 {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
			t.layers[len(t.layers)-1] = current
		}
		next := make([]crypto.Hash, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next = append(next, crypto.Sum(current[i][:], current[i+1][:]))
		}
		t.layers = append(t.layers, next)
		current = next
	}

	t.root = current[0]
	return t
}

// Root returns the tree root; H("EMPTY_TREE") for an empty tree.
func (t *Tree) Root() crypto.Hash { return t.root }

// Len returns the number of original leaves.
func (t *Tree) Len() int { return len(t.leaves) }

// Proof produces the sibling path for the leaf at index i.
func (t *Tree) Proof(i int) (Proof, error) {
	if i < 0 || i >= len(t.leaves) {
		return Proof{}, dErrors.Newf(dErrors.CodeInvalidInput, "leaf index %d out of range [0,%d)", i, len(t.leaves))
	}

	proof := Proof{Leaf: t.leaves[i]}
	idx := i
	// The last layer is the root and contributes no sibling.
	for _, layer := range t.layers[:len(t.layers)-1] {
		if idx%2 == 0 {
			sibling := idx + 1
			if sibling >= len(layer) {
				// Odd layer already padded during Build; keep the guard for
				// the single-leaf tree where the bottom layer is the root.
				sibling = idx
			}
			proof.Path = append(proof.Path, layer[sibling])
			proof.Directions = append(proof.Directions, SiblingRight)
		} else {
			proof.Path = append(proof.Path, layer[idx-1])
			proof.Directions = append(proof.Directions, SiblingLeft)
		}
		idx /= 2
	}

	return proof, nil
}

// Verify folds the proof path against the leaf and compares with the
// expected root. Pass/fail only; there are no partial-match semantics.
func Verify(proof Proof, expectedRoot crypto.Hash) bool {
	if len(proof.Path) != len(proof.Directions) {
		return false
	}

	node := crypto.Sum(proof.Leaf[:])
	for i, sibling := range proof.Path {
		switch proof.Directions[i] {
		case SiblingLeft:
			node = crypto.Sum(sibling[:], node[:])
		case SiblingRight:
			node = crypto.Sum(node[:], sibling[:])
		default:
			return false
		}
	}

	return node == expectedRoot
}

// EmptyRoot exposes the sentinel for verifiers that need to recognize an
// intentionally empty commitment.
func EmptyRoot() crypto.Hash { return emptyTreeSentinel }
