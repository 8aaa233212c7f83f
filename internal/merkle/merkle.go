// Package merkle builds and verifies the binary merkle tree over
// transaction hashes described in spec §4.2.
package merkle

import "github.com/daglabs/powvote-node/internal/chainhash"

// BuildRoot computes the merkle root of leaves by concatenating and
// hashing pairs bottom-up, duplicating the last node of any level that
// has an odd count. An empty input yields the hash of the empty string.
func BuildRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.EmptyHash()
	}

	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = chainhash.DoubleHashBytes(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// Proof is a membership proof: the sibling hash at each level from leaf
// to root, plus whether the leaf was the left or right child at that
// level (needed to know hashing order when the proof is verified).
type Proof struct {
	LeafIndex int
	Siblings  []ProofStep
}

// ProofStep is one level of a Proof.
type ProofStep struct {
	Sibling    chainhash.Hash
	SiblingIsRight bool
}

// BuildProof constructs a membership proof for leaves[index].
func BuildProof(leaves []chainhash.Hash, index int) (Proof, bool) {
	if index < 0 || index >= len(leaves) {
		return Proof{}, false
	}
	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	proof := Proof{LeafIndex: index}
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		var siblingIdx int
		var siblingIsRight bool
		if idx%2 == 0 {
			siblingIdx = idx + 1
			siblingIsRight = true
		} else {
			siblingIdx = idx - 1
			siblingIsRight = false
		}
		proof.Siblings = append(proof.Siblings, ProofStep{
			Sibling:        level[siblingIdx],
			SiblingIsRight: siblingIsRight,
		})

		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = chainhash.DoubleHashBytes(level[2*i], level[2*i+1])
		}
		level = next
		idx /= 2
	}
	return proof, true
}

// VerifyProof recomputes the root implied by leaf and proof and compares
// it against root.
func VerifyProof(root chainhash.Hash, leaf chainhash.Hash, proof Proof) bool {
	current := leaf
	for _, step := range proof.Siblings {
		if step.SiblingIsRight {
			current = chainhash.DoubleHashBytes(current, step.Sibling)
		} else {
			current = chainhash.DoubleHashBytes(step.Sibling, current)
		}
	}
	return current == root
}

// Verify rebuilds the root from leaves and compares it against root
// (spec §8 "Merkle round-trip").
func Verify(root chainhash.Hash, leaves []chainhash.Hash) bool {
	return BuildRoot(leaves) == root
}
