package attestation

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/providenetwork/merkletree"
)

// commitmentLeaves is the fixed arity of the commitment tree: the payload
// hash plus three filler leaves, giving a depth-2 binary tree and a
// two-element commitment path.
const commitmentLeaves = 4

// payloadLeafIndex is where the payload hash sits in the tree. Verify
// assumes this index (leftmost leaf, always the left input).
const payloadLeafIndex = 0

// digestLeaf is a 32-byte digest used directly as a tree leaf. The digest
// is already a hash, so CalculateHash returns it as-is; only interior
// nodes re-hash.
type digestLeaf common.Hash

func (d digestLeaf) CalculateHash() ([]byte, error) {
	return common.Hash(d).Bytes(), nil
}

func (d digestLeaf) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(digestLeaf)
	if !ok {
		return false, nil
	}
	return bytes.Equal(common.Hash(d).Bytes(), common.Hash(o).Bytes()), nil
}

// buildCommitment commits to the payload hash inside a small binary hash
// tree. The filler leaves are fresh random digests on every call so that
// commitments from different requests are decorrelated; only the payload
// leaf carries meaning.
func buildCommitment(payloadHash common.Hash) (root common.Hash, path []common.Hash, err error) {
	leaves := make([]merkletree.Content, commitmentLeaves)
	leaves[payloadLeafIndex] = digestLeaf(payloadHash)
	for i := payloadLeafIndex + 1; i < commitmentLeaves; i++ {
		var filler [32]byte
		if _, err := rand.Read(filler[:]); err != nil {
			return common.Hash{}, nil, fmt.Errorf("attestation: filler leaf: %w", err)
		}
		leaves[i] = digestLeaf(filler)
	}

	tree, err := merkletree.NewTreeWithHashStrategy(leaves, sha256.New)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("attestation: commitment tree: %w", err)
	}

	siblings, _, err := tree.GetMerklePath(leaves[payloadLeafIndex])
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("attestation: commitment path: %w", err)
	}

	path = make([]common.Hash, len(siblings))
	for i, s := range siblings {
		path[i] = common.BytesToHash(s)
	}

	return common.BytesToHash(tree.MerkleRoot()), path, nil
}

// Verify confirms that payloadHash is committed under root via the given
// sibling path, using standard pairwise hashing. The payload leaf is
// always the leftmost leaf, so the running hash is the left input at
// every level.
func Verify(payloadHash common.Hash, path []common.Hash, root common.Hash) bool {
	h := payloadHash
	for _, sibling := range path {
		h = sha256.Sum256(append(h.Bytes(), sibling.Bytes()...))
	}
	return h == root
}
