package attestation

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBuildCommitmentAndVerify(t *testing.T) {
	p := samplePayload()
	payloadHash := p.Hash()

	root, path, err := buildCommitment(payloadHash)
	if err != nil {
		t.Fatalf("buildCommitment: %v", err)
	}

	// Four leaves give a depth-2 tree and a two-element path.
	if len(path) != 2 {
		t.Fatalf("path length = %d, want 2", len(path))
	}
	if root == (common.Hash{}) {
		t.Fatal("zero commitment root")
	}

	if !Verify(payloadHash, path, root) {
		t.Error("proof did not verify against its own commitment")
	}

	// Recompute the root by hand: interior nodes hash the concatenated
	// raw child digests, with the payload leaf as the left input at both
	// levels. This pins the tree's hashing to what Verify expects.
	level1 := sha256.Sum256(append(payloadHash.Bytes(), path[0].Bytes()...))
	want := sha256.Sum256(append(level1[:], path[1].Bytes()...))
	if root != common.Hash(want) {
		t.Errorf("root = %x, want pairwise sha256 recomputation %x", root, want)
	}
}

func TestVerify_RejectsTampering(t *testing.T) {
	p := samplePayload()
	payloadHash := p.Hash()
	root, path, err := buildCommitment(payloadHash)
	if err != nil {
		t.Fatalf("buildCommitment: %v", err)
	}

	// Wrong payload hash.
	other := sha256.Sum256([]byte("other payload"))
	if Verify(other, path, root) {
		t.Error("proof verified for a different payload hash")
	}

	// Tampered sibling.
	bad := append([]common.Hash(nil), path...)
	bad[0][0] ^= 0xff
	if Verify(payloadHash, bad, root) {
		t.Error("proof verified with a tampered path")
	}

	// Wrong root.
	badRoot := root
	badRoot[31] ^= 0x01
	if Verify(payloadHash, path, badRoot) {
		t.Error("proof verified against the wrong root")
	}

	// Truncated path.
	if Verify(payloadHash, path[:1], root) {
		t.Error("proof verified with a truncated path")
	}
}

func TestBuildCommitment_FreshFillersDecorrelate(t *testing.T) {
	p := samplePayload()
	payloadHash := p.Hash()

	rootA, _, err := buildCommitment(payloadHash)
	if err != nil {
		t.Fatal(err)
	}
	rootB, _, err := buildCommitment(payloadHash)
	if err != nil {
		t.Fatal(err)
	}

	if rootA == rootB {
		t.Error("identical roots across commitments; filler leaves are not fresh")
	}
}
