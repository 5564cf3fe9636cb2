package merkle

import "github.com/amadeus-robot/chain/pkg/treehash"

// Proof is a Merkle proof for one key against a pointer-variant Tree.
// It echoes the bound value so a verifier need not fetch it
// separately, and captures the 8 intra-bucket sibling hashes plus the
// path from the stem tree root down to the stem leaf.
//
// A Proof is a snapshot of hashes by value: once generated it remains
// valid against the root it was generated from regardless of later
// mutations to the tree.
type Proof struct {
	Value        [32]byte
	SubSiblings  [8][32]byte
	PathSiblings [][32]byte
}

// provePaths walks the stem tree and the stem's own sparse bucket to
// produce the two halves of a Proof. It returns ok=false if stem is not
// present in root: an absent key is "no proof", not an error.
func provePaths(root *node, stem [31]byte, sub byte, leaves map[byte][32]byte) (subSibs [8][32]byte, pathSibs []([32]byte), ok bool) {
	for lvl := 0; lvl < 8; lvl++ {
		subSibs[lvl] = siblingAtLevel(leaves, sub, lvl)
	}

	cur := root
	depth := 0
	for {
		if cur == nil {
			return subSibs, nil, false
		}
		switch cur.kind {
		case kindStemLeaf:
			if cur.stem != stem {
				return subSibs, nil, false
			}
			return subSibs, pathSibs, true
		default: // kindInternal
			b := stemBit(stem, depth)
			depth++
			if b == 0 {
				pathSibs = append(pathSibs, nodeHash(cur.right))
				cur = cur.left
			} else {
				pathSibs = append(pathSibs, nodeHash(cur.left))
				cur = cur.right
			}
		}
	}
}

// Verify checks a Proof for key against root. It is
// pure and never panics: any structural mismatch, wrong proof length, or
// overlong depth simply yields false.
func Verify(root [32]byte, key [32]byte, value [32]byte, proof *Proof) bool {
	if proof == nil {
		return false
	}
	if len(proof.PathSiblings) > stemBits {
		return false
	}

	var stem [31]byte
	copy(stem[:], key[:31])
	sub := key[31]

	acc := treehash.Sum(value[:])
	idx := sub
	for lvl := 0; lvl < 8; lvl++ {
		sib := proof.SubSiblings[lvl]
		if idx&1 == 0 {
			acc = treehash.Pair(acc, sib)
		} else {
			acc = treehash.Pair(sib, acc)
		}
		idx >>= 1
	}

	cur := treehash.StemLeaf(stem, acc)

	n := len(proof.PathSiblings)
	for i := 0; i < n; i++ {
		sib := proof.PathSiblings[n-1-i]
		depthFromRoot := n - 1 - i
		b := stemBit(stem, depthFromRoot)
		if b == 0 {
			cur = treehash.Pair(cur, sib)
		} else {
			cur = treehash.Pair(sib, cur)
		}
	}

	return cur == root
}
