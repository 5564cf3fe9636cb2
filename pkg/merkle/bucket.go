// Package merkle implements the pointer-variant authenticated binary tree:
// an owned node graph keyed by 31-byte stems, each stem owning a sparsely
// Merkleized 256-leaf bucket keyed by the key's final byte.
package merkle

import (
	"sort"

	"github.com/amadeus-robot/chain/pkg/treehash"
)

// StemBucket is the authenticated state of every key sharing one stem:
// present sub-indices map to their bound value, the sub-tree root is the
// 256-leaf Merkle root over those bindings, and StemHash is the value
// that enters the stem tree.
type StemBucket struct {
	Stem        [31]byte
	Leaves      map[byte][32]byte
	SubtreeRoot [32]byte
	StemHash    [32]byte
}

// newStemBucket returns an empty bucket with its canonical empty hashes
// already computed.
func newStemBucket(stem [31]byte) *StemBucket {
	b := &StemBucket{Stem: stem, Leaves: make(map[byte][32]byte)}
	b.recompute()
	return b
}

// recompute refreshes SubtreeRoot and StemHash from the current Leaves.
// Call after any mutation of Leaves.
func (b *StemBucket) recompute() {
	b.SubtreeRoot = subtreeRootSparse(b.Leaves)
	b.StemHash = treehash.StemLeaf(b.Stem, b.SubtreeRoot)
}

// subtreeRootSparse computes the root of the 256-leaf binary tree over
// leaves without materializing absent siblings. Leaf-hash
// discipline: H(value).
func subtreeRootSparse(leaves map[byte][32]byte) [32]byte {
	switch len(leaves) {
	case 0:
		return treehash.Zero
	case 1:
		for sub, val := range leaves {
			return subtreeRootOneLeaf(sub, val)
		}
	}

	type node struct {
		idx  uint16
		hash [32]byte
	}
	level := make([]node, 0, len(leaves))
	for sub, val := range leaves {
		level = append(level, node{idx: uint16(sub), hash: treehash.Sum(val[:])})
	}

	for l := 0; l < 8; l++ {
		sort.Slice(level, func(i, j int) bool { return level[i].idx < level[j].idx })
		next := make([]node, 0, (len(level)+1)/2)
		for i := 0; i < len(level); {
			idx, h := level[i].idx, level[i].hash
			if i+1 < len(level) && level[i+1].idx == idx^1 {
				h2 := level[i+1].hash
				var left, right [32]byte
				if idx&1 == 0 {
					left, right = h, h2
				} else {
					left, right = h2, h
				}
				next = append(next, node{idx: idx >> 1, hash: treehash.Pair(left, right)})
				i += 2
			} else {
				var left, right [32]byte
				if idx&1 == 0 {
					left, right = h, treehash.Zero
				} else {
					left, right = treehash.Zero, h
				}
				next = append(next, node{idx: idx >> 1, hash: treehash.Pair(left, right)})
				i++
			}
		}
		level = next
	}
	return level[0].hash
}

// subtreeRootOneLeaf is the single-leaf fast path: fold H(value)
// against the all-zero default on alternating sides, LSB-first over the
// sub-index bits.
func subtreeRootOneLeaf(sub byte, value [32]byte) [32]byte {
	h := treehash.Sum(value[:])
	idx := sub
	for i := 0; i < 8; i++ {
		if idx&1 == 0 {
			h = treehash.Pair(h, treehash.Zero)
		} else {
			h = treehash.Pair(treehash.Zero, h)
		}
		idx >>= 1
	}
	return h
}

// siblingAtLevel computes the sibling subtree root needed to prove
// sub-index sub at bucket level lvl: the root over every present
// leaf j with j>>lvl == (sub>>lvl)^1, folded only lvl times.
func siblingAtLevel(leaves map[byte][32]byte, sub byte, lvl int) [32]byte {
	sibParent := (uint16(sub) >> uint(lvl)) ^ 1
	mask := uint16(1<<uint(lvl)) - 1

	type node struct {
		pos  uint16
		hash [32]byte
	}
	var nodes []node
	for j, v := range leaves {
		j16 := uint16(j)
		if j16>>uint(lvl) == sibParent {
			nodes = append(nodes, node{pos: j16 & mask, hash: treehash.Sum(v[:])})
		}
	}
	if len(nodes) == 0 {
		return treehash.Zero
	}

	for l := 0; l < lvl; l++ {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].pos < nodes[j].pos })
		next := make([]node, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); {
			idx, h := nodes[i].pos, nodes[i].hash
			if i+1 < len(nodes) && nodes[i+1].pos == idx^1 {
				h2 := nodes[i+1].hash
				var left, right [32]byte
				if idx&1 == 0 {
					left, right = h, h2
				} else {
					left, right = h2, h
				}
				next = append(next, node{pos: idx >> 1, hash: treehash.Pair(left, right)})
				i += 2
			} else {
				var left, right [32]byte
				if idx&1 == 0 {
					left, right = h, treehash.Zero
				} else {
					left, right = treehash.Zero, h
				}
				next = append(next, node{pos: idx >> 1, hash: treehash.Pair(left, right)})
				i++
			}
		}
		nodes = next
	}
	return nodes[0].hash
}
