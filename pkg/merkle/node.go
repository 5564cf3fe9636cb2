package merkle

import (
	"sort"
	"sync"

	"github.com/amadeus-robot/chain/pkg/bitpath"
	"github.com/amadeus-robot/chain/pkg/treehash"
)

// stemBits is the number of significant bits in a 31-byte stem.
const stemBits = 31 * 8

// nodeKind tags the two non-empty alternatives of the stem tree sum type.
// The third alternative, Empty, is represented by a nil *node so
// zero-subtrees cost nothing to hold.
type nodeKind uint8

const (
	kindStemLeaf nodeKind = iota
	kindInternal
)

// node is one element of the owned, acyclic stem-tree graph. Parents
// exclusively own children; there are no back-pointers.
type node struct {
	kind  nodeKind
	hash  [32]byte
	stem  [31]byte // valid when kind == kindStemLeaf
	left  *node    // valid when kind == kindInternal
	right *node    // valid when kind == kindInternal
}

// nodeHash returns a node's contribution to its parent's hash, treating a
// nil pointer as the canonical Empty node.
func nodeHash(n *node) [32]byte {
	if n == nil {
		return treehash.Zero
	}
	return n.hash
}

// stemBit returns bit `depth` of stem, MSB-first.
func stemBit(stem [31]byte, depth int) byte {
	return bitpath.Bit(stem[:], depth)
}

// defaultStemThreshold is the slice size above which buildStemTree
// recurses into two goroutines instead of running sequentially, unless a
// Tree overrides it via WithStemThreshold.
const defaultStemThreshold = 2048

// wrapWithEmpties wraps child with (to-from) Internal nodes whose
// non-matching sibling at each level is Empty, restoring the invariant
// that stored stem bits match the edges taken from depth from up to to.
func wrapWithEmpties(child *node, stem [31]byte, from, to int) *node {
	for lvl := to - 1; lvl >= from; lvl-- {
		var n node
		n.kind = kindInternal
		if stemBit(stem, lvl) == 0 {
			n.left, n.right = child, nil
		} else {
			n.left, n.right = nil, child
		}
		n.hash = treehash.Pair(nodeHash(n.left), nodeHash(n.right))
		child = &n
	}
	return child
}

// buildStemTree builds the minimal binary tree over a slice of buckets
// already sorted by stem, starting the scan for divergence at bit depth.
// Slices above threshold are split across goroutines: both halves are
// pure functions of their own input and compose with a single hash once
// both return.
func buildStemTree(buckets []*StemBucket, depth, threshold int) *node {
	switch len(buckets) {
	case 0:
		return nil
	case 1:
		b := buckets[0]
		return &node{kind: kindStemLeaf, hash: b.StemHash, stem: b.Stem}
	}

	d := bitpath.FirstDivergence(buckets[0].Stem[:], buckets[len(buckets)-1].Stem[:], depth, stemBits)

	split := sort.Search(len(buckets), func(i int) bool { return stemBit(buckets[i].Stem, d) == 1 })

	var left, right *node
	if len(buckets) >= threshold {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			left = buildStemTree(buckets[:split], d+1, threshold)
		}()
		go func() {
			defer wg.Done()
			right = buildStemTree(buckets[split:], d+1, threshold)
		}()
		wg.Wait()
	} else {
		left = buildStemTree(buckets[:split], d+1, threshold)
		right = buildStemTree(buckets[split:], d+1, threshold)
	}

	merged := &node{
		kind:  kindInternal,
		hash:  treehash.Pair(nodeHash(left), nodeHash(right)),
		left:  left,
		right: right,
	}
	return wrapWithEmpties(merged, buckets[0].Stem, depth, d)
}

// mergeTwoToSubtree builds the minimal subtree containing both stems,
// descending their common prefix from depth and diverging into two
// StemLeaf siblings at the first differing bit.
func mergeTwoToSubtree(aStem [31]byte, aHash [32]byte, bStem [31]byte, bHash [32]byte, depth int) *node {
	if depth >= stemBits {
		// Identical stems reaching the bottom of the path: last write wins.
		return &node{kind: kindStemLeaf, hash: bHash, stem: aStem}
	}
	a := stemBit(aStem, depth)
	b := stemBit(bStem, depth)
	if a != b {
		left := &node{kind: kindStemLeaf, hash: aHash, stem: aStem}
		right := &node{kind: kindStemLeaf, hash: bHash, stem: bStem}
		if a != 0 {
			left, right = right, left
		}
		return &node{kind: kindInternal, hash: treehash.Pair(nodeHash(left), nodeHash(right)), left: left, right: right}
	}
	child := mergeTwoToSubtree(aStem, aHash, bStem, bHash, depth+1)
	n := &node{kind: kindInternal}
	if a == 0 {
		n.left, n.right = child, nil
	} else {
		n.left, n.right = nil, child
	}
	n.hash = treehash.Pair(nodeHash(n.left), nodeHash(n.right))
	return n
}

// upsertStem inserts or overwrites a single stem's hash into an existing
// stem tree rooted at n, recomputing only the path touched. It returns
// the (possibly new) root of the subtree.
func upsertStem(n *node, stem [31]byte, stemHash [32]byte, depth int) *node {
	if n == nil {
		return &node{kind: kindStemLeaf, hash: stemHash, stem: stem}
	}
	switch n.kind {
	case kindStemLeaf:
		if n.stem == stem {
			return &node{kind: kindStemLeaf, hash: stemHash, stem: stem}
		}
		return mergeTwoToSubtree(n.stem, n.hash, stem, stemHash, depth)
	default: // kindInternal
		b := stemBit(stem, depth)
		out := &node{kind: kindInternal, left: n.left, right: n.right}
		if b == 0 {
			out.left = upsertStem(n.left, stem, stemHash, depth+1)
		} else {
			out.right = upsertStem(n.right, stem, stemHash, depth+1)
		}
		out.hash = treehash.Pair(nodeHash(out.left), nodeHash(out.right))
		return out
	}
}

// deleteStem removes a stem's leaf from the tree. An Internal left with
// no children becomes Empty; one whose only surviving child is a StemLeaf
// is replaced by that leaf; one whose only surviving child is an Internal
// stays as a wrapper over Empty, so every node keeps the depth its bit
// index implies and the result matches what Build would have produced
// from the remaining stems alone.
func deleteStem(n *node, stem [31]byte, depth int) *node {
	if n == nil {
		return nil
	}
	switch n.kind {
	case kindStemLeaf:
		if n.stem == stem {
			return nil
		}
		return n
	default: // kindInternal
		left, right := n.left, n.right
		b := stemBit(stem, depth)
		if b == 0 {
			left = deleteStem(n.left, stem, depth+1)
		} else {
			right = deleteStem(n.right, stem, depth+1)
		}
		switch {
		case left == nil && right == nil:
			return nil
		case left == nil && right.kind == kindStemLeaf:
			return right
		case right == nil && left.kind == kindStemLeaf:
			return left
		default:
			return &node{kind: kindInternal, hash: treehash.Pair(nodeHash(left), nodeHash(right)), left: left, right: right}
		}
	}
}
