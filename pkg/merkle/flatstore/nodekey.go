// Package flatstore implements the flat-variant authenticated binary
// tree: an ordered mapping from (path, length) prefixes to hashes,
// persisted through a pluggable pkg/kvdb.OrderedKV backend, with the tree
// structure implied entirely by key ordering rather than by pointers.
package flatstore

import (
	"encoding/binary"

	"github.com/amadeus-robot/chain/pkg/bitpath"
)

// NodeKey identifies one node of the flat tree: the bits of Path at index
// >= Len are always zero (the stored-path invariant), and Len == 256
// marks a leaf rather than an internal split point.
type NodeKey struct {
	Path [32]byte
	Len  int
}

const leafLen = 256

// Encode returns the 34-byte wire key path||len_be for nk, the ordering
// the pluggable OrderedKV backend sorts by.
func Encode(nk NodeKey) []byte {
	out := make([]byte, 34)
	copy(out, nk.Path[:])
	binary.BigEndian.PutUint16(out[32:], uint16(nk.Len))
	return out
}

// Decode parses a 34-byte wire key back into a NodeKey.
func Decode(b []byte) NodeKey {
	var nk NodeKey
	copy(nk.Path[:], b[:32])
	nk.Len = int(binary.BigEndian.Uint16(b[32:34]))
	return nk
}

// zeroKey is the smallest possible wire key, used to locate the state
// root (the value at the smallest stored key).
var zeroKey = make([]byte, 34)

// childPrefix returns the masked path of the child of (parentPath,
// parentLen) on side bit (0 or 1).
func childPrefix(parentPath [32]byte, parentLen int, bit byte) [32]byte {
	var out [32]byte
	copy(out[:], bitpath.MaskAfter(parentPath[:], parentLen))
	if bit == 1 {
		out[parentLen/8] |= 1 << uint(7-parentLen%8)
	}
	return out
}
