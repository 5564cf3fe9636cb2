package flatstore

import (
	"github.com/amadeus-robot/chain/pkg/bitpath"
	"github.com/amadeus-robot/chain/pkg/kvdb"
)

// findChild locates the child of (parentPath, parentLen) on side bit by
// scanning forward from the smallest possible key under that child's
// prefix. A compressed (Patricia-style) tree has no guarantee a node sits
// exactly at parentLen+1, so the search takes whatever is the nearest
// existing descendant; found=false means that side's subtree is empty.
func findChild(kv kvdb.OrderedKV, parentPath [32]byte, parentLen int, bit byte) (hash [32]byte, found bool, err error) {
	prefix := childPrefix(parentPath, parentLen, bit)
	probe := Encode(NodeKey{Path: prefix, Len: parentLen + 1})
	k, v, ok, err := kv.Seek(probe)
	if err != nil || !ok {
		return hash, false, err
	}
	rk := Decode(k)
	if rk.Len < parentLen+1 || !bitpath.PrefixMatch(prefix[:], rk.Path[:], parentLen+1) {
		return hash, false, nil
	}
	copy(hash[:], v)
	return hash, true, nil
}

// ancestorsOf returns every existing internal node (Len < leafLen) whose
// masked prefix is an ancestor of path, by walking upward through the
// ordered map with seek_prev and jumping to the LCP length whenever a
// scanned key turns out to belong to a different branch.
func ancestorsOf(kv kvdb.OrderedKV, path [32]byte) ([]NodeKey, error) {
	var out []NodeKey
	probeLen := leafLen
	for probeLen >= 0 {
		probe := Encode(NodeKey{Path: maskedPath(path, probeLen), Len: probeLen})
		k, _, ok, err := kv.SeekPrev(probe)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rk := Decode(k)
		if rk.Len > probeLen {
			if probeLen == 0 {
				break
			}
			probeLen--
			continue
		}
		if bitpath.PrefixMatch(path[:], rk.Path[:], rk.Len) {
			if rk.Len < leafLen {
				out = append(out, rk)
			}
			if rk.Len == 0 {
				break
			}
			probeLen = rk.Len - 1
			continue
		}
		_, lcpLen := bitpath.LCP(path[:], rk.Path[:], probeLen)
		if lcpLen >= probeLen {
			break
		}
		probeLen = lcpLen
	}
	return out, nil
}

// prevLeaf returns the nearest existing leaf with path strictly less than
// path, if any.
func prevLeaf(kv kvdb.OrderedKV, path [32]byte) (NodeKey, bool, error) {
	probe := Encode(NodeKey{Path: path, Len: 0})
	for {
		k, _, ok, err := kv.SeekPrev(probe)
		if err != nil || !ok {
			return NodeKey{}, false, err
		}
		rk := Decode(k)
		if rk.Len == leafLen {
			return rk, true, nil
		}
		probe = Encode(rk)
		if allZeroKey(probe) {
			return NodeKey{}, false, nil
		}
		probe = decrementKey(probe)
	}
}

// nextLeaf returns the nearest existing leaf with path strictly greater
// than path, if any.
func nextLeaf(kv kvdb.OrderedKV, path [32]byte) (NodeKey, bool, error) {
	probe := Encode(NodeKey{Path: path, Len: leafLen + 1})
	for {
		k, _, ok, err := kv.Seek(probe)
		if err != nil || !ok {
			return NodeKey{}, false, err
		}
		rk := Decode(k)
		if rk.Len == leafLen {
			return rk, true, nil
		}
		probe = incrementKey(Encode(rk))
	}
}

func maskedPath(path [32]byte, length int) [32]byte {
	var out [32]byte
	copy(out[:], bitpath.MaskAfter(path[:], length))
	return out
}

func allZeroKey(k []byte) bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

func incrementKey(k []byte) []byte {
	out := append([]byte(nil), k...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out
		}
		out[i] = 0x00
	}
	return out
}

func decrementKey(k []byte) []byte {
	out := append([]byte(nil), k...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0x00 {
			out[i]--
			return out
		}
		out[i] = 0xFF
	}
	return out
}
