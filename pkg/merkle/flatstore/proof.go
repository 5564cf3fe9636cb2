package flatstore

import (
	"github.com/amadeus-robot/chain/pkg/bitpath"
	"github.com/amadeus-robot/chain/pkg/treehash"
)

// ProofSibling is one step of a flat-variant Merkle proof: the
// hash on the other side of an ancestor node, the length (bit depth) of
// that ancestor, and which side the proven path falls on there. Entries
// run deepest to shallowest.
type ProofSibling struct {
	Hash      [32]byte
	Direction byte // 0 if the proven path is the left child at this node, 1 if right
	Len       int
}

// Proof is a flat-variant Merkle proof: the bound value plus the sibling
// chain from the leaf's nearest ancestor up to the root.
type Proof struct {
	Value    [32]byte
	Siblings []ProofSibling
}

// Prove returns a Proof for key, or ok=false if key is unbound.
func (s *Store) Prove(key [32]byte) (*Proof, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, bound := s.values[key]
	if !bound {
		if s.rec != nil {
			s.rec.ObserveProve(false)
		}
		return nil, false, nil
	}
	path := treehash.Sum(key[:])

	ancestors, err := ancestorsOf(s.kv, path)
	if err != nil {
		return nil, false, err
	}

	sibs := make([]ProofSibling, 0, len(ancestors))
	for _, anc := range ancestors {
		bit := bitpath.Bit(path[:], anc.Len)
		sibHash, found, err := findChild(s.kv, anc.Path, anc.Len, 1-bit)
		if err != nil {
			return nil, false, err
		}
		if !found {
			sibHash = treehash.Zero
		}
		sibs = append(sibs, ProofSibling{Hash: sibHash, Direction: bit, Len: anc.Len})
	}

	if s.rec != nil {
		s.rec.ObserveProve(true)
	}
	return &Proof{Value: value, Siblings: sibs}, true, nil
}

// Verify checks a Proof for (key, value) against root. It is pure and
// never panics. The direction at each step is derived from key itself
// rather than trusted from the proof, so a forged Direction field cannot
// change the result.
func Verify(root [32]byte, key [32]byte, value [32]byte, proof *Proof) bool {
	if proof == nil {
		return false
	}
	path := treehash.Sum(key[:])
	acc := leafHash(key, value)

	for _, sib := range proof.Siblings {
		if sib.Len < 0 || sib.Len >= leafLen {
			return false
		}
		bit := bitpath.Bit(path[:], sib.Len)
		if bit == 0 {
			acc = treehash.Pair(acc, sib.Hash)
		} else {
			acc = treehash.Pair(sib.Hash, acc)
		}
	}

	return acc == root
}
