package flatstore

import (
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/amadeus-robot/chain/pkg/kvdb"
	"github.com/amadeus-robot/chain/pkg/treehash"
)

func key32(s string) [32]byte { return sha256.Sum256([]byte(s)) }

func newStore() *Store { return New(kvdb.NewMemoryKV()) }

func TestBuildEmptyStore(t *testing.T) {
	s := newStore()
	root, err := s.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if root != treehash.Zero {
		t.Errorf("empty store root = %x, want zero", root)
	}
	if _, ok, err := s.Prove(key32("anything")); ok || err != nil {
		t.Errorf("Prove on empty store should return ok=false, err=nil; got ok=%v err=%v", ok, err)
	}
}

func TestBuildSingleEntryAndVerify(t *testing.T) {
	s := newStore()
	k, v := key32("test"), key32("best")
	if err := s.Build([]Entry{{Key: k, Value: v}}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	root, _ := s.StateRoot()
	if root == treehash.Zero {
		t.Fatalf("single-entry root should not be zero")
	}

	proof, ok, err := s.Prove(k)
	if err != nil || !ok {
		t.Fatalf("Prove: ok=%v err=%v", ok, err)
	}
	if !Verify(root, k, v, proof) {
		t.Errorf("Verify failed for a valid proof")
	}

	var flipped [32]byte
	copy(flipped[:], v[:])
	flipped[0] ^= 0xFF
	if Verify(root, k, flipped, proof) {
		t.Errorf("Verify should fail when the value is substituted")
	}
}

func TestDuplicateKeyLastWriteWins(t *testing.T) {
	s := newStore()
	k := key32("dup")
	v1, v2 := key32("v1"), key32("v2")
	if err := s.Build([]Entry{{Key: k, Value: v1}, {Key: k, Value: v2}}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, ok, err := s.Prove(k)
	if err != nil || !ok {
		t.Fatalf("Prove: ok=%v err=%v", ok, err)
	}
	if proof.Value != v2 {
		t.Errorf("last-write-wins violated: got %x, want %x", proof.Value, v2)
	}
}

func TestDeterminismRegardlessOfOrder(t *testing.T) {
	entries := make([]Entry, 0, 150)
	for i := 0; i < 150; i++ {
		entries = append(entries, Entry{Key: key32(randLabel(i, "k")), Value: key32(randLabel(i, "v"))})
	}
	shuffled := make([]Entry, len(entries))
	copy(shuffled, entries)
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	s1, s2 := newStore(), newStore()
	if err := s1.Build(entries); err != nil {
		t.Fatalf("Build s1: %v", err)
	}
	if err := s2.Build(shuffled); err != nil {
		t.Fatalf("Build s2: %v", err)
	}
	r1, _ := s1.StateRoot()
	r2, _ := s2.StateRoot()
	if r1 != r2 {
		t.Errorf("build is order-dependent: %x vs %x", r1, r2)
	}
}

func randLabel(i int, prefix string) string {
	return prefix + string(rune('a'+i%26)) + string(rune('A'+(i/26)%26))
}

func TestIncrementalityEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	all := make([]Entry, 0, 260)
	for i := 0; i < 260; i++ {
		var k, v [32]byte
		rng.Read(k[:])
		rng.Read(v[:])
		all = append(all, Entry{Key: k, Value: v})
	}
	base, delta := all[:200], all[200:]

	together := newStore()
	if err := together.Build(all); err != nil {
		t.Fatalf("Build together: %v", err)
	}
	rootTogether, _ := together.StateRoot()

	incremental := newStore()
	if err := incremental.Build(base); err != nil {
		t.Fatalf("Build base: %v", err)
	}
	ops := make([]Op, len(delta))
	for i, e := range delta {
		ops[i] = InsertOp(e.Key, e.Value)
	}
	if err := incremental.Update(ops); err != nil {
		t.Fatalf("Update delta: %v", err)
	}
	rootIncremental, _ := incremental.StateRoot()

	if rootTogether != rootIncremental {
		t.Errorf("incrementality equivalence violated: %x vs %x", rootTogether, rootIncremental)
	}
}

func TestDeleteInvertsInsert(t *testing.T) {
	s := newStore()
	base := []Entry{{Key: key32("a"), Value: key32("va")}, {Key: key32("b"), Value: key32("vb")}}
	if err := s.Build(base); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before, _ := s.StateRoot()

	k := key32("c")
	if err := s.Update([]Op{InsertOp(k, key32("vc"))}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Update([]Op{DeleteOp(k)}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, _ := s.StateRoot()
	if after != before {
		t.Errorf("delete did not invert insert: before=%x after=%x", before, after)
	}
}

func TestManyEntriesAllProve(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := newStore()
	entries := make([]Entry, 0, 300)
	for i := 0; i < 300; i++ {
		var k, v [32]byte
		rng.Read(k[:])
		rng.Read(v[:])
		entries = append(entries, Entry{Key: k, Value: v})
	}
	if err := s.Build(entries); err != nil {
		t.Fatalf("Build: %v", err)
	}
	root, _ := s.StateRoot()

	for _, e := range entries {
		proof, ok, err := s.Prove(e.Key)
		if err != nil || !ok {
			t.Fatalf("Prove(%x): ok=%v err=%v", e.Key, ok, err)
		}
		if !Verify(root, e.Key, e.Value, proof) {
			t.Errorf("Verify failed for key %x", e.Key)
		}
	}
}

func TestUnboundKeyHasNoProof(t *testing.T) {
	s := newStore()
	if err := s.Build([]Entry{{Key: key32("a"), Value: key32("va")}}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok, err := s.Prove(key32("never-inserted")); ok || err != nil {
		t.Errorf("Prove for an unbound key should return ok=false, err=nil; got ok=%v err=%v", ok, err)
	}
}
