package flatstore

import (
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amadeus-robot/chain/pkg/bitpath"
	"github.com/amadeus-robot/chain/pkg/kvdb"
	"github.com/amadeus-robot/chain/pkg/telemetry"
	"github.com/amadeus-robot/chain/pkg/treehash"
)

// Entry is one (key, value) binding fed to Build.
type Entry struct {
	Key   [32]byte
	Value [32]byte
}

// Op is a single incremental mutation fed to Update.
type Op struct {
	Key    [32]byte
	Value  [32]byte
	Delete bool
}

// InsertOp builds an insert/overwrite operation.
func InsertOp(key, value [32]byte) Op { return Op{Key: key, Value: value} }

// DeleteOp builds a deletion operation.
func DeleteOp(key [32]byte) Op { return Op{Key: key, Delete: true} }

// Store is the flat-variant authenticated tree: the node hashes live in a
// pluggable kvdb.OrderedKV backend, keyed by (path, length) where path is
// H(key); bound values are kept in-process, mirroring how the
// pointer variant's StemBucket keeps raw values alongside its hashes
// (pkg/merkle.StemBucket.Leaves), since the KV backend's contract is to
// store 32-byte hashes, not arbitrary-width payloads.
type Store struct {
	mu            sync.RWMutex
	kv            kvdb.OrderedKV
	values        map[[32]byte][32]byte
	logger        *log.Logger
	rec           *telemetry.Recorder
	hashThreshold int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a telemetry.Recorder.
func WithMetrics(r *telemetry.Recorder) Option {
	return func(s *Store) { s.rec = r }
}

// WithHashThreshold overrides the batch size above which Update spreads
// its key->path hashing step across goroutines, e.g. from
// config.EngineConfig.Engine.ParallelHashThreshold.
func WithHashThreshold(n int) Option {
	return func(s *Store) { s.hashThreshold = n }
}

// New returns an empty Store over kv.
func New(kv kvdb.OrderedKV, opts ...Option) *Store {
	s := &Store{kv: kv, values: make(map[[32]byte][32]byte), hashThreshold: defaultHashThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Build loads entries into an empty Store as a single batch.
func (s *Store) Build(entries []Entry) error {
	ops := make([]Op, len(entries))
	for i, e := range entries {
		ops[i] = InsertOp(e.Key, e.Value)
	}
	return s.Update(ops)
}

// defaultHashThreshold is the batch size above which Update spreads the
// key->path hashing step across goroutines, unless a Store overrides it
// via WithHashThreshold.
const defaultHashThreshold = 512

type flatOp struct {
	path   [32]byte
	key    [32]byte
	value  [32]byte
	delete bool
	seq    int
}

// Update applies a batch of inserts/deletes: each op is hashed to
// a path, deduplicated last-write-wins, written as a leaf, then the
// internal nodes along its route to the root are ensured to exist and
// rehashed bottom-up.
func (s *Store) Update(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	start := time.Now()
	batchID := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	flats := make([]flatOp, len(ops))
	if len(ops) >= s.hashThreshold {
		workers := runtime.NumCPU()
		chunk := (len(ops) + workers - 1) / workers
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			lo, hi := w*chunk, min(len(ops), (w+1)*chunk)
			if lo >= hi {
				continue
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					op := ops[i]
					flats[i] = flatOp{path: treehash.Sum(op.Key[:]), key: op.Key, value: op.Value, delete: op.Delete, seq: i}
				}
			}(lo, hi)
		}
		wg.Wait()
	} else {
		for i, op := range ops {
			flats[i] = flatOp{path: treehash.Sum(op.Key[:]), key: op.Key, value: op.Value, delete: op.Delete, seq: i}
		}
	}
	sort.Slice(flats, func(i, j int) bool {
		if flats[i].path != flats[j].path {
			return lessBytes(flats[i].path[:], flats[j].path[:])
		}
		return flats[i].seq < flats[j].seq
	})

	leaves := make([]flatOp, 0, len(flats))
	for i := 0; i < len(flats); {
		j := i
		for j+1 < len(flats) && flats[j+1].path == flats[i].path {
			j++
		}
		leaves = append(leaves, flats[j]) // last by seq within the group
		i = j + 1
	}

	dirty := make(map[NodeKey]bool)
	for i, leaf := range leaves {
		ancestors, err := ancestorsOf(s.kv, leaf.path)
		if err != nil {
			return err
		}
		for _, anc := range ancestors {
			dirty[anc] = true
		}
		if i > 0 {
			s.addSplit(dirty, leaf.path, leaves[i-1].path)
		}
		if i+1 < len(leaves) {
			s.addSplit(dirty, leaf.path, leaves[i+1].path)
		}
		if pred, ok, err := prevLeaf(s.kv, leaf.path); err == nil && ok {
			s.addSplit(dirty, leaf.path, pred.Path)
		}
		if succ, ok, err := nextLeaf(s.kv, leaf.path); err == nil && ok {
			s.addSplit(dirty, leaf.path, succ.Path)
		}
	}

	for _, leaf := range leaves {
		leafKey := Encode(NodeKey{Path: leaf.path, Len: leafLen})
		if leaf.delete {
			if err := s.kv.Delete(leafKey); err != nil {
				return err
			}
			delete(s.values, leaf.key)
			continue
		}
		lh := leafHash(leaf.key, leaf.value)
		if err := s.kv.Put(leafKey, lh[:]); err != nil {
			return err
		}
		s.values[leaf.key] = leaf.value
	}

	ordered := make([]NodeKey, 0, len(dirty))
	for nk := range dirty {
		ordered = append(ordered, nk)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Len > ordered[j].Len })

	for _, nk := range ordered {
		leftHash, leftFound, err := findChild(s.kv, nk.Path, nk.Len, 0)
		if err != nil {
			return err
		}
		rightHash, rightFound, err := findChild(s.kv, nk.Path, nk.Len, 1)
		if err != nil {
			return err
		}
		key := Encode(nk)
		// A compressed tree only materializes genuine 2-way branch
		// points: zero or one surviving child means this node has
		// collapsed, so it's deleted and the parent's findChild scan
		// reaches straight through to the lone surviving descendant.
		if !leftFound || !rightFound {
			if err := s.kv.Delete(key); err != nil {
				return err
			}
			continue
		}
		combined := treehash.Pair(leftHash, rightHash)
		if err := s.kv.Put(key, combined[:]); err != nil {
			return err
		}
	}

	root, _ := s.stateRootLocked()
	s.logf("update[%s]: %d ops, %d leaves, %d dirty nodes, state_root=%x, took %s",
		batchID, len(ops), len(leaves), len(ordered), root, time.Since(start))
	if s.rec != nil {
		s.rec.ObserveUpdate(time.Since(start), len(leaves))
	}
	return nil
}

func (s *Store) addSplit(dirty map[NodeKey]bool, a, b [32]byte) {
	_, lcpLen := bitpath.LCP(a[:], b[:], leafLen)
	dirty[NodeKey{Path: maskedPath(a, lcpLen), Len: lcpLen}] = true
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// leafHash applies the flat variant's leaf-hash discipline, H(key||value),
// distinct from the pointer variant's H(value) so the two are never
// confused for compatible authenticators over the same data.
func leafHash(key, value [32]byte) [32]byte {
	var buf [64]byte
	copy(buf[:32], key[:])
	copy(buf[32:], value[:])
	return treehash.Sum(buf[:])
}

// StateRoot returns the value at the smallest stored key, or the
// all-zero hash if the store is empty.
func (s *Store) StateRoot() ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateRootLocked()
}

func (s *Store) stateRootLocked() ([32]byte, error) {
	_, v, ok, err := s.kv.Seek(zeroKey)
	if err != nil {
		return treehash.Zero, err
	}
	if !ok {
		return treehash.Zero, nil
	}
	var out [32]byte
	copy(out[:], v)
	return out, nil
}
