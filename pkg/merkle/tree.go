package merkle

import (
	"errors"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amadeus-robot/chain/pkg/telemetry"
)

// Sentinel errors. Prove returning "no proof" for an unbound key is a
// normal (nil, false), not an error; these are reserved for
// genuinely malformed input.
var (
	ErrMalformedKey   = errors.New("merkle: key must be exactly 32 bytes")
	ErrMalformedValue = errors.New("merkle: value must be exactly 32 bytes")
)

// Entry is one (key, value) binding fed to Build.
type Entry struct {
	Key   [32]byte
	Value [32]byte
}

// Op is a single incremental mutation fed to Update: either an insert
// (Delete == false) or a deletion of Key.
type Op struct {
	Key    [32]byte
	Value  [32]byte
	Delete bool
}

// InsertOp builds an insert/overwrite operation.
func InsertOp(key, value [32]byte) Op { return Op{Key: key, Value: value} }

// DeleteOp builds a deletion operation.
func DeleteOp(key [32]byte) Op { return Op{Key: key, Delete: true} }

// Tree is an authenticated binary-tree state store (pointer variant):
// an owned stem-tree graph plus the stem buckets it was built from. A
// Tree is single-owner mutable — concurrent Update calls on the
// same instance are not supported — but the embedded mutex lets Prove
// run safely alongside a concurrent Update.
type Tree struct {
	mu            sync.RWMutex
	stems         map[[31]byte]*StemBucket
	root          *node
	logger        *log.Logger
	rec           *telemetry.Recorder
	stemThreshold int
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithLogger attaches a logger; lifecycle events (build/update
// durations, stem counts) are reported through it the way
// pkg/database/client.go reports connection-pool setup.
func WithLogger(l *log.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// WithMetrics attaches a telemetry.Recorder.
func WithMetrics(r *telemetry.Recorder) Option {
	return func(t *Tree) { t.rec = r }
}

// WithStemThreshold overrides the bucket-count above which Build splits
// its stem-tree construction across goroutines, e.g. from
// config.EngineConfig.Engine.ParallelStemThreshold.
func WithStemThreshold(n int) Option {
	return func(t *Tree) { t.stemThreshold = n }
}

func newTree(opts ...Option) *Tree {
	t := &Tree{stems: make(map[[31]byte]*StemBucket), stemThreshold: defaultStemThreshold}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tree) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// Build performs the parallel bulk construction: entries
// are flattened to (stem, sub, value, sequence), sorted so duplicate
// keys resolve last-write-wins by input order, grouped by stem, and each
// group's bucket is Merkleized independently before the stem tree is
// assembled bottom-up.
func Build(entries []Entry, opts ...Option) *Tree {
	t := newTree(opts...)
	start := time.Now()
	batchID := uuid.New()
	t.logf("build[%s]: starting with %d entries", batchID, len(entries))

	if len(entries) == 0 {
		t.logf("build[%s]: empty input, state_root = zero", batchID)
		if t.rec != nil {
			t.rec.ObserveBuild(time.Since(start))
		}
		return t
	}

	type flat struct {
		stem [31]byte
		sub  byte
		val  [32]byte
		seq  int
	}
	flats := make([]flat, len(entries))
	for i, e := range entries {
		var stem [31]byte
		copy(stem[:], e.Key[:31])
		flats[i] = flat{stem: stem, sub: e.Key[31], val: e.Value, seq: i}
	}

	sort.Slice(flats, func(i, j int) bool {
		if flats[i].stem != flats[j].stem {
			return lessBytes(flats[i].stem[:], flats[j].stem[:])
		}
		if flats[i].sub != flats[j].sub {
			return flats[i].sub < flats[j].sub
		}
		return flats[i].seq < flats[j].seq
	})

	bounds := []int{0}
	for i := 1; i < len(flats); i++ {
		if flats[i].stem != flats[i-1].stem {
			bounds = append(bounds, i)
		}
	}
	bounds = append(bounds, len(flats))

	groupCount := len(bounds) - 1
	buckets := make([]*StemBucket, groupCount)

	workers := runtime.NumCPU()
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for g := 0; g < groupCount; g++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(g int) {
			defer wg.Done()
			defer func() { <-sem }()
			start, end := bounds[g], bounds[g+1]
			group := flats[start:end]
			stem := group[0].stem

			// Dedup by sub-index, last write wins: scan from the end,
			// keep the first (i.e. latest by seq) occurrence per sub.
			seen := make(map[byte]bool, len(group))
			leaves := make(map[byte][32]byte, len(group))
			for i := len(group) - 1; i >= 0; i-- {
				f := group[i]
				if !seen[f.sub] {
					seen[f.sub] = true
					leaves[f.sub] = f.val
				}
			}

			b := &StemBucket{Stem: stem, Leaves: leaves}
			b.recompute()
			buckets[g] = b
		}(g)
	}
	wg.Wait()

	root := buildStemTree(buckets, 0, t.stemThreshold)

	stemsMap := make(map[[31]byte]*StemBucket, len(buckets))
	for _, b := range buckets {
		stemsMap[b.Stem] = b
	}

	t.stems = stemsMap
	t.root = root

	t.logf("build[%s]: %d stems, state_root=%x, took %s", batchID, len(stemsMap), nodeHash(root), time.Since(start))
	if t.rec != nil {
		t.rec.ObserveBuild(time.Since(start))
	}
	return t
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Update applies a batch of inserts/deletes, recomputing only the
// touched stems and the path from each to the root.
func (t *Tree) Update(ops []Op) {
	start := time.Now()
	batchID := uuid.New()

	t.mu.Lock()
	defer t.mu.Unlock()

	touched := make(map[[31]byte]bool)
	for _, op := range ops {
		var stem [31]byte
		copy(stem[:], op.Key[:31])
		sub := op.Key[31]

		b, ok := t.stems[stem]
		if !ok {
			b = newStemBucket(stem)
			t.stems[stem] = b
		}
		if op.Delete {
			delete(b.Leaves, sub)
		} else {
			b.Leaves[sub] = op.Value
		}
		touched[stem] = true
	}

	for stem := range touched {
		b := t.stems[stem]
		if len(b.Leaves) == 0 {
			delete(t.stems, stem)
			t.root = deleteStem(t.root, stem, 0)
			continue
		}
		b.recompute()
		t.root = upsertStem(t.root, stem, b.StemHash, 0)
	}

	t.logf("update[%s]: %d ops, %d stems touched, state_root=%x, took %s",
		batchID, len(ops), len(touched), nodeHash(t.root), time.Since(start))
	if t.rec != nil {
		t.rec.ObserveUpdate(time.Since(start), len(touched))
	}
}

// StateRoot returns the tree's current 32-byte authenticator. An empty
// tree's root is the all-zero hash.
func (t *Tree) StateRoot() [32]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return nodeHash(t.root)
}

// Prove returns a Merkle proof for key, or ok=false if key is unbound:
// an absent key is "no proof", not an error.
func (t *Tree) Prove(key [32]byte) (proof *Proof, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stem [31]byte
	copy(stem[:], key[:31])
	sub := key[31]

	b, present := t.stems[stem]
	if !present {
		if t.rec != nil {
			t.rec.ObserveProve(false)
		}
		return nil, false
	}
	value, present := b.Leaves[sub]
	if !present {
		if t.rec != nil {
			t.rec.ObserveProve(false)
		}
		return nil, false
	}

	subSibs, pathSibs, found := provePaths(t.root, stem, sub, b.Leaves)
	if !found {
		if t.rec != nil {
			t.rec.ObserveProve(false)
		}
		return nil, false
	}

	if t.rec != nil {
		t.rec.ObserveProve(true)
	}
	return &Proof{Value: value, SubSiblings: subSibs, PathSiblings: pathSibs}, true
}

// StemCount returns the number of distinct stems currently bound.
// Exposed for tests and telemetry; not part of the core surface.
func (t *Tree) StemCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stems)
}
