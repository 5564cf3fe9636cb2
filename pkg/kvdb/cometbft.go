package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// CometBFTAdapter wraps a CometBFT dbm.DB and exposes OrderedKV.
// Seek/SeekPrev generalize dbm.DB's Iterator/ReverseIterator into the
// single-step directional lookups the flat variant needs.
type CometBFTAdapter struct {
	db dbm.DB
}

// NewCometBFTAdapter returns an adapter over db. db must not be nil.
func NewCometBFTAdapter(db dbm.DB) *CometBFTAdapter {
	return &CometBFTAdapter{db: db}
}

func (a *CometBFTAdapter) Get(key []byte) ([]byte, bool, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (a *CometBFTAdapter) Put(key, value []byte) error {
	return a.db.SetSync(key, value)
}

func (a *CometBFTAdapter) Delete(key []byte) error {
	return a.db.DeleteSync(key)
}

// Seek returns the smallest stored key >= key, using a forward iterator
// over [key, nil) and taking its first position.
func (a *CometBFTAdapter) Seek(key []byte) ([]byte, []byte, bool, error) {
	it, err := a.db.Iterator(key, nil)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	if !it.Valid() {
		return nil, nil, false, nil
	}
	k := append([]byte(nil), it.Key()...)
	v := append([]byte(nil), it.Value()...)
	return k, v, true, nil
}

// SeekPrev returns the largest stored key <= key. dbm.DB's ReverseIterator
// takes a half-open [start, end) range in ascending terms, so the
// upper bound must be key's immediate successor for the reverse scan to
// include key itself; successor overflowing the key space (all 0xFF) maps
// to an unbounded end.
func (a *CometBFTAdapter) SeekPrev(key []byte) ([]byte, []byte, bool, error) {
	end, overflowed := successor(key)
	var it dbm.Iterator
	var err error
	if overflowed {
		it, err = a.db.ReverseIterator(nil, nil)
	} else {
		it, err = a.db.ReverseIterator(nil, end)
	}
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	if !it.Valid() {
		return nil, nil, false, nil
	}
	k := append([]byte(nil), it.Key()...)
	v := append([]byte(nil), it.Value()...)
	return k, v, true, nil
}

// NewBatch exposes the underlying dbm.DB's batch, satisfying Batch.
func (a *CometBFTAdapter) NewBatch() Batch {
	return &cometBatch{b: a.db.NewBatch()}
}

type cometBatch struct {
	b dbm.Batch
}

func (c *cometBatch) Put(key, value []byte) {
	_ = c.b.Set(key, value)
}

func (c *cometBatch) Delete(key []byte) {
	_ = c.b.Delete(key)
}

func (c *cometBatch) Commit() error {
	defer c.b.Close()
	return c.b.WriteSync()
}

// successor returns the byte string immediately following key in
// lexicographic order, treating key as a big-endian integer. overflowed
// reports whether key was all 0xFF (no successor exists).
func successor(key []byte) (out []byte, overflowed bool) {
	out = append([]byte(nil), key...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out, false
		}
		out[i] = 0x00
	}
	return nil, true
}
