// Package kvdb defines the ordered key-value backend the flat storage
// variant persists its hash tree into, plus adapters onto concrete
// stores: an in-memory map for tests and single-process use,
// CometBFT's embedded dbm.DB, and PostgreSQL via lib/pq.
package kvdb

import "errors"

// ErrBackend is a sentinel for backend failures. The adapters in this
// package do not wrap their errors in it: CometBFTAdapter returns dbm.DB
// errors as they come, and PostgresAdapter adds context around the
// driver's error with fmt.Errorf. The core never retries internally.
var ErrBackend = errors.New("kvdb: backend error")

// OrderedKV is the minimal ordered key-value collaborator the flat
// variant needs: point reads/writes plus directional seeks. Keys sort
// lexicographically as byte strings.
type OrderedKV interface {
	// Get returns the value stored at key, or ok=false if absent.
	Get(key []byte) (value []byte, ok bool, err error)

	// Put stores value at key, creating or overwriting it.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Seek returns the smallest stored key >= key, or ok=false if none
	// exists.
	Seek(key []byte) (k, v []byte, ok bool, err error)

	// SeekPrev returns the largest stored key <= key, or ok=false if
	// none exists.
	SeekPrev(key []byte) (k, v []byte, ok bool, err error)
}

// Batch groups writes for atomic application where the backend supports
// it. The flat variant's Update does not use a Batch: it writes each
// node through OrderedKV.Put/Delete directly.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}
