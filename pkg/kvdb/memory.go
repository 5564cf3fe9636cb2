package kvdb

import (
	"sort"
	"sync"
)

// MemoryKV is an in-process OrderedKV backed by a sorted slice of keys.
// It is the default backend for tests and for single-process deployments
// that don't need the flat variant's hashes to survive a restart.
type MemoryKV struct {
	mu     sync.RWMutex
	keys   []string // kept sorted
	values map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) indexOf(key string) (int, bool) {
	i := sort.SearchStrings(m.keys, key)
	return i, i < len(m.keys) && m.keys[i] == key
}

func (m *MemoryKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := string(key)
	vCopy := make([]byte, len(value))
	copy(vCopy, value)
	if _, exists := m.values[ks]; !exists {
		i, _ := m.indexOf(ks)
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = ks
	}
	m.values[ks] = vCopy
	return nil
}

func (m *MemoryKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := string(key)
	if _, exists := m.values[ks]; !exists {
		return nil
	}
	delete(m.values, ks)
	i, found := m.indexOf(ks)
	if found {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
	return nil
}

func (m *MemoryKV) Seek(key []byte) ([]byte, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, _ := m.indexOf(string(key))
	if i >= len(m.keys) {
		return nil, nil, false, nil
	}
	k := m.keys[i]
	return []byte(k), m.values[k], true, nil
}

func (m *MemoryKV) SeekPrev(key []byte) ([]byte, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, exact := m.indexOf(string(key))
	if exact {
		k := m.keys[i]
		return []byte(k), m.values[k], true, nil
	}
	if i == 0 {
		return nil, nil, false, nil
	}
	k := m.keys[i-1]
	return []byte(k), m.values[k], true, nil
}

// memBatch accumulates writes and applies them to the owning MemoryKV on
// Commit, giving MemoryKV the same Batch contract as the persistent
// adapters even though it has no separate transaction log.
type memBatch struct {
	kv      *MemoryKV
	puts    map[string][]byte
	deletes map[string]bool
}

// NewBatch returns a Batch that applies to m atomically from the caller's
// perspective (single in-process mutex, no partial visibility).
func (m *MemoryKV) NewBatch() Batch {
	return &memBatch{kv: m, puts: make(map[string][]byte), deletes: make(map[string]bool)}
}

func (b *memBatch) Put(key, value []byte) {
	ks := string(key)
	delete(b.deletes, ks)
	v := make([]byte, len(value))
	copy(v, value)
	b.puts[ks] = v
}

func (b *memBatch) Delete(key []byte) {
	ks := string(key)
	delete(b.puts, ks)
	b.deletes[ks] = true
}

func (b *memBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	for k := range b.deletes {
		if _, exists := b.kv.values[k]; exists {
			delete(b.kv.values, k)
			if i, found := b.kv.indexOf(k); found {
				b.kv.keys = append(b.kv.keys[:i], b.kv.keys[i+1:]...)
			}
		}
	}
	for k, v := range b.puts {
		if _, exists := b.kv.values[k]; !exists {
			i, _ := b.kv.indexOf(k)
			b.kv.keys = append(b.kv.keys, "")
			copy(b.kv.keys[i+1:], b.kv.keys[i:])
			b.kv.keys[i] = k
		}
		b.kv.values[k] = v
	}
	return nil
}
