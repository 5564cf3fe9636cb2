package kvdb

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"
)

func TestMemoryKVGetPutDelete(t *testing.T) {
	kv := NewMemoryKV()
	if _, ok, _ := kv.Get([]byte("a")); ok {
		t.Fatalf("Get on empty store returned ok=true")
	}
	if err := kv.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, _ := kv.Get([]byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("Get after Put = %q, %v", v, ok)
	}
	if err := kv.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get([]byte("a")); ok {
		t.Fatalf("Get after Delete returned ok=true")
	}
}

func TestMemoryKVSeekOrdering(t *testing.T) {
	kv := NewMemoryKV()
	keys := []string{"b", "d", "f", "h"}
	for _, k := range keys {
		kv.Put([]byte(k), []byte(k))
	}

	cases := []struct {
		probe   string
		wantKey string
		wantOK  bool
	}{
		{"a", "b", true},
		{"b", "b", true},
		{"c", "d", true},
		{"h", "h", true},
		{"i", "", false},
	}
	for _, c := range cases {
		k, _, ok, err := kv.Seek([]byte(c.probe))
		if err != nil {
			t.Fatalf("Seek(%q): %v", c.probe, err)
		}
		if ok != c.wantOK || (ok && string(k) != c.wantKey) {
			t.Errorf("Seek(%q) = %q, %v; want %q, %v", c.probe, k, ok, c.wantKey, c.wantOK)
		}
	}

	prevCases := []struct {
		probe   string
		wantKey string
		wantOK  bool
	}{
		{"a", "", false},
		{"b", "b", true},
		{"c", "b", true},
		{"i", "h", true},
	}
	for _, c := range prevCases {
		k, _, ok, err := kv.SeekPrev([]byte(c.probe))
		if err != nil {
			t.Fatalf("SeekPrev(%q): %v", c.probe, err)
		}
		if ok != c.wantOK || (ok && string(k) != c.wantKey) {
			t.Errorf("SeekPrev(%q) = %q, %v; want %q, %v", c.probe, k, ok, c.wantKey, c.wantOK)
		}
	}
}

func TestMemoryKVBatchAtomicity(t *testing.T) {
	kv := NewMemoryKV()
	kv.Put([]byte("keep"), []byte("1"))
	kv.Put([]byte("drop"), []byte("1"))

	b := kv.NewBatch()
	b.Put([]byte("new"), []byte("2"))
	b.Delete([]byte("drop"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, ok, _ := kv.Get([]byte("drop")); ok {
		t.Errorf("drop still present after batch commit")
	}
	if v, ok, _ := kv.Get([]byte("new")); !ok || string(v) != "2" {
		t.Errorf("new = %q, %v; want 2, true", v, ok)
	}
	if v, ok, _ := kv.Get([]byte("keep")); !ok || string(v) != "1" {
		t.Errorf("keep was disturbed: %q, %v", v, ok)
	}
}

func TestMemoryKVRandomOpsStayOrdered(t *testing.T) {
	kv := NewMemoryKV()
	rng := rand.New(rand.NewSource(99))
	present := make(map[string]bool)
	for i := 0; i < 500; i++ {
		var k [4]byte
		rng.Read(k[:])
		ks := string(k[:])
		if rng.Intn(4) == 0 && present[ks] {
			kv.Delete(k[:])
			delete(present, ks)
			continue
		}
		kv.Put(k[:], k[:])
		present[ks] = true
	}

	var want []string
	for k := range present {
		want = append(want, k)
	}
	sort.Strings(want)

	if len(kv.keys) != len(want) {
		t.Fatalf("key count = %d, want %d", len(kv.keys), len(want))
	}
	for i, k := range want {
		if kv.keys[i] != k {
			t.Fatalf("keys[%d] = %q, want %q", i, kv.keys[i], k)
		}
	}

	k, _, ok, _ := kv.Seek(bytes.Repeat([]byte{0}, 4))
	if len(want) > 0 && (!ok || k == nil) {
		t.Errorf("Seek from the bottom should find the smallest key")
	}
}
