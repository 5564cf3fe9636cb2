package bitpath

import (
	"bytes"
	"testing"
)

func TestBitMSBFirst(t *testing.T) {
	path := []byte{0b10110000}
	want := []byte{1, 0, 1, 1, 0, 0, 0, 0}
	for i, w := range want {
		if got := Bit(path, i); got != w {
			t.Errorf("Bit(%08b, %d) = %d, want %d", path[0], i, got, w)
		}
	}
}

func TestLCP(t *testing.T) {
	a := []byte{0b11110000, 0xFF}
	b := []byte{0b11110011, 0x00}
	prefix, length := LCP(a, b, 16)
	if length != 6 {
		t.Fatalf("length = %d, want 6", length)
	}
	want := MaskAfter(a, 6)
	if !bytes.Equal(prefix, want) {
		t.Errorf("prefix = %08b, want %08b", prefix[0], want[0])
	}
}

func TestLCPIdentical(t *testing.T) {
	a := bytes.Repeat([]byte{0x42}, 31)
	_, length := LCP(a, a, 248)
	if length != 248 {
		t.Errorf("length = %d, want 248 for identical stems", length)
	}
}

func TestPrefixMatch(t *testing.T) {
	path := []byte{0b10101010}
	if !PrefixMatch([]byte{0b10101111}, path, 4) {
		t.Errorf("expected prefix match on first 4 bits")
	}
	if PrefixMatch([]byte{0b10111111}, path, 4) {
		t.Errorf("expected prefix mismatch on first 4 bits")
	}
}

func TestMaskAfter(t *testing.T) {
	path := []byte{0xFF, 0xFF}
	got := MaskAfter(path, 4)
	want := []byte{0xF0, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("MaskAfter(0xFFFF, 4) = %x, want %x", got, want)
	}

	got = MaskAfter(path, 16)
	if !bytes.Equal(got, path) {
		t.Errorf("MaskAfter at full length should be identity")
	}
}

func TestFirstDivergence(t *testing.T) {
	a := []byte{0b11110000}
	b := []byte{0b11100000}
	if d := FirstDivergence(a, b, 0, 8); d != 3 {
		t.Errorf("FirstDivergence = %d, want 3", d)
	}
}
