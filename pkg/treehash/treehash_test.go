package treehash

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestPairZeroCollapse(t *testing.T) {
	got := Pair(Zero, Zero)
	if got != Zero {
		t.Errorf("Pair(zero, zero) = %x, want all-zero", got)
	}
}

func TestPairMatchesSHA256WhenNonZero(t *testing.T) {
	left := Sum([]byte("left"))
	right := Sum([]byte("right"))

	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	want := sha256.Sum256(buf[:])

	got := Pair(left, right)
	if got != want {
		t.Errorf("Pair mismatch: got %x, want %x", got, want)
	}
}

func TestPairOneSideZeroIsHashedNotCollapsed(t *testing.T) {
	left := Sum([]byte("only-left"))
	got := Pair(left, Zero)
	if got == Zero {
		t.Errorf("Pair(nonzero, zero) collapsed to zero, should have hashed")
	}
}

func TestStemLeafDeterministic(t *testing.T) {
	var stem [31]byte
	copy(stem[:], bytes.Repeat([]byte{0xAB}, 31))
	root := Sum([]byte("subtree-root"))

	h1 := StemLeaf(stem, root)
	h2 := StemLeaf(stem, root)
	if h1 != h2 {
		t.Errorf("StemLeaf not deterministic: %x vs %x", h1, h2)
	}

	var otherStem [31]byte
	copy(otherStem[:], bytes.Repeat([]byte{0xCD}, 31))
	if h3 := StemLeaf(otherStem, root); h3 == h1 {
		t.Errorf("StemLeaf collided across different stems")
	}
}
