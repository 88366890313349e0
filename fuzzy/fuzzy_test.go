package fuzzy

import (
	"math/rand"
	"testing"
)

func sample(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(r.Intn(256))
	}
	return buf
}

func TestTLSHRegistered(t *testing.T) {
	if _, ok := Lookup("TLSH"); !ok {
		t.Fatalf("tlsh hasher not registered, have %v", Available())
	}
}

func TestDigest(t *testing.T) {
	data := sample(4096, 1)
	a, ok := Digest("tlsh", data, 256)
	if !ok || a == "" {
		t.Fatalf("expected tlsh digest")
	}
	b, ok := Digest("tlsh", data, 256)
	if !ok || a != b {
		t.Fatalf("digest not deterministic: %q vs %q", a, b)
	}
	if c, _ := Digest("tlsh", sample(4096, 2), 256); c == a {
		t.Fatalf("different inputs produced the same digest")
	}
}

func TestDigestSkips(t *testing.T) {
	if _, ok := Digest("tlsh", sample(100, 1), 256); ok {
		t.Fatalf("expected short sample to be skipped")
	}
	if _, ok := Digest("ssdeep", sample(4096, 1), 0); ok {
		t.Fatalf("expected unknown hasher to be skipped")
	}
	if _, ok := Digest("tlsh", nil, 0); ok {
		t.Fatalf("expected empty sample to be skipped")
	}
}
