package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"imgtriage/logger"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// DefaultChunkSize bounds a single random-offset read while hashing.
const DefaultChunkSize = 1024 * 1024

// Primary is always computed; a file's canonical digest is its sha256.
const Primary = "sha256"

// RandomReader reads up to length bytes at offset. Short reads are allowed and a
// zero-length result marks the end of the readable content.
type RandomReader interface {
	ReadRandom(offset int64, length int) ([]byte, error)
}

// Result holds the outcome of one streaming hash pass.
type Result struct {
	BytesRead int64
	Hashes    map[string]string
	// Err is the read error that stopped the pass early, if any.
	Err error
}

// Digest returns the hex digest for algo when hashing produced one.
func (r Result) Digest(algo string) (string, bool) {
	v, ok := r.Hashes[algo]
	return v, ok
}

type hasherEntry struct {
	name string
	h    hash.Hash
}

// Supported reports whether algo can be computed.
func Supported(algo string) bool {
	return newHash(strings.ToLower(algo)) != nil
}

func newHash(algo string) hash.Hash {
	switch algo {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "blake3":
		return blake3.New(32, nil)
	case "xxhash64":
		return xxhash.New()
	default:
		return nil
	}
}

func buildHashers(algorithms []string) []hasherEntry {
	hashers := make([]hasherEntry, 0, len(algorithms)+1)
	seen := make(map[string]struct{}, len(algorithms)+1)
	for _, algo := range append([]string{Primary}, algorithms...) {
		algo = strings.ToLower(strings.TrimSpace(algo))
		if _, ok := seen[algo]; ok {
			continue
		}
		h := newHash(algo)
		if h == nil {
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		seen[algo] = struct{}{}
		hashers = append(hashers, hasherEntry{name: algo, h: h})
	}
	return hashers
}

// ComputeHashes streams size bytes from r in chunkSize windows. It stops at the
// first zero-length read, and a short file still gets a digest of what it holds.
// A read error at any offset yields no digests; BytesRead and Err are kept.
func ComputeHashes(r RandomReader, size int64, algorithms []string, chunkSize int) Result {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	hashers := buildHashers(algorithms)
	result := Result{Hashes: make(map[string]string, len(hashers))}

	var offset int64
	for offset < size {
		want := int64(chunkSize)
		if remaining := size - offset; remaining < want {
			want = remaining
		}
		data, err := r.ReadRandom(offset, int(want))
		if err != nil {
			result.Err = err
			result.BytesRead = offset
			return result
		}
		if len(data) == 0 {
			break
		}
		for i := range hashers {
			// hash.Hash writes never fail
			_, _ = hashers[i].h.Write(data)
		}
		offset += int64(len(data))
	}
	result.BytesRead = offset

	for i := range hashers {
		result.Hashes[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return result
}

type bytesReader []byte

func (b bytesReader) ReadRandom(offset int64, length int) ([]byte, error) {
	if offset >= int64(len(b)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end], nil
}

// HashBytes digests an in-memory buffer with the same algorithm set.
func HashBytes(data []byte, algorithms []string) map[string]string {
	return ComputeHashes(bytesReader(data), int64(len(data)), algorithms, DefaultChunkSize).Hashes
}
