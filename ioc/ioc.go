// Package ioc holds known-bad SHA-256 digests. Lookups go through an xor
// filter first and are confirmed against the exact set.
package ioc

import (
	"bufio"
	"encoding/hex"
	"os"
	"strings"

	"imgtriage/logger"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

type Set struct {
	filter *xorfilter.Xor8
	exact  map[string]struct{}
}

func normalize(digest string) (string, bool) {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if len(digest) != 64 {
		return "", false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", false
	}
	return digest, true
}

// New builds a set from hex SHA-256 digests. Malformed entries are rejected.
func New(digests []string) (*Set, error) {
	s := &Set{exact: make(map[string]struct{}, len(digests))}
	keys := make([]uint64, 0, len(digests))
	for _, d := range digests {
		norm, ok := normalize(d)
		if !ok {
			return nil, errors.Errorf("invalid sha256 digest %q", d)
		}
		if _, dup := s.exact[norm]; dup {
			continue
		}
		s.exact[norm] = struct{}{}
		keys = append(keys, xxhash.Sum64String(norm))
	}
	if len(keys) == 0 {
		return s, nil
	}
	keys = uniqueKeys(keys)
	filter, err := xorfilter.Populate(keys)
	if err != nil {
		return nil, errors.Wrap(err, "build digest filter")
	}
	s.filter = filter
	return s, nil
}

func uniqueKeys(keys []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Load reads one digest per line. Blank lines and lines starting with '#' are
// skipped; text after the first whitespace-separated field is ignored, so
// sha256sum output can be used directly.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open ioc list")
	}
	defer f.Close()

	var digests []string
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		field := strings.Fields(text)[0]
		if _, ok := normalize(field); !ok {
			logger.Warnf("Skipping invalid digest on line %d of %s", line, path)
			continue
		}
		digests = append(digests, field)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read ioc list")
	}
	return New(digests)
}

// Contains reports whether digest is a known-bad SHA-256. A nil set contains nothing.
func (s *Set) Contains(digest string) bool {
	if s == nil || s.filter == nil {
		return false
	}
	norm, ok := normalize(digest)
	if !ok {
		return false
	}
	if !s.filter.Contains(xxhash.Sum64String(norm)) {
		return false
	}
	_, ok = s.exact[norm]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.exact)
}
