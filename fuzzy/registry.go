// Package fuzzy computes similarity digests of sampled file heads.
package fuzzy

import "strings"

// Hasher defines a fuzzy hashing implementation over an in-memory sample.
type Hasher interface {
	Name() string
	HashBytes(data []byte) (string, error)
}

var registry = map[string]Hasher{}

// Register adds a fuzzy hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(name)]
	return hasher, ok
}

// Available returns the names of registered hashers.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Digest hashes data with the named hasher. Samples shorter than minSize and
// data the hasher rejects (too little variance) yield ok=false.
func Digest(name string, data []byte, minSize int) (string, bool) {
	hasher, ok := Lookup(name)
	if !ok || len(data) == 0 || len(data) < minSize {
		return "", false
	}
	digest, err := hasher.HashBytes(data)
	if err != nil || digest == "" {
		return "", false
	}
	return digest, true
}
