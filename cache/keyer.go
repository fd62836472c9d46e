package cache

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Key identifies a query: an ordered list of JSON-serializable segments.
// Typical keys pair a name with parameters, e.g.
// Key{"todos", map[string]any{"status": "open", "page": 2}}.
// Segment order matters; map key order does not.
type Key []any

// String returns the canonical rendering of the key, falling back to a
// fmt rendering for keys that do not serialize.
func (k Key) String() string {
	s, err := NewDefaultKeyHasher().Hash(k)
	if err != nil {
		return fmt.Sprintf("%v", []any(k))
	}
	return s
}

// KeyHasher generates the canonical string that names a query in the cache.
//
// Contract:
// - Determinism: equal keys must produce equal hashes, regardless of map iteration order.
// - Identity: distinct keys must not collide; the hash is the query's registry identity.
// - Concurrency: implementations must be safe for concurrent use.
type KeyHasher interface {
	// Hash generates the canonical hash for a key.
	Hash(key Key) (string, error)
}

// DefaultKeyHasher generates canonical JSON hashes.
type DefaultKeyHasher struct{}

// NewDefaultKeyHasher creates a new default key hasher.
func NewDefaultKeyHasher() *DefaultKeyHasher {
	return &DefaultKeyHasher{}
}

// Hash renders the key as canonical JSON: arrays and primitives as
// json.Marshal would emit them, map keys recursively sorted. The canonical
// string itself is the hash, so two keys collide only when they are equal.
func (h *DefaultKeyHasher) Hash(key Key) (string, error) {
	canonical, err := canonicalize([]any(key))
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize key: %w", err)
	}
	return string(canonical), nil
}

// canonicalize produces a deterministic JSON representation of the value.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	// For maps, sort keys for determinism
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// For other types, use standard JSON encoding
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	// Sort keys
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build ordered JSON object
	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		// Key
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		// Value (recursively canonicalize)
		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyHasher implements KeyHasher
var _ KeyHasher = (*DefaultKeyHasher)(nil)
