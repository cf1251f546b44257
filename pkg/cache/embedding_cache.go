// Package cache holds the AI proxy's embedding-result cache: a bound on how
// many (model, input) -> vector pairs are kept in memory, distinct from the
// model-instance lifecycle managed by pkg/model. Repeated identical inputs
// against the same model skip re-inference entirely. Entries are keyed by a
// SHA-256 digest of the model identifier and raw input, fronting a
// time-bounded LRU so stale results expire rather than lingering until
// capacity eviction.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

// DefaultSize is the default number of cached (model, input) -> vector
// entries.
const DefaultSize = 4096

// EmbeddingCache caches embedding results keyed by model identifier and raw
// input, with a TTL so stale results don't linger past their usefulness.
type EmbeddingCache struct {
	lru *expirable.LRU[string, schema.Vector]
}

// New creates an embedding cache holding up to size entries, each valid for
// ttl before expiring.
func New(size int, ttl time.Duration) *EmbeddingCache {
	if size <= 0 {
		size = DefaultSize
	}
	return &EmbeddingCache{lru: expirable.NewLRU[string, schema.Vector](size, nil, ttl)}
}

// Key derives the cache key for a (model, input) pair from the model
// identifier and the raw input bytes, so identical text/image inputs routed
// through the same model share one cached vector.
func Key(model schema.ModelID, input []byte) string {
	h := sha256.New()
	h.Write([]byte(model.String()))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached vector for key, if present and unexpired.
func (c *EmbeddingCache) Get(key string) (schema.Vector, bool) {
	return c.lru.Get(key)
}

// Put caches vec under key.
func (c *EmbeddingCache) Put(key string, vec schema.Vector) {
	c.lru.Add(key, vec)
}

// Len returns the current number of cached entries.
func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

// Purge clears every cached entry.
func (c *EmbeddingCache) Purge() {
	c.lru.Purge()
}
