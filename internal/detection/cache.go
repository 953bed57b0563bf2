package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores check responses keyed by message fingerprint so repeated
// identical messages skip the provider call within the TTL. It is safe for
// concurrent use; under a race the provider may be called twice, which is
// acceptable (last write wins).
type Cache struct {
	lru *expirable.LRU[string, Response]
}

// NewCache creates a cache holding up to size entries for at most ttl each.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		lru: expirable.NewLRU[string, Response](size, nil, ttl),
	}
}

// Get returns the cached response for the fingerprint, if present.
func (c *Cache) Get(fingerprint string) (Response, bool) {
	return c.lru.Get(fingerprint)
}

// Set stores a response under the fingerprint.
func (c *Cache) Set(fingerprint string, resp Response) {
	c.lru.Add(fingerprint, resp)
}

// Fingerprint produces a stable cache key from normalized message text plus
// the check configuration parts that influence the verdict (model, prompt).
// Distinct messages or configs never share a key.
func Fingerprint(text string, configParts ...string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(text)))
	for _, part := range configParts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
