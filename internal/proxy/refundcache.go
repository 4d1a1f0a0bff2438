package proxy

import (
	"encoding/json"
	"sync"
	"time"

	"routstr/internal/crypto"
)

// refundCache is the "process-local mutex-protected map {bearer_hash ->
// (expires_at, response)} with TTL eviction" spec §5 names. Grounded in
// the teacher's sync.Mutex-guarded map style (internal/cashu.Gateway's
// wallet map uses the same shape for a different resource). Entries are
// encrypted at rest: a cached refund response can itself be a spendable
// ecash token, so the in-memory map never holds it as plaintext.
type refundCache struct {
	ttl time.Duration
	key []byte

	mu      sync.Mutex
	entries map[string]refundCacheEntry
}

type refundCacheEntry struct {
	expiresAt time.Time
	sealed    string
}

func newRefundCache(ttl time.Duration) *refundCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		// crypto/rand failure is unrecoverable; a cache that can never
		// seal an entry degrades to "no idempotency", not a crash.
		key = nil
	}
	return &refundCache{ttl: ttl, key: key, entries: make(map[string]refundCacheEntry)}
}

// Get returns the cached response for bearerHash if present and unexpired.
func (c *refundCache) Get(bearerHash string) (refundResponse, bool) {
	c.mu.Lock()
	entry, ok := c.entries[bearerHash]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, bearerHash)
		c.mu.Unlock()
		return refundResponse{}, false
	}
	c.mu.Unlock()

	if c.key == nil {
		return refundResponse{}, false
	}
	plaintext, err := crypto.Decrypt(entry.sealed, c.key)
	if err != nil {
		return refundResponse{}, false
	}
	var resp refundResponse
	if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
		return refundResponse{}, false
	}
	return resp, true
}

// Put records resp for bearerHash, evicting any expired entries opportunistically.
func (c *refundCache) Put(bearerHash string, resp refundResponse) {
	if c.key == nil {
		return
	}
	plaintext, err := json.Marshal(resp)
	if err != nil {
		return
	}
	sealed, err := crypto.Encrypt(string(plaintext), c.key)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[bearerHash] = refundCacheEntry{expiresAt: now.Add(c.ttl), sealed: sealed}
}
