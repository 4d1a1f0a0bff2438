package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundCache_PutThenGet(t *testing.T) {
	c := newRefundCache(time.Minute)

	resp := refundResponse{Token: "cashuAabc", Sats: 100}
	c.Put("hash1", resp)

	got, ok := c.Get("hash1")
	require.True(t, ok)
	assert.Equal(t, resp, got)
}

func TestRefundCache_MissReturnsFalse(t *testing.T) {
	c := newRefundCache(time.Minute)
	_, ok := c.Get("unknown")
	assert.False(t, ok)
}

func TestRefundCache_ExpiredEntryIsEvicted(t *testing.T) {
	c := newRefundCache(time.Millisecond)
	c.Put("hash1", refundResponse{Token: "cashuAabc"})

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("hash1")
	assert.False(t, ok)
}

func TestRefundCache_EntriesAreEncryptedAtRest(t *testing.T) {
	c := newRefundCache(time.Minute)
	c.Put("hash1", refundResponse{Token: "cashuAsecrettoken"})

	c.mu.Lock()
	entry := c.entries["hash1"]
	c.mu.Unlock()

	assert.NotContains(t, entry.sealed, "cashuAsecrettoken")
}
