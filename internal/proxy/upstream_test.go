package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHopByHop(t *testing.T) {
	assert.True(t, isHopByHop("Authorization"))
	assert.True(t, isHopByHop("connection"))
	assert.True(t, isHopByHop("X-Cashu"))
	assert.False(t, isHopByHop("Content-Type"))
	assert.False(t, isHopByHop("X-Request-Id"))
}

func TestStripV1Prefix(t *testing.T) {
	assert.Equal(t, "/chat/completions", stripV1Prefix("/v1/chat/completions"))
	assert.Equal(t, "/", stripV1Prefix("/v1"))
	assert.Equal(t, "/models", stripV1Prefix("/models"))
}

func TestSanitizeResponseHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type": {"application/json"},
		"Connection":   {"keep-alive"},
		"Authorization": {"Bearer upstream-secret"},
	}
	dst := http.Header{}
	sanitizeResponseHeaders(dst, src)

	assert.Equal(t, "application/json", dst.Get("Content-Type"))
	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get("Authorization"))
}
