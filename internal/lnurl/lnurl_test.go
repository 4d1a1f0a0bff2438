package lnurl

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_LightningAddress(t *testing.T) {
	url, err := Decode("satoshi@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/.well-known/lnurlp/satoshi", url)
}

func TestDecode_LightningPrefix(t *testing.T) {
	url, err := Decode("lightning:satoshi@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/.well-known/lnurlp/satoshi", url)
}

func TestDecode_DirectHTTPS(t *testing.T) {
	url, err := Decode("https://example.com/lnurlp/satoshi")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/lnurlp/satoshi", url)
}

func TestDecode_Bech32(t *testing.T) {
	target := "https://example.com/.well-known/lnurlp/satoshi"
	converted, err := bech32.ConvertBits([]byte(target), 8, 5, true)
	require.NoError(t, err)
	encoded, err := bech32.Encode("lnurl", converted)
	require.NoError(t, err)

	url, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, target, url)
}

func TestDecode_InvalidTarget(t *testing.T) {
	_, err := Decode("not a valid lnurl target!!")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestEstimateFeeSat(t *testing.T) {
	assert.Equal(t, int64(2), EstimateFeeSat(10))   // floor applies
	assert.Equal(t, int64(2), EstimateFeeSat(100))  // 1% = 1, floor to 2
	assert.Equal(t, int64(10), EstimateFeeSat(1000)) // 1% = 10
	assert.Equal(t, int64(101), EstimateFeeSat(10050)) // ceil(100.5) = 101
}
