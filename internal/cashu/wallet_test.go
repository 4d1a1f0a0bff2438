package cashu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGateway_RequiresAtLeastOneMint(t *testing.T) {
	_, err := NewGateway(nil)
	assert.Error(t, err)
}

func TestNewGateway_FirstMintIsPrimary(t *testing.T) {
	g, err := NewGateway([]string{"https://mint.a", "https://mint.b"})
	assert.NoError(t, err)
	assert.Equal(t, "https://mint.a", g.PrimaryMintURL())
}

func TestIsTrustedMint(t *testing.T) {
	g, err := NewGateway([]string{"https://mint.a", "https://mint.b"})
	assert.NoError(t, err)
	assert.True(t, g.IsTrustedMint("https://mint.a"))
	assert.True(t, g.IsTrustedMint("https://mint.b"))
	assert.False(t, g.IsTrustedMint("https://mint.c"))
}

func TestWalletKey(t *testing.T) {
	assert.Equal(t, "https://mint.a_sat", walletKey("https://mint.a", "sat"))
}

func TestSanitizeForPath(t *testing.T) {
	assert.Equal(t, "https___mint_a_8080", sanitizeForPath("https://mint.a:8080"))
}

func TestWalletStoragePath(t *testing.T) {
	got := walletStoragePath("https://mint.a", "sat")
	assert.Equal(t, "data/cashu/https___mint_a_sat", got)
}

func TestClassifyReceiveError(t *testing.T) {
	assert.Nil(t, classifyReceiveError(nil))
	assert.ErrorIs(t, classifyReceiveError(errors.New("proof already spent")), ErrAlreadySpent)
	assert.ErrorIs(t, classifyReceiveError(errors.New("token already spent")), ErrAlreadySpent)
	assert.ErrorIs(t, classifyReceiveError(errors.New("invalid proof")), ErrInvalidToken)
	assert.ErrorIs(t, classifyReceiveError(errors.New("malformed token")), ErrInvalidToken)

	other := errors.New("mint unreachable")
	assert.Equal(t, other, classifyReceiveError(other))
}
