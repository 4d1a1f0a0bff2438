package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashCredential_IsDeterministicAndHex(t *testing.T) {
	a := HashCredential("cashuAbc123")
	b := HashCredential("cashuAbc123")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := HashCredential("cashuDef456")
	assert.NotEqual(t, a, c)
}

func TestHashCredential_KnownVector(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashCredential(""))
}
