package audit

import (
	"context"
	"encoding/json"
	"testing"

	"routstr/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamPublisher struct {
	declaredStream string
	declaredGroup  string
	published      [][]byte
}

func (f *fakeStreamPublisher) DeclareStream(ctx context.Context, stream, group string) error {
	f.declaredStream = stream
	f.declaredGroup = group
	return nil
}

func (f *fakeStreamPublisher) Publish(ctx context.Context, stream string, data []byte) (string, error) {
	f.published = append(f.published, data)
	return "1-0", nil
}

func TestPublisher_Declare(t *testing.T) {
	fake := &fakeStreamPublisher{}
	p := NewPublisher(fake)

	require.NoError(t, p.Declare(context.Background()))
	assert.Equal(t, StreamName, fake.declaredStream)
	assert.Equal(t, GroupName, fake.declaredGroup)
}

func TestPublisher_PublishLedgerMutation(t *testing.T) {
	fake := &fakeStreamPublisher{}
	p := NewPublisher(fake)

	p.PublishLedgerMutation(context.Background(), ledger.Mutation{
		HashedKey: "abc123",
		Op:        "reserve",
		Msats:     5000,
	})

	require.Len(t, fake.published, 1)
	var decoded event
	require.NoError(t, json.Unmarshal(fake.published[0], &decoded))
	assert.Equal(t, "abc123", decoded.HashedKey)
	assert.Equal(t, "reserve", decoded.Op)
	assert.Equal(t, int64(5000), decoded.Msats)
}
