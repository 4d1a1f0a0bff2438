// Package audit publishes ledger mutations onto a Redis stream for
// offline reconciliation, wiring the teacher's pkg/queue (unused by the
// payment domain otherwise) to a real caller: every balance/reserved
// change spec §4.C/§4.F makes is a fact worth replaying outside the DB.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"routstr/internal/ledger"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

const (
	StreamName = "ledger_mutations"
	GroupName  = "ledger_mutations_consumers"
)

// streamPublisher is the slice of *queue.StreamQueue this package needs,
// named here so tests can substitute a fake instead of a live Redis client.
type streamPublisher interface {
	DeclareStream(ctx context.Context, stream, group string) error
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// Publisher adapts a StreamQueue to ledger.AuditSink.
type Publisher struct {
	queue streamPublisher
}

func NewPublisher(q streamPublisher) *Publisher {
	return &Publisher{queue: q}
}

// Declare ensures the consumer group exists; call once at startup before
// any worker calls Consume on this stream.
func (p *Publisher) Declare(ctx context.Context) error {
	return p.queue.DeclareStream(ctx, StreamName, GroupName)
}

type event struct {
	HashedKey string `json:"hashed_key"`
	Op        string `json:"op"`
	Msats     int64  `json:"msats"`
	At        int64  `json:"at"`
}

// PublishLedgerMutation implements ledger.AuditSink. Failures are logged,
// not returned: the audit stream never blocks or fails the request that
// produced the mutation.
func (p *Publisher) PublishLedgerMutation(ctx context.Context, m ledger.Mutation) {
	payload, err := json.Marshal(event{
		HashedKey: m.HashedKey,
		Op:        m.Op,
		Msats:     m.Msats,
		At:        time.Now().Unix(),
	})
	if err != nil {
		logger.Error("failed to marshal ledger mutation for audit stream", zap.Error(err))
		return
	}
	if _, err := p.queue.Publish(ctx, StreamName, payload); err != nil {
		logger.Error("failed to publish ledger mutation to audit stream", zap.Error(err))
	}
}
