// Package ledger is the Key/Balance Ledger (component C): it wraps
// database.KeyRepository with the hashing convention and the
// reserve/finalize/revert vocabulary the rest of the system calls by name,
// keeping the "conditional UPDATE, inspect rowcount" discipline spec §4.C
// requires out of every other package's hands.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"routstr/internal/database"
)

// ErrInsufficientBalance is returned by Reserve when the guarded UPDATE
// affects zero rows — either the balance was too low to begin with, or a
// concurrent request depleted it between read and write (spec §4.F,
// scenario 6). Callers MUST treat this as a 402, never retry.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// HashCredential returns the lowercase hex SHA-256 digest used as the
// primary key for both sk- keys and raw cashu tokens (spec §3, §4.D).
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Mutation describes one ledger write, for the audit stream the
// application layer may attach via SetAuditSink.
type Mutation struct {
	HashedKey string
	Op        string // "create" | "credit" | "reserve" | "finalize" | "revert" | "drain"
	Msats     int64
}

// AuditSink receives a Mutation after it has been committed. Publish
// errors are logged by the sink itself and never fail the caller's
// request; the audit stream is observability, not a transaction
// participant.
type AuditSink interface {
	PublishLedgerMutation(ctx context.Context, m Mutation)
}

// Ledger is the process-wide handle onto the api_keys table.
type Ledger struct {
	repo  *database.KeyRepository
	audit AuditSink
}

func New(repo *database.KeyRepository) *Ledger {
	return &Ledger{repo: repo}
}

// SetAuditSink attaches an audit stream publisher. Optional: a Ledger
// with none set simply doesn't publish.
func (l *Ledger) SetAuditSink(sink AuditSink) {
	l.audit = sink
}

func (l *Ledger) publish(ctx context.Context, hashedKey, op string, msats int64) {
	if l.audit == nil {
		return
	}
	l.audit.PublishLedgerMutation(ctx, Mutation{HashedKey: hashedKey, Op: op, Msats: msats})
}

// Get returns the row for hashedKey, or database.ErrKeyNotFound.
func (l *Ledger) Get(ctx context.Context, hashedKey string) (*database.Key, error) {
	return l.repo.GetByHashedKey(ctx, hashedKey)
}

// CreateParams bundles the optional refund fields a new row may carry.
type CreateParams struct {
	HashedKey     string
	RefundAddress *string
	RefundUnit    database.RefundUnit
	RefundMint    *string
	KeyExpiryTime *int64
}

// Create inserts a zero-balance row (spec §4.D step 3.a). Returns
// database.ErrKeyExists if hashedKey is already taken.
func (l *Ledger) Create(ctx context.Context, p CreateParams) error {
	unit := p.RefundUnit
	if unit == "" {
		unit = database.UnitSat
	}
	if err := l.repo.Create(ctx, &database.Key{
		HashedKey:     p.HashedKey,
		RefundAddress: p.RefundAddress,
		RefundUnit:    unit,
		RefundMint:    p.RefundMint,
		KeyExpiryTime: p.KeyExpiryTime,
		CreatedAt:     time.Now(),
	}); err != nil {
		return err
	}
	l.publish(ctx, p.HashedKey, "create", 0)
	return nil
}

// Delete removes a row unconditionally (spec §4.D step 3.b rollback path).
func (l *Ledger) Delete(ctx context.Context, hashedKey string) error {
	return l.repo.Delete(ctx, hashedKey)
}

// Credit adds deltaMsats to balance unconditionally (first redemption, topup).
func (l *Ledger) Credit(ctx context.Context, hashedKey string, deltaMsats int64) error {
	if err := l.repo.Credit(ctx, hashedKey, deltaMsats); err != nil {
		return err
	}
	l.publish(ctx, hashedKey, "credit", deltaMsats)
	return nil
}

// UpdateRefundInfo applies the optional Refund-LNURL/Key-Expiry-Time
// request-scoped headers (spec §4.D).
func (l *Ledger) UpdateRefundInfo(ctx context.Context, hashedKey string, refundAddress *string, keyExpiryTime *int64) error {
	return l.repo.UpdateRefundInfo(ctx, hashedKey, refundAddress, keyExpiryTime)
}

// Reserve is the admission primitive (spec §4.F "reserve"): atomically
// moves amountMsats from balance into reserved_balance. Returns
// ErrInsufficientBalance rather than mutating anything when the guard fails.
func (l *Ledger) Reserve(ctx context.Context, hashedKey string, amountMsats int64) error {
	admitted, err := l.repo.Reserve(ctx, hashedKey, amountMsats)
	if err != nil {
		return err
	}
	if !admitted {
		return ErrInsufficientBalance
	}
	l.publish(ctx, hashedKey, "reserve", amountMsats)
	return nil
}

// Finalize releases a reservation and records actual spend (spec §4.F
// "finalize"): reserved -= reservedMsats; balance += (reservedMsats -
// actualMsats); total_spent += actualMsats. actualMsats may equal
// reservedMsats (finalize-at-max, e.g. usage never observed).
func (l *Ledger) Finalize(ctx context.Context, hashedKey string, reservedMsats, actualMsats int64) error {
	if err := l.repo.Finalize(ctx, hashedKey, reservedMsats, actualMsats); err != nil {
		return err
	}
	l.publish(ctx, hashedKey, "finalize", actualMsats)
	return nil
}

// Revert undoes a reservation entirely on upstream failure (spec §4.F
// "revert"): reserved -= reservedMsats; balance += reservedMsats;
// total_requests -= 1.
func (l *Ledger) Revert(ctx context.Context, hashedKey string, reservedMsats int64) error {
	if err := l.repo.Revert(ctx, hashedKey, reservedMsats); err != nil {
		return err
	}
	l.publish(ctx, hashedKey, "revert", reservedMsats)
	return nil
}

// Drain atomically reads and deletes a row, returning the balance it held
// (spec §4.C "drain"). Used only by the refund endpoint, after the
// outgoing payment has already succeeded.
func (l *Ledger) Drain(ctx context.Context, hashedKey string) (*database.Key, error) {
	key, err := l.repo.Drain(ctx, hashedKey)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, hashedKey, "drain", key.Balance)
	return key, nil
}

// SumUserBalances returns the aggregate balance owed to users, the
// subtrahend the payout worker subtracts from wallet proofs (spec §4.H).
func (l *Ledger) SumUserBalances(ctx context.Context) (int64, error) {
	return l.repo.SumBalances(ctx)
}
