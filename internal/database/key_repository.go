package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrKeyNotFound is returned when a ledger row is not found.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned when Create collides with an existing hashed_key.
	ErrKeyExists = errors.New("key already exists")
)

// KeyRepository handles all database operations for the balance ledger
// (component C). Every mutation is expressed as a single conditional
// UPDATE whose rowcount is inspected, never a read-modify-write pair —
// see spec §4.C and §9's "naive read-modify-write will regress" note.
type KeyRepository struct {
	db *pgxpool.Pool
}

func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db.pool}
}

const keyColumns = `hashed_key, balance, reserved_balance, total_spent, total_requests,
	refund_address, refund_unit, refund_mint, key_expiry_time, created_at`

func scanKey(row pgx.Row) (*Key, error) {
	var k Key
	err := row.Scan(
		&k.HashedKey,
		&k.Balance,
		&k.ReservedBalance,
		&k.TotalSpent,
		&k.TotalRequests,
		&k.RefundAddress,
		&k.RefundUnit,
		&k.RefundMint,
		&k.KeyExpiryTime,
		&k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &k, nil
}

// Create inserts a new ledger row with zero balances (spec §4.D step 3.a).
func (r *KeyRepository) Create(ctx context.Context, k *Key) error {
	query := `INSERT INTO api_keys (` + keyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		k.HashedKey, k.Balance, k.ReservedBalance, k.TotalSpent, k.TotalRequests,
		k.RefundAddress, k.RefundUnit, k.RefundMint, k.KeyExpiryTime, k.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// GetByHashedKey retrieves a ledger row by its primary key.
func (r *KeyRepository) GetByHashedKey(ctx context.Context, hashedKey string) (*Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE hashed_key = $1`
	k, err := scanKey(r.db.QueryRow(ctx, query, hashedKey))
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to get key %s: %w", hashedKey, err)
	}
	return k, err
}

// Credit adds deltaMsats to balance unconditionally. Used on first token
// redemption and on topup; deltaMsats must be non-negative.
func (r *KeyRepository) Credit(ctx context.Context, hashedKey string, deltaMsats int64) error {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET balance = balance + $2 WHERE hashed_key = $1`,
		hashedKey, deltaMsats,
	)
	if err != nil {
		return fmt.Errorf("failed to credit key %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Reserve is the admission primitive (spec §4.C, §4.F): atomically checks
// balance >= amountMsats and, if so, moves amountMsats from balance into
// reserved_balance and bumps total_requests. Returns admitted=false (not
// an error) when the guard fails to a concurrent depletion — callers MUST
// treat that as 402, not retry.
func (r *KeyRepository) Reserve(ctx context.Context, hashedKey string, amountMsats int64) (admitted bool, err error) {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE api_keys
			SET balance = balance - $2,
				reserved_balance = reserved_balance + $2,
				total_requests = total_requests + 1
			WHERE hashed_key = $1 AND balance >= $2`,
		hashedKey, amountMsats,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve for key %s: %w", hashedKey, err)
	}
	return commandTag.RowsAffected() > 0, nil
}

// Finalize is the terminal-success primitive (spec §4.C, §4.F): releases
// the reservation, restores the uncharged remainder, and records actual
// spend. No guard is needed — the funds were already set aside at Reserve.
func (r *KeyRepository) Finalize(ctx context.Context, hashedKey string, reservedMsats, actualMsats int64) error {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE api_keys
			SET reserved_balance = reserved_balance - $2,
				balance = balance + ($2 - $3),
				total_spent = total_spent + $3
			WHERE hashed_key = $1`,
		hashedKey, reservedMsats, actualMsats,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize key %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Revert is the terminal-failure primitive (spec §4.C, §4.F): restores
// exactly what Reserve consumed and rolls back the request count.
func (r *KeyRepository) Revert(ctx context.Context, hashedKey string, reservedMsats int64) error {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE api_keys
			SET reserved_balance = reserved_balance - $2,
				balance = balance + $2,
				total_requests = total_requests - 1
			WHERE hashed_key = $1`,
		hashedKey, reservedMsats,
	)
	if err != nil {
		return fmt.Errorf("failed to revert key %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// UpdateRefundInfo applies optional Refund-LNURL/Key-Expiry-Time headers
// (spec §4.D), preserving existing values when nil is passed.
func (r *KeyRepository) UpdateRefundInfo(ctx context.Context, hashedKey string, refundAddress *string, keyExpiryTime *int64) error {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE api_keys
			SET refund_address = COALESCE($2, refund_address),
				key_expiry_time = COALESCE($3, key_expiry_time)
			WHERE hashed_key = $1`,
		hashedKey, refundAddress, keyExpiryTime,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund info for key %s: %w", hashedKey, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Drain reads and deletes a row atomically in one transaction, returning
// the balance it held immediately before deletion. Used by the refund
// endpoint (spec §4.H): only called after the outgoing payment already
// succeeded, never before.
func (r *KeyRepository) Drain(ctx context.Context, hashedKey string) (*Key, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin drain transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE hashed_key = $1 FOR UPDATE`
	k, err := scanKey(tx.QueryRow(ctx, query, hashedKey))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM api_keys WHERE hashed_key = $1`, hashedKey); err != nil {
		return nil, fmt.Errorf("failed to delete key %s: %w", hashedKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit drain transaction: %w", err)
	}
	return k, nil
}

// Delete removes a row unconditionally. The token-redemption path does not
// call it: the resolver redeems the token before it creates the row.
func (r *KeyRepository) Delete(ctx context.Context, hashedKey string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM api_keys WHERE hashed_key = $1`, hashedKey)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", hashedKey, err)
	}
	return nil
}

// SumBalances returns the aggregate user-owned balance across all keys,
// the subtrahend the payout worker uses to compute treasury surplus
// (spec §4.H).
func (r *KeyRepository) SumBalances(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(balance + reserved_balance), 0) FROM api_keys`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}
