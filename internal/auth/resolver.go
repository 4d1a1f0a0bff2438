// Package auth implements the Auth Resolver (component D): maps an
// inbound bearer credential to a ledger row, redeeming a fresh ecash token
// on first sight. Grounded in routstr/auth.py (pay_for_request's key
// resolution branch).
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"routstr/internal/cashu"
	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/internal/lnurl"
	"routstr/pkg/cache"

	"github.com/google/uuid"
)

var (
	// ErrMissingCredential is returned when the bearer is empty (spec §4.D.1).
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrUnknownKey is returned for an sk- bearer with no matching row (spec §4.D.2).
	ErrUnknownKey = errors.New("auth: unknown key")
	// ErrUnrecognizedCredential is returned for a bearer that is neither sk- nor cashu (spec §4.D.4).
	ErrUnrecognizedCredential = errors.New("auth: unrecognized credential format")
	// ErrExpiryWithoutRefundAddress is returned when Key-Expiry-Time is set
	// without a refund address, per spec §4.D's "Expiry without refund
	// address is rejected (400)".
	ErrExpiryWithoutRefundAddress = errors.New("auth: key expiry requires a refund address")
	// ErrInvalidRefundAddress is returned when Refund-LNURL is set but is
	// neither a Lightning-Address nor an LNURL.
	ErrInvalidRefundAddress = errors.New("auth: refund address is not a valid LNURL or Lightning-Address")
	// ErrRedemptionTimeout is returned when a concurrent request is already
	// redeeming the same fresh token and does not finish crediting the
	// ledger row before redemptionWaitTimeout elapses.
	ErrRedemptionTimeout = errors.New("auth: token redemption by a concurrent request timed out")
)

const (
	// redemptionLockTTL bounds how long one request may hold the per-token
	// redemption lock; it must comfortably outlast a mint round trip.
	redemptionLockTTL      = 20 * time.Second
	redemptionPollInterval = 50 * time.Millisecond
	redemptionWaitTimeout  = 10 * time.Second
)

const (
	skPrefix    = "sk-"
	cashuPrefix = "cashu"
)

// Resolver maps bearer credentials to ledger rows (spec §4.D).
type Resolver struct {
	ledger *ledger.Ledger
	wallet cashu.Wallet
}

func NewResolver(l *ledger.Ledger, w cashu.Wallet) *Resolver {
	return &Resolver{ledger: l, wallet: w}
}

// RequestHeaders bundles the optional per-request headers spec §4.D and §6
// name: Refund-LNURL and Key-Expiry-Time, applied on first sight and on
// subsequent explicit updates.
type RequestHeaders struct {
	RefundLNURL   *string
	KeyExpiryTime *int64
}

// Resolve implements spec §4.D's full branch: sk- lookup, idempotent cashu
// token redemption (creating a row on first sight), or rejection.
func (r *Resolver) Resolve(ctx context.Context, bearer string, headers RequestHeaders) (*database.Key, error) {
	if headers.KeyExpiryTime != nil && headers.RefundLNURL == nil {
		return nil, ErrExpiryWithoutRefundAddress
	}
	if headers.RefundLNURL != nil && !lnurl.IsValidRefundAddress(*headers.RefundLNURL) {
		return nil, ErrInvalidRefundAddress
	}

	switch {
	case bearer == "":
		return nil, ErrMissingCredential

	case strings.HasPrefix(bearer, skPrefix):
		hashedKey := strings.TrimPrefix(bearer, skPrefix)
		key, err := r.ledger.Get(ctx, hashedKey)
		if err != nil {
			if errors.Is(err, database.ErrKeyNotFound) {
				return nil, ErrUnknownKey
			}
			return nil, err
		}
		if err := r.applyHeaders(ctx, hashedKey, headers); err != nil {
			return nil, err
		}
		return r.ledger.Get(ctx, hashedKey)

	case strings.HasPrefix(bearer, cashuPrefix):
		return r.resolveToken(ctx, bearer, headers)

	default:
		return nil, ErrUnrecognizedCredential
	}
}

// resolveToken implements spec §4.D.3: idempotent redemption of a fresh
// ecash token, creating the ledger row on first sight only. A per-token
// Redis lock serializes concurrent requests bearing the same token so a
// second request waits for the first's credit instead of observing the
// zero-balance row the first request's Create leaves momentarily.
func (r *Resolver) resolveToken(ctx context.Context, token string, headers RequestHeaders) (*database.Key, error) {
	hashedKey := ledger.HashCredential(token)

	if existing, err := r.ledger.Get(ctx, hashedKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrKeyNotFound) {
		return nil, err
	}

	lockKey := "redeem:" + hashedKey
	lockToken := uuid.NewString()
	acquired, err := cache.SetNX(ctx, lockKey, lockToken, redemptionLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return r.waitForRedemption(ctx, hashedKey)
	}
	defer cache.CompareAndDelete(context.WithoutCancel(ctx), lockKey, lockToken)

	// Redeem before creating the row: a non-trusted mint has already been
	// swapped to the primary mint by the wallet layer by the time
	// ReceiveToken returns, so refund_mint can be set to the settled mint
	// directly (spec §4.D.3.c) instead of defaulting to nil and being
	// patched in afterward.
	amount, unit, mintURL, err := r.wallet.ReceiveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	createParams := ledger.CreateParams{
		HashedKey:  hashedKey,
		RefundUnit: database.UnitSat,
		RefundMint: &mintURL,
	}
	if headers.RefundLNURL != nil {
		createParams.RefundAddress = headers.RefundLNURL
	}
	if headers.KeyExpiryTime != nil {
		createParams.KeyExpiryTime = headers.KeyExpiryTime
	}

	if err := r.ledger.Create(ctx, createParams); err != nil {
		if errors.Is(err, database.ErrKeyExists) {
			return r.waitForRedemption(ctx, hashedKey)
		}
		return nil, err
	}

	deltaMsats := amount
	if unit == "sat" {
		deltaMsats = amount * 1000
	}
	if err := r.ledger.Credit(ctx, hashedKey, deltaMsats); err != nil {
		return nil, err
	}

	return r.ledger.Get(ctx, hashedKey)
}

// waitForRedemption polls the ledger row for a token another request is
// already redeeming, returning as soon as its credit lands.
func (r *Resolver) waitForRedemption(ctx context.Context, hashedKey string) (*database.Key, error) {
	deadline := time.Now().Add(redemptionWaitTimeout)
	for {
		key, err := r.ledger.Get(ctx, hashedKey)
		if err == nil && key.Balance > 0 {
			return key, nil
		}
		if err != nil && !errors.Is(err, database.ErrKeyNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrRedemptionTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redemptionPollInterval):
		}
	}
}

func (r *Resolver) applyHeaders(ctx context.Context, hashedKey string, headers RequestHeaders) error {
	if headers.RefundLNURL == nil && headers.KeyExpiryTime == nil {
		return nil
	}
	return r.ledger.UpdateRefundInfo(ctx, hashedKey, headers.RefundLNURL, headers.KeyExpiryTime)
}
