package cashu

import (
	"context"
	"fmt"
	"math"
	"time"

	"routstr/internal/lnurl"
	"routstr/pkg/cache"

	"github.com/elnosh/gonuts/cashu"
	"github.com/google/uuid"
)

const (
	// swapLockTTL bounds how long one request may hold the per-mint swap
	// lock; it must comfortably outlast a melt/mint round trip.
	swapLockTTL         = 30 * time.Second
	swapLockRetryDelay  = 100 * time.Millisecond
	swapLockMaxAttempts = 50
)

// ReceiveToken redeems a serialized ecash token into the wallet scoped to
// its own mint/unit, then — if that mint is not in the trusted set —
// transparently swaps the proceeds to the primary mint via Lightning
// (spec §4.D step 3.c, §4.B "Foreign-mint swap"). Returns the amount
// credited and the unit/mint it now lives at: the token's own mint when
// that mint is trusted, the primary mint after a swap.
func (g *Gateway) ReceiveToken(ctx context.Context, token string) (int64, string, string, error) {
	decoded, err := cashu.DecodeToken(token)
	if err != nil {
		return 0, "", "", ErrInvalidToken
	}

	mintURL := decoded.Mint()
	unit := decoded.Unit().String()

	if len(decoded.Proofs()) == 0 {
		return 0, "", "", ErrInvalidToken
	}
	keysetID := decoded.Proofs()[0].Id
	for _, p := range decoded.Proofs() {
		if p.Id != keysetID {
			return 0, "", "", ErrMultipleKeysets
		}
	}

	if g.IsTrustedMint(mintURL) {
		w, err := g.getWallet(mintURL, unit)
		if err != nil {
			return 0, "", "", err
		}
		amount, err := w.Receive(*decoded, false)
		if err != nil {
			return 0, "", "", classifyReceiveError(err)
		}
		return int64(amount), unit, mintURL, nil
	}

	amount, swappedToken, err := g.SwapToPrimaryMint(ctx, token)
	if err != nil {
		return 0, "", "", err
	}
	_ = swappedToken // already deposited into the primary wallet by SwapToPrimaryMint
	return amount, unit, g.primaryMintURL, nil
}

// SwapToPrimaryMint redeems a foreign-mint token and re-deposits its value
// (minus a routing fee) at the primary mint, via a Lightning melt/mint
// round trip. Grounded in routstr/wallet.py's swap_to_primary_mint.
//
// The melt/mint pair is serialized across processes by a Redis lock keyed
// on the primary mint: two concurrent swaps both minting into the same
// primary wallet would otherwise race the mint's own keyset/proof state
// across replicas and within one process (g.mu guards only the wallet
// map, not the calls made on a wallet).
func (g *Gateway) SwapToPrimaryMint(ctx context.Context, token string) (int64, string, error) {
	decoded, err := cashu.DecodeToken(token)
	if err != nil {
		return 0, "", ErrInvalidToken
	}
	mintURL := decoded.Mint()
	unit := decoded.Unit().String()

	release, err := g.acquireSwapLock(ctx, g.primaryMintURL, unit)
	if err != nil {
		return 0, "", err
	}
	defer release()

	sourceWallet, err := g.getWallet(mintURL, unit)
	if err != nil {
		return 0, "", err
	}

	grossAmount, err := sourceWallet.Receive(*decoded, false)
	if err != nil {
		return 0, "", classifyReceiveError(err)
	}

	feeSat := lnurl.EstimateFeeSat(int64(grossAmount))
	netAmount := int64(grossAmount) - feeSat
	if netAmount <= 0 {
		return 0, "", fmt.Errorf("cashu: swap amount %d too small to cover routing fee %d", grossAmount, feeSat)
	}

	primaryWallet, err := g.getWallet(g.primaryMintURL, unit)
	if err != nil {
		return 0, "", err
	}

	mintQuote, err := primaryWallet.RequestMint(uint64(netAmount), cashu.Sat)
	if err != nil {
		return 0, "", fmt.Errorf("cashu: failed to request mint quote: %w", err)
	}

	meltQuote, err := sourceWallet.RequestMeltQuote(mintQuote.Request, cashu.Sat)
	if err != nil {
		return 0, "", fmt.Errorf("cashu: failed to request melt quote: %w", err)
	}

	if _, err := sourceWallet.Melt(meltQuote.Quote); err != nil {
		return 0, "", fmt.Errorf("cashu: melt to primary mint failed: %w", err)
	}

	proofs, err := primaryWallet.MintTokens(mintQuote.Quote)
	if err != nil {
		return 0, "", fmt.Errorf("cashu: mint at primary failed: %w", err)
	}

	receivedToken, err := cashu.NewTokenV4(proofs, g.primaryMintURL, cashu.Sat, false)
	if err != nil {
		return 0, "", fmt.Errorf("cashu: failed to serialize swapped token: %w", err)
	}
	serialized, err := receivedToken.Serialize()
	if err != nil {
		return 0, "", fmt.Errorf("cashu: failed to serialize swapped token: %w", err)
	}

	return netAmount, serialized, nil
}

// acquireSwapLock blocks until it holds the swap lock for mintURL/unit, or
// returns an error if ctx is canceled or the lock stays contended past
// swapLockMaxAttempts. The returned release func is always safe to call.
func (g *Gateway) acquireSwapLock(ctx context.Context, mintURL, unit string) (func(), error) {
	lockKey := "swap:" + mintURL + "_" + unit
	token := uuid.NewString()
	for attempt := 0; attempt < swapLockMaxAttempts; attempt++ {
		acquired, err := cache.SetNX(ctx, lockKey, token, swapLockTTL)
		if err != nil {
			return func() {}, err
		}
		if acquired {
			// Compare-and-delete so a release that fires after the TTL has
			// already expired can't steal a later request's lock on the
			// same key.
			return func() { _, _ = cache.CompareAndDelete(context.WithoutCancel(ctx), lockKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(swapLockRetryDelay):
		}
	}
	return func() {}, fmt.Errorf("cashu: timed out waiting for swap lock on %s", mintURL)
}

// SendToken mints a fresh serialized ecash token worth amount at mintURL
// (empty mintURL means the primary mint), used by the refund endpoint and
// by the X-Cashu unspent-remainder path (spec §4.H, SPEC_FULL §4).
func (g *Gateway) SendToken(ctx context.Context, amount int64, unit, mintURL string) (string, error) {
	if mintURL == "" {
		mintURL = g.primaryMintURL
	}

	w, err := g.getWallet(mintURL, unit)
	if err != nil {
		return "", err
	}

	proofs, err := w.Send(uint64(amount), mintURL, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	token, err := cashu.NewTokenV4(proofs, mintURL, cashu.Sat, false)
	if err != nil {
		return "", fmt.Errorf("cashu: failed to serialize token: %w", err)
	}
	return token.Serialize()
}

// SendToLNURL pays a decoded LNURL target amount in the wallet's unit,
// melting proofs to the invoice the LNURL callback returns. Grounded in
// routstr/wallet.py's send_to_lnurl/raw_send_to_lnurl.
func (g *Gateway) SendToLNURL(ctx context.Context, amount int64, unit, mintURL, target string) (int64, error) {
	if mintURL == "" {
		mintURL = g.primaryMintURL
	}

	url, err := lnurl.Decode(target)
	if err != nil {
		return 0, err
	}
	payReq, err := lnurl.FetchPayRequest(ctx, g.httpClient, url)
	if err != nil {
		return 0, err
	}

	amountMsat := amount
	if unit == "sat" {
		amountMsat = amount * 1000
	}

	feeSat := lnurl.EstimateFeeSat(amountMsat / 1000)
	payableMsat := amountMsat - feeSat*1000
	if payableMsat < payReq.MinSendable {
		return 0, lnurl.ErrAmountTooSmall
	}
	if payableMsat > payReq.MaxSendable {
		payableMsat = payReq.MaxSendable
	}

	invoice, err := lnurl.FetchInvoice(ctx, g.httpClient, payReq, payableMsat)
	if err != nil {
		return 0, err
	}

	decodedInv, err := lnurl.DecodeInvoice(invoice)
	if err != nil {
		return 0, err
	}
	if decodedInv.Expired {
		return 0, fmt.Errorf("lnurl: callback returned an already-expired invoice")
	}

	w, err := g.getWallet(mintURL, unit)
	if err != nil {
		return 0, err
	}

	meltQuote, err := w.RequestMeltQuote(invoice, cashu.Sat)
	if err != nil {
		return 0, fmt.Errorf("cashu: failed to request melt quote: %w", err)
	}
	if _, err := w.Melt(meltQuote.Quote); err != nil {
		return 0, fmt.Errorf("cashu: melt to lnurl target failed: %w", err)
	}

	paidSat := int64(math.Round(float64(payableMsat) / 1000))
	return paidSat, nil
}
