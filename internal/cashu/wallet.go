// Package cashu implements the Wallet Gateway (component B): it wraps a
// Cashu wallet library behind a narrow interface, redeems tokens, swaps
// foreign-mint tokens to the primary mint via Lightning, mints tokens to
// send, and pays LNURL targets. Grounded in routstr/wallet.py (get_wallet,
// recieve_token, swap_to_primary_mint, send, send_to_lnurl) and in the
// teacher's internal/lnd.Client — the same "wrap an external capability
// behind our own interface" shape, with github.com/elnosh/gonuts/wallet
// playing the role LND's gRPC client plays there.
package cashu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"routstr/internal/lnurl"

	gonutswallet "github.com/elnosh/gonuts/wallet"
)

var (
	ErrAlreadySpent    = errors.New("cashu: token already spent")
	ErrInvalidToken    = errors.New("cashu: invalid token format")
	ErrInsufficientBalance = errors.New("cashu: insufficient wallet balance")
	ErrMultipleKeysets = errors.New("cashu: token spans multiple keysets")
)

// Wallet is the contract named in spec §4.B. All operations are
// suspension points; the Gateway below keeps one wallet per (mint, unit),
// and its mutex guards only that map, not the calls made on a wallet.
type Wallet interface {
	GetBalance(ctx context.Context, unit string) (int64, error)
	ReceiveToken(ctx context.Context, token string) (amount int64, unit string, mintURL string, err error)
	SendToken(ctx context.Context, amount int64, unit, mintURL string) (token string, err error)
	SwapToPrimaryMint(ctx context.Context, token string) (amount int64, receivedToken string, err error)
	SendToLNURL(ctx context.Context, amount int64, unit, mintURL, target string) (paidAmount int64, err error)
}

// Gateway is the process-wide singleton-per-(mint,unit) wallet holder
// (spec §3 Ownership, §5 Shared-resource policy). It is the only thing
// in this package that other components depend on.
type Gateway struct {
	primaryMintURL string
	trustedMints   map[string]bool
	httpClient     *http.Client

	mu      sync.Mutex
	wallets map[string]*gonutswallet.Wallet // keyed by "<mintURL>_<unit>", mirrors wallet.py's _wallets
}

// NewGateway builds a Gateway. mints lists the operator's trusted mints,
// head is primary (spec §6: CASHU_MINTS, "head is primary").
func NewGateway(mints []string) (*Gateway, error) {
	if len(mints) == 0 {
		return nil, errors.New("cashu: at least one mint must be configured")
	}

	trusted := make(map[string]bool, len(mints))
	for _, m := range mints {
		trusted[m] = true
	}

	return &Gateway{
		primaryMintURL: mints[0],
		trustedMints:   trusted,
		httpClient:     lnurl.DefaultClient(),
		wallets:        make(map[string]*gonutswallet.Wallet),
	}, nil
}

func walletKey(mintURL, unit string) string {
	return mintURL + "_" + unit
}

// getWallet lazily creates and caches a wallet instance scoped to one
// (mint, unit) pair, mirroring wallet.py's get_wallet. Call sites hold the
// returned pointer only for the span of one operation — the gonuts
// Wallet type is itself safe for the single-flight use this gateway makes
// of it.
func (g *Gateway) getWallet(mintURL, unit string) (*gonutswallet.Wallet, error) {
	key := walletKey(mintURL, unit)

	g.mu.Lock()
	defer g.mu.Unlock()

	if w, ok := g.wallets[key]; ok {
		return w, nil
	}

	w, err := gonutswallet.LoadWallet(gonutswallet.Config{
		WalletPath: walletStoragePath(mintURL, unit),
		CurrentMintURL: mintURL,
		Unit:           unit,
	})
	if err != nil {
		return nil, fmt.Errorf("cashu: failed to load wallet for %s/%s: %w", mintURL, unit, err)
	}

	g.wallets[key] = w
	return w, nil
}

// walletStoragePath isolates each (mint, unit) wallet's local proof store,
// since gonuts persists proofs to disk per wallet instance.
func walletStoragePath(mintURL, unit string) string {
	return "data/cashu/" + sanitizeForPath(mintURL) + "_" + unit
}

func sanitizeForPath(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// GetBalance implements spec §4.B: returns the primary mint's wallet
// balance for unit, unit-denominated.
func (g *Gateway) GetBalance(ctx context.Context, unit string) (int64, error) {
	w, err := g.getWallet(g.primaryMintURL, unit)
	if err != nil {
		return 0, err
	}
	return int64(w.GetBalance()), nil
}

// IsTrustedMint reports whether mintURL is in the operator's trusted set
// (spec §4.D step 3.c).
func (g *Gateway) IsTrustedMint(mintURL string) bool {
	return g.trustedMints[mintURL]
}

// TrustedMints returns every mint the operator configured, for the payout
// worker's "for each trusted (mint, unit)" sweep (spec §4.H).
func (g *Gateway) TrustedMints() []string {
	mints := make([]string, 0, len(g.trustedMints))
	for m := range g.trustedMints {
		mints = append(mints, m)
	}
	return mints
}

// GetBalanceForMint is GetBalance generalized to any trusted mint, not
// just the primary, for the payout worker's per-mint treasury sum.
func (g *Gateway) GetBalanceForMint(ctx context.Context, mintURL, unit string) (int64, error) {
	w, err := g.getWallet(mintURL, unit)
	if err != nil {
		return 0, err
	}
	return int64(w.GetBalance()), nil
}

// PrimaryMintURL returns the head of CASHU_MINTS.
func (g *Gateway) PrimaryMintURL() string {
	return g.primaryMintURL
}

// classifyReceiveError maps the underlying library's error strings onto
// the "already spent" vs "invalid format" distinction spec §4.B requires
// callers be able to make (mirrors routstr/wallet.py's recieve_token
// exception handling).
func classifyReceiveError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already spent"), strings.Contains(msg, "proof already spent"):
		return ErrAlreadySpent
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"), strings.Contains(msg, "decode"):
		return ErrInvalidToken
	default:
		return err
	}
}
