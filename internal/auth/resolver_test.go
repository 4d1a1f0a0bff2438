//go:build integration

package auth

import (
	"context"
	"errors"
	"testing"

	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/pkg/cache"
	"routstr/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
	// resolveToken's per-token redemption lock needs a live Redis, same
	// instance/DB the rest of the integration suite uses.
	_ = cache.Init(cache.Config{Host: "localhost", Port: "6379", DB: 1})
}

// fakeWallet is a test double for cashu.Wallet, letting resolver tests
// exercise the redemption branch without a real mint.
type fakeWallet struct {
	receiveAmount int64
	receiveUnit   string
	receiveMint   string
	receiveErr    error
}

func (f *fakeWallet) GetBalance(ctx context.Context, unit string) (int64, error) { return 0, nil }

func (f *fakeWallet) ReceiveToken(ctx context.Context, token string) (int64, string, string, error) {
	if f.receiveErr != nil {
		return 0, "", "", f.receiveErr
	}
	return f.receiveAmount, f.receiveUnit, f.receiveMint, nil
}

func (f *fakeWallet) SendToken(ctx context.Context, amount int64, unit, mintURL string) (string, error) {
	return "", nil
}

func (f *fakeWallet) SwapToPrimaryMint(ctx context.Context, token string) (int64, string, error) {
	return 0, "", nil
}

func (f *fakeWallet) SendToLNURL(ctx context.Context, amount int64, unit, mintURL, target string) (int64, error) {
	return 0, nil
}

func setupResolver(t *testing.T, w *fakeWallet) (*Resolver, *database.DB) {
	t.Helper()
	db := database.SetupTestDB(t)
	repo := database.NewKeyRepository(db)
	return NewResolver(ledger.New(repo), w), db
}

func TestResolve_MissingBearer(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	_, err := r.Resolve(context.Background(), "", RequestHeaders{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestResolve_UnknownSkKey(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	_, err := r.Resolve(context.Background(), "sk-doesnotexist", RequestHeaders{})
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestResolve_UnrecognizedCredential(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	_, err := r.Resolve(context.Background(), "garbage", RequestHeaders{})
	assert.ErrorIs(t, err, ErrUnrecognizedCredential)
}

func TestResolve_ExpiryWithoutRefundAddressRejected(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	expiry := int64(1234567890)
	_, err := r.Resolve(context.Background(), "sk-whatever", RequestHeaders{KeyExpiryTime: &expiry})
	assert.ErrorIs(t, err, ErrExpiryWithoutRefundAddress)
}

func TestResolve_InvalidRefundAddressRejected(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	garbage := "not-an-lnurl-or-address"
	_, err := r.Resolve(context.Background(), "sk-whatever", RequestHeaders{RefundLNURL: &garbage})
	assert.ErrorIs(t, err, ErrInvalidRefundAddress)
}

func TestResolve_FreshCashuTokenCreatesKey(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{receiveAmount: 1000, receiveUnit: "sat", receiveMint: "https://mint.example"})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	key, err := r.Resolve(context.Background(), "cashuAfakeTokenForTest", RequestHeaders{})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
}

func TestResolve_RedemptionIsIdempotent(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{receiveAmount: 1000, receiveUnit: "sat", receiveMint: "https://mint.example"})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	token := "cashuAidempotentTestToken"
	first, err := r.Resolve(context.Background(), token, RequestHeaders{})
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), token, RequestHeaders{})
	require.NoError(t, err)

	assert.Equal(t, first.Balance, second.Balance)
	assert.Equal(t, int64(1_000_000), second.Balance)
}

func TestResolve_FailedRedemptionRollsBackRow(t *testing.T) {
	r, db := setupResolver(t, &fakeWallet{receiveErr: errors.New("token already spent")})
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	_, err := r.Resolve(context.Background(), "cashuAspentTokenForTest", RequestHeaders{})
	require.Error(t, err)

	hashedKey := ledger.HashCredential("cashuAspentTokenForTest")
	_, getErr := database.NewKeyRepository(db).GetByHashedKey(context.Background(), hashedKey)
	assert.ErrorIs(t, getErr, database.ErrKeyNotFound)
}
