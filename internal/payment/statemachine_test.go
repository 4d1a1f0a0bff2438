//go:build integration

package payment

import (
	"context"
	"testing"

	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/internal/pricing"
	"routstr/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func setupMachine(t *testing.T) (*Machine, *database.DB, *ledger.Ledger) {
	t.Helper()
	db := database.SetupTestDB(t)
	keyRepo := database.NewKeyRepository(db)
	l := ledger.New(keyRepo)

	settingsRepo := database.NewSettingsRepository(db)
	ctx := context.Background()
	require.NoError(t, settingsRepo.EnsureDefaults(ctx, database.Settings{
		FixedPricing:        true,
		FixedCostPerRequest: 10, // 10 sats = 10,000 msats
		ExchangeFee:         1.005,
		UpstreamProviderFee: 1.05,
	}))

	catalog := pricing.NewCatalog(database.NewModelRepository(db), settingsRepo, nil)
	require.NoError(t, catalog.Load(ctx))

	return New(l, catalog), db, l
}

func TestReserve_AdmitsExactBalance(t *testing.T) {
	m, db, l := setupMachine(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	hashedKey := "scenario3key"
	require.NoError(t, l.Create(ctx, ledger.CreateParams{HashedKey: hashedKey}))
	require.NoError(t, l.Credit(ctx, hashedKey, 10_000))

	res, err := m.Reserve(ctx, hashedKey, "any-model", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), res.ReservedMsats)

	key, err := l.Get(ctx, hashedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), key.Balance)
	assert.Equal(t, int64(10_000), key.ReservedBalance)
}

func TestReserve_RejectsOneMsatShort(t *testing.T) {
	m, db, l := setupMachine(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	hashedKey := "scenario2key"
	require.NoError(t, l.Create(ctx, ledger.CreateParams{HashedKey: hashedKey}))
	require.NoError(t, l.Credit(ctx, hashedKey, 9_999))

	_, err := m.Reserve(ctx, hashedKey, "any-model", 0)
	assert.True(t, IsInsufficientBalance(err))

	key, err := l.Get(ctx, hashedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(9_999), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
}

func TestFinalizeAtMax_ChargesFullReservation(t *testing.T) {
	m, db, l := setupMachine(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	hashedKey := "scenario4key"
	require.NoError(t, l.Create(ctx, ledger.CreateParams{HashedKey: hashedKey}))
	require.NoError(t, l.Credit(ctx, hashedKey, 1_000_000))

	res, err := m.Reserve(ctx, hashedKey, "any-model", 0)
	require.NoError(t, err)

	require.NoError(t, m.FinalizeAtMax(ctx, res))

	key, err := l.Get(ctx, hashedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(990_000), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
	assert.Equal(t, int64(10_000), key.TotalSpent)
}

func TestRevert_RestoresReservationAndRequestCount(t *testing.T) {
	m, db, l := setupMachine(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	hashedKey := "scenario5key"
	require.NoError(t, l.Create(ctx, ledger.CreateParams{HashedKey: hashedKey}))
	require.NoError(t, l.Credit(ctx, hashedKey, 1_000_000))

	res, err := m.Reserve(ctx, hashedKey, "any-model", 0)
	require.NoError(t, err)

	require.NoError(t, m.Revert(ctx, res))

	key, err := l.Get(ctx, hashedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
	assert.Equal(t, int64(0), key.TotalRequests)
}
