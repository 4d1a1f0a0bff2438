//go:build integration

package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"routstr/internal/auth"
	"routstr/internal/cashu"
	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/internal/payment"
	"routstr/internal/pricing"
	"routstr/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

// setupServer wires a Server the way cmd/api/main.go does, backed by a real
// test database and a fixed-pricing catalog so Reserve/Finalize never need
// a live exchange-rate oracle or a seeded model row.
func setupServer(t *testing.T, upstreamURL string) (*Server, *database.DB, *ledger.Ledger) {
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

	wallet, err := cashu.NewGateway([]string{"https://mint.example"})
	require.NoError(t, err)

	resolver := auth.NewResolver(l, wallet)
	machine := payment.New(l, catalog)

	server := NewServer(resolver, machine, catalog, l, wallet, Config{UpstreamBaseURL: upstreamURL})
	return server, db, l
}

func seedKey(t *testing.T, l *ledger.Ledger, hashedKey string, balanceMsats int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Create(ctx, ledger.CreateParams{HashedKey: hashedKey}))
	if balanceMsats > 0 {
		require.NoError(t, l.Credit(ctx, hashedKey, balanceMsats))
	}
}

func TestHandleProxy_NonStreamingFinalizesAtMaxWhenNoUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "chatcmpl-1", "model": "gpt-x"})
	}))
	defer upstream.Close()

	server, db, l := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	seedKey(t, l, "proxykey1", 1_000_000)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-proxykey1")
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	costObj, ok := body["cost"].(map[string]any)
	require.True(t, ok, "expected injected cost object, got %s", rec.Body.String())
	assert.Equal(t, float64(10_000), costObj["total_msats"])

	key, err := l.Get(context.Background(), "proxykey1")
	require.NoError(t, err)
	assert.Equal(t, int64(990_000), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
}

func TestHandleProxy_InsufficientBalanceRejectedWithoutReservation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached when admission is rejected")
	}))
	defer upstream.Close()

	server, db, l := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	seedKey(t, l, "proxykey2", 9_999) // one msat short of the 10,000 msat max cost

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-proxykey2")
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	key, err := l.Get(context.Background(), "proxykey2")
	require.NoError(t, err)
	assert.Equal(t, int64(9_999), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
}

func TestHandleProxy_UpstreamNon2xxRevertsReservation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "upstream model overloaded"})
	}))
	defer upstream.Close()

	server, db, l := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	seedKey(t, l, "proxykey3", 1_000_000)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-proxykey3")
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	key, err := l.Get(context.Background(), "proxykey3")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), key.Balance)
	assert.Equal(t, int64(0), key.ReservedBalance)
}

func TestHandleProxy_MissingCredentialRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached without a credential")
	}))
	defer upstream.Close()

	server, db, _ := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleBalanceInfo_ReturnsCurrentBalance(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	server, db, l := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	seedKey(t, l, "proxykey4", 42_000)

	req := httptest.NewRequest(http.MethodGet, "/v1/balance/info", nil)
	req.Header.Set("Authorization", "Bearer sk-proxykey4")
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body balanceInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sk-proxykey4", body.APIKey)
	assert.Equal(t, int64(42_000), body.Balance)
}

func TestHandleProxy_GETPassesThroughUnbilled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/modelsx", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []string{}})
	}))
	defer upstream.Close()

	server, db, _ := setupServer(t, upstream.URL)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	req := httptest.NewRequest(http.MethodGet, "/v1/modelsx", nil)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data"`)
}
