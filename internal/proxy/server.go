package proxy

import (
	"net/http"
	"strings"
	"time"

	"routstr/internal/auth"
	"routstr/internal/cashu"
	"routstr/internal/ledger"
	"routstr/internal/payment"
	"routstr/internal/pricing"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

// Server wires together every component the Proxy Engine delegates to
// (spec §2's data-flow row: G -> D -> E(pre) -> F.reserve -> upstream ->
// F.finalize -> client).
type Server struct {
	resolver   *auth.Resolver
	machine    *payment.Machine
	catalog    *pricing.Catalog
	ledger     *ledger.Ledger
	wallet     *cashu.Gateway
	upstream   *upstreamClient
	corsOrigins []string
	refundCache *refundCache
	adminPassword string
}

// Config bundles the settings Server needs beyond its component handles.
type Config struct {
	UpstreamBaseURL string
	UpstreamAPIKey  string
	CORSOrigins     []string
	RefundCacheTTL  time.Duration
	AdminPassword   string
}

func NewServer(resolver *auth.Resolver, machine *payment.Machine, catalog *pricing.Catalog, l *ledger.Ledger, wallet *cashu.Gateway, cfg Config) *Server {
	return &Server{
		resolver:      resolver,
		machine:       machine,
		catalog:       catalog,
		ledger:        l,
		wallet:        wallet,
		upstream:      newUpstreamClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey),
		corsOrigins:   cfg.CORSOrigins,
		refundCache:   newRefundCache(cfg.RefundCacheTTL),
		adminPassword: cfg.AdminPassword,
	}
}

// Routes builds the stdlib mux spec §6's HTTP surface describes. A plain
// net/http.ServeMux is enough here: the only routing feature this surface
// needs is longest-prefix dispatch to the catch-all proxy route, which
// ServeMux's trailing-slash pattern already provides.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	mux.HandleFunc("GET /v1/balance/info", s.handleBalanceInfo)
	mux.HandleFunc("GET /v1/balance/", s.handleBalanceInfo)
	mux.HandleFunc("POST /v1/balance/topup", s.handleTopup)
	mux.HandleFunc("POST /v1/balance/refund", s.handleRefund)

	// Aliases: /v1/wallet/* mirrors /v1/balance/* (spec §6).
	mux.HandleFunc("GET /v1/wallet/info", s.handleBalanceInfo)
	mux.HandleFunc("GET /v1/wallet/", s.handleBalanceInfo)
	mux.HandleFunc("POST /v1/wallet/topup", s.handleTopup)
	mux.HandleFunc("POST /v1/wallet/refund", s.handleRefund)

	mux.HandleFunc("GET /v1/admin/treasury", s.handleAdminTreasury)

	mux.HandleFunc("/", s.handleProxy)

	return s.withCORS(s.withRequestID(mux))
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := newRequestID()
		w.Header().Set("x-routstr-request-id", requestID)
		logger.Debug("request received",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if len(s.corsOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.corsOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Cashu, Refund-LNURL, Key-Expiry-Time")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerFromRequest extracts the Authorization: Bearer credential, per
// spec §6's auth header formats.
func bearerFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

func requestHeadersFrom(r *http.Request) auth.RequestHeaders {
	var h auth.RequestHeaders
	if v := r.Header.Get("Refund-LNURL"); v != "" {
		h.RefundLNURL = &v
	}
	if v := r.Header.Get("Key-Expiry-Time"); v != "" {
		if ts, err := parseUnixSeconds(v); err == nil {
			h.KeyExpiryTime = &ts
		}
	}
	return h
}
