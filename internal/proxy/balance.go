package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"routstr/internal/auth"
	"routstr/internal/database"
	"routstr/internal/ledger"
	"routstr/pkg/cache"

	"github.com/google/uuid"
)

// refundLockTTL bounds how long one request may hold the per-bearer refund
// lock; it must comfortably outlast an LNURL payout or token reissue.
const refundLockTTL = 30 * time.Second

type balanceInfoResponse struct {
	APIKey  string `json:"api_key"`
	Balance int64  `json:"balance"`
}

// handleBalanceInfo implements spec §6's GET /v1/balance/info,
// /v1/balance/: {api_key: "sk-"+hashed_key, balance}.
func (s *Server) handleBalanceInfo(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("x-routstr-request-id")

	key, err := s.resolver.Resolve(r.Context(), bearerFromRequest(r), requestHeadersFrom(r))
	if err != nil {
		writeResolveError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(balanceInfoResponse{
		APIKey:  "sk-" + key.HashedKey,
		Balance: key.Balance,
	})
}

type topupRequest struct {
	CashuToken string `json:"cashu_token"`
}

type topupResponse struct {
	Msats int64 `json:"msats"`
}

// handleTopup implements spec §6's POST /v1/balance/topup: credits
// balance from a cashu_token given as a query param or JSON body.
// Resolving the bearer already performs first-sight redemption (spec
// §4.D.3), so this handler's job is just to accept the token as the
// credential and report the resulting balance delta.
func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("x-routstr-request-id")

	token := r.URL.Query().Get("cashu_token")
	if token == "" {
		var body topupRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeMalformed(w, requestID, "expected cashu_token as a query parameter or JSON body")
			return
		}
		token = body.CashuToken
	}
	if token == "" {
		writeMalformed(w, requestID, "missing cashu_token")
		return
	}

	hashedKey := ledger.HashCredential(token)
	preexisting, preErr := s.ledger.Get(r.Context(), hashedKey)
	hadRowBefore := preErr == nil

	key, err := s.resolver.Resolve(r.Context(), token, auth.RequestHeaders{})
	if err != nil {
		writeResolveError(w, requestID, err)
		return
	}

	delta := key.Balance
	if hadRowBefore {
		delta = key.Balance - preexisting.Balance
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(topupResponse{Msats: delta})
}

type refundResponse struct {
	Recipient string `json:"recipient,omitempty"`
	Token     string `json:"token,omitempty"`
	Sats      int64  `json:"sats,omitempty"`
	Msats     int64  `json:"msats,omitempty"`
}

// handleRefund implements spec §4.H's user refund: drains and deletes,
// paying out via LNURL if a refund_address is set, else reissuing ecash.
// An in-memory idempotency cache returns the prior response within TTL
// for a repeated request with the same bearer (spec §5).
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("x-routstr-request-id")
	bearer := bearerFromRequest(r)

	bearerHash := ledger.HashCredential(bearer)
	if cached, ok := s.refundCache.Get(bearerHash); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	// Serialize the balance-check-through-payout-through-Drain section per
	// bearer: without this, two concurrent refund requests for the same
	// bearer can both pass the balance check and both trigger a real
	// payout before either call to Drain empties the row.
	lockKey := "refund:" + bearerHash
	lockToken := uuid.NewString()
	acquired, err := cache.SetNX(r.Context(), lockKey, lockToken, refundLockTTL)
	if err != nil {
		writeInternalError(w, requestID, err)
		return
	}
	if !acquired {
		writeMintUnavailable(w, requestID, errors.New("proxy: a refund for this bearer is already in progress"))
		return
	}
	defer cache.CompareAndDelete(context.WithoutCancel(r.Context()), lockKey, lockToken)

	if cached, ok := s.refundCache.Get(bearerHash); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	key, err := s.resolver.Resolve(r.Context(), bearer, auth.RequestHeaders{})
	if err != nil {
		writeResolveError(w, requestID, err)
		return
	}
	if key.Balance <= 0 {
		writeMalformed(w, requestID, "balance must be greater than zero to refund")
		return
	}

	var resp refundResponse
	if key.RefundAddress != nil && *key.RefundAddress != "" {
		amountSat := key.Balance / 1000
		if key.RefundUnit == database.UnitMsat {
			amountSat = key.Balance
		}
		mint := ""
		if key.RefundMint != nil {
			mint = *key.RefundMint
		}
		paidSat, err := s.wallet.SendToLNURL(r.Context(), amountSat, string(key.RefundUnit), mint, *key.RefundAddress)
		if err != nil {
			writeMintUnavailable(w, requestID, err)
			return
		}
		resp = refundResponse{Recipient: *key.RefundAddress, Sats: paidSat}
	} else {
		amount := key.Balance / 1000
		if key.RefundUnit == database.UnitMsat {
			amount = key.Balance
		}
		mint := ""
		if key.RefundMint != nil {
			mint = *key.RefundMint
		}
		token, err := s.wallet.SendToken(r.Context(), amount, string(key.RefundUnit), mint)
		if err != nil {
			writeMintUnavailable(w, requestID, err)
			return
		}
		if key.RefundUnit == database.UnitMsat {
			resp = refundResponse{Token: token, Msats: amount}
		} else {
			resp = refundResponse{Token: token, Sats: amount}
		}
	}

	// The payout has already left the process by this point; a Drain
	// failure here would otherwise let a retried request see the
	// still-positive balance and pay out a second time. Retry a few times
	// before surfacing an error, since the per-bearer lock above already
	// keeps a concurrent request from racing this drain.
	var drainErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, drainErr = s.ledger.Drain(r.Context(), key.HashedKey); drainErr == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if drainErr != nil {
		writeInternalError(w, requestID, drainErr)
		return
	}

	s.refundCache.Put(bearerHash, resp)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResolveError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential), errors.Is(err, auth.ErrUnknownKey), errors.Is(err, auth.ErrUnrecognizedCredential):
		writeAuthError(w, requestID, err.Error())
	case errors.Is(err, auth.ErrExpiryWithoutRefundAddress), errors.Is(err, auth.ErrInvalidRefundAddress):
		writeMalformed(w, requestID, err.Error())
	case errors.Is(err, auth.ErrRedemptionTimeout):
		writeMintUnavailable(w, requestID, err)
	default:
		writeInternalError(w, requestID, err)
	}
}
