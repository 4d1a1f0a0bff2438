// Package proxy implements the Proxy Engine (component G): the HTTP
// request handler that delegates to auth, cost, and payment, streaming
// both directions and special-casing SSE to observe usage at end-of-stream.
// Grounded in routstr/proxy.py (ProxyRoute, proxy_request) and in the
// teacher's pkg/logger-joined request_id convention.
package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// errorEnvelope is the wire shape spec §6 names for every non-2xx response.
type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Error type tags named in spec §6's error envelope.
const (
	typeInvalidRequest    = "invalid_request_error"
	typeInsufficientQuota = "insufficient_quota"
	typeUpstreamError     = "upstream_error"
	typeInternalError     = "internal_error"
)

func writeError(w http.ResponseWriter, requestID string, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-routstr-request-id", requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     errorBody{Message: message, Type: errType, Code: code},
		RequestID: requestID,
	})
}

func newRequestID() string {
	return uuid.NewString()
}

// writeMalformed is spec §7's 400 class: malformed JSON, bad headers.
func writeMalformed(w http.ResponseWriter, requestID, message string) {
	writeError(w, requestID, http.StatusBadRequest, typeInvalidRequest, "malformed_request", message)
}

// writeAuthError is spec §7's 401 class.
func writeAuthError(w http.ResponseWriter, requestID, message string) {
	writeError(w, requestID, http.StatusUnauthorized, typeInvalidRequest, "authentication_failed", message)
}

// writeInsufficientBalance is spec §4.F's "Rejected (402)" terminal state.
func writeInsufficientBalance(w http.ResponseWriter, requestID string) {
	writeError(w, requestID, http.StatusPaymentRequired, typeInsufficientQuota, "insufficient_balance", "balance too low to admit this request")
}

// writeTokenTooSmall is spec §6's 413 class (cashu token below dust/fee floor).
func writeTokenTooSmall(w http.ResponseWriter, requestID, message string) {
	writeError(w, requestID, http.StatusRequestEntityTooLarge, typeInvalidRequest, "token_too_small", message)
}

// mapUpstreamError implements spec §7's upstream taxonomy: connect errors
// and other network errors map to 502, timeouts to 504, anything
// unclassified to 500.
func mapUpstreamError(err error) (status int, code string) {
	switch {
	case isTimeout(err):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case isConnectionError(err):
		return http.StatusBadGateway, "upstream_unreachable"
	default:
		return http.StatusInternalServerError, "upstream_error"
	}
}

func writeUpstreamError(w http.ResponseWriter, requestID string, err error) {
	status, code := mapUpstreamError(err)
	writeError(w, requestID, status, typeUpstreamError, code, err.Error())
}

func writeInternalError(w http.ResponseWriter, requestID string, err error) {
	writeError(w, requestID, http.StatusInternalServerError, typeInternalError, "internal_error", err.Error())
}

func writeMintUnavailable(w http.ResponseWriter, requestID string, err error) {
	writeError(w, requestID, http.StatusServiceUnavailable, typeUpstreamError, "mint_unavailable", err.Error())
}
