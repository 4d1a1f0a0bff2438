package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"routstr/internal/cost"
	"routstr/internal/payment"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

const xCashuRefundHeader = "X-Cashu-Refund"

// handleXCashuProxy implements spec §4.G step 3's ephemeral per-request
// ecash path: the token is redeemed straight into a one-shot reservation
// that never becomes a ledger row, the request is billed against it, and
// any unspent remainder is minted back to the caller as a fresh token —
// in a response header for a buffered reply, or a trailing SSE frame for
// a streamed one — with no state surviving past the request.
func (s *Server) handleXCashuProxy(w http.ResponseWriter, r *http.Request, requestID, token, model string, body []byte) {
	amount, unit, mintURL, err := s.wallet.ReceiveToken(r.Context(), token)
	if err != nil {
		writeMintUnavailable(w, requestID, err)
		return
	}

	deductedMsats := amount
	if unit == "sat" {
		deductedMsats = amount * 1000
	}

	maxCost, err := s.catalog.MaxCostMsats(r.Context(), model)
	if err != nil {
		s.refundXCashuRemainder(r.Context(), nil, deductedMsats, unit, mintURL)
		writeInternalError(w, requestID, err)
		return
	}
	if deductedMsats < maxCost {
		s.refundXCashuRemainder(r.Context(), nil, deductedMsats, unit, mintURL)
		writeTokenTooSmall(w, requestID, "token does not cover this model's max cost")
		return
	}

	upstreamResp, err := s.upstream.Forward(r.Context(), r.Method, stripV1Prefix(r.URL.Path), r.URL.RawQuery, bytes.NewReader(body), r.Header)
	if err != nil {
		s.refundXCashuRemainder(r.Context(), w, deductedMsats, unit, mintURL)
		writeUpstreamError(w, requestID, err)
		return
	}
	defer upstreamResp.Body.Close()

	if upstreamResp.StatusCode < 200 || upstreamResp.StatusCode >= 300 {
		s.refundXCashuRemainder(r.Context(), w, deductedMsats, unit, mintURL)
		s.relayNonBillable(w, upstreamResp)
		return
	}

	if isEventStream(upstreamResp.Header.Get("Content-Type")) {
		s.streamXCashuAndFinalize(r.Context(), w, upstreamResp, deductedMsats, unit, mintURL)
		return
	}

	respBody, err := io.ReadAll(upstreamResp.Body)
	if err != nil {
		writeInternalError(w, requestID, err)
		return
	}

	data, calcErr := cost.Calculate(s.catalog, respBody, deductedMsats)
	if calcErr != nil {
		data = cost.Data{Kind: cost.KindMaxCost, TotalMsats: deductedMsats}
	}

	remainder := deductedMsats - data.TotalMsats
	s.refundXCashuRemainder(r.Context(), w, remainder, unit, mintURL)

	out := injectCost(respBody, data)
	sanitizeResponseHeaders(w.Header(), upstreamResp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(upstreamResp.StatusCode)
	_, _ = w.Write(out)
}

// streamXCashuAndFinalize mirrors streamAndFinalize for the ephemeral
// x-cashu path: the remainder token cannot ride a response header once
// streaming has started, so it rides a trailing SSE frame instead.
func (s *Server) streamXCashuAndFinalize(reqCtx context.Context, w http.ResponseWriter, resp *http.Response, deductedMsats int64, unit, mintURL string) {
	flusher, _ := w.(http.Flusher)
	sanitizeResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	var buf bytes.Buffer
	tee := io.TeeReader(resp.Body, &buf)
	chunk := make([]byte, 4096)
	for {
		n, readErr := tee.Read(chunk)
		if n > 0 {
			_, _ = w.Write(chunk[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}

	finalizeCtx := context.WithoutCancel(reqCtx)
	data := cost.Data{Kind: cost.KindMaxCost, TotalMsats: deductedMsats}
	if usageFrame, found := payment.ScanUsageFrame(buf.Bytes()); found {
		if calculated, err := cost.Calculate(s.catalog, usageFrame, deductedMsats); err == nil {
			data = calculated
		}
	}

	costFrame, err := json.Marshal(map[string]any{"cost": costFields(data)})
	if err == nil {
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(costFrame)
		_, _ = w.Write([]byte("\n\n"))
	}

	remainder := deductedMsats - data.TotalMsats
	if token, ok := s.mintXCashuRefund(finalizeCtx, remainder, unit, mintURL); ok {
		refundFrame, err := json.Marshal(map[string]any{"refund_token": token})
		if err == nil {
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(refundFrame)
			_, _ = w.Write([]byte("\n\n"))
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// refundXCashuRemainder mints remainderMsats back to the caller as a
// fresh token and sets it on the X-Cashu-Refund response header. w may be
// nil when called before any response has started (rejection paths),
// in which case the remainder is simply re-minted and logged — there is
// no header left to attach it to.
func (s *Server) refundXCashuRemainder(ctx context.Context, w http.ResponseWriter, remainderMsats int64, unit, mintURL string) {
	token, ok := s.mintXCashuRefund(ctx, remainderMsats, unit, mintURL)
	if !ok {
		return
	}
	if w != nil {
		w.Header().Set(xCashuRefundHeader, token)
		return
	}
	logger.Warn("x-cashu remainder minted with no response to attach it to", zap.String("refund_token", token))
}

func (s *Server) mintXCashuRefund(ctx context.Context, remainderMsats int64, unit, mintURL string) (string, bool) {
	if remainderMsats <= 0 {
		return "", false
	}
	amount := remainderMsats
	if unit == "sat" {
		amount = remainderMsats / 1000
	}
	if amount <= 0 {
		return "", false
	}

	token, err := s.wallet.SendToken(ctx, amount, unit, mintURL)
	if err != nil {
		logger.Error("failed to mint x-cashu remainder refund", zap.Error(err))
		return "", false
	}
	return token, true
}
