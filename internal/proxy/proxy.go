package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"routstr/internal/cost"
	"routstr/internal/payment"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

type proxyRequestBody struct {
	Model string `json:"model"`
}

// handleProxy implements spec §4.G's catch-all reverse-proxy route. POST
// requires a credential (Authorization bearer or X-Cashu); a GET without
// one is forwarded unauthenticated and unbilled (upstream's own /models,
// /), while a GET that carries one is resolved and billed like a POST.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("x-routstr-request-id")

	bearer := bearerFromRequest(r)
	xCashu := r.Header.Get("X-Cashu")

	if r.Method != http.MethodGet && bearer == "" && xCashu == "" {
		writeAuthError(w, requestID, "missing Authorization or X-Cashu credential")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeMalformed(w, requestID, "failed to read request body")
		return
	}

	var model string
	if len(body) > 0 {
		var parsed proxyRequestBody
		if err := json.Unmarshal(body, &parsed); err == nil {
			model = parsed.Model
		}
	}

	if r.Method == http.MethodGet && bearer == "" && xCashu == "" {
		s.forwardUnbilled(w, r, requestID, body)
		return
	}

	if xCashu != "" && strings.HasSuffix(r.URL.Path, "chat/completions") {
		s.handleXCashuProxy(w, r, requestID, xCashu, model, body)
		return
	}

	key, err := s.resolver.Resolve(r.Context(), bearer, requestHeadersFrom(r))
	if err != nil {
		writeResolveError(w, requestID, err)
		return
	}

	res, err := s.machine.Reserve(r.Context(), key.HashedKey, model, 0)
	if err != nil {
		if payment.IsInsufficientBalance(err) {
			writeInsufficientBalance(w, requestID)
			return
		}
		writeInternalError(w, requestID, err)
		return
	}

	upstreamResp, err := s.upstream.Forward(r.Context(), r.Method, stripV1Prefix(r.URL.Path), r.URL.RawQuery, bytes.NewReader(body), r.Header)
	if err != nil {
		if revertErr := s.machine.Revert(r.Context(), res); revertErr != nil {
			logger.Error("revert after forward failure", zap.Error(revertErr))
		}
		writeUpstreamError(w, requestID, err)
		return
	}
	defer upstreamResp.Body.Close()

	if upstreamResp.StatusCode < 200 || upstreamResp.StatusCode >= 300 {
		if revertErr := s.machine.Revert(r.Context(), res); revertErr != nil {
			logger.Error("revert after non-2xx upstream response", zap.Error(revertErr))
		}
		s.relayNonBillable(w, upstreamResp)
		return
	}

	if isEventStream(upstreamResp.Header.Get("Content-Type")) {
		s.streamAndFinalize(r.Context(), w, upstreamResp, res)
		return
	}

	s.bufferAndFinalize(r.Context(), w, requestID, upstreamResp, res)
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(contentType, "text/event-stream")
}

// forwardUnbilled implements spec §4.G step 1's GET pass-through: no
// resolution, no reservation, the response is relayed verbatim.
func (s *Server) forwardUnbilled(w http.ResponseWriter, r *http.Request, requestID string, body []byte) {
	resp, err := s.upstream.Forward(r.Context(), r.Method, stripV1Prefix(r.URL.Path), r.URL.RawQuery, bytes.NewReader(body), r.Header)
	if err != nil {
		writeUpstreamError(w, requestID, err)
		return
	}
	defer resp.Body.Close()
	s.relayNonBillable(w, resp)
}

func (s *Server) relayNonBillable(w http.ResponseWriter, resp *http.Response) {
	sanitizeResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// bufferAndFinalize implements spec §4.F's non-streaming finalize path:
// read the full body, finalize against the reservation, inject "cost".
func (s *Server) bufferAndFinalize(ctx context.Context, w http.ResponseWriter, requestID string, resp *http.Response, res *payment.Reservation) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeInternalError(w, requestID, err)
		return
	}

	data, err := s.machine.FinalizeNonStreaming(ctx, res, respBody)
	if err != nil {
		logger.Error("finalize failed", zap.Error(err))
	}

	out := injectCost(respBody, data)

	sanitizeResponseHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)
}

// injectCost implements spec §6's "cost" field injection. If the upstream
// body isn't a JSON object (unexpected but possible on error passthroughs),
// the body is returned unmodified rather than corrupted.
func injectCost(body []byte, data cost.Data) []byte {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	parsed["cost"] = costFields(data)

	out, err := json.Marshal(parsed)
	if err != nil {
		return body
	}
	return out
}

func costFields(data cost.Data) map[string]any {
	return map[string]any{
		"base_msats":   data.BaseMsats,
		"input_msats":  data.InputMsats,
		"output_msats": data.OutputMsats,
		"total_msats":  data.TotalMsats,
	}
}

// streamAndFinalize implements spec §4.F's streaming finalize: bytes are
// relayed to the client as they arrive while also accumulated for the
// tail scan, and finalize runs in a context that survives client
// disconnection (spec §5's "finalize-at-max invoked exactly once via a
// deferred cleanup").
func (s *Server) streamAndFinalize(reqCtx context.Context, w http.ResponseWriter, resp *http.Response, res *payment.Reservation) {
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
	data, err := s.machine.FinalizeStreaming(finalizeCtx, res, buf.Bytes())
	if err != nil {
		logger.Error("streaming finalize failed", zap.Error(err))
	}

	costFrame, err := json.Marshal(map[string]any{"cost": costFields(data)})
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(costFrame)
	_, _ = w.Write([]byte("\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}
