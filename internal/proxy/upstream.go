package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped before forwarding in either direction, per
// RFC 7230 §6.1 and spec §4.G step 6 ("Strip hop-by-hop and auth-bearing headers").
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Authorization", "X-Cashu", "Refund-LNURL", "Key-Expiry-Time",
}

// upstreamClient forwards requests to the OpenAI-compatible upstream
// (spec §4.G step 6). No blocking timeout is set on the client itself —
// cancellation is via the request's context (client disconnect or
// process shutdown), per spec §4.F's "Forward" step.
type upstreamClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newUpstreamClient(baseURL, apiKey string) *upstreamClient {
	return &upstreamClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{}, // no Timeout: cancellation is context-driven
	}
}

// Forward issues the proxied request. path has already had the /v1 prefix
// stripped per spec §4.G step 6 ("forward to {upstream_base}/{path-without-v1-prefix}").
func (u *upstreamClient) Forward(ctx context.Context, method, path, rawQuery string, body io.Reader, headers http.Header) (*http.Response, error) {
	url := u.baseURL + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	for name, values := range headers {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	return u.http.Do(req)
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// stripV1Prefix implements spec §4.G step 6's "path-without-v1-prefix".
func stripV1Prefix(path string) string {
	if strings.HasPrefix(path, "/v1/") {
		return path[len("/v1"):]
	}
	if path == "/v1" {
		return "/"
	}
	return path
}

// sanitizeResponseHeaders implements spec §4.F step 4's "sanitized
// response headers": hop-by-hop headers are never relayed back to the
// client either.
func sanitizeResponseHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
