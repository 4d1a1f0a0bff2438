package proxy

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// isTimeout reports whether err represents a context deadline or a
// transport-level timeout, the 504 branch of spec §7's upstream taxonomy.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// isConnectionError reports whether err represents a failure to establish
// or maintain the TCP connection to upstream (connection refused, DNS
// failure, reset) — the 502 branch of spec §7's upstream taxonomy.
func isConnectionError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
