// Package lnurl decodes and resolves LNURL-pay targets and fetches the
// resulting BOLT-11 invoice. Grounded in routstr/payment/lnurl.py
// (decode_lnurl, get_lnurl_data, get_lnurl_invoice, raw_send_to_lnurl);
// uses the bech32 codec and BOLT-11 decoder already implied by the
// teacher's btcutil/lnd dependencies rather than a new dependency.
package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var (
	ErrInvalidTarget  = errors.New("lnurl: invalid target")
	ErrNotPayRequest  = errors.New("lnurl: target is not a payRequest")
	ErrAmountTooSmall = errors.New("lnurl: amount below payee minimum")
	ErrAmountTooLarge = errors.New("lnurl: amount exceeds payee maximum")
)

// PayRequest is the subset of an LNURL payRequest response this package uses.
type PayRequest struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"` // msats
	MaxSendable int64  `json:"maxSendable"` // msats
}

// Decode resolves any of the four LNURL input shapes into an HTTPS URL to
// fetch the payRequest from: a `lightning:`-prefixed bech32 string, a bare
// bech32 string, a Lightning-Address (`user@host`), or a direct HTTPS URL.
func Decode(target string) (string, error) {
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, "lightning:")

	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target, nil
	}

	if user, host, ok := strings.Cut(target, "@"); ok && !strings.Contains(target, " ") {
		if user == "" || host == "" {
			return "", ErrInvalidTarget
		}
		return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", host, user), nil
	}

	hrp, data, err := bech32.Decode(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if hrp != "lnurl" {
		return "", ErrInvalidTarget
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return string(decoded), nil
}

// FetchPayRequest performs the initial GET against the resolved LNURL
// endpoint and validates it advertises tag=="payRequest".
func FetchPayRequest(ctx context.Context, client *http.Client, url string) (*PayRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lnurl: payRequest fetch returned status %d", resp.StatusCode)
	}

	var pr PayRequest
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("lnurl: failed to decode payRequest: %w", err)
	}
	if pr.Tag != "payRequest" {
		return nil, ErrNotPayRequest
	}
	if pr.MinSendable == 0 {
		pr.MinSendable = 1000
	}
	if pr.MaxSendable == 0 {
		pr.MaxSendable = math.MaxInt64
	}
	return &pr, nil
}

type invoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// FetchInvoice requests a BOLT-11 invoice for amountMsat from the
// payRequest's callback, validating it falls within [min, max]Sendable.
func FetchInvoice(ctx context.Context, client *http.Client, pr *PayRequest, amountMsat int64) (string, error) {
	if amountMsat < pr.MinSendable {
		return "", ErrAmountTooSmall
	}
	if amountMsat > pr.MaxSendable {
		return "", ErrAmountTooLarge
	}

	sep := "?"
	if strings.Contains(pr.Callback, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%samount=%d", pr.Callback, sep, amountMsat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var invResp invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invResp); err != nil {
		return "", fmt.Errorf("lnurl: failed to decode invoice response: %w", err)
	}
	if invResp.Status == "ERROR" {
		return "", fmt.Errorf("lnurl: %s", invResp.Reason)
	}
	if invResp.PR == "" {
		return "", errors.New("lnurl: callback returned no invoice")
	}
	return invResp.PR, nil
}

// IsValidRefundAddress reports whether target is syntactically a
// Lightning-Address or an LNURL (bech32 or direct HTTPS payRequest URL) —
// the only two refund_address shapes spec §4.C's ledger row accepts. It
// does not perform any network call; FetchPayRequest is what actually
// proves the target resolves.
func IsValidRefundAddress(target string) bool {
	_, err := Decode(target)
	return err == nil
}

// EstimateFeeSat is the routing-fee estimate used for both the LNURL send
// path and the foreign-mint swap (spec §4.B): max(ceil(amount_sat * 1%), 2).
func EstimateFeeSat(amountSat int64) int64 {
	fee := int64(math.Ceil(float64(amountSat) * 0.01))
	if fee < 2 {
		return 2
	}
	return fee
}

// DefaultClient is a short-timeout client for LNURL HTTP round trips;
// mint/relay network conditions are the dominant latency, not our side.
func DefaultClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
