package lnurl

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// DecodedInvoice is the subset of a BOLT-11 invoice the wallet gateway
// checks before melting proofs to it.
type DecodedInvoice struct {
	AmountMsat int64
	Expired    bool
}

// DecodeInvoice validates an invoice is well-formed and not expired before
// the wallet gateway spends proofs against it, grounded in the teacher's
// internal/lnd.Client.DecodeInvoice — here using zpay32 directly since
// there is no local LND node in this topology (the mint pays the
// invoice on our behalf via melt).
func DecodeInvoice(bolt11 string) (*DecodedInvoice, error) {
	inv, err := zpay32.Decode(bolt11, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	if inv.MilliSat == nil {
		return nil, errors.New("zero-amount invoices are not supported")
	}

	expiresAt := inv.Timestamp.Add(inv.Expiry())
	return &DecodedInvoice{
		AmountMsat: int64(*inv.MilliSat),
		Expired:    time.Now().After(expiresAt),
	}, nil
}
