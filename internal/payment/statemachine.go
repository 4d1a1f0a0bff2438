// Package payment implements the Payment State Machine (component F):
// per request, reserve the worst-case cost, forward the request upstream,
// then finalize (charge actual) or revert (restore the reservation).
// Grounded in routstr/proxy.py's charge_request path and spec §4.F's state
// diagram (Idle -> Reserved -> AwaitingUsage -> Finalized|Reverted).
package payment

import (
	"context"
	"errors"

	"routstr/internal/cost"
	"routstr/internal/ledger"
	"routstr/internal/pricing"
)

// ErrInsufficientBalance mirrors ledger.ErrInsufficientBalance so callers
// need only import this package to detect admission rejection (spec §4.F
// "Rejected (402)").
var ErrInsufficientBalance = ledger.ErrInsufficientBalance

// Reservation is the handle returned by Reserve: it carries everything
// Finalize/Revert need without requiring the caller to re-derive the
// max-cost or keep the hashed key around separately.
type Reservation struct {
	HashedKey     string
	ReservedMsats int64
}

// Machine orchestrates one request's reserve/finalize/revert lifecycle.
type Machine struct {
	ledger  *ledger.Ledger
	catalog *pricing.Catalog
}

func New(l *ledger.Ledger, c *pricing.Catalog) *Machine {
	return &Machine{ledger: l, catalog: c}
}

// Reserve implements spec §4.F's admission step: compute M from the
// model (discounted by any request-specific modifier), then atomically
// admit. Returns ErrInsufficientBalance (callers map this to 402) without
// mutating anything on rejection.
func (m *Machine) Reserve(ctx context.Context, hashedKey, modelID string, discountMsats int64) (*Reservation, error) {
	maxCost, err := m.catalog.MaxCostMsats(ctx, modelID)
	if err != nil {
		return nil, err
	}

	reserveMsats := maxCost - discountMsats
	if reserveMsats < 1 {
		reserveMsats = 1
	}

	if err := m.ledger.Reserve(ctx, hashedKey, reserveMsats); err != nil {
		return nil, err
	}

	return &Reservation{HashedKey: hashedKey, ReservedMsats: reserveMsats}, nil
}

// FinalizeNonStreaming implements spec §4.F's non-streaming finalize:
// compute cost from the full response body against the reservation, then
// release/restore/record in one ledger write. Returns the cost data to be
// injected into the response body under "cost".
func (m *Machine) FinalizeNonStreaming(ctx context.Context, res *Reservation, responseBody []byte) (cost.Data, error) {
	data, err := cost.Calculate(m.catalog, responseBody, res.ReservedMsats)
	if err != nil {
		// model_not_found / pricing_not_found: we already forwarded the
		// request and spent upstream resources: finalize at the full
		// reservation rather than leaving funds stuck in reserved_balance.
		if finalizeErr := m.ledger.Finalize(ctx, res.HashedKey, res.ReservedMsats, res.ReservedMsats); finalizeErr != nil {
			return data, finalizeErr
		}
		return data, err
	}

	total := data.TotalMsats
	if total > res.ReservedMsats {
		total = res.ReservedMsats
	}

	if err := m.ledger.Finalize(ctx, res.HashedKey, res.ReservedMsats, total); err != nil {
		return data, err
	}
	return data, nil
}

// FinalizeAtMax implements the "no usage observed" / "stream interrupted"
// branch of spec §4.F: the full reservation is charged, no refund.
func (m *Machine) FinalizeAtMax(ctx context.Context, res *Reservation) error {
	return m.ledger.Finalize(ctx, res.HashedKey, res.ReservedMsats, res.ReservedMsats)
}

// Revert implements spec §4.F's revert transition: restore exactly what
// Reserve consumed (upstream non-2xx or connection error before any
// billable content).
func (m *Machine) Revert(ctx context.Context, res *Reservation) error {
	return m.ledger.Revert(ctx, res.HashedKey, res.ReservedMsats)
}

// IsInsufficientBalance reports whether err is the admission-rejection
// sentinel, for handlers mapping errors to HTTP status codes.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}
