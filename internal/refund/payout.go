// Package refund implements the Refund & Payout Workers (component H):
// the user-facing refund flow lives in internal/proxy (it needs the HTTP
// request/response shape), and this package holds the periodic treasury
// sweep that has no request to attach to. Grounded in routstr/wallet.py's
// periodic_payout.
package refund

import (
	"context"
	"time"

	"routstr/pkg/logger"

	"go.uber.org/zap"
)

const walletUnit = "sat"

// treasuryWallet is the narrow slice of cashu.Gateway this worker needs,
// named here so tests can supply a fake without spinning up real mints.
type treasuryWallet interface {
	TrustedMints() []string
	GetBalanceForMint(ctx context.Context, mintURL, unit string) (int64, error)
	SendToLNURL(ctx context.Context, amount int64, unit, mintURL, target string) (int64, error)
}

// userBalanceSource abstracts the ledger's aggregate-balance query.
type userBalanceSource interface {
	SumUserBalances(ctx context.Context) (int64, error)
}

// Worker implements spec §4.H's periodic payout: for each trusted mint,
// sweep the wallet's surplus over the aggregate user balance to the
// operator's Lightning address, optionally splitting a small share to a
// developer address.
type Worker struct {
	wallet treasuryWallet
	ledger userBalanceSource

	receiveLNAddress string
	devLNAddress     string
	devShareParts    int64 // parts per million of surplus
	thresholdSats    int64
	interval         time.Duration
}

type Config struct {
	ReceiveLNAddress string
	DevLNAddress     string
	DevShareParts    int64
	ThresholdSats    int64
	Interval         time.Duration
}

func NewWorker(wallet treasuryWallet, ledger userBalanceSource, cfg Config) *Worker {
	return &Worker{
		wallet:           wallet,
		ledger:           ledger,
		receiveLNAddress: cfg.ReceiveLNAddress,
		devLNAddress:     cfg.DevLNAddress,
		devShareParts:    cfg.DevShareParts,
		thresholdSats:    cfg.ThresholdSats,
		interval:         cfg.Interval,
	}
}

// Run loops until ctx is canceled, sweeping surplus every interval. Spec
// §4.H only runs the payout "if receive_ln_address configured"; a worker
// with none set exits immediately rather than looping for nothing.
func (w *Worker) Run(ctx context.Context) {
	if w.receiveLNAddress == "" {
		logger.Info("payout worker disabled: no receive_ln_address configured")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("payout worker stopping")
			return
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				logger.Error("payout sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce implements one pass of spec §4.H's periodic payout, exported
// so the worker command can also trigger an immediate sweep at startup.
func (w *Worker) SweepOnce(ctx context.Context) error {
	userBalanceMsats, err := w.ledger.SumUserBalances(ctx)
	if err != nil {
		return err
	}
	userBalanceSats := userBalanceMsats / 1000

	// The ledger tracks the user-owed liability as a single unit-of-account
	// figure, not per-mint, so it must be apportioned across trusted mints
	// by each mint's share of total wallet holdings before computing
	// surplus — otherwise the same liability gets subtracted in full from
	// every mint and surplus is over-counted whenever more than one
	// trusted mint holds funds.
	mints := w.wallet.TrustedMints()
	walletSats := make(map[string]int64, len(mints))
	var totalWalletSats int64
	for _, mintURL := range mints {
		sats, err := w.wallet.GetBalanceForMint(ctx, mintURL, walletUnit)
		if err != nil {
			logger.Error("failed to read wallet balance for payout", zap.String("mint", mintURL), zap.Error(err))
			continue
		}
		walletSats[mintURL] = sats
		totalWalletSats += sats
	}

	for _, mintURL := range mints {
		mintBalance, ok := walletSats[mintURL]
		if !ok {
			continue
		}

		var liability int64
		if totalWalletSats > 0 {
			liability = userBalanceSats * mintBalance / totalWalletSats
		}

		surplus := mintBalance - liability
		if surplus <= w.thresholdSats {
			continue
		}

		devShare := surplus * w.devShareParts / 1_000_000
		operatorShare := surplus - devShare

		if devShare > 0 && w.devLNAddress != "" {
			if _, err := w.wallet.SendToLNURL(ctx, devShare, walletUnit, mintURL, w.devLNAddress); err != nil {
				logger.Error("dev-share payout failed", zap.String("mint", mintURL), zap.Error(err))
			}
		}

		if _, err := w.wallet.SendToLNURL(ctx, operatorShare, walletUnit, mintURL, w.receiveLNAddress); err != nil {
			logger.Error("operator payout failed", zap.String("mint", mintURL), zap.Error(err))
			continue
		}
		logger.Info("payout swept", zap.String("mint", mintURL), zap.Int64("surplus_sats", surplus))
	}
	return nil
}
