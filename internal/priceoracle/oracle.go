// Package priceoracle implements the satsPerUSD() function spec.md brackets
// off as "assumed" (§1 Out of scope) but that the Pricing Model Catalog
// still needs a concrete body for. Grounded in the three-exchange
// aggregation in routstr/payment/price.py (kraken/coinbase/binance there,
// coinbase/coingecko/bitstamp here via internal/exchange, which already
// implements that PriceProvider shape).
package priceoracle

import (
	"context"
	"errors"
	"sync"

	"routstr/internal/exchange"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

var errAllSourcesFailed = errors.New("priceoracle: all price sources failed")

// Oracle aggregates BTC/USD price across independent sources and applies
// the configured fee multipliers before converting to sats/USD.
type Oracle struct {
	providers           []exchange.PriceProvider
	exchangeFee         float64
	upstreamProviderFee float64
}

// New builds an Oracle from the three providers named in SPEC_FULL's
// domain stack table. A nil httpClient lets each provider use its own
// default timeout.
func New(exchangeFee, upstreamProviderFee float64) (*Oracle, error) {
	names := []string{"coinbase", "coingecko", "bitstamp"}
	providers := make([]exchange.PriceProvider, 0, len(names))
	for _, name := range names {
		p, err := exchange.NewProvider(name, "", nil)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return &Oracle{providers: providers, exchangeFee: exchangeFee, upstreamProviderFee: upstreamProviderFee}, nil
}

// newWithProviders builds an Oracle over explicit providers, used by tests
// to stub out network sources.
func newWithProviders(providers []exchange.PriceProvider, exchangeFee, upstreamProviderFee float64) *Oracle {
	return &Oracle{providers: providers, exchangeFee: exchangeFee, upstreamProviderFee: upstreamProviderFee}
}

// btcUSDAskPrice gathers a USD/BTC quote from every provider concurrently
// and returns the highest valid one multiplied by the exchange fee and the
// upstream provider fee. A higher price here yields fewer sats per USD in
// SatsPerUSD.
func (o *Oracle) btcUSDAskPrice(ctx context.Context) (float64, error) {
	type result struct {
		price float64
		err   error
	}
	results := make([]result, len(o.providers))

	var wg sync.WaitGroup
	for i, p := range o.providers {
		wg.Add(1)
		go func(i int, p exchange.PriceProvider) {
			defer wg.Done()
			price, err := p.GetPrice(ctx, "USD")
			results[i] = result{price: price, err: err}
		}(i, p)
	}
	wg.Wait()

	best := 0.0
	found := false
	for _, r := range results {
		if r.err != nil {
			logger.Warn("price source failed", zap.Error(r.err))
			continue
		}
		if r.price > best {
			best = r.price
			found = true
		}
	}
	if !found {
		return 0, errAllSourcesFailed
	}

	return best * o.exchangeFee * o.upstreamProviderFee, nil
}

// SatsPerUSD returns how many sats one USD buys, after fee multipliers —
// the satsPerUSD() function assumed by spec.md §4.A.
func (o *Oracle) SatsPerUSD(ctx context.Context) (float64, error) {
	askPrice, err := o.btcUSDAskPrice(ctx)
	if err != nil {
		return 0, err
	}
	return 100_000_000 / askPrice, nil
}
