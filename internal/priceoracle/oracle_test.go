package priceoracle

import (
	"context"
	"errors"
	"testing"

	"routstr/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	price float64
	err   error
}

func (s stubProvider) GetPrice(ctx context.Context, fiatCurrency string) (float64, error) {
	return s.price, s.err
}

func TestSatsPerUSD_TakesMaxAcrossSources(t *testing.T) {
	providers := []exchange.PriceProvider{
		stubProvider{price: 60000},
		stubProvider{price: 61000}, // highest — should win
		stubProvider{price: 59500},
	}
	o := newWithProviders(providers, 1.0, 1.0)

	sats, err := o.SatsPerUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100_000_000/61000.0, sats, 1e-6)
}

func TestSatsPerUSD_AppliesFees(t *testing.T) {
	providers := []exchange.PriceProvider{stubProvider{price: 50000}}
	o := newWithProviders(providers, 1.005, 1.05)

	sats, err := o.SatsPerUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100_000_000/(50000.0*1.005*1.05), sats, 1e-6)
}

func TestSatsPerUSD_IgnoresFailedSources(t *testing.T) {
	providers := []exchange.PriceProvider{
		stubProvider{err: errors.New("network down")},
		stubProvider{price: 42000},
	}
	o := newWithProviders(providers, 1.0, 1.0)

	sats, err := o.SatsPerUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100_000_000/42000.0, sats, 1e-6)
}

func TestSatsPerUSD_AllSourcesFail(t *testing.T) {
	providers := []exchange.PriceProvider{
		stubProvider{err: errors.New("down")},
		stubProvider{err: errors.New("also down")},
	}
	o := newWithProviders(providers, 1.0, 1.0)

	_, err := o.SatsPerUSD(context.Background())
	assert.Error(t, err)
}
