package cost

import (
	"testing"

	"routstr/internal/database"
	"routstr/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_NoUsageFinalizesAtMax(t *testing.T) {
	data, err := Calculate(pricing.NewCatalog(nil, nil, nil), []byte(`{"model":"gpt-x"}`), 10_000)
	require.NoError(t, err)
	assert.Equal(t, KindMaxCost, data.Kind)
	assert.Equal(t, int64(10_000), data.TotalMsats)
}

func TestCalculate_MalformedBodyFinalizesAtMax(t *testing.T) {
	data, err := Calculate(pricing.NewCatalog(nil, nil, nil), []byte(`not json`), 5_000)
	require.NoError(t, err)
	assert.Equal(t, KindMaxCost, data.Kind)
	assert.Equal(t, int64(5_000), data.TotalMsats)
}

func TestCalculate_UnknownModel(t *testing.T) {
	c := pricing.NewCatalog(nil, nil, nil)
	data, err := Calculate(c, []byte(`{"model":"ghost","usage":{"prompt_tokens":10,"completion_tokens":5}}`), 10_000)
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Equal(t, KindError, data.Kind)
	assert.Equal(t, "model_not_found", data.ErrorCode)
}

func newTestCatalogWithModel(t *testing.T, m *database.Model) *pricing.Catalog {
	t.Helper()
	c := pricing.NewCatalog(nil, nil, nil)
	c.SetModelForTest(m)
	return c
}

func TestCalculate_MissingPricingErrors(t *testing.T) {
	c := newTestCatalogWithModel(t, &database.Model{ID: "gpt-x"})
	data, err := Calculate(c, []byte(`{"model":"gpt-x","usage":{"prompt_tokens":10,"completion_tokens":5}}`), 10_000)
	assert.ErrorIs(t, err, ErrPricingNotFound)
	assert.Equal(t, "pricing_not_found", data.ErrorCode)
}

func TestCalculate_ComputesFromUsage(t *testing.T) {
	c := newTestCatalogWithModel(t, &database.Model{
		ID: "gpt-x",
		SatsPricing: database.Pricing{
			Prompt:     0.000002, // sats per token
			Completion: 0.000004,
			Request:    0.001,
		},
	})

	data, err := Calculate(c, []byte(`{"model":"gpt-x","usage":{"prompt_tokens":1000,"completion_tokens":500}}`), 50_000)
	require.NoError(t, err)
	assert.Equal(t, KindCost, data.Kind)
	assert.Equal(t, int64(2), data.InputMsats)      // 1000 * 0.000002 * 1000 = 2
	assert.Equal(t, int64(2), data.OutputMsats)     // 500 * 0.000004 * 1000 = 2
	assert.Equal(t, int64(1), data.BaseMsats)       // 0.001 * 1000 = 1
	assert.Equal(t, int64(5), data.TotalMsats)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, int64(2), roundHalfAwayFromZero(1.5))
	assert.Equal(t, int64(-2), roundHalfAwayFromZero(-1.5))
	assert.Equal(t, int64(0), roundHalfAwayFromZero(0.4))
}
