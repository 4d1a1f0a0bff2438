// Package pricing implements the Pricing Model Catalog (component A):
// an in-memory, DB-backed table of models that converts upstream USD
// pricing into sats and exposes per-model max-cost. Grounded in
// routstr/payment/models.py (update_sats_pricing, load_models) and in the
// teacher's internal/exchange provider shape, now wrapped by
// internal/priceoracle.
package pricing

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"routstr/internal/database"
	"routstr/internal/priceoracle"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

// minMaxCostMsats is the per-request floor named in spec §4.A's max-cost
// derivation: "floored at a per-request minimum (1 msat)".
const minMaxCostMsats = 1

// Catalog is the in-memory + DB-cached model table (spec §3 "Model").
type Catalog struct {
	models       *database.ModelRepository
	settings     *database.SettingsRepository
	oracle       *priceoracle.Oracle

	mu    sync.RWMutex
	cache map[string]*database.Model
}

func NewCatalog(models *database.ModelRepository, settings *database.SettingsRepository, oracle *priceoracle.Oracle) *Catalog {
	return &Catalog{
		models:   models,
		settings: settings,
		oracle:   oracle,
		cache:    make(map[string]*database.Model),
	}
}

// Load populates the in-memory cache from the DB. Call once at startup
// after Bootstrap and again whenever the refresh loop persists changes.
func (c *Catalog) Load(ctx context.Context) error {
	rows, err := c.models.List(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]*database.Model, len(rows))
	for _, m := range rows {
		next[m.ID] = m
	}

	c.mu.Lock()
	c.cache = next
	c.mu.Unlock()
	return nil
}

// ListModels implements spec §4.A's listModels().
func (c *Catalog) ListModels() []*database.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*database.Model, 0, len(c.cache))
	for _, m := range c.cache {
		out = append(out, m)
	}
	return out
}

// GetModel implements spec §4.A's getModel(id).
func (c *Catalog) GetModel(id string) (*database.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[id]
	return m, ok
}

// SetModelForTest seeds the in-memory cache directly, bypassing the DB and
// bootstrap path, for use by other packages' tests that need a Catalog
// with a known model but no live repositories (e.g. internal/cost).
func (c *Catalog) SetModelForTest(m *database.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[m.ID] = m
}

// MaxCostMsats implements spec §4.A's maxCostMsats(id): the fixed
// per-request cost when fixed pricing is on; otherwise the model's own
// worst-case cost if the model is known, else the operator's global
// fallback in msats.
func (c *Catalog) MaxCostMsats(ctx context.Context, id string) (int64, error) {
	settings, err := c.settings.Get(ctx)
	if err != nil {
		return 0, err
	}

	if settings.FixedPricing {
		return settings.FixedCostPerRequest * 1000, nil
	}

	if m, ok := c.GetModel(id); ok {
		return int64(math.Round(m.SatsPricing.MaxCost * 1000)), nil
	}

	return settings.FixedCostPerRequest * 1000, nil
}

// RefreshLoop is background task B.1 (spec §4.A): every interval ± 10%
// jitter, refetch satsPerUSD() and recompute every model's sats pricing
// from its stored USD pricing. Exits cooperatively when ctx is canceled.
func (c *Catalog) RefreshLoop(ctx context.Context, interval time.Duration) {
	for {
		jitter := time.Duration(rand.Int63n(int64(interval) / 5)) // up to 20% of interval, centered below
		sleep := interval - interval/10 + jitter
		select {
		case <-ctx.Done():
			logger.Info("pricing refresh loop stopping")
			return
		case <-time.After(sleep):
		}

		if err := c.refreshOnce(ctx); err != nil {
			logger.Error("pricing refresh failed", zap.Error(err))
		}
	}
}

func (c *Catalog) refreshOnce(ctx context.Context) error {
	satsPerUSD, err := c.oracle.SatsPerUSD(ctx)
	if err != nil {
		return err
	}

	for _, m := range c.ListModels() {
		sats := deriveSatsPricing(m.USDPricing, m.TopProvider, satsPerUSD)
		if err := c.models.UpdateSatsPricing(ctx, m.ID, sats); err != nil {
			logger.Error("failed to persist sats pricing", zap.String("model", m.ID), zap.Error(err))
			continue
		}
		m.SatsPricing = sats
	}

	logger.Info("pricing catalog refreshed", zap.Float64("sats_per_usd", satsPerUSD), zap.Int("models", len(c.cache)))
	return nil
}

// deriveSatsPricing implements spec §3's max-cost derivation algorithm
// exactly: per-token USD rates are converted to sats via satsPerUSD, then
// the model's worst-case context fill is priced according to which of
// context_length/max_completion_tokens are known.
func deriveSatsPricing(usd database.Pricing, top database.TopProvider, satsPerUSD float64) database.Pricing {
	sats := database.Pricing{
		Prompt:            usd.Prompt * satsPerUSD,
		Completion:        usd.Completion * satsPerUSD,
		Request:           usd.Request * satsPerUSD,
		Image:             usd.Image * satsPerUSD,
		WebSearch:         usd.WebSearch * satsPerUSD,
		InternalReasoning: usd.InternalReasoning * satsPerUSD,
	}

	var maxPromptCost, maxCompletionCost float64
	switch {
	case top.ContextLength != nil && top.MaxCompletionTokens != nil:
		contextLen := float64(*top.ContextLength)
		maxCompletion := float64(*top.MaxCompletionTokens)
		maxPromptCost = (contextLen - maxCompletion) * sats.Prompt
		maxCompletionCost = maxCompletion * sats.Completion

	case top.ContextLength != nil:
		contextLen := float64(*top.ContextLength)
		maxPromptCost = 0.8 * contextLen * sats.Prompt
		maxCompletionCost = 0.2 * contextLen * sats.Completion

	case top.MaxCompletionTokens != nil:
		maxCompletion := float64(*top.MaxCompletionTokens)
		maxPromptCost = 4 * maxCompletion * sats.Prompt
		maxCompletionCost = maxCompletion * sats.Completion

	default:
		maxPromptCost = 1_000_000 * sats.Prompt
		maxCompletionCost = 32_000 * sats.Completion
	}

	sats.MaxPromptCost = maxPromptCost
	sats.MaxCompletionCost = maxCompletionCost
	sats.MaxCost = math.Max(maxPromptCost+maxCompletionCost, float64(minMaxCostMsats)/1000)

	return sats
}
