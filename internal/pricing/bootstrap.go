package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"routstr/internal/database"
	"routstr/pkg/logger"

	"go.uber.org/zap"
)

// upstreamModel mirrors the subset of an OpenRouter-shaped /models entry
// this catalog cares about. Grounded in routstr/payment/models.py's
// Architecture/Pricing/TopProvider/Model pydantic models.
type upstreamModel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Architecture struct {
		Modality        string `json:"modality"`
		InputModalities string `json:"input_modalities"`
		OutputModalities string `json:"output_modalities"`
		Tokenizer       string `json:"tokenizer"`
	} `json:"architecture"`
	TopProvider struct {
		ContextLength       *int64 `json:"context_length"`
		MaxCompletionTokens *int64 `json:"max_completion_tokens"`
	} `json:"top_provider"`
	Pricing struct {
		Prompt            string `json:"prompt"`
		Completion        string `json:"completion"`
		Request           string `json:"request"`
		Image             string `json:"image"`
		WebSearch         string `json:"web_search"`
		InternalReasoning string `json:"internal_reasoning"`
	} `json:"pricing"`
}

type upstreamModelsResponse struct {
	Data []upstreamModel `json:"data"`
}

// excludedModelIDs mirrors fetch_openrouter_models's hardcoded exclusion
// list for models that are listed but not actually billable upstream.
var excludedModelIDs = map[string]bool{
	"openrouter/auto": true,
}

// EnsureBootstrapped implements spec §4.A's bootstrap: if the catalog is
// empty, load from modelsPath if present, else fetch from the upstream
// catalog (optionally filtered by sourcePrefix), grounded in
// routstr/payment/models.py's load_models/ensure_models_bootstrapped.
func (c *Catalog) EnsureBootstrapped(ctx context.Context, modelsPath, upstreamBaseURL, sourcePrefix string) error {
	count, err := c.models.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return c.Load(ctx)
	}

	var upstreamModels []upstreamModel
	if modelsPath != "" {
		upstreamModels, err = loadModelsFromFile(modelsPath)
		if err != nil {
			return fmt.Errorf("failed to load models from %s: %w", modelsPath, err)
		}
	} else {
		upstreamModels, err = fetchUpstreamModels(ctx, upstreamBaseURL, sourcePrefix)
		if err != nil {
			return fmt.Errorf("failed to fetch upstream models: %w", err)
		}
	}

	for _, um := range upstreamModels {
		if excludedModelIDs[um.ID] || strings.Contains(strings.ToLower(um.Name), "(free)") {
			continue
		}
		m := toModel(um)
		if err := c.models.Upsert(ctx, m); err != nil {
			logger.Error("failed to seed model", zap.String("model", m.ID), zap.Error(err))
			continue
		}
	}

	logger.Info("pricing catalog bootstrapped", zap.Int("models", len(upstreamModels)))
	return c.Load(ctx)
}

func loadModelsFromFile(path string) ([]upstreamModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp upstreamModelsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func fetchUpstreamModels(ctx context.Context, baseURL, sourcePrefix string) ([]upstreamModel, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream /models returned status %d", resp.StatusCode)
	}

	var upstreamResp upstreamModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&upstreamResp); err != nil {
		return nil, err
	}

	if sourcePrefix == "" {
		return upstreamResp.Data, nil
	}

	filtered := upstreamResp.Data[:0]
	for _, m := range upstreamResp.Data {
		if strings.HasPrefix(m.ID, sourcePrefix) {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func toModel(um upstreamModel) *database.Model {
	parse := func(s string) float64 {
		var f float64
		fmt.Sscanf(s, "%f", &f)
		return f
	}

	return &database.Model{
		ID:   um.ID,
		Name: um.Name,
		Architecture: database.Architecture{
			Modality:    um.Architecture.Modality,
			InputModes:  um.Architecture.InputModalities,
			OutputModes: um.Architecture.OutputModalities,
			Tokenizer:   um.Architecture.Tokenizer,
		},
		TopProvider: database.TopProvider{
			ContextLength:       um.TopProvider.ContextLength,
			MaxCompletionTokens: um.TopProvider.MaxCompletionTokens,
		},
		USDPricing: database.Pricing{
			Prompt:            parse(um.Pricing.Prompt),
			Completion:        parse(um.Pricing.Completion),
			Request:           parse(um.Pricing.Request),
			Image:             parse(um.Pricing.Image),
			WebSearch:         parse(um.Pricing.WebSearch),
			InternalReasoning: parse(um.Pricing.InternalReasoning),
		},
		UpdatedAt: time.Now().UTC(),
	}
}
