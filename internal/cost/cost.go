// Package cost implements the Cost Calculator (component E): given an
// upstream chat-completion response and the max-cost already reserved for
// it, yields the actual cost to charge, or a typed error. Grounded in
// routstr/payment/cost_caculation.py (calculate_cost) and in spec §9's
// "dynamic-typed upstream JSON is projected into tagged variants" note.
package cost

import (
	"encoding/json"
	"errors"
	"math"

	"routstr/internal/database"
	"routstr/internal/pricing"
)

// ErrModelNotFound and ErrPricingNotFound are the two typed failure modes
// spec §4.E names; both are returned alongside a Data{Kind: KindError}
// describing which one fired, so callers can log without a type switch.
var (
	ErrModelNotFound   = errors.New("cost: model not found in catalog")
	ErrPricingNotFound = errors.New("cost: model has no sats pricing")
)

// Kind tags which of the three variants spec §9 calls MaxCost | CostData |
// CostDataError a Data value represents.
type Kind string

const (
	KindMaxCost Kind = "max_cost"
	KindCost    Kind = "cost"
	KindError   Kind = "error"
)

// Data is the tagged result of Calculate. Only the fields relevant to Kind
// are meaningful; BaseMsats/InputMsats/OutputMsats/TotalMsats are always
// msats, matching the "cost" object injected into responses (spec §6).
type Data struct {
	Kind        Kind
	BaseMsats   int64
	InputMsats  int64
	OutputMsats int64
	TotalMsats  int64
	ErrorCode   string
}

// usage is the subset of an OpenAI-compatible chat-completion response
// this package reads.
type usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type upstreamResponse struct {
	Model string `json:"model"`
	Usage *usage `json:"usage"`
}

// Calculate implements spec §4.E: if the response carries no usage object,
// the reservation stands as the final cost (finalize-at-max). Otherwise the
// model's sats-per-token rates are applied to the reported token counts.
func Calculate(catalog *pricing.Catalog, rawResponse []byte, deductedMaxMsats int64) (Data, error) {
	var resp upstreamResponse
	if err := json.Unmarshal(rawResponse, &resp); err != nil || resp.Usage == nil {
		return Data{Kind: KindMaxCost, TotalMsats: deductedMaxMsats}, nil
	}

	model, ok := catalog.GetModel(resp.Model)
	if !ok {
		return Data{Kind: KindError, ErrorCode: "model_not_found"}, ErrModelNotFound
	}

	if model.SatsPricing == (database.Pricing{}) {
		return Data{Kind: KindError, ErrorCode: "pricing_not_found"}, ErrPricingNotFound
	}

	rates := model.SatsPricing
	inputMsats := roundHalfAwayFromZero(float64(resp.Usage.PromptTokens) * rates.Prompt * 1000)
	outputMsats := roundHalfAwayFromZero(float64(resp.Usage.CompletionTokens) * rates.Completion * 1000)
	baseMsats := roundHalfAwayFromZero(rates.Request * 1000)

	return Data{
		Kind:        KindCost,
		BaseMsats:   baseMsats,
		InputMsats:  inputMsats,
		OutputMsats: outputMsats,
		TotalMsats:  baseMsats + inputMsats + outputMsats,
	}, nil
}

// roundHalfAwayFromZero implements spec §4.E's rounding rule, which
// math.Round already provides for positive inputs; Go's definition of
// Round is half-away-from-zero for negative inputs too, so this is a
// thin, self-documenting wrapper rather than a reimplementation.
func roundHalfAwayFromZero(x float64) int64 {
	return int64(math.Round(x))
}
