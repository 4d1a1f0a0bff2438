package database

import "time"

// RefundUnit is the currency a Key's balance is refunded in.
type RefundUnit string

const (
	UnitSat  RefundUnit = "sat"
	UnitMsat RefundUnit = "msat"
)

// Key is the ledger row described in spec §3: a per-credential two-bucket
// balance record. hashed_key is the primary key and is immutable after
// creation.
type Key struct {
	HashedKey        string     `json:"hashed_key" db:"hashed_key"`
	Balance          int64      `json:"balance" db:"balance"`                   // msats, never negative
	ReservedBalance  int64      `json:"reserved_balance" db:"reserved_balance"` // msats, never negative
	TotalSpent       int64      `json:"total_spent" db:"total_spent"`
	TotalRequests    int64      `json:"total_requests" db:"total_requests"`
	RefundAddress    *string    `json:"refund_address,omitempty" db:"refund_address"`
	RefundUnit       RefundUnit `json:"refund_unit" db:"refund_unit"`
	RefundMint       *string    `json:"refund_mint,omitempty" db:"refund_mint"`
	KeyExpiryTime    *int64     `json:"key_expiry_time,omitempty" db:"key_expiry_time"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// GetSats returns the balance converted from msats to sats for display.
func (k *Key) GetSats() int64 {
	return k.Balance / 1000
}

// Architecture describes a model's modality, grounded in the upstream
// catalog's architecture object (input/output modalities, tokenizer).
type Architecture struct {
	Modality     string `json:"modality,omitempty"`
	InputModes   string `json:"input_modalities,omitempty"`
	OutputModes  string `json:"output_modalities,omitempty"`
	Tokenizer    string `json:"tokenizer,omitempty"`
}

// Pricing holds per-unit rates plus the derived worst-case totals. The
// per-unit fields are expressed in the struct's own unit (USD or sats,
// see Model.USDPricing/SatsPricing); max_* fields are totals.
type Pricing struct {
	Prompt             float64 `json:"prompt"`
	Completion         float64 `json:"completion"`
	Request            float64 `json:"request"`
	Image              float64 `json:"image"`
	WebSearch          float64 `json:"web_search"`
	InternalReasoning  float64 `json:"internal_reasoning"`
	MaxPromptCost      float64 `json:"max_prompt_cost"`
	MaxCompletionCost  float64 `json:"max_completion_cost"`
	MaxCost            float64 `json:"max_cost"`
}

// TopProvider carries the context window bounds used by the max-cost
// derivation algorithm (spec §3).
type TopProvider struct {
	ContextLength      *int64 `json:"context_length,omitempty"`
	MaxCompletionTokens *int64 `json:"max_completion_tokens,omitempty"`
}

// Model is a pricing catalog row, keyed by the upstream model id.
type Model struct {
	ID           string       `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Architecture Architecture `json:"architecture" db:"-"`
	TopProvider  TopProvider  `json:"top_provider" db:"-"`
	USDPricing   Pricing      `json:"usd_pricing" db:"-"`
	SatsPricing  Pricing      `json:"sats_pricing" db:"-"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// Settings is the singleton configuration-override row named in spec §6.
// Operators may tune a handful of pricing knobs at runtime without a
// redeploy; everything else is process-start env/toml config.
type Settings struct {
	ID                  int     `json:"id" db:"id"`
	FixedPricing        bool    `json:"fixed_pricing" db:"fixed_pricing"`
	FixedCostPerRequest int64   `json:"fixed_cost_per_request_sats" db:"fixed_cost_per_request_sats"`
	FixedPer1kInput     int64   `json:"fixed_per_1k_input_tokens_sats" db:"fixed_per_1k_input_tokens_sats"`
	FixedPer1kOutput    int64   `json:"fixed_per_1k_output_tokens_sats" db:"fixed_per_1k_output_tokens_sats"`
	ExchangeFee         float64 `json:"exchange_fee" db:"exchange_fee"`
	UpstreamProviderFee float64 `json:"upstream_provider_fee" db:"upstream_provider_fee"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
