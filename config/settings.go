package config

// Settings holds every recognized environment input from spec §6. It is
// loaded once at process start via Load and handed to each component's
// constructor; nothing below is re-read after boot (the Settings table in
// Postgres is the mechanism for runtime-tunable pricing knobs, see
// internal/database.Settings).
type Settings struct {
	Environment string `toml:"environment" env:"ENVIRONMENT" env-default:"development"`

	DatabaseURL string `toml:"database_url" env:"DATABASE_URL"`

	Redis struct {
		Host     string `toml:"host" env:"REDIS_HOST" env-default:"localhost"`
		Port     string `toml:"port" env:"REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	UpstreamBaseURL string `toml:"upstream_base_url" env:"UPSTREAM_BASE_URL"`
	UpstreamAPIKey  string `toml:"upstream_api_key" env:"UPSTREAM_API_KEY"`

	CashuMints       string `toml:"cashu_mints" env:"CASHU_MINTS"`
	ReceiveLNAddress string `toml:"receive_ln_address" env:"RECEIVE_LN_ADDRESS"`
	AdminPassword    string `toml:"admin_password" env:"ADMIN_PASSWORD"`

	FixedPricing          bool    `toml:"fixed_pricing" env:"FIXED_PRICING" env-default:"false"`
	FixedCostPerRequest   int64   `toml:"fixed_cost_per_request" env:"FIXED_COST_PER_REQUEST" env-default:"1"`
	FixedPer1kInputTokens int64   `toml:"fixed_per_1k_input_tokens" env:"FIXED_PER_1K_INPUT_TOKENS" env-default:"0"`
	FixedPer1kOutputTokens int64  `toml:"fixed_per_1k_output_tokens" env:"FIXED_PER_1K_OUTPUT_TOKENS" env-default:"0"`
	ExchangeFee           float64 `toml:"exchange_fee" env:"EXCHANGE_FEE" env-default:"1.005"`
	UpstreamProviderFee   float64 `toml:"upstream_provider_fee" env:"UPSTREAM_PROVIDER_FEE" env-default:"1.05"`

	CORSOrigins string `toml:"cors_origins" env:"CORS_ORIGINS"`
	TorProxyURL string `toml:"tor_proxy_url" env:"TOR_PROXY_URL"`

	RefundCacheTTLSeconds int    `toml:"refund_cache_ttl_seconds" env:"REFUND_CACHE_TTL_SECONDS" env-default:"300"`
	ModelsPath            string `toml:"models_path" env:"MODELS_PATH"`

	// PricingRefreshIntervalSeconds is the base period of the catalog's
	// USD→sats refresh loop (spec §4.A); actual sleeps jitter ±10%.
	PricingRefreshIntervalSeconds int `toml:"pricing_refresh_interval_seconds" env:"PRICING_REFRESH_INTERVAL_SECONDS" env-default:"300"`

	// PayoutIntervalSeconds is the periodic treasury sweep period (spec §4.H).
	PayoutIntervalSeconds   int   `toml:"payout_interval_seconds" env:"PAYOUT_INTERVAL_SECONDS" env-default:"300"`
	PayoutThresholdSats     int64 `toml:"payout_threshold_sats" env:"PAYOUT_THRESHOLD_SATS" env-default:"210"`
	PayoutDevShareParts     int64 `toml:"payout_dev_share_ppm" env:"PAYOUT_DEV_SHARE_PPM" env-default:"0"`
	PayoutDevLNAddress      string `toml:"payout_dev_ln_address" env:"PAYOUT_DEV_LN_ADDRESS"`
}
