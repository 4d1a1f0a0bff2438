package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSettingsNotFound is returned before the singleton row has been seeded.
var ErrSettingsNotFound = errors.New("settings not found")

// SettingsRepository persists the single-row runtime override table named
// in spec §6. There is exactly one row, id=1, upserted by EnsureDefaults.
type SettingsRepository struct {
	db *pgxpool.Pool
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db.pool}
}

func scanSettings(row pgx.Row) (*Settings, error) {
	var s Settings
	err := row.Scan(
		&s.ID, &s.FixedPricing, &s.FixedCostPerRequest, &s.FixedPer1kInput, &s.FixedPer1kOutput,
		&s.ExchangeFee, &s.UpstreamProviderFee, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) Get(ctx context.Context) (*Settings, error) {
	query := `SELECT id, fixed_pricing, fixed_cost_per_request_sats, fixed_per_1k_input_tokens_sats,
		fixed_per_1k_output_tokens_sats, exchange_fee, upstream_provider_fee, updated_at
		FROM settings WHERE id = 1`
	s, err := scanSettings(r.db.QueryRow(ctx, query))
	if err != nil && !errors.Is(err, ErrSettingsNotFound) {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, err
}

// EnsureDefaults seeds the id=1 row from process-start config the first
// time the service boots against an empty settings table; afterwards the
// DB row (editable via the admin surface, out of this core's scope) wins.
func (r *SettingsRepository) EnsureDefaults(ctx context.Context, defaults Settings) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (id, fixed_pricing, fixed_cost_per_request_sats, fixed_per_1k_input_tokens_sats,
			fixed_per_1k_output_tokens_sats, exchange_fee, upstream_provider_fee, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		defaults.FixedPricing, defaults.FixedCostPerRequest, defaults.FixedPer1kInput, defaults.FixedPer1kOutput,
		defaults.ExchangeFee, defaults.UpstreamProviderFee, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	return nil
}
