package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrModelNotFound is returned when a model id is not present in the catalog.
var ErrModelNotFound = errors.New("model not found")

// ModelRepository persists the pricing model catalog (component A). The
// nested Architecture/TopProvider/Pricing structs are stored as JSONB
// columns; Go types round-trip through json.Marshal the same way the
// teacher stores flat scalar columns, just one level deeper.
type ModelRepository struct {
	db *pgxpool.Pool
}

func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db.pool}
}

func scanModel(row pgx.Row) (*Model, error) {
	var m Model
	var arch, top, usd, sats []byte
	err := row.Scan(&m.ID, &m.Name, &arch, &top, &usd, &sats, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(arch, &m.Architecture); err != nil {
		return nil, fmt.Errorf("failed to decode architecture: %w", err)
	}
	if err := json.Unmarshal(top, &m.TopProvider); err != nil {
		return nil, fmt.Errorf("failed to decode top_provider: %w", err)
	}
	if err := json.Unmarshal(usd, &m.USDPricing); err != nil {
		return nil, fmt.Errorf("failed to decode usd_pricing: %w", err)
	}
	if err := json.Unmarshal(sats, &m.SatsPricing); err != nil {
		return nil, fmt.Errorf("failed to decode sats_pricing: %w", err)
	}
	return &m, nil
}

// Upsert inserts a model or replaces its catalog data if it already exists.
// Used by the catalog bootstrap (new models) and the periodic USD→sats
// refresh (existing models), see internal/pricing.
func (r *ModelRepository) Upsert(ctx context.Context, m *Model) error {
	arch, err := json.Marshal(m.Architecture)
	if err != nil {
		return fmt.Errorf("failed to encode architecture: %w", err)
	}
	top, err := json.Marshal(m.TopProvider)
	if err != nil {
		return fmt.Errorf("failed to encode top_provider: %w", err)
	}
	usd, err := json.Marshal(m.USDPricing)
	if err != nil {
		return fmt.Errorf("failed to encode usd_pricing: %w", err)
	}
	sats, err := json.Marshal(m.SatsPricing)
	if err != nil {
		return fmt.Errorf("failed to encode sats_pricing: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO models (id, name, architecture, top_provider, usd_pricing, sats_pricing, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			architecture = EXCLUDED.architecture,
			top_provider = EXCLUDED.top_provider,
			usd_pricing = EXCLUDED.usd_pricing,
			sats_pricing = EXCLUDED.sats_pricing,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, arch, top, usd, sats, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", m.ID, err)
	}
	return nil
}

// UpdateSatsPricing rewrites only the sats_pricing column, the write the
// periodic refresh loop performs without touching USD pricing or metadata.
func (r *ModelRepository) UpdateSatsPricing(ctx context.Context, id string, sats Pricing) error {
	encoded, err := json.Marshal(sats)
	if err != nil {
		return fmt.Errorf("failed to encode sats_pricing: %w", err)
	}
	commandTag, err := r.db.Exec(ctx,
		`UPDATE models SET sats_pricing = $2, updated_at = $3 WHERE id = $1`,
		id, encoded, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update sats pricing for %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrModelNotFound
	}
	return nil
}

func (r *ModelRepository) GetByID(ctx context.Context, id string) (*Model, error) {
	query := `SELECT id, name, architecture, top_provider, usd_pricing, sats_pricing, updated_at FROM models WHERE id = $1`
	m, err := scanModel(r.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrModelNotFound) {
		return nil, fmt.Errorf("failed to get model %s: %w", id, err)
	}
	return m, err
}

func (r *ModelRepository) List(ctx context.Context) ([]*Model, error) {
	query := `SELECT id, name, architecture, top_provider, usd_pricing, sats_pricing, updated_at FROM models ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return models, nil
}

// Count returns the number of catalog rows, used to decide whether
// bootstrap needs to run (spec §4.A).
func (r *ModelRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM models`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count models: %w", err)
	}
	return n, nil
}
