package storage

import (
	"context"
	"errors"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// GetSnapshot returns the cached price for one asset, or ErrNotFound if
// the refresher has never written it.
func (s *Store) GetSnapshot(ctx context.Context, asset, chain string) (*core.PriceSnapshot, error) {
	var ps core.PriceSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT asset, chain, price, updated_at, expires_at
		FROM price_snapshots
		WHERE asset = $1 AND chain = $2`,
		asset, chain,
	).Scan(&ps.Asset, &ps.Chain, &ps.Price, &ps.UpdatedAt, &ps.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, &apperrors.PersistenceError{Op: "get_snapshot", Err: err}
	}
	return &ps, nil
}

// UpsertSnapshot writes the refreshed price, replacing any prior row.
func (s *Store) UpsertSnapshot(ctx context.Context, ps *core.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_snapshots (asset, chain, price, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset, chain) DO UPDATE
		SET price = EXCLUDED.price,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at`,
		ps.Asset, ps.Chain, ps.Price, ps.UpdatedAt, ps.ExpiresAt)
	if err != nil {
		return &apperrors.PersistenceError{Op: "upsert_snapshot", Err: err}
	}
	return nil
}

// ListSnapshotKeys returns the distinct (asset, chain) pairs referenced by
// armed limit orders, which is the refresher's working set.
func (s *Store) ListSnapshotKeys(ctx context.Context) ([][2]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ref_asset, ref_chain FROM limit_orders WHERE status = 'armed'`)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_snapshot_keys", Err: err}
	}
	defer rows.Close()

	var keys [][2]string
	for rows.Next() {
		var asset, chain string
		if err := rows.Scan(&asset, &chain); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_snapshot_key", Err: err}
		}
		keys = append(keys, [2]string{asset, chain})
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_snapshot_keys", Err: err}
	}
	return keys, nil
}
