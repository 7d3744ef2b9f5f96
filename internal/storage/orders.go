package storage

import (
	"context"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// InsertOrder persists a new order row. Duplicate external IDs surface as
// ErrDuplicateOrder so callers can treat re-creation as idempotent.
func (s *Store) InsertOrder(ctx context.Context, o *core.Order) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO orders (external_id, user_id, from_asset, from_network, from_amount,
		                    to_asset, to_network, settle_amount, deposit_address, deposit_memo,
		                    status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		o.ExternalID, o.UserID, o.FromAsset, o.FromNetwork, o.FromAmount,
		o.ToAsset, o.ToNetwork, o.SettleAmount, o.DepositAddress, o.DepositMemo,
		string(o.Status), o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateOrder
		}
		return &apperrors.PersistenceError{Op: "insert_order", Err: err}
	}
	return nil
}

// UpdateOrderStatus records an observed transition on the order row.
func (s *Store) UpdateOrderStatus(ctx context.Context, externalID string, status core.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE external_id = $1`,
		externalID, string(status))
	if err != nil {
		return &apperrors.PersistenceError{Op: "update_order_status", Err: err}
	}
	return nil
}

// ListNonTerminalOrders returns every order still in flight.
func (s *Store) ListNonTerminalOrders(ctx context.Context) ([]core.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_id, user_id, from_asset, from_network, from_amount,
		       to_asset, to_network, settle_amount, deposit_address, deposit_memo,
		       status, created_at, updated_at
		FROM orders
		WHERE status NOT IN ('settled', 'expired', 'refunded', 'failed')
		ORDER BY created_at`)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_nonterminal_orders", Err: err}
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrdersByUser returns a page of the user's swap history, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]core.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_id, user_id, from_asset, from_network, from_amount,
		       to_asset, to_network, settle_amount, deposit_address, deposit_memo,
		       status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_orders_by_user", Err: err}
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]core.Order, error) {
	var orders []core.Order
	for rows.Next() {
		var o core.Order
		var status string
		if err := rows.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.FromAsset, &o.FromNetwork,
			&o.FromAmount, &o.ToAsset, &o.ToNetwork, &o.SettleAmount, &o.DepositAddress,
			&o.DepositMemo, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_order", Err: err}
		}
		o.Status = core.Status(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_orders", Err: err}
	}
	return orders, nil
}

// UpsertWatchedOrder inserts the durable monitoring registration.
// Idempotent: a conflicting row is left untouched.
func (s *Store) UpsertWatchedOrder(ctx context.Context, w *core.WatchedOrder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watched_orders (sideshift_order_id, user_id, last_status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sideshift_order_id) DO NOTHING`,
		w.ExternalID, w.UserID, string(w.LastStatus), w.CreatedAt)
	if err != nil {
		return &apperrors.PersistenceError{Op: "upsert_watched_order", Err: err}
	}
	return nil
}

// UpdateWatchedStatus records the last-known status on the registration.
func (s *Store) UpdateWatchedStatus(ctx context.Context, externalID string, status core.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE watched_orders SET last_status = $2 WHERE sideshift_order_id = $1`,
		externalID, string(status))
	if err != nil {
		return &apperrors.PersistenceError{Op: "update_watched_status", Err: err}
	}
	return nil
}

// ListWatchedOrders returns every registration whose last status is not
// terminal.
func (s *Store) ListWatchedOrders(ctx context.Context) ([]core.WatchedOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sideshift_order_id, user_id, last_status, created_at
		FROM watched_orders
		WHERE last_status NOT IN ('settled', 'expired', 'refunded', 'failed')`)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_watched_orders", Err: err}
	}
	defer rows.Close()

	var watched []core.WatchedOrder
	for rows.Next() {
		var w core.WatchedOrder
		var status string
		if err := rows.Scan(&w.ExternalID, &w.UserID, &status, &w.CreatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_watched_order", Err: err}
		}
		w.LastStatus = core.Status(status)
		watched = append(watched, w)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_watched_orders", Err: err}
	}
	return watched, nil
}

// AppendStatusLog writes one append-only audit row.
func (s *Store) AppendStatusLog(ctx context.Context, e *core.StatusLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO status_log (order_id, old_status, new_status, fingerprint)
		VALUES ($1, $2, $3, $4)`,
		e.OrderID, string(e.OldStatus), string(e.NewStatus), e.Fingerprint)
	if err != nil {
		return &apperrors.PersistenceError{Op: "append_status_log", Err: err}
	}
	return nil
}
