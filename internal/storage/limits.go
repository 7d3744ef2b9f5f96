package storage

import (
	"context"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// ListArmed returns limit orders eligible for evaluation: armed rows whose
// retry backoff, if any, has elapsed.
func (s *Store) ListArmed(ctx context.Context, now time.Time) ([]core.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, from_asset, from_network, to_asset, to_network,
		       amount, target_price, condition, ref_asset, ref_chain,
		       status, retry_count, retry_after, last_error, created_at
		FROM limit_orders
		WHERE status = 'armed' AND (retry_after IS NULL OR retry_after <= $1)
		ORDER BY id`,
		now)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_armed", Err: err}
	}
	defer rows.Close()

	var orders []core.LimitOrder
	for rows.Next() {
		var lo core.LimitOrder
		var condition, status string
		if err := rows.Scan(&lo.ID, &lo.UserID, &lo.FromAsset, &lo.FromNetwork,
			&lo.ToAsset, &lo.ToNetwork, &lo.Amount, &lo.TargetPrice,
			&condition, &lo.RefAsset, &lo.RefChain, &status,
			&lo.RetryCount, &lo.RetryAfter, &lo.LastError, &lo.CreatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_limit_order", Err: err}
		}
		lo.Condition = core.LimitCondition(condition)
		lo.Status = core.LimitOrderStatus(status)
		orders = append(orders, lo)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_limit_orders", Err: err}
	}
	return orders, nil
}

// MarkTriggered flips an armed row to triggered. The WHERE clause makes
// the transition a compare-and-set so two workers racing on the same row
// produce exactly one trigger. triggered_at dates the claim so a crash
// between trigger and execution can be detected and reclaimed.
func (s *Store) MarkTriggered(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE limit_orders SET status = 'triggered', triggered_at = now()
		WHERE id = $1 AND status = 'armed'`,
		id)
	if err != nil {
		return &apperrors.PersistenceError{Op: "mark_triggered", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAlreadyClaimed
	}
	return nil
}

// MarkExecuting atomically records the created order, its watched
// registration, and the executing transition.
func (s *Store) MarkExecuting(ctx context.Context, lo *core.LimitOrder, order *core.Order) error {
	return s.withTx(ctx, "mark_executing", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (external_id, user_id, from_asset, from_network, from_amount,
			                    to_asset, to_network, settle_amount, deposit_address, deposit_memo,
			                    status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			RETURNING id`,
			order.ExternalID, order.UserID, order.FromAsset, order.FromNetwork, order.FromAmount,
			order.ToAsset, order.ToNetwork, order.SettleAmount, order.DepositAddress, order.DepositMemo,
			string(order.Status), order.CreatedAt,
		).Scan(&order.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.ErrDuplicateOrder
			}
			return &apperrors.PersistenceError{Op: "mark_executing", Err: err}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO watched_orders (sideshift_order_id, user_id, last_status, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (sideshift_order_id) DO NOTHING`,
			order.ExternalID, order.UserID, string(order.Status), order.CreatedAt); err != nil {
			return &apperrors.PersistenceError{Op: "mark_executing", Err: err}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE limit_orders SET status = 'executing', triggered_at = NULL WHERE id = $1`,
			lo.ID); err != nil {
			return &apperrors.PersistenceError{Op: "mark_executing", Err: err}
		}
		return nil
	})
}

// RecordFailure re-arms a triggered row with an incremented retry count
// and a backoff deadline.
func (s *Store) RecordFailure(ctx context.Context, id int64, retryCount int, retryAfter time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE limit_orders
		SET status = 'armed', retry_count = $2, retry_after = $3, last_error = $4,
		    triggered_at = NULL
		WHERE id = $1`,
		id, retryCount, retryAfter, lastError)
	if err != nil {
		return &apperrors.PersistenceError{Op: "record_failure", Err: err}
	}
	return nil
}

// MarkDead retires a row that exhausted its retry budget.
func (s *Store) MarkDead(ctx context.Context, id int64, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE limit_orders SET status = 'dead', last_error = $2, triggered_at = NULL
		WHERE id = $1`,
		id, lastError)
	if err != nil {
		return &apperrors.PersistenceError{Op: "mark_dead", Err: err}
	}
	return nil
}

// ReclaimStuckTriggered re-arms rows whose trigger claim went stale: the
// claiming worker crashed, or its terminal write failed, between
// MarkTriggered and the executing or re-armed transition. Without this
// sweep such rows are invisible to ListArmed forever.
func (s *Store) ReclaimStuckTriggered(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE limit_orders
		SET status = 'armed', triggered_at = NULL
		WHERE status = 'triggered' AND triggered_at <= $1`,
		olderThan)
	if err != nil {
		return 0, &apperrors.PersistenceError{Op: "reclaim_stuck_triggered", Err: err}
	}
	return tag.RowsAffected(), nil
}

// InsertLimitOrder persists a new armed intent.
func (s *Store) InsertLimitOrder(ctx context.Context, lo *core.LimitOrder) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO limit_orders (user_id, from_asset, from_network, to_asset, to_network,
		                          amount, target_price, condition, ref_asset, ref_chain, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'armed')
		RETURNING id, created_at`,
		lo.UserID, lo.FromAsset, lo.FromNetwork, lo.ToAsset, lo.ToNetwork,
		lo.Amount, lo.TargetPrice, string(lo.Condition), lo.RefAsset, lo.RefChain,
	).Scan(&lo.ID, &lo.CreatedAt)
	if err != nil {
		return &apperrors.PersistenceError{Op: "insert_limit_order", Err: err}
	}
	lo.Status = core.LimitArmed
	return nil
}
