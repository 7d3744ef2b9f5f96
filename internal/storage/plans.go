package storage

import (
	"context"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// ClaimDuePlans atomically claims every active plan that is due. The
// SELECT takes row locks with SKIP LOCKED so concurrent schedulers
// partition the due set instead of colliding, and next_execution_at is
// pushed forward by sentinel in the same transaction. A claimed plan is
// invisible to other instances until the sentinel expires, so a crashed
// claimant's rows are retried rather than lost.
func (s *Store) ClaimDuePlans(ctx context.Context, now time.Time, sentinel time.Duration) ([]core.DCAPlan, error) {
	var plans []core.DCAPlan
	err := s.withTx(ctx, "claim_due_plans", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, user_id, from_asset, from_network, to_asset, to_network,
			       amount, interval_hours, next_execution_at, is_active, executed_count
			FROM dca_plans
			WHERE is_active AND next_execution_at <= $1
			ORDER BY next_execution_at
			FOR UPDATE SKIP LOCKED`,
			now)
		if err != nil {
			return &apperrors.PersistenceError{Op: "claim_due_plans", Err: err}
		}
		plans, err = scanPlans(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			return nil
		}

		ids := make([]int64, len(plans))
		for i := range plans {
			ids[i] = plans[i].ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE dca_plans SET next_execution_at = $2 WHERE id = ANY($1)`,
			ids, now.Add(sentinel)); err != nil {
			return &apperrors.PersistenceError{Op: "claim_due_plans", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// ReschedulePlan moves a claimed plan's next execution without recording
// a completed run. Used when an execution attempt fails transiently.
func (s *Store) ReschedulePlan(ctx context.Context, planID int64, next time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dca_plans SET next_execution_at = $2 WHERE id = $1`,
		planID, next)
	if err != nil {
		return &apperrors.PersistenceError{Op: "reschedule_plan", Err: err}
	}
	return nil
}

// CompleteExecution records a successful run in one transaction: the
// created order, its watched registration, the executed_count increment,
// and the next schedule all land together or not at all.
func (s *Store) CompleteExecution(ctx context.Context, plan *core.DCAPlan, order *core.Order, next time.Time) error {
	return s.withTx(ctx, "complete_execution", func(tx pgx.Tx) error {
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
			return &apperrors.PersistenceError{Op: "complete_execution", Err: err}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO watched_orders (sideshift_order_id, user_id, last_status, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (sideshift_order_id) DO NOTHING`,
			order.ExternalID, order.UserID, string(order.Status), order.CreatedAt); err != nil {
			return &apperrors.PersistenceError{Op: "complete_execution", Err: err}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE dca_plans
			SET executed_count = executed_count + 1, next_execution_at = $2
			WHERE id = $1`,
			plan.ID, next); err != nil {
			return &apperrors.PersistenceError{Op: "complete_execution", Err: err}
		}
		return nil
	})
}

// InsertPlan persists a new plan.
func (s *Store) InsertPlan(ctx context.Context, p *core.DCAPlan) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dca_plans (user_id, from_asset, from_network, to_asset, to_network,
		                       amount, interval_hours, next_execution_at, is_active, executed_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
		RETURNING id`,
		p.UserID, p.FromAsset, p.FromNetwork, p.ToAsset, p.ToNetwork,
		p.Amount, p.IntervalHours, p.NextExecutionAt, p.IsActive,
	).Scan(&p.ID)
	if err != nil {
		return &apperrors.PersistenceError{Op: "insert_plan", Err: err}
	}
	return nil
}

// DeactivatePlan turns a plan off without deleting its history.
func (s *Store) DeactivatePlan(ctx context.Context, planID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dca_plans SET is_active = false WHERE id = $1`,
		planID)
	if err != nil {
		return &apperrors.PersistenceError{Op: "deactivate_plan", Err: err}
	}
	return nil
}

func scanPlans(rows pgx.Rows) ([]core.DCAPlan, error) {
	var plans []core.DCAPlan
	for rows.Next() {
		var p core.DCAPlan
		if err := rows.Scan(&p.ID, &p.UserID, &p.FromAsset, &p.FromNetwork,
			&p.ToAsset, &p.ToNetwork, &p.Amount, &p.IntervalHours,
			&p.NextExecutionAt, &p.IsActive, &p.ExecutedCount); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_plan", Err: err}
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_plans", Err: err}
	}
	return plans, nil
}
