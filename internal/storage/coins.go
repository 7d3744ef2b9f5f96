package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Coin ledger actions.
const (
	CoinActionGift   = "gift"
	CoinActionDeduct = "deduct"
	CoinActionReset  = "reset"
)

// CoinStats is the aggregate view returned by the admin stats endpoint.
type CoinStats struct {
	TotalBalance decimal.Decimal
	UserCount    int64
	GiftedTotal  decimal.Decimal
	DeductTotal  decimal.Decimal
	LedgerRows   int64
}

// applyCoinAction computes the new balance and the ledger delta for one
// admin action. Deducts clamp at zero, and the ledger records what
// actually moved rather than what was requested, so the signed ledger
// always replays to the balance.
func applyCoinAction(balance decimal.Decimal, action string, amount decimal.Decimal) (newBalance, ledgerAmount decimal.Decimal, err error) {
	switch action {
	case CoinActionGift:
		return balance.Add(amount), amount, nil
	case CoinActionDeduct:
		newBalance = balance.Sub(amount)
		if newBalance.Sign() < 0 {
			newBalance = decimal.Zero
		}
		return newBalance, balance.Sub(newBalance), nil
	case CoinActionReset:
		return decimal.Zero, balance, nil
	default:
		return decimal.Zero, decimal.Zero, &apperrors.ValidationError{
			Fields:  []string{"action"},
			Message: fmt.Sprintf("unknown coin action %q", action),
		}
	}
}

// AdjustCoins applies one admin balance action and writes the matching
// ledger row in the same transaction.
func (s *Store) AdjustCoins(ctx context.Context, adminID, targetUserID, action string, amount decimal.Decimal, note string) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := s.withTx(ctx, "adjust_coins", func(tx pgx.Tx) error {
		var balance decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT coin_balance FROM users WHERE id = $1 FOR UPDATE`,
			targetUserID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.ErrNotFound
			}
			return &apperrors.PersistenceError{Op: "adjust_coins", Err: err}
		}

		var ledgerAmount decimal.Decimal
		newBalance, ledgerAmount, err = applyCoinAction(balance, action, amount)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET coin_balance = $2 WHERE id = $1`,
			targetUserID, newBalance); err != nil {
			return &apperrors.PersistenceError{Op: "adjust_coins", Err: err}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO coin_gift_logs (target_user_id, admin_id, action, amount, note)
			VALUES ($1, $2, $3, $4, $5)`,
			targetUserID, adminID, action, ledgerAmount, note); err != nil {
			return &apperrors.PersistenceError{Op: "adjust_coins", Err: err}
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// GiftAllCoins credits every user the same amount in one transaction and
// writes one ledger row per user. Returns the number of users credited.
func (s *Store) GiftAllCoins(ctx context.Context, adminID string, amount decimal.Decimal, note string) (int64, error) {
	var credited int64
	err := s.withTx(ctx, "gift_all_coins", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET coin_balance = coin_balance + $1`,
			amount)
		if err != nil {
			return &apperrors.PersistenceError{Op: "gift_all_coins", Err: err}
		}
		credited = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `
			INSERT INTO coin_gift_logs (target_user_id, admin_id, action, amount, note)
			SELECT id, $1, 'gift', $2, $3 FROM users`,
			adminID, amount, note); err != nil {
			return &apperrors.PersistenceError{Op: "gift_all_coins", Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credited, nil
}

// GetCoinStats aggregates balances and ledger totals.
func (s *Store) GetCoinStats(ctx context.Context) (*CoinStats, error) {
	var stats CoinStats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(coin_balance), 0), COUNT(*) FROM users`,
	).Scan(&stats.TotalBalance, &stats.UserCount)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "coin_stats", Err: err}
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE action = 'gift'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE action = 'deduct'), 0),
		       COUNT(*)
		FROM coin_gift_logs`,
	).Scan(&stats.GiftedTotal, &stats.DeductTotal, &stats.LedgerRows)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "coin_stats", Err: err}
	}
	return &stats, nil
}

// ListCoinLedger returns ledger rows for one user, newest first.
func (s *Store) ListCoinLedger(ctx context.Context, targetUserID string, limit int) ([]core.CoinGiftLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_user_id, admin_id, action, amount, note, created_at
		FROM coin_gift_logs
		WHERE target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		targetUserID, limit)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_coin_ledger", Err: err}
	}
	defer rows.Close()

	var logs []core.CoinGiftLog
	for rows.Next() {
		var l core.CoinGiftLog
		if err := rows.Scan(&l.ID, &l.TargetUserID, &l.AdminID, &l.Action,
			&l.Amount, &l.Note, &l.CreatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_coin_ledger", Err: err}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_coin_ledger", Err: err}
	}
	return logs, nil
}

// AppendAuditEntry writes one immutable admin action row.
func (s *Store) AppendAuditEntry(ctx context.Context, e *core.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_audit_log (admin_id, action, target_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.AdminID, e.Action, e.TargetID, e.Detail, e.CreatedAt)
	if err != nil {
		return &apperrors.PersistenceError{Op: "append_audit_entry", Err: err}
	}
	return nil
}
