package storage

import (
	"context"
	"errors"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// defaultSlippage matches the schema default for user_settings.
var defaultSlippage = decimal.RequireFromString("0.0050")

// GetUser returns one user, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (*core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, settle_address, refund_address, coin_balance, is_admin, created_at
		FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.SettleAddress, &u.RefundAddress, &u.CoinBalance, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, &apperrors.PersistenceError{Op: "get_user", Err: err}
	}
	return &u, nil
}

// EnsureUser creates the user row on first contact. Existing rows are
// left untouched.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		userID)
	if err != nil {
		return &apperrors.PersistenceError{Op: "ensure_user", Err: err}
	}
	return nil
}

// GetSettings returns the user's settings, falling back to defaults when
// no row exists yet.
func (s *Store) GetSettings(ctx context.Context, userID string) (*core.UserSettings, error) {
	var st core.UserSettings
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, slippage_tolerance, default_network, notify_on_settle
		FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(&st.UserID, &st.SlippageTolerance, &st.DefaultNetwork, &st.NotifyOnSettle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return defaultSettings(userID), nil
		}
		return nil, &apperrors.PersistenceError{Op: "get_settings", Err: err}
	}
	return &st, nil
}

// UpsertSettings replaces the user's settings.
func (s *Store) UpsertSettings(ctx context.Context, st *core.UserSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, slippage_tolerance, default_network, notify_on_settle)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET slippage_tolerance = EXCLUDED.slippage_tolerance,
		    default_network = EXCLUDED.default_network,
		    notify_on_settle = EXCLUDED.notify_on_settle`,
		st.UserID, st.SlippageTolerance, st.DefaultNetwork, st.NotifyOnSettle)
	if err != nil {
		return &apperrors.PersistenceError{Op: "upsert_settings", Err: err}
	}
	return nil
}

func defaultSettings(userID string) *core.UserSettings {
	return &core.UserSettings{
		UserID:            userID,
		SlippageTolerance: defaultSlippage,
		DefaultNetwork:    "",
		NotifyOnSettle:    true,
	}
}
