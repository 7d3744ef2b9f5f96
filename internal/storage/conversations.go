package storage

import (
	"context"
	"errors"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict reports a lost optimistic-concurrency race on a
// conversation. Callers reload and retry.
var ErrVersionConflict = errors.New("conversation version conflict")

// GetConversation returns the user's conversation, creating an empty one
// on first contact.
func (s *Store) GetConversation(ctx context.Context, userID string) (*core.Conversation, error) {
	var c core.Conversation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, state, version, updated_at`,
		userID,
	).Scan(&c.ID, &c.UserID, &c.State, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "get_conversation", Err: err}
	}
	return &c, nil
}

// UpdateConversation persists new state plus appended messages in one
// transaction. The row is locked FOR UPDATE and the write is guarded by a
// version compare-and-set, so a concurrent writer loses cleanly with
// ErrVersionConflict instead of silently clobbering state.
func (s *Store) UpdateConversation(ctx context.Context, c *core.Conversation, messages []core.ChatMessage) error {
	return s.withTx(ctx, "update_conversation", func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx, `
			SELECT version FROM conversations WHERE id = $1 FOR UPDATE`,
			c.ID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.ErrNotFound
			}
			return &apperrors.PersistenceError{Op: "update_conversation", Err: err}
		}
		if current != c.Version {
			return ErrVersionConflict
		}

		if _, err := tx.Exec(ctx, `
			UPDATE conversations
			SET state = $2, version = version + 1, updated_at = now()
			WHERE id = $1`,
			c.ID, c.State); err != nil {
			return &apperrors.PersistenceError{Op: "update_conversation", Err: err}
		}

		for i := range messages {
			m := &messages[i]
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_messages (conversation_id, user_id, role, content)
				VALUES ($1, $2, $3, $4)`,
				c.ID, m.UserID, m.Role, m.Content); err != nil {
				return &apperrors.PersistenceError{Op: "update_conversation", Err: err}
			}
		}

		c.Version = current + 1
		return nil
	})
}

// ListChatMessages returns a user's chat history, oldest first, paged.
func (s *Store) ListChatMessages(ctx context.Context, userID string, limit, offset int) ([]core.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.created_at
		FROM chat_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = $1
		ORDER BY m.id
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "list_chat_messages", Err: err}
	}
	defer rows.Close()

	var messages []core.ChatMessage
	for rows.Next() {
		var m core.ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role,
			&m.Content, &m.CreatedAt); err != nil {
			return nil, &apperrors.PersistenceError{Op: "scan_chat_message", Err: err}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: "scan_chat_messages", Err: err}
	}
	return messages, nil
}
