package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// LibSQLConversationStore implements ConversationStore on the embedded libsql database.
// The schema lives in chatbot/db/migrations.
type LibSQLConversationStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLConversationStore wraps an open, migrated database.
func NewLibSQLConversationStore(db *sql.DB) *LibSQLConversationStore {
	return &LibSQLConversationStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ensure creates the conversation row if it is missing.
func (s *LibSQLConversationStore) Ensure(ctx context.Context, conversationID string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at
	`, conversationID, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation: %w", err)
	}
	return nil
}

// Exists reports whether the conversation row exists.
func (s *LibSQLConversationStore) Exists(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up conversation: %w", err)
	}
	return true, nil
}

// LoadTurns loads the whole transcript in append order.
func (s *LibSQLConversationStore) LoadTurns(ctx context.Context, conversationID string) ([]ports.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []ports.Turn{}
	for rows.Next() {
		var (
			turn ports.Turn
			role string
		)
		if err := rows.Scan(&role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = ports.Role(role)
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

// SaveTurns appends turns in a single transaction so a pair is never half written.
func (s *LibSQLConversationStore) SaveTurns(ctx context.Context, conversationID string, turns ...ports.Turn) (err error) {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at
	`, conversationID, now, now); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	var next int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE conversation_id = ?`,
		conversationID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	for _, turn := range turns {
		next++
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (conversation_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, conversationID, next, string(turn.Role), turn.Content, createdAt.UTC()); err != nil {
			return fmt.Errorf("failed to save turn: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turns: %w", err)
	}
	return nil
}

// Delete removes the conversation and, by cascade, its turns.
func (s *LibSQLConversationStore) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// IdleSince lists conversations last active before cutoff.
func (s *LibSQLConversationStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations WHERE last_active_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query idle conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return ids, nil
}

// DeleteIfIdle deletes the conversation only while last_active_at is still
// before cutoff. The check and the delete are one statement.
func (s *LibSQLConversationStore) DeleteIfIdle(ctx context.Context, conversationID string, cutoff time.Time) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !deleted {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND last_active_at < ?`, conversationID, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_id = ?`, conversationID); err != nil {
		return false, fmt.Errorf("failed to delete turns: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *LibSQLConversationStore) Close() error {
	return s.db.Close()
}

var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)
