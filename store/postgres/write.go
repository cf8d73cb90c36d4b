package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rbaliyan/workspace-mailbox/store"
)

// Insert stores a new message and returns it with its assigned id.
func (s *Store) Insert(ctx context.Context, data store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (workspace_id, mailbox_id, type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, s.opts.table, messageColumns)

	var row messageRow
	err := s.db.GetContext(ctx, &row, query,
		data.WorkspaceID, nullString(data.MailboxID), string(data.Type), []byte(data.NormalizedPayload()))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return row.toMessage(), nil
}

// MarkHandled sets handled_at if it is not already set. The conditional
// UPDATE is the linearization point: among concurrent callers exactly one
// gets a row back. Losers re-read the row to report its current state.
func (s *Store) MarkHandled(ctx context.Context, workspaceID string, id int64) (*store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if id <= 0 {
		return nil, false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := fmt.Sprintf(`
		UPDATE %s
		SET handled_at = NOW()
		WHERE workspace_id = $1 AND message_id = $2 AND handled_at IS NULL
		RETURNING %s
	`, s.opts.table, messageColumns)

	var row messageRow
	err := s.db.GetContext(ctx, &row, update, workspaceID, id)
	if err == nil {
		return row.toMessage(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("mark handled: %w", err)
	}

	// Either already handled or absent from this workspace.
	current, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, false, err
	}
	if current.HandledAt == nil {
		return nil, false, fmt.Errorf("mark handled: message %d still pending after update", id)
	}
	return current, false, nil
}

// Delete permanently removes a message.
func (s *Store) Delete(ctx context.Context, workspaceID string, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE workspace_id = $1 AND message_id = $2
		RETURNING %s
	`, s.opts.table, messageColumns)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, workspaceID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return row.toMessage(), nil
}

// DeleteMany removes every listed message present in the workspace in a
// single statement.
func (s *Store) DeleteMany(ctx context.Context, workspaceID string, ids []int64) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*store.Message{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE workspace_id = $1 AND message_id = ANY($2)
		RETURNING %s
	`, s.opts.table, messageColumns)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, workspaceID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	return toMessages(rows), nil
}
