package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Get retrieves a message by ID within a workspace.
func (s *Store) Get(ctx context.Context, workspaceID string, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE workspace_id = $1 AND message_id = $2
	`, messageColumns, s.opts.table)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, workspaceID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toMessage(), nil
}

// Find retrieves messages matching the filter, newest first.
func (s *Store) Find(ctx context.Context, workspaceID string, filter store.Filter, opts store.ListOptions) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := buildWhereClause(workspaceID, filter)

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, message_id DESC`,
		messageColumns, s.opts.table, where)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, b.String(), args...); err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return toMessages(rows), nil
}

// Count returns the number of messages matching the filter.
func (s *Store) Count(ctx context.Context, workspaceID string, filter store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := buildWhereClause(workspaceID, filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)

	var total int64
	if err := s.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}

// buildWhereClause always scopes to the workspace and adds one condition per
// set filter field.
func buildWhereClause(workspaceID string, filter store.Filter) (string, []any) {
	conds := []string{"workspace_id = $1"}
	args := []any{workspaceID}

	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.MailboxID != nil {
		args = append(args, *filter.MailboxID)
		conds = append(conds, fmt.Sprintf("mailbox_id = $%d", len(args)))
	}
	if filter.MessageID != nil {
		args = append(args, *filter.MessageID)
		conds = append(conds, fmt.Sprintf("message_id = $%d", len(args)))
	}

	return strings.Join(conds, " AND "), args
}
