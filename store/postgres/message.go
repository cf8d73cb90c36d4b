package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// messageColumns is the canonical SELECT column list. It must match the db
// tags on messageRow.
const messageColumns = `message_id, workspace_id, mailbox_id, type, payload, created_at, handled_at`

// messageRow is the scan target for a mailbox row.
type messageRow struct {
	ID          int64          `db:"message_id"`
	WorkspaceID string         `db:"workspace_id"`
	MailboxID   sql.NullString `db:"mailbox_id"`
	Type        string         `db:"type"`
	Payload     []byte         `db:"payload"`
	CreatedAt   time.Time      `db:"created_at"`
	HandledAt   sql.NullTime   `db:"handled_at"`
}

func (r *messageRow) toMessage() *store.Message {
	m := &store.Message{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Type:        store.MailboxType(r.Type),
		Payload:     json.RawMessage(r.Payload),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.MailboxID.Valid {
		mailboxID := r.MailboxID.String
		m.MailboxID = &mailboxID
	}
	if r.HandledAt.Valid {
		handledAt := r.HandledAt.Time.UTC()
		m.HandledAt = &handledAt
	}
	return m
}

func toMessages(rows []messageRow) []*store.Message {
	out := make([]*store.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toMessage())
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
