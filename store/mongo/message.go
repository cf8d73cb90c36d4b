package mongo

import (
	"encoding/json"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageDoc is the MongoDB document representation. The payload is kept as
// its JSON text since it may be any JSON value, not only an object.
type messageDoc struct {
	ObjectID    bson.ObjectID `bson:"_id,omitempty"`
	MessageID   int64         `bson:"message_id"`
	WorkspaceID string        `bson:"workspace_id"`
	MailboxID   *string       `bson:"mailbox_id"`
	Type        string        `bson:"type"`
	Payload     string        `bson:"payload"`
	CreatedAt   time.Time     `bson:"created_at"`
	HandledAt   *time.Time    `bson:"handled_at"`
}

func docToMessage(doc *messageDoc) *store.Message {
	m := &store.Message{
		ID:          doc.MessageID,
		WorkspaceID: doc.WorkspaceID,
		Type:        store.MailboxType(doc.Type),
		Payload:     json.RawMessage(doc.Payload),
		CreatedAt:   doc.CreatedAt.UTC(),
	}
	if doc.MailboxID != nil {
		mailboxID := *doc.MailboxID
		m.MailboxID = &mailboxID
	}
	if doc.HandledAt != nil {
		handledAt := doc.HandledAt.UTC()
		m.HandledAt = &handledAt
	}
	return m
}

// buildFilter always scopes to the workspace.
func buildFilter(workspaceID string, filter store.Filter) bson.M {
	f := bson.M{"workspace_id": workspaceID}
	if filter.Type != nil {
		f["type"] = string(*filter.Type)
	}
	if filter.MailboxID != nil {
		f["mailbox_id"] = *filter.MailboxID
	}
	if filter.MessageID != nil {
		f["message_id"] = *filter.MessageID
	}
	return f
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
