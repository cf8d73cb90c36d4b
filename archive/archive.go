// Package archive copies deleted mailbox messages to long-term object
// storage. Backends live in subpackages (s3, gcs, memory); otel wraps any of
// them with tracing and metrics.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// ContentType is the media type of archived records.
const ContentType = "application/json"

// DefaultPrefix is the object key prefix used when none is configured.
const DefaultPrefix = "mailbox-archive"

// ErrInvalidURI is returned when an archive URI cannot be parsed.
var ErrInvalidURI = errors.New("archive: invalid uri")

// Archiver stores a copy of a deleted message.
// Implementations must be safe for concurrent use.
type Archiver interface {
	// Archive writes msg and returns the URI of the stored object.
	Archive(ctx context.Context, msg *store.Message) (string, error)
}

// Record is the archived form of a message.
type Record struct {
	MessageID   int64             `json:"message_id"`
	WorkspaceID string            `json:"workspace_id"`
	MailboxID   *string           `json:"mailbox_id,omitempty"`
	Type        store.MailboxType `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	CreatedAt   time.Time         `json:"created_at"`
	HandledAt   *time.Time        `json:"handled_at,omitempty"`
	ArchivedAt  time.Time         `json:"archived_at"`
}

// NewRecord builds the record for msg archived at archivedAt.
func NewRecord(msg *store.Message, archivedAt time.Time) Record {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Record{
		MessageID:   msg.ID,
		WorkspaceID: msg.WorkspaceID,
		MailboxID:   msg.MailboxID,
		Type:        msg.Type,
		Payload:     payload,
		CreatedAt:   msg.CreatedAt.UTC(),
		HandledAt:   msg.HandledAt,
		ArchivedAt:  archivedAt.UTC(),
	}
}

// Encode returns the JSON record for msg.
func Encode(msg *store.Message, archivedAt time.Time) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("archive: nil message")
	}
	data, err := json.Marshal(NewRecord(msg, archivedAt))
	if err != nil {
		return nil, fmt.Errorf("archive: encode message %d: %w", msg.ID, err)
	}
	return data, nil
}

// ObjectKey returns the key a message is archived under:
// <prefix>/<workspace>/<yyyy>/<mm>/<dd>/<id>.json, dated by archivedAt.
// Message ids are never reused, so keys do not collide.
func ObjectKey(prefix string, msg *store.Message, archivedAt time.Time) string {
	return path.Join(
		prefix,
		msg.WorkspaceID,
		archivedAt.UTC().Format("2006/01/02"),
		strconv.FormatInt(msg.ID, 10)+".json",
	)
}

// ParseURI splits scheme://bucket/key into bucket and key.
func ParseURI(scheme, uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a %s uri", ErrInvalidURI, uri, scheme)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q has no key", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}
