package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// MailboxType is the closed set of message kinds. It selects how the payload
// is interpreted by consumers; the store only carries it.
type MailboxType string

// Mailbox types.
const (
	TypeJobFailure      MailboxType = "job_failure"
	TypeApprovalRequest MailboxType = "approval_request"
	TypeSystemAlert     MailboxType = "system_alert"
	TypeTrigger         MailboxType = "trigger"
)

// mailboxTypes is the set of valid mailbox types.
var mailboxTypes = map[MailboxType]bool{
	TypeJobFailure:      true,
	TypeApprovalRequest: true,
	TypeSystemAlert:     true,
	TypeTrigger:         true,
}

// MailboxTypes returns every valid mailbox type.
func MailboxTypes() []MailboxType {
	return []MailboxType{TypeJobFailure, TypeApprovalRequest, TypeSystemAlert, TypeTrigger}
}

// Valid reports whether t belongs to the enumeration.
func (t MailboxType) Valid() bool {
	return mailboxTypes[t]
}

func (t MailboxType) String() string { return string(t) }

// ParseMailboxType converts a string into a MailboxType.
func ParseMailboxType(s string) (MailboxType, error) {
	t := MailboxType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMailboxType, s)
	}
	return t, nil
}

// UnmarshalText rejects values outside the enumeration.
func (t *MailboxType) UnmarshalText(b []byte) error {
	parsed, err := ParseMailboxType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t MailboxType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// Message is a stored mailbox message.
// A nil HandledAt means the message is pending.
type Message struct {
	ID          int64           `json:"message_id"`
	WorkspaceID string          `json:"workspace_id"`
	MailboxID   *string         `json:"mailbox_id"`
	Type        MailboxType     `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	HandledAt   *time.Time      `json:"handled_at,omitempty"`
}

// IsHandled reports whether the message has been handled.
func (m *Message) IsHandled() bool {
	return m != nil && m.HandledAt != nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.MailboxID != nil {
		id := *m.MailboxID
		c.MailboxID = &id
	}
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.HandledAt != nil {
		at := *m.HandledAt
		c.HandledAt = &at
	}
	return &c
}

// MessageData contains the data for inserting a new message.
type MessageData struct {
	WorkspaceID string
	MailboxID   *string
	Type        MailboxType
	Payload     json.RawMessage
}

// Validate checks the fields every backend requires before insert.
func (d MessageData) Validate() error {
	if d.WorkspaceID == "" {
		return ErrInvalidWorkspace
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMailboxType, d.Type)
	}
	if len(d.Payload) > 0 && !json.Valid(d.Payload) {
		return fmt.Errorf("store: payload is not valid json")
	}
	return nil
}

// NormalizedPayload returns the payload, substituting JSON null when empty.
func (d MessageData) NormalizedPayload() json.RawMessage {
	if len(d.Payload) == 0 {
		return json.RawMessage("null")
	}
	return d.Payload
}
