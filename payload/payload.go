// Package payload gives typed shapes to mailbox message payloads.
//
// The mailbox core stores payloads as opaque JSON. This package is an opt-in
// layer on top: each MailboxType has one Go struct, and a Registry maps the
// type recorded on a message to the decoder for its payload.
//
// Writing a message:
//
//	data, _ := payload.NewMessageData("ws1", nil, &payload.JobFailure{JobID: id, Error: msg})
//	st.Insert(ctx, data)
//
// Reading it back:
//
//	p, _ := payload.Decode(msg, payload.DefaultRegistry())
//	if jf, ok := p.(*payload.JobFailure); ok { ... }
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Sentinel errors.
var (
	// ErrUnsupportedType is returned when no decoder is registered for a type.
	ErrUnsupportedType = errors.New("payload: unsupported mailbox type")

	// ErrEncoding is returned when a payload cannot be marshaled.
	ErrEncoding = errors.New("payload: encoding failed")

	// ErrDecoding is returned when stored bytes do not match the type's shape.
	ErrDecoding = errors.New("payload: decoding failed")
)

// Payload is a typed message payload.
type Payload interface {
	// MailboxType returns the type messages carrying this payload have.
	MailboxType() store.MailboxType
}

// Decoder turns raw payload bytes into a Payload.
type Decoder func(raw json.RawMessage) (Payload, error)

// Registry maps mailbox types to decoders.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[store.MailboxType]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[store.MailboxType]Decoder)}
}

// Register adds or replaces the decoder for t.
func (r *Registry) Register(t store.MailboxType, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[t] = d
}

// Lookup returns the decoder for t.
func (r *Registry) Lookup(t store.MailboxType) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[t]
	return d, ok
}

// Encode marshals p and returns the type it must be stored under.
func Encode(p Payload) (store.MailboxType, json.RawMessage, error) {
	if p == nil {
		return "", nil, fmt.Errorf("%w: nil payload", ErrEncoding)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return p.MailboxType(), data, nil
}

// NewMessageData builds insert data for p in the given workspace.
func NewMessageData(workspaceID string, mailboxID *string, p Payload) (store.MessageData, error) {
	t, raw, err := Encode(p)
	if err != nil {
		return store.MessageData{}, err
	}
	return store.MessageData{
		WorkspaceID: workspaceID,
		MailboxID:   mailboxID,
		Type:        t,
		Payload:     raw,
	}, nil
}

// Decode returns the typed payload of msg using the decoder registered for
// its type.
func Decode(msg *store.Message, r *Registry) (Payload, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrDecoding)
	}
	d, ok := r.Lookup(msg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, msg.Type)
	}
	p, err := d(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: message %d: %w", ErrDecoding, msg.ID, err)
	}
	return p, nil
}

// JSONDecoder returns a Decoder that unmarshals into a new T.
func JSONDecoder[T any, PT interface {
	*T
	Payload
}]() Decoder {
	return func(raw json.RawMessage) (Payload, error) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
		}
		return PT(&v), nil
	}
}
