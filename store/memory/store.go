// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	messages  sync.Map // map[int64]*store.Message
	msgLocks  sync.Map // map[int64]*sync.Mutex (per-message locks for mutations)
	lastID    int64
	connected int32
	now       func() time.Time
}

// Option configures the in-memory store.
type Option func(*Store)

// WithClock overrides the clock used for created_at and handled_at.
// Tests use it to produce deterministic orderings.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getMsgLock returns the mutex for a message ID, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getMsgLock(id int64) *sync.Mutex {
	lock, _ := s.msgLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// load returns the stored message if it belongs to the workspace.
// The returned pointer must not be mutated.
func (s *Store) load(workspaceID string, id int64) (*store.Message, bool) {
	v, ok := s.messages.Load(id)
	if !ok {
		return nil, false
	}
	m := v.(*store.Message)
	if m.WorkspaceID != workspaceID {
		return nil, false
	}
	return m, true
}

// Insert stores a new message.
func (s *Store) Insert(_ context.Context, data store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	m := &store.Message{
		ID:          atomic.AddInt64(&s.lastID, 1),
		WorkspaceID: data.WorkspaceID,
		Type:        data.Type,
		Payload:     append([]byte(nil), data.NormalizedPayload()...),
		CreatedAt:   s.now().UTC(),
	}
	if data.MailboxID != nil {
		id := *data.MailboxID
		m.MailboxID = &id
	}

	s.messages.Store(m.ID, m)
	return m.Clone(), nil
}

// Len returns the number of stored messages across all workspaces.
func (s *Store) Len() int {
	n := 0
	s.messages.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
