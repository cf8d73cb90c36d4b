package memory

import (
	"context"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// MarkHandled sets handled_at once. The per-message lock makes the
// check-and-set atomic with respect to other handlers and deletes.
func (s *Store) MarkHandled(_ context.Context, workspaceID string, id int64) (*store.Message, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if id <= 0 {
		return nil, false, store.ErrInvalidID
	}

	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	m, ok := s.load(workspaceID, id)
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if m.HandledAt != nil {
		return m.Clone(), false, nil
	}

	// Copy-on-write so concurrent readers never observe a partial update.
	updated := m.Clone()
	now := s.now().UTC()
	updated.HandledAt = &now
	s.messages.Store(id, updated)

	return updated.Clone(), true, nil
}

// Delete permanently removes a message.
func (s *Store) Delete(_ context.Context, workspaceID string, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	m, ok := s.remove(workspaceID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

// DeleteMany removes every listed message present in the workspace.
func (s *Store) DeleteMany(_ context.Context, workspaceID string, ids []int64) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	deleted := make([]*store.Message, 0, len(ids))
	for _, id := range dedupeIDs(ids) {
		if m, ok := s.remove(workspaceID, id); ok {
			deleted = append(deleted, m)
		}
	}
	return deleted, nil
}

// remove deletes under the message lock so a racing MarkHandled cannot
// write the message back after it is gone.
func (s *Store) remove(workspaceID string, id int64) (*store.Message, bool) {
	lock := s.getMsgLock(id)
	lock.Lock()
	defer lock.Unlock()

	m, ok := s.load(workspaceID, id)
	if !ok {
		return nil, false
	}
	s.messages.Delete(id)
	// Ids are never reused, so the lock entry can go too.
	s.msgLocks.Delete(id)
	return m.Clone(), true
}
