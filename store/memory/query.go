package memory

import (
	"context"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Get retrieves a message by ID within a workspace.
func (s *Store) Get(_ context.Context, workspaceID string, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	m, ok := s.load(workspaceID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

// Find retrieves messages matching the filter in list order.
func (s *Store) Find(_ context.Context, workspaceID string, filter store.Filter, opts store.ListOptions) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	all := s.collect(workspaceID, filter)
	sortMessages(all)

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(all) {
		return []*store.Message{}, nil
	}
	end := len(all)
	if opts.Limit > 0 && opts.Limit < end-start {
		end = start + opts.Limit
	}

	out := make([]*store.Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Count returns the number of messages matching the filter.
func (s *Store) Count(_ context.Context, workspaceID string, filter store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	return int64(len(s.collect(workspaceID, filter))), nil
}

func (s *Store) collect(workspaceID string, filter store.Filter) []*store.Message {
	var all []*store.Message
	s.messages.Range(func(_, v any) bool {
		m := v.(*store.Message)
		if m.WorkspaceID == workspaceID && filter.Matches(m) {
			all = append(all, m)
		}
		return true
	})
	return all
}
