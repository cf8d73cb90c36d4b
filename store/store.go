// Package store provides interfaces and types for workspace mailbox storage.
// Implementations are in store/postgres, store/mongo, and store/memory subpackages.
//
// # Architectural Principle: No Distributed Locks
//
// Every concurrency guarantee the mailbox makes is delegated to the backing
// database. There is no lock service and no read-then-write in callers:
//
//  1. Conditional Writes: handling a message is a single update guarded by
//     "handled_at IS NULL" (PostgreSQL) or {handled_at: null} (MongoDB).
//     Only one concurrent caller can match the precondition.
//
//  2. Monotonic Identity: message ids come from a database sequence
//     (BIGSERIAL) or an atomic $inc counter document. Ids are never reused,
//     even after deletion.
//
//  3. Atomic Deletes: deletes return the rows they removed, so the caller
//     learns exactly which ids existed without a prior lookup.
//
// Example - Handling a message:
//
//	// WRONG: read-then-write races with other handlers
//	msg, _ := s.Get(ctx, ws, id)
//	if msg.HandledAt == nil { s.setHandled(ctx, ws, id) }
//
//	// CORRECT: one conditional write
//	msg, transitioned, err := s.MarkHandled(ctx, ws, id)
//	if !transitioned {
//	    // another caller already handled it; msg.HandledAt is theirs
//	}
package store

import (
	"context"
)

// Store is the storage interface for the workspace mailbox.
//
// All operations must be safe for concurrent use and every read or write is
// scoped by workspace id. A message that exists in another workspace is
// reported as ErrNotFound.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MessageReader
	MessageWriter
}

// MessageReader provides read operations for messages.
type MessageReader interface {
	// Get retrieves a message by id within a workspace.
	// Returns ErrNotFound if the message doesn't exist in that workspace.
	Get(ctx context.Context, workspaceID string, id int64) (*Message, error)

	// Find returns messages matching the filter, ordered by created_at
	// descending with message id descending as tie-break.
	Find(ctx context.Context, workspaceID string, filter Filter, opts ListOptions) ([]*Message, error)

	// Count returns the number of messages matching the filter.
	Count(ctx context.Context, workspaceID string, filter Filter) (int64, error)
}

// MessageWriter provides mutations on messages.
type MessageWriter interface {
	// Insert stores a new message and assigns its id and created_at.
	// This is the producer-facing primitive.
	Insert(ctx context.Context, data MessageData) (*Message, error)

	// MarkHandled atomically sets handled_at if it is not already set.
	// The boolean is true only for the caller that performed the transition.
	// When the message was already handled, the stored message is returned
	// with false. Returns ErrNotFound if the message doesn't exist.
	MarkHandled(ctx context.Context, workspaceID string, id int64) (*Message, bool, error)

	// Delete permanently removes a message and returns it.
	// Returns ErrNotFound if the message doesn't exist.
	Delete(ctx context.Context, workspaceID string, id int64) (*Message, error)

	// DeleteMany removes every listed message that exists in the workspace
	// and returns exactly the removed messages. Missing ids are not an error.
	// Backends that can, apply it atomically. One that cannot must, on
	// error, still return the messages it had already removed.
	DeleteMany(ctx context.Context, workspaceID string, ids []int64) ([]*Message, error)
}
