package mailbox

import (
	"context"
)

// Service manages workspace mailboxes (server-side).
// It handles connections to storage and hands out per-workspace views.
type Service interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight mutations and closes all connections.
	Close(ctx context.Context) error
	// Workspace returns the mailbox of one workspace.
	// Connection state and authorization are checked lazily on each
	// operation; the returned value is cheap and holds no resources.
	Workspace(workspaceID string) Mailbox
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing.
	Events() *ServiceEvents
}

// MessageReader provides message retrieval.
type MessageReader interface {
	// List returns one page of messages, newest first.
	List(ctx context.Context, q ListQuery) ([]*Message, error)
	// Count returns how many messages match the filters of a ListQuery.
	Count(ctx context.Context, q ListQuery) (int64, error)
	// Get returns a single message.
	Get(ctx context.Context, id int64) (*Message, error)
}

// MessageHandler marks messages as handled.
type MessageHandler interface {
	// Handle moves a pending message to handled. Calling it again reports
	// AlreadyHandled and leaves HandledAt unchanged.
	Handle(ctx context.Context, id int64) (*HandleResult, error)
}

// MessageDeleter removes messages.
type MessageDeleter interface {
	// Delete permanently removes one message.
	Delete(ctx context.Context, id int64) error
	// BulkDelete removes many messages and reports which ids were missing.
	BulkDelete(ctx context.Context, ids []int64) (*BulkDeleteReport, error)
}

// Mailbox is the mailbox of a single workspace. Every operation requires a
// privileged caller in the context (see ContextWithCaller) and never reads
// or writes another workspace's messages.
//
// Composed of:
//   - MessageReader: List, Count, Get
//   - MessageHandler: Handle
//   - MessageDeleter: Delete, BulkDelete
type Mailbox interface {
	// WorkspaceID returns the workspace this mailbox belongs to.
	WorkspaceID() string
	// Authorize runs the checks every operation starts with: connection,
	// caller privilege, then workspace id. Transports call it before
	// parsing request input so an unprivileged caller always sees
	// ErrForbidden.
	Authorize(ctx context.Context) error

	MessageReader
	MessageHandler
	MessageDeleter
}
