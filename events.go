package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mailbox events.
const (
	EventNameMessageHandled = "mailbox.message.handled"
	EventNameMessageDeleted = "mailbox.message.deleted"
)

// MessageHandledEvent is published once per message, by the caller that
// moved it from pending to handled.
type MessageHandledEvent struct {
	MessageID   int64       `json:"message_id"`
	WorkspaceID string      `json:"workspace_id"`
	MailboxID   *string     `json:"mailbox_id,omitempty"`
	Type        MailboxType `json:"type"`
	HandledAt   time.Time   `json:"handled_at"`
}

// MessageDeletedEvent is published for every message removed by Delete or
// BulkDelete.
type MessageDeletedEvent struct {
	MessageID   int64       `json:"message_id"`
	WorkspaceID string      `json:"workspace_id"`
	MailboxID   *string     `json:"mailbox_id,omitempty"`
	Type        MailboxType `json:"type"`
	WasHandled  bool        `json:"was_handled"`
	DeletedAt   time.Time   `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageHandled.Subscribe(ctx, handler)
//	svc.Events().MessageDeleted.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageHandled is published when a message is handled.
	MessageHandled event.Event[MessageHandledEvent]

	// MessageDeleted is published when a message is deleted.
	MessageDeleted event.Event[MessageDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageHandled: event.New[MessageHandledEvent](namePrefix + "." + EventNameMessageHandled),
		MessageDeleted: event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageHandled); err != nil {
		return fmt.Errorf("register MessageHandled: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	return nil
}
