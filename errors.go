package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Sentinel errors for the mailbox package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, mailbox.ErrNotFound) will match both mailbox-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a message does not exist in the workspace.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("mailbox: %w", store.ErrNotFound)

	// ErrForbidden is returned when the caller is not allowed to operate on
	// mailboxes. No store access has happened when this is returned.
	ErrForbidden = errors.New("mailbox: forbidden")

	// ErrAlreadyHandled reports that a handle request found the message
	// already handled. Handle itself returns an AlreadyHandled outcome;
	// HandleResult.Err converts that outcome to this error.
	ErrAlreadyHandled = errors.New("mailbox: message already handled")

	// ErrInvalidRequest is returned for malformed input: bad ids, unknown
	// mailbox types, invalid workspace ids, oversized bulk requests.
	ErrInvalidRequest = errors.New("mailbox: invalid request")

	// ErrStorageFailure is the class of transient backend failures.
	// It is the only retryable class.
	ErrStorageFailure = errors.New("mailbox: storage failure")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mailbox: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mailbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mailbox: %w", store.ErrAlreadyConnected)
)

// ValidationError provides details about a rejected request.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailbox: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// StorageError wraps a backend failure. It matches ErrStorageFailure with
// errors.Is and reports itself as retryable.
type StorageError struct {
	Op  string // The mailbox operation (e.g., "list", "handle")
	Err error  // The underlying backend error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("mailbox: %s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// Retryable implements the retry package's retryable marker.
func (e *StorageError) Retryable() bool {
	return true
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// The message was handled or deleted, but the event notification failed.
// Check the MessageID field to identify which message this applies to.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageHandled")
	MessageID int64  // The message ID the event was for
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mailbox: event %s publish failed for message %d: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the
// operation itself committed.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// ArchiveError is returned when archiving deleted messages fails and
// archive errors are configured as fatal. The deletion has committed.
type ArchiveError struct {
	MessageIDs []int64
	Err        error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("mailbox: archive failed for %d deleted messages: %v", len(e.MessageIDs), e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether err belongs to the storage failure class.
// Every other class is deterministic and retrying cannot change the outcome.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStorageFailure)
}

// classifyStoreError maps a store error onto the mailbox taxonomy.
// Domain errors keep their identity; anything else is a storage failure.
func classifyStoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	case errors.Is(err, store.ErrInvalidID):
		return &ValidationError{Field: "message_id", Message: "must be a positive integer"}
	case errors.Is(err, store.ErrInvalidWorkspace):
		return &ValidationError{Field: "workspace_id", Message: err.Error()}
	case errors.Is(err, store.ErrInvalidMailboxType):
		return &ValidationError{Field: "mailbox_type", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrStorageFailure):
		return err
	default:
		return &StorageError{Op: op, Err: err}
	}
}
