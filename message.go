package mailbox

import "github.com/rbaliyan/workspace-mailbox/store"

// Type aliases for commonly used store types.
// These allow users to work with the mailbox package without importing store directly.
type (
	Message     = store.Message
	MessageData = store.MessageData
	MailboxType = store.MailboxType
)

// Re-exported mailbox types.
const (
	TypeJobFailure      = store.TypeJobFailure
	TypeApprovalRequest = store.TypeApprovalRequest
	TypeSystemAlert     = store.TypeSystemAlert
	TypeTrigger         = store.TypeTrigger
)

// HandleOutcome reports what a Handle call observed.
type HandleOutcome int

const (
	// Handled means this call moved the message from pending to handled.
	Handled HandleOutcome = iota + 1
	// AlreadyHandled means the message was handled before this call.
	AlreadyHandled
)

func (o HandleOutcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case AlreadyHandled:
		return "already_handled"
	default:
		return "unknown"
	}
}

// HandleResult is the result of a Handle call. Message reflects the stored
// state, so HandledAt is the same value for every call on a given message.
type HandleResult struct {
	Message *Message
	Outcome HandleOutcome
}

// Err returns ErrAlreadyHandled when the message had already been handled.
// Callers that treat a repeated handle as a conflict can use it directly.
func (r *HandleResult) Err() error {
	if r != nil && r.Outcome == AlreadyHandled {
		return ErrAlreadyHandled
	}
	return nil
}
