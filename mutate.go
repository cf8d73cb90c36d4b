package mailbox

import (
	"context"
	"errors"
	"time"

	"github.com/rbaliyan/workspace-mailbox/retry"
	"go.opentelemetry.io/otel/attribute"
)

// handled bundles the two MarkHandled results for the retry helper.
type handled struct {
	msg          *Message
	transitioned bool
}

// Handle marks a message as handled. The store performs a single conditional
// write, so among concurrent callers exactly one observes Handled; the rest
// observe AlreadyHandled with the same HandledAt. Hooks and events run only
// for the caller that made the transition.
func (m *workspaceMailbox) Handle(ctx context.Context, id int64) (*HandleResult, error) {
	if err := m.checkAccess(ctx); err != nil {
		return nil, err
	}
	if err := ValidateMessageID(id); err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.handle",
		attribute.String("workspace_id", m.workspaceID),
		attribute.Int64("message_id", id),
	)
	start := time.Now()
	var handleErr error
	var outcome HandleOutcome
	defer func() {
		endSpan(handleErr)
		m.service.otel.recordHandle(ctx, time.Since(start), outcome, handleErr)
	}()

	if err := m.service.opSem.Acquire(ctx, 1); err != nil {
		handleErr = err
		return nil, handleErr
	}
	defer m.service.opSem.Release(1)

	// Retrying is safe: a repeated conditional write cannot transition twice.
	res, err := retry.DoWithResult(ctx, m.service.retryConfig("handle"), func(ctx context.Context) (handled, error) {
		msg, ok, err := m.service.store.MarkHandled(ctx, m.workspaceID, id)
		return handled{msg: msg, transitioned: ok}, classifyStoreError("handle", err)
	})
	if err != nil {
		handleErr = unwrapRetry(err)
		return nil, handleErr
	}

	if !res.transitioned {
		outcome = AlreadyHandled
		return &HandleResult{Message: res.msg, Outcome: AlreadyHandled}, nil
	}
	outcome = Handled
	result := &HandleResult{Message: res.msg, Outcome: Handled}

	m.service.plugins.afterHandle(ctx, m.workspaceID, res.msg)

	if err := m.service.events.MessageHandled.Publish(ctx, MessageHandledEvent{
		MessageID:   res.msg.ID,
		WorkspaceID: m.workspaceID,
		MailboxID:   res.msg.MailboxID,
		Type:        res.msg.Type,
		HandledAt:   *res.msg.HandledAt,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			handleErr = &EventPublishError{Event: "MessageHandled", MessageID: id, Err: err}
			return result, handleErr
		}
		m.service.opts.safeEventPublishFailure("MessageHandled", err)
	}

	return result, nil
}

// Delete permanently removes a message regardless of its handling state.
func (m *workspaceMailbox) Delete(ctx context.Context, id int64) error {
	if err := m.checkAccess(ctx); err != nil {
		return err
	}
	if err := ValidateMessageID(id); err != nil {
		return err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.delete",
		attribute.String("workspace_id", m.workspaceID),
		attribute.Int64("message_id", id),
	)
	start := time.Now()
	var deleteErr error
	defer func() {
		endSpan(deleteErr)
		m.service.otel.recordDelete(ctx, time.Since(start), deleteErr)
	}()

	if err := m.service.opSem.Acquire(ctx, 1); err != nil {
		deleteErr = err
		return deleteErr
	}
	defer m.service.opSem.Release(1)

	// Not retried: a delete that committed before a transport error would
	// come back as not found on the second attempt.
	msg, err := m.service.store.Delete(ctx, m.workspaceID, id)
	if err != nil {
		deleteErr = classifyStoreError("delete", err)
		return deleteErr
	}

	if err := m.afterDelete(ctx, []*Message{msg}); err != nil {
		deleteErr = err
		return deleteErr
	}
	return nil
}

// afterDelete runs the post-commit side effects for removed messages:
// delete hooks, the archive and MessageDeleted events. Failures never undo
// the deletion; they are returned only when configured as fatal.
func (m *workspaceMailbox) afterDelete(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var errs []error

	for _, msg := range msgs {
		m.service.plugins.afterDelete(ctx, m.workspaceID, msg)
	}

	if err := m.service.archive(ctx, msgs); err != nil {
		errs = append(errs, err)
	}

	deletedAt := time.Now().UTC()
	for _, msg := range msgs {
		if err := m.service.events.MessageDeleted.Publish(ctx, MessageDeletedEvent{
			MessageID:   msg.ID,
			WorkspaceID: m.workspaceID,
			MailboxID:   msg.MailboxID,
			Type:        msg.Type,
			WasHandled:  msg.IsHandled(),
			DeletedAt:   deletedAt,
		}); err != nil {
			if m.service.opts.eventErrorsFatal {
				errs = append(errs, &EventPublishError{Event: "MessageDeleted", MessageID: msg.ID, Err: err})
				continue
			}
			m.service.opts.safeEventPublishFailure("MessageDeleted", err)
		}
	}

	return errors.Join(errs...)
}
