package mailbox

import (
	"context"
	"math"
	"time"

	"github.com/rbaliyan/workspace-mailbox/retry"
	"github.com/rbaliyan/workspace-mailbox/store"
	"go.opentelemetry.io/otel/attribute"
)

// ListQuery selects a page of a workspace mailbox. Nil filters are not
// applied; set filters are combined with AND. Page is 1-indexed.
type ListQuery struct {
	MailboxType *MailboxType
	MailboxID   *string
	MessageID   *int64
	Page        int
	PerPage     int
}

// page is a normalized ListQuery.
type page struct {
	filter store.Filter
	opts   store.ListOptions
	// empty is set when the offset cannot be represented, which can only
	// mean the page lies past the end.
	empty bool
}

// filter copies the set filters, so later changes to q do not reach a
// running query.
func (q ListQuery) filter() store.Filter {
	b := store.NewFilter()
	if q.MailboxType != nil {
		b.WithType(*q.MailboxType)
	}
	if q.MailboxID != nil {
		b.WithMailboxID(*q.MailboxID)
	}
	if q.MessageID != nil {
		b.WithMessageID(*q.MessageID)
	}
	return b.Build()
}

// normalize applies page defaults and the per_page cap.
func (q ListQuery) normalize(defaultPerPage, maxPerPage int) page {
	pageNum := q.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	p := page{filter: q.filter()}
	if pageNum-1 > math.MaxInt/perPage {
		p.empty = true
		return p
	}
	p.opts = store.ListOptions{
		Limit:  perPage,
		Offset: (pageNum - 1) * perPage,
	}
	return p
}

// List returns one page of the workspace mailbox, newest first.
// The result is never nil.
func (m *workspaceMailbox) List(ctx context.Context, q ListQuery) ([]*Message, error) {
	if err := m.checkAccess(ctx); err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.list",
		attribute.String("workspace_id", m.workspaceID),
		attribute.Int("page", q.Page),
		attribute.Int("per_page", q.PerPage),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		m.service.otel.recordList(ctx, time.Since(start), resultCount, listErr)
	}()

	p := q.normalize(m.service.opts.defaultPerPage, m.service.opts.maxPerPage)
	if p.empty {
		return []*Message{}, nil
	}

	msgs, err := retry.DoWithResult(ctx, m.service.retryConfig("list"), func(ctx context.Context) ([]*Message, error) {
		msgs, err := m.service.store.Find(ctx, m.workspaceID, p.filter, p.opts)
		return msgs, classifyStoreError("list", err)
	})
	if err != nil {
		listErr = unwrapRetry(err)
		return nil, listErr
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	resultCount = len(msgs)
	return msgs, nil
}

// Count returns the number of messages matching the filters of q across
// all pages. Page and PerPage are ignored.
func (m *workspaceMailbox) Count(ctx context.Context, q ListQuery) (int64, error) {
	if err := m.checkAccess(ctx); err != nil {
		return 0, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.count",
		attribute.String("workspace_id", m.workspaceID),
	)
	var countErr error
	defer func() { endSpan(countErr) }()

	filter := q.filter()
	n, err := retry.DoWithResult(ctx, m.service.retryConfig("count"), func(ctx context.Context) (int64, error) {
		n, err := m.service.store.Count(ctx, m.workspaceID, filter)
		return n, classifyStoreError("count", err)
	})
	if err != nil {
		countErr = unwrapRetry(err)
		return 0, countErr
	}
	return n, nil
}

// Get retrieves a single message by id.
func (m *workspaceMailbox) Get(ctx context.Context, id int64) (*Message, error) {
	if err := m.checkAccess(ctx); err != nil {
		return nil, err
	}
	if err := ValidateMessageID(id); err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "mailbox.get",
		attribute.String("workspace_id", m.workspaceID),
		attribute.Int64("message_id", id),
	)
	start := time.Now()
	var getErr error
	defer func() {
		endSpan(getErr)
		m.service.otel.recordGet(ctx, time.Since(start), getErr)
	}()

	msg, err := retry.DoWithResult(ctx, m.service.retryConfig("get"), func(ctx context.Context) (*Message, error) {
		msg, err := m.service.store.Get(ctx, m.workspaceID, id)
		return msg, classifyStoreError("get", err)
	})
	if err != nil {
		getErr = unwrapRetry(err)
		return nil, getErr
	}
	return msg, nil
}
