package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/rbaliyan/workspace-mailbox/archive/memory"
	"github.com/rbaliyan/workspace-mailbox/retry"
	"github.com/rbaliyan/workspace-mailbox/store"
	memstore "github.com/rbaliyan/workspace-mailbox/store/memory"
	"github.com/redis/go-redis/v9"
)

// adminCtx returns a context carrying a super admin caller.
func adminCtx() context.Context {
	return ContextWithCaller(context.Background(), Caller{Subject: "admin@example.com", SuperAdmin: true})
}

// setupTestService creates a connected service backed by a memory store.
func setupTestService(t *testing.T, opts ...Option) (Service, *memstore.Store) {
	t.Helper()

	st := memstore.New()
	svc, err := NewService(append([]Option{WithStore(st)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc, st
}

// seed inserts a message directly through the store, as a producer would.
func seed(t *testing.T, st store.Store, workspaceID string, typ MailboxType, mailboxID string) *Message {
	t.Helper()
	data := MessageData{
		WorkspaceID: workspaceID,
		Type:        typ,
		Payload:     json.RawMessage(`{"k":"v"}`),
	}
	if mailboxID != "" {
		data.MailboxID = &mailboxID
	}
	msg, err := st.Insert(context.Background(), data)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return msg
}

func messageIDs(msgs []*Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memstore.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("service should not be connected before Connect")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := NewService(WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Workspace("ws1").List(adminCtx(), ListQuery{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("expected connected service")
	}
	if svc.Events() == nil {
		t.Error("expected events after Connect")
	}

	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close should not error, got %v", err)
	}

	if _, err := svc.Workspace("ws1").Handle(adminCtx(), 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after Close, got %v", err)
	}
}

func TestWorkspaceID(t *testing.T) {
	svc, _ := setupTestService(t)
	if got := svc.Workspace("acme").WorkspaceID(); got != "acme" {
		t.Errorf("expected acme, got %q", got)
	}
}

// TestEndToEnd walks one workspace through list, handle, delete and bulk delete.
func TestEndToEnd(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := adminCtx()
	mb := svc.Workspace("ws1")

	m1 := seed(t, st, "ws1", TypeJobFailure, "")
	m2 := seed(t, st, "ws1", TypeApprovalRequest, "u/alice")
	m3 := seed(t, st, "ws1", TypeTrigger, "")

	msgs, err := mb.List(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := messageIDs(msgs); len(got) != 3 || got[0] != m3.ID || got[2] != m1.ID {
		t.Fatalf("expected newest first [%d %d %d], got %v", m3.ID, m2.ID, m1.ID, got)
	}

	res, err := mb.Handle(ctx, m2.ID)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != Handled || res.Message.HandledAt == nil {
		t.Fatalf("expected Handled with timestamp, got %+v", res)
	}

	again, err := mb.Handle(ctx, m2.ID)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if again.Outcome != AlreadyHandled {
		t.Errorf("expected AlreadyHandled, got %v", again.Outcome)
	}
	if !again.Message.HandledAt.Equal(*res.Message.HandledAt) {
		t.Errorf("handled_at changed: %v -> %v", *res.Message.HandledAt, *again.Message.HandledAt)
	}
	if !errors.Is(again.Err(), ErrAlreadyHandled) {
		t.Errorf("expected ErrAlreadyHandled from Err(), got %v", again.Err())
	}

	if err := mb.Delete(ctx, m1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mb.Get(ctx, m1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := mb.Delete(ctx, m1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	report, err := mb.BulkDelete(ctx, []int64{m2.ID, m3.ID, 999})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if report.DeletedCount() != 2 || report.NotFoundCount() != 1 || report.NotFound[0] != 999 {
		t.Errorf("unexpected report %+v", report)
	}

	msgs, err = mb.List(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty mailbox, got %v", messageIDs(msgs))
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := adminCtx()

	own := seed(t, st, "ws1", TypeSystemAlert, "")
	other := seed(t, st, "ws2", TypeSystemAlert, "")
	mb := svc.Workspace("ws1")

	msgs, err := mb.List(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != own.ID {
		t.Errorf("expected only own message, got %v", messageIDs(msgs))
	}

	t.Run("get", func(t *testing.T) {
		if _, err := mb.Get(ctx, other.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("list by message id", func(t *testing.T) {
		id := other.ID
		msgs, err := mb.List(ctx, ListQuery{MessageID: &id})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected no messages, got %v", messageIDs(msgs))
		}
	})
	t.Run("handle", func(t *testing.T) {
		if _, err := mb.Handle(ctx, other.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("delete", func(t *testing.T) {
		if err := mb.Delete(ctx, other.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("bulk delete", func(t *testing.T) {
		report, err := mb.BulkDelete(ctx, []int64{other.ID})
		if err != nil {
			t.Fatalf("bulk delete: %v", err)
		}
		if report.DeletedCount() != 0 || report.NotFoundCount() != 1 {
			t.Errorf("unexpected report %+v", report)
		}
	})

	// The other workspace's message is untouched.
	got, err := st.Get(context.Background(), "ws2", other.ID)
	if err != nil {
		t.Fatalf("other workspace message gone: %v", err)
	}
	if got.HandledAt != nil {
		t.Error("other workspace message was handled")
	}
}

func TestListFilters(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := adminCtx()
	mb := svc.Workspace("ws1")

	a := seed(t, st, "ws1", TypeTrigger, "box-a")
	b := seed(t, st, "ws1", TypeTrigger, "box-b")
	c := seed(t, st, "ws1", TypeJobFailure, "box-a")

	typ := TypeTrigger
	boxA := "box-a"

	tests := []struct {
		name  string
		query ListQuery
		want  []int64
	}{
		{"no filter", ListQuery{}, []int64{c.ID, b.ID, a.ID}},
		{"by type", ListQuery{MailboxType: &typ}, []int64{b.ID, a.ID}},
		{"by mailbox id", ListQuery{MailboxID: &boxA}, []int64{c.ID, a.ID}},
		{"by type and mailbox id", ListQuery{MailboxType: &typ, MailboxID: &boxA}, []int64{a.ID}},
		{"by message id", ListQuery{MessageID: &c.ID}, []int64{c.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := mb.List(ctx, tt.query)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if got := messageIDs(msgs); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			n, err := mb.Count(ctx, tt.query)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != int64(len(tt.want)) {
				t.Errorf("count = %d, want %d", n, len(tt.want))
			}
		})
	}

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := mb.Count(ctx, ListQuery{Page: 9, PerPage: 1})
		if err != nil || n != 3 {
			t.Errorf("expected 3, got %d (%v)", n, err)
		}
	})

	t.Run("filter does not alias the query", func(t *testing.T) {
		q := ListQuery{MailboxID: &boxA}
		f := q.filter()
		boxA = "changed"
		if *f.MailboxID != "box-a" {
			t.Errorf("filter followed the caller's pointer: %q", *f.MailboxID)
		}
		boxA = "box-a"
	})
}

func TestListPagination(t *testing.T) {
	svc, st := setupTestService(t, WithDefaultPerPage(2), WithMaxPerPage(3))
	ctx := adminCtx()
	mb := svc.Workspace("ws1")

	var all []int64
	for i := 0; i < 7; i++ {
		all = append([]int64{seed(t, st, "ws1", TypeTrigger, "").ID}, all...)
	}

	t.Run("default per page", func(t *testing.T) {
		msgs, err := mb.List(ctx, ListQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 2 {
			t.Errorf("expected 2, got %d", len(msgs))
		}
	})

	t.Run("per page is capped", func(t *testing.T) {
		msgs, err := mb.List(ctx, ListQuery{PerPage: 100})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 3 {
			t.Errorf("expected cap of 3, got %d", len(msgs))
		}
	})

	t.Run("non-positive page is the first page", func(t *testing.T) {
		first, _ := mb.List(ctx, ListQuery{Page: 1, PerPage: 3})
		zero, _ := mb.List(ctx, ListQuery{Page: 0, PerPage: 3})
		negative, _ := mb.List(ctx, ListQuery{Page: -4, PerPage: 3})
		if fmt.Sprint(messageIDs(zero)) != fmt.Sprint(messageIDs(first)) ||
			fmt.Sprint(messageIDs(negative)) != fmt.Sprint(messageIDs(first)) {
			t.Errorf("expected page 0 and -4 to equal page 1")
		}
	})

	t.Run("pages are contiguous", func(t *testing.T) {
		var walked []int64
		for page := 1; ; page++ {
			msgs, err := mb.List(ctx, ListQuery{Page: page, PerPage: 3})
			if err != nil {
				t.Fatalf("list page %d: %v", page, err)
			}
			if len(msgs) == 0 {
				break
			}
			walked = append(walked, messageIDs(msgs)...)
		}
		if fmt.Sprint(walked) != fmt.Sprint(all) {
			t.Errorf("expected %v, got %v", all, walked)
		}
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		msgs, err := mb.List(ctx, ListQuery{Page: 1 << 40, PerPage: 3})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if msgs == nil || len(msgs) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", msgs)
		}
	})
}

func TestForbidden(t *testing.T) {
	st := &countingStore{Store: memstore.New()}
	svc, err := NewService(WithStore(st))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(context.Background())

	mb := svc.Workspace("ws1")
	contexts := map[string]context.Context{
		"no caller":     context.Background(),
		"non admin":     ContextWithCaller(context.Background(), Caller{Subject: "user@example.com"}),
		"empty subject": ContextWithCaller(context.Background(), Caller{}),
	}

	for name, ctx := range contexts {
		t.Run(name, func(t *testing.T) {
			if _, err := mb.List(ctx, ListQuery{}); !errors.Is(err, ErrForbidden) {
				t.Errorf("list: expected ErrForbidden, got %v", err)
			}
			if _, err := mb.Count(ctx, ListQuery{}); !errors.Is(err, ErrForbidden) {
				t.Errorf("count: expected ErrForbidden, got %v", err)
			}
			if err := mb.Authorize(ctx); !errors.Is(err, ErrForbidden) {
				t.Errorf("authorize: expected ErrForbidden, got %v", err)
			}
			if _, err := mb.Get(ctx, 1); !errors.Is(err, ErrForbidden) {
				t.Errorf("get: expected ErrForbidden, got %v", err)
			}
			if _, err := mb.Handle(ctx, 1); !errors.Is(err, ErrForbidden) {
				t.Errorf("handle: expected ErrForbidden, got %v", err)
			}
			if err := mb.Delete(ctx, 1); !errors.Is(err, ErrForbidden) {
				t.Errorf("delete: expected ErrForbidden, got %v", err)
			}
			if _, err := mb.BulkDelete(ctx, []int64{1, 2}); !errors.Is(err, ErrForbidden) {
				t.Errorf("bulk delete: expected ErrForbidden, got %v", err)
			}
		})
	}

	if n := st.calls.Load(); n != 0 {
		t.Errorf("expected no store access, got %d calls", n)
	}
}

func TestCustomAuthorizer(t *testing.T) {
	svc, _ := setupTestService(t, WithAuthorizer(AuthorizerFunc(func(_ context.Context, c Caller) error {
		if c.Subject != "ops@example.com" {
			return ErrForbidden
		}
		return nil
	})))
	mb := svc.Workspace("ws1")

	ops := ContextWithCaller(context.Background(), Caller{Subject: "ops@example.com"})
	if _, err := mb.List(ops, ListQuery{}); err != nil {
		t.Errorf("expected ops caller to be admitted, got %v", err)
	}
	if _, err := mb.List(adminCtx(), ListQuery{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected super admin to be rejected by custom authorizer, got %v", err)
	}
}

func TestInvalidRequests(t *testing.T) {
	svc, _ := setupTestService(t, WithMaxBulkDelete(3))
	ctx := adminCtx()

	t.Run("invalid workspace id", func(t *testing.T) {
		for _, ws := range []string{"", "a/b", "has space", string(make([]byte, 51))} {
			if _, err := svc.Workspace(ws).List(ctx, ListQuery{}); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("workspace %q: expected ErrInvalidRequest, got %v", ws, err)
			}
		}
	})

	mb := svc.Workspace("ws1")

	t.Run("non-positive message id", func(t *testing.T) {
		if _, err := mb.Get(ctx, 0); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("get: expected ErrInvalidRequest, got %v", err)
		}
		if _, err := mb.Handle(ctx, -1); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("handle: expected ErrInvalidRequest, got %v", err)
		}
		if err := mb.Delete(ctx, 0); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("delete: expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("too many bulk ids", func(t *testing.T) {
		_, err := mb.BulkDelete(ctx, []int64{1, 2, 3, 4})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "message_ids" {
			t.Errorf("expected message_ids validation error, got %v", err)
		}
	})
}

func TestBulkDelete(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := adminCtx()
	mb := svc.Workspace("ws1")

	t.Run("empty is a no-op", func(t *testing.T) {
		report, err := mb.BulkDelete(ctx, nil)
		if err != nil {
			t.Fatalf("bulk delete: %v", err)
		}
		if report.TotalCount() != 0 || report.Err() != nil {
			t.Errorf("expected empty report, got %+v", report)
		}
	})

	t.Run("partial success in request order", func(t *testing.T) {
		a := seed(t, st, "ws1", TypeTrigger, "")
		b := seed(t, st, "ws1", TypeTrigger, "")

		report, err := mb.BulkDelete(ctx, []int64{b.ID, 0, a.ID, b.ID, 12345})
		if err != nil {
			t.Fatalf("bulk delete: %v", err)
		}
		if fmt.Sprint(report.Deleted) != fmt.Sprint([]int64{b.ID, a.ID}) {
			t.Errorf("deleted = %v", report.Deleted)
		}
		if fmt.Sprint(report.NotFound) != fmt.Sprint([]int64{0, 12345}) {
			t.Errorf("not found = %v", report.NotFound)
		}
		if !report.HasMissing() || !errors.Is(report.Err(), ErrNotFound) {
			t.Errorf("expected missing ids to surface through Err, got %v", report.Err())
		}
		if st.Len() != 0 {
			t.Errorf("expected store to be empty, has %d", st.Len())
		}
	})

	t.Run("deletes handled and pending alike", func(t *testing.T) {
		a := seed(t, st, "ws1", TypeTrigger, "")
		b := seed(t, st, "ws1", TypeTrigger, "")
		if _, err := mb.Handle(ctx, a.ID); err != nil {
			t.Fatalf("handle: %v", err)
		}
		report, err := mb.BulkDelete(ctx, []int64{a.ID, b.ID})
		if err != nil {
			t.Fatalf("bulk delete: %v", err)
		}
		if report.DeletedCount() != 2 {
			t.Errorf("expected both deleted, got %+v", report)
		}
	})
}

func TestArchiveOnDelete(t *testing.T) {
	arch := memory.New()
	svc, st := setupTestService(t, WithArchiver(arch))
	ctx := adminCtx()
	mb := svc.Workspace("ws1")

	a := seed(t, st, "ws1", TypeJobFailure, "")
	b := seed(t, st, "ws1", TypeJobFailure, "")

	if err := mb.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mb.BulkDelete(ctx, []int64{b.ID, 777}); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if arch.Len() != 2 {
		t.Errorf("expected 2 archived messages, got %d: %v", arch.Len(), arch.URIs())
	}
}

func TestArchiveFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")

	t.Run("logged by default", func(t *testing.T) {
		arch := memory.New()
		arch.FailWith(boom)
		svc, st := setupTestService(t, WithArchiver(arch))
		msg := seed(t, st, "ws1", TypeTrigger, "")

		if err := svc.Workspace("ws1").Delete(adminCtx(), msg.ID); err != nil {
			t.Errorf("expected delete to succeed, got %v", err)
		}
	})

	t.Run("fatal when configured", func(t *testing.T) {
		arch := memory.New()
		arch.FailWith(boom)
		svc, st := setupTestService(t, WithArchiver(arch), WithArchiveErrorsFatal(true))
		msg := seed(t, st, "ws1", TypeTrigger, "")

		err := svc.Workspace("ws1").Delete(adminCtx(), msg.ID)
		var ae *ArchiveError
		if !errors.As(err, &ae) {
			t.Fatalf("expected ArchiveError, got %v", err)
		}
		if len(ae.MessageIDs) != 1 || ae.MessageIDs[0] != msg.ID || !errors.Is(err, boom) {
			t.Errorf("unexpected archive error %+v", ae)
		}
		// The deletion itself committed.
		if _, err := st.Get(context.Background(), "ws1", msg.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected message gone, got %v", err)
		}
	})
}

// recordingPlugin records hook invocations.
type recordingPlugin struct {
	mu      sync.Mutex
	handled []int64
	deleted []int64
	inits   int
	closes  int
	hookErr error
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) Init(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits++
	return nil
}

func (p *recordingPlugin) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *recordingPlugin) AfterHandle(_ context.Context, _ string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handled = append(p.handled, msg.ID)
	return p.hookErr
}

func (p *recordingPlugin) AfterDelete(_ context.Context, _ string, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, msg.ID)
	return p.hookErr
}

func TestPluginHooks(t *testing.T) {
	p := &recordingPlugin{hookErr: errors.New("hook failed")}
	st := memstore.New()
	svc, err := NewService(WithStore(st), WithPlugin(p))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx := adminCtx()
	mb := svc.Workspace("ws1")
	a := seed(t, st, "ws1", TypeTrigger, "")
	b := seed(t, st, "ws1", TypeTrigger, "")

	// Hook errors never fail the operation.
	if _, err := mb.Handle(ctx, a.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := mb.Handle(ctx, a.ID); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if _, err := mb.BulkDelete(ctx, []int64{a.ID, b.ID}); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if fmt.Sprint(p.handled) != fmt.Sprint([]int64{a.ID}) {
		t.Errorf("AfterHandle should run once for the winner, got %v", p.handled)
	}
	if len(p.deleted) != 2 {
		t.Errorf("AfterDelete should run per deleted message, got %v", p.deleted)
	}
	if p.inits != 1 || p.closes != 1 {
		t.Errorf("expected one init and one close, got %d/%d", p.inits, p.closes)
	}
}

// failingPlugin fails Init.
type failingPlugin struct{ recordingPlugin }

func (p *failingPlugin) Name() string               { return "failing" }
func (p *failingPlugin) Init(context.Context) error { return errors.New("init failed") }

func TestPluginInitFailure(t *testing.T) {
	first := &recordingPlugin{}
	svc, err := NewService(WithStore(memstore.New()), WithPlugins(first, &failingPlugin{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	err = svc.Connect(context.Background())
	var pe *PluginError
	if !errors.As(err, &pe) || pe.Plugin != "failing" || pe.Op != "init" {
		t.Fatalf("expected PluginError from failing plugin, got %v", err)
	}
	if svc.IsConnected() {
		t.Error("service should not be connected after failed init")
	}
	if first.closes != 1 {
		t.Errorf("expected initialized plugin to be rolled back, closes=%d", first.closes)
	}
}

// countingStore counts every store call made after Connect.
type countingStore struct {
	store.Store
	calls atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, ws string, id int64) (*Message, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, ws, id)
}

func (s *countingStore) Find(ctx context.Context, ws string, f store.Filter, o store.ListOptions) ([]*Message, error) {
	s.calls.Add(1)
	return s.Store.Find(ctx, ws, f, o)
}

func (s *countingStore) Count(ctx context.Context, ws string, f store.Filter) (int64, error) {
	s.calls.Add(1)
	return s.Store.Count(ctx, ws, f)
}

func (s *countingStore) MarkHandled(ctx context.Context, ws string, id int64) (*Message, bool, error) {
	s.calls.Add(1)
	return s.Store.MarkHandled(ctx, ws, id)
}

func (s *countingStore) Delete(ctx context.Context, ws string, id int64) (*Message, error) {
	s.calls.Add(1)
	return s.Store.Delete(ctx, ws, id)
}

func (s *countingStore) DeleteMany(ctx context.Context, ws string, ids []int64) ([]*Message, error) {
	s.calls.Add(1)
	return s.Store.DeleteMany(ctx, ws, ids)
}

// flakyStore fails the first n reads and handles with a transport error.
type flakyStore struct {
	store.Store
	failures atomic.Int64
	attempts atomic.Int64
}

var errFlaky = errors.New("connection reset by peer")

func (s *flakyStore) fail() bool {
	s.attempts.Add(1)
	return s.failures.Add(-1) >= 0
}

func (s *flakyStore) Find(ctx context.Context, ws string, f store.Filter, o store.ListOptions) ([]*Message, error) {
	if s.fail() {
		return nil, errFlaky
	}
	return s.Store.Find(ctx, ws, f, o)
}

func (s *flakyStore) MarkHandled(ctx context.Context, ws string, id int64) (*Message, bool, error) {
	if s.fail() {
		return nil, false, errFlaky
	}
	return s.Store.MarkHandled(ctx, ws, id)
}

func (s *flakyStore) Delete(ctx context.Context, ws string, id int64) (*Message, error) {
	if s.fail() {
		return nil, errFlaky
	}
	return s.Store.Delete(ctx, ws, id)
}

func newFlakyService(t *testing.T, failures int64) (Service, *flakyStore) {
	t.Helper()
	st := &flakyStore{Store: memstore.New()}
	st.failures.Store(failures)
	svc, err := NewService(WithStore(st), WithRetry(fastRetry()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc, st
}

func fastRetry() retry.Config {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	return cfg
}

func TestStorageFailureRetried(t *testing.T) {
	t.Run("transient failure recovers", func(t *testing.T) {
		svc, st := newFlakyService(t, 2)
		if _, err := svc.Workspace("ws1").List(adminCtx(), ListQuery{}); err != nil {
			t.Fatalf("expected list to recover, got %v", err)
		}
		if n := st.attempts.Load(); n != 3 {
			t.Errorf("expected 3 attempts, got %d", n)
		}
	})

	t.Run("persistent failure surfaces as storage failure", func(t *testing.T) {
		svc, st := newFlakyService(t, 100)
		_, err := svc.Workspace("ws1").List(adminCtx(), ListQuery{})
		if !errors.Is(err, ErrStorageFailure) || !IsRetryableError(err) {
			t.Fatalf("expected ErrStorageFailure, got %v", err)
		}
		if !errors.Is(err, errFlaky) {
			t.Errorf("expected cause to be preserved, got %v", err)
		}
		var se *StorageError
		if !errors.As(err, &se) || se.Op != "list" {
			t.Errorf("expected StorageError for list, got %v", err)
		}
		if n := st.attempts.Load(); n != DefaultMaxRetries+1 {
			t.Errorf("expected %d attempts, got %d", DefaultMaxRetries+1, n)
		}
	})

	t.Run("handle is retried", func(t *testing.T) {
		svc, st := newFlakyService(t, 0)
		msg := seed(t, st, "ws1", TypeTrigger, "")
		st.failures.Store(1)

		res, err := svc.Workspace("ws1").Handle(adminCtx(), msg.ID)
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if res.Outcome != Handled {
			t.Errorf("expected Handled, got %v", res.Outcome)
		}
	})

	t.Run("delete is not retried", func(t *testing.T) {
		svc, st := newFlakyService(t, 0)
		msg := seed(t, st, "ws1", TypeTrigger, "")
		st.failures.Store(1)
		st.attempts.Store(0)

		err := svc.Workspace("ws1").Delete(adminCtx(), msg.ID)
		if !errors.Is(err, ErrStorageFailure) {
			t.Fatalf("expected ErrStorageFailure, got %v", err)
		}
		if n := st.attempts.Load(); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})

	t.Run("not found is not retried", func(t *testing.T) {
		svc, st := newFlakyService(t, 0)
		st.attempts.Store(0)
		if _, err := svc.Workspace("ws1").Handle(adminCtx(), 42); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if n := st.attempts.Load(); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})
}

func TestGracefulShutdown(t *testing.T) {
	svc, st := setupTestService(t)
	msg := seed(t, st, "ws1", TypeTrigger, "")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Workspace("ws1").Handle(adminCtx(), msg.ID)
	}()

	time.Sleep(10 * time.Millisecond)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		t.Errorf("close returned error: %v", err)
	}
	wg.Wait()
}

func TestEventTransports(t *testing.T) {
	exercise := func(t *testing.T, svc Service, st *memstore.Store) {
		t.Helper()
		if svc.Events() == nil || svc.Events().MessageHandled == nil || svc.Events().MessageDeleted == nil {
			t.Fatal("expected registered events")
		}
		ctx := adminCtx()
		mb := svc.Workspace("ws1")
		msg := seed(t, st, "ws1", TypeApprovalRequest, "")
		if _, err := mb.Handle(ctx, msg.ID); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if err := mb.Delete(ctx, msg.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}

	t.Run("noop", func(t *testing.T) {
		svc, st := setupTestService(t)
		exercise(t, svc, st)
	})

	t.Run("channel", func(t *testing.T) {
		svc, st := setupTestService(t, WithEventTransport(channel.New()), WithEventErrorsFatal(true))
		exercise(t, svc, st)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		svc, st := setupTestService(t, WithRedisClient(client), WithServiceName("mailbox-test"))
		exercise(t, svc, st)
	})
}

func TestEventBusPerService(t *testing.T) {
	transport := channel.New()
	a, _ := setupTestService(t, WithEventTransport(transport))
	b, _ := setupTestService(t)

	if a.Events() == b.Events() {
		t.Error("expected each service to own its events")
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closing one service leaves the other usable.
	if _, err := b.Workspace("ws1").List(adminCtx(), ListQuery{}); err != nil {
		t.Errorf("list on second service: %v", err)
	}
}

// partialDeleteStore removes only the first id of the first DeleteMany and
// then fails, the way a non-transactional backend can.
type partialDeleteStore struct {
	store.Store
	calls    atomic.Int64
	failFrom int // index at which DeleteMany fails
}

func (s *partialDeleteStore) DeleteMany(ctx context.Context, ws string, ids []int64) ([]*Message, error) {
	if s.calls.Add(1) > 1 {
		return s.Store.DeleteMany(ctx, ws, ids)
	}
	removed := make([]*Message, 0, s.failFrom)
	for _, id := range ids[:s.failFrom] {
		m, err := s.Store.Delete(ctx, ws, id)
		if err != nil {
			return removed, err
		}
		removed = append(removed, m)
	}
	return removed, errFlaky
}

func TestBulkDeleteStoreFailsPartWay(t *testing.T) {
	newService := func(t *testing.T, failFrom int, opts ...Option) (Service, *partialDeleteStore) {
		t.Helper()
		st := &partialDeleteStore{Store: memstore.New(), failFrom: failFrom}
		svc, err := NewService(append([]Option{WithStore(st)}, opts...)...)
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		if err := svc.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { svc.Close(context.Background()) })
		return svc, st
	}

	t.Run("removed rows are reported and their side effects run", func(t *testing.T) {
		arch := memory.New()
		p := &recordingPlugin{}
		svc, st := newService(t, 1, WithArchiver(arch), WithPlugins(p))
		a := seed(t, st, "ws1", TypeTrigger, "")
		b := seed(t, st, "ws1", TypeTrigger, "")
		mb := svc.Workspace("ws1")

		report, err := mb.BulkDelete(adminCtx(), []int64{a.ID, b.ID})
		if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, errFlaky) {
			t.Fatalf("expected storage failure, got %v", err)
		}
		var partial *PartialBulkDeleteError
		if !errors.As(err, &partial) || partial.Report != report {
			t.Fatalf("expected PartialBulkDeleteError carrying the report, got %T", err)
		}
		if report == nil {
			t.Fatal("expected a report for the rows already removed")
		}
		if fmt.Sprint(report.Deleted) != fmt.Sprint([]int64{a.ID}) || len(report.NotFound) != 0 {
			t.Errorf("unexpected report %+v", report)
		}
		if arch.Len() != 1 {
			t.Errorf("expected the removed row to be archived, got %d", arch.Len())
		}
		p.mu.Lock()
		deleted := fmt.Sprint(p.deleted)
		p.mu.Unlock()
		if deleted != fmt.Sprint([]int64{a.ID}) {
			t.Errorf("expected delete hook for %d, got %s", a.ID, deleted)
		}

		// The unprocessed id is still there and a retry of it succeeds.
		if _, err := st.Get(context.Background(), "ws1", b.ID); err != nil {
			t.Fatalf("expected %d to survive the failure: %v", b.ID, err)
		}
		report, err = mb.BulkDelete(adminCtx(), []int64{b.ID})
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if fmt.Sprint(report.Deleted) != fmt.Sprint([]int64{b.ID}) {
			t.Errorf("retry deleted = %v", report.Deleted)
		}
	})

	t.Run("failure before any removal has no report", func(t *testing.T) {
		svc, st := newService(t, 0)
		a := seed(t, st, "ws1", TypeTrigger, "")

		report, err := svc.Workspace("ws1").BulkDelete(adminCtx(), []int64{a.ID})
		if report != nil || !errors.Is(err, ErrStorageFailure) {
			t.Fatalf("expected nil report and storage failure, got %+v, %v", report, err)
		}
		var partial *PartialBulkDeleteError
		if errors.As(err, &partial) {
			t.Error("nothing was removed, error must not claim a partial delete")
		}
		if _, err := st.Get(context.Background(), "ws1", a.ID); err != nil {
			t.Errorf("message must still exist: %v", err)
		}
	})
}
