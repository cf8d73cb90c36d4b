// Package storetest provides a conformance suite that every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rbaliyan/workspace-mailbox/store"
)

// Factory returns a fresh, connected store. Each subtest gets its own store
// and cleanup is registered through t.Cleanup by the factory.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("InsertAssignsIncreasingIDs", func(t *testing.T) { testInsertIDs(t, newStore(t)) })
	t.Run("InsertRejectsInvalidData", func(t *testing.T) { testInsertInvalid(t, newStore(t)) })
	t.Run("GetIsWorkspaceScoped", func(t *testing.T) { testGetScoped(t, newStore(t)) })
	t.Run("FindOrdersNewestFirst", func(t *testing.T) { testFindOrder(t, newStore(t)) })
	t.Run("FindAppliesFilters", func(t *testing.T) { testFindFilters(t, newStore(t)) })
	t.Run("FindPagesAreContiguous", func(t *testing.T) { testFindPaging(t, newStore(t)) })
	t.Run("MarkHandledOnce", func(t *testing.T) { testMarkHandledOnce(t, newStore(t)) })
	t.Run("MarkHandledConcurrent", func(t *testing.T) { testMarkHandledConcurrent(t, newStore(t)) })
	t.Run("MarkHandledScoped", func(t *testing.T) { testMarkHandledScoped(t, newStore(t)) })
	t.Run("DeleteRemovesMessage", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("DeleteManyReportsRemoved", func(t *testing.T) { testDeleteMany(t, newStore(t)) })
	t.Run("IDsAreNotReused", func(t *testing.T) { testIDsNotReused(t, newStore(t)) })
}

// MustInsert inserts a message or fails the test.
func MustInsert(t *testing.T, s store.Store, workspaceID string, typ store.MailboxType, mailboxID string) *store.Message {
	t.Helper()
	data := store.MessageData{
		WorkspaceID: workspaceID,
		Type:        typ,
		Payload:     json.RawMessage(`{"n":1}`),
	}
	if mailboxID != "" {
		data.MailboxID = &mailboxID
	}
	msg, err := s.Insert(context.Background(), data)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return msg
}

func ids(msgs []*store.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testInsertIDs(t *testing.T, s store.Store) {
	var prev int64
	for i := 0; i < 5; i++ {
		m := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
		if m.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", m.ID, prev)
		}
		if m.CreatedAt.IsZero() {
			t.Error("expected created_at to be set")
		}
		if m.HandledAt != nil {
			t.Error("new message should be pending")
		}
		prev = m.ID
	}
}

func testInsertInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, store.MessageData{WorkspaceID: "ws1", Type: "bogus"})
	if !errors.Is(err, store.ErrInvalidMailboxType) {
		t.Errorf("expected ErrInvalidMailboxType, got %v", err)
	}
	_, err = s.Insert(ctx, store.MessageData{Type: store.TypeTrigger})
	if !errors.Is(err, store.ErrInvalidWorkspace) {
		t.Errorf("expected ErrInvalidWorkspace, got %v", err)
	}
}

func testGetScoped(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := MustInsert(t, s, "ws1", store.TypeJobFailure, "thread-1")

	got, err := s.Get(ctx, "ws1", m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != store.TypeJobFailure || got.MailboxID == nil || *got.MailboxID != "thread-1" {
		t.Errorf("unexpected message: %+v", got)
	}
	var payload map[string]int
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["n"] != 1 {
		t.Errorf("payload not round-tripped: %s", got.Payload)
	}

	if _, err := s.Get(ctx, "ws2", m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound from other workspace, got %v", err)
	}
	if _, err := s.Get(ctx, "ws1", m.ID+1000); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func testFindOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []int64
	for i := 0; i < 3; i++ {
		m := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
		want = append([]int64{m.ID}, want...)
	}
	MustInsert(t, s, "ws2", store.TypeSystemAlert, "")

	got, err := s.Find(ctx, "ws1", store.Filter{}, store.ListOptions{Limit: 50})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !equalIDs(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
}

func testFindFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustInsert(t, s, "ws1", store.TypeApprovalRequest, "thread-a")
	b := MustInsert(t, s, "ws1", store.TypeApprovalRequest, "thread-b")
	c := MustInsert(t, s, "ws1", store.TypeSystemAlert, "thread-a")

	tests := []struct {
		name   string
		filter store.Filter
		want   []int64
	}{
		{"type", store.NewFilter().WithType(store.TypeApprovalRequest).Build(), []int64{b.ID, a.ID}},
		{"mailbox", store.NewFilter().WithMailboxID("thread-a").Build(), []int64{c.ID, a.ID}},
		{"type and mailbox", store.NewFilter().WithType(store.TypeApprovalRequest).WithMailboxID("thread-a").Build(), []int64{a.ID}},
		{"message id", store.NewFilter().WithMessageID(b.ID).Build(), []int64{b.ID}},
		{"message id with mismatching type", store.NewFilter().WithMessageID(b.ID).WithType(store.TypeSystemAlert).Build(), []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, "ws1", tt.filter, store.ListOptions{Limit: 50})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
			count, err := s.Count(ctx, "ws1", tt.filter)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if count != int64(len(tt.want)) {
				t.Errorf("count = %d, want %d", count, len(tt.want))
			}
		})
	}

	got, err := s.Find(ctx, "ws2", store.NewFilter().WithMessageID(a.ID).Build(), store.ListOptions{Limit: 50})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no cross-workspace results, got %v", ids(got))
	}
}

func testFindPaging(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		MustInsert(t, s, "ws1", store.TypeTrigger, "")
	}
	full, err := s.Find(ctx, "ws1", store.Filter{}, store.ListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	var concat []int64
	for page := 0; ; page++ {
		got, err := s.Find(ctx, "ws1", store.Filter{}, store.ListOptions{Limit: 3, Offset: page * 3})
		if err != nil {
			t.Fatalf("find page %d: %v", page, err)
		}
		again, err := s.Find(ctx, "ws1", store.Filter{}, store.ListOptions{Limit: 3, Offset: page * 3})
		if err != nil {
			t.Fatalf("find page %d again: %v", page, err)
		}
		if !equalIDs(ids(got), ids(again)) {
			t.Errorf("page %d not deterministic: %v vs %v", page, ids(got), ids(again))
		}
		if len(got) == 0 {
			break
		}
		concat = append(concat, ids(got)...)
	}
	if !equalIDs(concat, ids(full)) {
		t.Errorf("pages concatenated = %v, want %v", concat, ids(full))
	}
}

func testMarkHandledOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := MustInsert(t, s, "ws1", store.TypeApprovalRequest, "")

	first, ok, err := s.MarkHandled(ctx, "ws1", m.ID)
	if err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if !ok || first.HandledAt == nil {
		t.Fatalf("expected first call to transition, got ok=%v msg=%+v", ok, first)
	}

	second, ok, err := s.MarkHandled(ctx, "ws1", m.ID)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if ok {
		t.Error("second call must not transition")
	}
	if second.HandledAt == nil || !second.HandledAt.Equal(*first.HandledAt) {
		t.Errorf("handled_at changed: %v -> %v", first.HandledAt, second.HandledAt)
	}

	got, err := s.Get(ctx, "ws1", m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HandledAt == nil || !got.HandledAt.Equal(*first.HandledAt) {
		t.Errorf("stored handled_at = %v, want %v", got.HandledAt, first.HandledAt)
	}
}

func testMarkHandledConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := MustInsert(t, s, "ws1", store.TypeApprovalRequest, "")

	const n = 16
	var wg sync.WaitGroup
	results := make(chan bool, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.MarkHandled(ctx, "ws1", m.ID)
			if err != nil {
				errs <- err
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("handle error: %v", err)
	}
	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func testMarkHandledScoped(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := MustInsert(t, s, "ws1", store.TypeApprovalRequest, "")

	if _, _, err := s.MarkHandled(ctx, "ws2", m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound from other workspace, got %v", err)
	}
	got, err := s.Get(ctx, "ws1", m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HandledAt != nil {
		t.Error("handling from another workspace must not change the message")
	}
	if _, _, err := s.MarkHandled(ctx, "ws1", m.ID+1000); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	pending := MustInsert(t, s, "ws1", store.TypeJobFailure, "")
	handled := MustInsert(t, s, "ws1", store.TypeJobFailure, "")
	if _, _, err := s.MarkHandled(ctx, "ws1", handled.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if _, err := s.Delete(ctx, "ws2", pending.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound from other workspace, got %v", err)
	}
	for _, m := range []*store.Message{pending, handled} {
		removed, err := s.Delete(ctx, "ws1", m.ID)
		if err != nil {
			t.Fatalf("delete %d: %v", m.ID, err)
		}
		if removed.ID != m.ID {
			t.Errorf("removed id = %d, want %d", removed.ID, m.ID)
		}
		if _, err := s.Get(ctx, "ws1", m.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected message %d gone, got %v", m.ID, err)
		}
		if _, err := s.Delete(ctx, "ws1", m.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected second delete ErrNotFound, got %v", err)
		}
	}
}

func testDeleteMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
	b := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
	other := MustInsert(t, s, "ws2", store.TypeSystemAlert, "")
	missing := b.ID + 1000

	removed, err := s.DeleteMany(ctx, "ws1", []int64{a.ID, missing, other.ID, a.ID})
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != a.ID {
		t.Errorf("removed = %v, want [%d]", ids(removed), a.ID)
	}
	if _, err := s.Get(ctx, "ws1", b.ID); err != nil {
		t.Errorf("unlisted message should survive: %v", err)
	}
	if _, err := s.Get(ctx, "ws2", other.ID); err != nil {
		t.Errorf("other workspace message should survive: %v", err)
	}

	removed, err = s.DeleteMany(ctx, "ws1", nil)
	if err != nil {
		t.Fatalf("empty delete many: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("expected nothing removed, got %v", ids(removed))
	}
}

func testIDsNotReused(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
	if _, err := s.Delete(ctx, "ws1", m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	next := MustInsert(t, s, "ws1", store.TypeSystemAlert, "")
	if next.ID <= m.ID {
		t.Errorf("id %s reused or decreased after delete", fmt.Sprint(next.ID))
	}
}
