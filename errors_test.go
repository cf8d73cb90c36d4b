package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rbaliyan/workspace-mailbox/store"
)

func TestClassifyStoreError(t *testing.T) {
	backend := errors.New("dial tcp: connection refused")

	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"nil", nil, nil, false},
		{"not found", store.ErrNotFound, ErrNotFound, false},
		{"wrapped not found", fmt.Errorf("find: %w", store.ErrNotFound), ErrNotFound, false},
		{"not connected", store.ErrNotConnected, ErrNotConnected, false},
		{"invalid id", store.ErrInvalidID, ErrInvalidRequest, false},
		{"invalid workspace", store.ErrInvalidWorkspace, ErrInvalidRequest, false},
		{"invalid mailbox type", store.ErrInvalidMailboxType, ErrInvalidRequest, false},
		{"canceled", context.Canceled, context.Canceled, false},
		{"backend failure", backend, ErrStorageFailure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStoreError("list", tt.err)
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("expected errors.Is(%v, %v)", got, tt.want)
			}
			if IsRetryableError(got) != tt.retryable {
				t.Errorf("expected retryable=%v for %v", tt.retryable, got)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := &StorageError{Op: "handle", Err: cause}

	if !errors.Is(err, ErrStorageFailure) {
		t.Error("expected StorageError to match ErrStorageFailure")
	}
	if !errors.Is(err, cause) {
		t.Error("expected StorageError to unwrap to its cause")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("StorageError must not match ErrNotFound")
	}
	if !err.Retryable() {
		t.Error("expected StorageError to be retryable")
	}
	msg := err.Error()
	if !strings.Contains(msg, "handle") || !strings.Contains(msg, "i/o timeout") {
		t.Errorf("expected op and cause in message, got %q", msg)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "message_id", Message: "must be a positive integer"}

	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("expected ValidationError to match ErrInvalidRequest")
	}
	if want := "mailbox: invalid message_id: must be a positive integer"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestSentinelErrorsWrapStore(t *testing.T) {
	if !errors.Is(ErrNotFound, store.ErrNotFound) {
		t.Error("ErrNotFound should wrap store.ErrNotFound")
	}
	if !errors.Is(ErrNotConnected, store.ErrNotConnected) {
		t.Error("ErrNotConnected should wrap store.ErrNotConnected")
	}
	if !errors.Is(ErrAlreadyConnected, store.ErrAlreadyConnected) {
		t.Error("ErrAlreadyConnected should wrap store.ErrAlreadyConnected")
	}
	if IsRetryableError(ErrNotFound) || IsRetryableError(ErrForbidden) || IsRetryableError(nil) {
		t.Error("only storage failures are retryable")
	}
}

func TestEventPublishError(t *testing.T) {
	cause := errors.New("stream unavailable")
	err := fmt.Errorf("op: %w", &EventPublishError{Event: "MessageHandled", MessageID: 7, Err: cause})

	epe, ok := IsEventPublishError(err)
	if !ok {
		t.Fatal("expected IsEventPublishError to find the error")
	}
	if epe.MessageID != 7 || epe.Event != "MessageHandled" {
		t.Errorf("unexpected fields %+v", epe)
	}
	if !errors.Is(err, cause) {
		t.Error("expected unwrap to cause")
	}
	if _, ok := IsEventPublishError(ErrNotFound); ok {
		t.Error("ErrNotFound is not an event publish error")
	}
}

func TestArchiveError(t *testing.T) {
	cause := errors.New("access denied")
	err := &ArchiveError{MessageIDs: []int64{3, 4}, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected ArchiveError to unwrap to cause")
	}
	if !strings.Contains(err.Error(), "2 deleted messages") {
		t.Errorf("expected count in message, got %q", err.Error())
	}
}

func TestBulkOperationError(t *testing.T) {
	report := &BulkDeleteReport{Deleted: []int64{1, 2}, NotFound: []int64{3}}

	err := report.Err()
	if err == nil {
		t.Fatal("expected error for missing ids")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected BulkOperationError to match ErrNotFound")
	}
	var boe *BulkOperationError
	if !errors.As(err, &boe) || boe.Report != report {
		t.Error("expected BulkOperationError carrying the report")
	}
	if want := "mailbox: bulk delete missed 1 of 3 messages"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	var nilReport *BulkDeleteReport
	if nilReport.TotalCount() != 0 || nilReport.Err() != nil {
		t.Error("nil report should be empty")
	}
}

func TestHandleResultErr(t *testing.T) {
	if (&HandleResult{Outcome: Handled}).Err() != nil {
		t.Error("Handled should not be an error")
	}
	if !errors.Is((&HandleResult{Outcome: AlreadyHandled}).Err(), ErrAlreadyHandled) {
		t.Error("AlreadyHandled should map to ErrAlreadyHandled")
	}
	var nilResult *HandleResult
	if nilResult.Err() != nil {
		t.Error("nil result should not be an error")
	}
	if Handled.String() != "handled" || AlreadyHandled.String() != "already_handled" {
		t.Errorf("unexpected outcome strings %q %q", Handled, AlreadyHandled)
	}
}

func TestPluginError(t *testing.T) {
	cause := errors.New("smtp down")
	err := &PluginError{Plugin: "notify", Op: "init", Err: cause}
	if err.Error() != "plugin notify init: smtp down" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected unwrap to cause")
	}
}

func TestPartialBulkDeleteError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	report := &BulkDeleteReport{Deleted: []int64{4, 7}}
	err := &PartialBulkDeleteError{Report: report, Err: &StorageError{Op: "bulk_delete", Err: cause}}

	want := "mailbox: bulk_delete: storage failure: connection reset by peer (2 messages deleted before the failure)"
	if err.Error() != want {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, cause) {
		t.Error("expected unwrap to the storage failure and its cause")
	}
}
