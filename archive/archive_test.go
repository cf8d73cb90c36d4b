package archive

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/workspace-mailbox/store"
)

func testMessage() *store.Message {
	box := "u/alice/flow"
	handled := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return &store.Message{
		ID:          42,
		WorkspaceID: "acme",
		MailboxID:   &box,
		Type:        store.TypeApprovalRequest,
		Payload:     json.RawMessage(`{"job_id":"j1"}`),
		CreatedAt:   handled.Add(-time.Hour),
		HandledAt:   &handled,
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 10, 2, 23, 0, 0, 0, time.FixedZone("X", -2*3600))
	got := ObjectKey("archive", testMessage(), at)
	// 23:00 at UTC-2 is the next day in UTC.
	want := "archive/acme/2026/10/03/42.json"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}
}

func TestObjectKeyEmptyPrefix(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ObjectKey("", testMessage(), at); got != "acme/2026/01/01/42.json" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	data, err := Encode(testMessage(), at)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.MessageID != 42 || rec.WorkspaceID != "acme" || rec.Type != store.TypeApprovalRequest {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.ArchivedAt.Equal(at) {
		t.Errorf("archived_at = %v, want %v", rec.ArchivedAt, at)
	}
	if string(rec.Payload) != `{"job_id":"j1"}` {
		t.Errorf("payload = %s", rec.Payload)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil, time.Now()); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{uri: "s3://bucket/a/b.json", bucket: "bucket", key: "a/b.json"},
		{uri: "s3://bucket", wantErr: true},
		{uri: "s3://bucket/", wantErr: true},
		{uri: "s3:///key", wantErr: true},
		{uri: "gs://bucket/key", wantErr: true},
		{uri: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI("s3", tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURI) {
					t.Errorf("expected ErrInvalidURI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}
