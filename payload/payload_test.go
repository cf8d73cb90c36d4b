package payload

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rbaliyan/workspace-mailbox/store"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		in   Payload
	}{
		{"job failure", &JobFailure{JobID: "j1", Path: "f/flows/etl", Error: "exit 1"}},
		{"approval", &ApprovalRequest{JobID: "j2", ResumeURL: "https://x/resume", Approvers: []string{"a@x"}}},
		{"alert", &SystemAlert{Severity: SeverityWarning, Message: "disk"}},
		{"trigger", &Trigger{Kind: "webhook", Args: json.RawMessage(`{"a":1}`)}},
	}
	reg := DefaultRegistry()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, raw, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if typ != tt.in.MailboxType() {
				t.Errorf("type = %q, want %q", typ, tt.in.MailboxType())
			}

			got, err := Decode(&store.Message{ID: 1, Type: typ, Payload: raw}, reg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.MailboxType() != typ {
				t.Errorf("decoded type = %q, want %q", got.MailboxType(), typ)
			}
			again, _ := json.Marshal(got)
			if string(again) != string(raw) {
				t.Errorf("decoded payload %s differs from %s", again, raw)
			}
		})
	}
}

func TestDecodeConcreteType(t *testing.T) {
	msg := &store.Message{
		ID:      5,
		Type:    store.TypeJobFailure,
		Payload: json.RawMessage(`{"job_id":"j9","error":"boom"}`),
	}
	p, err := Decode(msg, DefaultRegistry())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	jf, ok := p.(*JobFailure)
	if !ok {
		t.Fatalf("expected *JobFailure, got %T", p)
	}
	if jf.JobID != "j9" || jf.Error != "boom" {
		t.Errorf("unexpected payload %+v", jf)
	}
}

func TestDecodeUnsupportedType(t *testing.T) {
	_, err := Decode(&store.Message{Type: store.TypeTrigger}, NewRegistry())
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	msg := &store.Message{Type: store.TypeJobFailure, Payload: json.RawMessage(`[1,2]`)}
	if _, err := Decode(msg, DefaultRegistry()); !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}
}

func TestDecodeRejectsUnknownSeverity(t *testing.T) {
	msg := &store.Message{Type: store.TypeSystemAlert, Payload: json.RawMessage(`{"severity":"meh","message":"x"}`)}
	if _, err := Decode(msg, DefaultRegistry()); !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}
}

func TestDecodeNullPayload(t *testing.T) {
	msg := &store.Message{Type: store.TypeTrigger, Payload: json.RawMessage(`null`)}
	p, err := Decode(msg, DefaultRegistry())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr := p.(*Trigger); tr.Kind != "" {
		t.Errorf("expected zero trigger, got %+v", tr)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, _, err := Encode(nil); !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestNewMessageData(t *testing.T) {
	box := "u/admin"
	data, err := NewMessageData("ws1", &box, &SystemAlert{Severity: SeverityInfo, Message: "hi"})
	if err != nil {
		t.Fatalf("new message data: %v", err)
	}
	if data.Type != store.TypeSystemAlert || data.WorkspaceID != "ws1" || *data.MailboxID != "u/admin" {
		t.Errorf("unexpected data %+v", data)
	}
	if err := data.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestRegistryOverride(t *testing.T) {
	r := DefaultRegistry()
	called := false
	r.Register(store.TypeTrigger, func(json.RawMessage) (Payload, error) {
		called = true
		return &Trigger{Kind: "custom"}, nil
	})

	p, err := Decode(&store.Message{Type: store.TypeTrigger}, r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !called || p.(*Trigger).Kind != "custom" {
		t.Error("expected the replacement decoder to run")
	}
}
