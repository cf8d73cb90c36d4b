package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/workspace-mailbox/archive/memory"
	"github.com/rbaliyan/workspace-mailbox/store"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func newTestArchiver(t *testing.T, backend *memory.Archiver) *Archiver {
	t.Helper()
	a, err := New(backend,
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
		WithServiceName("test"),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return a
}

func TestArchiveDelegates(t *testing.T) {
	backend := memory.New()
	a := newTestArchiver(t, backend)

	uri, err := a.Archive(context.Background(), &store.Message{ID: 3, WorkspaceID: "ws1", Type: store.TypeTrigger})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, ok := backend.Object(uri); !ok {
		t.Errorf("backend has no object at %q", uri)
	}
}

func TestArchivePropagatesError(t *testing.T) {
	backend := memory.New()
	boom := errors.New("boom")
	backend.FailWith(boom)
	a := newTestArchiver(t, backend)

	if _, err := a.Archive(context.Background(), &store.Message{ID: 3, WorkspaceID: "ws1"}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	a, err := New(memory.New(), WithTracing(false), WithMetrics(false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.tracer != nil {
		t.Error("tracer should be nil when tracing is disabled")
	}
	if _, err := a.Archive(context.Background(), &store.Message{ID: 1, WorkspaceID: "ws1"}); err != nil {
		t.Errorf("archive: %v", err)
	}
}

func TestBackendAttributes(t *testing.T) {
	o := &options{serviceName: "mailboxd"}
	WithBackend("s3", "archive-bucket")(o)

	got := map[string]string{}
	for _, kv := range o.attributes() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{
		"service.name":    "mailboxd",
		"archive.backend": "s3",
		"archive.bucket":  "archive-bucket",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	WithBackend("", "")(o)
	if o.backend != "s3" || o.bucket != "archive-bucket" {
		t.Errorf("empty values overwrote backend: %+v", o)
	}
}
