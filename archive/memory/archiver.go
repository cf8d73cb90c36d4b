// Package memory provides an in-memory archiver for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/store"
)

// Archiver keeps archived records in memory, keyed by URI.
type Archiver struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
	now     func() time.Time
	failErr error
}

var _ archive.Archiver = (*Archiver)(nil)

// Option configures the archiver.
type Option func(*Archiver)

// WithPrefix sets the key prefix. Default is archive.DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// WithClock sets the time source used for archive keys and records.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an empty archiver.
func New(opts ...Option) *Archiver {
	a := &Archiver{
		prefix:  archive.DefaultPrefix,
		objects: make(map[string][]byte),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive stores the encoded message and returns a mem:// URI.
func (a *Archiver) Archive(_ context.Context, msg *store.Message) (string, error) {
	a.mu.RLock()
	failErr := a.failErr
	a.mu.RUnlock()
	if failErr != nil {
		return "", failErr
	}

	at := a.now()
	data, err := archive.Encode(msg, at)
	if err != nil {
		return "", err
	}
	uri := fmt.Sprintf("mem://%s", archive.ObjectKey(a.prefix, msg, at))

	a.mu.Lock()
	a.objects[uri] = data
	a.mu.Unlock()
	return uri, nil
}

// FailWith makes every later Archive call return err. Pass nil to recover.
func (a *Archiver) FailWith(err error) {
	a.mu.Lock()
	a.failErr = err
	a.mu.Unlock()
}

// Object returns the stored bytes for uri.
func (a *Archiver) Object(uri string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[uri]
	return data, ok
}

// URIs returns the URIs of every stored object, sorted.
func (a *Archiver) URIs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	uris := make([]string, 0, len(a.objects))
	for uri := range a.objects {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Len returns the number of stored objects.
func (a *Archiver) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
