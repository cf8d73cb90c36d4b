// Package gcs archives deleted mailbox messages to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/store"
	"google.golang.org/api/option"
)

// Scheme is the URI scheme of archived objects.
const Scheme = "gs"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ErrBucketRequired is returned by New when no bucket is configured.
var ErrBucketRequired = errors.New("gcs: bucket is required")

// Archiver implements archive.Archiver on Google Cloud Storage.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var _ archive.Archiver = (*Archiver)(nil)

// New creates a GCS archiver. Close releases the underlying client.
func New(ctx context.Context, opts ...Option) (*Archiver, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, ErrBucketRequired
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// buildClientOptions maps the configured credentials to client options.
func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Archive writes the message record and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, msg *store.Message) (string, error) {
	at := a.now()
	data, err := archive.Encode(msg, at)
	if err != nil {
		return "", err
	}
	key := archive.ObjectKey(a.prefix, msg, at)

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = archive.ContentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy record to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	a.logger.Debug("archived message to gcs", "bucket", a.bucket, "key", key, "message_id", msg.ID)
	return URI(a.bucket, key), nil
}

// Close closes the GCS client.
func (a *Archiver) Close() error {
	return a.client.Close()
}

// URI formats a gs:// URI.
func URI(bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", Scheme, bucket, key)
}

// ParseURI splits a gs:// URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	return archive.ParseURI(Scheme, uri)
}
