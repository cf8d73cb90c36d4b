// Package s3 archives deleted mailbox messages to AWS S3 or an
// S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/store"
)

// Scheme is the URI scheme of archived objects.
const Scheme = "s3"

// ErrBucketRequired is returned by New when no bucket is configured.
var ErrBucketRequired = errors.New("s3: bucket is required")

// Archiver implements archive.Archiver on S3.
type Archiver struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var _ archive.Archiver = (*Archiver)(nil)

// New creates an S3 archiver. ctx is used only to load AWS configuration.
func New(ctx context.Context, opts ...Option) (*Archiver, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, ErrBucketRequired
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return &Archiver{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// buildAWSConfig resolves credentials: static keys, then role assumption,
// then the default chain.
func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		optFns = append(optFns, config.WithCredentialsProvider(
			newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Archive uploads the message record and returns its s3:// URI.
func (a *Archiver) Archive(ctx context.Context, msg *store.Message) (string, error) {
	at := a.now()
	data, err := archive.Encode(msg, at)
	if err != nil {
		return "", err
	}
	key := archive.ObjectKey(a.prefix, msg, at)

	_, err = a.tm.UploadObject(ctx, &transfermanager.UploadObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(archive.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	a.logger.Debug("archived message to s3", "bucket", a.bucket, "key", key, "message_id", msg.ID)
	return URI(a.bucket, key), nil
}

// URI formats an s3:// URI.
func URI(bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", Scheme, bucket, key)
}

// ParseURI splits an s3:// URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	return archive.ParseURI(Scheme, uri)
}
