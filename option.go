package mailbox

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/retry"
	"github.com/rbaliyan/workspace-mailbox/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Pagination
	DefaultPerPage = 50  // messages per page when per_page is absent
	MaxPerPage     = 500 // per_page cap

	// Bulk delete
	DefaultMaxBulkDelete = 1000 // max ids per bulk delete request

	// Concurrency limits
	DefaultMaxConcurrentOps = 64 // max in-flight mutations per service

	// Retry of storage failures
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = time.Second
)

// options holds mailbox configuration.
type options struct {
	store      store.Store
	authorizer Authorizer
	archiver   archive.Archiver
	logger     *slog.Logger

	plugins []Plugin

	// Pagination
	defaultPerPage int
	maxPerPage     int

	// Bulk delete
	maxBulkDelete int

	// Concurrency limits
	maxConcurrentOps int

	// Shutdown
	shutdownTimeout time.Duration

	// Retry of storage failures
	retry retry.Config

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Archive handling
	archiveErrorsFatal bool

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageHandled"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// DefaultRetryConfig returns the retry policy applied to storage failures.
func DefaultRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = DefaultMaxRetries
	cfg.InitialBackoff = DefaultInitialBackoff
	cfg.MaxBackoff = DefaultMaxBackoff
	return cfg
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:           slog.Default(),
		authorizer:       SuperAdminAuthorizer{},
		defaultPerPage:   DefaultPerPage,
		maxPerPage:       MaxPerPage,
		maxBulkDelete:    DefaultMaxBulkDelete,
		maxConcurrentOps: DefaultMaxConcurrentOps,
		shutdownTimeout:  DefaultShutdownTimeout,
		retry:            DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultPerPage > o.maxPerPage {
		o.defaultPerPage = o.maxPerPage
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a mailbox.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuthorizer replaces the default SuperAdminAuthorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(o *options) {
		if a != nil {
			o.authorizer = a
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the mailbox service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Archive Options ---

// WithArchiver sets an archiver that receives every deleted message after
// the deletion commits.
func WithArchiver(a archive.Archiver) Option {
	return func(o *options) {
		if a != nil {
			o.archiver = a
		}
	}
}

// WithArchiveErrorsFatal makes Delete and BulkDelete return an ArchiveError
// when archiving fails. The deletion itself is never undone. By default
// archive failures are only logged.
func WithArchiveErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.archiveErrorsFatal = fatal
	}
}

// --- Query Options ---

// WithDefaultPerPage sets the page size used when a query has none.
// Default is 50. It is capped to the max per page.
func WithDefaultPerPage(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultPerPage = n
		}
	}
}

// WithMaxPerPage sets the largest page size a query may request.
// Default is 500.
func WithMaxPerPage(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPerPage = n
		}
	}
}

// WithMaxBulkDelete sets the maximum number of ids in one bulk delete.
// Default is 1000.
func WithMaxBulkDelete(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBulkDelete = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentOps sets the maximum number of concurrent handle and
// delete operations. Default is 64.
func WithMaxConcurrentOps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentOps = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight operations
// during graceful shutdown. When Close() is called, the service waits up to
// this duration for ongoing mutations to complete.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithRetry sets the retry policy for storage failures. Only errors in the
// ErrStorageFailure class are retried, whatever cfg.IsRetryable says.
// Set MaxRetries to 0 to disable retries.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all mailbox operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for the event bus and telemetry.
// Default is "mailbox".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds.
//
// The state change has committed either way; with fatal errors the caller
// receives the result together with an EventPublishError.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// This callback is invoked whenever an event fails to publish (and eventErrorsFatal is false).
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
