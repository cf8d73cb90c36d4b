package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/workspace-mailbox/retry"
	"github.com/rbaliyan/workspace-mailbox/store"
	"golang.org/x/sync/semaphore"
)

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins  *pluginRegistry
	otel     *otelInstrumentation
	opSem    *semaphore.Weighted // Limits concurrent mutations
	eventBus *event.Bus          // Event bus for publishing events
	events   *ServiceEvents      // Per-service event instances
}

// NewService creates a new mailbox service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	// Initialize plugin registry
	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:   o.store,
		logger:  o.logger,
		opts:    o,
		plugins: plugins,
		otel:    otelInstr,
		opSem:   semaphore.NewWeighted(int64(o.maxConcurrentOps)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
// Nil until Connect succeeds.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected, so Workspace()
	// users never observe a half-initialized service.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("mailbox service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's bus and registers its events on it.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailbox"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close waits for in-flight mutations, then closes plugins, the event bus
// and the store.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new operation can start once the state is disconnected, so holding
	// every semaphore slot means all in-flight mutations have finished.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.opSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentOps)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.opSem.Release(int64(s.opts.maxConcurrentOps))
		s.logger.Info("all in-flight operations completed")
	}

	// Close plugins first (reverse order of init)
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Events are per service, so the bus can always be closed.
	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Workspace returns the mailbox of the given workspace.
func (s *service) Workspace(workspaceID string) Mailbox {
	return &workspaceMailbox{
		workspaceID: workspaceID,
		service:     s,
	}
}

// retryConfig returns the configured retry policy restricted to the
// storage failure class.
func (s *service) retryConfig(op string) retry.Config {
	cfg := s.opts.retry
	cfg.IsRetryable = IsRetryableError
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("retrying storage operation",
			"op", op, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return cfg
}

// unwrapRetry strips the retry wrapper so callers see the classified error.
func unwrapRetry(err error) error {
	var re *retry.RetryError
	if errors.As(err, &re) {
		return re.Cause
	}
	return err
}

// workspaceMailbox is the Mailbox of one workspace.
type workspaceMailbox struct {
	workspaceID string
	service     *service
}

// WorkspaceID returns the workspace this mailbox belongs to.
func (m *workspaceMailbox) WorkspaceID() string {
	return m.workspaceID
}

// Authorize reports whether the caller in ctx may use this mailbox.
func (m *workspaceMailbox) Authorize(ctx context.Context) error {
	return m.checkAccess(ctx)
}

// checkAccess verifies the mailbox is ready for operations and the caller
// may use it. It runs before any store access.
func (m *workspaceMailbox) checkAccess(ctx context.Context) error {
	if !m.service.IsConnected() {
		return ErrNotConnected
	}
	// A missing caller is the zero Caller, which no authorizer should admit
	// unless it means to.
	caller, _ := CallerFromContext(ctx)
	if err := m.service.opts.authorizer.RequirePrivileged(ctx, caller); err != nil {
		return err
	}
	return ValidateWorkspaceID(m.workspaceID)
}
