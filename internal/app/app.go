// Package app wires mailboxd: storage, events, archive, the mailbox
// service and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	mailbox "github.com/rbaliyan/workspace-mailbox"
	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/archive/gcs"
	archiveotel "github.com/rbaliyan/workspace-mailbox/archive/otel"
	"github.com/rbaliyan/workspace-mailbox/archive/s3"
	"github.com/rbaliyan/workspace-mailbox/internal/api/http/handler"
	"github.com/rbaliyan/workspace-mailbox/internal/api/http/route"
	"github.com/rbaliyan/workspace-mailbox/internal/auth"
	"github.com/rbaliyan/workspace-mailbox/internal/config"
	"github.com/rbaliyan/workspace-mailbox/store"
	"github.com/rbaliyan/workspace-mailbox/store/memory"
	mongostore "github.com/rbaliyan/workspace-mailbox/store/mongo"
	"github.com/rbaliyan/workspace-mailbox/store/postgres"
)

type closeFunc func(ctx context.Context) error

type App struct {
	Cfg        *config.Config
	Log        *slog.Logger
	Service    mailbox.Service
	Tokens     *auth.Tokens
	Router     *gin.Engine
	HTTPServer *http.Server

	// closers run in reverse order on Shutdown.
	closers []closeFunc
}

// New builds and connects every component. On failure, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	a := &App{Cfg: cfg, Log: log}
	defer func() {
		if err != nil {
			if closeErr := a.closeAll(context.WithoutCancel(ctx)); closeErr != nil {
				log.Error("Failed to release resources after init error", "error", closeErr)
			}
		}
	}()

	st, err := a.initStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	rdb, err := a.initRedis(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	arch, err := a.initArchiver(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}

	tokens, err := NewTokens(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security: %w", err)
	}
	a.Tokens = tokens
	log.Debug("Token verifier initialized", "algorithm", cfg.Auth.Algorithm)

	svc, err := a.initService(ctx, st, rdb, arch)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailbox service: %w", err)
	}
	a.Service = svc

	a.Router = route.SetupRouter(log, cfg, tokens,
		handler.NewHealthHandler(svc),
		handler.NewMailboxHandler(log, svc),
	)
	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTPServer.Host, strconv.Itoa(int(cfg.HTTPServer.Port))),
		Handler:      a.Router,
		ReadTimeout:  cfg.HTTPServer.Timeout.Read,
		WriteTimeout: cfg.HTTPServer.Timeout.Write,
		IdleTimeout:  cfg.HTTPServer.Timeout.Idle,
	}

	return a, nil
}

func MustNew(ctx context.Context, cfg *config.Config, log *slog.Logger) *App {
	a, err := New(ctx, cfg, log)
	if err != nil {
		panic(err)
	}
	return a
}

// Run serves HTTP until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.HTTPServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.HTTPServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errs := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Cfg.HTTPServer.Timeout.Shutdown)
	defer cancel()
	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return <-errs
}

// Shutdown closes the mailbox service and every backend client.
func (a *App) Shutdown(ctx context.Context) error {
	return a.closeAll(ctx)
}

func (a *App) onClose(fn closeFunc) {
	a.closers = append(a.closers, fn)
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) initStore(ctx context.Context) (store.Store, error) {
	cfg := a.Cfg.Store
	log := a.Log.With("component", "store", "driver", cfg.Driver)

	switch cfg.Driver {
	case "postgres":
		db, err := sqlx.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		a.onClose(func(context.Context) error { return db.Close() })

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		log.Debug("Postgres connected")
		opts := []postgres.Option{
			postgres.WithTable(cfg.Postgres.Table),
			postgres.WithTimeout(cfg.Timeout),
			postgres.WithLogger(log),
		}
		if cfg.Postgres.ManagedSchema {
			opts = append(opts, postgres.WithoutSchemaSetup())
		}
		return postgres.New(db, opts...), nil

	case "mongo":
		client, err := mongo.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, err
		}
		a.onClose(client.Disconnect)

		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		log.Debug("MongoDB connected")
		return mongostore.New(client,
			mongostore.WithDatabase(cfg.Mongo.Database),
			mongostore.WithCollection(cfg.Mongo.Collection),
			mongostore.WithTimeout(cfg.Timeout),
			mongostore.WithLogger(log),
		), nil

	case "memory":
		log.Warn("Using in-memory store; messages are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// initRedis returns nil when redis is disabled.
func (a *App) initRedis(ctx context.Context) (redis.UniversalClient, error) {
	cfg := a.Cfg.Redis
	if !cfg.Enable {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.onClose(func(context.Context) error { return rdb.Close() })

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.Log.Debug("Redis connected", "addr", cfg.Addr)
	return rdb, nil
}

// initArchiver returns nil when archiving is disabled.
func (a *App) initArchiver(ctx context.Context) (archive.Archiver, error) {
	cfg := a.Cfg.Archive
	log := a.Log.With("component", "archive", "backend", cfg.Backend)

	var backend archive.Archiver
	switch cfg.Backend {
	case "", "none":
		return nil, nil

	case "s3":
		opts := []s3.Option{
			s3.WithBucket(cfg.Bucket),
			s3.WithPrefix(cfg.Prefix),
			s3.WithRegion(cfg.S3.Region),
			s3.WithEndpoint(cfg.S3.Endpoint),
			s3.WithPathStyle(cfg.S3.PathStyle),
			s3.WithLogger(log),
		}
		if cfg.S3.AccessKeyID != "" {
			opts = append(opts, s3.WithStaticCredentials(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""))
		}
		if cfg.S3.RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(cfg.S3.RoleARN, "", cfg.S3.ExternalID))
		}
		arch, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		backend = arch

	case "gcs":
		opts := []gcs.Option{
			gcs.WithBucket(cfg.Bucket),
			gcs.WithPrefix(cfg.Prefix),
			gcs.WithEndpoint(cfg.GCS.Endpoint),
			gcs.WithLogger(log),
		}
		if cfg.GCS.CredentialsFile != "" {
			opts = append(opts, gcs.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		arch, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return arch.Close() })
		backend = arch

	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}

	instrumented, err := archiveotel.New(backend,
		archiveotel.WithTracing(a.Cfg.Telemetry.Tracing),
		archiveotel.WithMetrics(a.Cfg.Telemetry.Metrics),
		archiveotel.WithServiceName(a.Cfg.ServiceName),
		archiveotel.WithBackend(cfg.Backend, cfg.Bucket),
	)
	if err != nil {
		return nil, err
	}
	log.Debug("Archive initialized", "bucket", cfg.Bucket)
	return instrumented, nil
}

func (a *App) initService(ctx context.Context, st store.Store, rdb redis.UniversalClient, arch archive.Archiver) (mailbox.Service, error) {
	cfg := a.Cfg.Mailbox

	retryCfg := mailbox.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries

	opts := []mailbox.Option{
		mailbox.WithStore(st),
		mailbox.WithLogger(a.Log.With("component", "mailbox")),
		mailbox.WithServiceName(a.Cfg.ServiceName),
		mailbox.WithDefaultPerPage(cfg.DefaultPerPage),
		mailbox.WithMaxPerPage(cfg.MaxPerPage),
		mailbox.WithMaxBulkDelete(cfg.MaxBulkDelete),
		mailbox.WithMaxConcurrentOps(cfg.MaxConcurrentOps),
		mailbox.WithShutdownTimeout(cfg.ShutdownTimeout),
		mailbox.WithRetry(retryCfg),
		mailbox.WithEventErrorsFatal(cfg.EventErrorsFatal),
		mailbox.WithTracing(a.Cfg.Telemetry.Tracing),
		mailbox.WithMetrics(a.Cfg.Telemetry.Metrics),
		mailbox.WithArchiver(arch),
		mailbox.WithArchiveErrorsFatal(a.Cfg.Archive.ErrorsFatal),
	}
	if rdb != nil {
		opts = append(opts, mailbox.WithRedisClient(rdb))
	}

	svc, err := mailbox.NewService(opts...)
	if err != nil {
		return nil, err
	}
	if err := svc.Connect(ctx); err != nil {
		return nil, err
	}
	a.onClose(svc.Close)
	a.Log.Debug("Mailbox service connected")
	return svc, nil
}

// NewTokens builds the token verifier/minter for cfg.
func NewTokens(cfg config.Auth) (*auth.Tokens, error) {
	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("auth secret is empty")
		}
		return auth.NewHMAC([]byte(cfg.Secret), cfg.Issuer), nil

	case "ES256":
		publicKey, err := auth.LoadECDSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		if cfg.PrivateKeyPath == "" {
			return auth.NewECDSA(publicKey, nil, cfg.Issuer), nil
		}
		privateKey, err := auth.LoadECDSAPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return auth.NewECDSA(publicKey, privateKey, cfg.Issuer), nil

	default:
		return nil, fmt.Errorf("unsupported auth algorithm %q", cfg.Algorithm)
	}
}
