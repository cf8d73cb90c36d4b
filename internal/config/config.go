// Package config loads the mailboxd configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable consulted when no path is given.
const EnvConfigPath = "CONFIG_PATH"

const redacted = "[REDACTED]"

var (
	ErrConfigFileNotFound = errors.New("config: file does not exist")
	ErrInvalidConfig      = errors.New("config: invalid")
)

type Config struct {
	App        `yaml:"app"`
	Logger     `yaml:"log"`
	HTTPServer `yaml:"http_server"`
	Auth       Auth      `yaml:"auth"`
	Store      Store     `yaml:"store"`
	Redis      Redis     `yaml:"redis"`
	Archive    Archive   `yaml:"archive"`
	Mailbox    Mailbox   `yaml:"mailbox"`
	Telemetry  Telemetry `yaml:"telemetry"`
}

type App struct {
	ServiceName string `yaml:"service_name" env:"APP_SERVICE_NAME" env-default:"mailboxd"`
	Version     string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
}

type Logger struct {
	Level    string   `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format   string   `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	Rotation Rotation `yaml:"rotation"`
}

// Rotation enables file output when File is set.
type Rotation struct {
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env-default:"5"`
	MaxAge     int    `yaml:"max_age" env-default:"30"`
	Compress   bool   `yaml:"compress"`
}

type HTTPServer struct {
	Host      string    `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port      uint16    `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath  string    `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
	Timeout   Timeout   `yaml:"timeout"`
	CORS      CORS      `yaml:"cors"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type Timeout struct {
	Request  time.Duration `yaml:"request" env-default:"15s"`
	Read     time.Duration `yaml:"read" env-default:"10s"`
	Write    time.Duration `yaml:"write" env-default:"20s"`
	Idle     time.Duration `yaml:"idle" env-default:"60s"`
	Shutdown time.Duration `yaml:"shutdown" env-default:"30s"`
}

type CORS struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowOrigins     []string      `yaml:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" env-default:"GET,POST,DELETE,OPTIONS"`
	AllowHeaders     []string      `yaml:"allow_headers" env-default:"Authorization,Content-Type,X-Request-ID"`
	ExposeHeaders    []string      `yaml:"expose_headers" env-default:"X-Request-ID,X-Total-Count"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" env-default:"12h"`
}

// RateLimit is a per-client token bucket. A zero RPS disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps" env:"HTTP_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"HTTP_RATE_LIMIT_BURST" env-default:"20"`
}

// Auth configures bearer token verification. HS256 uses Secret; ES256 uses
// the PEM key files.
type Auth struct {
	Algorithm      string        `yaml:"algorithm" env:"AUTH_ALGORITHM" env-default:"HS256"`
	Secret         string        `yaml:"secret" env:"AUTH_SECRET"`
	PublicKeyPath  string        `yaml:"public_key_path" env:"AUTH_PUBLIC_KEY_PATH"`
	PrivateKeyPath string        `yaml:"private_key_path" env:"AUTH_PRIVATE_KEY_PATH"`
	Issuer         string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"mailboxd"`
	TokenTTL       time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"1h"`
}

// Store selects the message backend: memory, postgres or mongo.
type Store struct {
	Driver   string        `yaml:"driver" env:"STORE_DRIVER" env-default:"memory"`
	Timeout  time.Duration `yaml:"timeout" env:"STORE_TIMEOUT" env-default:"10s"`
	Postgres Postgres      `yaml:"postgres"`
	Mongo    Mongo         `yaml:"mongo"`
}

type Postgres struct {
	DSN          string `yaml:"dsn" env:"POSTGRES_DSN"`
	Table        string `yaml:"table" env:"POSTGRES_TABLE" env-default:"mailbox"`
	MaxOpenConns int    `yaml:"max_open_conns" env-default:"20"`
	MaxIdleConns int    `yaml:"max_idle_conns" env-default:"5"`
	// ManagedSchema skips table creation; the schema comes from migrations.
	ManagedSchema bool `yaml:"managed_schema" env:"POSTGRES_MANAGED_SCHEMA"`
}

type Mongo struct {
	URI        string `yaml:"uri" env:"MONGO_URI"`
	Database   string `yaml:"database" env:"MONGO_DATABASE" env-default:"mailbox"`
	Collection string `yaml:"collection" env:"MONGO_COLLECTION" env-default:"messages"`
}

// Redis carries mailbox events when enabled.
type Redis struct {
	Enable   bool   `yaml:"enable" env:"REDIS_ENABLE"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// Archive selects where deleted messages are copied: none, s3 or gcs.
type Archive struct {
	Backend     string `yaml:"backend" env:"ARCHIVE_BACKEND" env-default:"none"`
	Bucket      string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
	Prefix      string `yaml:"prefix" env:"ARCHIVE_PREFIX"`
	ErrorsFatal bool   `yaml:"errors_fatal" env:"ARCHIVE_ERRORS_FATAL"`
	S3          S3     `yaml:"s3"`
	GCS         GCS    `yaml:"gcs"`
}

type S3 struct {
	Region          string `yaml:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	PathStyle       bool   `yaml:"path_style" env:"S3_PATH_STYLE"`
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	RoleARN         string `yaml:"role_arn" env:"S3_ROLE_ARN"`
	ExternalID      string `yaml:"external_id" env:"S3_EXTERNAL_ID"`
}

type GCS struct {
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Endpoint        string `yaml:"endpoint" env:"GCS_ENDPOINT"`
}

// Mailbox holds service limits. Zero values keep the library defaults.
type Mailbox struct {
	DefaultPerPage   int           `yaml:"default_per_page" env:"MAILBOX_DEFAULT_PER_PAGE"`
	MaxPerPage       int           `yaml:"max_per_page" env:"MAILBOX_MAX_PER_PAGE"`
	MaxBulkDelete    int           `yaml:"max_bulk_delete" env:"MAILBOX_MAX_BULK_DELETE"`
	MaxConcurrentOps int           `yaml:"max_concurrent_ops" env:"MAILBOX_MAX_CONCURRENT_OPS"`
	MaxRetries       int           `yaml:"max_retries" env:"MAILBOX_MAX_RETRIES" env-default:"2"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"MAILBOX_SHUTDOWN_TIMEOUT"`
	EventErrorsFatal bool          `yaml:"event_errors_fatal" env:"MAILBOX_EVENT_ERRORS_FATAL"`
}

type Telemetry struct {
	Tracing bool `yaml:"tracing" env:"OTEL_TRACING"`
	Metrics bool `yaml:"metrics" env:"OTEL_METRICS"`
}

// Load reads the config at path. An empty path falls back to CONFIG_PATH;
// with neither set, only the environment is read.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("%w: store.postgres.dsn is required", ErrInvalidConfig)
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("%w: store.mongo.uri is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Archive.Backend {
	case "none", "":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("%w: archive.bucket is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown archive backend %q", ErrInvalidConfig, c.Archive.Backend)
	}

	switch c.Auth.Algorithm {
	case "HS256":
		if c.Auth.Secret == "" {
			return fmt.Errorf("%w: auth.secret is required for HS256", ErrInvalidConfig)
		}
	case "ES256":
		if c.Auth.PublicKeyPath == "" {
			return fmt.Errorf("%w: auth.public_key_path is required for ES256", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported auth algorithm %q", ErrInvalidConfig, c.Auth.Algorithm)
	}

	switch c.Logger.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logger.Format)
	}

	if c.HTTPServer.RateLimit.RPS < 0 {
		return fmt.Errorf("%w: http_server.rate_limit.rps must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Auth.Secret)
	mask(&out.Store.Postgres.DSN)
	mask(&out.Store.Mongo.URI)
	mask(&out.Redis.Password)
	mask(&out.Archive.S3.SecretAccessKey)
	return &out
}

// Print writes the redacted config as YAML.
func Print(w io.Writer, cfg *Config) error {
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	_, err = w.Write(data)
	return err
}
