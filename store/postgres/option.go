package postgres

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

const (
	DefaultTable   = "mailbox"
	DefaultTimeout = 10 * time.Second

	// maxTableLen keeps derived index names such as
	// idx_<table>_workspace_created within PostgreSQL's 63-byte identifiers.
	maxTableLen = 40
)

// The table name is interpolated into DDL and queries, so only plain
// unquoted identifiers are accepted.
var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type options struct {
	table       string
	timeout     time.Duration
	logger      *slog.Logger
	setupSchema bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		table:       DefaultTable,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		setupSchema: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// validate runs on Connect.
func (o *options) validate() error {
	if len(o.table) > maxTableLen || !tableNamePattern.MatchString(o.table) {
		return fmt.Errorf("postgres: invalid table name %q: want lower-case letters, digits and underscores, at most %d bytes", o.table, maxTableLen)
	}
	return nil
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTable sets the mailbox table. Index names are derived from it.
func WithTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// WithTimeout bounds every statement.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithoutSchemaSetup skips CREATE TABLE/INDEX on Connect, for databases
// whose schema is managed by migrations. The table must already exist.
func WithoutSchemaSetup() Option {
	return func(o *options) {
		o.setupSchema = false
	}
}
