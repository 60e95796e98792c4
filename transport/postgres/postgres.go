// Package postgres provides a PostgreSQL-based transport. Claims use
// FOR UPDATE SKIP LOCKED, so ranks on different hosts can share one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultSchema holds the queue table when no schema is configured.
const DefaultSchema = "onesided"

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func init() {
	Register()
}

// Register registers the PostgreSQL transport with the default registry,
// under its name and the "postgresql" alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Dialect returns the PostgreSQL flavour of the queue in schema.
func Dialect(schema string) sqlqueue.Dialect {
	return sqlqueue.Dialect{
		Name:       TransportName,
		Table:      schema + ".messages",
		Numbered:   true,
		SkipLocked: true,
		Schema: []string{
			fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL,
				topic TEXT NOT NULL,
				payload BYTEA NOT NULL,
				metadata TEXT,
				locked_until BIGINT
			)`, schema),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_messages_topic ON %s.messages(topic, id)`, schema),
		},
	}
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	ConnectionString string
	SchemaName       string
	MaxOpenConns     int
	MaxIdleConns     int
	Queue            sqlqueue.Config
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchema
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 8
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	return c
}

func (c Config) validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("postgres: connection string is required")
	}
	if !validSchema.MatchString(c.SchemaName) {
		return fmt.Errorf("postgres: invalid schema name %q", c.SchemaName)
	}
	return nil
}

// OpenDB opens the connection pool. Tests may replace it.
var OpenDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// Open connects, verifies the connection and creates the schema.
func Open(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := OpenDB(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	q := sqlqueue.New(db, Dialect(cfg.SchemaName), cfg.Queue, logger)
	if err := q.Init(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

// Build creates a new PostgreSQL transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	q, err := Open(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.PubSub{}, err
	}
	return transport.PubSub{
		Publisher:  q,
		Subscriber: q,
	}, nil
}
