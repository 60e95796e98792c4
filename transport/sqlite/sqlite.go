// Package sqlite provides a SQLite-based transport. Ranks on one host share a
// database file in WAL mode and each polls its own inbox topic.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/onesided/transport"
	"github.com/drblury/onesided/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// DefaultFilePath is the database file of a world when none is configured.
func DefaultFilePath(world string) string {
	return "onesided-" + world + ".db"
}

// Dialect returns the SQLite flavour of the queue.
func Dialect() sqlqueue.Dialect {
	return sqlqueue.Dialect{
		Name:  TransportName,
		Table: "messages",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL,
				topic TEXT NOT NULL,
				payload BLOB NOT NULL,
				metadata TEXT,
				locked_until INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic, id)`,
		},
	}
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	FilePath string
	Queue    sqlqueue.Config
}

// Open opens the database and creates the schema.
func Open(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q := sqlqueue.New(db, Dialect(), cfg.Queue, logger)
	if err := q.Init(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

// Build creates a new SQLite transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	path := cfg.GetSQLiteFile()
	if path == "" {
		path = DefaultFilePath(cfg.GetWorld())
	}
	q, err := Open(ctx, Config{FilePath: path}, logger)
	if err != nil {
		return transport.PubSub{}, err
	}
	return transport.PubSub{
		Publisher:  q,
		Subscriber: q,
	}, nil
}
