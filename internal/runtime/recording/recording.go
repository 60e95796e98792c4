// Package recording stores the outcome of exchange passes in a SQLite file so
// a run can be inspected after the ranks exit.
package recording

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DefaultBatchSize is the number of buffered rows that triggers a flush.
const DefaultBatchSize = 1024

// Message is one message delivered to a rank.
type Message struct {
	PassID      string
	Rank        int
	Source      int
	Destination int
	Key         int64
	Handler     string
	Words       int
	Decoded     string
	Err         string
	RecordedAt  time.Time
}

// Pass summarizes one exchange pass of one rank.
type Pass struct {
	PassID     string
	Pass       uint64
	Rank       int
	Size       int
	Strategy   string
	Posted     int
	Received   int
	Duration   time.Duration
	Err        string
	FinishedAt time.Time
}

// Recorder buffers rows and writes them in batches.
type Recorder interface {
	RecordMessage(m Message)
	RecordPass(p Pass)
	Flush() error
	Close() error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS passes (
	pass_id TEXT NOT NULL,
	pass INTEGER NOT NULL,
	rank INTEGER NOT NULL,
	size INTEGER NOT NULL,
	strategy TEXT NOT NULL,
	posted INTEGER NOT NULL,
	received INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	error TEXT NOT NULL,
	finished_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	pass_id TEXT NOT NULL,
	rank INTEGER NOT NULL,
	source INTEGER NOT NULL,
	destination INTEGER NOT NULL,
	handler_key INTEGER NOT NULL,
	handler TEXT NOT NULL,
	words INTEGER NOT NULL,
	decoded TEXT NOT NULL,
	error TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
)`,
}

// SQLiteRecorder writes passes and messages into a SQLite database. It is
// safe for concurrent use.
type SQLiteRecorder struct {
	db        *sql.DB
	ownsDB    bool
	path      string
	batchSize int

	mu       sync.Mutex
	passes   []Pass
	messages []Message
	closed   bool
}

var _ Recorder = (*SQLiteRecorder)(nil)

// DefaultPath returns a fresh file name for a recording.
func DefaultPath() string {
	return "onesided_recording_" + xid.New().String() + ".sqlite3"
}

// New creates the database at path, which must not exist yet. An empty path
// picks DefaultPath. Buffered rows are flushed when the process exits through
// atexit.
func New(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = DefaultPath()
	}
	if !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("recording: file %s already exists", path)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("recording: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	r, err := NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	r.ownsDB = true
	r.path = path
	return r, nil
}

// NewWithDB records into an existing database. The caller keeps ownership of db.
func NewWithDB(db *sql.DB) (*SQLiteRecorder, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("recording: create schema: %w", err)
		}
	}
	r := &SQLiteRecorder{db: db, batchSize: DefaultBatchSize}
	atexit.Register(func() { _ = r.Flush() })
	return r, nil
}

// Path returns the database file, or "" for a caller-supplied database.
func (r *SQLiteRecorder) Path() string { return r.path }

// DB exposes the underlying database for queries.
func (r *SQLiteRecorder) DB() *sql.DB { return r.db }

func (r *SQLiteRecorder) RecordMessage(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	full := len(r.messages)+len(r.passes) >= r.batchSize
	r.mu.Unlock()
	if full {
		_ = r.Flush()
	}
}

func (r *SQLiteRecorder) RecordPass(p Pass) {
	r.mu.Lock()
	r.passes = append(r.passes, p)
	full := len(r.messages)+len(r.passes) >= r.batchSize
	r.mu.Unlock()
	if full {
		_ = r.Flush()
	}
}

// Flush writes every buffered row in one transaction.
func (r *SQLiteRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(r.passes)+len(r.messages) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("recording: begin: %w", err)
	}
	if err := r.writePasses(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.writeMessages(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recording: commit: %w", err)
	}
	r.passes = r.passes[:0]
	r.messages = r.messages[:0]
	return nil
}

func (r *SQLiteRecorder) writePasses(tx *sql.Tx) error {
	if len(r.passes) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO passes VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording: prepare passes: %w", err)
	}
	defer stmt.Close()
	for _, p := range r.passes {
		if _, err := stmt.Exec(p.PassID, int64(p.Pass), p.Rank, p.Size, p.Strategy, p.Posted, p.Received,
			int64(p.Duration), p.Err, p.FinishedAt.UnixNano()); err != nil {
			return fmt.Errorf("recording: insert pass: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) writeMessages(tx *sql.Tx) error {
	if len(r.messages) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO messages VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording: prepare messages: %w", err)
	}
	defer stmt.Close()
	for _, m := range r.messages {
		if _, err := stmt.Exec(m.PassID, m.Rank, m.Source, m.Destination, m.Key, m.Handler, m.Words,
			m.Decoded, m.Err, m.RecordedAt.UnixNano()); err != nil {
			return fmt.Errorf("recording: insert message: %w", err)
		}
	}
	return nil
}

// Close flushes and, when the recorder opened the database, closes it.
func (r *SQLiteRecorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return err
	}
	r.closed = true
	if r.ownsDB {
		if closeErr := r.db.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
