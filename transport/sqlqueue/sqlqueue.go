// Package sqlqueue implements a watermill publisher and subscriber on top of
// a database/sql table. The sqlite and postgres transports supply a Dialect
// and share the queue logic. Each rank polls its own inbox topic and claims
// rows in insertion order, so a single consumer per topic sees FIFO delivery.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/onesided/internal/runtime/jsoncodec"
	"github.com/drblury/onesided/transport"
)

const (
	// DefaultPollInterval is the default interval for polling new messages.
	DefaultPollInterval = 20 * time.Millisecond
	// DefaultLockTimeout is how long a claimed row stays invisible to other
	// consumers before it is handed out again.
	DefaultLockTimeout = 30 * time.Second
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("sqlqueue: closed")

// Dialect describes the SQL flavour of a database.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Table is the (possibly schema-qualified) messages table.
	Table string
	// Numbered selects $1-style placeholders instead of ?.
	Numbered bool
	// SkipLocked adds FOR UPDATE SKIP LOCKED to the claim subquery.
	SkipLocked bool
	// Schema holds the DDL statements run by Init.
	Schema []string
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Config configures a Queue.
type Config struct {
	PollInterval time.Duration
	LockTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

type queries struct {
	insert  string
	claim   string
	ack     string
	release string
	pending string
}

func buildQueries(d Dialect) queries {
	lock := ""
	if d.SkipLocked {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	return queries{
		insert: d.Rebind(fmt.Sprintf(
			`INSERT INTO %s (uuid, topic, payload, metadata) VALUES (?, ?, ?, ?)`, d.Table)),
		claim: d.Rebind(fmt.Sprintf(`UPDATE %[1]s SET locked_until = ?
			WHERE id = (
				SELECT id FROM %[1]s
				WHERE topic = ? AND (locked_until IS NULL OR locked_until < ?)
				ORDER BY id LIMIT 1%[2]s
			)
			RETURNING id, uuid, payload, metadata`, d.Table, lock)),
		ack:     d.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, d.Table)),
		release: d.Rebind(fmt.Sprintf(`UPDATE %s SET locked_until = NULL WHERE id = ?`, d.Table)),
		pending: d.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE topic = ?`, d.Table)),
	}
}

// Queue implements message.Publisher and message.Subscriber.
type Queue struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	config  Config
	logger  watermill.LoggerAdapter

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

var _ transport.QueueIntrospector = (*Queue)(nil)

// New wraps db. The queue owns db and closes it on Close.
func New(db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) *Queue {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Queue{
		db:         db,
		dialect:    dialect,
		q:          buildQueries(dialect),
		config:     cfg.withDefaults(),
		logger:     logger,
		closedChan: make(chan struct{}),
	}
}

// Init creates the schema.
func (q *Queue) Init(ctx context.Context) error {
	for _, stmt := range q.dialect.Schema {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: init schema: %w", q.dialect.Name, err)
		}
	}
	return nil
}

func (q *Queue) isClosed() bool {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	return q.closed
}

// Publish inserts messages into topic in one transaction.
func (q *Queue) Publish(topic string, messages ...*message.Message) error {
	if q.isClosed() {
		return ErrClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin: %w", q.dialect.Name, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			q.logger.Error("rollback publish", err, nil)
		}
	}()

	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("%s: marshal metadata: %w", q.dialect.Name, err)
		}
		if _, err := tx.Exec(q.q.insert, msg.UUID, topic, []byte(msg.Payload), string(metadata)); err != nil {
			return fmt.Errorf("%s: insert: %w", q.dialect.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", q.dialect.Name, err)
	}
	return nil
}

// Subscribe polls topic until ctx ends or the queue is closed.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}

	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.poll(ctx, topic, out)
	return out, nil
}

func (q *Queue) poll(ctx context.Context, topic string, out chan *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything available before sleeping again.
		for {
			delivered, ok := q.deliverNext(ctx, topic, out)
			if !ok {
				return
			}
			if !delivered {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.closedChan:
			return
		case <-ticker.C:
		}
	}
}

// deliverNext hands out one claimed row. It reports whether a row was
// delivered and whether polling should continue.
func (q *Queue) deliverNext(ctx context.Context, topic string, out chan *message.Message) (bool, bool) {
	now := time.Now()
	var (
		id       int64
		uuid     string
		payload  []byte
		metadata sql.NullString
	)
	err := q.db.QueryRowContext(ctx, q.q.claim, now.Add(q.config.LockTimeout).UnixNano(), topic, now.UnixNano()).
		Scan(&id, &uuid, &payload, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return false, true
	}
	if err != nil {
		if ctx.Err() != nil || q.isClosed() {
			return false, false
		}
		q.logger.Error("claim message", err, watermill.LogFields{"topic": topic})
		return false, true
	}

	msg := message.NewMessage(uuid, payload)
	if metadata.Valid && metadata.String != "" {
		if err := jsoncodec.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			q.logger.Error("decode metadata", err, watermill.LogFields{"uuid": uuid})
		}
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		q.exec(q.q.release, id)
		return false, false
	case <-q.closedChan:
		q.exec(q.q.release, id)
		return false, false
	}

	select {
	case <-msg.Acked():
		q.exec(q.q.ack, id)
		return true, true
	case <-msg.Nacked():
		q.exec(q.q.release, id)
		return true, true
	case <-ctx.Done():
		q.exec(q.q.release, id)
	case <-q.closedChan:
		q.exec(q.q.release, id)
	}
	return false, false
}

func (q *Queue) exec(query string, id int64) {
	if _, err := q.db.Exec(query, id); err != nil {
		q.logger.Error("update message", err, watermill.LogFields{"id": id})
	}
}

// GetPendingCount returns the number of undelivered or unacked rows of topic.
func (q *Queue) GetPendingCount(topic string) (int64, error) {
	var count int64
	err := q.db.QueryRow(q.q.pending, topic).Scan(&count)
	return count, err
}

// DB returns the underlying connection pool.
func (q *Queue) DB() *sql.DB {
	return q.db
}

// Close stops all subscriptions and closes the database.
func (q *Queue) Close() error {
	q.closedMu.Lock()
	if q.closed {
		q.closedMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closedChan)
	q.closedMu.Unlock()

	q.wg.Wait()
	return q.db.Close()
}
