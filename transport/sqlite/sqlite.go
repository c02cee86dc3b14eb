// Package sqlite provides a SQLite-backed event archive. Events are appended
// to a table and tailed in insertion order, so the database is both a
// transport and a queryable history of everything the engine emitted.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drblury/procflow/internal/engine/jsoncodec"
	"github.com/drblury/procflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "sqlite"

// DefaultPath is used when cfg.SQLitePath is empty.
const DefaultPath = "procflow_events.db"

// pollInterval is how long the tailer sleeps when no new events are found.
const pollInterval = 250 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS procflow_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT NOT NULL,
	uuid       TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const schemaIndex = `
CREATE INDEX IF NOT EXISTS procflow_events_topic_idx
	ON procflow_events (topic, id)`

// OpenFactory allows overriding the database connection for testing.
var OpenFactory = func(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build opens (creating if needed) the archive database at cfg.SQLitePath.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sink, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = DefaultPath
	}

	db, err := OpenFactory(path)
	if err != nil {
		return transport.Sink{}, fmt.Errorf("open sqlite archive: %w", err)
	}

	// One connection serializes writers and the polling tailer, which keeps
	// SQLite from returning busy errors under concurrent access.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{schema, schemaIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return transport.Sink{}, fmt.Errorf("init sqlite archive: %w", err)
		}
	}

	a := &Archive{db: db, logger: logger, done: make(chan struct{})}
	return transport.Sink{Publisher: a, Subscriber: a}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Archive is the shared publisher and subscriber over one database handle.
type Archive struct {
	db     *sql.DB
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Publish appends events to the archive table.
func (a *Archive) Publish(topic string, messages ...*message.Message) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return fmt.Errorf("sqlite transport is closed")
	}
	a.mu.RUnlock()

	for _, msg := range messages {
		meta, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
		_, err = a.db.Exec(
			`INSERT INTO procflow_events (topic, uuid, metadata, payload) VALUES (?, ?, ?, ?)`,
			topic, msg.UUID, string(meta), msg.Payload,
		)
		if err != nil {
			return fmt.Errorf("archive event: %w", err)
		}
	}
	return nil
}

// Subscribe tails the archive for the topic, starting from the oldest stored
// event. A nacked event is redelivered on the next poll.
func (a *Archive) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, fmt.Errorf("sqlite transport is closed")
	}
	a.mu.RUnlock()

	out := make(chan *message.Message)
	go a.tailLoop(ctx, topic, out)
	return out, nil
}

// Close closes the database. Safe to call more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.done)
	a.mu.Unlock()

	return a.db.Close()
}

type storedEvent struct {
	id       int64
	uuid     string
	metadata map[string]string
	payload  []byte
}

func (a *Archive) tailLoop(ctx context.Context, topic string, out chan<- *message.Message) {
	defer close(out)

	var lastID int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		default:
		}

		batch, err := a.fetchBatch(ctx, topic, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("poll sqlite archive", err, watermill.LogFields{"topic": topic})
			if !a.sleep(ctx) {
				return
			}
			continue
		}

		progressed := a.deliverBatch(ctx, out, batch, &lastID)
		if !progressed {
			return
		}

		if len(batch) == 0 && !a.sleep(ctx) {
			return
		}
	}
}

// fetchBatch reads up to 100 events newer than after, fully scanning before
// returning so no rows stay open while the consumer processes them.
func (a *Archive) fetchBatch(ctx context.Context, topic string, after int64) ([]storedEvent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, uuid, metadata, payload FROM procflow_events WHERE topic = ? AND id > ? ORDER BY id LIMIT 100`,
		topic, after,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []storedEvent
	for rows.Next() {
		var (
			ev   storedEvent
			meta []byte
		)
		if err := rows.Scan(&ev.id, &ev.uuid, &meta, &ev.payload); err != nil {
			return nil, err
		}
		if err := jsoncodec.Unmarshal(meta, &ev.metadata); err != nil {
			return nil, err
		}
		batch = append(batch, ev)
	}
	return batch, rows.Err()
}

// deliverBatch sends events in order, advancing lastID only on ack. A nack
// stops the batch so the event is fetched again. Returns false when the
// subscription should end.
func (a *Archive) deliverBatch(ctx context.Context, out chan<- *message.Message, batch []storedEvent, lastID *int64) bool {
	for _, ev := range batch {
		msg := message.NewMessage(ev.uuid, ev.payload)
		if ev.metadata != nil {
			msg.Metadata = ev.metadata
		}

		select {
		case out <- msg:
			select {
			case <-msg.Acked():
				*lastID = ev.id
			case <-msg.Nacked():
				return a.sleep(ctx)
			case <-ctx.Done():
				return false
			case <-a.done:
				return false
			}
		case <-ctx.Done():
			return false
		case <-a.done:
			return false
		}
	}
	return true
}

func (a *Archive) sleep(ctx context.Context) bool {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-a.done:
		return false
	case <-t.C:
		return true
	}
}
