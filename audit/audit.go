// Package audit persists a record of every tool invocation the engine
// dispatches: who called it, under what transport, with what arguments, and
// whether it succeeded. Entries are written in a transaction independent of
// the work the tool itself performed, so a rolled-back tool call still
// leaves a trace of the attempt.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/duskforge/chameleon/idgen"
	"github.com/duskforge/chameleon/kit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	action        TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	transport     TEXT NOT NULL DEFAULT 'http',
	parameters    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'success',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
`

// Entry is a single audit record. Action names the tool or operation;
// Parameters carries the caller's arguments already serialized to JSON.
type Entry struct {
	EntryID    string
	Timestamp  int64
	Action     string
	UserID     string
	SessionID  string
	RequestID  string
	Transport  string
	Parameters string
	Status     string
	Error      string
}

// batchSize is the number of buffered entries that trigger an eager flush.
const batchSize = 32

// SQLiteLogger writes audit entries to a SQLite table, either synchronously
// (Log) or via a buffered background flush (LogAsync).
type SQLiteLogger struct {
	db    *sql.DB
	newID idgen.Generator

	ch   chan *Entry
	stop chan struct{}
	done chan struct{}
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator overrides the default entry ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// NewSQLiteLogger creates a logger backed by db. Call Init once before
// logging to create the audit_log table, and Close on shutdown to flush
// any buffered async entries.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		ch:    make(chan *Entry, 1024),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table if it does not already exist.
func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(schema)
	return err
}

// Close stops the flush goroutine after draining any buffered entries.
func (l *SQLiteLogger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

// Log fills in defaults and writes entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, entry *Entry) error {
	l.fillDefaults(entry)
	return l.insert(ctx, entry)
}

// LogAsync fills in defaults and queues entry for background persistence.
// Falls back to a synchronous insert if the buffer is full.
func (l *SQLiteLogger) LogAsync(entry *Entry) {
	l.fillDefaults(entry)
	select {
	case l.ch <- entry:
	default:
		slog.Warn("audit: buffer full, sync fallback", "action", entry.Action)
		if err := l.insert(context.Background(), entry); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

func (l *SQLiteLogger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (l *SQLiteLogger) insert(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, action, user_id, session_id, request_id,
		 transport, parameters, status, error_message)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.UserID, e.SessionID, e.RequestID,
		e.Transport, e.Parameters, e.Status, e.Error)
	return err
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("audit: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
			(entry_id, timestamp, action, user_id, session_id, request_id,
			 transport, parameters, status, error_message)
			VALUES (?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			tx.Rollback()
			slog.Error("audit: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.EntryID, e.Timestamp, e.Action, e.UserID, e.SessionID, e.RequestID,
				e.Transport, e.Parameters, e.Status, e.Error,
			); err != nil {
				slog.Error("audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Middleware returns a kit.Middleware that logs every call through it under
// the given action name, recording the caller's user/session/request/
// transport identity from ctx and the outcome of next.
func Middleware(logger *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)

			entry := &Entry{
				Action:    action,
				UserID:    kit.GetUserID(ctx),
				SessionID: kit.GetSessionID(ctx),
				RequestID: kit.GetRequestID(ctx),
				Transport: kit.GetTransport(ctx),
			}
			if err != nil {
				entry.Status = "error"
				entry.Error = err.Error()
			}
			logger.LogAsync(entry)

			return resp, err
		}
	}
}
