// Package notebook implements the Agent Notebook: a durable key/value
// scratchpad an agent uses to persist intermediate findings across tool
// calls, with full history and an audit trail of every access.
//
// Entries are keyed by (domain, key) rather than a surrogate ID so a tool
// can blind-write without first reading the current row; concurrent
// writers are reconciled with optimistic concurrency on updated_at rather
// than a back-pointer version column, since the "verified" flag on a
// notebook entry is mutated independently of the entry's own content (the
// same cyclic-reference problem the tool Manual's worked examples have).
package notebook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duskforge/chameleon/dbopen"
	"github.com/duskforge/chameleon/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_notebook (
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1)),
	verified   INTEGER NOT NULL DEFAULT 0 CHECK(verified IN (0,1)),
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (domain, key)
);

CREATE TABLE IF NOT EXISTS notebook_history (
	history_id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	changed_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_notebook_history_key ON notebook_history(domain, key);

CREATE TABLE IF NOT EXISTS notebook_audit (
	audit_id   TEXT PRIMARY KEY,
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	action     TEXT NOT NULL CHECK(action IN ('read','write','delete')),
	accessed_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// ErrConflict is returned by Write when expectedUpdatedAt does not match
// the row's current updated_at — another writer raced ahead.
var ErrConflict = errors.New("notebook: optimistic concurrency conflict")

// ErrNotFound is returned when no active entry exists for (domain, key).
var ErrNotFound = errors.New("notebook: entry not found")

// Entry is one row of AgentNotebook.
type Entry struct {
	Domain    string
	Key       string
	Value     string
	IsActive  bool
	Verified  bool
	UpdatedAt int64
}

// Notebook wraps the metadata database.
type Notebook struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option configures a Notebook.
type Option func(*Notebook)

// WithIDGenerator overrides the default audit-row ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(n *Notebook) { n.newID = gen }
}

// New wraps db as a Notebook. Call Init once before use.
func New(db *sql.DB, opts ...Option) *Notebook {
	n := &Notebook{db: db, newID: idgen.Prefixed("nba_", idgen.Default)}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Init creates the notebook tables if they do not already exist.
func (n *Notebook) Init() error {
	_, err := n.db.Exec(schema)
	return err
}

// Write upserts (domain, key) = value. If the row already exists,
// expectedUpdatedAt must match its current updated_at or ErrConflict is
// returned; pass 0 to skip the check on a blind write (including the
// row's first creation).
func (n *Notebook) Write(ctx context.Context, domain, key, value string, expectedUpdatedAt int64) (*Entry, error) {
	now := time.Now().Unix()
	err := dbopen.RunTx(ctx, n.db, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT updated_at FROM agent_notebook WHERE domain = ? AND key = ?`, domain, key).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// First write — no conflict possible.
		case err != nil:
			return fmt.Errorf("notebook: read current: %w", err)
		default:
			if expectedUpdatedAt != 0 && expectedUpdatedAt != current {
				return ErrConflict
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_notebook (domain, key, value, is_active, verified, updated_at)
			VALUES (?, ?, ?, 1, 0, ?)
			ON CONFLICT(domain, key) DO UPDATE SET value = excluded.value, is_active = 1, updated_at = excluded.updated_at`,
			domain, key, value, now); err != nil {
			return fmt.Errorf("notebook: upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO notebook_history (domain, key, value) VALUES (?,?,?)`, domain, key, value); err != nil {
			return fmt.Errorf("notebook: history: %w", err)
		}
		return n.recordAudit(ctx, tx, domain, key, "write")
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Domain: domain, Key: key, Value: value, IsActive: true, UpdatedAt: now}, nil
}

// Read fetches the active entry for (domain, key) and records an audit
// row for the access. Returns ErrNotFound if the entry doesn't exist or
// has been soft-deleted.
func (n *Notebook) Read(ctx context.Context, domain, key string) (*Entry, error) {
	var e Entry
	e.Domain, e.Key = domain, key
	var isActive, verified int
	err := n.db.QueryRowContext(ctx, `
		SELECT value, is_active, verified, updated_at FROM agent_notebook
		WHERE domain = ? AND key = ? AND is_active = 1`, domain, key).
		Scan(&e.Value, &isActive, &verified, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notebook: read: %w", err)
	}
	e.IsActive = isActive == 1
	e.Verified = verified == 1

	tx, err := n.db.BeginTx(ctx, nil)
	if err == nil {
		n.recordAudit(ctx, tx, domain, key, "read")
		tx.Commit()
	}
	return &e, nil
}

// Delete soft-deletes (domain, key): is_active is cleared but the row and
// its history survive, matching spec's soft-delete semantics.
func (n *Notebook) Delete(ctx context.Context, domain, key string) error {
	return dbopen.RunTx(ctx, n.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE agent_notebook SET is_active = 0 WHERE domain = ? AND key = ?`, domain, key)
		if err != nil {
			return fmt.Errorf("notebook: delete: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		return n.recordAudit(ctx, tx, domain, key, "delete")
	})
}

// MarkVerified flips the verified flag on (domain, key) without touching
// value or updated_at — the mutation the spec's design note calls out as
// never happening via a back-pointer.
func (n *Notebook) MarkVerified(ctx context.Context, domain, key string, verified bool) error {
	res, err := dbopen.Exec(ctx, n.db, `UPDATE agent_notebook SET verified = ? WHERE domain = ? AND key = ?`, verified, domain, key)
	if err != nil {
		return fmt.Errorf("notebook: mark verified: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns every historical value recorded for (domain, key),
// oldest first.
func (n *Notebook) History(ctx context.Context, domain, key string) ([]string, error) {
	rows, err := n.db.QueryContext(ctx, `
		SELECT value FROM notebook_history WHERE domain = ? AND key = ? ORDER BY history_id ASC`, domain, key)
	if err != nil {
		return nil, fmt.Errorf("notebook: history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// recordAudit inserts a notebook_audit row inside the caller's tx.
func (n *Notebook) recordAudit(ctx context.Context, tx *sql.Tx, domain, key, action string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notebook_audit (audit_id, domain, key, action) VALUES (?,?,?,?)`,
		n.newID(), domain, key, action)
	if err != nil {
		return fmt.Errorf("notebook: audit: %w", err)
	}
	return nil
}
