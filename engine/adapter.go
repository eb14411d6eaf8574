package engine

import (
	"context"
	"database/sql"

	"github.com/duskforge/chameleon/procedural"
)

// sqlDBAdapter presents a *sql.DB as a procedural.DB. The adapter exists
// because procedural.DB's methods return procedural.Rows/procedural.Result
// rather than *sql.Rows/sql.Result directly — Go does not let a *sql.DB
// satisfy that interface on its own, even though *sql.Rows structurally
// implements procedural.Rows.
type sqlDBAdapter struct {
	db *sql.DB
}

func newSQLDBAdapter(db *sql.DB) procedural.DB {
	return &sqlDBAdapter{db: db}
}

func (a *sqlDBAdapter) QueryContext(ctx context.Context, query string, args ...any) (procedural.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

func (a *sqlDBAdapter) ExecContext(ctx context.Context, query string, args ...any) (procedural.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}
