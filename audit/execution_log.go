package audit

import (
	"context"
	"time"
)

// resultSummaryLimit truncates a captured result to this many characters
// before it is persisted, mirroring the prototype's ExecutionLog behavior
// of keeping a preview rather than the full payload.
const resultSummaryLimit = 2000

const executionLogSchema = `
CREATE TABLE IF NOT EXISTS execution_log (
	entry_id       TEXT PRIMARY KEY,
	timestamp      INTEGER NOT NULL,
	tool_name      TEXT NOT NULL,
	persona        TEXT NOT NULL DEFAULT 'default',
	arguments      TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL,
	result_summary TEXT NOT NULL DEFAULT '',
	traceback      TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_execution_log_tool ON execution_log(tool_name, persona);
CREATE INDEX IF NOT EXISTS idx_execution_log_timestamp ON execution_log(timestamp);
`

// ExecutionEntry is one row of the Execution Log: a record of a single
// dispatched tool call, independent of whatever transaction the tool
// itself ran in.
type ExecutionEntry struct {
	EntryID       string
	Timestamp     int64
	ToolName      string
	Persona       string
	ArgumentsJSON string
	Status        string // "success" or "error"
	ResultSummary string
	Traceback     string
	DurationMS    int64
}

// InitExecutionLog creates the execution_log table if it does not already
// exist. Safe to call alongside Init — the two tables are independent.
func (l *SQLiteLogger) InitExecutionLog() error {
	_, err := l.db.Exec(executionLogSchema)
	return err
}

// LogExecution writes entry in its own transaction, truncating
// ResultSummary to resultSummaryLimit. Called synchronously by the engine
// after every Execute, success or failure, so the log survives a rollback
// of the tool's own work.
func (l *SQLiteLogger) LogExecution(ctx context.Context, entry *ExecutionEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = l.newID()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	if entry.Persona == "" {
		entry.Persona = "default"
	}
	if len(entry.ResultSummary) > resultSummaryLimit {
		entry.ResultSummary = entry.ResultSummary[:resultSummaryLimit]
	}

	_, err := l.db.ExecContext(ctx, `INSERT INTO execution_log
		(entry_id, timestamp, tool_name, persona, arguments, status, result_summary, traceback, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		entry.EntryID, entry.Timestamp, entry.ToolName, entry.Persona, entry.ArgumentsJSON,
		entry.Status, entry.ResultSummary, entry.Traceback, entry.DurationMS)
	return err
}

// RecentExecutions returns the most recent limit execution log rows for
// toolName across all personas, newest first. Used by the inspection meta
// tools (system_inspect_tool) to surface recent call history.
func (l *SQLiteLogger) RecentExecutions(ctx context.Context, toolName string, limit int) ([]*ExecutionEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_id, timestamp, tool_name, persona, arguments, status, result_summary, traceback, duration_ms
		FROM execution_log WHERE tool_name = ? ORDER BY timestamp DESC LIMIT ?`, toolName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionEntry
	for rows.Next() {
		var e ExecutionEntry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.ToolName, &e.Persona, &e.ArgumentsJSON,
			&e.Status, &e.ResultSummary, &e.Traceback, &e.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
