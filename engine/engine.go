// Package engine implements the Execution Engine: the single dispatch path
// every tool call passes through regardless of transport. It resolves a
// tool name against the temporary overlay and then the persistent
// Registry, fetches and integrity-checks its code from the Vault, and
// routes to the SQL or procedural host depending on code type. The Data
// Store itself lives behind an atomic pointer so a reconnect can swap it
// out from under in-flight callers without a lock.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/duskforge/chameleon/audit"
	"github.com/duskforge/chameleon/connectivity"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/notebook"
	"github.com/duskforge/chameleon/observability"
	"github.com/duskforge/chameleon/procedural"
	"github.com/duskforge/chameleon/sqlguard"
	"github.com/duskforge/chameleon/tmplexpand"
	"github.com/duskforge/chameleon/vault"
)

// Config tunes an Engine beyond its required dependencies.
type Config struct {
	// SelfCorrection enables the reflexive notebook hook on tool failure.
	// The zero value leaves it off; main turns it on.
	SelfCorrection bool
	Backoff        connectivity.BackoffConfig

	// Metrics and Events are optional; a nil value disables that
	// observability sink entirely rather than substituting a no-op, since
	// a fresh engine (e.g. in a unit test) rarely wants an observability.db.
	Metrics *observability.MetricsManager
	Events  *observability.EventLogger
}

func (c *Config) defaults() {
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = connectivity.BackoffConfig{}
	}
}

// Engine is the execution core wiring the Registry, Vault, audit log,
// notebook, and the dual-store lifecycle together.
type Engine struct {
	metaDB  *sql.DB
	dataDB  atomic.Pointer[sql.DB]
	reopen  func(ctx context.Context) (*sql.DB, error)
	breaker *connectivity.CircuitBreaker
	cfg     Config

	registry  *mcprt.Registry
	vault     *vault.Vault
	expander  *tmplexpand.Expander
	auditLog  *audit.SQLiteLogger
	notebook  *notebook.Notebook
}

// New wires an Engine from its components. reopen opens a fresh Data Store
// connection; it is called by Reconnect and may be nil if the Data Store
// never needs reconnecting (e.g. in tests against a fixed in-memory db).
func New(metaDB, dataDB *sql.DB, registry *mcprt.Registry, v *vault.Vault, auditLog *audit.SQLiteLogger, nb *notebook.Notebook, reopen func(ctx context.Context) (*sql.DB, error), cfg Config) *Engine {
	cfg.defaults()
	e := &Engine{
		metaDB:   metaDB,
		reopen:   reopen,
		breaker:  connectivity.NewCircuitBreaker(),
		cfg:      cfg,
		registry: registry,
		vault:    v,
		expander: tmplexpand.New(registry.ActiveMacros),
		auditLog: auditLog,
		notebook: nb,
	}
	e.dataDB.Store(dataDB)
	return e
}

// dataStore returns the current Data Store connection, or nil if offline.
func (e *Engine) dataStore() *sql.DB {
	return e.dataDB.Load()
}

// Reconnect replaces the Data Store connection, guarded by the circuit
// breaker and retried with exponential backoff. On success the new
// connection is swapped in atomically; in-flight Execute calls using the
// old connection are unaffected.
func (e *Engine) Reconnect(ctx context.Context) error {
	if e.reopen == nil {
		return &Error{Kind: KindOffline, Message: "no reconnect strategy configured"}
	}
	return e.breaker.Guard("data_store", func() error {
		return connectivity.ReconnectWithBackoff(ctx, e.cfg.Backoff, func(ctx context.Context, n int) error {
			db, err := e.reopen(ctx)
			if err != nil {
				return err
			}
			if old := e.dataDB.Swap(db); old != nil {
				old.Close()
			}
			return nil
		})
	})
}

// Execute dispatches toolName under persona with args, routing through the
// temporary overlay first, then the persistent Registry. The returned
// value is the tool's raw result; formatting for a specific transport is
// the caller's concern.
func (e *Engine) Execute(ctx context.Context, toolName, persona string, args map[string]any) (result any, execErr error) {
	start := time.Now()
	defer func() {
		e.logExecution(toolName, persona, args, start, result, execErr)
		if execErr != nil && e.cfg.SelfCorrection {
			e.recordSelfCorrection(toolName, execErr)
		}
	}()

	code, codeType, ceiling, err := e.resolve(toolName, persona)
	if err != nil {
		return nil, err
	}

	switch codeType {
	case vault.CodeTypeSQLSelect:
		result, execErr = e.executeSQL(ctx, string(code), args, ceiling)
	case vault.CodeTypeProcedural:
		result, execErr = e.executeProcedural(ctx, string(code), toolName, persona, args)
	case vault.CodeTypeDashboard:
		result, execErr = string(code), nil
	default:
		execErr = &Error{Kind: KindToolNotFound, Message: fmt.Sprintf("unknown code type %q for tool %q", codeType, toolName)}
	}
	return result, execErr
}

// resolve finds toolName's code and code type, preferring the temporary
// overlay, and returns the LIMIT ceiling that applies to it.
func (e *Engine) resolve(toolName, persona string) (code []byte, codeType string, ceiling int, err error) {
	if persona == "" {
		persona = "default"
	}

	if tmp, ok := e.registry.GetTempTool(toolName, persona); ok {
		return tmp.Code, tmp.CodeType, LimitTemporary, nil
	}

	rec, ok, err := e.registry.GetTool(context.Background(), toolName, persona)
	if err != nil {
		return nil, "", 0, &Error{Kind: KindToolNotFound, Message: "lookup failed", Cause: err}
	}
	if !ok {
		return nil, "", 0, &Error{Kind: KindToolNotFound, Message: fmt.Sprintf("no tool %q for persona %q", toolName, persona)}
	}

	blob, blobType, err := e.vault.Get(context.Background(), rec.ActiveHashRef)
	if err != nil {
		if err == vault.ErrIntegrity {
			return nil, "", 0, &Error{Kind: KindIntegrity, Message: fmt.Sprintf("tool %q failed integrity check", toolName), Cause: err}
		}
		return nil, "", 0, &Error{Kind: KindToolNotFound, Message: "code fetch failed", Cause: err}
	}

	ceiling = LimitNone
	if rec.IsAutoCreated {
		ceiling = LimitAutoCreated
	}
	return blob, blobType, ceiling, nil
}

// executeSQL expands body as a template against args, validates the
// rendered query, clamps its LIMIT, and runs it against the Data Store.
func (e *Engine) executeSQL(ctx context.Context, body string, args map[string]any, ceiling int) (any, error) {
	db := e.dataStore()
	if db == nil {
		return nil, &Error{Kind: KindOffline, Message: "data store is offline"}
	}

	rendered, err := e.expander.Expand(body, args)
	if err != nil {
		return nil, &Error{Kind: KindSQLValidation, Message: "template expansion failed", Cause: err}
	}

	if verr := sqlguard.Validate(rendered); verr != nil {
		return nil, &Error{Kind: KindSQLValidation, Message: "rejected by SQL validator", Cause: verr}
	}

	rendered = applyLimit(rendered, ceiling)

	rows, err := db.QueryContext(ctx, rendered, namedArgs(args)...)
	if err != nil {
		return nil, &Error{Kind: KindToolRaised, Message: "query execution failed", Cause: err}
	}
	defer rows.Close()

	return scanRows(rows)
}

// scanRows materializes every row into a []map[string]any keyed by column
// name, so the result can be serialized by whatever format the transport
// needs without the engine itself knowing about formats.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("engine: columns: %w", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("engine: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// executeProcedural looks up the Go implementation registered under name
// (stored code for a procedural tool is just that name, re-verified above)
// and runs it with a fresh Runtime.
func (e *Engine) executeProcedural(ctx context.Context, name, toolName, persona string, args map[string]any) (any, error) {
	factory, ok := procedural.Lookup(name)
	if !ok {
		return nil, &Error{Kind: KindToolNotFound, Message: fmt.Sprintf("no procedural implementation registered for %q", name)}
	}

	rt := &procedural.Runtime{
		MetaDB:      newSQLDBAdapter(e.metaDB),
		Persona:     persona,
		ToolName:    toolName,
		Log:         func(msg string) { slog.Info("procedural tool log", "tool", toolName, "msg", msg) },
		Executor: func(ctx context.Context, tool string, nestedArgs map[string]any) (any, error) {
			return e.Execute(ctx, tool, persona, nestedArgs)
		},
		Registry:    e.registry,
		Vault:       e.vault,
		Reconnector: e.Reconnect,
	}
	if db := e.dataStore(); db != nil {
		rt.DataDB = newSQLDBAdapter(db)
	}

	result, err := factory().Run(ctx, rt, args)
	if err != nil {
		return nil, &Error{Kind: KindToolRaised, Message: fmt.Sprintf("tool %q raised", toolName), Cause: err}
	}
	return result, nil
}

// FetchBlob returns the integrity-checked content stored under hashRef, for
// callers outside the tool-dispatch path — dynamic resources read their
// content the same way a procedural or SQL tool's code is fetched in
// resolve, without going through Execute's result-shaping.
func (e *Engine) FetchBlob(ctx context.Context, hashRef string) ([]byte, error) {
	blob, _, err := e.vault.Get(ctx, hashRef)
	if err != nil {
		if err == vault.ErrIntegrity {
			return nil, &Error{Kind: KindIntegrity, Message: fmt.Sprintf("resource %q failed integrity check", hashRef), Cause: err}
		}
		return nil, &Error{Kind: KindToolNotFound, Message: "code fetch failed", Cause: err}
	}
	return blob, nil
}

// logExecution records the attempt to the execution log in a transaction
// independent of whatever the tool itself did, so a rolled-back SQL tool
// still leaves a trace.
func (e *Engine) logExecution(toolName, persona string, args map[string]any, start time.Time, result any, execErr error) {
	if e.auditLog == nil {
		return
	}
	status := "success"
	var traceback string
	if execErr != nil {
		status = "error"
		traceback = execErr.Error()
	}

	argsJSON, err := marshalArgs(args)
	if err != nil {
		argsJSON = "{}"
	}

	entry := &audit.ExecutionEntry{
		ToolName:      toolName,
		Persona:       persona,
		ArgumentsJSON: argsJSON,
		Status:        status,
		ResultSummary: summarize(result),
		Traceback:     traceback,
		DurationMS:    time.Since(start).Milliseconds(),
	}
	if err := e.auditLog.LogExecution(context.Background(), entry); err != nil {
		slog.Error("engine: execution log write failed", "error", err, "tool", toolName)
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Record(&observability.Metric{
			Name:   "tool_call_duration_ms",
			Value:  float64(time.Since(start).Milliseconds()),
			Labels: map[string]string{"tool": toolName, "persona": persona, "status": status},
			Unit:   "milliseconds",
		})
	}
	if e.cfg.Events != nil {
		e.cfg.Events.LogEvent(context.Background(), observability.BusinessEvent{
			EventType:   "tool_executed",
			ServiceName: "chameleon",
			EntityType:  "tool",
			EntityID:    toolName,
			Action:      "execute",
			Details:     argsJSON,
			Success:     execErr == nil,
		})
	}
}

// recordSelfCorrection writes a best-effort note to the notebook under the
// reflexive self_correction domain so the next invocation of toolName can
// consult its own prior failure. Errors here are logged, never surfaced:
// the hook must not turn a tool failure into a notebook failure too.
func (e *Engine) recordSelfCorrection(toolName string, cause error) {
	if e.notebook == nil {
		return
	}
	key := toolName + "_error"
	if _, err := e.notebook.Write(context.Background(), "self_correction", key, cause.Error(), 0); err != nil {
		slog.Warn("engine: self-correction note failed", "error", err, "tool", toolName)
	}
}
