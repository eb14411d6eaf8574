// Package procedural implements the base tool contract for code_type
// "procedural" tools. Rather than parsing a stored code blob and
// discovering a class by iteration at request time (the original's
// approach), tool authors register a constructor once at init time;
// the blob stored in the Code Vault for a procedural tool is just the
// registered name, so hash verification still guards against tampering
// with which implementation a tool name is bound to.
package procedural

import (
	"context"
	"fmt"
	"sync"

	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/vault"
)

// Runtime is passed to every procedural tool invocation. DataDB is nil
// when the engine is offline; tools that need data must check and adapt.
type Runtime struct {
	MetaDB   DB
	DataDB   DB // nil in offline mode
	Persona  string
	ToolName string
	Log      func(msg string)
	// Executor re-enters the engine for a nested tool call, used by the
	// chain engine and any tool that composes other tools.
	Executor func(ctx context.Context, tool string, args map[string]any) (any, error)
	// Registry and Vault back the system tools that manage the catalogue
	// itself (system_create_sql_tool, system_inspect_tool, and friends).
	// Both are concrete types, not interfaces: neither package imports
	// procedural, so there is no cycle to break by depending on them
	// directly.
	Registry *mcprt.Registry
	Vault    *vault.Vault
	// Reconnector triggers the engine's Data Store lifecycle reconnect. A
	// closure rather than an engine.Engine reference, since engine imports
	// procedural to dispatch procedural-typed tools and the dependency
	// must not flow back the other way.
	Reconnector func(ctx context.Context) error
}

// DB is the minimal surface procedural tools need from *sql.DB, kept as an
// interface so tests can substitute a fake without an in-memory SQLite.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (Result, error)
}

// Rows and Result mirror the subset of database/sql's Rows/Result that
// procedural tools use directly (most tools go through the data session
// via raw *sql.DB instead; this interface exists for tools that want to
// be unit-testable without a real database).
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Columns() ([]string, error)
}

type Result interface {
	RowsAffected() (int64, error)
}

// Tool is the contract every procedural tool implements.
type Tool interface {
	Run(ctx context.Context, rt *Runtime, args map[string]any) (any, error)
}

// Completer is an optional contract a Tool may additionally implement to
// support the RPC completion endpoint. Per spec, completion support is
// tool-optional; the adapter degrades to an empty list when absent.
type Completer interface {
	Complete(ctx context.Context, argumentName, partial string) ([]string, error)
}

// Factory constructs a fresh Tool instance for one invocation.
type Factory func() Tool

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register binds name to factory. Call from an init() function in the
// package defining the tool. Panics on duplicate registration, since a
// silently shadowed tool name is always a build-time mistake.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("procedural: tool %q already registered", name))
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name, or false if none.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns every registered tool name, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
