package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/duskforge/chameleon/audit"
	"github.com/duskforge/chameleon/dbopen"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/notebook"
	"github.com/duskforge/chameleon/procedural"
	"github.com/duskforge/chameleon/seed"
	"github.com/duskforge/chameleon/vault"

	_ "github.com/duskforge/chameleon/systools"
)

// testHarness bundles the components New needs, grounded on the same
// in-memory-SQLite wiring rpcadapter_test.go's testServer uses.
type testHarness struct {
	metaDB, dataDB *sql.DB
	reg            *mcprt.Registry
	vault          *vault.Vault
	auditLog       *audit.SQLiteLogger
	notebook       *notebook.Notebook
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	metaDB := dbopen.OpenMemory(t)
	dataDB := dbopen.OpenMemory(t)

	v := vault.New(metaDB)
	if err := v.Init(); err != nil {
		t.Fatal(err)
	}
	reg := mcprt.NewRegistry(metaDB)
	if err := reg.Init(); err != nil {
		t.Fatal(err)
	}
	nb := notebook.New(metaDB)
	if err := nb.Init(); err != nil {
		t.Fatal(err)
	}
	auditLog := audit.NewSQLiteLogger(metaDB)
	if err := auditLog.Init(); err != nil {
		t.Fatal(err)
	}
	if err := auditLog.InitExecutionLog(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := seed.MetadataStore(ctx, v, reg); err != nil {
		t.Fatal(err)
	}
	if err := seed.DataStore(ctx, dataDB); err != nil {
		t.Fatal(err)
	}

	return &testHarness{metaDB: metaDB, dataDB: dataDB, reg: reg, vault: v, auditLog: auditLog, notebook: nb}
}

func (h *testHarness) engine(reopen func(ctx context.Context) (*sql.DB, error)) *Engine {
	return New(h.metaDB, h.dataDB, h.reg, h.vault, h.auditLog, h.notebook, reopen, Config{})
}

// rollbackSessionTool is registered only by this test file: it opens a
// meta_session transaction against the Data Store, inserts a row, rolls the
// transaction back explicitly, and then raises — proving the engine's own
// execution_log write in logExecution is independent of whatever the tool's
// own transaction did.
type rollbackSessionTool struct{}

func (r *rollbackSessionTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	if rt.DataDB == nil {
		return nil, errOffline
	}
	if _, err := rt.DataDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta_session (id INTEGER)`); err != nil {
		return nil, err
	}
	if _, err := rt.DataDB.ExecContext(ctx, `BEGIN`); err != nil {
		return nil, err
	}
	if _, err := rt.DataDB.ExecContext(ctx, `INSERT INTO meta_session (id) VALUES (1)`); err != nil {
		return nil, err
	}
	if _, err := rt.DataDB.ExecContext(ctx, `ROLLBACK`); err != nil {
		return nil, err
	}
	return nil, errSimulatedFailure
}

var (
	errOffline          = &Error{Kind: KindOffline, Message: "test: data store offline"}
	errSimulatedFailure = &Error{Kind: KindToolRaised, Message: "test: simulated failure after rollback"}
)

func init() {
	procedural.Register("test_rollback_session", func() procedural.Tool { return &rollbackSessionTool{} })
}

func TestExecute_AuditSurvivesRollback(t *testing.T) {
	h := newHarness(t)
	eng := h.engine(nil)
	ctx := context.Background()

	h.reg.RegisterTempTool("default", mcprt.ToolRecord{Name: "test_rollback_session"},
		[]byte("test_rollback_session"), vault.CodeTypeProcedural)

	_, execErr := eng.Execute(ctx, "test_rollback_session", "default", nil)
	if execErr == nil {
		t.Fatal("expected the tool's simulated failure to surface")
	}

	var count int
	if err := h.dataDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta_session`).Scan(&count); err != nil {
		t.Fatalf("querying meta_session: %v", err)
	}
	if count != 0 {
		t.Fatalf("meta_session has %d rows, want 0 — the tool's own transaction should have rolled back", count)
	}

	entries, err := h.auditLog.RecentExecutions(ctx, "test_rollback_session", 1)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("execution_log has %d rows for test_rollback_session, want 1 — the log write must survive the tool's rollback", len(entries))
	}
	if entries[0].Status != "error" {
		t.Fatalf("execution_log status = %q, want %q", entries[0].Status, "error")
	}
}

// TestTempTool_InvisibleAcrossRegistryInstances covers the spec's
// "temporary tools invisible to fresh instances" invariant: the overlay is
// an in-memory map on the Registry value itself, never persisted, so a
// second Registry opened against the same database never sees it.
func TestTempTool_InvisibleAcrossRegistryInstances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.reg.RegisterTempTool("default", mcprt.ToolRecord{Name: "temp_only"}, []byte("temp_only"), vault.CodeTypeProcedural)

	if _, ok := h.reg.GetTempTool("temp_only", "default"); !ok {
		t.Fatal("temp tool should be visible on the registry instance that registered it")
	}

	other := mcprt.NewRegistry(h.metaDB)
	if err := other.Init(); err != nil {
		t.Fatal(err)
	}
	if _, ok := other.GetTempTool("temp_only", "default"); ok {
		t.Fatal("temp tool should not be visible from a fresh Registry instance over the same database")
	}

	tools, err := other.ListTools(ctx, "default", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, tl := range tools {
		if tl.Name == "temp_only" {
			t.Fatal("ListTools must never surface a temp-only tool, on any instance")
		}
	}
}
