package rpcadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/duskforge/chameleon/audit"
	"github.com/duskforge/chameleon/dbopen"
	"github.com/duskforge/chameleon/engine"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/notebook"
	"github.com/duskforge/chameleon/seed"
	"github.com/duskforge/chameleon/vault"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "github.com/duskforge/chameleon/systools"
)

var testImpl = &mcp.Implementation{Name: "chameleon-test", Version: "0.1.0"}

func testServer(t *testing.T) (*mcp.ClientSession, func()) {
	t.Helper()
	metaDB := dbopen.OpenMemory(t)

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

	eng := engine.New(metaDB, nil, reg, v, auditLog, nb, nil, engine.Config{})

	srv := mcp.NewServer(testImpl, nil)
	adapter := New(eng, reg, auditLog)
	if err := adapter.RegisterAll(ctx, srv, "default"); err != nil {
		t.Fatal(err)
	}

	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	return session, func() {
		session.Close()
		auditLog.Close()
		metaDB.Close()
	}
}

func TestCallTool_UtilityGreet(t *testing.T) {
	session, cleanup := testServer(t)
	defer cleanup()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "utility_greet",
		Arguments: map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	var text string
	if err := json.Unmarshal([]byte(tc.Text), &text); err != nil {
		t.Fatalf("unmarshal greet result: %v", err)
	}
	const want = "Hello Ada! I am running from the database."
	if text != want {
		t.Fatalf("greet result = %q, want %q", text, want)
	}
}

func TestCallTool_MissingArgumentRaisesToolError(t *testing.T) {
	session, cleanup := testServer(t)
	defer cleanup()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "utility_greet",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool transport error: %v", err)
	}
	if err := result.GetError(); err == nil {
		t.Fatal("expected a tool-level error for a missing required argument")
	}
}

func TestCallTool_DataStoreOffline(t *testing.T) {
	session, cleanup := testServer(t)
	defer cleanup()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_sales_by_store",
		Arguments: map[string]any{"store_name": "A"},
	})
	if err != nil {
		t.Fatalf("CallTool transport error: %v", err)
	}
	if err := result.GetError(); err == nil {
		t.Fatal("expected an OFFLINE tool error with no data store configured")
	}
}
