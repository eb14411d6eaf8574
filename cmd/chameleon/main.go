// Command chameleon runs the Chameleon Engine: an MCP server whose tool,
// resource, and prompt catalogue is stored as data rather than compiled in,
// so an agent can create and run new tools against a live database without
// a restart.
//
// It communicates over stdio or SSE depending on server.transport in its
// YAML config (default $HOME/.chameleon/config/config.yaml), and persists
// its Metadata Store and Data Store to SQLite, opened via package dbopen.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/duskforge/chameleon/audit"
	"github.com/duskforge/chameleon/config"
	"github.com/duskforge/chameleon/connectivity"
	"github.com/duskforge/chameleon/dbopen"
	"github.com/duskforge/chameleon/engine"
	"github.com/duskforge/chameleon/idgen"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/notebook"
	"github.com/duskforge/chameleon/observability"
	"github.com/duskforge/chameleon/rpcadapter"
	"github.com/duskforge/chameleon/seed"
	"github.com/duskforge/chameleon/shield"
	"github.com/duskforge/chameleon/vault"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "github.com/duskforge/chameleon/systools"
	_ "modernc.org/sqlite"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chameleon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.DefaultPath()
	if v := os.Getenv("CHAMELEON_CONFIG"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := observability.SetupProcessLogging(cfg.Server.LogsDir, observability.ParseLogLevel(cfg.Server.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metaDB, err := dbopen.Open(cfg.MetadataDatabase.URL, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer metaDB.Close()

	dataDB, reopenFn, err := openDataStore(cfg)
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}
	if dataDB != nil {
		defer dataDB.Close()
	}

	v := vault.New(metaDB)
	if err := v.Init(); err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	reg := mcprt.NewRegistry(metaDB, mcprt.WithTableNames(mcprt.TableNames{
		Tool:           cfg.Tables.ToolRegistry,
		Resource:       cfg.Tables.ResourceRegistry,
		Prompt:         cfg.Tables.PromptRegistry,
		Macro:          cfg.Tables.MacroRegistry,
		SecurityPolicy: cfg.Tables.SecurityPolicy,
		Icon:           cfg.Tables.IconRegistry,
	}))
	if err := reg.Init(); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	nb := notebook.New(metaDB)
	if err := nb.Init(); err != nil {
		return fmt.Errorf("init notebook: %w", err)
	}

	auditLog := audit.NewSQLiteLogger(metaDB)
	if err := auditLog.Init(); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer auditLog.Close()
	if err := auditLog.InitExecutionLog(); err != nil {
		return fmt.Errorf("init execution log: %w", err)
	}

	if err := seed.MetadataStore(ctx, v, reg); err != nil {
		return fmt.Errorf("seed metadata store: %w", err)
	}
	if dataDB != nil {
		if err := seed.DataStore(ctx, dataDB); err != nil {
			return fmt.Errorf("seed data store: %w", err)
		}
	}

	// Observability lives in its own SQLite file, separate from the
	// Metadata Store, so high-frequency metric/heartbeat writes never
	// contend with tool dispatch's own transactions.
	obsDB, err := dbopen.Open(filepath.Join(filepath.Dir(cfg.MetadataDatabase.URL), "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open observability store: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return fmt.Errorf("init observability schema: %w", err)
	}
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB, observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)))
	heartbeat := observability.NewHeartbeatWriter(obsDB, "chameleon", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	eng := engine.New(metaDB, dataDB, reg, v, auditLog, nb, reopenFn, engine.Config{
		SelfCorrection: true,
		Backoff:        connectivity.BackoffConfig{},
		Metrics:        metrics,
		Events:         events,
	})

	srv := mcp.NewServer(&mcp.Implementation{Name: "chameleon", Version: version}, nil)
	adapter := rpcadapter.New(eng, reg, auditLog)
	if err := adapter.RegisterAll(ctx, srv, "default"); err != nil {
		return fmt.Errorf("register MCP surface: %w", err)
	}

	// Re-registering after every catalogue change (e.g. system_create_sql_tool)
	// surfaces new tools to connected clients without a process restart.
	go reg.RunWatcher(ctx, func() error { return adapter.RegisterAll(ctx, srv, "default") })

	switch cfg.Server.Transport {
	case "sse":
		return runSSE(ctx, cfg, srv)
	default:
		return srv.Run(ctx, &mcp.StdioTransport{})
	}
}

// openDataStore opens the Data Store named by cfg, if any. A blank URL is
// not an error: the engine starts with the Data Store offline (spec §4.5)
// and an agent calls reconnect_db once one is configured. The returned
// reopen function is handed to Engine.New for Reconnect to call later,
// capturing the config path dbopen used the first time.
func openDataStore(cfg *config.Config) (*sql.DB, func(ctx context.Context) (*sql.DB, error), error) {
	url := cfg.DataDatabase.URL
	reopen := func(ctx context.Context) (*sql.DB, error) {
		if url == "" {
			return nil, fmt.Errorf("no data_database.url configured")
		}
		return dbopen.Open(url, dbopen.WithMkdirAll())
	}
	if url == "" {
		return nil, reopen, nil
	}
	db, err := dbopen.Open(url, dbopen.WithMkdirAll())
	if err != nil {
		slog.Warn("data store unavailable at startup, continuing offline", "url", url, "error", err)
		return nil, reopen, nil
	}
	return db, reopen, nil
}

func runSSE(ctx context.Context, cfg *config.Config, srv *mcp.Server) error {
	var handler http.Handler = mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return srv })
	for _, mw := range shield.DefaultStack() {
		handler = mw(handler)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	httpSrv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
