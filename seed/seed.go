// Package seed populates a freshly opened Metadata Store and Data Store
// with the bootstrap content the specification's end-to-end scenarios
// (§8) exercise: the sample sales_per_day table and its 15 rows in the
// Data Store, and the tool/macro rows describing how to query it in the
// Metadata Store. Real deployments replace this with an operator-owned
// YAML import; seed exists so a freshly initialized engine is runnable
// out of the box.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/vault"
)

// SalesPerDaySchema creates the sample business table the Data Store
// carries, per spec §3: "All entities live in the Metadata Store except
// SalesPerDay, which is sample data in the Data Store."
const SalesPerDaySchema = `
CREATE TABLE IF NOT EXISTS sales_per_day (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sale_date   TEXT NOT NULL,
	store_name  TEXT NOT NULL,
	department  TEXT NOT NULL,
	amount      REAL NOT NULL
);
`

type salesRow struct {
	date, store, dept string
	amount            float64
}

// sampleSales is 15 rows spanning stores {A,B,C} and departments
// {Electronics,Clothing,Groceries}, matching spec §8 scenario 2's fixture.
var sampleSales = []salesRow{
	{"2026-01-01", "A", "Electronics", 120.50},
	{"2026-01-01", "A", "Clothing", 45.00},
	{"2026-01-01", "A", "Groceries", 88.25},
	{"2026-01-01", "B", "Electronics", 210.00},
	{"2026-01-01", "B", "Clothing", 60.75},
	{"2026-01-02", "B", "Groceries", 34.10},
	{"2026-01-02", "C", "Electronics", 300.00},
	{"2026-01-02", "C", "Clothing", 75.40},
	{"2026-01-02", "C", "Groceries", 52.60},
	{"2026-01-03", "A", "Electronics", 99.99},
	{"2026-01-03", "B", "Electronics", 145.00},
	{"2026-01-03", "C", "Clothing", 20.00},
	{"2026-01-03", "A", "Groceries", 63.30},
	{"2026-01-04", "B", "Clothing", 88.88},
	{"2026-01-04", "C", "Groceries", 41.15},
}

// DataStore creates the sales_per_day table (if absent) and inserts the
// sample rows, skipping insertion if the table is already populated — so
// re-running seed against a long-lived Data Store is a no-op.
func DataStore(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SalesPerDaySchema); err != nil {
		return fmt.Errorf("seed: create sales_per_day: %w", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales_per_day`).Scan(&count); err != nil {
		return fmt.Errorf("seed: count sales_per_day: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, row := range sampleSales {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO sales_per_day (sale_date, store_name, department, amount) VALUES (?,?,?,?)`,
			row.date, row.store, row.dept, row.amount); err != nil {
			return fmt.Errorf("seed: insert sales_per_day row: %w", err)
		}
	}
	return nil
}

const (
	greetSQLDescription = "Greet a user by name; demonstrates the procedural dispatch path end to end."
	summaryDescription  = "Group sales by department, optionally filtered to one department, and return totals."
	byStoreDescription  = "Return every sales_per_day row for a given store name."
)

const summaryTemplate = `SELECT department, SUM(amount) AS total_sales
FROM sales_per_day
{% if arguments.department %}WHERE department = :department{% endif %}
GROUP BY department`

const byStoreTemplate = `SELECT * FROM sales_per_day WHERE store_name = :store_name`

// MetadataStore registers the engine's built-in tool catalogue: the
// procedural utility_greet tool (its vault blob is just its registered
// name, per package procedural's design) and the two SQL-select sample
// tools the §8 scenarios call.
func MetadataStore(ctx context.Context, v *vault.Vault, reg *mcprt.Registry) error {
	greetHash, err := v.Upsert(ctx, []byte("utility_greet"), vault.CodeTypeProcedural)
	if err != nil {
		return fmt.Errorf("seed: vault upsert utility_greet: %w", err)
	}
	if err := reg.UpsertTool(ctx, &mcprt.ToolRecord{
		Name:        "utility_greet",
		Persona:     "default",
		Description: greetSQLDescription,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		},
		ActiveHashRef: greetHash,
		Group:         "utility",
	}); err != nil {
		return fmt.Errorf("seed: upsert utility_greet: %w", err)
	}

	for _, sys := range []string{"reconnect_db", "system_run_chain", "system_create_sql_tool", "system_inspect_tool", "system_list_tool_manuals"} {
		hash, err := v.Upsert(ctx, []byte(sys), vault.CodeTypeProcedural)
		if err != nil {
			return fmt.Errorf("seed: vault upsert %s: %w", sys, err)
		}
		if err := reg.UpsertTool(ctx, &mcprt.ToolRecord{
			Name:          sys,
			Persona:       "default",
			Description:   "Built-in system tool.",
			InputSchema:   map[string]any{"type": "object", "properties": map[string]any{}},
			ActiveHashRef: hash,
			Group:         "system",
		}); err != nil {
			return fmt.Errorf("seed: upsert %s: %w", sys, err)
		}
	}

	summaryHash, err := v.Upsert(ctx, []byte(summaryTemplate), vault.CodeTypeSQLSelect)
	if err != nil {
		return fmt.Errorf("seed: vault upsert sales summary: %w", err)
	}
	if err := reg.UpsertTool(ctx, &mcprt.ToolRecord{
		Name:        "data_get_sales_summary",
		Persona:     "default",
		Description: summaryDescription,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"department": map[string]any{"type": "string"}},
		},
		ActiveHashRef: summaryHash,
		Group:         "data",
	}); err != nil {
		return fmt.Errorf("seed: upsert data_get_sales_summary: %w", err)
	}

	byStoreHash, err := v.Upsert(ctx, []byte(byStoreTemplate), vault.CodeTypeSQLSelect)
	if err != nil {
		return fmt.Errorf("seed: vault upsert sales by store: %w", err)
	}
	if err := reg.UpsertTool(ctx, &mcprt.ToolRecord{
		Name:        "get_sales_by_store",
		Persona:     "default",
		Description: byStoreDescription,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"store_name": map[string]any{"type": "string"}},
			"required":   []any{"store_name"},
		},
		ActiveHashRef: byStoreHash,
		Group:         "data",
	}); err != nil {
		return fmt.Errorf("seed: upsert get_sales_by_store: %w", err)
	}

	return nil
}
