// Package systools implements the engine's built-in procedural tools: the
// ones the specification names directly rather than leaving to seeding.
// Each is a procedural.Tool registered under its catalogue name so the
// Execution Engine dispatches it exactly like any database-stored tool —
// the only difference is where its code lives.
package systools

import (
	"context"
	"fmt"

	"github.com/duskforge/chameleon/chain"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/procedural"
	"github.com/duskforge/chameleon/sqlguard"
	"github.com/duskforge/chameleon/vault"
)

func init() {
	procedural.Register("utility_greet", func() procedural.Tool { return &greetTool{} })
	procedural.Register("reconnect_db", func() procedural.Tool { return &reconnectTool{} })
	procedural.Register("system_run_chain", func() procedural.Tool { return &chainTool{} })
	procedural.Register("system_create_sql_tool", func() procedural.Tool { return &createSQLToolTool{} })
	procedural.Register("system_inspect_tool", func() procedural.Tool { return &inspectToolTool{} })
	procedural.Register("system_list_tool_manuals", func() procedural.Tool { return &listToolManualsTool{} })
}

// greetTool is the specification's end-to-end smoke test (§8 scenario 1):
// a tool with no data-store dependency, proving the dispatch path works
// end to end for a procedural tool.
type greetTool struct{}

func (g *greetTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("utility_greet: missing required argument %q", "name")
	}
	rt.Log(fmt.Sprintf("greeting %s", name))
	return fmt.Sprintf("Hello %s! I am running from the database.", name), nil
}

// reconnectTool exposes the Dual-Store Lifecycle's reconnect operation
// (§4.9) to the calling agent: `reconnect_db` is the hint every OFFLINE
// error message points at.
type reconnectTool struct{}

func (r *reconnectTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	if rt.Reconnector == nil {
		return nil, fmt.Errorf("reconnect_db: no reconnect strategy is configured for this engine")
	}
	if err := rt.Reconnector(ctx); err != nil {
		return map[string]any{"connected": false, "error": err.Error()}, nil
	}
	return map[string]any{"connected": true}, nil
}

// chainTool implements the Workflow Chain Engine as the system tool
// `system_run_chain` the specification describes in §4.7: it never gets a
// dedicated RPC method, only this catalogue entry.
type chainTool struct{}

func (c *chainTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	raw, ok := args["steps"]
	if !ok {
		return nil, fmt.Errorf("system_run_chain: missing required argument %q", "steps")
	}
	steps, err := decodeSteps(raw)
	if err != nil {
		return nil, fmt.Errorf("system_run_chain: %w", err)
	}

	if err := chain.Validate(steps); err != nil {
		return nil, err
	}

	state, report, err := chain.Run(ctx, steps, chain.Executor(rt.Executor))
	if err != nil {
		return nil, err
	}
	if report != nil {
		return report, nil
	}
	return state, nil
}

func decodeSteps(raw any) ([]chain.Step, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a list of steps", "steps")
	}
	out := make([]chain.Step, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d: not an object", i)
		}
		id, _ := m["id"].(string)
		tool, _ := m["tool"].(string)
		if id == "" || tool == "" {
			return nil, fmt.Errorf("step %d: requires non-empty %q and %q", i, "id", "tool")
		}
		stepArgs, _ := m["args"].(map[string]any)
		out = append(out, chain.Step{ID: id, Tool: tool, Args: stepArgs})
	}
	return out, nil
}

// createSQLToolTool is the meta-tool an agent uses to register a new
// SQL-typed tool at runtime. The resulting tool is marked auto-created, so
// the Execution Engine applies the looser 1000-row LIMIT ceiling and the
// RPC adapter marks it [AUTO-BUILD] in listings.
type createSQLToolTool struct{}

func (c *createSQLToolTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	sqlTemplate, _ := args["sql_template"].(string)
	if name == "" || sqlTemplate == "" {
		return nil, fmt.Errorf("system_create_sql_tool: requires non-empty %q and %q", "name", "sql_template")
	}
	group, _ := args["group"].(string)
	schema, _ := args["input_schema"].(map[string]any)

	if rt.Vault == nil || rt.Registry == nil {
		return nil, fmt.Errorf("system_create_sql_tool: registry/vault not available in this runtime")
	}

	// Reject at creation time, not just at dispatch: sqlguard's checks
	// (single statement, SELECT/WITH-only, keyword denylist) all run against
	// the raw template text and don't need macro expansion first, so a
	// malformed tool never makes it into the vault.
	if err := sqlguard.Validate(sqlTemplate); err != nil {
		return nil, fmt.Errorf("system_create_sql_tool: %w", err)
	}

	hash, err := rt.Vault.Upsert(ctx, []byte(sqlTemplate), vault.CodeTypeSQLSelect)
	if err != nil {
		return nil, fmt.Errorf("system_create_sql_tool: %w", err)
	}

	rec := &mcprt.ToolRecord{
		Name:          name,
		Persona:       rt.Persona,
		Description:   description,
		InputSchema:   schema,
		ActiveHashRef: hash,
		IsAutoCreated: true,
		Group:         group,
	}
	if err := rt.Registry.UpsertTool(ctx, rec); err != nil {
		return nil, fmt.Errorf("system_create_sql_tool: %w", err)
	}
	return map[string]any{"name": name, "hash": hash, "auto_created": true}, nil
}

// inspectToolTool surfaces a tool's registry metadata (never its code
// blob — the vault fetch path is for dispatch, not for display) so an
// agent can introspect what `system_create_sql_tool` produced.
type inspectToolTool struct{}

func (n *inspectToolTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("system_inspect_tool: missing required argument %q", "name")
	}
	if rt.Registry == nil {
		return nil, fmt.Errorf("system_inspect_tool: registry not available in this runtime")
	}
	rec, ok, err := rt.Registry.GetTool(ctx, name, rt.Persona)
	if err != nil {
		return nil, fmt.Errorf("system_inspect_tool: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("system_inspect_tool: no tool %q for persona %q", name, rt.Persona)
	}
	return map[string]any{
		"name":            rec.Name,
		"persona":         rec.Persona,
		"description":     rec.Description,
		"is_auto_created": rec.IsAutoCreated,
		"group":           rec.Group,
		"manual":          rec.Manual,
	}, nil
}

// listToolManualsTool is the librarian-style counterpart to
// system_inspect_tool: rather than one tool's full record, it surfaces
// every tool in the calling persona's catalogue that carries a Manual, so
// an agent can discover worked examples and pitfalls across the whole
// catalogue in one call instead of probing tool by tool.
type listToolManualsTool struct{}

func (l *listToolManualsTool) Run(ctx context.Context, rt *procedural.Runtime, args map[string]any) (any, error) {
	if rt.Registry == nil {
		return nil, fmt.Errorf("system_list_tool_manuals: registry not available in this runtime")
	}
	group, _ := args["group"].(string)

	tools, err := rt.Registry.ListTools(ctx, rt.Persona, group)
	if err != nil {
		return nil, fmt.Errorf("system_list_tool_manuals: %w", err)
	}

	out := make([]map[string]any, 0)
	for _, t := range tools {
		if t.Manual == nil {
			continue
		}
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"group":       t.Group,
			"manual":      t.Manual,
		})
	}
	return out, nil
}
