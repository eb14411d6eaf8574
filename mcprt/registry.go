package mcprt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duskforge/chameleon/idgen"
	"github.com/duskforge/chameleon/vault"
	"github.com/duskforge/chameleon/watch"
)

// TableNames overrides the default table name for each entity kind, per
// spec §6's "tables" configuration section.
type TableNames struct {
	Tool           string
	Resource       string
	Prompt         string
	Macro          string
	SecurityPolicy string
	Icon           string
}

func defaultTableNames() TableNames {
	return TableNames{
		Tool:           "toolregistry",
		Resource:       "resourceregistry",
		Prompt:         "promptregistry",
		Macro:          "macroregistry",
		SecurityPolicy: "securitypolicy",
		Icon:           "iconregistry",
	}
}

// TempTool is an in-memory-only tool, never persisted to ToolRegistry.
// Its code travels with it rather than through the CodeVault, but the
// same hash-verification contract applies on every fetch.
type TempTool struct {
	Tool     ToolRecord
	Code     []byte
	CodeType string
	Hash     string
}

// TempResource is the resource-side equivalent of TempTool.
type TempResource struct {
	Resource ResourceRecord
	Code     []byte
	CodeType string
	Hash     string
}

// Registry stores and retrieves Tool, Resource, Prompt, Macro, and
// SecurityPolicy rows (plus the Icon registry), filtered by persona and
// group, and holds the process-wide temporary tool/resource overlay.
//
// The temporary maps are guarded by mu exactly as the teacher's single
// tools map was: contention is low (admin-initiated creation is rare), so
// one RWMutex for both maps is sufficient. The macro cache has its own
// mutex, macroMu.
type Registry struct {
	db     *sql.DB
	newID  idgen.Generator
	tables TableNames

	mu            sync.RWMutex
	tempTools     map[string]*TempTool
	tempResources map[string]*TempResource

	macroMu     sync.Mutex
	macroCache  []string
	macroDirty  bool
	watcher     *watch.Watcher
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryIDGenerator sets a custom ID generator.
func WithRegistryIDGenerator(gen idgen.Generator) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithTableNames overrides one or more default table names. Zero-valued
// fields in names keep the default.
func WithTableNames(names TableNames) RegistryOption {
	return func(r *Registry) {
		if names.Tool != "" {
			r.tables.Tool = names.Tool
		}
		if names.Resource != "" {
			r.tables.Resource = names.Resource
		}
		if names.Prompt != "" {
			r.tables.Prompt = names.Prompt
		}
		if names.Macro != "" {
			r.tables.Macro = names.Macro
		}
		if names.SecurityPolicy != "" {
			r.tables.SecurityPolicy = names.SecurityPolicy
		}
		if names.Icon != "" {
			r.tables.Icon = names.Icon
		}
	}
}

// NewRegistry wraps db. Call Init once before use.
func NewRegistry(db *sql.DB, opts ...RegistryOption) *Registry {
	r := &Registry{
		db:            db,
		newID:         idgen.Default,
		tables:        defaultTableNames(),
		tempTools:     make(map[string]*TempTool),
		tempResources: make(map[string]*TempResource),
		macroDirty:    true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Init creates every registry table (and its history companion, where
// applicable) if they do not already exist.
func (r *Registry) Init() error {
	_, err := r.db.Exec(r.schema())
	return err
}

func (r *Registry) schema() string {
	t := r.tables
	var b strings.Builder
	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
	tool_name        TEXT NOT NULL,
	persona          TEXT NOT NULL DEFAULT 'default',
	description      TEXT NOT NULL,
	input_schema     TEXT NOT NULL DEFAULT '{}',
	active_hash_ref  TEXT NOT NULL,
	is_auto_created  INTEGER NOT NULL DEFAULT 0 CHECK(is_auto_created IN (0,1)),
	tool_group       TEXT NOT NULL DEFAULT 'default',
	icon_name        TEXT,
	manual           TEXT,
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL DEFAULT (strftime('%%s','now')),
	updated_at       INTEGER NOT NULL DEFAULT (strftime('%%s','now')),
	PRIMARY KEY (tool_name, persona)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_persona ON %[1]s(persona, tool_group);

CREATE TABLE IF NOT EXISTS %[1]s_history (
	history_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name   TEXT NOT NULL,
	persona     TEXT NOT NULL,
	description TEXT NOT NULL,
	input_schema TEXT NOT NULL,
	active_hash_ref TEXT NOT NULL,
	tool_group  TEXT NOT NULL,
	version     INTEGER NOT NULL,
	changed_at  INTEGER NOT NULL DEFAULT (strftime('%%s','now')),
	change_reason TEXT
);

DROP TRIGGER IF EXISTS trg_%[1]s_insert_history;
CREATE TRIGGER trg_%[1]s_insert_history AFTER INSERT ON %[1]s
BEGIN
	INSERT INTO %[1]s_history (tool_name, persona, description, input_schema, active_hash_ref, tool_group, version, change_reason)
	VALUES (NEW.tool_name, NEW.persona, NEW.description, NEW.input_schema, NEW.active_hash_ref, NEW.tool_group, NEW.version, 'created');
END;

DROP TRIGGER IF EXISTS trg_%[1]s_update_history;
CREATE TRIGGER trg_%[1]s_update_history AFTER UPDATE ON %[1]s
FOR EACH ROW
BEGIN
	UPDATE %[1]s SET updated_at = strftime('%%s','now'), version = OLD.version + 1
		WHERE tool_name = NEW.tool_name AND persona = NEW.persona;
	INSERT INTO %[1]s_history (tool_name, persona, description, input_schema, active_hash_ref, tool_group, version, change_reason)
	VALUES (NEW.tool_name, NEW.persona, NEW.description, NEW.input_schema, NEW.active_hash_ref, NEW.tool_group, OLD.version + 1, 'updated');
END;
`, t.Tool)

	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
	uri             TEXT NOT NULL,
	persona         TEXT NOT NULL DEFAULT 'default',
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	mime_type       TEXT NOT NULL DEFAULT 'text/plain',
	is_dynamic      INTEGER NOT NULL DEFAULT 0 CHECK(is_dynamic IN (0,1)),
	static_content  TEXT,
	active_hash_ref TEXT,
	resource_group  TEXT NOT NULL DEFAULT 'default',
	version         INTEGER NOT NULL DEFAULT 1,
	updated_at      INTEGER NOT NULL DEFAULT (strftime('%%s','now')),
	PRIMARY KEY (uri, persona)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_persona ON %[1]s(persona, resource_group);

CREATE TABLE IF NOT EXISTS %[1]s_history (
	history_id INTEGER PRIMARY KEY AUTOINCREMENT,
	uri TEXT NOT NULL, persona TEXT NOT NULL, name TEXT NOT NULL,
	version INTEGER NOT NULL, changed_at INTEGER NOT NULL DEFAULT (strftime('%%s','now'))
);
DROP TRIGGER IF EXISTS trg_%[1]s_update_history;
CREATE TRIGGER trg_%[1]s_update_history AFTER UPDATE ON %[1]s
FOR EACH ROW
BEGIN
	UPDATE %[1]s SET updated_at = strftime('%%s','now'), version = OLD.version + 1
		WHERE uri = NEW.uri AND persona = NEW.persona;
	INSERT INTO %[1]s_history (uri, persona, name, version) VALUES (NEW.uri, NEW.persona, NEW.name, OLD.version + 1);
END;
`, t.Resource)

	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
	name             TEXT NOT NULL,
	persona          TEXT NOT NULL DEFAULT 'default',
	description      TEXT NOT NULL DEFAULT '',
	template         TEXT NOT NULL,
	arguments_schema TEXT NOT NULL DEFAULT '{}',
	prompt_group     TEXT NOT NULL DEFAULT 'default',
	version          INTEGER NOT NULL DEFAULT 1,
	updated_at       INTEGER NOT NULL DEFAULT (strftime('%%s','now')),
	PRIMARY KEY (name, persona)
);

CREATE TABLE IF NOT EXISTS %[2]s (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	template    TEXT NOT NULL,
	is_active   INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1)),
	updated_at  INTEGER NOT NULL DEFAULT (strftime('%%s','now'))
);

CREATE TABLE IF NOT EXISTS %[3]s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_type   TEXT NOT NULL CHECK(rule_type IN ('allow','deny')),
	category    TEXT NOT NULL CHECK(category IN ('module','function','attribute')),
	pattern     TEXT NOT NULL,
	description TEXT,
	is_active   INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_%[3]s_active ON %[3]s(is_active, category);

CREATE TABLE IF NOT EXISTS %[4]s (
	icon_name TEXT PRIMARY KEY,
	mime_type TEXT NOT NULL,
	content   TEXT NOT NULL
);
`, t.Prompt, t.Macro, t.SecurityPolicy, t.Icon)

	return b.String()
}

// --- Tool ---

// UpsertTool inserts or updates a ToolRegistry row keyed by
// (tool_name, persona). Upserting the same (key, body) twice leaves the
// row count and the body columns unchanged, but the update trigger still
// advances version and updated_at and appends a history row on the
// second call, matching the teacher's history-trigger behavior — callers
// that need strict no-op idempotence should compare before writing.
func (r *Registry) UpsertTool(ctx context.Context, t *ToolRecord) error {
	schemaJSON, err := marshalJSON(t.InputSchema)
	if err != nil {
		return fmt.Errorf("mcprt: marshal input_schema: %w", err)
	}
	var manualJSON sql.NullString
	if t.Manual != nil {
		b, err := marshalJSON(t.Manual)
		if err != nil {
			return fmt.Errorf("mcprt: marshal manual: %w", err)
		}
		manualJSON = sql.NullString{String: b, Valid: true}
	}
	var iconName sql.NullString
	if t.IconName != "" {
		iconName = sql.NullString{String: t.IconName, Valid: true}
	}
	persona := t.Persona
	if persona == "" {
		persona = "default"
	}
	group := t.Group
	if group == "" {
		group = "default"
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (tool_name, persona, description, input_schema, active_hash_ref, is_auto_created, tool_group, icon_name, manual)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(tool_name, persona) DO UPDATE SET
			description = excluded.description,
			input_schema = excluded.input_schema,
			active_hash_ref = excluded.active_hash_ref,
			is_auto_created = excluded.is_auto_created,
			tool_group = excluded.tool_group,
			icon_name = excluded.icon_name,
			manual = excluded.manual`, r.tables.Tool)

	_, err = r.db.ExecContext(ctx, query,
		t.Name, persona, t.Description, schemaJSON, t.ActiveHashRef, t.IsAutoCreated, group, iconName, manualJSON)
	if err != nil {
		return fmt.Errorf("mcprt: upsert tool: %w", err)
	}
	return nil
}

// GetTool returns the persistent tool row for (name, persona), or false
// if none exists. The caller must check the temporary overlay first.
func (r *Registry) GetTool(ctx context.Context, name, persona string) (*ToolRecord, bool, error) {
	if persona == "" {
		persona = "default"
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT tool_name, persona, description, input_schema, active_hash_ref,
		       is_auto_created, tool_group, COALESCE(icon_name,''), manual, updated_at
		FROM %s WHERE tool_name = ? AND persona = ?`, r.tables.Tool), name, persona)

	t, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mcprt: get tool: %w", err)
	}
	return t, true, nil
}

// ListTools returns every active tool visible to persona, optionally
// filtered to group (empty matches any group).
func (r *Registry) ListTools(ctx context.Context, persona, group string) ([]*ToolRecord, error) {
	if persona == "" {
		persona = "default"
	}
	query := fmt.Sprintf(`
		SELECT tool_name, persona, description, input_schema, active_hash_ref,
		       is_auto_created, tool_group, COALESCE(icon_name,''), manual, updated_at
		FROM %s WHERE persona = ?`, r.tables.Tool)
	args := []any{persona}
	if group != "" {
		query += " AND tool_group = ?"
		args = append(args, group)
	}
	query += " ORDER BY tool_group, tool_name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mcprt: list tools: %w", err)
	}
	defer rows.Close()

	var out []*ToolRecord
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("mcprt: scan tool: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTool removes the row only; the CodeVault entry it referenced is
// not cascaded, matching spec §4.2.
func (r *Registry) DeleteTool(ctx context.Context, name, persona string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tool_name = ? AND persona = ?`, r.tables.Tool), name, persona)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTool(row scanner) (*ToolRecord, error) {
	var t ToolRecord
	var schemaJSON string
	var manualJSON sql.NullString
	if err := row.Scan(&t.Name, &t.Persona, &t.Description, &schemaJSON, &t.ActiveHashRef,
		&t.IsAutoCreated, &t.Group, &t.IconName, &manualJSON, &t.UpdatedAt); err != nil {
		return nil, err
	}
	schema, err := unmarshalJSON(schemaJSON)
	if err != nil {
		return nil, err
	}
	t.InputSchema = schema
	if manualJSON.Valid && manualJSON.String != "" {
		var m Manual
		if err := jsonUnmarshalManual(manualJSON.String, &m); err == nil {
			t.Manual = &m
		}
	}
	return &t, nil
}

// --- Resource ---

func (r *Registry) UpsertResource(ctx context.Context, res *ResourceRecord) error {
	// Exactly one of StaticContent or ActiveHashRef is populated, chosen by
	// IsDynamic.
	if res.IsDynamic {
		if res.ActiveHashRef == "" {
			return fmt.Errorf("mcprt: dynamic resource %q requires active_hash_ref", res.URI)
		}
		if res.StaticContent != "" {
			return fmt.Errorf("mcprt: dynamic resource %q must not carry static_content", res.URI)
		}
	} else {
		if res.StaticContent == "" {
			return fmt.Errorf("mcprt: static resource %q requires static_content", res.URI)
		}
		if res.ActiveHashRef != "" {
			return fmt.Errorf("mcprt: static resource %q must not carry active_hash_ref", res.URI)
		}
	}
	persona := res.Persona
	if persona == "" {
		persona = "default"
	}
	group := res.Group
	if group == "" {
		group = "default"
	}
	var staticContent, hashRef sql.NullString
	if res.StaticContent != "" {
		staticContent = sql.NullString{String: res.StaticContent, Valid: true}
	}
	if res.ActiveHashRef != "" {
		hashRef = sql.NullString{String: res.ActiveHashRef, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (uri, persona, name, description, mime_type, is_dynamic, static_content, active_hash_ref, resource_group)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(uri, persona) DO UPDATE SET
			name = excluded.name, description = excluded.description, mime_type = excluded.mime_type,
			is_dynamic = excluded.is_dynamic, static_content = excluded.static_content,
			active_hash_ref = excluded.active_hash_ref, resource_group = excluded.resource_group`, r.tables.Resource)
	_, err := r.db.ExecContext(ctx, query, res.URI, persona, res.Name, res.Description, res.MimeType,
		res.IsDynamic, staticContent, hashRef, group)
	if err != nil {
		return fmt.Errorf("mcprt: upsert resource: %w", err)
	}
	return nil
}

func (r *Registry) GetResource(ctx context.Context, uri, persona string) (*ResourceRecord, bool, error) {
	if persona == "" {
		persona = "default"
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT uri, persona, name, description, mime_type, is_dynamic,
		       COALESCE(static_content,''), COALESCE(active_hash_ref,''), resource_group
		FROM %s WHERE uri = ? AND persona = ?`, r.tables.Resource), uri, persona)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mcprt: get resource: %w", err)
	}
	return res, true, nil
}

func (r *Registry) ListResources(ctx context.Context, persona, group string) ([]*ResourceRecord, error) {
	if persona == "" {
		persona = "default"
	}
	query := fmt.Sprintf(`
		SELECT uri, persona, name, description, mime_type, is_dynamic,
		       COALESCE(static_content,''), COALESCE(active_hash_ref,''), resource_group
		FROM %s WHERE persona = ?`, r.tables.Resource)
	args := []any{persona}
	if group != "" {
		query += " AND resource_group = ?"
		args = append(args, group)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mcprt: list resources: %w", err)
	}
	defer rows.Close()
	var out []*ResourceRecord
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Registry) DeleteResource(ctx context.Context, uri, persona string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE uri = ? AND persona = ?`, r.tables.Resource), uri, persona)
	return err
}

func scanResource(row scanner) (*ResourceRecord, error) {
	var res ResourceRecord
	if err := row.Scan(&res.URI, &res.Persona, &res.Name, &res.Description, &res.MimeType,
		&res.IsDynamic, &res.StaticContent, &res.ActiveHashRef, &res.Group); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Prompt ---

func (r *Registry) UpsertPrompt(ctx context.Context, p *PromptRecord) error {
	schemaJSON, err := marshalJSON(p.ArgumentsSchema)
	if err != nil {
		return fmt.Errorf("mcprt: marshal arguments_schema: %w", err)
	}
	persona := p.Persona
	if persona == "" {
		persona = "default"
	}
	group := p.Group
	if group == "" {
		group = "default"
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (name, persona, description, template, arguments_schema, prompt_group)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(name, persona) DO UPDATE SET
			description = excluded.description, template = excluded.template,
			arguments_schema = excluded.arguments_schema, prompt_group = excluded.prompt_group`, r.tables.Prompt)
	_, err = r.db.ExecContext(ctx, query, p.Name, persona, p.Description, p.Template, schemaJSON, group)
	if err != nil {
		return fmt.Errorf("mcprt: upsert prompt: %w", err)
	}
	return nil
}

func (r *Registry) GetPrompt(ctx context.Context, name, persona string) (*PromptRecord, bool, error) {
	if persona == "" {
		persona = "default"
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT name, persona, description, template, arguments_schema, prompt_group
		FROM %s WHERE name = ? AND persona = ?`, r.tables.Prompt), name, persona)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mcprt: get prompt: %w", err)
	}
	return p, true, nil
}

func (r *Registry) ListPrompts(ctx context.Context, persona, group string) ([]*PromptRecord, error) {
	if persona == "" {
		persona = "default"
	}
	query := fmt.Sprintf(`
		SELECT name, persona, description, template, arguments_schema, prompt_group
		FROM %s WHERE persona = ?`, r.tables.Prompt)
	args := []any{persona}
	if group != "" {
		query += " AND prompt_group = ?"
		args = append(args, group)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mcprt: list prompts: %w", err)
	}
	defer rows.Close()
	var out []*PromptRecord
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Registry) DeletePrompt(ctx context.Context, name, persona string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND persona = ?`, r.tables.Prompt), name, persona)
	return err
}

func scanPrompt(row scanner) (*PromptRecord, error) {
	var p PromptRecord
	var schemaJSON string
	if err := row.Scan(&p.Name, &p.Persona, &p.Description, &p.Template, &schemaJSON, &p.Group); err != nil {
		return nil, err
	}
	schema, err := unmarshalJSON(schemaJSON)
	if err != nil {
		return nil, err
	}
	p.ArgumentsSchema = schema
	return &p, nil
}

// --- Macro ---

func (r *Registry) UpsertMacro(ctx context.Context, m *MacroRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (name, description, template, is_active)
		VALUES (?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description, template = excluded.template, is_active = excluded.is_active`, r.tables.Macro)
	_, err := r.db.ExecContext(ctx, query, m.Name, m.Description, m.Template, m.IsActive)
	if err != nil {
		return fmt.Errorf("mcprt: upsert macro: %w", err)
	}
	r.invalidateMacroCache()
	return nil
}

func (r *Registry) DeleteMacro(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, r.tables.Macro), name)
	r.invalidateMacroCache()
	return err
}

func (r *Registry) invalidateMacroCache() {
	r.macroMu.Lock()
	r.macroDirty = true
	r.macroMu.Unlock()
}

// ActiveMacros returns the template bodies of every active macro, applied
// in name order for deterministic preamble assembly. Cached until the next
// Upsert/DeleteMacro call invalidates it — this is the short-lived cache
// spec §5(c) permits, invalidated directly on write rather than by polling,
// which is strictly more precise than a PRAGMA data_version poll for a
// concern scoped to a single table.
func (r *Registry) ActiveMacros() ([]string, error) {
	r.macroMu.Lock()
	defer r.macroMu.Unlock()
	if !r.macroDirty {
		return r.macroCache, nil
	}

	rows, err := r.db.Query(fmt.Sprintf(`SELECT template FROM %s WHERE is_active = 1 ORDER BY name`, r.tables.Macro))
	if err != nil {
		return nil, fmt.Errorf("mcprt: load active macros: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tmpl string
		if err := rows.Scan(&tmpl); err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.macroCache = out
	r.macroDirty = false
	return out, nil
}

// --- Icon ---

func (r *Registry) UpsertIcon(ctx context.Context, icon *IconRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (icon_name, mime_type, content) VALUES (?,?,?)
		ON CONFLICT(icon_name) DO UPDATE SET mime_type = excluded.mime_type, content = excluded.content`, r.tables.Icon)
	_, err := r.db.ExecContext(ctx, query, icon.Name, icon.MimeType, icon.Content)
	return err
}

func (r *Registry) GetIcon(ctx context.Context, name string) (*IconRecord, bool, error) {
	var icon IconRecord
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT icon_name, mime_type, content FROM %s WHERE icon_name = ?`, r.tables.Icon), name).
		Scan(&icon.Name, &icon.MimeType, &icon.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &icon, true, nil
}

// --- Temporary tool/resource overlay ---

func tempKey(name, persona string) string { return name + ":" + persona }

// RegisterTempTool adds or replaces a process-local tool that never
// touches ToolRegistry or the CodeVault. It is invisible to any other
// Registry instance and does not survive restart.
func (r *Registry) RegisterTempTool(persona string, tool ToolRecord, code []byte, codeType string) {
	if persona == "" {
		persona = "default"
	}
	tool.Persona = persona
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempTools[tempKey(tool.Name, persona)] = &TempTool{
		Tool: tool, Code: code, CodeType: codeType, Hash: vault.Hash(code),
	}
}

// GetTempTool looks up a temporary tool by (name, persona).
func (r *Registry) GetTempTool(name, persona string) (*TempTool, bool) {
	if persona == "" {
		persona = "default"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tempTools[tempKey(name, persona)]
	return t, ok
}

// RemoveTempTool deletes a temporary tool.
func (r *Registry) RemoveTempTool(name, persona string) {
	if persona == "" {
		persona = "default"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tempTools, tempKey(name, persona))
}

// RegisterTempResource mirrors RegisterTempTool for resources.
func (r *Registry) RegisterTempResource(persona string, res ResourceRecord, code []byte, codeType string) {
	if persona == "" {
		persona = "default"
	}
	res.Persona = persona
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempResources[tempKey(res.URI, persona)] = &TempResource{
		Resource: res, Code: code, CodeType: codeType, Hash: vault.Hash(code),
	}
}

func (r *Registry) GetTempResource(uri, persona string) (*TempResource, bool) {
	if persona == "" {
		persona = "default"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tempResources[tempKey(uri, persona)]
	return t, ok
}

// RunWatcher polls for ToolRegistry changes so that hot-reloaded dashboards
// (or any out-of-process seeding) are picked up without a restart. The
// action itself is a no-op here — persistent tools are read straight from
// SQLite on every call — but callers use the watcher's change signal to
// drive their own cache invalidation (e.g. an RPC adapter that caches
// list_tools responses).
func (r *Registry) RunWatcher(ctx context.Context, onChange func() error) {
	w := watch.New(r.db, watch.Options{Interval: 5 * time.Second, Detector: watch.PragmaDataVersion})
	r.watcher = w
	if onChange == nil {
		onChange = func() error { return nil }
	}
	w.OnChange(ctx, onChange)
}

func jsonUnmarshalManual(s string, m *Manual) error {
	return json.Unmarshal([]byte(s), m)
}
