// Package rpcadapter is the RPC Adapter of spec §6: the only layer that
// knows about the MCP transport. It derives persona from request metadata,
// extracts and strips the reserved `_format` call argument, and renders
// the engine's result in the requested encoding. Every other concern —
// dispatch, validation, audit — lives in package engine and is reached
// only through Engine.Execute.
//
// Grounded on the teacher's mcprt.Bridge (dynamic per-registry-row
// srv.AddTool registration) and kit.RegisterMCPTool (the decode/endpoint
// split, generalized here with an Encode stage so a tool's result still
// honors the `_format` argument and engine.Error's Kind), applied to the
// full Tool/Resource/Prompt catalogue this engine dispatches against.
package rpcadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/duskforge/chameleon/audit"
	"github.com/duskforge/chameleon/engine"
	"github.com/duskforge/chameleon/kit"
	"github.com/duskforge/chameleon/mcprt"
	"github.com/duskforge/chameleon/procedural"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wires an Engine and Registry onto an MCP server, across every
// method the spec's RPC surface names.
type Server struct {
	eng      *engine.Engine
	reg      *mcprt.Registry
	auditLog *audit.SQLiteLogger
}

// New creates a Server over eng and reg. auditLog is optional; when non-nil
// every tool call is also recorded as a generic audit_log entry (distinct
// from the Engine's own execution_log), via the teacher's kit.Middleware
// chaining pattern.
func New(eng *engine.Engine, reg *mcprt.Registry, auditLog *audit.SQLiteLogger) *Server {
	return &Server{eng: eng, reg: reg, auditLog: auditLog}
}

// RegisterAll binds every tool, resource, and prompt currently visible in
// persona's catalogue onto srv. The system tools are included as ordinary
// catalogue rows, which package seed writes for the "default" persona.
// Re-running RegisterAll after a catalogue
// change (e.g. system_create_sql_tool) re-adds the new rows; the MCP SDK's
// AddTool silently overwrites on a duplicate name.
func (s *Server) RegisterAll(ctx context.Context, srv *mcp.Server, persona string) error {
	if err := s.registerTools(ctx, srv, persona); err != nil {
		return err
	}
	if err := s.registerResources(ctx, srv, persona); err != nil {
		return err
	}
	if err := s.registerPrompts(ctx, srv, persona); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerTools(ctx context.Context, srv *mcp.Server, persona string) error {
	tools, err := s.reg.ListTools(ctx, persona, "")
	if err != nil {
		return fmt.Errorf("rpcadapter: list tools: %w", err)
	}

	for _, t := range tools {
		name := t.Name
		description := t.Description
		if t.IsAutoCreated {
			description = "[AUTO-BUILD] " + description
		}
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		tool := &mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: json.RawMessage(mustMarshal(schema)),
		}

		kit.RegisterMCPTool(srv, tool, s.toolEndpoint(name), s.toolDecode(persona), s.toolEncode(name))
	}
	return nil
}

// dispatchRequest is the decoded shape a tool call's kit.Endpoint and
// kit.Encode both see: the resolved persona and `_format` directive travel
// alongside the stripped argument map from decode through to encode.
type dispatchRequest struct {
	persona string
	format  string
	args    map[string]any
}

// toolDecode extracts persona and the reserved `_format` argument from a
// raw MCP call, tagging the context with the "mcp" transport the same way
// every other dispatch path does (spec §6).
func (s *Server) toolDecode(defaultPersona string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		persona := personaFromRequest(req, defaultPersona)

		var rawArgs map[string]any
		if req.Params.Arguments != nil {
			if err := json.Unmarshal(req.Params.Arguments, &rawArgs); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		format, args := engine.ExtractFormat(rawArgs)

		return &kit.MCPDecodeResult{
			Request:   dispatchRequest{persona: persona, format: format, args: args},
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithTransport(ctx, "mcp") },
		}, nil
	}
}

// toolEndpoint builds the kit.Endpoint that dispatches name through
// Engine.Execute, optionally wrapped with audit.Middleware via kit.Chain so
// every MCP-surfaced call also records a generic audit_log entry distinct
// from the Engine's own execution_log.
func (s *Server) toolEndpoint(name string) kit.Endpoint {
	base := kit.Endpoint(func(ctx context.Context, req any) (any, error) {
		dr := req.(dispatchRequest)
		return s.eng.Execute(ctx, name, dr.persona, dr.args)
	})
	var mws []kit.Middleware
	if s.auditLog != nil {
		mws = append(mws, audit.Middleware(s.auditLog, name))
	}
	return kit.Chain(mws...)(base)
}

// toolEncode renders a successful result in the caller's requested format
// and translates any engine error into a text-content error body rather
// than a transport-level failure (spec §7: "exceptions never escape the
// RPC call boundary unconverted").
func (s *Server) toolEncode(name string) kit.Encode {
	return func(req, resp any, err error) (*mcp.CallToolResult, error) {
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(wrapError(name, err))
			return &res, nil
		}
		dr, _ := req.(dispatchRequest)
		text, err := engine.Render(resp, dr.format)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("%s: render: %w", name, err))
			return &res, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

// wrapError maps an engine.*Error's stable Kind onto the human-readable
// text the spec §7 table assigns it. A reconnect hint is appended for
// OFFLINE so the calling agent learns the retry path without a second
// round trip.
func wrapError(toolName string, err error) error {
	eerr, ok := err.(*engine.Error)
	if !ok {
		return fmt.Errorf("%s: %w", toolName, err)
	}
	if eerr.Kind == engine.KindOffline {
		return fmt.Errorf("%s: %s (data store is offline; call reconnect_db to retry)", toolName, eerr.Message)
	}
	return fmt.Errorf("%s: [%s] %s", toolName, eerr.Kind, eerr.Message)
}

func (s *Server) registerResources(ctx context.Context, srv *mcp.Server, persona string) error {
	resources, err := s.reg.ListResources(ctx, persona, "")
	if err != nil {
		return fmt.Errorf("rpcadapter: list resources: %w", err)
	}
	for _, r := range resources {
		res := &mcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MimeType,
		}
		uri := r.URI
		srv.AddResource(res, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readResource(ctx, uri, persona)
		})
	}
	return nil
}

func (s *Server) readResource(ctx context.Context, uri, persona string) (*mcp.ReadResourceResult, error) {
	rec, ok, err := s.reg.GetResource(ctx, uri, persona)
	if err != nil {
		return nil, fmt.Errorf("rpcadapter: get resource %s: %w", uri, err)
	}
	if !ok {
		return nil, fmt.Errorf("rpcadapter: resource %q not found", uri)
	}

	if !rec.IsDynamic {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: rec.MimeType, Text: rec.StaticContent}},
		}, nil
	}

	// Dynamic resources route through the same vault-fetch/hash-verify path
	// a procedural tool's code does; the content itself is the blob.
	blob, err := s.eng.FetchBlob(ctx, rec.ActiveHashRef)
	if err != nil {
		return nil, fmt.Errorf("rpcadapter: dynamic resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: rec.MimeType, Text: string(blob)}},
	}, nil
}

func (s *Server) registerPrompts(ctx context.Context, srv *mcp.Server, persona string) error {
	prompts, err := s.reg.ListPrompts(ctx, persona, "")
	if err != nil {
		return fmt.Errorf("rpcadapter: list prompts: %w", err)
	}
	for _, p := range prompts {
		prompt := &mcp.Prompt{Name: p.Name, Description: p.Description}
		template := p.Template
		srv.AddPrompt(prompt, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: p.Description,
				Messages: []*mcp.PromptMessage{
					{Role: "user", Content: &mcp.TextContent{Text: expandPromptTemplate(template, req.Params.Arguments)}},
				},
			}, nil
		})
	}
	return nil
}

// expandPromptTemplate does a literal {{name}} substitution against the
// caller-supplied prompt arguments — prompts are agent-facing text, not
// SQL, so no macro preamble or sqlguard validation applies here.
func expandPromptTemplate(template string, args map[string]string) string {
	out := template
	for k, v := range args {
		out = replaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func replaceAll(s, old, new string) string {
	for {
		i := indexOf(s, old)
		if i < 0 {
			return s
		}
		s = s[:i] + new + s[i+len(old):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// personaFromRequest derives the calling persona from request metadata
// (spec §6: "All methods derive the persona from a persona field in
// request metadata, default default"), falling back to fallback when
// absent.
func personaFromRequest(req *mcp.CallToolRequest, fallback string) string {
	if req.Params.Meta != nil {
		if v, ok := req.Params.Meta["persona"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return "default"
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("rpcadapter: marshal schema: %v", err))
	}
	return b
}

// Complete implements the spec's completion endpoint: it resolves the
// named tool's procedural implementation (if any) and calls its optional
// Complete method, degrading to an empty list when the tool has none or
// isn't procedural (spec §9 open question (c)).
func Complete(ctx context.Context, toolName, argumentName, partial string) ([]string, error) {
	factory, ok := procedural.Lookup(toolName)
	if !ok {
		return nil, nil
	}
	completer, ok := factory().(procedural.Completer)
	if !ok {
		return nil, nil
	}
	return completer.Complete(ctx, argumentName, partial)
}
