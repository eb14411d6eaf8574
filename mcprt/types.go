// Package mcprt implements the Registry component of the Chameleon Engine:
// uniform upsert-by-natural-key storage for the five catalogue entity kinds
// (Tool, Resource, Prompt, Macro, SecurityPolicy) plus the Icon registry,
// persona/group-filtered listing, and the in-memory temporary tool/resource
// overlay used for process-local experimentation.
//
// The package keeps the teacher's shape (SQLite tables plus mutex-guarded
// in-memory state, with a watch.Watcher-driven hot reload) but generalizes
// it from a single tool-only table to the full registry entity set the
// spec describes. The tool table keeps the teacher's version column with
// an insert and an update history trigger; the resource table has an
// update history trigger only; the prompt, macro, policy and icon tables
// keep no history.
package mcprt

import "encoding/json"

// ManualExample is one worked example attached to a tool's manual.
// Verified is mutated in place by a separate verifier tool, never via a
// back-pointer: optimistic concurrency on (tool_name, persona, updated_at)
// governs that mutation, matching the spec's cyclic-reference design note.
type ManualExample struct {
	Description string `json:"description"`
	Input       string `json:"input"`
	Output      string `json:"output,omitempty"`
	Verified    bool   `json:"verified"`
}

// Manual is the optional structured documentation attached to a tool.
type Manual struct {
	UsageGuide string          `json:"usage_guide,omitempty"`
	Examples   []ManualExample `json:"examples,omitempty"`
	Pitfalls   []string        `json:"pitfalls,omitempty"`
	ErrorCodes []string        `json:"error_codes,omitempty"`
}

// ToolRecord is a row of ToolRegistry: the denormalised view of a tool
// consumed by the RPC adapter, plus the fields the Execution Engine needs
// to dispatch a call.
type ToolRecord struct {
	Name          string
	Persona       string
	Description   string
	InputSchema   map[string]any
	ActiveHashRef string
	IsAutoCreated bool
	Group         string
	IconName      string // empty if none
	Manual        *Manual
	UpdatedAt     int64
}

// ResourceRecord is a row of ResourceRegistry. Exactly one of StaticContent
// or ActiveHashRef is populated, enforced on upsert.
type ResourceRecord struct {
	URI            string
	Name           string
	Description    string
	MimeType       string
	IsDynamic      bool
	StaticContent  string
	ActiveHashRef  string
	Persona        string
	Group          string
}

// PromptRecord is a row of PromptRegistry.
type PromptRecord struct {
	Name            string
	Description     string
	Template        string
	ArgumentsSchema map[string]any
	Persona         string
	Group           string
}

// MacroRecord is a row of MacroRegistry: a reusable template fragment
// prepended to every SQL template when IsActive is true.
type MacroRecord struct {
	Name        string
	Description string
	Template    string
	IsActive    bool
}

// SecurityPolicyRecord is a row of SecurityPolicy: an allow/deny rule over
// the procedural host's module/function/attribute categories. Deny always
// wins over allow. With no active rules for a category, Evaluate allows
// every pattern; the procedural host has no built-in deny list of its own.
type SecurityPolicyRecord struct {
	ID          int64
	RuleType    string // "allow" or "deny"
	Category    string // "module", "function", "attribute"
	Pattern     string
	Description string
	IsActive    bool
}

// IconRecord is a row of IconRegistry.
type IconRecord struct {
	Name     string
	MimeType string
	Content  string
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
