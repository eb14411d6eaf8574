package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Output format names recognized in the reserved `_format` call argument
// (spec §4.5, §6). FormatText is also the fallback for any unrecognized
// value.
const (
	FormatJSON = "json"
	FormatTOON = "toon"
	FormatText = "text"
)

// ExtractFormat pulls the reserved `_format` key out of a tool call's
// argument map, returning the requested format (defaulting to FormatJSON)
// and the remaining arguments the tool itself should see. `_format` is an
// adapter-level concern — it must never reach Execute as a tool argument.
func ExtractFormat(args map[string]any) (format string, rest map[string]any) {
	format = FormatJSON
	rest = make(map[string]any, len(args))
	for k, v := range args {
		if k == "_format" {
			if s, ok := v.(string); ok && s != "" {
				format = s
			}
			continue
		}
		rest[k] = v
	}
	return format, rest
}

// Render encodes result in the requested format for return to the calling
// agent. An unrecognized format falls back to FormatText, per spec §4.5.
func Render(result any, format string) (string, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", fmt.Errorf("engine: render json: %w", err)
		}
		return string(b), nil
	case FormatTOON:
		return renderTOON(result)
	default:
		return renderText(result), nil
	}
}

// renderText coerces result to a string: a string passes through verbatim,
// everything else is JSON-stringified for readability.
func renderText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

// renderTOON encodes a uniform list of row maps as a compact columnar
// format: one header row of field names (sorted for determinism), then one
// value row per entry, tab-separated. Anything that isn't a uniform row
// list (a scalar, a single object, a heterogeneous list) falls back to
// text rendering — TOON only pays for itself on the row-list shape SQL
// tools return.
func renderTOON(result any) (string, error) {
	rows, ok := result.([]map[string]any)
	if !ok {
		return renderText(result), nil
	}
	if len(rows) == 0 {
		return "", nil
	}

	colSet := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			colSet[k] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString(strings.Join(cols, "\t"))
	for _, row := range rows {
		b.WriteString("\n")
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = toonScalar(row[c])
		}
		b.WriteString(strings.Join(vals, "\t"))
	}
	return b.String(), nil
}

func toonScalar(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
