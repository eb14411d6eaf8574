package engine

import "encoding/json"

// marshalArgs renders a tool's arguments as JSON for the execution log.
func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// summarize renders a tool's result as a short JSON string for the
// execution log. audit.SQLiteLogger truncates it further to its own limit,
// so this only needs to produce something readable, not bounded.
func summarize(result any) string {
	if result == nil {
		return ""
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(b)
}
