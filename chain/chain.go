// Package chain implements the Workflow Chain Engine: DAG-validated
// multi-step tool composition. A chain is a list of steps, each naming a
// tool and an argument map that may reference an earlier step's result via
// ${id} or ${id.path}. The engine validates that every reference points
// backward before executing a single step, then runs steps in order,
// substituting references from the accumulated state.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Step is one entry in a chain's step list.
type Step struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Executor re-enters the engine for a single tool call. The chain engine
// never talks to the Registry or Vault directly — every step is just
// another Execute call, so SQL and procedural tools compose identically.
type Executor func(ctx context.Context, tool string, args map[string]any) (any, error)

// DAGViolationError reports a forward or unknown step reference, found
// during validation before any step has run.
type DAGViolationError struct {
	StepID    string
	Reference string
}

func (e *DAGViolationError) Error() string {
	return fmt.Sprintf("chain: step %q references %q, which is not an earlier step", e.StepID, e.Reference)
}

// StepFailure describes the step that stopped the chain: its index, id,
// tool, and error message. The steps that succeeded before it are listed
// with their truncated results in the Report's Completed entries.
type StepFailure struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Tool   string `json:"tool"`
	Error  string `json:"error"`
}

type completedStep struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// Report is returned by Run when a step fails partway through: the
// successfully executed steps retain their side effects (the chain engine
// never rolls anything back), but the overall call is reported as failed.
type Report struct {
	Failed     StepFailure      `json:"failed"`
	Completed  []completedStep  `json:"completed_steps"`
	Suggestion string           `json:"suggestion"`
}

const completedResultLimit = 500

var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)((?:\.[A-Za-z0-9_]+)*)\}`)

// Validate checks that every ${id} / ${id.path} reference inside any
// step's Args names an earlier step's id, per spec §4.7's DAG rule. It
// runs before any step executes, so a forward reference aborts the whole
// chain with zero side effects and zero ExecutionLog rows for chain steps.
func Validate(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if seen[s.ID] {
			return &DAGViolationError{StepID: s.ID, Reference: s.ID}
		}
		for _, ref := range references(s.Args) {
			if !seen[ref] {
				return &DAGViolationError{StepID: s.ID, Reference: ref}
			}
		}
		seen[s.ID] = true
		_ = i
	}
	return nil
}

// references extracts every distinct step id referenced anywhere in args,
// walking nested maps and slices.
func references(args map[string]any) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, m := range refPattern.FindAllStringSubmatch(val, -1) {
				if !seen[m[1]] {
					seen[m[1]] = true
					out = append(out, m[1])
				}
			}
		case map[string]any:
			for _, vv := range val {
				walk(vv)
			}
		case []any:
			for _, vv := range val {
				walk(vv)
			}
		}
	}
	walk(args)
	return out
}

// Run executes steps in order via exec, substituting ${id.path} references
// against the accumulated state of prior results before each call. On the
// first failing step it stops and returns a *Report (not an error — a
// partial-failure report is itself the successful outcome of Run, per
// spec §4.7). Validate must be called first; Run does not re-validate.
func Run(ctx context.Context, steps []Step, exec Executor) (map[string]any, *Report, error) {
	state := make(map[string]any, len(steps))
	var completed []completedStep

	for i, s := range steps {
		resolved, err := substitute(s.Args, state)
		if err != nil {
			return nil, &Report{
				Failed:     StepFailure{Index: i, ID: s.ID, Tool: s.Tool, Error: err.Error()},
				Completed:  completed,
				Suggestion: "check that every ${id.path} reference resolves within the already-executed step results",
			}, nil
		}

		result, err := exec(ctx, s.Tool, resolved)
		if err != nil {
			return nil, &Report{
				Failed:     StepFailure{Index: i, ID: s.ID, Tool: s.Tool, Error: err.Error()},
				Completed:  completed,
				Suggestion: fmt.Sprintf("step %q failed; steps before it already ran and are not rolled back", s.ID),
			}, nil
		}

		state[s.ID] = result
		completed = append(completed, completedStep{Index: i, ID: s.ID, Tool: s.Tool, Result: truncate(stringify(result), completedResultLimit)})
	}

	return state, nil, nil
}

// substitute recursively walks args, replacing every ${id.path} reference
// with its stringified value navigated out of state. Spec §9 open question
// (b): chain step results are stringified eagerly for reference
// resolution, matching the source's behavior rather than requiring results
// to stay JSON-structured across steps.
func substitute(args map[string]any, state map[string]any) (map[string]any, error) {
	var walk func(v any) (any, error)
	walk = func(v any) (any, error) {
		switch val := v.(type) {
		case string:
			return substituteString(val, state)
		case map[string]any:
			out := make(map[string]any, len(val))
			for k, vv := range val {
				r, err := walk(vv)
				if err != nil {
					return nil, err
				}
				out[k] = r
			}
			return out, nil
		case []any:
			out := make([]any, len(val))
			for i, vv := range val {
				r, err := walk(vv)
				if err != nil {
					return nil, err
				}
				out[i] = r
			}
			return out, nil
		default:
			return val, nil
		}
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		r, err := walk(v)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// substituteString replaces every ${id.path} occurrence in s with the
// stringified navigated value. A string that is *entirely* one reference
// becomes that value's string form (a string as is, anything else such as
// a row list JSON-encoded); a string with embedded references is rendered
// with each occurrence stringified in place.
func substituteString(s string, state map[string]any) (any, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		id := s[matches[0][2]:matches[0][3]]
		path := s[matches[0][4]:matches[0][5]]
		v, err := navigate(state, id, path)
		if err != nil {
			return nil, err
		}
		return stringify(v), nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		id := s[m[2]:m[3]]
		path := s[m[4]:m[5]]
		v, err := navigate(state, id, path)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// navigate walks dotted path segments into state[id] — dict key, then
// attribute-style map lookup, then numeric slice index, in that order —
// per spec §4.7's resolution rule.
func navigate(state map[string]any, id, path string) (any, error) {
	cur, ok := state[id]
	if !ok {
		return nil, fmt.Errorf("chain: reference to %q has no recorded result", id)
	}
	if path == "" {
		return cur, nil
	}
	for _, seg := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		switch v := cur.(type) {
		case map[string]any:
			nv, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("chain: %q has no key %q", id, seg)
			}
			cur = nv
		case []map[string]any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("chain: %q has no index %q", id, seg)
			}
			cur = v[idx]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("chain: %q has no index %q", id, seg)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("chain: %q cannot navigate into %q on a %T", id, seg, cur)
		}
	}
	return cur, nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
