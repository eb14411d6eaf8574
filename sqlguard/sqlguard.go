// Package sqlguard validates rendered SQL text before it reaches the Data
// Store: single-statement, read-only, and keyword-denylist enforcement.
// The validator treats SQL as opaque text — a coarse filter, not a parser —
// sufficient because the Data Store connection carries only SELECT
// capability at the application level; true authorization belongs at the
// database user level in production.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes, matching the engine's stable error kinds.
const (
	MultiStatement   = "MULTI_STATEMENT"
	NotSelect        = "NOT_SELECT"
	DangerousKeyword = "DANGEROUS_KEYWORD"
)

// deniedKeywords is the exact denylist from the specification.
var deniedKeywords = []string{
	"UPDATE", "INSERT", "DELETE", "DROP", "ALTER", "TRUNCATE", "CREATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE", "ATTACH", "DETACH", "PRAGMA",
}

var keywordPattern = regexp.MustCompile(
	`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
var lineComment = regexp.MustCompile(`--[^\n]*`)

// ValidationError reports a rejected SQL statement.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sqlguard: %s: %s", e.Code, e.Message)
}

// Validate runs the full rule chain against the rendered SQL text and
// returns a *ValidationError describing the first rule violated, or nil if
// query passes every rule.
func Validate(query string) error {
	scrubbed := stripComments(query)

	if err := checkSingleStatement(scrubbed); err != nil {
		return err
	}
	if err := checkReadOnly(scrubbed); err != nil {
		return err
	}
	if err := checkDenylist(scrubbed); err != nil {
		return err
	}
	return nil
}

// stripComments removes block comments first (they may span lines and
// contain "--" sequences) then single-line comments.
func stripComments(query string) string {
	s := blockComment.ReplaceAllString(query, " ")
	s = lineComment.ReplaceAllString(s, "")
	return s
}

// checkSingleStatement allows at most one trailing semicolon.
func checkSingleStatement(scrubbed string) error {
	trimmed := strings.TrimRight(scrubbed, " \t\n\r;")
	if strings.Contains(trimmed, ";") {
		return &ValidationError{
			Code:    MultiStatement,
			Message: "only one statement is permitted",
		}
	}
	return nil
}

// checkReadOnly requires the first token to be SELECT or WITH. WITH is
// accepted alongside SELECT as a deviation from a literal reading of the
// source, which names only SELECT — see the engine's design notes.
func checkReadOnly(scrubbed string) error {
	fields := strings.Fields(scrubbed)
	if len(fields) == 0 {
		return &ValidationError{Code: NotSelect, Message: "empty query"}
	}
	first := strings.ToUpper(fields[0])
	if first != "SELECT" && first != "WITH" {
		return &ValidationError{
			Code:    NotSelect,
			Message: fmt.Sprintf("statement must begin with SELECT or WITH, got %q", fields[0]),
		}
	}
	return nil
}

// checkDenylist scans scrubbed for any denied keyword outside single- or
// double-quoted string literals.
func checkDenylist(scrubbed string) error {
	unquoted := maskQuotedLiterals(scrubbed)
	if m := keywordPattern.FindString(unquoted); m != "" {
		return &ValidationError{
			Code:    DangerousKeyword,
			Message: fmt.Sprintf("disallowed keyword %q", strings.ToUpper(m)),
		}
	}
	return nil
}

// maskQuotedLiterals replaces the contents of '...' and "..." string
// literals with spaces so the denylist scan never matches text inside a
// quoted value. SQL's doubled-quote escape ('' inside a '...' literal) is
// honored by treating a doubled quote as a literal character rather than a
// terminator.
func maskQuotedLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	n := len(runes)

	for i := 0; i < n; i++ {
		c := runes[i]
		if c == '\'' || c == '"' {
			quote := c
			b.WriteRune(' ')
			i++
			for i < n {
				if runes[i] == quote {
					if i+1 < n && runes[i+1] == quote {
						b.WriteRune(' ')
						i += 2
						continue
					}
					break
				}
				b.WriteRune(' ')
				i++
			}
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
