package mcprt

import (
	"context"
	"fmt"
)

// UpsertPolicy inserts or replaces a SecurityPolicy rule. Rules have no
// natural key beyond their row id; callers that want idempotent reseeding
// should query first.
func (r *Registry) UpsertPolicy(ctx context.Context, p *SecurityPolicyRecord) error {
	if p.RuleType != "allow" && p.RuleType != "deny" {
		return fmt.Errorf("mcprt: invalid rule_type %q", p.RuleType)
	}
	if p.Category != "module" && p.Category != "function" && p.Category != "attribute" {
		return fmt.Errorf("mcprt: invalid category %q", p.Category)
	}
	if p.ID == 0 {
		res, err := r.db.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (rule_type, category, pattern, description, is_active) VALUES (?,?,?,?,?)`,
			r.tables.SecurityPolicy),
			p.RuleType, p.Category, p.Pattern, p.Description, p.IsActive)
		if err != nil {
			return fmt.Errorf("mcprt: insert policy: %w", err)
		}
		id, err := res.LastInsertId()
		if err == nil {
			p.ID = id
		}
		return nil
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET rule_type=?, category=?, pattern=?, description=?, is_active=? WHERE id=?`,
		r.tables.SecurityPolicy),
		p.RuleType, p.Category, p.Pattern, p.Description, p.IsActive, p.ID)
	return err
}

// ListPolicies returns every active rule for category, or every active
// rule when category is empty.
func (r *Registry) ListPolicies(ctx context.Context, category string) ([]*SecurityPolicyRecord, error) {
	query := fmt.Sprintf(`SELECT id, rule_type, category, pattern, COALESCE(description,''), is_active
		FROM %s WHERE is_active = 1`, r.tables.SecurityPolicy)
	args := []any{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mcprt: list policies: %w", err)
	}
	defer rows.Close()

	var out []*SecurityPolicyRecord
	for rows.Next() {
		var p SecurityPolicyRecord
		if err := rows.Scan(&p.ID, &p.RuleType, &p.Category, &p.Pattern, &p.Description, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Evaluate reports whether pattern is permitted under category's active
// rules: any matching deny rule wins outright; otherwise, if allow rules
// exist for the category and none match, the pattern is denied; otherwise
// it is allowed.
//
// This mirrors the prototype's per-role allow/deny evaluation, generalised
// from "role" to the procedural host's module/function/attribute
// categories. It is not consulted by the Execution Engine's dispatch
// path: procedural tools are compiled Go code registered at init time, so
// the structural validation the prototype performed against interpreted
// source has no dynamic equivalent to gate here — that validation now
// happens at compile time via Go's type system. Evaluate is kept for data
// model completeness and for any external tooling that manages these rows.
func (r *Registry) Evaluate(ctx context.Context, category, pattern string) error {
	rules, err := r.ListPolicies(ctx, category)
	if err != nil {
		return err
	}

	var hasAllow, matchesAllow bool
	for _, rule := range rules {
		matches := rule.Pattern == "*" || rule.Pattern == pattern
		if rule.RuleType == "deny" && matches {
			return fmt.Errorf("mcprt: %s %q denied by policy", category, pattern)
		}
		if rule.RuleType == "allow" {
			hasAllow = true
			if matches {
				matchesAllow = true
			}
		}
	}
	if hasAllow && !matchesAllow {
		return fmt.Errorf("mcprt: %s %q not allowed by policy", category, pattern)
	}
	return nil
}
