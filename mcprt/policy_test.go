package mcprt

import (
	"context"
	"testing"
)

func TestEvaluate_NoRules_AllowsAll(t *testing.T) {
	ctx := context.Background()
	_, reg := setupTestRegistry(t)

	if err := reg.Evaluate(ctx, "module", "os"); err != nil {
		t.Fatalf("no rules should allow all, got: %v", err)
	}
}

func TestEvaluate_DenyRule_Blocks(t *testing.T) {
	ctx := context.Background()
	_, reg := setupTestRegistry(t)

	if err := reg.UpsertPolicy(ctx, &SecurityPolicyRecord{RuleType: "deny", Category: "module", Pattern: "os", IsActive: true}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Evaluate(ctx, "module", "os"); err == nil {
		t.Fatal("deny rule should block access")
	}
}

func TestEvaluate_AllowRule_OnlyMatchingPatternPasses(t *testing.T) {
	ctx := context.Background()
	_, reg := setupTestRegistry(t)

	reg.UpsertPolicy(ctx, &SecurityPolicyRecord{RuleType: "allow", Category: "function", Pattern: "json.dumps", IsActive: true})

	if err := reg.Evaluate(ctx, "function", "json.dumps"); err != nil {
		t.Fatalf("matching allow rule should pass: %v", err)
	}
	if err := reg.Evaluate(ctx, "function", "subprocess.run"); err == nil {
		t.Fatal("non-matching function should be denied once allow rules exist")
	}
}

func TestEvaluate_DenyOverridesAllow(t *testing.T) {
	ctx := context.Background()
	_, reg := setupTestRegistry(t)

	reg.UpsertPolicy(ctx, &SecurityPolicyRecord{RuleType: "allow", Category: "attribute", Pattern: "*", IsActive: true})
	reg.UpsertPolicy(ctx, &SecurityPolicyRecord{RuleType: "deny", Category: "attribute", Pattern: "__class__", IsActive: true})

	if err := reg.Evaluate(ctx, "attribute", "__class__"); err == nil {
		t.Fatal("deny should override wildcard allow")
	}
	if err := reg.Evaluate(ctx, "attribute", "value"); err != nil {
		t.Fatalf("wildcard allow should still pass other patterns: %v", err)
	}
}

func TestEvaluate_InactiveRulesIgnored(t *testing.T) {
	ctx := context.Background()
	_, reg := setupTestRegistry(t)

	reg.UpsertPolicy(ctx, &SecurityPolicyRecord{RuleType: "deny", Category: "module", Pattern: "os", IsActive: false})

	if err := reg.Evaluate(ctx, "module", "os"); err != nil {
		t.Fatalf("inactive deny rule must not apply: %v", err)
	}
}
