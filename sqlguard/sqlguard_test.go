package sqlguard

import "testing"

func TestValidate_Allows(t *testing.T) {
	queries := []string{
		"SELECT * FROM sales_per_day",
		"  select count(*) from t",
		"WITH cte AS (SELECT 1) SELECT * FROM cte",
		"SELECT * FROM t WHERE name = 'DROP all tables'",
		"SELECT * FROM t -- trailing comment",
		"SELECT * FROM t /* block comment */ WHERE 1=1",
		"SELECT * FROM t;",
	}
	for _, q := range queries {
		if err := Validate(q); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", q, err)
		}
	}
}

func TestValidate_RejectsMultiStatement(t *testing.T) {
	err := Validate("SELECT * FROM sales_per_day; DROP TABLE sales_per_day")
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if ve.Code != MultiStatement {
		t.Fatalf("code: got %q, want %q", ve.Code, MultiStatement)
	}
}

func TestValidate_RejectsNonSelect(t *testing.T) {
	err := Validate("DELETE FROM sales_per_day")
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Code != NotSelect {
		t.Fatalf("code: got %q, want %q", ve.Code, NotSelect)
	}
}

func TestValidate_RejectsDenylistedKeyword(t *testing.T) {
	err := Validate("SELECT * FROM (SELECT 1) WHERE EXISTS (SELECT 1 FROM t WHERE DROP = 1)")
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Code != DangerousKeyword {
		t.Fatalf("code: got %q, want %q", ve.Code, DangerousKeyword)
	}
}

func TestValidate_KeywordInsideStringLiteralAllowed(t *testing.T) {
	if err := Validate(`SELECT * FROM t WHERE name = 'please DELETE this'`); err != nil {
		t.Fatalf("keyword inside string literal should be allowed: %v", err)
	}
}

func TestValidate_EscapedQuoteInLiteral(t *testing.T) {
	if err := Validate(`SELECT * FROM t WHERE name = 'O''Brien said DROP'`); err != nil {
		t.Fatalf("escaped quote handling failed: %v", err)
	}
}

func TestValidate_InjectionAttemptStillJustSelect(t *testing.T) {
	// A classic injection payload embedded as a bound value would never
	// reach Validate as SQL text (it's passed as a parameter), but if an
	// operator mistakenly interpolated it, the literal content itself
	// contains no denylisted keyword and should pass — the validator's
	// guarantee is structural, not semantic.
	q := `SELECT * FROM sales_per_day WHERE store_name = 'Electronics'' OR ''1''=''1'`
	if err := Validate(q); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}
