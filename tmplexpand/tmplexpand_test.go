package tmplexpand

import "testing"

func TestExpand_SimpleInterpolation(t *testing.T) {
	e := New(nil)
	out, err := e.Expand(`SELECT * FROM t WHERE dept = {{ arguments.department }}`, map[string]any{
		"department": ":department",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `SELECT * FROM t WHERE dept = :department`
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestExpand_NoTemplateSyntaxPassesThrough(t *testing.T) {
	e := New(nil)
	out, err := e.Expand("SELECT * FROM sales_per_day", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "SELECT * FROM sales_per_day" {
		t.Fatalf("got %q", out)
	}
}

func TestExpand_ConditionalBlock(t *testing.T) {
	e := New(nil)
	tmpl := `SELECT * FROM t WHERE 1=1 {% if arguments.department %} AND dept = {{ arguments.department }} {% endif %}`

	out, err := e.Expand(tmpl, map[string]any{"department": ":department"})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out, ":department") {
		t.Fatalf("expected condition to render, got %q", out)
	}

	out2, err := e.Expand(tmpl, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if contains(out2, ":department") {
		t.Fatalf("expected condition to be skipped, got %q", out2)
	}
}

func TestExpand_MacroPreamblePrepended(t *testing.T) {
	e := New(func() ([]string, error) {
		return []string{"-- macro: common filters"}, nil
	})
	out, err := e.Expand("SELECT 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out, "macro: common filters") {
		t.Fatalf("expected macro preamble, got %q", out)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
