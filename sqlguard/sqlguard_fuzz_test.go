package sqlguard

import (
	"fmt"
	"testing"
)

// FuzzValidate_DenylistAlwaysRejected checks that any SELECT query with a
// denylisted keyword spliced in outside of quotes is always rejected,
// regardless of surrounding whitespace or position.
func FuzzValidate_DenylistAlwaysRejected(f *testing.F) {
	for _, kw := range deniedKeywords {
		f.Add(kw, "WHERE x = 1")
	}

	f.Fuzz(func(t *testing.T, kw string, tail string) {
		found := false
		for _, d := range deniedKeywords {
			if d == kw {
				found = true
				break
			}
		}
		if !found {
			t.Skip()
		}
		q := fmt.Sprintf("SELECT * FROM t %s %s", kw, tail)
		if err := Validate(q); err == nil {
			t.Fatalf("expected rejection for query containing %q: %q", kw, q)
		}
	})
}

// FuzzValidate_PlainSelectsPass checks that simple SELECT statements with
// varying whitespace always pass validation.
func FuzzValidate_PlainSelectsPass(f *testing.F) {
	f.Add("  ")
	f.Add("\t")
	f.Add("")

	f.Fuzz(func(t *testing.T, pad string) {
		q := pad + "SELECT 1"
		if err := Validate(q); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
	})
}
