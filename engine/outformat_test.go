package engine

import "testing"

func TestExtractFormat_DefaultsToJSON(t *testing.T) {
	format, rest := ExtractFormat(map[string]any{"x": 1})
	if format != FormatJSON {
		t.Fatalf("format = %q, want %q", format, FormatJSON)
	}
	if _, ok := rest["x"]; !ok {
		t.Fatalf("rest missing original argument: %v", rest)
	}
}

func TestExtractFormat_StripsReservedKey(t *testing.T) {
	format, rest := ExtractFormat(map[string]any{"_format": "toon", "x": 1})
	if format != FormatTOON {
		t.Fatalf("format = %q, want %q", format, FormatTOON)
	}
	if _, ok := rest["_format"]; ok {
		t.Fatal("_format leaked into rest")
	}
}

func TestRender_TOON(t *testing.T) {
	rows := []map[string]any{
		{"a": "1", "b": "x"},
		{"a": "2", "b": "y"},
	}
	out, err := Render(rows, FormatTOON)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "a\tb\n1\tx\n2\ty"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRender_UnknownFallsBackToText(t *testing.T) {
	out, err := Render("hello", "xml")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}
