package textutil

import (
	"path/filepath"
	"testing"
)

func TestSanitizePathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{`AC/DC: Live? "Yes" <now>|`, `AC_DC_ Live_ _Yes_ _now__`},
		{"  ..Dotted name..  ", "Dotted name"},
		{"Too    many\tspaces", "Too many spaces"},
		{"Café", "Café"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizePathSegment(tt.in); got != tt.want {
			t.Fatalf("SanitizePathSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("{author}/{title}/{author} - {title}", "Jane Doe", "Book: One")
	want := filepath.Join("Jane Doe", "Book_ One", "Jane Doe - Book_ One")
	if got != want {
		t.Fatalf("RenderTemplate = %q, want %q", got, want)
	}
	if got := RenderTemplate("{title}", "A/B", "x/y"); got != "x_y" {
		t.Fatalf("slash in value leaked into path: %q", got)
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"DOWNLOADED":  "Downloaded",
		"NOT_STARTED": "Not Started",
		"":            "",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Fatalf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}
