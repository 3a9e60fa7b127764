package sanitize

import (
	"strings"
	"testing"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Alice", "Alice"},
		{"trims whitespace", "  Alice  ", "Alice"},
		{"strips tags", "<b>Alice</b>", "Alice"},
		{"strips script", "<script>alert(1)</script>Alice", "Alice"},
		{"strips event handler markup", `<img src=x onerror=alert(1)>Bob`, "Bob"},
		{"decodes entities from stripper", "A & B", "A & B"},
		{"unicode preserved", "Ålice Ñoño", "Ålice Ñoño"},
		{"control chars removed", "Ali\x00ce\x1b", "Alice"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.input); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDisplayName_CapsLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	if got := DisplayName(long); len(got) != maxDisplayNameLen {
		t.Errorf("expected %d chars, got %d", maxDisplayNameLen, len(got))
	}
}

func TestPlainText(t *testing.T) {
	if got := PlainText("  <p>hello <b>world</b></p> "); got != "hello world" {
		t.Errorf("PlainText = %q", got)
	}
	if got := PlainText(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
