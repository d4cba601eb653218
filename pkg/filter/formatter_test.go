package filter

import (
	"encoding/json"
	"testing"
)

func TestFormat(t *testing.T) {
	f := CompileOutput("shell in container (user=%user.name id=%container.id)", mapResolver(), false)
	got := f.Format(map[string]any{
		"user.name":    "root",
		"container.id": "abc123",
	})
	want := "shell in container (user=root id=abc123)"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFormatMissingField(t *testing.T) {
	f := CompileOutput("user=%user.name", mapResolver(), false)
	if got := f.Format(map[string]any{}); got != "user=<NA>" {
		t.Errorf("Format = %q", got)
	}
}

func TestFormatNoFields(t *testing.T) {
	f := CompileOutput("plain text, no fields", mapResolver(), false)
	if got := f.Format(nil); got != "plain text, no fields" {
		t.Errorf("Format = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	f := CompileOutput("user=%user.name", mapResolver(), true)
	out := f.Format(map[string]any{"user.name": "root"})

	var decoded struct {
		Output string            `json:"output"`
		Fields map[string]string `json:"output_fields"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("JSON output not parseable: %v (%q)", err, out)
	}
	if decoded.Output != "user=root" {
		t.Errorf("output = %q", decoded.Output)
	}
	if decoded.Fields["user.name"] != "root" {
		t.Errorf("output_fields = %v", decoded.Fields)
	}
}
