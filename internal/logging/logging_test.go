package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, FormatJSON)

	Component("blobstore").Info("rolled over", "file", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["component"] != "blobstore" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["msg"] != "rolled over" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestTintWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelDebug, FormatTint)

	Component("index").Debug("schema ready")

	out := buf.String()
	if !strings.Contains(out, "schema ready") || !strings.Contains(out, "component=index") {
		t.Errorf("unexpected output %q", out)
	}
	// Non-file writers never get colour codes.
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected escape codes in %q", out)
	}
}
