package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "json", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", "cycle", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "kept" || entry["service"] != "tripwire" || entry["cycle"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "TEXT", &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	if _, err := New("info", "xml", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
