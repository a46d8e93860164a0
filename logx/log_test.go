package logx

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestModuleAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithHandler(slog.NewJSONHandler(&buf, nil))
	l.Module("vbk").Info("accepted block", "height", 5)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["module"] != "vbk" {
		t.Fatalf("expected module=vbk, got %v", entry["module"])
	}
	if entry["msg"] != "accepted block" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	Info("should not appear")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatal("info message leaked through warn-level filter")
	}
	if !strings.Contains(out, "should appear") {
		t.Fatal("warn message missing")
	}
}
