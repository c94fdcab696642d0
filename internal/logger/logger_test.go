package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgmon/internal/config"
)

// ==================== Logger Tests ====================

func TestNew_Defaults(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer log.Close()

	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "loud",
		Output: "stderr",
	}

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown level, got nil")
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgmond.log")

	cfg := config.LogConfig{
		Level:    "info",
		Format:   "json",
		FilePath: path,
	}

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info("collection cycle complete", "targets", 3)

	if err := log.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "collection cycle complete") {
		t.Errorf("log file missing entry, got: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "ERROR", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLevel(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLevel(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	leveler := new(slog.LevelVar)
	leveler.Set(slog.LevelInfo)

	log := &Logger{
		Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: leveler})),
		level:  leveler,
	}

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted at info level: %s", buf.String())
	}

	if err := log.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error: %v", err)
	}

	log.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug line missing after SetLevel, got: %s", buf.String())
	}

	if err := log.SetLevel("sideways"); err == nil {
		t.Error("SetLevel with unknown level should fail")
	}
}

// ==================== Redaction Tests ====================

func TestRedactingHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.NewJSONHandler(buf, nil)
	handler := NewRedactingHandler(base, DefaultRedactFields())
	log := slog.New(handler)

	log.Info("server registered",
		"name", "prod-db-1",
		"password", "p@ss",
		"ssh_key_passphrase", "hunter2",
		"host", "10.0.0.5",
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if entry["password"] != RedactedValue {
		t.Errorf("password = %v, want %q", entry["password"], RedactedValue)
	}
	if entry["ssh_key_passphrase"] != RedactedValue {
		t.Errorf("ssh_key_passphrase = %v, want %q", entry["ssh_key_passphrase"], RedactedValue)
	}
	if entry["name"] != "prod-db-1" {
		t.Errorf("name = %v, want prod-db-1", entry["name"])
	}
	if entry["host"] != "10.0.0.5" {
		t.Errorf("host = %v, want untouched value", entry["host"])
	}
}

func TestRedactingHandler_Groups(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.NewJSONHandler(buf, nil)
	handler := NewRedactingHandler(base, []string{"password"})
	log := slog.New(handler)

	log.Info("msg", slog.Group("server", slog.String("password", "x"), slog.String("host", "h")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	group, ok := entry["server"].(map[string]any)
	if !ok {
		t.Fatalf("group missing: %v", entry)
	}
	if group["password"] != RedactedValue {
		t.Errorf("grouped password = %v, want %q", group["password"], RedactedValue)
	}
	if group["host"] != "h" {
		t.Errorf("grouped host = %v, want h", group["host"])
	}
}

// ==================== Context Tests ====================

func TestLoggerContext(t *testing.T) {
	log := Default()
	ctx := WithLogger(context.Background(), log)

	if got := FromContext(ctx); got != log {
		t.Error("FromContext did not return the stored logger")
	}
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext without a stored logger should fall back to Default")
	}
}
