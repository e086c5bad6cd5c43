package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Queue.Name != "sync" {
		t.Errorf("expected queue name sync, got %s", cfg.Queue.Name)
	}
	if cfg.Queue.JobTimeout != 90*time.Second {
		t.Errorf("expected 90s job timeout, got %v", cfg.Queue.JobTimeout)
	}
	if cfg.Queue.Workers != 1 {
		t.Errorf("expected 1 worker, got %d", cfg.Queue.Workers)
	}
	if cfg.WebSocket.MaxClients != 256 {
		t.Errorf("expected 256 websocket clients, got %d", cfg.WebSocket.MaxClients)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNC_JOB_TIMEOUT", "2m")
	t.Setenv("SYNC_WORKERS", "3")
	t.Setenv("SHEETS_SPREADSHEET_ID", "sheet-1")
	t.Setenv("WS_MAX_CLIENTS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Queue.JobTimeout != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.Queue.JobTimeout)
	}
	if cfg.Queue.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Queue.Workers)
	}
	if cfg.Sheets.SpreadsheetID != "sheet-1" {
		t.Errorf("expected sheet-1, got %s", cfg.Sheets.SpreadsheetID)
	}
	if cfg.WebSocket.MaxClients != 8 {
		t.Errorf("expected 8 websocket clients, got %d", cfg.WebSocket.MaxClients)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SYNC_POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for level, want := range tests {
		if got := (LoggingConfig{Level: level}).SlogLevel(); got != want {
			t.Errorf("level %q: expected %v, got %v", level, want, got)
		}
	}
}
