package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/allocation-engine/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WebSocketPath != "/ws" {
		t.Errorf("websocket path = %q, want /ws", cfg.Server.WebSocketPath)
	}
	if cfg.Engine.Operator != "operator" {
		t.Errorf("operator = %q, want operator", cfg.Engine.Operator)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
}

func TestFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9999
engine:
  operator: admin
  min_confidence_bps: 8000
log_level: debug
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Engine.Operator != "admin" {
		t.Errorf("operator = %q, want admin", cfg.Engine.Operator)
	}
	if cfg.Engine.MinConfidenceBps != 8000 {
		t.Errorf("min confidence = %d, want 8000", cfg.Engine.MinConfidenceBps)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestValidation(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"empty operator", "engine:\n  operator: \"\"\n"},
		{"confidence above scale", "engine:\n  min_confidence_bps: 10001\n"},
		{"bad log level", "log_level: loud\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := config.Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
