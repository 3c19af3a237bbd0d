package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"bot": {"token": "file-token", "client_id": "123"},
		"database": {"path": "guard.db"},
		"repute": {"url_endpoints": ["https://reputation.example.com/check"]},
		"logging": {"level": "debug", "path": "guard.log"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "env-token" {
		t.Errorf("token = %q, environment should win", cfg.Bot.Token)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want lowercased env override", cfg.Logging.Level)
	}
	if cfg.Database.Path != "guard.db" || cfg.Bot.ClientID != "123" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if len(cfg.Repute.URLEndpoints) != 1 {
		t.Errorf("endpoints = %v", cfg.Repute.URLEndpoints)
	}
}

func TestLoadRejectsMissingToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(""); err == nil {
		t.Fatal("config without a token validated")
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(""); err == nil {
		t.Fatal("config with unknown log level validated")
	}
}

func TestEndpointListSplitting(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REPUTE_ENDPOINTS", " https://a.example.com/v1 , https://b.example.com/v1 ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Repute.URLEndpoints) != 2 || cfg.Repute.URLEndpoints[0] != "https://a.example.com/v1" {
		t.Fatalf("endpoints = %v", cfg.Repute.URLEndpoints)
	}
}
