package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 3215 {
		t.Errorf("Port = %d, want 3215", cfg.Port)
	}
	if cfg.CallTimeout != 5 {
		t.Errorf("CallTimeout = %d, want 5", cfg.CallTimeout)
	}
	if cfg.RequireFriendship {
		t.Errorf("RequireFriendship should default to false")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chathub.toml")
	data := `
port = 4000
db_path = "/tmp/file.db"
require_friendship = true
intent_rate = 2.5
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATHUB_PORT", "4100")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 4100 {
		t.Errorf("Port = %d, want env override 4100", cfg.Port)
	}
	if cfg.DBPath != "/tmp/file.db" {
		t.Errorf("DBPath = %q, want /tmp/file.db", cfg.DBPath)
	}
	if !cfg.RequireFriendship {
		t.Errorf("RequireFriendship = false, want true from file")
	}
	if cfg.IntentRate != 2.5 {
		t.Errorf("IntentRate = %v, want 2.5", cfg.IntentRate)
	}
}

func TestLoadInvalidEnvIgnored(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("CHATHUB_READ_TIMEOUT", "abc")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReadTimeout != 120 {
		t.Errorf("ReadTimeout = %d, want default 120", cfg.ReadTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = " "
	cfg.CallTimeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") || !strings.Contains(err.Error(), "timeouts") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
