package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Mailbox.QueueCap != 256 {
		t.Errorf("expected default queue cap 256, got %d", cfg.Mailbox.QueueCap)
	}
	if cfg.Bridge.CallTimeoutMs != 10000 {
		t.Errorf("expected default call timeout 10000ms, got %d", cfg.Bridge.CallTimeoutMs)
	}
	if !cfg.Daemon.Watch {
		t.Error("expected watcher enabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptbox.yaml")

	content := `
paths:
  sandbox_dir: ` + dir + `
logging:
  level: DEBUG
mailbox:
  queue_cap: 32
bridge:
  call_timeout_ms: 250
  file_globs:
    - "notes/**"
  secret_grants:
    job.a: [api_token]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected level DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Mailbox.QueueCap != 32 {
		t.Errorf("expected queue cap 32, got %d", cfg.Mailbox.QueueCap)
	}
	if cfg.Bridge.CallTimeoutMs != 250 {
		t.Errorf("expected call timeout 250, got %d", cfg.Bridge.CallTimeoutMs)
	}
	if got := cfg.Paths.ScriptsDir; got != filepath.Join(dir, "scripts") {
		t.Errorf("scripts_dir should follow sandbox_dir, got %s", got)
	}
	if grants := cfg.Bridge.SecretGrants["job.a"]; len(grants) != 1 || grants[0] != "api_token" {
		t.Errorf("unexpected secret grants: %v", cfg.Bridge.SecretGrants)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	// No config file anywhere near a temp working directory.
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	defer func() {
		_ = os.Chdir(old)
	}()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without a config file should succeed: %v", err)
	}
	if cfg.Mailbox.QueueCap != 256 {
		t.Errorf("expected default queue cap, got %d", cfg.Mailbox.QueueCap)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty sandbox dir", func(c *Config) { c.Paths.SandboxDir = "" }},
		{"empty scripts dir", func(c *Config) { c.Paths.ScriptsDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"zero ready timeout", func(c *Config) { c.Supervisor.ReadyTimeoutMs = 0 }},
		{"zero script cap", func(c *Config) { c.Supervisor.MaxScriptBytes = 0 }},
		{"zero queue cap", func(c *Config) { c.Mailbox.QueueCap = 0 }},
		{"negative call timeout", func(c *Config) { c.Bridge.CallTimeoutMs = -1 }},
		{"zero value cap", func(c *Config) { c.Bridge.MaxValueBytes = 0 }},
		{"bad glob", func(c *Config) { c.Bridge.FileGlobs = []string{"[unclosed"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Error("nil config should fail validation")
	}
}
