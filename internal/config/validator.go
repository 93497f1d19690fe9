package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/scriptbox/scriptbox/internal/logging"
)

// Validate checks a Config for values the supervisor cannot run with.
// It returns the first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Paths.SandboxDir == "" {
		return fmt.Errorf("paths.sandbox_dir must not be empty")
	}
	if cfg.Paths.ScriptsDir == "" {
		return fmt.Errorf("paths.scripts_dir must not be empty")
	}

	level := strings.ToUpper(cfg.Logging.Level)
	valid := false
	for _, l := range logging.ValidLevels() {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("logging.level %q is not one of %v", cfg.Logging.Level, logging.ValidLevels())
	}

	if cfg.Supervisor.ReadyTimeoutMs <= 0 {
		return fmt.Errorf("supervisor.ready_timeout_ms must be positive, got %d", cfg.Supervisor.ReadyTimeoutMs)
	}
	if cfg.Supervisor.MaxScriptBytes <= 0 {
		return fmt.Errorf("supervisor.max_script_bytes must be positive, got %d", cfg.Supervisor.MaxScriptBytes)
	}

	if cfg.Mailbox.QueueCap <= 0 {
		return fmt.Errorf("mailbox.queue_cap must be positive, got %d", cfg.Mailbox.QueueCap)
	}

	if cfg.Bridge.CallTimeoutMs < 0 {
		return fmt.Errorf("bridge.call_timeout_ms must not be negative, got %d", cfg.Bridge.CallTimeoutMs)
	}
	if cfg.Bridge.MaxValueBytes <= 0 {
		return fmt.Errorf("bridge.max_value_bytes must be positive, got %d", cfg.Bridge.MaxValueBytes)
	}
	for _, pattern := range cfg.Bridge.FileGlobs {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("bridge.file_globs pattern %q: %w", pattern, err)
		}
	}

	return nil
}
