// Package config loads and validates the scriptbox configuration.
// Configuration is read from scriptbox.yaml via viper, with environment
// overrides under the SCRIPTBOX prefix.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete scriptbox configuration.
type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
}

// PathsConfig controls where scriptbox keeps its state.
type PathsConfig struct {
	// SandboxDir is the root directory for scripts, logs, and bridge
	// file storage. Defaults to ~/.scriptbox.
	SandboxDir string `mapstructure:"sandbox_dir"`
	// ScriptsDir is where the manifest and script sources live.
	// Defaults to {sandbox_dir}/scripts.
	ScriptsDir string `mapstructure:"scripts_dir"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO).
	Level string `mapstructure:"level"`
	// ToStderr forces logs to stderr instead of the sandbox log file.
	ToStderr bool `mapstructure:"to_stderr"`
}

// SupervisorConfig controls instance lifecycle behavior.
type SupervisorConfig struct {
	// ReadyTimeoutMs bounds how long open() waits for a target's
	// top-level code to finish (default: 10000).
	ReadyTimeoutMs int `mapstructure:"ready_timeout_ms"`
	// MaxScriptBytes caps an installable script's source size
	// (default: 1 MiB).
	MaxScriptBytes int `mapstructure:"max_script_bytes"`
}

// MailboxConfig controls inter-instance message queuing.
type MailboxConfig struct {
	// QueueCap bounds each command's pending queue. When full, the
	// oldest message is evicted and a warning is logged (default: 256).
	QueueCap int `mapstructure:"queue_cap"`
}

// BridgeConfig controls host capability exposure.
type BridgeConfig struct {
	// CallTimeoutMs is the per-call budget for every bridge call.
	// Zero disables the budget (default: 10000).
	CallTimeoutMs int `mapstructure:"call_timeout_ms"`
	// MaxValueBytes caps a single storage value (default: 64 KiB).
	MaxValueBytes int `mapstructure:"max_value_bytes"`
	// FileGlobs are glob patterns, relative to the sandbox files root,
	// that the files namespace may touch (default: ["**"]).
	FileGlobs []string `mapstructure:"file_globs"`
	// SecretGrants maps command ids to the secret names they may read.
	// Commands without a grant are denied by policy.
	SecretGrants map[string][]string `mapstructure:"secret_grants"`
}

// DaemonConfig controls the long-running daemon.
type DaemonConfig struct {
	// Watch enables the script store watcher (default: true).
	Watch bool `mapstructure:"watch"`
	// MetricsAddr is the listen address for /metrics and /healthz.
	// Empty disables the listener (default: empty).
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ReadyTimeout returns the ready timeout as a duration.
func (c SupervisorConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// CallTimeout returns the bridge call budget as a duration.
func (c BridgeConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// Default returns a Config populated with defaults.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	sandboxDir := filepath.Join(home, ".scriptbox")

	return &Config{
		Paths: PathsConfig{
			SandboxDir: sandboxDir,
			ScriptsDir: filepath.Join(sandboxDir, "scripts"),
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Supervisor: SupervisorConfig{
			ReadyTimeoutMs: 10000,
			MaxScriptBytes: 1 << 20,
		},
		Mailbox: MailboxConfig{
			QueueCap: 256,
		},
		Bridge: BridgeConfig{
			CallTimeoutMs: 10000,
			MaxValueBytes: 64 << 10,
			FileGlobs:     []string{"**"},
		},
		Daemon: DaemonConfig{
			Watch: true,
		},
	}
}

// Load reads configuration from the given file (or the default search
// paths when path is empty), applies defaults, env overrides, and
// validation.
func Load(path string) (*Config, error) {
	v := viper.New()

	cfg := Default()
	v.SetDefault("paths.sandbox_dir", cfg.Paths.SandboxDir)
	v.SetDefault("paths.scripts_dir", cfg.Paths.ScriptsDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.to_stderr", cfg.Logging.ToStderr)
	v.SetDefault("supervisor.ready_timeout_ms", cfg.Supervisor.ReadyTimeoutMs)
	v.SetDefault("supervisor.max_script_bytes", cfg.Supervisor.MaxScriptBytes)
	v.SetDefault("mailbox.queue_cap", cfg.Mailbox.QueueCap)
	v.SetDefault("bridge.call_timeout_ms", cfg.Bridge.CallTimeoutMs)
	v.SetDefault("bridge.max_value_bytes", cfg.Bridge.MaxValueBytes)
	v.SetDefault("bridge.file_globs", cfg.Bridge.FileGlobs)
	v.SetDefault("daemon.watch", cfg.Daemon.Watch)
	v.SetDefault("daemon.metrics_addr", cfg.Daemon.MetricsAddr)

	v.SetEnvPrefix("SCRIPTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("scriptbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(cfg.Paths.SandboxDir)
		v.AddConfigPath(".")
		// A missing config file is fine; defaults apply.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !asConfigFileNotFound(err, &notFound) {
				return nil, err
			}
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	// scripts_dir defaults relative to a user-supplied sandbox_dir.
	if out.Paths.ScriptsDir == cfg.Paths.ScriptsDir && out.Paths.SandboxDir != cfg.Paths.SandboxDir {
		out.Paths.ScriptsDir = filepath.Join(out.Paths.SandboxDir, "scripts")
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// asConfigFileNotFound reports whether err is viper's not-found error.
func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
