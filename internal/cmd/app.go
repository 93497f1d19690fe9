package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/spf13/viper"

	"github.com/scriptbox/scriptbox/internal/bridge"
	"github.com/scriptbox/scriptbox/internal/config"
	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/gate"
	"github.com/scriptbox/scriptbox/internal/logging"
	"github.com/scriptbox/scriptbox/internal/mailbox"
	"github.com/scriptbox/scriptbox/internal/metrics"
	"github.com/scriptbox/scriptbox/internal/script"
	"github.com/scriptbox/scriptbox/internal/supervisor"
)

// secretEnvPrefix marks environment variables exposed through the
// secrets namespace, e.g. SCRIPTBOX_SECRET_API_TOKEN -> "api_token".
const secretEnvPrefix = "SCRIPTBOX_SECRET_"

// app wires the full stack a command needs.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *script.Store
	events  *event.Bus
	mail    *mailbox.Bus
	sup     *supervisor.Supervisor
	metrics *metrics.Metrics
}

// buildApp loads configuration and assembles the supervisor stack.
// logToStderr forces stderr logging regardless of config (used by
// commands whose stdout is the interface).
func buildApp(logToStderr bool) (*app, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	logDir := cfg.Paths.SandboxDir
	if logToStderr || cfg.Logging.ToStderr {
		logDir = ""
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	store := script.NewStore(cfg.Paths.ScriptsDir, cfg.Supervisor.MaxScriptBytes, logger)
	if err := store.Load(); err != nil {
		return nil, err
	}

	events := event.NewBus()
	mail := mailbox.NewBus(cfg.Mailbox.QueueCap, logger)

	br := bridge.New(
		bridge.WithCallTimeout(cfg.Bridge.CallTimeout()),
		bridge.WithLogger(logger),
	)
	br.Register("storage", bridge.StorageNamespace(cfg.Bridge.MaxValueBytes))
	filesNS, err := bridge.FilesNamespace(filepath.Join(cfg.Paths.SandboxDir, "files"), cfg.Bridge.FileGlobs)
	if err != nil {
		return nil, err
	}
	br.Register("files", filesNS)
	br.Register("secrets", bridge.SecretsNamespace(secretsFromEnv(), cfg.Bridge.SecretGrants))
	br.Register("ui", bridge.UINamespace(events))

	g := gate.New()
	g.RegisterBuiltin("log", logModule(logger))

	sup := supervisor.New(store,
		supervisor.WithLogger(logger),
		supervisor.WithEventBus(events),
		supervisor.WithBridge(br),
		supervisor.WithGate(g),
		supervisor.WithMailbox(mail),
		supervisor.WithReadyTimeout(cfg.Supervisor.ReadyTimeout()),
	)

	m := metrics.New(mail.QueuedTotal)
	m.Attach(events)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		events:  events,
		mail:    mail,
		sup:     sup,
		metrics: m,
	}, nil
}

// close tears the stack down in dependency order.
func (a *app) close() {
	a.sup.Close()
	_ = a.logger.Close()
}

// secretsFromEnv collects SCRIPTBOX_SECRET_* variables as named
// secrets. Names are lowercased: SCRIPTBOX_SECRET_API_TOKEN is granted
// and read as "api_token".
func secretsFromEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, secretEnvPrefix) {
			continue
		}
		rest := strings.TrimPrefix(kv, secretEnvPrefix)
		name, value, ok := strings.Cut(rest, "=")
		if !ok || name == "" {
			continue
		}
		out[strings.ToLower(name)] = value
	}
	return out
}

// logModule is the "log" builtin: structured logging from sandboxed
// code, tagged with the calling script's component.
func logModule(logger *logging.Logger) gate.ModuleLoader {
	return func(vm *goja.Runtime) (goja.Value, error) {
		scriptLogger := logger.WithComponent("script")

		level := func(log func(string, ...any)) func(goja.FunctionCall) goja.Value {
			return func(call goja.FunctionCall) goja.Value {
				parts := make([]string, 0, len(call.Arguments))
				for _, arg := range call.Arguments {
					parts = append(parts, arg.String())
				}
				log(strings.Join(parts, " "))
				return goja.Undefined()
			}
		}

		exports := vm.NewObject()
		if err := exports.Set("debug", level(scriptLogger.Debug)); err != nil {
			return nil, err
		}
		if err := exports.Set("info", level(scriptLogger.Info)); err != nil {
			return nil, err
		}
		if err := exports.Set("warn", level(scriptLogger.Warn)); err != nil {
			return nil, err
		}
		if err := exports.Set("error", level(scriptLogger.Error)); err != nil {
			return nil, err
		}
		return exports, nil
	}
}
