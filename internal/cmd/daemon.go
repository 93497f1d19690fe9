package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/instance"
	"github.com/scriptbox/scriptbox/internal/logging"
	"github.com/scriptbox/scriptbox/internal/script"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the supervisor as a long-lived process",
	Long: `Run startup scripts, watch the script store for changes (replacing,
removing, or disabling instances to match), and optionally serve
Prometheus metrics.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	app, err := buildApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := app.logger.WithComponent("daemon")

	if addr := app.cfg.Daemon.MetricsAddr; addr != "" {
		server := metricsServer(app, addr)
		go func() {
			logger.Info("metrics listener started", "addr", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	startStartupScripts(ctx, app, logger)

	if app.cfg.Daemon.Watch {
		go func() {
			if err := app.store.Watch(ctx, func(ch script.Change) {
				applyScriptChange(ctx, app, ch)
			}); err != nil && ctx.Err() == nil {
				logger.Error("store watcher failed", "error", err.Error())
			}
		}()
	}

	logger.Info("daemon running",
		"scripts", len(app.store.List()),
		"watch", app.cfg.Daemon.Watch)

	<-ctx.Done()
	logger.Info("daemon shutting down")
	return nil
}

// startStartupScripts launches every enabled run_at_startup script with
// background origin. One failing script never blocks the others.
func startStartupScripts(ctx context.Context, app *app, logger *logging.Logger) {
	for _, id := range app.store.StartupScripts() {
		source, err := app.store.Source(id)
		if err != nil {
			logger.Warn("startup script unreadable", "command_id", id, "error", err.Error())
			continue
		}
		if _, err := app.sup.Create(ctx, id, source, instance.OriginBackground); err != nil {
			logger.Warn("startup script failed to start", "command_id", id, "error", err.Error())
			continue
		}
		logger.Info("startup script launched", "command_id", id)
	}
}

// applyScriptChange maps a store observation onto the running world:
// updated sources replace their instance, removed scripts abort theirs,
// disabled scripts abort with the matching reason.
func applyScriptChange(ctx context.Context, app *app, ch script.Change) {
	app.events.Publish(event.NewScriptChangedEvent(ch.ID, string(ch.Kind)))

	switch ch.Kind {
	case script.ChangeUpdated:
		if !app.sup.IsRunning(ch.ID) {
			return
		}
		source, err := app.store.Source(ch.ID)
		if err != nil {
			app.sup.Abort(ch.ID, instance.AbortReason{Type: instance.ReasonRemoved, Detail: "source unreadable"})
			return
		}
		_, _ = app.sup.Create(ctx, ch.ID, source, instance.OriginBackground)
	case script.ChangeRemoved:
		app.sup.Abort(ch.ID, instance.AbortReason{Type: instance.ReasonRemoved})
	case script.ChangeDisabled:
		app.sup.Abort(ch.ID, instance.AbortReason{Type: instance.ReasonDisabled})
	}
}

// metricsServer builds the HTTP server exposing /metrics and /healthz.
func metricsServer(app *app, addr string) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", app.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
