package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scriptbox/scriptbox/internal/script"
	"github.com/scriptbox/scriptbox/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the supervisor with a live dashboard",
	Long: `Run the daemon with a full-screen dashboard instead of log output:
a table of live instances above a scrolling feed of status events.
Startup scripts and the store watcher behave exactly as under daemon.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("monitor requires a terminal; use daemon for non-interactive runs")
	}

	app, err := buildApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := app.logger.WithComponent("monitor")
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

	return tui.Run(ctx, app.sup, app.events)
}
