package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/instance"
)

var runFile string

var runCmd = &cobra.Command{
	Use:   "run <command-id>",
	Short: "Run a script interactively",
	Long: `Run a registered script as a trusted interactive instance and stream
its status events until it stops or the run is interrupted. With
--file, run the given source under the command id without installing
it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "run this source file instead of the stored script")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	id := args[0]

	app, err := buildApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	source, err := runSource(app, id)
	if err != nil {
		return err
	}

	stopped := make(chan event.CommandStoppedEvent, 1)
	app.events.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.CommandReadyEvent:
			if ev.CommandID == id {
				fmt.Printf("%s ready\n", id)
			}
		case event.CommandFinishedEvent:
			if ev.CommandID == id && ev.Outcome == event.OutcomeFailed {
				fmt.Fprintf(os.Stderr, "%s failed: %s\n", id, ev.Error)
			}
		case event.UINoticeEvent:
			fmt.Printf("[%s] %s\n", ev.CommandID, ev.Text)
		case event.CommandStoppedEvent:
			if ev.CommandID == id {
				select {
				case stopped <- ev:
				default:
				}
			}
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	inst, err := app.sup.Create(ctx, id, source, instance.OriginTrusted)
	if err != nil {
		return err
	}
	if err := inst.WaitReady(ctx); err != nil {
		return err
	}

	select {
	case ev := <-stopped:
		fmt.Printf("%s stopped (%s)\n", id, ev.Reason)
	case <-ctx.Done():
		app.sup.Abort(id, instance.AbortReason{Type: instance.ReasonStopped, Detail: "interrupted"})
		fmt.Printf("%s stopped\n", id)
	}
	return nil
}

// runSource resolves what to execute: an ad-hoc file or the stored
// script.
func runSource(app *app, id string) (string, error) {
	if runFile != "" {
		data, err := os.ReadFile(runFile)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return app.store.Source(id)
}
