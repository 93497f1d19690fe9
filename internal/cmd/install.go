package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scriptbox/scriptbox/internal/script"
)

var (
	installDisplay string
	installTooltip string
	installStartup bool
)

var installCmd = &cobra.Command{
	Use:   "install <command-id> <source-file> [<command-id> <source-file>...]",
	Short: "Install scripts into the store",
	Long: `Install one or more scripts as an atomic batch: every entry is
validated before anything is written, and a failing entry leaves the
store untouched.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expected <command-id> <source-file> pairs")
		}
		return nil
	},
	RunE: runInstall,
}

var removeCmd = &cobra.Command{
	Use:   "remove <command-id>",
	Short: "Remove a script from the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var disableCmd = &cobra.Command{
	Use:   "disable <command-id>",
	Short: "Disable a script without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(true),
}

var enableCmd = &cobra.Command{
	Use:   "enable <command-id>",
	Short: "Re-enable a disabled script",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(false),
}

func init() {
	installCmd.Flags().StringVar(&installDisplay, "display", "", "display text (defaults to the command id)")
	installCmd.Flags().StringVar(&installTooltip, "tooltip", "", "display tooltip")
	installCmd.Flags().BoolVar(&installStartup, "startup", false, "run the script when the daemon starts")
	rootCmd.AddCommand(installCmd, removeCmd, disableCmd, enableCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	app, err := buildApp(true)
	if err != nil {
		return err
	}
	defer app.close()

	installs := make([]script.Install, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		id, path := args[i], args[i+1]

		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		display := installDisplay
		if display == "" || len(args) > 2 {
			display = id
		}
		installs = append(installs, script.Install{
			Script: script.Script{
				ID:             id,
				DisplayText:    display,
				DisplayTooltip: installTooltip,
				SourceFile:     filepath.Base(path),
				RunAtStartup:   installStartup,
			},
			Source: string(source),
		})
	}

	if err := app.store.BulkInstall(installs); err != nil {
		return err
	}
	fmt.Printf("installed %d script(s)\n", len(installs))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	app, err := buildApp(true)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}

func setDisabled(disabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(true)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.store.SetDisabled(args[0], disabled); err != nil {
			return err
		}
		state := "enabled"
		if disabled {
			state = "disabled"
		}
		fmt.Printf("%s %s\n", state, args[0])
		return nil
	}
}
