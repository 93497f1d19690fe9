package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered scripts",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := buildApp(true)
	if err != nil {
		return err
	}
	defer app.close()

	metas := app.store.List()
	if len(metas) == 0 {
		fmt.Println("no scripts registered")
		return nil
	}

	for _, m := range metas {
		sc, _ := app.store.Get(m.ID)
		flags := ""
		if sc.RunAtStartup {
			flags += " [startup]"
		}
		if sc.Disabled {
			flags += " [disabled]"
		}
		fmt.Printf("%-24s %s%s\n", m.ID, m.DisplayText, flags)
		if m.DisplayTooltip != "" {
			fmt.Printf("%-24s %s\n", "", m.DisplayTooltip)
		}
	}
	return nil
}
