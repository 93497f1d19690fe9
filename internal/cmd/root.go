package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "Sandbox supervisor for command-triggered scripts",
	Long: `Scriptbox attaches small JavaScript scripts to named commands and runs
each script in its own isolated instance: private globals, tracked
timers, a message mailbox, and host capabilities behind a policy
bridge.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.scriptbox/scriptbox.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}
