package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogColor   bool
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "mirrortap",
		Short: "Analytics traffic mirroring and verification for mobile UI tests",
		Long: "mirrortap intercepts analytics HTTP traffic emitted by an app-under-test,\n" +
			"mirrors matching batches to a local collector, and lets tests assert that\n" +
			"expected events arrived.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "path to TOML config file (env MIRRORTAP_* overrides apply)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&flags.LogColor, "log-color", false, "colorize log output")

	root.AddCommand(
		createServeCommand(flags),
		createProxyCommand(flags),
	)
	return root
}
