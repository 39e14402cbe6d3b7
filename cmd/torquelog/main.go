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

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createScanCommand(globalFlags),
		createSessionsCommand(globalFlags),
		createCheckCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "torquelog",
		Short: "Torque vehicle log importer",
		Long: `Torquelog watches a folder of Torque CSV logs, imports every new file
as a session with its downsampled readings, and serves the result.

Examples:
  torquelog serve --config=torquelog.toml      # poll the folder and serve the API
  torquelog scan --config=torquelog.toml       # one sweep, then exit
  torquelog sessions list --config=torquelog.toml
  torquelog check trackLog-2017-Jul-18_15-37-42.csv --downsample=1s`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}
