// Package commands wires the slate CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/logger"
)

// Sentinel errors mapped to process exit codes in main.
var (
	// ErrConfig marks configuration load or validation failures (exit 1).
	ErrConfig = errors.New("configuration error")

	// ErrStore marks an unreachable or unmigratable store (exit 2).
	ErrStore = errors.New("store unavailable")
)

var (
	flagVerbose bool
	flagJSON    bool
)

// RootCmd is the slate command tree root.
var RootCmd = &cobra.Command{
	Use:   "slate",
	Short: "Slate - content production scheduler",
	Long: `Slate schedules and runs content production jobs: script generation,
video assembly, and upload, with calendar slot reservation and recurring
schedules.

Examples:
  slate server               # start the API server and scheduler
  slate jobs list            # list jobs via a running server
  slate config show          # print the effective configuration
  slate version              # show build information`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(flagVerbose, flagJSON); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Log in JSON format")

	RootCmd.AddCommand(ServerCmd)
	RootCmd.AddCommand(ConfigCmd)
	RootCmd.AddCommand(JobsCmd)
	RootCmd.AddCommand(VersionCmd)
}
