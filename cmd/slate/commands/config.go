package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/slatehq/slate/config"
	"github.com/slatehq/slate/errors"
)

// ConfigCmd groups configuration subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify the Slate configuration",
	Long: `Show the effective configuration, set individual values, or print
the path of the config file in use. Values set here are written to the
user config file (~/.slate/config.toml) with the previous file backed up.`,
}

var configFormat string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(); err != nil {
			return errors.Mark(err, ErrConfig)
		}
		settings := config.GetViper().AllSettings()

		var (
			data []byte
			err  error
		)
		switch configFormat {
		case "toml":
			data, err = toml.Marshal(settings)
		case "json":
			data, err = json.MarshalIndent(settings, "", "  ")
		case "yaml":
			data, err = yaml.Marshal(settings)
		default:
			return errors.Mark(errors.Newf("unknown format %q (want toml, json, or yaml)", configFormat), ErrConfig)
		}
		if err != nil {
			return errors.Wrap(err, "encoding configuration")
		}

		fmt.Println(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a dotted configuration key and persist it to the user config file.

Examples:
  slate config set executor.max_retries 5
  slate config set scheduler.timezone Europe/Berlin
  slate config set calendar.min_gap_hours 4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if _, err := config.Load(); err != nil {
			return errors.Mark(err, ErrConfig)
		}
		if err := config.SetValue(key, value); err != nil {
			return errors.Mark(err, ErrConfig)
		}
		pterm.Success.Printfln("Set %s = %s", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path of the config file in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(); err != nil {
			return errors.Mark(err, ErrConfig)
		}
		active := config.ActiveConfigPath()
		if active == "" {
			fmt.Println("(no config file; built-in defaults and environment only)")
			fmt.Fprintf(os.Stderr, "user config would be written to %s\n", config.UserConfigPath())
			return nil
		}
		fmt.Println(active)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, or yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configPathCmd)
}
