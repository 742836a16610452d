package config

import (
	"fmt"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a thl configuration file filled with the defaults.

By default, the configuration file is created at $XDG_CONFIG_HOME/thl/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  thl config init

  # Initialize with custom path
  thl config init --config /etc/thl/config.yaml

  # Force overwrite existing config
  thl config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set log.directory to the log you want to inspect")
	_, _ = fmt.Fprintln(out, "  2. Run: thl info")
	return nil
}
