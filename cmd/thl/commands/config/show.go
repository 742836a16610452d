package config

import (
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/cli/output"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective thl configuration: file, environment, and
defaults merged.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show config as YAML
  thl config show

  # Show as JSON
  thl config show --output json

  # Show the effect of an environment override
  THL_LOG_SEGMENT_SIZE=1GiB thl config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON, output.FormatJSONLines:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
