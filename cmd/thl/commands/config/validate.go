package config

import (
	"fmt"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the thl configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  thl config validate

  # Validate specific config file
  thl config validate --config /etc/thl/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Log.DisableChecksums {
		warnings = append(warnings, "log.disable_checksums is set - corrupt records will not be detected")
	}
	if cfg.Log.Checksum == "none" {
		warnings = append(warnings, "log.checksum is none - new records carry no checksum")
	}
	if cfg.Log.FlushInterval > 0 && cfg.Log.Visibility == "lax" {
		warnings = append(warnings, "lax visibility exposes fragments of transactions that are not yet complete")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Log directory:   %s\n", cfg.Log.Directory)
	_, _ = fmt.Fprintf(out, "  Segment size:    %s\n", cfg.Log.SegmentSize)
	_, _ = fmt.Fprintf(out, "  Checksum:        %s\n", cfg.Log.Checksum)
	_, _ = fmt.Fprintf(out, "  Retention:       %s\n", retention(cfg))
	_, _ = fmt.Fprintf(out, "  Archive:         %s\n", archive(cfg))
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

func retention(cfg *config.Config) string {
	if cfg.Log.Retention <= 0 {
		return "keep forever"
	}
	return cfg.Log.Retention.String()
}

func archive(cfg *config.Config) string {
	if !cfg.Archive.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
}
