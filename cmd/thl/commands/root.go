// Package commands implements the thl command line tool for inspecting and
// maintaining a transaction history log directory.
package commands

import (
	"github.com/henricavalcante/tungsten-replicator-sub005/cmd/thl/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile    string
	logDir     string
	noChecksum bool
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "thl",
	Short: "THL - transaction history log tool",
	Long: `thl inspects and maintains a transaction history log: the ordered,
durable, segmented record of replicated transactions.

The log directory comes from --dir, THL_LOG_DIRECTORY, or log.directory in
the configuration file. Inspection commands open the log read-only and are
safe to run next to a live writer.

Use "thl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/thl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logDir, "dir", "d", "", "log directory (overrides log.directory)")
	rootCmd.PersistentFlags().BoolVar(&noChecksum, "no-checksum", false, "skip checksum verification on read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
