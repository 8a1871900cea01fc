package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/driftserve/drift/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing drift configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  drift config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/drift, $HOME/.drift)
  - Environment variables (DRIFT_SERVER_PORT, DRIFT_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the DRIFT_ prefix and underscores for nesting.
Example: session.idle_timeout -> DRIFT_SESSION_IDLE_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
