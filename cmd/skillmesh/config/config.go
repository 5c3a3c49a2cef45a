// Package configcmder provides the config command for managing persistent
// skillmesh configuration stored as config.toml.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent skillmesh configuration.

Configuration is stored as config.toml in the config directory and provides
default values for the server. Environment variables with the SKILLMESH_
prefix take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.provider, storage.sqlite_path, storage.postgres_dsn,
  embedding.provider, embedding.target, embedding.model,
  llm.provider, llm.model, learning.enabled, learning.passive,
  broker.provider, broker.brokers, mcp.listen, ...

Use subcommands to get, set, or list configuration values:
  skillmesh config set <key> <value>    Set a configuration value
  skillmesh config get <key>            Get a configuration value
  skillmesh config list                 List all configuration values

Examples:
  skillmesh config set storage.provider postgres
  skillmesh config set embedding.model nomic-embed-text
  skillmesh config get llm.provider
  skillmesh config list`

const configShortDesc string = "Manage persistent skillmesh configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
