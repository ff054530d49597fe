// Package configcmder provides the config command for managing persistent
// wsrelay configuration stored in the .wsrelay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent wsrelay configuration.

Configuration is stored as config.toml in the .wsrelay/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  server.listen, server.path,
  relay.stall_grace, relay.poll_interval, relay.max_tokens,
  relay.delivery_timeout, relay.upstream_timeout,
  upstream.flavor, upstream.base_url,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  metrics.disabled, metrics.path,
  client.target

Use subcommands to get, set, or list configuration values:
  wsrelay config set <key> <value>    Set a configuration value
  wsrelay config get <key>            Get a configuration value
  wsrelay config list                 List all configuration values

Examples:
  wsrelay config set upstream.base_url https://api.openai.com
  wsrelay config set relay.stall_grace 12s
  wsrelay config get relay.max_tokens
  wsrelay config list`

const configShortDesc string = "Manage persistent wsrelay configuration"

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
