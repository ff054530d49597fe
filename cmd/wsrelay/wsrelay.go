// Package wsrelaycmder
package wsrelaycmder

import (
	"github.com/spf13/cobra"

	versioncmder "github.com/papercomputeco/wsrelay/cmd/version"
	authcmder "github.com/papercomputeco/wsrelay/cmd/wsrelay/auth"
	chatcmder "github.com/papercomputeco/wsrelay/cmd/wsrelay/chat"
	configcmder "github.com/papercomputeco/wsrelay/cmd/wsrelay/config"
	initcmder "github.com/papercomputeco/wsrelay/cmd/wsrelay/init"
	servecmder "github.com/papercomputeco/wsrelay/cmd/wsrelay/serve"
)

const wsrelayLongDesc string = `wsrelay streams LLM completions to websocket clients.

Clients connect over a websocket, send a chat request and receive the
completion as a sequence of small JSON envelopes, in order, ending with
exactly one finish reason.

Run the relay using:
  wsrelay serve        Run the relay server
  wsrelay chat         Chat through a running relay
  wsrelay config       Manage persistent configuration
  wsrelay auth         Store upstream API keys for chat`

const wsrelayShortDesc string = "wsrelay - streaming LLM websocket relay"

func NewWsrelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsrelay",
		Short: wsrelayShortDesc,
		Long:  wsrelayLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .wsrelay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
