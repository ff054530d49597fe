package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/wsrelay/pkg/cliui"
	"github.com/papercomputeco/wsrelay/pkg/config"
)

const getLongDesc string = `Print one relay setting.

Shows the value "wsrelay serve" or "wsrelay chat" would start with when no
flag overrides it, and whether it comes from config.toml or the built-in
default.

Examples:
  wsrelay config get relay.stall_grace
  wsrelay config get upstream.base_url`

const getShortDesc string = "Print one relay setting"

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: getShortDesc,
		Long:  getLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runGet(cmd.OutOrStdout(), args[0], configDir)
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	return cmd
}

func runGet(out io.Writer, key, configDir string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q (valid: %s)",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := lookup(cfger, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", cliui.KeyStyle.Render(key), s.render())
	return nil
}

// setting is one key's effective value and where it came from.
type setting struct {
	value    string
	fromFile bool
}

func lookup(cfger *config.Configer, key string) (setting, error) {
	value, err := cfger.GetConfigValue(key)
	if err != nil {
		return setting{}, err
	}
	def, err := config.DefaultConfigValue(key)
	if err != nil {
		return setting{}, err
	}
	return setting{value: value, fromFile: value != def}, nil
}

func (s setting) render() string {
	switch {
	case s.value == "":
		return cliui.DimStyle.Render("<not set>")
	case s.fromFile:
		return cliui.ValueStyle.Render(s.value)
	default:
		return cliui.ValueStyle.Render(s.value) + " " + cliui.DimStyle.Render("(default)")
	}
}
