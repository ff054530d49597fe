package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/wsrelay/pkg/cliui"
	"github.com/papercomputeco/wsrelay/pkg/config"
)

const listLongDesc string = `Print every relay setting, grouped by config.toml section.

Values equal to the built-in default are marked "(default)".

Examples:
  wsrelay config list
  wsrelay config list --config-dir /etc/wsrelay`

const listShortDesc string = "Print every relay setting"

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir)
		},
	}

	return cmd
}

func runList(out io.Writer, configDir string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(out, "%s\n", cliui.DimStyle.Render("# "+target))
	}

	section := ""
	for _, key := range config.ValidConfigKeys() {
		table, name, _ := strings.Cut(key, ".")
		if table != section {
			section = table
			fmt.Fprintf(out, "\n%s\n", cliui.KeyStyle.Render("["+table+"]"))
		}

		s, err := lookup(cfger, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-18s %s\n", name, s.render())
	}

	return nil
}
