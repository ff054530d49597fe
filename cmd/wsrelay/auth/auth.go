// Package authcmder provides the auth command for storing upstream API keys.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/wsrelay/pkg/cliui"
	"github.com/papercomputeco/wsrelay/pkg/credentials"
	"github.com/papercomputeco/wsrelay/pkg/llm"
)

const authLongDesc string = `Store upstream API keys for "wsrelay chat".

Each relay flavor has one entry in credentials.toml in the .wsrelay/
directory. "wsrelay chat" sends the first key it finds from --api-key,
WSRELAY_API_KEY, the flavor's environment variable, then the stored entry.

  openai   Bearer auth against {base}/v1/chat/completions (OPENAI_API_KEY)
  apikey   API-Key header against the base URL as given, as Azure OpenAI
           deployments expect (AZURE_OPENAI_API_KEY). "azure" is an alias.

An entry may carry a base URL, used by chat when --base-url is not given.

Examples:
  wsrelay auth openai
  wsrelay auth azure --base-url https://res.openai.azure.com/openai/deployments/gpt/chat/completions?api-version=2024-06-01
  wsrelay auth --list
  wsrelay auth --remove openai
  echo $KEY | wsrelay auth openai`

const authShortDesc string = "Store upstream API keys per relay flavor"

type authCommander struct {
	list    bool
	remove  string
	baseURL string
}

func NewAuthCmd() *cobra.Command {
	cmder := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth [flavor]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			store, err := credentials.Open(configDir)
			if err != nil {
				return fmt.Errorf("opening credentials: %w", err)
			}
			out := cmd.OutOrStdout()

			switch {
			case cmder.list:
				return listStored(out, store)
			case cmder.remove != "":
				return removeStored(out, store, cmder.remove)
			case len(args) == 0:
				return fmt.Errorf("flavor argument required (supported: %s)", credentials.FlavorNames())
			default:
				return cmder.store(cmd.InOrStdin(), out, store, args[0])
			}
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			names := []string{"azure"}
			for _, f := range credentials.Flavors() {
				names = append(names, string(f))
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&cmder.list, "list", false, "List flavors with stored keys")
	cmd.Flags().StringVar(&cmder.remove, "remove", "", "Remove the stored entry for a flavor")
	cmd.Flags().StringVar(&cmder.baseURL, "base-url", "", "Upstream base URL to store with the key")

	return cmd
}

func (c *authCommander) store(in io.Reader, out io.Writer, store *credentials.Store, name string) error {
	flavor, err := credentials.ParseFlavor(name)
	if err != nil {
		return err
	}

	key, err := readAPIKey(in, out, flavor)
	if err != nil {
		return err
	}

	if err := store.Set(flavor, credentials.Credential{APIKey: key, BaseURL: c.baseURL}); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  %s Stored %s key %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(string(flavor)),
		cliui.DimStyle.Render("(overridden by $"+credentials.EnvVar(flavor)+")"),
	)
	if c.baseURL != "" {
		fmt.Fprintf(out, "    %s %s\n", cliui.DimStyle.Render("base url"), cliui.ValueStyle.Render(c.baseURL))
	}
	fmt.Fprintln(out)
	return nil
}

func listStored(out io.Writer, store *credentials.Store) error {
	flavors, err := store.Stored()
	if err != nil {
		return err
	}

	if len(flavors) == 0 {
		fmt.Fprintf(out, "\n  %s No stored credentials in %s\n", cliui.DimStyle.Render("●"), store.Path())
		fmt.Fprintf(out, "  Run 'wsrelay auth <flavor>' with one of: %s\n\n", credentials.FlavorNames())
		return nil
	}

	fmt.Fprintf(out, "\n  %s\n\n", cliui.KeyStyle.Render("Stored upstream keys"))
	for _, f := range flavors {
		cred, _, err := store.Get(f)
		if err != nil {
			return err
		}
		target := "relay default upstream"
		if cred.BaseURL != "" {
			target = cred.BaseURL
		}
		fmt.Fprintf(out, "  %s  %-7s %s  %s\n",
			cliui.SuccessMark,
			cliui.ValueStyle.Render(string(f)),
			cliui.DimStyle.Render("$"+credentials.EnvVar(f)),
			cliui.DimStyle.Render("→ "+target),
		)
	}
	fmt.Fprintln(out)
	return nil
}

func removeStored(out io.Writer, store *credentials.Store, name string) error {
	flavor, err := credentials.ParseFlavor(name)
	if err != nil {
		return err
	}

	removed, err := store.Remove(flavor)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(out, "\n  %s No stored %s key.\n\n", cliui.DimStyle.Render("●"), flavor)
		return nil
	}

	fmt.Fprintf(out, "\n  %s Removed %s key.\n\n", cliui.SuccessMark, cliui.KeyStyle.Render(string(flavor)))
	return nil
}

// readAPIKey reads an API key from in. A terminal gets a hidden prompt;
// anything else is read up to the first newline.
func readAPIKey(in io.Reader, out io.Writer, flavor llm.Flavor) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(out, "API key for %s upstream: ", flavor)

		keyBytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(keyBytes), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no API key on stdin")
}
