// Package chatcmder provides the chat command for interactive LLM chat
// through a running relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/wsrelay/pkg/cliui"
	"github.com/papercomputeco/wsrelay/pkg/config"
	"github.com/papercomputeco/wsrelay/pkg/credentials"
	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/server"
)

const dialTimeout = 10 * time.Second

type chatCommander struct {
	target  string
	model   string
	apiKey  string
	baseURL string
	flavor  string
	system  string

	viper *viper.Viper
}

const chatLongDesc string = `Experimental: Start an interactive chat session through a running relay.

The chat command connects to the relay websocket, sends each message along
with the conversation so far, and prints the completion as it streams.

The upstream API key is read from --api-key, then WSRELAY_API_KEY, then
the flavor's environment variable, then the entry stored with "wsrelay auth".
When --base-url is empty the stored entry's base URL is used, and failing
that the relay's configured default upstream.

Examples:
  wsrelay chat --model gpt-4o-mini
  wsrelay chat --model llama3.2 --base-url http://localhost:11434
  wsrelay chat --target ws://relay.internal:8080/ws --model gpt-4o`

const chatShortDesc string = "Experimental: Interactive LLM chat through the relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagTarget})
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmder.apiKey == "" {
				cmder.apiKey = os.Getenv("WSRELAY_API_KEY")
			}
			configDir, _ := cmd.Flags().GetString("config-dir")
			if err := cmder.fillFromStore(configDir); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagTarget, &cmder.target)
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "gpt-4o-mini", "Model name")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "Upstream API key (default: $WSRELAY_API_KEY)")
	cmd.Flags().StringVarP(&cmder.baseURL, "base-url", "u", "", "Upstream base URL (default: relay's configured upstream)")
	cmd.Flags().StringVar(&cmder.flavor, "flavor", "", "Upstream flavor (openai, apikey)")
	cmd.Flags().StringVar(&cmder.system, "system", "", "Optional system prompt")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, in io.Reader, out io.Writer) error {
	target := c.target
	if c.viper != nil {
		target = c.viper.GetString("client.target")
	}

	flavor, err := llm.ParseFlavor(c.flavor)
	if err != nil {
		return err
	}

	var sess *session
	fmt.Fprintln(out)
	err = cliui.Step(out, "Connecting to "+target, func() error {
		var dialErr error
		sess, dialErr = dial(ctx, target)
		return dialErr
	})
	if err != nil {
		return err
	}
	defer sess.close()

	// Unblock a pending read when the user interrupts.
	stopClose := context.AfterFunc(ctx, sess.close)
	defer stopClose()

	cliui.Field(out, "Connection", sess.connectionID)
	cliui.Field(out, "Model", c.model)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	template := llm.RelayRequest{
		APIKey:  c.apiKey,
		BaseURL: c.baseURL,
		Flavor:  flavor,
		Model:   c.model,
	}

	var history []llm.Message
	if c.system != "" {
		history = append(history, llm.NewTextMessage("system", c.system))
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, cliui.PromptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		req := template
		req.Messages = append(append([]llm.Message{}, history...), llm.NewTextMessage("user", input))
		req.RequestID = uuid.NewString()

		fmt.Fprint(out, cliui.DimStyle.Render("assistant> "))
		reply, reason, err := sess.ask(&req, out)
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		note, ok := cliui.Outcome(reason)
		if ok {
			history = append(req.Messages, llm.NewTextMessage("assistant", reply))
		}
		// A failed turn stays out of the history so it can be retried.
		if note != "" {
			fmt.Fprintf(out, "  %s\n", note)
		}
		fmt.Fprintln(out)
	}

	return scanner.Err()
}

// fillFromStore completes the API key and base URL from "wsrelay auth"
// entries. Values already set by flags or WSRELAY_API_KEY are kept.
func (c *chatCommander) fillFromStore(configDir string) error {
	if c.apiKey != "" && c.baseURL != "" {
		return nil
	}
	flavor, err := llm.ParseFlavor(c.flavor)
	if err != nil {
		return err
	}

	store, err := credentials.Open(configDir)
	if err != nil {
		return fmt.Errorf("opening credentials: %w", err)
	}
	res, err := store.Resolve(flavor)
	if err != nil {
		return err
	}

	if c.apiKey == "" {
		c.apiKey = res.APIKey
	}
	if c.baseURL == "" {
		c.baseURL = res.BaseURL
	}
	return nil
}

// session is one websocket connection to the relay.
type session struct {
	conn         *fastws.Conn
	connectionID string
}

func dial(ctx context.Context, target string) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := fastws.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}

	var hello server.Hello
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reading relay hello: %w", err)
	}
	if hello.ConnectionID == "" {
		_ = conn.Close()
		return nil, errors.New("relay hello carried no connection ID")
	}

	return &session{conn: conn, connectionID: hello.ConnectionID}, nil
}

// ask sends req and streams the reply text to out until the envelope
// carrying a finish reason for req arrives. Envelopes for other requests are
// ignored.
func (s *session) ask(req *llm.RelayRequest, out io.Writer) (string, string, error) {
	if err := s.conn.WriteJSON(req); err != nil {
		return "", "", fmt.Errorf("sending request: %w", err)
	}

	var reply strings.Builder
	for {
		var env llm.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return reply.String(), "", fmt.Errorf("reading reply: %w", err)
		}
		if env.RequestID != req.RequestID {
			continue
		}

		if text := env.Delta.Content; text != "" {
			reply.WriteString(text)
			fmt.Fprint(out, text)
		}
		if reason := env.Reason(); reason != "" {
			return reply.String(), reason, nil
		}
	}
}

func (s *session) close() {
	_ = s.conn.Close()
}
