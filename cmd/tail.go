package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

const tailSenderWidth = 16

func tailCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "tail <room>",
		Short: "Stream a room's live messages to the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := args[0]

			if server == "" {
				cfg, err := config.Load(resolveConfigPath())
				if err != nil {
					return err
				}
				host := cfg.Web.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				server = fmt.Sprintf("ws://%s:%d", host, cfg.Web.Port)
			}
			wsURL := fmt.Sprintf("%s/ws/%s", strings.TrimSuffix(server, "/"), url.PathEscape(room))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
			cancel()
			if err != nil {
				return fmt.Errorf("dial %s: %w", wsURL, err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			fmt.Fprintf(os.Stderr, "tailing %s (%s)\n", room, wsURL)

			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				}
				// The first frame is the bare "OK" subscription ack;
				// anything undecodable is skipped the same way.
				m, err := bus.Decode(data)
				if err != nil {
					continue
				}
				printTailMessage(m)
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "web server URL, e.g. ws://host:8000 (default: from config)")
	return cmd
}

// printTailMessage renders one message with the sender column padded to
// a fixed display width, so CJK nicks keep the columns aligned.
func printTailMessage(m *bus.Message) {
	sender := runewidth.FillRight(runewidth.Truncate(m.Sender, tailSenderWidth, "…"), tailSenderWidth)
	prefix := fmt.Sprintf("%s %s %s ", m.Time, runewidth.FillRight("["+m.Channel+"]", 10), sender)
	indent := strings.Repeat(" ", runewidth.StringWidth(prefix))

	for i, line := range strings.Split(m.Content, "\n") {
		if i == 0 {
			fmt.Println(prefix + line)
			continue
		}
		fmt.Println(indent + line)
	}
}
