// Command wabotctl drives a running wabot from the shell: it reads a session's
// status and QR code, sends messages and starts or stops sessions.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	url     string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "wabotctl",
		Short:         "Client for the wabot control and admin APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.url, "url", envOr("WABOT_URL", "http://localhost:8001"), "control port (or admin API) base URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("WABOT_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newStatusCmd(g),
		newQRCmd(g),
		newSendCmd(g),
		newSendMediaCmd(g),
		newSessionsCmd(g),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globalFlags) client(cmd *cobra.Command) (*Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	return NewClient(g.url, g.token), ctx, cancel
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newQRCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Print the pending QR code, or write it as PNG with --out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			qr, err := c.QR(ctx)
			if err != nil {
				return err
			}
			if qr == "" {
				return errors.New("QR code not available")
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), qr)
				return err
			}
			png, err := decodeDataURL(qr)
			if err != nil {
				return err
			}
			return os.WriteFile(out, png, 0o600)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the QR image to this file")
	return cmd
}

func decodeDataURL(v string) ([]byte, error) {
	_, payload, ok := strings.Cut(v, ";base64,")
	if !ok {
		return nil, errors.New("QR artifact is not a base64 data URL")
	}
	return base64.StdEncoding.DecodeString(payload)
}

func newSendCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <address> <body>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			receipt, err := c.SendMessage(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
}

func newSendMediaCmd(g *globalFlags) *cobra.Command {
	var caption string
	cmd := &cobra.Command{
		Use:   "send-media <address> <mediaUrl>",
		Short: "Send media fetched from a URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			receipt, err := c.SendMedia(ctx, args[0], args[1], caption)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	cmd.Flags().StringVar(&caption, "caption", "", "media caption")
	return cmd
}

func newSessionsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions through the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			list, err := c.Sessions(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	start := &cobra.Command{
		Use:   "start <sessionId>",
		Short: "Start a stopped session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			view, err := c.StartSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	stop := &cobra.Command{
		Use:   "stop <sessionId>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := g.client(cmd)
			defer cancel()
			return c.StopSession(ctx, args[0])
		},
	}
	cmd.AddCommand(start, stop)
	return cmd
}
