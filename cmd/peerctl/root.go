package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/config"
	"github.com/cory-johannsen/minigolf/internal/observability"
	"github.com/cory-johannsen/minigolf/internal/peerclient"
	"github.com/cory-johannsen/minigolf/internal/protocol"
)

type options struct {
	url      string
	envelope string
	verbose  bool
	timeout  time.Duration

	playerID string
	username string
	email    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "peerctl",
		Short: "Emulated game client for the minigolf host",
		Long: `peerctl connects to a minigolf host over WebSocket and speaks the client
protocol. Use it to announce identities, keep them alive with heartbeats,
fetch the map-set catalog, and watch host broadcasts.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", "ws://localhost:3536/minigolf", "host WebSocket URL")
	root.PersistentFlags().StringVar(&opts.envelope, "envelope", string(protocol.EnvelopeBinary), "frame envelope: binary or text")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "dial and reply timeout")
	root.PersistentFlags().StringVar(&opts.playerID, "id", "", "player id (default: a new UUID)")
	root.PersistentFlags().StringVar(&opts.username, "username", "peerctl", "player username")
	root.PersistentFlags().StringVar(&opts.email, "email", "peerctl@example.com", "player email")

	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newHeartbeatCmd(opts))
	root.AddCommand(newMapSetsCmd(opts))
	root.AddCommand(newListenCmd(opts))

	return root
}

func (o *options) id() string {
	if o.playerID == "" {
		o.playerID = uuid.NewString()
	}
	return o.playerID
}

func (o *options) logger() (*zap.Logger, error) {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return observability.NewLogger(config.LoggingConfig{Level: level, Format: "console"}, "peerctl")
}

// connect dials the host. The returned cleanup closes the client and flushes logs.
func (o *options) connect(ctx context.Context) (*peerclient.Client, func(), error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	codec, err := protocol.NewCodec(protocol.Envelope(o.envelope))
	if err != nil {
		return nil, nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	c, err := peerclient.Dial(dctx, o.url, codec, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		observability.Sync(logger)
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newInitCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Announce an identity and print the host's replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			c, cleanup, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Init(opts.id(), opts.username, opts.email); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "sent init for %s\n", opts.id())

			wctx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			return printUntilDone(wctx, c, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to print replies")
	return cmd
}

func newHeartbeatCmd(opts *options) *cobra.Command {
	var (
		interval  time.Duration
		count     int
		initFirst bool
	)
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send periodic heartbeats for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			c, cleanup, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if initFirst {
				if err := c.Init(opts.id(), opts.username, opts.email); err != nil {
					return err
				}
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for sent := 0; count <= 0 || sent < count; sent++ {
				if err := c.HeartBeat(opts.id()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "heartbeat %d for %s\n", sent+1, opts.id())
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "heartbeat interval")
	cmd.Flags().IntVar(&count, "count", 0, "heartbeats to send (0 = until interrupted)")
	cmd.Flags().BoolVar(&initFirst, "init", true, "announce the identity before the first heartbeat")
	return cmd
}

func newMapSetsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mapsets",
		Short: "Fetch the full map-set catalog as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			c, cleanup, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rctx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()
			sets, err := c.FullMapSets(rctx, opts.id())
			if err != nil {
				return fmt.Errorf("fetching map sets: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sets)
		},
	}
}

func newListenCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print every host message until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			c, cleanup, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			return printUntilDone(ctx, c, cmd.OutOrStdout())
		},
	}
}

// printUntilDone writes each inbound message as tuple text until ctx ends.
func printUntilDone(ctx context.Context, c *peerclient.Client, w io.Writer) error {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		text, err := protocol.Format(msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unformattable %s: %v\n", msg.Tag, err)
			continue
		}
		fmt.Fprintln(w, text)
	}
}
