package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/parley/internal/admin"
	"github.com/matheus3301/parley/internal/config"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type globalOpts struct {
	configPath string
	socketPath string
	jsonOut    bool
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:           "parleyctl",
		Short:         "Operate a running parleyd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.socketPath, "socket", "", "admin socket path (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newStatsCommand(opts),
		newPresenceCommand(opts),
		newGroupCommand(opts),
		newDirectCommand(opts),
		newHistoryCommand(opts),
		newWatchCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (o *globalOpts) dial() (*admin.Client, error) {
	socket := o.socketPath
	if socket == "" {
		cfg, err := config.Read(o.configPath)
		if err != nil {
			return nil, err
		}
		socket = cfg.SocketPath()
	}
	c, err := admin.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socket, err)
	}
	return c, nil
}

// withClient dials the daemon and runs fn under the request timeout.
func (o *globalOpts) withClient(fn func(context.Context, *admin.Client) error) error {
	c, err := o.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return fn(ctx, c)
}

func (o *globalOpts) print(msg proto.Message, plain func()) {
	if !o.jsonOut {
		plain()
		return
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
