package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/matheus3301/parley/internal/admin"
	"github.com/matheus3301/parley/internal/config"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newStatsCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show daemon status and counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				st, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				opts.print(st, func() {
					f := st.GetFields()
					fmt.Printf("Status:    %s\n", f["status"].GetStringValue())
					fmt.Printf("Uptime:    %.0fms\n", f["uptime_ms"].GetNumberValue())
					fmt.Printf("Online:    %.0f users, %.0f sessions\n", f["users_online"].GetNumberValue(), f["sessions"].GetNumberValue())
					fmt.Printf("Calls:     %.0f ringing, %.0f connected\n", f["calls_ringing"].GetNumberValue(), f["calls_connected"].GetNumberValue())
					fmt.Printf("Stored:    %.0f chats, %.0f messages\n", f["chats"].GetNumberValue(), f["messages"].GetNumberValue())
				})
				return nil
			})
		},
	}
}

func newPresenceCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "presence <user-id>",
		Short:   "Show whether a user is online",
		Args:    cobra.ExactArgs(1),
		Example: "  parleyctl presence alice",
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				p, err := c.GetPresence(ctx, args[0])
				if err != nil {
					return err
				}
				opts.print(p, func() {
					f := p.GetFields()
					state := "offline"
					if f["online"].GetBoolValue() {
						state = fmt.Sprintf("online (%.0f sessions)", f["sessions"].GetNumberValue())
					}
					fmt.Printf("%s: %s\n", args[0], state)
					if seen := f["last_seen"].GetStringValue(); seen != "" {
						fmt.Printf("last seen: %s\n", seen)
					}
				})
				return nil
			})
		},
	}
}

func newGroupCommand(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage group chats",
	}

	var name string
	create := &cobra.Command{
		Use:     "create <member>...",
		Short:   "Create a group chat",
		Args:    cobra.MinimumNArgs(1),
		Example: "  parleyctl group create --name team alice bob carol",
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				id, err := c.CreateGroup(ctx, name, args)
				if err != nil {
					return err
				}
				opts.print(wrapperspb.String(id), func() { fmt.Println(id) })
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "group display name")

	add := &cobra.Command{
		Use:   "add-member <chat-id> <user-id>",
		Short: "Add a user to a group chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				return c.AddMember(ctx, args[0], args[1])
			})
		},
	}

	cmd.AddCommand(create, add)
	return cmd
}

func newDirectCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "direct <user-a> <user-b>",
		Short: "Open (or look up) the direct chat between two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				id, err := c.OpenDirect(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				opts.print(wrapperspb.String(id), func() { fmt.Println(id) })
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *globalOpts) *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "List stored messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.withClient(func(ctx context.Context, c *admin.Client) error {
				out, err := c.ListMessages(ctx, args[0], after, limit)
				if err != nil {
					return err
				}
				opts.print(out, func() {
					for _, v := range out.GetFields()["messages"].GetListValue().GetValues() {
						m := v.GetStructValue().GetFields()
						fmt.Printf("#%-6.0f %s  %-12s %s\n",
							m["seq"].GetNumberValue(),
							m["created_at"].GetStringValue(),
							m["sender_id"].GetStringValue(),
							m["body"].GetStringValue())
					}
				})
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only messages with a sequence above this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to list")
	return cmd
}

func newWatchCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "watch [namespace]",
		Short:   "Stream internal events (presence., call., message., ...)",
		Args:    cobra.MaximumNArgs(1),
		Example: "  parleyctl watch call.",
		RunE: func(_ *cobra.Command, args []string) error {
			ns := ""
			if len(args) == 1 {
				ns = args[0]
			}
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			stream, err := c.WatchEvents(ctx, ns)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				if opts.jsonOut {
					outputJSON(evt.AsMap())
					continue
				}
				f := evt.GetFields()
				fmt.Printf("%s %-22s %v\n", f["ts"].GetStringValue(), f["kind"].GetStringValue(), f["payload"].AsInterface())
			}
		},
	}
}

func newConfigCommand(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage parleyd configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml with a fresh JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return err
			}
			cfg := config.Default()
			cfg.JWTSecret = hex.EncodeToString(secret)
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
