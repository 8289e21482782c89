package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/yanivian/connect-app-sub000/internal/account"
	"github.com/yanivian/connect-app-sub000/internal/api"
	"github.com/yanivian/connect-app-sub000/internal/config"
	"github.com/yanivian/connect-app-sub000/internal/model"
	"github.com/yanivian/connect-app-sub000/internal/push"
)

func stateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the reconciled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.GetState(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					conns := resp.State.Connections
					fmt.Fprintf(w, "User:        %s\n", resp.UserID)
					fmt.Fprintf(w, "App state:   %s\n", resp.AppState)
					fmt.Fprintf(w, "Queued push: %d\n", resp.QueueDepth)
					fmt.Fprintf(w, "Connections: %d (incoming %d, outgoing %d, invites %d)\n",
						len(conns.Connections), len(conns.Incoming), len(conns.Outgoing), len(conns.Invites))
					fmt.Fprintf(w, "Contacts:    %d\n", len(resp.State.Contacts.Users))
					fmt.Fprintf(w, "Chats:       %d\n", len(resp.Gists))
					for _, gist := range resp.Gists {
						printGist(w, gist)
					}
				})
			})
		},
	}
}

func printGist(w io.Writer, gist model.Gist) {
	line := "  " + gist.ChatID
	if m := gist.LatestMessage; m != nil {
		unread := ""
		if m.MessageID > gist.LastSeenMessageID {
			unread = " *"
		}
		line += fmt.Sprintf("  #%d %s: %s%s", m.MessageID, m.SenderID, m.Text, unread)
	}
	if len(gist.TypingUserIDs) > 0 {
		line += "  (typing: " + strings.Join(gist.TypingUserIDs, ", ") + ")"
	}
	fmt.Fprintln(w, line)
}

func appStateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app-state",
		Short: "Get or set the host app lifecycle state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the current lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.GetAppState(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) { fmt.Fprintln(w, resp.State) })
			})
		},
	}, &cobra.Command{
		Use:       "set <active|inactive|background>",
		Short:     "Report a lifecycle transition",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"active", "inactive", "background"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SetAppState(ctx, args[0])
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) { fmt.Fprintln(w, resp.State) })
			})
		},
	})
	return cmd
}

func pushCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Inject push payloads",
	}
	var file string
	deliver := &cobra.Command{
		Use:   "deliver",
		Short: "Deliver a remote message read as JSON from --file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := readRemoteMessage(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.DeliverPush(ctx, msg)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					if resp.Queued {
						fmt.Fprintf(w, "%s queued for replay\n", msg.MessageID)
					} else {
						fmt.Fprintf(w, "%s applied\n", msg.MessageID)
					}
				})
			})
		},
	}
	deliver.Flags().StringVarP(&file, "file", "f", "-", "JSON file with the remote message (- for stdin)")
	cmd.AddCommand(deliver)
	return cmd
}

func readRemoteMessage(stdin io.Reader, file string) (push.RemoteMessage, error) {
	var msg push.RemoteMessage
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return msg, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return msg, fmt.Errorf("decode remote message: %w", err)
	}
	if msg.MessageID == "" {
		return msg, errors.New("remote message has no messageId")
	}
	return msg, nil
}

func connectCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Manage connections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <user-id>",
		Short: "Send or accept a connection request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.AddConnection(ctx, args[0])
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					if resp.IsConnected {
						fmt.Fprintf(w, "connected to %s\n", resp.User.UserID)
					} else {
						fmt.Fprintf(w, "request sent to %s\n", resp.User.UserID)
					}
				})
			})
		},
	})
	return cmd
}

func inviteCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage phone invites",
	}
	var req api.CreateInviteRequest
	create := &cobra.Command{
		Use:   "create <phone-number>",
		Short: "Invite a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.PhoneNumber = args[0]
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.CreateInvite(ctx, &req)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					fmt.Fprintf(w, "invite %s created for %s\n", resp.Invite.InviteID, resp.Invite.PhoneNumber)
				})
			})
		},
	}
	create.Flags().StringVar(&req.Name, "name", "", "invitee name")
	create.Flags().StringVar(&req.Label, "label", "", "phone label")

	cmd.AddCommand(create, &cobra.Command{
		Use:   "delete <invite-id>",
		Short: "Withdraw an invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				if err := c.DeleteInvite(ctx, args[0]); err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "invite %s deleted\n", args[0])
				})
			})
		},
	})
	return cmd
}

func refreshCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refetch snapshots from the backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "connections",
		Short: "Refetch the connections snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.RefreshConnections(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					for _, u := range resp.Connections.Connections {
						fmt.Fprintf(w, "%s\t%s\n", u.UserID, u.Name)
					}
				})
			})
		},
	}, &cobra.Command{
		Use:   "chat <chat-id>",
		Short: "Refetch one chat with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.RefreshChat(ctx, args[0])
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					for _, m := range resp.Chat.Messages {
						ts := time.UnixMilli(m.CreatedTimestampMillis).Format(time.DateTime)
						fmt.Fprintf(w, "#%d %s %s: %s\n", m.MessageID, ts, m.SenderID, m.Text)
					}
				})
			})
		},
	})
	return cmd
}

func contactsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Device contacts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Resolve the address book against the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SyncContacts(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					if !resp.Synced {
						fmt.Fprintln(w, "address book unavailable, nothing synced")
						return
					}
					fmt.Fprintf(w, "%d contacts on connect\n", len(resp.Contacts.Users))
				})
			})
		},
	})
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text>...",
		Short: "Queue a chat message for delivery",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendMessage(ctx, args[0], text)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
					fmt.Fprintf(w, "queued %s\n", resp.ClientMessageID)
				})
			})
		},
	}
}

func draftCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "draft <chat-id> [text]...",
		Short: "Set or clear the unsent draft of a chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := strings.Join(args[1:], " ")
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				if err := c.SetDraft(ctx, args[0], draft); err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), map[string]string{"chatId": args[0], "draft": draft}, func(w io.Writer) {
					if draft == "" {
						fmt.Fprintf(w, "draft cleared for %s\n", args[0])
						return
					}
					fmt.Fprintf(w, "draft saved for %s\n", args[0])
				})
			})
		},
	}
}

func profileCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the signed-in profile",
	}
	printProfile := func(w io.Writer, resp *api.ProfileResponse) {
		if !resp.Found {
			fmt.Fprintln(w, "not signed in yet")
			return
		}
		p := resp.Profile
		fmt.Fprintf(w, "%s  %s  %s\n", p.UserID, p.Name, p.PhoneNumber)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the cached profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.GetProfile(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) { printProfile(w, resp) })
			})
		},
	})

	var name, email, photo string
	update := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := profileUpdate(name, email, photo)
			if err != nil {
				return err
			}
			return g.withClient(func(ctx context.Context, c *api.Client) error {
				resp, err := c.UpdateProfile(ctx, req)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), resp, func(w io.Writer) { printProfile(w, resp) })
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "display name")
	update.Flags().StringVar(&email, "email", "", "email address")
	update.Flags().StringVar(&photo, "photo", "", "image file to upload as the profile photo")
	cmd.AddCommand(update)
	return cmd
}

func profileUpdate(name, email, photo string) (*api.UpdateProfileRequest, error) {
	req := &api.UpdateProfileRequest{Name: name, EmailAddress: email}
	if photo != "" {
		data, err := os.ReadFile(photo)
		if err != nil {
			return nil, fmt.Errorf("read photo: %w", err)
		}
		req.Photo = data
		req.PhotoFilename = filepath.Base(photo)
	}
	if req.Name == "" && req.EmailAddress == "" && len(req.Photo) == 0 {
		return nil, errors.New("nothing to update: pass --name, --email or --photo")
	}
	return req, nil
}

func watchCmd(g *globals) *cobra.Command {
	var prefixes []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = c.WatchState(ctx, prefixes, func(evt *api.Event) error {
				if g.json {
					return json.NewEncoder(out).Encode(evt)
				}
				ts := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
				_, err := fmt.Fprintf(out, "%s %-28s %s\n", ts, evt.Kind, evt.Payload)
				return err
			})
			if ctx.Err() != nil || grpcstatus.Code(err) == codes.Canceled {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&prefixes, "prefix", nil, "event kind prefixes (default state. and app.)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Edit ~/.connect/config.toml",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-default-user <user-id>",
		Short: "Select the user used when --user is omitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := account.ValidateUserID(args[0]); err != nil {
				return err
			}
			cfg, err := account.LoadConfig()
			if err != nil {
				return err
			}
			cfg.DefaultUser = args[0]
			if err := config.Save(account.ConfigPath(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default user set to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
