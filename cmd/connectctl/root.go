package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanivian/connect-app-sub000/internal/account"
	"github.com/yanivian/connect-app-sub000/internal/api"
)

type globals struct {
	user    string
	socket  string
	json    bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "connectctl",
		Short:         "Control a running connectd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.user, "user", "", "user id (overrides config default_user)")
	root.PersistentFlags().StringVar(&g.socket, "socket", "", "daemon socket path (overrides the user's default)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		stateCmd(g),
		appStateCmd(g),
		pushCmd(g),
		connectCmd(g),
		inviteCmd(g),
		refreshCmd(g),
		contactsCmd(g),
		sendCmd(g),
		draftCmd(g),
		profileCmd(g),
		watchCmd(g),
		configCmd(),
	)
	return root
}

func (g *globals) socketPath() (string, error) {
	if g.socket != "" {
		return g.socket, nil
	}
	cfg, err := account.LoadConfig()
	if err != nil {
		return "", err
	}
	userID, err := account.Resolve(g.user, cfg)
	if err != nil {
		return "", err
	}
	return account.SocketPath(account.Dir(userID)), nil
}

func (g *globals) dial() (*api.Client, error) {
	path, err := g.socketPath()
	if err != nil {
		return nil, err
	}
	c, err := api.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", path, err)
	}
	return c, nil
}

// withClient dials the daemon and runs fn under the request timeout.
func (g *globals) withClient(fn func(ctx context.Context, c *api.Client) error) error {
	c, err := g.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}

// print writes v as indented JSON, or calls human when --json is not set.
func (g *globals) print(w io.Writer, v any, human func(io.Writer)) error {
	if g.json || human == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}
