// Package ctl implements the gophpastectl commands on top of the control
// API of a running daemon.
package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/control"
	"github.com/spf13/cobra"
)

// API is the control surface the commands use.
type API interface {
	ListPeers(ctx context.Context) ([]control.PeerInfo, error)
	GetToken(ctx context.Context, wait bool) ([]control.VerifyInfo, error)
	ToVerify(ctx context.Context, peerID string) error
	Pair(ctx context.Context, peerID string, token int) error
	Trust(ctx context.Context, peerID string, token int) error
	Ignore(ctx context.Context, peerID string) error
	RemovePeer(ctx context.Context, peerID string) error
	Resolve(ctx context.Context, peerID string) (string, error)
	UpdatePeer(ctx context.Context, req control.UpdatePeerRequest) error
	ListTasks(ctx context.Context, req control.ListTasksRequest) ([]control.TaskInfo, error)
	GetTask(ctx context.Context, id string) (*control.TaskInfo, error)
	RetryTask(ctx context.Context, id string) error
	AddText(ctx context.Context, text, source string) (*control.AddTextResponse, error)
	Close() error
}

// Options are the global flags.
type Options struct {
	Addr      string
	TokenFile string
	Timeout   time.Duration
}

// Dialer connects to the daemon described by o.
type Dialer func(o Options) (API, error)

// DialControl reads the token file and dials the control API.
func DialControl(o Options) (API, error) {
	token, err := control.ReadTokenFile(o.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token (is the daemon running?): %w", err)
	}
	return control.Dial(o.Addr, token)
}

type app struct {
	opts Options
	dial Dialer
	in   io.Reader
}

// call runs fn against a fresh connection with the command timeout applied.
func (a *app) call(cmd *cobra.Command, fn func(ctx context.Context, api API) error) error {
	api, err := a.dial(a.opts)
	if err != nil {
		return err
	}
	defer api.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	return fn(ctx, api)
}

func NewRootCmd(dial Dialer) *cobra.Command {
	a := &app{dial: dial}

	root := &cobra.Command{
		Use:           "gophpastectl",
		Short:         "Control a running gophpaste daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.in = cmd.InOrStdin()
		},
	}
	root.PersistentFlags().StringVar(&a.opts.Addr, "addr", "127.0.0.1:13131", "control API address")
	root.PersistentFlags().StringVar(&a.opts.TokenFile, "token-file", "gophpaste-data/control.token", "control token written by the daemon")
	root.PersistentFlags().DurationVar(&a.opts.Timeout, "timeout", 30*time.Second, "timeout of one command")

	root.AddCommand(
		a.peersCmd(),
		a.verifyCmd(),
		a.tokensCmd(),
		a.pairCmd(),
		a.trustCmd(),
		a.ignoreCmd(),
		a.removeCmd(),
		a.resolveCmd(),
		a.setCmd(),
		a.tasksCmd(),
		a.taskCmd(),
		a.retryCmd(),
		a.addCmd(),
	)
	return root
}
