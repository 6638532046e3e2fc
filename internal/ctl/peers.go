package ctl

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/gophpaste/internal/control"
	"github.com/spf13/cobra"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (a *app) peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				peers, err := api.ListPeers(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(peers))
				for _, p := range peers {
					name := p.DeviceName
					if p.NoteName != "" {
						name = p.NoteName + " (" + p.DeviceName + ")"
					}
					addr := ""
					if p.Host != "" {
						addr = p.Host + ":" + strconv.Itoa(p.Port)
					}
					rows = append(rows, []string{p.AppInstanceID, name, p.Platform, p.State, addr, yesNo(p.AllowSend), yesNo(p.AllowReceive)})
				}
				renderTable(cmd.OutOrStdout(), []string{"ID", "Device", "Platform", "State", "Address", "Send", "Receive"}, rows)
				return nil
			})
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <peer>",
		Short: "Ask a device to show a pairing token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				if err := api.ToVerify(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is showing a token; run 'gophpastectl pair %s' with it\n", args[0], args[0])
				return nil
			})
		},
	}
}

func (a *app) tokensCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Show pending verifications and the tokens this device displays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				list, err := api.GetToken(ctx, wait)
				if err != nil {
					return err
				}
				renderTable(cmd.OutOrStdout(), []string{"ID", "Device", "Token"}, verifyRows(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the queue changes")
	return cmd
}

func verifyRows(list []control.VerifyInfo) [][]string {
	rows := make([][]string, 0, len(list))
	for _, v := range list {
		token := "enter the token shown on the device"
		if v.Shown {
			token = fmt.Sprintf("%06d", v.Token)
		}
		rows = append(rows, []string{v.AppInstanceID, v.DeviceName, token})
	}
	return rows
}

// tokenCmd builds pair and trust, which both take a peer and a token.
func (a *app) tokenCmd(use, short string, call func(API, context.Context, string, int) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer> [token]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 2 {
				raw = args[1]
			} else {
				var err error
				if raw, err = readToken(a.in, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			token, err := parseToken(raw)
			if err != nil {
				return err
			}
			return a.call(cmd, func(ctx context.Context, api API) error {
				if err := call(api, ctx, args[0], token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], done)
				return nil
			})
		},
	}
}

func (a *app) pairCmd() *cobra.Command {
	return a.tokenCmd("pair", "Pair with a device using the token it shows", API.Pair, "paired, confirm with 'trust' on the other device")
}

func (a *app) trustCmd() *cobra.Command {
	return a.tokenCmd("trust", "Confirm a pairing with the token this device shows", API.Trust, "trusted")
}

// peerCmd builds a command that runs call on a single peer.
func (a *app) peerCmd(use, short string, call func(API, context.Context, string) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				if err := call(api, ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], done)
				return nil
			})
		},
	}
}

func (a *app) ignoreCmd() *cobra.Command {
	return a.peerCmd("ignore", "Dismiss a pending verification", API.Ignore, "ignored")
}

func (a *app) removeCmd() *cobra.Command {
	return a.peerCmd("remove", "Forget a device and its trust", API.RemovePeer, "removed")
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <peer>",
		Short: "Refresh the connection state of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				state, err := api.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
				return nil
			})
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	var send, receive bool
	var name string
	cmd := &cobra.Command{
		Use:   "set <peer>",
		Short: "Change what is synced with a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := control.UpdatePeerRequest{AppInstanceID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("send") {
				req.AllowSend = &send
			}
			if flags.Changed("receive") {
				req.AllowReceive = &receive
			}
			if flags.Changed("name") {
				req.NoteName = &name
			}
			if req.AllowSend == nil && req.AllowReceive == nil && req.NoteName == nil {
				return fmt.Errorf("set at least one of --send, --receive, --name")
			}
			return a.call(cmd, func(ctx context.Context, api API) error {
				if err := api.UpdatePeer(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&send, "send", true, "send local pastes to the device")
	cmd.Flags().BoolVar(&receive, "receive", true, "accept pastes from the device")
	cmd.Flags().StringVar(&name, "name", "", "local note name for the device")
	return cmd
}
