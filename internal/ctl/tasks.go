package ctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/control"
	"github.com/spf13/cobra"
)

func taskRow(t control.TaskInfo) []string {
	paste := ""
	if t.PasteID != 0 {
		paste = strconv.FormatInt(t.PasteID, 10)
	}
	return []string{t.ID, t.Type, paste, t.Status, strconv.Itoa(t.Attempts),
		t.ModifyTime.Local().Format(time.DateTime), t.LastMessage}
}

var taskHeader = []string{"ID", "Type", "Paste", "Status", "Attempts", "Modified", "Last message"}

func (a *app) tasksCmd() *cobra.Command {
	var req control.ListTasksRequest
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				list, err := api.ListTasks(ctx, req)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(list))
				for _, t := range list {
					rows = append(rows, taskRow(t))
				}
				renderTable(cmd.OutOrStdout(), taskHeader, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 50, "maximum number of tasks")
	cmd.Flags().Int64Var(&req.PasteID, "paste", 0, "only tasks of this paste")
	return cmd
}

func (a *app) taskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				t, err := api.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				renderTable(cmd.OutOrStdout(), taskHeader, [][]string{taskRow(*t)})
				if len(t.SyncFails) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "failed peers: %s\n", strings.Join(t.SyncFails, ", "))
				}
				return nil
			})
		},
	}
}

func (a *app) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Run a failed task again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				if err := api.RetryTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s queued\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "add <text...>",
		Short: "Add text to the clipboard history and sync it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, api API) error {
				resp, err := api.AddText(ctx, strings.Join(args, " "), source)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "paste %d added (%s)\n", resp.PasteID, resp.Type)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "application the text was copied in")
	return cmd
}
