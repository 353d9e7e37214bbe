package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
)

func newConversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and delete stored conversations",
	}

	cmd.AddCommand(newConversationsListCmd(a), newConversationsDeleteCmd(a))
	return cmd
}

func newConversationsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.relay(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer r.Close()

			summaries, err := r.Conversations().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, s.Updated.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newConversationsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.relay(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer r.Close()

			ok, err := r.Conversations().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("conversation %s: %w", args[0], core.ErrConversationNotFound)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}
