package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/config"
)

var errMemoryDisabled = errors.New("memory is disabled in the configuration")

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Maintain long-term memory",
	}

	cmd.AddCommand(newMemoryCleanupCmd(a), newMemoryForgetCmd(a))
	return cmd
}

func newMemoryCleanupCmd(a *app) *cobra.Command {
	var months int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete memories older than the given number of months",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.relay(cmd.Context(), func(cfg *config.Config) {
				// Run the cleanup explicitly below.
				cfg.Memory.RetentionMonths = 0
			})
			if err != nil {
				return err
			}
			defer r.Close()

			if r.Memory() == nil {
				return errMemoryDisabled
			}

			n, err := r.Memory().CleanupOldMemories(cmd.Context(), months)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d memories older than %d months\n", n, months)
			return err
		},
	}

	cmd.Flags().IntVar(&months, "months", 6, "retention period in months (30 days each)")
	return cmd
}

func newMemoryForgetCmd(a *app) *cobra.Command {
	var agentName string

	cmd := &cobra.Command{
		Use:   "forget TOPIC",
		Short: "Forget every conversation related to a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.relay(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer r.Close()

			if r.Memory() == nil {
				return errMemoryDisabled
			}
			if agentName == "" {
				agentName = r.Registry().Active().Name()
			}

			topic := strings.Join(args, " ")
			n, err := r.Memory().ForgetTopic(cmd.Context(), topic, agentName)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "forgot %d memories about %q for %s\n", n, topic, agentName)
			return err
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "", "agent whose memories are searched (default: the active agent)")
	return cmd
}
