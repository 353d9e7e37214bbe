package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/config"
)

const configEnv = "AGENTRELAY_CONFIG"

type app struct {
	configPath string
	// build assembles the Relay for a loaded configuration.
	build func(ctx context.Context, cfg *config.Config) (*agentrelay.Relay, error)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithApp(&app{build: func(ctx context.Context, cfg *config.Config) (*agentrelay.Relay, error) {
		return agentrelay.FromConfig(ctx, cfg)
	}})
}

func newRootCmdWithApp(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Chat with a team of agents that hand work to each other",
		Long:          "agentrelay routes a conversation across specialized agents, asks before running tools and remembers earlier conversations.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (.yaml, .yml or .toml); defaults to $"+configEnv)

	rootCmd.AddCommand(
		newChatCmd(a),
		newMemoryCmd(a),
		newConversationsCmd(a),
	)

	return rootCmd
}

// loadConfig reads the configuration file named by --config or the
// environment, falling back to the defaults.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (a *app) relay(ctx context.Context, mutate func(cfg *config.Config)) (*agentrelay.Relay, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	return a.build(ctx, cfg)
}
