package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plfm/plfm/pkg/agent"
	"github.com/plfm/plfm/pkg/config"
	"github.com/plfm/plfm/pkg/nodeapi"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the node agent: enroll, heartbeat, converge workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cfg.NodeAPIAddr == "" {
			return fmt.Errorf("PLFM_NODEAPI_ADDR is required")
		}
		if cfg.WireGuardPubKey == "" {
			return fmt.Errorf("PLFM_WIREGUARD_PUB_KEY is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cp, err := nodeapi.Dial(cfg.NodeAPIAddr)
		if err != nil {
			return err
		}
		defer cp.Close()

		store, err := agent.NewStore(cfg.AgentDataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		a := agent.New(agent.Config{
			DataDir:         cfg.AgentDataDir,
			SecretsDir:      cfg.SecretsDir,
			WireGuardPubKey: cfg.WireGuardPubKey,
			Arch:            cfg.NodeArch,
			CPUCores:        cfg.NodeCPUCores,
			MemoryBytes:     cfg.NodeMemoryBytes,
			EnrollToken:     cfg.NodeEnrollToken,
		}, cp, store, agent.NewProcessRuntime())

		if err := a.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
