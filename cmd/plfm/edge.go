package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plfm/plfm/pkg/client"
	"github.com/plfm/plfm/pkg/config"
	"github.com/plfm/plfm/pkg/edgesync"
	"github.com/plfm/plfm/pkg/ingress"
	"github.com/plfm/plfm/pkg/log"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Run an edge: L4 ingress proxy plus routing state sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cfg.ControlPlaneURL == "" {
			return fmt.Errorf("PLFM_CONTROL_PLANE_URL is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := log.WithComponent("edge")

		table := ingress.NewRouteTable()
		source := client.New(cfg.ControlPlaneURL, cfg.APIToken)
		syncer := edgesync.NewSyncer(source, table, cfg.EdgeStatePath)

		// Serve from the last persisted state while the control plane
		// is unreachable
		if err := syncer.Restore(); err != nil {
			logger.Warn().Err(err).Msg("state restore failed, starting cold")
		}
		go syncer.Run(ctx)

		proxy := ingress.NewProxy(table)
		errCh := make(chan error, len(cfg.IngressPorts))
		for _, port := range cfg.IngressPorts {
			port := port
			go func() {
				logger.Info().Int("port", port).Msg("ingress listening")
				errCh <- proxy.ListenAndServe(ctx, port)
			}()
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	},
}
