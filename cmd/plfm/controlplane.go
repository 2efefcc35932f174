package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/plfm/plfm/pkg/api"
	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/config"
	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/migrate"
	"github.com/plfm/plfm/pkg/nodeapi"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/projection"
	"github.com/plfm/plfm/pkg/scheduler"
	"github.com/plfm/plfm/pkg/secrets"
	"github.com/plfm/plfm/pkg/views"
)

var controlPlaneCmd = &cobra.Command{
	Use:   "controlplane",
	Short: "Run the control plane: API, projections, scheduler, node API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("PLFM_DATABASE_URL is required")
		}
		if len(cfg.SecretsMasterKey) == 0 {
			return fmt.Errorf("PLFM_SECRETS_MASTER_KEY is required")
		}

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrate.Run(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		logger := log.WithComponent("controlplane")

		events := eventlog.NewStore(db, eventlog.DefaultRegistry())
		vs := views.NewStore(db)
		hub := projection.NewCheckpointHub()
		sm, err := secrets.NewManager(cfg.SecretsMasterKey)
		if err != nil {
			return err
		}
		authn := auth.NewAuthenticator(db, cfg.AccessTokenCacheTTL, cfg.AccessTokenCacheMaxEntries)
		commands := command.NewService(cfg, events, vs, hub, sm)
		plans := plan.NewBuilder(vs, events)

		engine := projection.NewEngine(events, hub, projection.AllHandlers()...)
		go engine.Run(ctx)

		sched := scheduler.New(events, vs, commands, commands.InstanceAllocator(), cfg.SchedulerInterval)
		go sched.Run(ctx)

		// Node API (gRPC)
		grpcServer := grpc.NewServer()
		nodeapi.RegisterNodeAgentServer(grpcServer,
			nodeapi.NewServer(commands, plans, authn, sm, cfg.NodeEnrollToken))
		grpcLis, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCListenAddr, err)
		}
		go func() {
			logger.Info().Str("addr", cfg.GRPCListenAddr).Msg("node api listening")
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()

		// Metrics
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics listening")
			if err := http.ListenAndServe(cfg.MetricsListenAddr, metrics.Handler()); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()

		// HTTP API
		apiServer := api.NewServer(commands, plans, authn, cfg.NodeExecPort, cfg.NodeEnrollToken)
		httpServer := &http.Server{Addr: cfg.APIListenAddr, Handler: apiServer.Handler()}
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
			httpServer.Shutdown(context.Background())
		}()

		logger.Info().Str("addr", cfg.APIListenAddr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}
