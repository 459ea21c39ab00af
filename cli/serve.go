package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/compozy/tasktree/engine/definition"
	"github.com/compozy/tasktree/engine/infra/monitoring"
	"github.com/compozy/tasktree/engine/infra/server"
	"github.com/compozy/tasktree/engine/infra/server/appstate"
	"github.com/compozy/tasktree/engine/infra/snapstore"
	"github.com/compozy/tasktree/engine/runner"
	"github.com/compozy/tasktree/pkg/config"
	"github.com/compozy/tasktree/pkg/logger"
)

const monitoringShutdownTimeout = 5 * time.Second

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API for every definition in a directory",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	cmd.Flags().String("host", "127.0.0.1", "Host to bind")
	cmd.Flags().Int("port", 5001, "Port to listen on")
	cmd.Flags().String("definitions", ".", "Directory searched recursively for definition files")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics")
	cmd.Flags().String("store-url", "", "Redis URL of the snapshot store")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)

	loader, closeLoader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer closeLoader()
	defs := definition.NewRegistry(loader)
	n, err := defs.AddDir(ctx, cfg.Server.Definitions)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Warn("no definitions found", "dir", cfg.Server.Definitions)
	}

	mon, err := monitoring.NewService(ctx, monitoring.FromAppConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), monitoringShutdownTimeout)
		defer cancel()
		if err := mon.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shut down monitoring", "error", err)
		}
	}()

	store, err := snapstore.New(ctx, snapstore.FromAppConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close snapshot store", "error", err)
		}
	}()

	opts, err := workflowOptions(ctx, cfg, mon.Meter())
	if err != nil {
		return err
	}
	state, err := appstate.NewState(defs, runner.New(defs, store, runner.WithWorkflowOptions(opts...)))
	if err != nil {
		return err
	}
	srv, err := server.New(ctx, &cfg.Server, state, mon)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	log.Info("serving definitions", "count", n, "processes", defs.Names())
	return srv.Run(ctx)
}
