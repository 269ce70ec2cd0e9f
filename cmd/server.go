package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowbench-org/flowbench/internal/artifact"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/compiler"
	"github.com/flowbench-org/flowbench/internal/engine"
	"github.com/flowbench-org/flowbench/internal/manifest"
	"github.com/flowbench-org/flowbench/internal/orchestrator"
	"github.com/flowbench-org/flowbench/internal/service/frontend"
	"github.com/flowbench-org/flowbench/internal/service/workflow"
	"github.com/flowbench-org/flowbench/internal/settings"
	"github.com/flowbench-org/flowbench/internal/store"
	"github.com/flowbench-org/flowbench/internal/template"
)

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the Flowbench API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func loadConfig() (*config.Config, error) {
	var opts []config.LoaderOption
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	return config.NewLoader(opts...).Load()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logOpts := []logger.Option{logger.WithFormat(cfg.Log.Format)}
	if cfg.Log.Debug {
		logOpts = append(logOpts, logger.WithDebug())
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(logOpts...))
	for _, warning := range cfg.Warnings {
		logger.Warn(ctx, warning)
	}

	provider, err := settings.NewProvider(cfg.ObjectStore, cfg.Relational)
	if err != nil {
		return err
	}

	db, err := store.NewPostgres(cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(ctx, "Failed to close store", tag.Error(err))
		}
	}()
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	loader := manifest.NewLoader(cfg.Manifest.CloneTimeout)
	registry := manifest.NewRegistry(ctx, cfg.Manifest.CacheDir, loader)
	catalog := template.NewCatalog(cfg.Templates.RepoURL, registry)

	eng := engine.New(db, provider)
	inst := template.NewInstantiator(db, registry, provider)
	comp := compiler.New(cfg.Orchestrator)
	orch := orchestrator.NewClient(cfg.Orchestrator)
	locator := artifact.NewLocator(cfg.ObjectStore, provider)

	svc := workflow.New(db, eng, registry, catalog, inst, comp, orch, locator)
	srv := frontend.NewServer(*cfg, frontend.NewAuth(cfg.Auth), svc)
	return srv.Serve(ctx)
}
