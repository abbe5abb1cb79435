package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/config"
	"github.com/vnmchuo/gen-broker/internal/app"
	"github.com/vnmchuo/gen-broker/internal/logger"
	"github.com/vnmchuo/gen-broker/internal/maintenance"
	"github.com/vnmchuo/gen-broker/internal/seeder"
)

// runEnv is what every subcommand gets after config and stores are open.
type runEnv struct {
	cfg    *config.Config
	stores *app.Stores
	logger *zap.Logger
}

func withStores(migrate bool, fn func(ctx context.Context, cmd *cobra.Command, env *runEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		zl, err := logger.New(cfg.LogLevel, "console")
		if err != nil {
			return err
		}
		defer func() { _ = zl.Sync() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		stores, err := app.OpenStores(ctx, cfg, migrate, zl)
		if err != nil {
			return err
		}
		defer stores.Close()
		return fn(ctx, cmd, &runEnv{cfg: cfg, stores: stores, logger: zl})
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Operational tasks for the generation broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newSeedAdminKeyCmd(),
		newResetWeeklyQuotasCmd(),
		newCleanupOldJobsCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: withStores(true, func(ctx context.Context, cmd *cobra.Command, env *runEnv) error {
			if env.stores.Pool == nil {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		}),
	}
}

func newSeedAdminKeyCmd() *cobra.Command {
	var name, key string
	cmd := &cobra.Command{
		Use:   "seed-admin-key",
		Short: "Create an admin API key and print it once",
		RunE: withStores(false, func(ctx context.Context, cmd *cobra.Command, env *runEnv) error {
			plain, err := seeder.SeedAdminKey(ctx, env.stores.Keys, name, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plain)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "admin", "label stored with the key")
	cmd.Flags().StringVar(&key, "key", "", "use this key instead of generating one")
	return cmd
}

func maintenanceService(env *runEnv) *maintenance.Service {
	return maintenance.NewService(env.stores.Ledger, env.stores.Jobs, maintenance.Config{
		StandardWeeklyCredits: env.cfg.StandardWeeklyCredits,
		FreeJobRetention:      env.cfg.FreeJobRetention,
	}, env.logger)
}

func newResetWeeklyQuotasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-weekly-quotas",
		Short: "Reset standard-tier balances whose reset time has passed",
		RunE: withStores(false, func(ctx context.Context, cmd *cobra.Command, env *runEnv) error {
			n, err := maintenanceService(env).ResetWeeklyQuotas(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d Standard users\n", n)
			return nil
		}),
	}
}

func newCleanupOldJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-old-jobs",
		Short: "Delete free-tier jobs older than FREE_JOB_RETENTION",
		RunE: withStores(false, func(ctx context.Context, cmd *cobra.Command, env *runEnv) error {
			n, err := maintenanceService(env).CleanupOldJobs(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned up %d jobs\n", n)
			return nil
		}),
	}
}
