package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mailflow/internal/config"
	"github.com/Veraticus/mailflow/internal/scheduler"
	"github.com/Veraticus/mailflow/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rule engine server",
		Long: `Start the long-running server: listens for inbound message
notifications, sweeps delayed actions on a schedule, and serves metrics.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Duration("sweep-interval", time.Minute, "delay between scheduled action sweeps")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("scheduler.interval", cmd.Flags().Lookup("sweep-interval"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	eng, err := buildEngine(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, eng.Executor(), config.NewProviderFactory(),
		scheduler.WithInterval(viper.GetDuration("scheduler.interval")))

	srv := server.New(server.Config{
		Addr:        viper.GetString("server.addr"),
		SweepSecret: viper.GetString("server.sweep_secret"),
	}, eng, sched)

	go func() {
		if runErr := sched.Run(ctx); runErr != nil && !errors.Is(runErr, ctx.Err()) {
			slog.Error("Scheduler exited", "error", runErr)
		}
	}()

	return srv.Run(ctx)
}
