package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	pg "imagewatch/internal/adapters/postgres"
	"imagewatch/internal/config"
	"imagewatch/internal/metrics"
	"imagewatch/internal/ports"
	scanworker "imagewatch/internal/workers/scanrunner"
)

// newSimulateCmd runs the scan trigger service on its own, next to an API
// process that reaches it through trigger.url or the shared database.
func newSimulateCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Conclude in-flight scans with simulated results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("simulate needs the %s store", config.StorePostgres)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := pg.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			runner := newRunner(cfg, db, metrics.Discard())
			if once {
				n, err := runner.RunOnce(ctx)
				log.Info().Int("processed", n).Msg("Simulation pass finished")
				return err
			}
			log.Info().Int("workers", cfg.Scan.Workers).Dur("poll", cfg.Scan.PollInterval).Msg("Scan simulator started")
			runner.Run(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Conclude the scans in flight now and exit")
	return cmd
}

func newRunner(cfg config.Config, repo ports.ScanCompleter, m *metrics.Metrics) *scanworker.Runner {
	processor := scanworker.NewSimulatedProcessor(cfg.Scan.Delay, cfg.Scan.FailureRate, uint64(time.Now().UnixNano()))
	return scanworker.New(scanworker.Config{
		Workers:       cfg.Scan.Workers,
		PollInterval:  cfg.Scan.PollInterval,
		RatePerSecond: cfg.Scan.RatePerSecond,
	}, repo, processor, m)
}
