package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpadapter "imagewatch/internal/adapters/http"
	"imagewatch/internal/adapters/trigger"
	"imagewatch/internal/config"
	"imagewatch/internal/metrics"
	"imagewatch/internal/ports"
	"imagewatch/internal/session"
	statssvc "imagewatch/internal/services/stats"
	scanworker "imagewatch/internal/workers/scanrunner"
)

var errNoTrigger = errors.New("no scan trigger configured")

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(v, cmd, map[string]string{
				"listen":       "listen_addr",
				"scan-workers": "scan.workers",
			}); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", "", "Listen address, e.g. :8080")
	cmd.Flags().Int("scan-workers", 0, "In-process scan workers, 0 disables them")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		runner     *scanworker.Runner
		httpRunner httpadapter.Runner
		runnerDone = make(chan struct{})
	)
	if cfg.Scan.Workers > 0 {
		runner = newRunner(cfg, store, m)
		httpRunner = runner
		go func() {
			defer close(runnerDone)
			runner.Run(ctx)
		}()
		log.Info().Int("workers", cfg.Scan.Workers).Msg("Scan workers started")
	} else {
		close(runnerDone)
	}

	var trig ports.Trigger
	switch {
	case cfg.Trigger.URL != "":
		trig = trigger.NewHTTPClient(cfg.Trigger.URL, cfg.Trigger.Token, cfg.Trigger.Retries, cfg.Trigger.Timeout)
	case runner != nil:
		trig = runner
	default:
		log.Warn().Msg("Neither trigger.url nor scan workers configured, scans will stay in flight")
		trig = ports.TriggerFunc(func(context.Context, string) error { return errNoTrigger })
	}

	sessions := session.NewManager(session.Deps{
		Store:          store,
		Trigger:        trig,
		Stats:          statssvc.New(store, statssvc.WithComparisonMonths(cfg.Stats.ComparisonPeriod)),
		Metrics:        m,
		ImagesInterval: cfg.Refresh.ImagesInterval,
		StatsInterval:  cfg.Refresh.StatsInterval,
	})
	defer sessions.Close()

	if httpRunner != nil && cfg.Trigger.Token == "" {
		log.Warn().Msg("trigger.token is empty, /functions accepts unauthenticated calls")
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpadapter.New(sessions, httpRunner, reg, cfg.Trigger.Token).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", cfg.ListenAddr).Str("env", cfg.Env).Str("store", cfg.Store).Msg("Listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	stop()
	<-runnerDone
	return nil
}
