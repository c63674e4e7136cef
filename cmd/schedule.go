package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/monitoring"
	"github.com/sells-group/leadscout/internal/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run acquisition passes on a cron schedule",
	Long: `Runs acquire repeatedly on the configured cron schedule, writing a heartbeat
file after every cycle and sending alerts for empty or heavily blocked runs.

With --status-addr set, /healthz and /status are served over HTTP.

Examples:
  leadscout schedule --cron "0 */6 * * *"
  leadscout schedule --cron "@every 12h" --status-addr :8090
  leadscout schedule --once`,
	RunE: runSchedule,
}

func init() {
	f := scheduleCmd.Flags()
	f.String("cron", "", "cron expression or descriptor (default from config)")
	f.String("heartbeat", "", "heartbeat file path (default from config)")
	f.String("status-addr", "", "serve /healthz and /status on this address")
	f.Bool("once", false, "run a single cycle immediately and exit")

	rootCmd.AddCommand(scheduleCmd)
}

func applyScheduleFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("cron") {
		c.Schedule.Cron, _ = f.GetString("cron")
	}
	if f.Changed("heartbeat") {
		c.Schedule.HeartbeatPath, _ = f.GetString("heartbeat")
	}
	if f.Changed("status-addr") {
		c.Schedule.StatusAddr, _ = f.GetString("status-addr")
	}
}

// cycleFunc builds a fresh environment for every cycle so that config
// problems and backend outages surface per cycle.
func cycleFunc(c *config.Config) pipeline.CycleFunc {
	return func(ctx context.Context) (*pipeline.Result, error) {
		env, err := initEnv(ctx, c)
		if err != nil {
			return nil, err
		}
		defer env.Close()
		return env.Orchestrator().Run(ctx)
	}
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyScheduleFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "schedule"))

	sched, err := pipeline.NewScheduler(
		cfg.Schedule.Cron,
		cfg.Schedule.HeartbeatPath,
		monitoring.NewAlerter(cfg.Monitoring),
		cycleFunc(cfg),
	)
	if err != nil {
		return err
	}

	once, _ := cmd.Flags().GetBool("once")
	if once {
		return sched.RunOnce(ctx)
	}

	if err := sched.Start(ctx); err != nil {
		return eris.Wrap(err, "schedule: start")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		<-sched.Stop().Done()
		return nil
	})
	if cfg.Schedule.StatusAddr != "" {
		srv, closeStore, err := startStatusServer(ctx)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			defer closeStore()
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// startStatusServer serves the heartbeat, plus run metrics when the lead
// store is enabled. The returned func closes the store.
func startStatusServer(ctx context.Context) (*monitoring.StatusServer, func(), error) {
	closeStore := func() {}
	var collector *monitoring.Collector
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, closeStore, err
	}
	if st != nil {
		closeStore = func() { st.Close() } //nolint:errcheck
		collector = monitoring.NewCollector(st)
	}
	srv := monitoring.NewStatusServer(cfg.Schedule.StatusAddr, cfg.Schedule.HeartbeatPath, collector)
	if err := srv.Start(); err != nil {
		closeStore()
		return nil, func() {}, err
	}
	return srv, closeStore, nil
}
