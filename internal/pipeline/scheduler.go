package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/monitoring"
)

// CycleFunc runs one scheduled pass. It owns setting up and tearing down
// the per-cycle collaborators.
type CycleFunc func(ctx context.Context) (*Result, error)

// Scheduler repeats acquisition passes on a cron schedule. Overlapping
// cycles are skipped. After every cycle the heartbeat file is rewritten and
// alerts are evaluated and sent.
type Scheduler struct {
	spec          string
	heartbeatPath string
	alerter       *monitoring.Alerter
	cycle         CycleFunc
	now           func() time.Time

	cron     *cron.Cron
	schedule cron.Schedule
	log      *zap.Logger

	mu     sync.Mutex
	cycles int
}

// NewScheduler validates spec, a standard cron expression or descriptor
// such as "@every 12h".
func NewScheduler(spec, heartbeatPath string, alerter *monitoring.Alerter, cycle CycleFunc) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse %q", spec)
	}
	log := zap.L().With(zap.String("component", "scheduler"))
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		spec:          spec,
		heartbeatPath: heartbeatPath,
		alerter:       alerter,
		cycle:         cycle,
		now:           time.Now,
		cron:          cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		schedule:      sched,
		log:           log,
	}, nil
}

// Start registers the cycle and starts the cron loop. Cycles run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduled cycle failed", zap.Error(err))
		}
	}); err != nil {
		return eris.Wrap(err, "scheduler: add cycle")
	}
	s.cron.Start()
	next := s.Next()
	s.log.Info("scheduler started", zap.String("schedule", s.spec), zap.Time("next_run", next))
	return s.beat(monitoring.Heartbeat{Status: monitoring.StatusIdle, NextRunAt: &next})
}

// Stop halts the cron loop. The returned context is done once a running
// cycle has returned.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Next is the next activation time after now.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.now())
}

// RunOnce runs a single cycle and records its outcome. The returned error
// is the cycle's fatal error, if any.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	s.cycles++
	cycle := s.cycles
	s.mu.Unlock()

	log := s.log.With(zap.Int("cycle", cycle))
	if err := s.beat(monitoring.Heartbeat{Status: monitoring.StatusRunning, Cycle: cycle}); err != nil {
		log.Warn("heartbeat write failed", zap.Error(err))
	}

	res, runErr := s.cycle(ctx)

	next := s.Next()
	hb := monitoring.Heartbeat{Status: monitoring.StatusIdle, Cycle: cycle, NextRunAt: &next}
	if runErr != nil {
		hb.Status = monitoring.StatusFailed
		hb.Error = runErr.Error()
	}
	if res != nil {
		summary := res.Summary
		hb.LastSummary = &summary
		if s.alerter != nil {
			hb.Alerts = s.alerter.Evaluate(&summary)
			if sent := s.alerter.SendAlerts(ctx, hb.Alerts); sent > 0 {
				log.Info("alerts delivered", zap.Int("sent", sent))
			}
		}
	}
	if err := s.beat(hb); err != nil {
		log.Warn("heartbeat write failed", zap.Error(err))
	}

	if runErr != nil {
		return eris.Wrapf(runErr, "scheduler: cycle %d", cycle)
	}
	if hb.LastSummary != nil {
		log.Info("cycle complete",
			zap.Int("leads", hb.LastSummary.LeadsTotal),
			zap.Int("alerts", len(hb.Alerts)),
			zap.Time("next_run", next),
		)
	}
	return nil
}

func (s *Scheduler) beat(hb monitoring.Heartbeat) error {
	hb.UpdatedAt = s.now().UTC()
	return monitoring.WriteHeartbeat(s.heartbeatPath, hb)
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
