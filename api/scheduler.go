/*
scheduler.go - Automated monthly billing scheduler

PURPOSE:
  Triggers the monthly billing cycle on a cron schedule (default: 00:00 on
  the 1st of every month, academy time zone).

DESIGN:
  - robfig/cron with SkipIfStillRunning so a slow run never overlaps itself
  - The month billed is the current month in the configured time zone
  - RunOnStart catches up a missed trigger after downtime; the cycle is
    idempotent so an extra run only reports skips
  - Each run gets a timeout context; Stop waits for a running cycle

CONFIGURATION:
  - Schedule:   cron spec (BILLING_CRON)
  - Location:   time zone (BILLING_TIMEZONE)
  - RunOnStart: run once immediately on Start

USAGE:
  scheduler, err := NewBillingScheduler(gen, cfg, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBilling endpoint (manual trigger)
  - billing/generator.go: RunMonthlyBillingCycle
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/calendar"
)

// SchedulerConfig configures the billing scheduler.
type SchedulerConfig struct {
	Schedule   string
	Location   *time.Location
	Timeout    time.Duration
	RunOnStart bool
}

// BillingScheduler runs the monthly billing cycle on a cron schedule.
type BillingScheduler struct {
	gen     *billing.Generator
	cfg     SchedulerConfig
	log     *zap.Logger
	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// NewBillingScheduler validates the schedule and prepares the cron runner.
func NewBillingScheduler(gen *billing.Generator, cfg SchedulerConfig, log *zap.Logger) (*BillingScheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}

	s := &BillingScheduler{gen: gen, cfg: cfg, log: log.Named("scheduler")}
	cronLog := cronLogger{log: s.log.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	id, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunNow(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid billing schedule %q: %w", cfg.Schedule, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins the scheduler.
func (s *BillingScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunNow(context.Background())
		}()
	}

	s.log.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.String("location", s.cfg.Location.String()),
		zap.Time("next_run", s.NextRun()),
	)
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *BillingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// NextRun returns the next scheduled trigger, or the zero time when stopped.
func (s *BillingScheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunNow bills the current month in the scheduler's time zone.
func (s *BillingScheduler) RunNow(ctx context.Context) (billing.CycleReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ym := calendar.DateOf(s.gen.Now().In(s.cfg.Location)).YearMonth()
	report, err := s.gen.RunMonthlyBillingCycle(ctx, ym)
	if err != nil {
		s.log.Error("scheduled billing failed", zap.String("year_month", ym.String()), zap.Error(err))
		return report, err
	}
	if report.Failed > 0 {
		s.log.Warn("scheduled billing completed with failures",
			zap.String("year_month", ym.String()),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// cronLogger routes robfig/cron's own messages into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warnw("billing cycle still running, skipping tick", keysAndValues...)
		return
	}
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
