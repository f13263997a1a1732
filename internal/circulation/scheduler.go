package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one scheduled unit of background work.
type Job func(ctx context.Context) error

// Scheduler runs the circulation background jobs. A job still running when
// its next tick arrives skips that tick.
type Scheduler struct {
	cron   *cron.Cron
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(log *zap.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	log = log.With(zap.String("component", "scheduler"))
	cl := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under spec, e.g. "@hourly" or "@every 1m". An empty
// spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Duration("took", time.Since(start)), zap.Error(err))
			return
		}
		s.log.Debug("job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// AddCirculation schedules the overdue sweep and copy reconciliation.
func (s *Scheduler) AddCirculation(svc Service, sweepSpec, reconcileSpec string) error {
	if err := s.Add("overdue-sweep", sweepSpec, func(ctx context.Context) error {
		_, err := svc.SweepOverdue(ctx)
		return err
	}); err != nil {
		return err
	}
	return s.Add("copy-reconcile", reconcileSpec, func(ctx context.Context) error {
		_, err := svc.ReconcileCopies(ctx)
		return err
	})
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
