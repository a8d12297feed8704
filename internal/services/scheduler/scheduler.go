package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// DefaultSpec повторяет исходное расписание cron-задачи: раз в час.
const DefaultSpec = "@every 60m"

type Runner interface {
	RunOnce(ctx context.Context) (*models.RunReport, error)
}

type Scheduler struct {
	runner     Runner
	spec       string
	schedule   cron.Schedule
	runOnStart bool

	triggerCh chan struct{}

	lastTriggerUnixNano atomic.Int64
	skipped             atomic.Int64
}

func New(runner Runner, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "parse schedule %q", spec)
	}
	return &Scheduler{
		runner:    runner,
		spec:      spec,
		schedule:  schedule,
		triggerCh: make(chan struct{}, 1),
	}, nil
}

func (s *Scheduler) WithRunOnStart(v bool) *Scheduler {
	s.runOnStart = v
	return s
}

// Trigger forces an immediate pass (best-effort, non-blocking). It is dropped
// when a pass is already running.
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Next(after time.Time) time.Time {
	return s.schedule.Next(after)
}

type Stats struct {
	Schedule      string     `json:"schedule"`
	NextRunAt     time.Time  `json:"nextRunAt"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	SkippedRuns   int64      `json:"skippedRuns"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Schedule:    s.spec,
		NextRunAt:   s.Next(time.Now().UTC()),
		SkippedRuns: s.skipped.Load(),
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	return st
}

// Run blocks until ctx is cancelled and waits for the running pass to return.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{skipped: &s.skipped}
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { s.runOnce(ctx) }))

	c := cron.New(cron.WithLogger(logger), cron.WithLocation(time.UTC))
	c.Schedule(s.schedule, job)
	c.Start()
	slog.Info("scheduler started", "schedule", s.spec, "next_run", s.Next(time.Now().UTC()))

	var wg sync.WaitGroup
	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Run()
		}()
	}
	if s.runOnStart {
		fire()
	}

	for {
		select {
		case <-ctx.Done():
			<-c.Stop().Done()
			wg.Wait()
			return ctx.Err()
		case <-s.triggerCh:
			fire()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunOnce(ctx); err != nil {
		slog.Error("sync run", "error", err.Error())
	}
}

// cronLogger прокидывает логи cron в slog и считает пропущенные запуски.
type cronLogger struct {
	skipped *atomic.Int64
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.skipped.Add(1)
		slog.Warn("previous sync run still in progress, skipped")
		return
	}
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
