package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"video_notifier/internal/config"
	"video_notifier/internal/domain"
)

// Checker runs the polling and cleanup cycles.
type Checker interface {
	Check(ctx context.Context) (*domain.CheckStats, error)
	Clean(ctx context.Context) (*domain.CleanStats, error)
}

// Scheduler fires check and clean cycles on their cron schedules.
// A tick that arrives while the same cycle is still running is dropped.
type Scheduler struct {
	checker  Checker
	poll     config.PollConfig
	cleanup  config.CleanupConfig
	logger   *slog.Logger
	checking atomic.Bool
	cleaning atomic.Bool
}

func NewScheduler(checker Checker, poll config.PollConfig, cleanup config.CleanupConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		checker: checker,
		poll:    poll,
		cleanup: cleanup,
		logger:  logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)

	if _, err := c.AddFunc(s.poll.Schedule, func() { s.RunCheck(ctx) }); err != nil {
		return fmt.Errorf("schedule check %q: %w", s.poll.Schedule, err)
	}
	if _, err := c.AddFunc(s.cleanup.Schedule, func() { s.RunClean(ctx) }); err != nil {
		return fmt.Errorf("schedule clean %q: %w", s.cleanup.Schedule, err)
	}

	s.logger.Info("scheduler started",
		"check_schedule", s.poll.Schedule,
		"clean_schedule", s.cleanup.Schedule,
		"check_on_run", s.poll.CheckOnRun,
	)

	c.Start()
	if s.poll.CheckOnRun {
		go s.RunCheck(ctx)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// RunCheck runs one check cycle unless one is already running.
// It reports whether the cycle ran.
func (s *Scheduler) RunCheck(ctx context.Context) bool {
	if !s.checking.CompareAndSwap(false, true) {
		s.logger.Debug("check still running, tick skipped")
		return false
	}
	defer s.checking.Store(false)

	checkCtx, cancel := withTimeout(ctx, s.poll.Timeout)
	defer cancel()

	if _, err := s.checker.Check(checkCtx); err != nil {
		s.logger.Error("check failed", "error", err)
	}
	return true
}

// RunClean runs one clean cycle unless one is already running.
func (s *Scheduler) RunClean(ctx context.Context) bool {
	if !s.cleaning.CompareAndSwap(false, true) {
		s.logger.Debug("clean still running, tick skipped")
		return false
	}
	defer s.cleaning.Store(false)

	cleanCtx, cancel := withTimeout(ctx, s.cleanup.Timeout)
	defer cancel()

	if _, err := s.checker.Clean(cleanCtx); err != nil {
		s.logger.Error("clean failed", "error", err)
	}
	return true
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, normalize(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(normalize(keysAndValues), "error", err)...)
}

// normalize renders cron's time values in a stable format.
func normalize(keysAndValues []any) []any {
	out := make([]any, len(keysAndValues))
	for i, v := range keysAndValues {
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		out[i] = v
	}
	return out
}
