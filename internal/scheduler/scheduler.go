package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

// ErrStopped is returned by RunNow once the scheduler is stopping
var ErrStopped = errors.New("scheduler stopped")

// Sweeper runs one evaluation sweep
type Sweeper interface {
	Sweep(ctx context.Context) (*tracker.SweepReport, error)
}

// Scheduler runs sweeps on a cron schedule. A sweep never overlaps
// another one; a tick that fires while a sweep runs is skipped.
type Scheduler struct {
	sweeper  Sweeper
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger

	runMu   sync.Mutex
	stateMu sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	last    *tracker.SweepReport
	lastErr error
	entryID cron.EntryID
}

// New creates a Scheduler for schedule, e.g. "@every 5m" or "*/5 * * * *"
func New(sweeper Sweeper, schedule string, logger *zap.Logger) (*Scheduler, error) {
	logger = logger.Named("scheduler")
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)

	s := &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     c,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := c.AddFunc(schedule, func() { s.run(s.ctx, "cron") })
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins firing sweeps on schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("schedule", s.schedule),
		zap.Time("next_run", s.cron.Entry(s.entryID).Next))
}

// Stop prevents further sweeps, cancels the running one between entities and
// waits for it to return or for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")
	s.stateMu.Lock()
	s.stopped = true
	s.stateMu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunNow runs a sweep immediately, waiting for any sweep already in progress.
// It fails with ErrStopped after Stop.
func (s *Scheduler) RunNow(ctx context.Context) (*tracker.SweepReport, error) {
	return s.run(ctx, "manual")
}

// Last returns the most recent sweep report and error
func (s *Scheduler) Last() (*tracker.SweepReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

func (s *Scheduler) run(ctx context.Context, trigger string) (*tracker.SweepReport, error) {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return nil, ErrStopped
	}
	s.wg.Add(1)
	s.stateMu.Unlock()
	defer s.wg.Done()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.logger.Debug("Sweep starting", zap.String("trigger", trigger))
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", zap.String("trigger", trigger), zap.Error(err))
	}

	s.mu.Lock()
	s.last, s.lastErr = report, err
	s.mu.Unlock()
	return report, err
}

// cronLogger adapts zap to the cron.Logger interface
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
