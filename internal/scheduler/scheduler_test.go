package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

type fakeSweeper struct {
	calls   int32
	running int32
	overlap int32
	delay   time.Duration
	err     error
	started chan struct{}
	once    sync.Once
}

func (f *fakeSweeper) Sweep(ctx context.Context) (*tracker.SweepReport, error) {
	if atomic.AddInt32(&f.running, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.running, -1)
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return &tracker.SweepReport{Cancelled: true}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tracker.SweepReport{Evaluated: 1}, nil
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New(&fakeSweeper{}, "every now and then", zap.NewNop())
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	sweeper := &fakeSweeper{}
	s, err := New(sweeper, "@every 1h", zap.NewNop())
	require.NoError(t, err)

	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)

	last, lastErr := s.Last()
	assert.Same(t, report, last)
	assert.NoError(t, lastErr)

	sweeper.err = errors.New("ledger unavailable")
	_, err = s.RunNow(context.Background())
	assert.Error(t, err)
	_, lastErr = s.Last()
	assert.Error(t, lastErr)
}

func TestSweepsNeverOverlap(t *testing.T) {
	sweeper := &fakeSweeper{delay: 30 * time.Millisecond}
	s, err := New(sweeper, "@every 1h", zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RunNow(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), atomic.LoadInt32(&sweeper.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&sweeper.overlap))
}

func TestCronFiresAndStopWaits(t *testing.T) {
	sweeper := &fakeSweeper{delay: time.Hour, started: make(chan struct{})}
	s, err := New(sweeper, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	s.Start()

	select {
	case <-sweeper.started:
	case <-time.After(5 * time.Second):
		t.Fatal("cron never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	last, _ := s.Last()
	require.NotNil(t, last)
	assert.True(t, last.Cancelled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&sweeper.running))
}

func TestRunNowAfterStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	s, err := New(sweeper, "@every 1h", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))

	_, err = s.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.Zero(t, atomic.LoadInt32(&sweeper.calls))

	last, _ := s.Last()
	assert.Nil(t, last)
}
