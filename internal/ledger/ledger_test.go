package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

var (
	start    = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	user     = models.Actor{ID: "u-1", Name: "Recruiter", Role: models.RoleUser}
	admin    = models.Actor{ID: "a-1", Name: "Admin", Role: models.RoleAdmin}
	noExtras = Transition{}
)

func newTestLedger() (*Ledger, *clock.Fake) {
	clk := clock.NewFake(start)
	return New(NewMemoryStore(), clk, zap.NewNop()), clk
}

func TestRecordTransitionFirstRecord(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	rec, err := l.RecordTransition(ctx, "bc-1", models.StatusPendingConsent, user, noExtras)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.Status(""), rec.PreviousStatus)
	assert.Equal(t, models.StatusPendingConsent, rec.NewStatus)
	assert.Equal(t, user, rec.ChangedBy)
	assert.True(t, start.Equal(rec.Timestamp))

	status, since, err := l.CurrentStatus(ctx, "bc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingConsent, status)
	assert.True(t, start.Equal(since))
}

func TestRecordTransitionRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op transition", func(t *testing.T) {
		l, _ := newTestLedger()
		_, err := l.RecordTransition(ctx, "bc-1", models.StatusInProgress, user, noExtras)
		require.NoError(t, err)

		_, err = l.RecordTransition(ctx, "bc-1", models.StatusInProgress, admin, noExtras)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("terminal by non-admin", func(t *testing.T) {
		l, _ := newTestLedger()
		_, err := l.RecordTransition(ctx, "bc-1", models.StatusCompleted, user, noExtras)
		require.NoError(t, err)

		_, err = l.RecordTransition(ctx, "bc-1", models.StatusInProgress, user, noExtras)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		_, err = l.RecordTransition(ctx, "bc-1", models.StatusInProgress, models.SystemActor, noExtras)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("terminal by admin", func(t *testing.T) {
		l, _ := newTestLedger()
		_, err := l.RecordTransition(ctx, "bc-1", models.StatusCancelled, user, noExtras)
		require.NoError(t, err)

		rec, err := l.RecordTransition(ctx, "bc-1", models.StatusInProgress, admin, noExtras)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, rec.PreviousStatus)
	})

	t.Run("unknown status", func(t *testing.T) {
		l, _ := newTestLedger()
		_, err := l.RecordTransition(ctx, "bc-1", models.Status("archived"), admin, noExtras)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})
}

func TestHistoryGrowsByOneWithIncreasingTimestamps(t *testing.T) {
	l, clk := newTestLedger()
	ctx := context.Background()

	sequence := []models.Status{
		models.StatusNotStarted,
		models.StatusPendingConsent,
		models.StatusInProgress,
		models.StatusIssuesFound,
		models.StatusInProgress,
		models.StatusCompleted,
	}
	for i, status := range sequence {
		// clock does not move on odd steps, forcing the tie-break
		if i%2 == 0 {
			clk.Advance(time.Hour)
		}
		_, err := l.RecordTransition(ctx, "bc-1", status, user, noExtras)
		require.NoError(t, err)

		history, err := l.History(ctx, "bc-1")
		require.NoError(t, err)
		assert.Len(t, history, i+1)
	}

	history, err := l.History(ctx, "bc-1")
	require.NoError(t, err)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp), "record %d", i)
		assert.Equal(t, history[i-1].NewStatus, history[i].PreviousStatus)
	}

	_, err = l.RecordTransition(ctx, "bc-1", models.StatusCompleted, admin, noExtras)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	history, err = l.History(ctx, "bc-1")
	require.NoError(t, err)
	assert.Len(t, history, len(sequence))
}

func TestClockGoingBackwardsKeepsOrder(t *testing.T) {
	l, clk := newTestLedger()
	ctx := context.Background()

	first, err := l.RecordTransition(ctx, "bc-1", models.StatusNotStarted, user, noExtras)
	require.NoError(t, err)
	clk.Advance(-time.Hour)
	second, err := l.RecordTransition(ctx, "bc-1", models.StatusInProgress, user, noExtras)
	require.NoError(t, err)

	assert.Equal(t, first.Timestamp.Add(time.Microsecond), second.Timestamp)
}

func TestUnknownEntity(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := l.CurrentStatus(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrUnknownEntity)
	_, err = l.History(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrUnknownEntity)
	_, err = l.Entity(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrUnknownEntity)
}

func TestTracked(t *testing.T) {
	l, clk := newTestLedger()
	ctx := context.Background()

	_, err := l.RecordTransition(ctx, "bc-1", models.StatusPendingConsent, user, noExtras)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = l.RecordTransition(ctx, "bc-2", models.StatusCompleted, admin, noExtras)
	require.NoError(t, err)
	_, err = l.RecordTransition(ctx, "bc-1", models.StatusInProgress, models.SystemActor, noExtras)
	require.NoError(t, err)

	open, err := l.Tracked(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "bc-1", open[0].ID)
	assert.Equal(t, models.StatusInProgress, open[0].Status)
	assert.Equal(t, models.SystemActor, open[0].Initiator, "the actor who began the current occupancy")
	assert.True(t, start.Add(time.Hour).Equal(open[0].Since))

	entity, err := l.Entity(ctx, "bc-1")
	require.NoError(t, err)
	assert.Equal(t, open[0], entity)

	all, err := l.Tracked(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentTransitionsSameEntity(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	_, err := l.RecordTransition(ctx, "bc-1", models.StatusNotStarted, user, noExtras)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordTransition(ctx, "bc-1", models.StatusInProgress, user, noExtras)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded)

	history, err := l.History(ctx, "bc-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
