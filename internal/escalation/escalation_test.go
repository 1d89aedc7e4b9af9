package escalation

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
	"github.com/aegisshield/compliance-tracker/internal/notification"
)

var (
	day0      = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	initiator = models.Actor{ID: "recruiter-1", Name: "Recruiter", Role: models.RoleUser}
	admin     = models.Actor{ID: "admin-1", Name: "Admin", Role: models.RoleAdmin}
	user      = models.Actor{ID: "user-1", Name: "User", Role: models.RoleUser}
)

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notification.Request
	err      error
}

func (f *fakeNotifier) Enqueue(req notification.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakePublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *fakePublisher) Publish(kind string, _ models.EscalationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

type fixture struct {
	store     *MemoryStore
	notifier  *fakeNotifier
	publisher *fakePublisher
	clock     *clock.Fake
	evaluator *Evaluator
	dispatch  *Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		store:     NewMemoryStore(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		clock:     clock.NewFake(day0),
	}
	f.evaluator = NewEvaluator(f.store, nil, zap.NewNop())
	f.dispatch = NewDispatcher(f.store, f.notifier, f.publisher, f.clock, nil, zap.NewNop())
	return f
}

// evaluate runs one evaluation pass and dispatches everything due
func (f *fixture) evaluate(t *testing.T, entities []models.TrackedEntity, rules []models.EscalationRule) []*models.EscalationEvent {
	t.Helper()
	ctx := context.Background()
	due, err := f.evaluator.FindDueEscalations(ctx, entities, rules, f.clock.Now())
	require.NoError(t, err)

	var created []*models.EscalationEvent
	for _, d := range due {
		ev, err := f.dispatch.Dispatch(ctx, d.Entity, d.Rule, d.DaysPending)
		require.NoError(t, err)
		created = append(created, ev)
	}
	return created
}

func sevenDayRule() models.EscalationRule {
	return models.EscalationRule{
		ID:            "in-progress-7d",
		Name:          "Stalled check",
		TriggerStatus: models.StatusInProgress,
		DaysThreshold: 7,
		EscalateTo:    models.StringArray{"hr-lead@example.com"},
		Priority:      models.PriorityHigh,
		Enabled:       true,
	}
}

func inProgress(since time.Time) models.TrackedEntity {
	return models.TrackedEntity{ID: "bc-1", Status: models.StatusInProgress, Since: since, Initiator: initiator}
}

func TestSevenDayRuleScenario(t *testing.T) {
	f := newFixture()
	entities := []models.TrackedEntity{inProgress(day0)}
	rules := []models.EscalationRule{sevenDayRule()}

	f.clock.Set(day0.AddDate(0, 0, 6))
	assert.Empty(t, f.evaluate(t, entities, rules), "day 6")

	f.clock.Set(day0.AddDate(0, 0, 7))
	created := f.evaluate(t, entities, rules)
	require.Len(t, created, 1, "day 7")
	assert.Equal(t, 7, created[0].DaysPending)
	assert.True(t, created[0].Dispatched)
	assert.NotNil(t, created[0].DispatchedAt)

	f.clock.Set(day0.AddDate(0, 0, 10))
	assert.Empty(t, f.evaluate(t, entities, rules), "day 10")

	all, err := f.store.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, f.notifier.count())
}

func TestEvaluationIsIdempotent(t *testing.T) {
	f := newFixture()
	entities := []models.TrackedEntity{inProgress(day0)}
	rules := []models.EscalationRule{sevenDayRule()}
	f.clock.Set(day0.AddDate(0, 0, 8))

	first := f.evaluate(t, entities, rules)
	second := f.evaluate(t, entities, rules)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
}

func TestReentryCreatesNewEvent(t *testing.T) {
	f := newFixture()
	rules := []models.EscalationRule{sevenDayRule()}

	f.clock.Set(day0.AddDate(0, 0, 7))
	require.Len(t, f.evaluate(t, []models.TrackedEntity{inProgress(day0)}, rules), 1)

	// entity left in-progress on day 8 and re-entered on day 9
	reentry := day0.AddDate(0, 0, 9)
	f.clock.Set(reentry.AddDate(0, 0, 7))
	created := f.evaluate(t, []models.TrackedEntity{inProgress(reentry)}, rules)
	require.Len(t, created, 1)
	assert.True(t, reentry.Equal(created[0].OccupancySince))
}

func TestEvaluatorSkipsDisabledAndOtherStatuses(t *testing.T) {
	f := newFixture()
	disabled := sevenDayRule()
	disabled.Enabled = false
	otherStatus := sevenDayRule()
	otherStatus.ID = "consent-7d"
	otherStatus.TriggerStatus = models.StatusPendingConsent

	f.clock.Set(day0.AddDate(0, 0, 30))
	due, err := f.evaluator.FindDueEscalations(context.Background(),
		[]models.TrackedEntity{inProgress(day0)},
		[]models.EscalationRule{disabled, otherStatus},
		f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEvaluatorCountsCalendarDays(t *testing.T) {
	f := newFixture()
	rule := sevenDayRule()
	rule.DaysThreshold = 3
	// Friday to Monday is three calendar days but one business day
	friday := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f.clock.Set(friday.AddDate(0, 0, 3))

	due, err := f.evaluator.FindDueEscalations(context.Background(),
		[]models.TrackedEntity{inProgress(friday)}, []models.EscalationRule{rule}, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 3, due[0].DaysPending)
}

func TestRecipients(t *testing.T) {
	rule := sevenDayRule()
	rule.EscalateTo = models.StringArray{"a@example.com", "recruiter-1", "a@example.com"}

	assert.Equal(t, []string{"a@example.com", "recruiter-1"}, Recipients(rule, initiator))

	rule.NotifyOriginalInitiator = true
	assert.Equal(t, []string{"a@example.com", "recruiter-1"}, Recipients(rule, initiator))

	rule.EscalateTo = models.StringArray{"a@example.com"}
	assert.Equal(t, []string{"a@example.com", "recruiter-1"}, Recipients(rule, initiator))
}

func TestConcurrentDispatchCreatesOneEvent(t *testing.T) {
	f := newFixture()
	f.clock.Set(day0.AddDate(0, 0, 7))
	entity := inProgress(day0)
	rule := sevenDayRule()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatch.Dispatch(context.Background(), entity, rule, 7)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, models.ErrEventExists)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.notifier.count())
}

func TestNotificationFailureDoesNotFailCreation(t *testing.T) {
	f := newFixture()
	f.notifier.err = notification.ErrQueueFull
	f.clock.Set(day0.AddDate(0, 0, 7))

	ev, err := f.dispatch.Dispatch(context.Background(), inProgress(day0), sevenDayRule(), 7)
	require.NoError(t, err)
	assert.False(t, ev.Dispatched)

	f.notifier.err = nil
	n, err := f.dispatch.Redispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.True(t, stored.Dispatched)

	n, err = f.dispatch.Redispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledge then resolve", func(t *testing.T) {
		f := newFixture()
		ev, err := f.dispatch.Dispatch(ctx, inProgress(day0), sevenDayRule(), 7)
		require.NoError(t, err)

		acked, err := f.dispatch.Acknowledge(ctx, ev.ID, user)
		require.NoError(t, err)
		assert.Equal(t, models.EventAcknowledged, acked.State())
		require.NotNil(t, acked.AcknowledgedBy)
		assert.Equal(t, "user-1", *acked.AcknowledgedBy)

		_, err = f.dispatch.Acknowledge(ctx, ev.ID, user)
		assert.ErrorIs(t, err, models.ErrAlreadyAcknowledged)

		notes := "candidate re-sent consent"
		resolved, err := f.dispatch.Resolve(ctx, ev.ID, user, &notes)
		require.NoError(t, err)
		assert.Equal(t, models.EventResolved, resolved.State())
		assert.Equal(t, &notes, resolved.Notes)

		_, err = f.dispatch.Resolve(ctx, ev.ID, user, nil)
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)
		_, err = f.dispatch.Acknowledge(ctx, ev.ID, user)
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)

		assert.Equal(t, []string{EventCreated, EventAcknowledged, EventResolved}, f.publisher.kinds)
	})

	t.Run("resolve without acknowledgment", func(t *testing.T) {
		f := newFixture()
		ev, err := f.dispatch.Dispatch(ctx, inProgress(day0), sevenDayRule(), 7)
		require.NoError(t, err)

		resolved, err := f.dispatch.Resolve(ctx, ev.ID, user, nil)
		require.NoError(t, err)
		assert.False(t, resolved.Acknowledged)
		assert.True(t, resolved.Resolved)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture()
		_, err := f.dispatch.Acknowledge(ctx, "missing", user)
		assert.ErrorIs(t, err, models.ErrUnknownEvent)
		_, err = f.dispatch.Resolve(ctx, "missing", user, nil)
		assert.ErrorIs(t, err, models.ErrUnknownEvent)
		_, err = f.dispatch.Reopen(ctx, "missing", admin)
		assert.ErrorIs(t, err, models.ErrUnknownEvent)
	})
}

func TestReopenAllowsSameOccupancyToEscalateAgain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	entities := []models.TrackedEntity{inProgress(day0)}
	rules := []models.EscalationRule{sevenDayRule()}
	f.clock.Set(day0.AddDate(0, 0, 7))

	created := f.evaluate(t, entities, rules)
	require.Len(t, created, 1)
	id := created[0].ID

	_, err := f.dispatch.Reopen(ctx, id, admin)
	assert.ErrorIs(t, err, models.ErrNotResolved)

	_, err = f.dispatch.Resolve(ctx, id, user, nil)
	require.NoError(t, err)
	assert.Empty(t, f.evaluate(t, entities, rules))

	_, err = f.dispatch.Reopen(ctx, id, user)
	assert.ErrorIs(t, err, models.ErrForbidden)

	reopened, err := f.dispatch.Reopen(ctx, id, admin)
	require.NoError(t, err)
	assert.True(t, reopened.Superseded)
	assert.True(t, reopened.Resolved)

	_, err = f.dispatch.Reopen(ctx, id, admin)
	assert.ErrorIs(t, err, models.ErrAlreadyReopened)

	again := f.evaluate(t, entities, rules)
	require.Len(t, again, 1)
	assert.NotEqual(t, id, again[0].ID)
}

func TestMemoryStoreListFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	other := inProgress(day0)
	other.ID = "bc-2"
	first, err := f.dispatch.Dispatch(ctx, inProgress(day0), sevenDayRule(), 7)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.dispatch.Dispatch(ctx, other, sevenDayRule(), 7)
	require.NoError(t, err)
	_, err = f.dispatch.Acknowledge(ctx, second.ID, user)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter models.EventFilter
		want   []string
	}{
		{"all newest first", models.EventFilter{}, []string{second.ID, first.ID}},
		{"open", models.EventFilter{State: models.EventOpen}, []string{first.ID}},
		{"acknowledged", models.EventFilter{State: models.EventAcknowledged}, []string{second.ID}},
		{"resolved", models.EventFilter{State: models.EventResolved}, nil},
		{"by entity", models.EventFilter{EntityID: "bc-2"}, []string{second.ID}},
		{"unresolved limited", models.EventFilter{UnresolvedOnly: true, Limit: 1}, []string{second.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.store.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, ev := range got {
				ids = append(ids, ev.ID)
			}
			if tt.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
