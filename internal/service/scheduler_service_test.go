package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"household-reminders/internal/model"
)

type dueRecorder struct {
	mu     sync.Mutex
	events []model.DueEvent
}

func (r *dueRecorder) handle(_ context.Context, event model.DueEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *dueRecorder) all() []model.DueEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DueEvent(nil), r.events...)
}

// isArmed reports whether the chat has recurring nudges registered.
func (s *SchedulerService) isArmed(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chatEntries[chatID]
	return ok
}

// hasPending reports whether the reminder has a single shot waiting.
func (s *SchedulerService) hasPending(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.oneShots[id]
	return ok
}

// pendingAt returns the instant of the reminder's waiting single shot.
func (s *SchedulerService) pendingAt(id uint) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shot, ok := s.oneShots[id]
	if !ok {
		return time.Time{}, false
	}
	return shot.at, true
}

func (f *fixture) engine(t *testing.T) (*SchedulerService, *dueRecorder) {
	t.Helper()
	s := NewSchedulerService(testLoc, f.reminders, f.chats, f.catalog, f.recurrence(), f.locks, "00:01")
	s.now = f.clock.Now
	s.spawn = func(fn func()) { fn() }
	rec := &dueRecorder{}
	s.OnDue(rec.handle)
	t.Cleanup(s.Stop)
	return s, rec
}

func TestScheduleOneShotReplacesAndCancels(t *testing.T) {
	f := newFixture(t, monday(9, 0))
	s, rec := f.engine(t)

	s.ScheduleOneShot(10, monday(9, 30), nil)
	s.ScheduleOneShot(10, monday(9, 45), nil)

	at, ok := s.pendingAt(10)
	require.True(t, ok)
	assert.True(t, at.Equal(monday(9, 45)))
	assert.Len(t, s.cron.Entries(), 1)

	s.Cancel(10)
	assert.False(t, s.hasPending(10))
	assert.Empty(t, s.cron.Entries())
	assert.Empty(t, rec.all())
}

func TestOneShotFiresToPinnedChat(t *testing.T) {
	f := newFixture(t, monday(9, 30))
	s, rec := f.engine(t)
	f.register(t, 1)
	f.register(t, 2)
	snoozed := monday(9, 30)
	r := f.insert(t, model.Reminder{TaskKey: "garden_morning", ScheduledDate: "2025-05-19", ChatID: chatPtr(1), NextFireAt: &snoozed})

	s.ScheduleOneShot(r.ID, snoozed, chatPtr(2))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.DueEvent{ChatID: 2, ReminderID: r.ID, TaskKey: "garden_morning"}, events[0])
	assert.Nil(t, f.get(t, r.ID).NextFireAt)
	assert.False(t, s.hasPending(r.ID))
}

func TestOneShotSkipsCompletedReminder(t *testing.T) {
	f := newFixture(t, monday(9, 30))
	s, rec := f.engine(t)
	r := f.insert(t, model.Reminder{TaskKey: "user_00aa11bb", ScheduledDate: "2025-05-19", Kind: model.KindOneOff, ChatID: chatPtr(1)})
	require.NoError(t, f.reminders.UpdateCompletion(context.Background(), r.ID, model.ActorUser, monday(9, 0)))

	s.ScheduleOneShot(r.ID, monday(9, 0), nil)
	assert.Empty(t, rec.all())

	s.ScheduleOneShot(999, monday(9, 0), nil)
	assert.Empty(t, rec.all())
}

func TestRecurringFireGeneratesMissingInstance(t *testing.T) {
	f := newFixture(t, monday(9, 0))
	s, rec := f.engine(t)
	f.register(t, 1)
	tmpl, ok := f.catalog.Get("garden_morning")
	require.True(t, ok)

	s.fireRecurring(1, tmpl)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].ChatID)
	assert.Equal(t, "garden_morning", events[0].TaskKey)

	row, err := f.reminders.Find(context.Background(), "garden_morning", "2025-05-19", model.KindRecurring)
	require.NoError(t, err)
	assert.Equal(t, row.ID, events[0].ReminderID)
}

func TestRecurringFireSkipsCompleted(t *testing.T) {
	f := newFixture(t, monday(9, 0))
	s, rec := f.engine(t)
	slot := monday(9, 0)
	r := f.insert(t, model.Reminder{TaskKey: "garden_morning", ScheduledDate: "2025-05-19", NextFireAt: &slot})
	require.NoError(t, f.reminders.UpdateCompletion(context.Background(), r.ID, model.ActorRain, monday(8, 0)))
	tmpl, _ := f.catalog.Get("garden_morning")

	s.fireRecurring(1, tmpl)
	assert.Empty(t, rec.all())
}

func TestStartReconcilesStoredFireTimes(t *testing.T) {
	f := newFixture(t, monday(10, 30))
	ctx := context.Background()
	s, rec := f.engine(t)
	f.register(t, 1)

	missed := monday(8, 0)
	upcoming := monday(12, 0)
	late := f.insert(t, model.Reminder{TaskKey: "user_aaaa0001", ScheduledDate: "2025-05-19", ScheduledTime: "08:00", Kind: model.KindOneOff, ChatID: chatPtr(1), NextFireAt: &missed})
	later := f.insert(t, model.Reminder{TaskKey: "user_aaaa0002", ScheduledDate: "2025-05-19", ScheduledTime: "12:00", Kind: model.KindOneOff, ChatID: chatPtr(1), NextFireAt: &upcoming})

	require.NoError(t, s.Start(ctx))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, late.ID, events[0].ReminderID)
	assert.Nil(t, f.get(t, late.ID).NextFireAt)

	at, ok := s.pendingAt(later.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(upcoming))
	assert.True(t, s.isArmed(1))

	// Regular recurring slots are left to the chat's rule entries.
	evening, err := f.reminders.Find(ctx, "garden_evening", "2025-05-19", model.KindRecurring)
	require.NoError(t, err)
	require.NotNil(t, evening.NextFireAt)
	assert.False(t, s.hasPending(evening.ID))
}

func TestStartFiresMissedRecurringToEveryChat(t *testing.T) {
	f := newFixture(t, monday(9, 40))
	s, rec := f.engine(t)
	f.register(t, 1)
	f.register(t, 2)
	slot := monday(9, 0)
	r := f.insert(t, model.Reminder{TaskKey: "garden_morning", ScheduledDate: "2025-05-19", ChatID: chatPtr(1), NextFireAt: &slot})

	require.NoError(t, s.Start(context.Background()))

	var chats []int64
	for _, e := range rec.all() {
		if e.ReminderID == r.ID {
			chats = append(chats, e.ChatID)
		}
	}
	assert.ElementsMatch(t, []int64{1, 2}, chats)
}

func TestArmAndDisarmChat(t *testing.T) {
	f := newFixture(t, monday(9, 0))
	s, _ := f.engine(t)

	require.NoError(t, s.ArmChat(1))
	require.NoError(t, s.ArmChat(1))
	assert.Len(t, s.cron.Entries(), len(f.catalog.All()))

	s.DisarmChat(1)
	assert.False(t, s.isArmed(1))
	assert.Empty(t, s.cron.Entries())
}

func TestNextOccurrence(t *testing.T) {
	f := newFixture(t, monday(9, 0))
	s, _ := f.engine(t)
	flowers, ok := f.catalog.Get("flowers")
	require.True(t, ok)

	next, err := s.NextOccurrence(flowers, monday(9, 0))
	require.NoError(t, err)
	assert.True(t, next.Equal(monday(10, 0)), next.String())

	// Strictly after: the next active day is Thursday.
	next, err = s.NextOccurrence(flowers, monday(10, 0))
	require.NoError(t, err)
	assert.True(t, next.Equal(monday(10, 0).AddDate(0, 0, 3)), next.String())

	dishes, _ := f.catalog.Get("dishwasher")
	next, err = s.NextOccurrence(dishes, monday(23, 0))
	require.NoError(t, err)
	assert.True(t, next.Equal(monday(21, 30).AddDate(0, 0, 1)), next.String())
}

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("00:01")
	require.NoError(t, err)
	assert.Equal(t, "0 1 0 * * *", spec)

	for _, bad := range []string{"", "24:00", "7", "ab:cd", "10:75"} {
		_, err := buildDailySpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestOnceScheduleFiresOnce(t *testing.T) {
	at := monday(9, 0)
	s := onceSchedule{at: at}
	assert.True(t, s.Next(at.Add(-time.Minute)).Equal(at))
	assert.True(t, s.Next(at).IsZero())
}

func TestUndoneOneOffFiresAgain(t *testing.T) {
	f := newFixture(t, monday(9, 5))
	ctx := context.Background()
	s, rec := f.engine(t)
	reminders := NewReminderService(f.reminders, f.catalog, s, f.messenger, testLoc)
	reminders.now = f.clock.Now
	transitions := NewTransitionService(f.reminders, f.catalog, s, f.locks, testLoc, 30*time.Minute)
	transitions.now = f.clock.Now

	r, err := reminders.CreateOneOff(ctx, 7, "Оплатить аренду", monday(18, 0))
	require.NoError(t, err)
	require.True(t, s.hasPending(r.ID))

	_, err = transitions.MarkDone(ctx, 7, r.ID, model.ActorUser)
	require.NoError(t, err)
	assert.False(t, s.hasPending(r.ID))

	_, err = transitions.Undo(ctx, 7, r.ID)
	require.NoError(t, err)
	at, ok := s.pendingAt(r.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(monday(18, 0)))

	f.clock.Set(monday(18, 0))
	s.fireOneShot(r.ID, s.oneShots[r.ID])
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.DueEvent{ChatID: 7, ReminderID: r.ID, TaskKey: r.TaskKey}, events[0])
}
