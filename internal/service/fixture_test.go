package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"household-reminders/internal/config"
	"household-reminders/internal/model"
	"household-reminders/internal/repository"
)

var testLoc = time.FixedZone("ICT", 7*60*60)

// monday 2025-05-19 at the given local time.
func monday(hour, minute int) time.Time {
	return time.Date(2025, 5, 19, hour, minute, 0, 0, testLoc)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeScheduler struct {
	mu        sync.Mutex
	pending   map[uint]time.Time
	pinned    map[uint]int64
	scheduled []uint
	cancelled []uint
	armed     map[int64]bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending: make(map[uint]time.Time),
		pinned:  make(map[uint]int64),
		armed:   make(map[int64]bool),
	}
}

func (f *fakeScheduler) ScheduleOneShot(id uint, at time.Time, chatID *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[id] = at
	delete(f.pinned, id)
	if chatID != nil {
		f.pinned[id] = *chatID
	}
	f.scheduled = append(f.scheduled, id)
}

func (f *fakeScheduler) Cancel(id uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	delete(f.pinned, id)
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeScheduler) ArmChat(chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[chatID] = true
	return nil
}

func (f *fakeScheduler) DisarmChat(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, chatID)
}

func (f *fakeScheduler) NextOccurrence(tmpl model.TaskTemplate, after time.Time) (time.Time, error) {
	return after.Add(time.Hour), nil
}

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard model.Keyboard
}

type editedMessage struct {
	Ref      model.MessageRef
	Text     string
	Keyboard model.Keyboard
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sentMessage
	edited []editedMessage
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, keyboard model.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Keyboard: keyboard})
	return nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, ref model.MessageRef, text string, keyboard model.Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, editedMessage{Ref: ref, Text: text, Keyboard: keyboard})
	return nil
}

func (m *fakeMessenger) lastSent(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no message sent")
	return m.sent[len(m.sent)-1]
}

func (m *fakeMessenger) lastEdited(t *testing.T) editedMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.edited, "no message edited")
	return m.edited[len(m.edited)-1]
}

type fixture struct {
	db        *gorm.DB
	reminders *repository.ReminderRepository
	chats     *repository.ChatRepository
	catalog   *Catalog
	scheduler *fakeScheduler
	messenger *fakeMessenger
	locks     *RecordLocks
	clock     *testClock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.NewDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := newTestDB(t)
	return &fixture{
		db:        db,
		reminders: repository.NewReminderRepository(db),
		chats:     repository.NewChatRepository(db),
		catalog:   NewCatalog(config.DefaultTemplates()),
		scheduler: newFakeScheduler(),
		messenger: &fakeMessenger{},
		locks:     NewRecordLocks(),
		clock:     &testClock{t: now},
	}
}

func (f *fixture) recurrence() *RecurrenceService {
	svc := NewRecurrenceService(f.reminders, f.chats, f.catalog, testLoc, 7)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) transitions() *TransitionService {
	svc := NewTransitionService(f.reminders, f.catalog, f.scheduler, f.locks, testLoc, 30*time.Minute)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) reminderService() *ReminderService {
	svc := NewReminderService(f.reminders, f.catalog, f.scheduler, f.messenger, testLoc)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) dialogs(reminders *ReminderService) *DialogService {
	svc := NewDialogService(reminders, testLoc)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) chatService() *ChatService {
	reminders := f.reminderService()
	svc := NewChatService(f.chats, f.reminders, f.catalog, f.scheduler, reminders, f.transitions(), f.dialogs(reminders), f.messenger)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) register(t *testing.T, chatID int64) {
	t.Helper()
	_, _, err := f.chats.Register(context.Background(), chatID, "home")
	require.NoError(t, err)
}

// insert stores a reminder for the test, filling the defaults of a recurring instance.
func (f *fixture) insert(t *testing.T, r model.Reminder) *model.Reminder {
	t.Helper()
	if r.Kind == "" {
		r.Kind = model.KindRecurring
	}
	if r.TaskName == "" {
		r.TaskName = r.TaskKey
	}
	if r.ScheduledTime == "" {
		r.ScheduledTime = "09:00"
	}
	require.NoError(t, f.reminders.Insert(context.Background(), &r))
	return &r
}

func (f *fixture) get(t *testing.T, id uint) *model.Reminder {
	t.Helper()
	r, err := f.reminders.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

// closeDB makes every later store call fail.
func (f *fixture) closeDB(t *testing.T) {
	t.Helper()
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func chatPtr(id int64) *int64 {
	return &id
}

func keyboardPayloads(k model.Keyboard) []string {
	var payloads []string
	for _, row := range k {
		for _, b := range row {
			payloads = append(payloads, b.Payload)
		}
	}
	return payloads
}
