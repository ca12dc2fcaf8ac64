package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"household-reminders/internal/logger"
	"household-reminders/internal/model"
)

// DueHandler receives reminders whose fire time has elapsed.
type DueHandler func(ctx context.Context, event model.DueEvent) error

// Generator materializes the recurring instances of the current day.
type Generator interface {
	Run(ctx context.Context) (GenerationReport, error)
}

type pendingShot struct {
	entry  cron.EntryID
	at     time.Time
	chatID *int64
}

// SchedulerService wraps cron-based jobs: the daily generation tick, recurring nudges per chat and
// single-shot fire times per reminder.
type SchedulerService struct {
	cron       *cron.Cron
	loc        *time.Location
	store      ReminderStore
	chats      ChatStore
	catalog    *Catalog
	generator  Generator
	locks      *RecordLocks
	dailyAt    string
	jobTimeout time.Duration
	now        func() time.Time
	spawn      func(func())

	// maintenance serializes generator runs with restart reconciliation.
	maintenance sync.Mutex

	mu          sync.Mutex
	onDue       DueHandler
	chatEntries map[int64][]cron.EntryID
	oneShots    map[uint]*pendingShot
}

func NewSchedulerService(loc *time.Location, store ReminderStore, chats ChatStore, catalog *Catalog, generator Generator, locks *RecordLocks, dailyAt string) *SchedulerService {
	if dailyAt == "" {
		dailyAt = "00:01"
	}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger.Std()))),
		),
		loc:         loc,
		store:       store,
		chats:       chats,
		catalog:     catalog,
		generator:   generator,
		locks:       locks,
		dailyAt:     dailyAt,
		jobTimeout:  30 * time.Second,
		now:         time.Now,
		spawn:       func(f func()) { go f() },
		chatEntries: make(map[int64][]cron.EntryID),
		oneShots:    make(map[uint]*pendingShot),
	}
}

// OnDue sets the receiver of due reminders.
func (s *SchedulerService) OnDue(handler DueHandler) {
	s.mu.Lock()
	s.onDue = handler
	s.mu.Unlock()
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(timeStr string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

// Start generates today's instances, arms every registered chat, recovers outstanding fire times
// and starts the cron loop. Fire times that elapsed while the process was down are fired at once.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.maintenance.Lock()
	defer s.maintenance.Unlock()

	if _, err := s.generator.Run(ctx); err != nil {
		logger.Error("startup generation", err)
	}

	if _, err := s.ScheduleDaily(s.dailyAt, s.runDaily); err != nil {
		return fmt.Errorf("schedule daily generation: %w", err)
	}

	chats, err := s.chats.ListAll(ctx)
	if err != nil {
		return NewStorageError("list registered chats", err)
	}
	for _, chat := range chats {
		if err := s.ArmChat(chat.ChatID); err != nil {
			return err
		}
	}

	if err := s.reconcile(ctx); err != nil {
		return err
	}

	s.cron.Start()
	logger.Info("scheduler started", zap.Int("chats", len(chats)), zap.String("daily_at", s.dailyAt))
	return nil
}

func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ArmChat registers the recurring nudges of every template for the chat. Arming an armed chat is a no-op.
func (s *SchedulerService) ArmChat(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chatEntries[chatID]; ok {
		return nil
	}

	from := s.now()
	entries := make([]cron.EntryID, 0, len(s.catalog.All()))
	for _, tmpl := range s.catalog.All() {
		rule, err := templateRule(tmpl, s.loc, from)
		if err != nil {
			for _, id := range entries {
				s.cron.Remove(id)
			}
			return err
		}
		tmpl := tmpl
		entries = append(entries, s.cron.Schedule(ruleSchedule{rule: rule}, cron.FuncJob(func() {
			s.fireRecurring(chatID, tmpl)
		})))
	}
	s.chatEntries[chatID] = entries
	logger.Info("chat armed", zap.Int64("chat_id", chatID), zap.Int("templates", len(entries)))
	return nil
}

// DisarmChat removes the recurring nudges of the chat.
func (s *SchedulerService) DisarmChat(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.chatEntries[chatID]
	if !ok {
		return
	}
	for _, id := range entries {
		s.cron.Remove(id)
	}
	delete(s.chatEntries, chatID)
	logger.Info("chat disarmed", zap.Int64("chat_id", chatID))
}

// ScheduleOneShot fires the reminder once at the given instant, replacing any earlier single shot of it.
// chatID pins the destination; nil resolves destinations from the record when it fires.
func (s *SchedulerService) ScheduleOneShot(id uint, at time.Time, chatID *int64) {
	shot := &pendingShot{at: at}
	if chatID != nil {
		dest := *chatID
		shot.chatID = &dest
	}

	s.mu.Lock()
	s.dropShotLocked(id)
	s.oneShots[id] = shot
	if at.Before(s.now().Add(time.Second)) {
		s.mu.Unlock()
		s.spawn(func() { s.fireOneShot(id, shot) })
		return
	}
	shot.entry = s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		s.fireOneShot(id, shot)
	}))
	s.mu.Unlock()
}

// Cancel drops the pending single shot of the reminder, if any.
func (s *SchedulerService) Cancel(id uint) {
	s.mu.Lock()
	s.dropShotLocked(id)
	s.mu.Unlock()
}

// NextOccurrence returns the first fire time of the template strictly after the given instant.
func (s *SchedulerService) NextOccurrence(tmpl model.TaskTemplate, after time.Time) (time.Time, error) {
	rule, err := templateRule(tmpl, s.loc, after)
	if err != nil {
		return time.Time{}, err
	}
	next := rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("template %q has no upcoming occurrence", tmpl.Key)
	}
	return next.In(s.loc), nil
}

func (s *SchedulerService) dropShotLocked(id uint) {
	shot, ok := s.oneShots[id]
	if !ok {
		return
	}
	if shot.entry != 0 {
		s.cron.Remove(shot.entry)
	}
	delete(s.oneShots, id)
}

func (s *SchedulerService) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.maintenance.Lock()
	defer s.maintenance.Unlock()

	if _, err := s.generator.Run(ctx); err != nil {
		logger.Error("daily generation", err)
	}
}

// reconcile re-arms the fire times recorded in the store.
func (s *SchedulerService) reconcile(ctx context.Context) error {
	now := s.now()
	reminders, err := s.store.ListArmable(ctx, model.DateOf(now, s.loc))
	if err != nil {
		return NewStorageError("list armable reminders", err)
	}

	var armed, fired int
	for _, r := range reminders {
		if r.NextFireAt.After(now) {
			if r.Kind == model.KindRecurring && r.IsRegularSlot(s.loc) {
				continue
			}
			s.ScheduleOneShot(r.ID, *r.NextFireAt, nil)
			armed++
			continue
		}
		shot := &pendingShot{at: *r.NextFireAt}
		s.mu.Lock()
		s.dropShotLocked(r.ID)
		s.oneShots[r.ID] = shot
		s.mu.Unlock()
		s.fireOneShot(r.ID, shot)
		fired++
	}
	logger.Info("fire times reconciled", zap.Int("armed", armed), zap.Int("fired_late", fired))
	return nil
}

func (s *SchedulerService) fireRecurring(chatID int64, tmpl model.TaskTemplate) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	today := model.DateOf(s.now(), s.loc)
	reminder, err := s.store.Find(ctx, tmpl.Key, today, model.KindRecurring)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.maintenance.Lock()
		_, genErr := s.generator.Run(ctx)
		s.maintenance.Unlock()
		if genErr != nil {
			logger.Error("generation before fire", genErr, zap.String("task_key", tmpl.Key))
		}
		reminder, err = s.store.Find(ctx, tmpl.Key, today, model.KindRecurring)
	}
	if err != nil {
		logger.Error("recurring fire lookup", err, zap.String("task_key", tmpl.Key), zap.Int64("chat_id", chatID))
		return
	}

	due, err := s.claim(ctx, reminder.ID)
	if err != nil {
		logger.Error("recurring fire", err, zap.Uint("reminder_id", reminder.ID))
		return
	}
	if due == nil {
		return
	}
	s.emit(ctx, model.DueEvent{ChatID: chatID, ReminderID: due.ID, TaskKey: due.TaskKey})
}

func (s *SchedulerService) fireOneShot(id uint, shot *pendingShot) {
	s.mu.Lock()
	if s.oneShots[id] != shot {
		// Replaced or cancelled after this fire was dispatched.
		s.mu.Unlock()
		return
	}
	s.dropShotLocked(id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	due, err := s.claim(ctx, id)
	if err != nil {
		logger.Error("single shot fire", err, zap.Uint("reminder_id", id))
		return
	}
	if due == nil {
		return
	}

	destinations, err := s.destinations(ctx, *due, shot.chatID)
	if err != nil {
		logger.Error("resolve destinations", err, zap.Uint("reminder_id", id))
		return
	}
	if len(destinations) == 0 {
		logger.Warn("due reminder has no destination", zap.Uint("reminder_id", id), zap.String("task_key", due.TaskKey))
		return
	}
	for _, chatID := range destinations {
		s.emit(ctx, model.DueEvent{ChatID: chatID, ReminderID: due.ID, TaskKey: due.TaskKey})
	}
}

// claim reloads the reminder under its lock and consumes its outstanding fire time.
// It returns nil when the reminder is gone or already completed.
func (s *SchedulerService) claim(ctx context.Context, id uint) (*model.Reminder, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	reminder, err := s.store.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reminder.IsCompleted {
		return nil, nil
	}
	if reminder.NextFireAt != nil && !reminder.NextFireAt.After(s.now().Add(time.Second)) {
		if err := s.store.SetNextFire(ctx, id, nil); err != nil {
			return nil, err
		}
		reminder.NextFireAt = nil
	}
	return reminder, nil
}

func (s *SchedulerService) destinations(ctx context.Context, r model.Reminder, pinned *int64) ([]int64, error) {
	if pinned != nil {
		return []int64{*pinned}, nil
	}
	if r.Kind == model.KindOneOff {
		if r.ChatID == nil {
			return nil, nil
		}
		return []int64{*r.ChatID}, nil
	}
	chats, err := s.chats.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ChatID)
	}
	return ids, nil
}

func (s *SchedulerService) emit(ctx context.Context, event model.DueEvent) {
	s.mu.Lock()
	handler := s.onDue
	s.mu.Unlock()

	if handler == nil {
		logger.Warn("no due handler", zap.Uint("reminder_id", event.ReminderID))
		return
	}
	if err := handler(ctx, event); err != nil {
		logger.Error("deliver due reminder", err,
			zap.Int64("chat_id", event.ChatID),
			zap.Uint("reminder_id", event.ReminderID),
			zap.String("task_key", event.TaskKey),
		)
	}
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
