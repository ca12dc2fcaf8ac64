package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"household-reminders/internal/model"
)

func TestDialogRejectsPastDate(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	ctx := context.Background()
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	_, err := dialogs.HandleText(ctx, 5, "Купить хлеб")
	require.NoError(t, err)

	reply, err := dialogs.HandleText(ctx, 5, "01 01 2000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, hintPast, reply.Text)
	assert.Contains(t, dialogs.Describe(5), "stage=awaiting_date")

	reminders, err := f.reminders.ListForChat(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, reminders)
	assert.Empty(t, f.scheduler.scheduled)
}

func TestDialogCreatesOneOff(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	ctx := context.Background()
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	reply, err := dialogs.HandleText(ctx, 5, "  Позвонить маме ")
	require.NoError(t, err)
	assert.Contains(t, keyboardPayloads(reply.Keyboard), "day|0")
	assert.Contains(t, keyboardPayloads(reply.Keyboard), ActionCustomDate)

	// Wednesday of the same week.
	reply, err = dialogs.PickDay(5, 2)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "21.05.2025")
	assert.Contains(t, keyboardPayloads(reply.Keyboard), "time|06:00")
	assert.Contains(t, keyboardPayloads(reply.Keyboard), "time|21:00")

	reply, err = dialogs.PickTime(ctx, 5, "18:00")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Позвонить маме")
	assert.False(t, dialogs.Active(5))

	reminders, err := f.reminders.ListForChat(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	r := reminders[0]
	assert.Equal(t, model.KindOneOff, r.Kind)
	assert.Equal(t, "Позвонить маме", r.TaskName)
	assert.Equal(t, "2025-05-21", r.ScheduledDate)
	assert.Equal(t, "18:00", r.ScheduledTime)
	assert.Regexp(t, `^user_[0-9a-f]{8}$`, r.TaskKey)
	require.NotNil(t, r.NextFireAt)
	assert.True(t, r.NextFireAt.Equal(monday(18, 0).AddDate(0, 0, 2)))
	assert.Contains(t, f.scheduler.pending, r.ID)
}

func TestDialogPickTodayWithTypedDateAndTime(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	ctx := context.Background()
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	_, err := dialogs.HandleText(ctx, 5, "Вынести мусор")
	require.NoError(t, err)
	_, err = dialogs.AskCustomDate(5)
	require.NoError(t, err)
	_, err = dialogs.HandleText(ctx, 5, "19 05 2025")
	require.NoError(t, err)

	reply, err := dialogs.HandleText(ctx, 5, "08:15")
	assert.True(t, errors.Is(err, ErrValidation), "earlier today is in the past")
	assert.Equal(t, hintPast, reply.Text)
	assert.True(t, dialogs.Active(5))

	_, err = dialogs.HandleText(ctx, 5, "22:45")
	require.NoError(t, err)

	reminders, err := f.reminders.ListForChat(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "22:45", reminders[0].ScheduledTime)
}

func TestDialogFormatHints(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	ctx := context.Background()
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	_, err := dialogs.HandleText(ctx, 5, "Полить кактус")
	require.NoError(t, err)

	for _, input := range []string{"завтра", "31 02 2026", "1 2", "aa bb cccc"} {
		reply, err := dialogs.HandleText(ctx, 5, input)
		assert.True(t, errors.Is(err, ErrValidation), input)
		assert.Equal(t, hintDate, reply.Text, input)
	}

	_, err = dialogs.HandleText(ctx, 5, "20 05 2025")
	require.NoError(t, err)
	for _, input := range []string{"25:00", "10-30", "ten"} {
		reply, err := dialogs.HandleText(ctx, 5, input)
		assert.True(t, errors.Is(err, ErrValidation), input)
		assert.Equal(t, hintTime, reply.Text, input)
	}
}

func TestDialogButtonsWithoutDialog(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	dialogs := f.dialogs(f.reminderService())

	_, err := dialogs.PickDay(5, 1)
	assert.True(t, errors.Is(err, ErrNoDialog))
	_, err = dialogs.PickTime(context.Background(), 5, "10:00")
	assert.True(t, errors.Is(err, ErrNoDialog))
	_, err = dialogs.HandleText(context.Background(), 5, "hi")
	assert.True(t, errors.Is(err, ErrNoDialog))
}

func TestDialogCancel(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	assert.True(t, dialogs.Cancel(5))
	assert.False(t, dialogs.Cancel(5))
	assert.Equal(t, "stage=none", dialogs.Describe(5))
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "09:30", hour: 9, minute: 30},
		{in: "9:05", hour: 9, minute: 5},
		{in: " 23:59 ", hour: 23, minute: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1230", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			hour, minute, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, hour)
			assert.Equal(t, tt.minute, minute)
		})
	}
}

func TestDialogCancelledMidStep(t *testing.T) {
	f := newFixture(t, monday(10, 0))
	ctx := context.Background()
	dialogs := f.dialogs(f.reminderService())

	dialogs.Start(5)
	_, err := dialogs.HandleText(ctx, 5, "Купить хлеб")
	require.NoError(t, err)

	// /cancel lands between the stage check and the date being stored.
	dialogs.now = func() time.Time {
		dialogs.Cancel(5)
		return f.clock.Now()
	}
	reply, err := dialogs.PickDay(5, 2)
	assert.True(t, errors.Is(err, ErrNoDialog))
	assert.Empty(t, reply.Text)
	assert.Empty(t, reply.Keyboard)
	assert.False(t, dialogs.Active(5))
}
