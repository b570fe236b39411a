package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/database/testutil"
	"github.com/raqeeb-app/raqeeb/internal/models"
)

func setPreference(t *testing.T, db *gorm.DB, userID, frequency, digestDay, digestTime string, emailEnabled bool) {
	t.Helper()
	pref := models.NotificationPreference{
		UserID:     userID,
		Frequency:  frequency,
		DigestDay:  digestDay,
		DigestTime: digestTime,
	}
	require.NoError(t, db.Create(&pref).Error)
	// EmailEnabled carries a default tag, so a false value must be set
	// with an explicit update rather than on insert.
	require.NoError(t, db.Model(&pref).Update("email_enabled", emailEnabled).Error)
}

func TestNextDigestTimeWeeklyRollsToConfiguredDay(t *testing.T) {
	// Tuesday morning; the Monday 09:00 weekly slot already passed this
	// week, so the next digest lands the following Monday.
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyWeekly,
		DigestDay:  "MONDAY",
		DigestTime: "09:00",
	}

	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC), next)
	require.Equal(t, time.Monday, next.Weekday())
}

func TestNextDigestTimeWeeklySameDayBeforeSlot(t *testing.T) {
	// Monday before 09:00 still gets today's slot.
	now := time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyWeekly,
		DigestDay:  "MONDAY",
		DigestTime: "09:00",
	}

	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), next)
}

func TestNextDigestTimeWeeklySameDayAfterSlot(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyWeekly,
		DigestDay:  "MONDAY",
		DigestTime: "09:00",
	}

	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC), next)
}

func TestNextDigestTimeDailyRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyDaily,
		DigestTime: "09:00",
	}

	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC), next)
}

func TestNextDigestTimeDailySameDay(t *testing.T) {
	now := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyDaily,
		DigestTime: "09:00",
	}

	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), next)
}

func TestNextDigestTimeDefaultsOnUnparseableInput(t *testing.T) {
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	pref := models.NotificationPreference{
		Frequency:  models.FrequencyWeekly,
		DigestDay:  "SOMEDAY",
		DigestTime: "25:99",
	}

	// Falls back to Monday 09:00.
	next := NextDigestTime(pref, now)
	require.Equal(t, time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC), next)
}

func TestScheduleDefaultsToImmediate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

	user := createUser(t, db, "no-pref@example.com")
	match := seedMatch(t, db, user.ID, now)

	mailer := newStubMailer()
	dispatcher, err := NewDispatchService(db, mailer)
	require.NoError(t, err)
	svc, err := NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	result, err := svc.Schedule(context.Background(), []NewMatch{{
		Match:  match,
		UserID: user.ID,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, result.ImmediateUsers)
	require.Zero(t, result.QueuedDigests)
	require.Len(t, mailer.messages(), 1)
}

func TestScheduleDropsDisabledUsers(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

	user := createUser(t, db, "opted-out@example.com")
	setPreference(t, db, user.ID, models.FrequencyImmediate, "", "", false)
	match := seedMatch(t, db, user.ID, now)

	mailer := newStubMailer()
	dispatcher, err := NewDispatchService(db, mailer)
	require.NoError(t, err)
	svc, err := NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	result, err := svc.Schedule(context.Background(), []NewMatch{{
		Match:  match,
		UserID: user.ID,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, result.DroppedUsers)
	require.Empty(t, mailer.messages())

	// The match itself survives; only the notification is suppressed.
	var count int64
	require.NoError(t, db.Model(&models.Match{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestScheduleQueuesDigest(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC) // Tuesday

	user := createUser(t, db, "weekly@example.com")
	setPreference(t, db, user.ID, models.FrequencyWeekly, "MONDAY", "09:00", true)
	match := seedMatch(t, db, user.ID, now)

	mailer := newStubMailer()
	dispatcher, err := NewDispatchService(db, mailer)
	require.NoError(t, err)
	svc, err := NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	result, err := svc.Schedule(context.Background(), []NewMatch{{
		Match:  match,
		UserID: user.ID,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, result.QueuedDigests)
	require.Empty(t, mailer.messages())

	var entries []models.DigestQueueEntry
	require.NoError(t, db.Preload("Matches").Find(&entries).Error)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Sent)
	require.Equal(t, models.FrequencyWeekly, entries[0].Frequency)
	require.Equal(t, time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC), entries[0].ScheduledFor.UTC())
	require.Len(t, entries[0].Matches, 1)
	require.Equal(t, match.ID, entries[0].Matches[0].ID)
}

func TestScheduleReportsDigestQueueFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

	weekly := createUser(t, db, "queue-broken@example.com")
	setPreference(t, db, weekly.ID, models.FrequencyWeekly, "MONDAY", "09:00", true)
	weeklyMatch := seedMatch(t, db, weekly.ID, now)

	immediate := createUser(t, db, "queue-healthy@example.com")
	immediateMatch := seedMatch(t, db, immediate.ID, now)

	mailer := newStubMailer()
	dispatcher, err := NewDispatchService(db, mailer)
	require.NoError(t, err)
	svc, err := NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	// Force the queue insert to fail while leaving the rest of the schema
	// intact.
	require.NoError(t, db.Migrator().DropTable(&models.DigestQueueEntry{}))

	result, err := svc.Schedule(context.Background(), []NewMatch{
		{Match: weeklyMatch, UserID: weekly.ID},
		{Match: immediateMatch, UserID: immediate.ID},
	})
	require.NoError(t, err)
	require.Zero(t, result.QueuedDigests)
	require.Equal(t, 1, result.FailedUsers)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], weekly.ID)

	// Other users still get their immediate delivery.
	require.Equal(t, 1, result.ImmediateUsers)
	require.Len(t, mailer.messages(), 1)
	require.Equal(t, []string{immediate.Email}, mailer.messages()[0].To)
}

func TestScheduleImmediateFailureDoesNotBlockOthers(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

	broken := createUser(t, db, "sched-broken@example.com")
	healthy := createUser(t, db, "sched-healthy@example.com")
	brokenMatch := seedMatch(t, db, broken.ID, now)
	healthyMatch := seedMatch(t, db, healthy.ID, now)

	mailer := newStubMailer()
	mailer.failFor[broken.Email] = errors.New("smtp: unreachable")

	dispatcher, err := NewDispatchService(db, mailer)
	require.NoError(t, err)
	svc, err := NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	result, err := svc.Schedule(context.Background(), []NewMatch{
		{Match: brokenMatch, UserID: broken.ID},
		{Match: healthyMatch, UserID: healthy.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.ImmediateUsers)

	msgs := mailer.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, []string{healthy.Email}, msgs[0].To)
}
