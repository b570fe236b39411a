package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/database/testutil"
	"github.com/raqeeb-app/raqeeb/internal/feed"
	"github.com/raqeeb-app/raqeeb/internal/models"
	"github.com/raqeeb-app/raqeeb/internal/services"
	"github.com/raqeeb-app/raqeeb/pkg/mail"
)

type stubFetcher struct {
	records []feed.Record
	dropped []feed.RecordError
	err     error
}

func (f *stubFetcher) Fetch(context.Context) ([]feed.Record, []feed.RecordError, error) {
	return f.records, f.dropped, f.err
}

type captureMailer struct {
	sent []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func buildPipeline(t *testing.T, db *gorm.DB, fetcher Fetcher, now func() time.Time) (*Pipeline, *captureMailer) {
	t.Helper()

	mailer := &captureMailer{}
	announcements, err := services.NewAnnouncementService(db)
	require.NoError(t, err)
	matching, err := services.NewMatchingService(db)
	require.NoError(t, err)
	matching.WithClock(now)
	dispatcher, err := services.NewDispatchService(db, mailer)
	require.NoError(t, err)
	dispatcher.WithClock(now)
	scheduler, err := services.NewSchedulerService(db, dispatcher)
	require.NoError(t, err)
	scheduler.WithClock(now)

	pipe, err := New(Options{
		Fetcher:       fetcher,
		Announcements: announcements,
		Matching:      matching,
		Scheduler:     scheduler,
		Dispatcher:    dispatcher,
		Now:           now,
	})
	require.NoError(t, err)
	return pipe, mailer
}

func TestIngestEndToEndImmediateAndDigest(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	// Tuesday morning.
	current := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	immediate := models.User{Email: "now@example.com", Name: "Now"}
	require.NoError(t, db.Create(&immediate).Error)
	require.NoError(t, db.Create(&models.Keyword{
		UserID: immediate.ID, Term: "liquidation", Enabled: true,
	}).Error)

	weekly := models.User{Email: "weekly@example.com", Name: "Weekly"}
	require.NoError(t, db.Create(&weekly).Error)
	require.NoError(t, db.Create(&models.Keyword{
		UserID: weekly.ID, Term: "liquidation", Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&models.NotificationPreference{
		UserID:     weekly.ID,
		Frequency:  models.FrequencyWeekly,
		DigestDay:  "MONDAY",
		DigestTime: "09:00",
	}).Error)

	fetcher := &stubFetcher{records: []feed.Record{
		{ExternalID: "901", Title: "ACME liquidation started", PublishedAt: current.Add(-time.Hour)},
	}}
	pipe, mailer := buildPipeline(t, db, fetcher, now)

	summary, err := pipe.Ingest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Fetched)
	require.Equal(t, 1, summary.Stored)
	require.Equal(t, 2, summary.NewMatches)
	require.Equal(t, 1, summary.ImmediateUsers)
	require.Equal(t, 1, summary.QueuedDigests)

	// Only the immediate user hears about it right away.
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{immediate.Email}, mailer.sent[0].To)

	// Advance to the Monday 09:00 slot and drain the digest queue.
	current = time.Date(2024, 1, 22, 9, 0, 1, 0, time.UTC)
	digest, err := pipe.ProcessDigests(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, digest.Processed)
	require.Len(t, mailer.sent, 2)
	require.Equal(t, []string{weekly.Email}, mailer.sent[1].To)
	require.Contains(t, mailer.sent[1].Body, "ACME liquidation started")
}

func TestIngestIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	user := models.User{Email: "repeat@example.com", Name: "Repeat"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Keyword{
		UserID: user.ID, Term: "notice", Enabled: true,
	}).Error)

	fetcher := &stubFetcher{records: []feed.Record{
		{ExternalID: "902", Title: "Repeated notice", PublishedAt: current.Add(-time.Hour)},
	}}
	pipe, mailer := buildPipeline(t, db, fetcher, now)

	first, err := pipe.Ingest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Stored)
	require.Equal(t, 1, first.NewMatches)

	second, err := pipe.Ingest(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Stored)
	require.Zero(t, second.NewMatches)

	require.Len(t, mailer.sent, 1)
}

func TestIngestCarriesRecordErrors(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{
		records: []feed.Record{
			{ExternalID: "903", Title: "Valid", PublishedAt: current.Add(-time.Hour)},
		},
		dropped: []feed.RecordError{
			{ID: "904", Reason: "Header must be a non-empty string"},
		},
	}
	pipe, _ := buildPipeline(t, db, fetcher, func() time.Time { return current })

	summary, err := pipe.Ingest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stored)
	require.Len(t, summary.RecordErrors, 1)
	require.Equal(t, "904", summary.RecordErrors[0].ID)
}

func TestIngestAbortsOnFeedFailure(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	pipe, mailer := buildPipeline(t, db, &stubFetcher{err: feed.ErrUnavailable}, time.Now)

	_, err := pipe.Ingest(context.Background())
	require.ErrorIs(t, err, feed.ErrUnavailable)
	require.Empty(t, mailer.sent)

	var count int64
	require.NoError(t, db.Model(&models.Announcement{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateMatchesUsesExplicitWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	user := models.User{Email: "window@example.com", Name: "Window"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Keyword{
		UserID: user.ID, Term: "notice", Enabled: true,
	}).Error)
	require.NoError(t, db.Create(&models.Announcement{
		ExternalID:  "905",
		Title:       "Old notice",
		PublishedAt: current.Add(-90 * 24 * time.Hour),
	}).Error)

	pipe, _ := buildPipeline(t, db, &stubFetcher{}, now)

	// Default window misses the old announcement.
	summary, err := pipe.CreateMatches(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Zero(t, summary.NewMatches)

	// An explicit backfill window picks it up.
	summary, err = pipe.CreateMatches(context.Background(), current.Add(-365*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, summary.NewMatches)
}
