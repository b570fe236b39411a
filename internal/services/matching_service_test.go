package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/database/testutil"
	"github.com/raqeeb-app/raqeeb/internal/models"
)

func createUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, Name: "Test User"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createKeyword(t *testing.T, db *gorm.DB, userID, term string) models.Keyword {
	t.Helper()
	kw := models.Keyword{UserID: userID, Term: term, Enabled: true}
	require.NoError(t, db.Create(&kw).Error)
	return kw
}

func createAnnouncement(t *testing.T, db *gorm.DB, externalID, title, description string, publishedAt time.Time) models.Announcement {
	t.Helper()
	ann := models.Announcement{
		ExternalID:  externalID,
		Title:       title,
		Description: description,
		PublishedAt: publishedAt,
	}
	require.NoError(t, db.Create(&ann).Error)
	return ann
}

func TestMatchSinceArabicNormalizedMatching(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	user := createUser(t, db, "match@example.com")
	// Keyword uses bare alef and teh marbuta, announcement uses hamza
	// carriers; normalization must bridge the difference.
	kw := createKeyword(t, db, user.ID, "شركة الاختبار")
	ann := createAnnouncement(t, db, "101",
		"إعلان إفلاس شركة الاختبار للتجارة", "",
		now.Add(-2*time.Hour))

	svc, err := NewMatchingService(db)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	created, err := svc.MatchSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, kw.ID, created[0].Match.KeywordID)
	require.Equal(t, ann.ID, created[0].Match.AnnouncementID)
	require.Equal(t, user.ID, created[0].UserID)
	require.Equal(t, "شركة الاختبار", created[0].KeywordTerm)
}

func TestMatchSinceConjunctiveTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	user := createUser(t, db, "tokens@example.com")
	createKeyword(t, db, user.ID, "liquidation acme")
	createAnnouncement(t, db, "201", "ACME Holdings enters liquidation", "", now.Add(-time.Hour))
	createAnnouncement(t, db, "202", "ACME Holdings quarterly report", "", now.Add(-time.Hour))
	createAnnouncement(t, db, "203", "Liquidation notice for another firm", "", now.Add(-time.Hour))

	svc, err := NewMatchingService(db)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	created, err := svc.MatchSince(context.Background(), time.Time{})
	require.NoError(t, err)
	// Only the announcement containing every token matches.
	require.Len(t, created, 1)
	require.Equal(t, "201", mustLoadAnnouncement(t, db, created[0].Match.AnnouncementID).ExternalID)
}

func TestMatchSinceRespectsWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	user := createUser(t, db, "window@example.com")
	createKeyword(t, db, user.ID, "notice")
	createAnnouncement(t, db, "301", "Old notice", "", now.Add(-48*time.Hour))
	createAnnouncement(t, db, "302", "Fresh notice", "", now.Add(-time.Hour))

	svc, err := NewMatchingService(db)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	created, err := svc.MatchSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "302", mustLoadAnnouncement(t, db, created[0].Match.AnnouncementID).ExternalID)
}

func TestMatchSinceIdempotentOverOverlappingWindows(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	user := createUser(t, db, "idempotent@example.com")
	createKeyword(t, db, user.ID, "notice")
	createAnnouncement(t, db, "401", "A notice", "", now.Add(-time.Hour))

	svc, err := NewMatchingService(db)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	first, err := svc.MatchSince(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A wider, overlapping window must not duplicate the match or report
	// it as new again.
	second, err := svc.MatchSince(context.Background(), now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Empty(t, second)

	var count int64
	require.NoError(t, db.Model(&models.Match{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestMatchSinceSkipsDisabledKeywords(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	user := createUser(t, db, "disabled@example.com")
	kw := createKeyword(t, db, user.ID, "notice")
	// The default tag on Enabled means a zero value would be written as
	// true on insert, so flip it with an explicit update.
	require.NoError(t, db.Model(&kw).Update("enabled", false).Error)
	createAnnouncement(t, db, "501", "A notice", "", now.Add(-time.Hour))

	svc, err := NewMatchingService(db)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	created, err := svc.MatchSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Empty(t, created)
}

func mustLoadAnnouncement(t *testing.T, db *gorm.DB, id string) models.Announcement {
	t.Helper()
	var ann models.Announcement
	require.NoError(t, db.First(&ann, "id = ?", id).Error)
	return ann
}
