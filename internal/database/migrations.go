package database

import (
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Uniqueness constraints on Announcement.ExternalID and on the
// (Match.KeywordID, Match.AnnouncementID) pair are the pipeline's sole
// concurrency-safety mechanism, so the schema must exist before any stage
// runs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Announcement{},
		&models.Keyword{},
		&models.Match{},
		&models.NotificationPreference{},
		&models.DigestQueueEntry{},
		&models.NotificationHistoryRecord{},
	)
}
