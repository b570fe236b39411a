package models

import "time"

// DigestQueueEntry batches a user's new matches for a scheduled digest
// delivery. Entries are never deleted; the Sent flag flips true exactly
// once, by the dispatcher's periodic scan, so the table doubles as an
// audit trail.
type DigestQueueEntry struct {
	BaseModel

	UserID       string    `gorm:"type:uuid;index;not null" json:"user_id"`
	Frequency    string    `gorm:"type:varchar(16);not null" json:"frequency"`
	ScheduledFor time.Time `gorm:"index;not null" json:"scheduled_for"`
	Sent         bool      `gorm:"default:false;index" json:"sent"`

	Matches []Match `gorm:"many2many:digest_queue_matches;" json:"matches,omitempty"`
	User    *User   `json:"-"`
}
