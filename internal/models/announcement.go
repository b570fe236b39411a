package models

import "time"

// Announcement is one record ingested from the external feed. Rows are
// insert-only: the feed is re-ingested repeatedly and duplicates are
// rejected on ExternalID.
type Announcement struct {
	BaseModel

	ExternalID  string    `gorm:"uniqueIndex;not null" json:"external_id"`
	Title       string    `gorm:"type:text;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	SourceURL   string    `gorm:"type:text" json:"source_url"`
	PublishedAt time.Time `gorm:"index;not null" json:"published_at"`
}
