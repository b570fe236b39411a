package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification channels and statuses recorded in the delivery history.
const (
	ChannelEmail       = "EMAIL"
	ChannelEmailDigest = "EMAIL_DIGEST"

	StatusSent   = "SENT"
	StatusFailed = "FAILED"
)

// NotificationHistoryRecord captures exactly one delivery attempt,
// immutable once written. MatchIDs keeps the associated match identifiers
// as a JSON array so the record stays self-contained even if match rows
// are archived.
type NotificationHistoryRecord struct {
	BaseModel

	UserID  string `gorm:"type:uuid;index;not null" json:"user_id"`
	Channel string `gorm:"type:varchar(32);not null" json:"channel"`
	Status  string `gorm:"type:varchar(16);not null" json:"status"`

	Subject string `gorm:"type:text" json:"subject"`
	Content string `gorm:"type:text" json:"content"`
	Error   string `gorm:"type:text" json:"error,omitempty"`

	MatchIDs datatypes.JSON `json:"match_ids"`
	SentAt   time.Time      `gorm:"index" json:"sent_at"`
}
