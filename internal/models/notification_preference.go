package models

// Delivery frequencies supported by notification preferences.
const (
	FrequencyImmediate = "IMMEDIATE"
	FrequencyDaily     = "DAILY"
	FrequencyWeekly    = "WEEKLY"
)

// NotificationPreference is the per-user delivery policy, owned by the
// external settings surface and read-only to the pipeline. DigestDay is a
// weekday name (e.g. "MONDAY") and only meaningful for weekly digests;
// DigestTime is "HH:MM" local to the server clock.
type NotificationPreference struct {
	BaseModel

	UserID       string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	EmailEnabled bool   `gorm:"default:true" json:"email_enabled"`
	Frequency    string `gorm:"type:varchar(16);default:'IMMEDIATE'" json:"frequency"`
	DigestDay    string `gorm:"type:varchar(16)" json:"digest_day"`
	DigestTime   string `gorm:"type:varchar(8)" json:"digest_time"`

	User *User `json:"-"`
}
