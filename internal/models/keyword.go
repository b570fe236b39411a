package models

// Keyword is a per-user watch term. Keywords are owned and mutated by the
// user-facing keyword management surface; the pipeline only reads enabled
// ones.
type Keyword struct {
	BaseModel

	UserID  string `gorm:"type:uuid;index;not null;uniqueIndex:idx_keywords_user_term" json:"user_id"`
	Term    string `gorm:"not null;uniqueIndex:idx_keywords_user_term" json:"term"`
	Enabled bool   `gorm:"default:true;index" json:"enabled"`

	User *User `json:"-"`
}
