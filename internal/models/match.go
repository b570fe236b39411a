package models

// Match links one Keyword to one Announcement whose normalized text
// satisfies the matching rule. The pair is unique for all time; repeated
// matching runs over overlapping windows rely on the constraint to stay
// idempotent.
type Match struct {
	BaseModel

	KeywordID      string `gorm:"type:uuid;not null;uniqueIndex:idx_matches_keyword_announcement" json:"keyword_id"`
	AnnouncementID string `gorm:"type:uuid;not null;uniqueIndex:idx_matches_keyword_announcement" json:"announcement_id"`

	Keyword      *Keyword      `json:"keyword,omitempty"`
	Announcement *Announcement `json:"announcement,omitempty"`
}
