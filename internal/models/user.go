package models

// User is the minimal read-model of the external account system. The
// pipeline only needs a delivery address per keyword owner; account
// management itself lives elsewhere.
type User struct {
	BaseModel

	Email string `gorm:"uniqueIndex;not null" json:"email"`
	Name  string `json:"name"`

	Keywords []Keyword `gorm:"foreignKey:UserID" json:"-"`
}
