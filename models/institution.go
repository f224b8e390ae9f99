package models

import "gorm.io/gorm"

// Institution represents a research institution whose storage is managed
// centrally through a Dropbox Business team.
type Institution struct {
	gorm.Model

	Name string `gorm:"not null" json:"name"`
	GUID string `gorm:"uniqueIndex;not null" json:"guid"`

	// Relations
	Users    []User      `gorm:"foreignKey:InstitutionID" json:"-"`
	Projects []Project   `gorm:"foreignKey:InstitutionID" json:"-"`
	Team     *TeamOption `gorm:"foreignKey:InstitutionID" json:"-"`
}
