package models

import "gorm.io/gorm"

// Project is a research project on the platform. A project owned by an
// institution with institutional storage enabled gets one provisioned
// Dropbox Business team folder (see ProjectStorageBinding).
type Project struct {
	gorm.Model

	GUID          string `gorm:"uniqueIndex;not null" json:"guid"`
	Title         string `gorm:"not null" json:"title"`
	InstitutionID uint   `gorm:"not null;index" json:"institution_id"`

	// Relations
	Contributors []User                 `gorm:"many2many:project_contributors" json:"-"`
	Binding      *ProjectStorageBinding `gorm:"foreignKey:ProjectID" json:"-"`
}
