package models

import (
	"gorm.io/gorm"
)

// User represents a local platform user that may also be a member of an
// institution's Dropbox Business team.
type User struct {
	gorm.Model

	Email string  `gorm:"uniqueIndex;not null" json:"email"`
	Name  *string `json:"name,omitempty"`

	// ExternalAccountID is the Dropbox account id ("dbid:...") of this
	// user's linked team account, when known. Used to attribute remote
	// file changes to local users.
	ExternalAccountID *string `gorm:"index" json:"external_account_id,omitempty"`

	InstitutionID *uint `gorm:"index" json:"institution_id,omitempty"`

	IsActive bool `gorm:"default:true" json:"is_active"`
	IsAdmin  bool `gorm:"default:false" json:"is_admin"`

	// Relations
	Projects []Project `gorm:"many2many:project_contributors" json:"-"`
}
