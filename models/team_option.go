package models

import "gorm.io/gorm"

// TeamOption is the per-institution record of the connected Dropbox
// Business team. Tokens are stored AES-encrypted (utils.Encrypt) and
// decrypted on use; nothing outside the sync job should read them raw.
type TeamOption struct {
	gorm.Model

	InstitutionID uint   `gorm:"uniqueIndex;not null" json:"institution_id"`
	TeamID        string `gorm:"uniqueIndex;not null" json:"team_id"`
	TeamName      string `json:"team_name"`

	// ManagementToken authorizes team-management endpoints (members,
	// groups, team folders). FileAccessToken authorizes file endpoints
	// with member impersonation.
	ManagementToken string `gorm:"not null" json:"-"`
	FileAccessToken string `gorm:"not null" json:"-"`

	// RefreshToken, when present, is exchanged through OAuth2 instead of
	// using the stored access tokens directly.
	RefreshToken string `json:"-"`

	// ChangeCursor is the team-level delta cursor: how far the change-feed
	// reconciler has progressed in this team's change stream. Nil means
	// the next walk starts from scratch.
	ChangeCursor *string `json:"-"`

	// TimestampTemplateID caches the remote file-properties template used
	// for per-file timestamp data.
	TimestampTemplateID *string `json:"-"`

	Enabled bool `gorm:"default:true" json:"enabled"`

	// Relations
	Bindings []ProjectStorageBinding `gorm:"foreignKey:TeamOptionID" json:"-"`
}
