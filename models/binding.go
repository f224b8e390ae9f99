package models

import "gorm.io/gorm"

// ProjectStorageBinding links one project to its provisioned remote team
// folder and access-control group. TeamFolderID and GroupID are set only
// after the provisioning transaction completes; while either is nil the
// binding is pending (or failed) and must not be used for file access.
type ProjectStorageBinding struct {
	gorm.Model

	ProjectID    uint `gorm:"uniqueIndex;not null" json:"project_id"`
	TeamOptionID uint `gorm:"index;not null" json:"team_option_id"`

	TeamFolderID   *string `gorm:"index" json:"team_folder_id,omitempty"`
	TeamFolderName string  `json:"team_folder_name"`
	GroupID        *string `json:"group_id,omitempty"`
	GroupName      string  `json:"group_name"`

	// AdminDBMID is the team-member id used for impersonated admin calls
	// on this binding. Reconciliation keeps it pointing at a member that
	// is still actually a team admin.
	AdminDBMID *string `gorm:"column:admin_dbmid" json:"admin_dbmid,omitempty"`

	// ChangeCursor mirrors the team-level cursor for this binding. It is
	// reset to nil when AdminDBMID changes, forcing the next change-feed
	// walk to start from scratch (delta listings are scoped to the
	// calling identity).
	ChangeCursor *string `json:"-"`

	// Relations
	Project    Project    `json:"-"`
	TeamOption TeamOption `json:"-"`
}

// Complete reports whether provisioning finished for this binding.
func (b *ProjectStorageBinding) Complete() bool {
	return b.TeamFolderID != nil && b.GroupID != nil
}
