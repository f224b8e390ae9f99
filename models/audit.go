package models

import "gorm.io/gorm"

// Audit log actions emitted by the synchronizer.
const (
	AuditFileAdded          = "file_added"
	AuditFileUpdated        = "file_updated"
	AuditFolderCreated      = "folder_created"
	AuditStorageProvisioned = "institutional_storage_provisioned"
)

// AuditLog records one outbound audit event for a project. Params carries
// the event payload as a JSON-encoded string.
type AuditLog struct {
	gorm.Model

	ProjectID uint   `gorm:"not null;index" json:"project_id"`
	Action    string `gorm:"not null;index" json:"action"`
	Params    string `json:"params"`

	// Relations
	Project Project `json:"-"`
}
