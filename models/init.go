package models

import "gorm.io/gorm"

// MigrateDB creates or updates the schema for every model the
// synchronizer persists.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&Institution{},
		&User{},
		&Project{},
		&TeamOption{},
		&ProjectStorageBinding{},
		&FileNode{},
		&FileTimestamp{},
		&AuditLog{},
	)
}
