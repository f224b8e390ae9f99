package sync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"rdmsync/dropbox"
	"rdmsync/models"
	"rdmsync/utils"
)

var (
	// ErrBindingIncomplete means the binding has not finished provisioning
	// and cannot serve file operations yet.
	ErrBindingIncomplete = errors.New("storage binding is not provisioned")

	// ErrBaseFolderInaccessible means the bound team folder cannot be
	// read with the binding's admin identity.
	ErrBaseFolderInaccessible = errors.New("base folder is not accessible")
)

// StorageAdapter is the capability set every institutional storage variant
// exposes to the project platform.
type StorageAdapter interface {
	CreateFolder(ctx context.Context, name string) error
	RemoveFolder(ctx context.Context, name string) error
	RenameFolder(ctx context.Context, oldName, newName string) error
	CanAccess(ctx context.Context) error
	CopyFolders(ctx context.Context, dest *models.ProjectStorageBinding) error
	SyncContributors(ctx context.Context) error
	SyncTitle(ctx context.Context) error
}

// BusinessAdapter implements StorageAdapter for one Dropbox Business
// binding.
type BusinessAdapter struct {
	DB      *gorm.DB
	Dir     DirectoryClient
	Binding *models.ProjectStorageBinding
	Logger  *log.Logger
}

func NewBusinessAdapter(db *gorm.DB, dir DirectoryClient, binding *models.ProjectStorageBinding, logger *log.Logger) *BusinessAdapter {
	return &BusinessAdapter{DB: db, Dir: dir, Binding: binding, Logger: logger}
}

func (a *BusinessAdapter) ids() (adminID, folderID string, err error) {
	if !a.Binding.Complete() || a.Binding.AdminDBMID == nil {
		return "", "", ErrBindingIncomplete
	}
	return *a.Binding.AdminDBMID, *a.Binding.TeamFolderID, nil
}

func (a *BusinessAdapter) CreateFolder(ctx context.Context, name string) error {
	adminID, folderID, err := a.ids()
	if err != nil {
		return err
	}
	if err := a.Dir.CreateFolder(ctx, adminID, folderID, "/"+name); err != nil {
		return err
	}
	audit := models.AuditLog{
		ProjectID: a.Binding.ProjectID,
		Action:    models.AuditFolderCreated,
		Params:    utils.MustJSON(map[string]interface{}{"provider": Provider, "path": "/" + name}),
	}
	if err := a.DB.WithContext(ctx).Create(&audit).Error; err != nil {
		a.Logger.Printf("Error recording folder audit for project %d: %v", a.Binding.ProjectID, err)
	}
	return nil
}

func (a *BusinessAdapter) RemoveFolder(ctx context.Context, name string) error {
	adminID, folderID, err := a.ids()
	if err != nil {
		return err
	}
	return a.Dir.DeleteFolder(ctx, adminID, folderID, "/"+name)
}

func (a *BusinessAdapter) RenameFolder(ctx context.Context, oldName, newName string) error {
	adminID, folderID, err := a.ids()
	if err != nil {
		return err
	}
	return a.Dir.MoveFolder(ctx, adminID, folderID, "/"+oldName, "/"+newName)
}

// CanAccess probes the bound team folder with the binding's admin
// identity, returning ErrBaseFolderInaccessible when it cannot be read.
func (a *BusinessAdapter) CanAccess(ctx context.Context) error {
	adminID, folderID, err := a.ids()
	if err != nil {
		return err
	}
	if _, _, _, err := a.Dir.ListFolder(ctx, adminID, folderID, "", false); err != nil {
		return fmt.Errorf("%w: %v", ErrBaseFolderInaccessible, err)
	}
	return nil
}

// CopyFolders recreates the source binding's folder hierarchy (folders
// only, no file contents) under the destination binding. Both bindings
// must belong to the same team; otherwise this is a no-op. The traversal
// is an explicit worklist, one remote listing per level, which bounds
// memory on deep trees and keeps cancellation well-defined.
func (a *BusinessAdapter) CopyFolders(ctx context.Context, dest *models.ProjectStorageBinding) error {
	adminID, srcFolderID, err := a.ids()
	if err != nil {
		return err
	}
	if dest.TeamFolderID == nil {
		return ErrBindingIncomplete
	}
	if dest.TeamOptionID != a.Binding.TeamOptionID {
		a.Logger.Printf("Skipping folder copy between different teams (project %d -> %d)", a.Binding.ProjectID, dest.ProjectID)
		return nil
	}
	dstFolderID := *dest.TeamFolderID

	worklist := []string{""}
	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		entries, cursor, hasMore, err := a.Dir.ListFolder(ctx, adminID, srcFolderID, dir, false)
		if err != nil {
			return err
		}
		// The folder listing is not recursive; pagination within one
		// level is drained here, recursion happens via the worklist.
		for hasMore {
			var more []dropbox.Entry
			more, cursor, hasMore, err = a.Dir.ListFolderContinue(ctx, adminID, srcFolderID, cursor)
			if err != nil {
				return err
			}
			entries = append(entries, more...)
		}
		for _, entry := range entries {
			if entry.Tag != "folder" {
				continue
			}
			child := dir + "/" + entry.Name
			if err := a.Dir.CreateFolder(ctx, adminID, dstFolderID, child); err != nil {
				return err
			}
			worklist = append(worklist, child)
		}
	}
	return nil
}

// SyncContributors aligns the project group's remote membership with the
// project's contributors that are members of the team.
func (a *BusinessAdapter) SyncContributors(ctx context.Context) error {
	if a.Binding.GroupID == nil {
		return ErrBindingIncomplete
	}
	var project models.Project
	if err := a.DB.Preload("Contributors").First(&project, a.Binding.ProjectID).Error; err != nil {
		return err
	}
	team, err := a.Dir.ListMembers(ctx)
	if err != nil {
		return err
	}
	inTeam := make(map[string]bool, len(team))
	for _, m := range team {
		inTeam[m.Email] = true
	}
	var desired []string
	for _, u := range project.Contributors {
		if inTeam[u.Email] {
			desired = append(desired, u.Email)
		}
	}
	_, err = SyncGroupMembers(ctx, a.Dir, *a.Binding.GroupID, desired, nil)
	return err
}

// SyncTitle renames the bound team folder when the project's deterministic
// folder name has changed. Best-effort: a remote rename failure is logged
// and does not propagate, the next sync retries it.
func (a *BusinessAdapter) SyncTitle(ctx context.Context) error {
	if a.Binding.TeamFolderID == nil {
		return ErrBindingIncomplete
	}
	var project models.Project
	if err := a.DB.First(&project, a.Binding.ProjectID).Error; err != nil {
		return err
	}
	computed := TeamFolderName(project.Title, project.GUID)
	if computed == a.Binding.TeamFolderName {
		return nil
	}
	if err := a.Dir.RenameTeamFolder(ctx, *a.Binding.TeamFolderID, computed); err != nil {
		a.Logger.Printf("Error renaming team folder for project %d to %q: %v", a.Binding.ProjectID, computed, err)
		return nil
	}
	if err := a.DB.Model(a.Binding).Update("team_folder_name", computed).Error; err != nil {
		return err
	}
	a.Binding.TeamFolderName = computed
	return nil
}
