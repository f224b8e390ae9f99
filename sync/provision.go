package sync

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"rdmsync/models"
	"rdmsync/utils"
)

// GroupName derives the deterministic per-project group name.
func GroupName(prefix, projectGUID string) string {
	return prefix + projectGUID
}

// TeamFolderName derives the deterministic team-folder name from the
// project's title and identifier.
func TeamFolderName(title, projectGUID string) string {
	return fmt.Sprintf("%s (%s)", title, projectGUID)
}

// Provisioner brings a project's remote resources into existence as one
// multi-step transaction: create group, add members, create team folder,
// share it with the project group and the admin group. Any failure rolls
// back the resources created so far before returning; a failure inside a
// compensation itself is logged rather than returned, so the original
// error is never masked.
type Provisioner struct {
	DB              *gorm.DB
	Dir             DirectoryClient
	GroupNamePrefix string
	Logger          *log.Logger
}

// Provision runs the transaction for one project. The binding is only
// marked complete (TeamFolderID/GroupID set) on full success. The context
// is honored between steps, but an abort mid-flight still runs its
// compensations before returning.
func (p *Provisioner) Provision(ctx context.Context, opt *models.TeamOption, project *models.Project, memberEmails []string, adminID, adminGroupID string) (*models.ProjectStorageBinding, error) {
	binding := &models.ProjectStorageBinding{}
	err := p.DB.Where(models.ProjectStorageBinding{ProjectID: project.ID, TeamOptionID: opt.ID}).
		FirstOrCreate(binding).Error
	if err != nil {
		return nil, err
	}
	if binding.Complete() {
		return binding, nil
	}

	groupName := GroupName(p.GroupNamePrefix, project.GUID)
	folderName := TeamFolderName(project.Title, project.GUID)

	// Compensations run on a detached context so that the cancellation
	// that aborted the transaction cannot strand half-created resources.
	cleanupCtx := context.WithoutCancel(ctx)

	// Step A: group + initial members.
	group, err := p.Dir.CreateGroup(ctx, groupName)
	if err != nil {
		return nil, fmt.Errorf("create group %q: %w", groupName, err)
	}
	if err := p.Dir.AddGroupMembers(ctx, group.GroupID, memberEmails); err != nil {
		p.deleteGroup(cleanupCtx, group.GroupID)
		return nil, fmt.Errorf("populate group %q: %w", groupName, err)
	}
	if err := ctx.Err(); err != nil {
		p.deleteGroup(cleanupCtx, group.GroupID)
		return nil, err
	}

	// Step B: team folder.
	folder, err := p.Dir.CreateTeamFolder(ctx, folderName)
	if err != nil {
		p.deleteGroup(cleanupCtx, group.GroupID)
		return nil, fmt.Errorf("create team folder %q: %w", folderName, err)
	}
	if err := ctx.Err(); err != nil {
		p.deleteFolder(cleanupCtx, folder.TeamFolderID)
		p.deleteGroup(cleanupCtx, group.GroupID)
		return nil, err
	}

	// Step C: share with the project group and the admin group.
	shareErr := p.Dir.AddFolderMember(ctx, adminID, folder.TeamFolderID, group.GroupID, "editor")
	if shareErr == nil {
		shareErr = p.Dir.AddFolderMember(ctx, adminID, folder.TeamFolderID, adminGroupID, "editor")
	}
	if shareErr != nil {
		p.deleteFolder(cleanupCtx, folder.TeamFolderID)
		p.deleteGroup(cleanupCtx, group.GroupID)
		return nil, fmt.Errorf("share team folder %q: %w", folderName, shareErr)
	}

	updates := map[string]interface{}{
		"team_folder_id":   folder.TeamFolderID,
		"team_folder_name": folder.Name,
		"group_id":         group.GroupID,
		"group_name":       groupName,
		"admin_dbmid":      adminID,
	}
	if err := p.DB.Model(binding).Updates(updates).Error; err != nil {
		return nil, err
	}
	binding.TeamFolderID = &folder.TeamFolderID
	binding.TeamFolderName = folder.Name
	binding.GroupID = &group.GroupID
	binding.GroupName = groupName
	binding.AdminDBMID = &adminID

	audit := models.AuditLog{
		ProjectID: project.ID,
		Action:    models.AuditStorageProvisioned,
		Params: utils.MustJSON(map[string]interface{}{
			"team_folder_id": folder.TeamFolderID,
			"group_id":       group.GroupID,
		}),
	}
	if err := p.DB.Create(&audit).Error; err != nil {
		p.Logger.Printf("Error writing provision audit log for project %d: %v", project.ID, err)
	}
	return binding, nil
}

func (p *Provisioner) deleteGroup(ctx context.Context, groupID string) {
	if err := p.Dir.DeleteGroup(ctx, groupID); err != nil {
		p.Logger.Printf("Rollback: failed to delete group %s: %v (orphan, needs manual cleanup)", groupID, err)
	}
}

func (p *Provisioner) deleteFolder(ctx context.Context, teamFolderID string) {
	if err := p.Dir.ArchiveAndDeleteTeamFolder(ctx, teamFolderID); err != nil {
		p.Logger.Printf("Rollback: failed to delete team folder %s: %v (orphan, needs manual cleanup)", teamFolderID, err)
	}
}
