package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rdmsync/dropbox"
	"rdmsync/models"
)

func newTestJob(db *gorm.DB, dir DirectoryClient) *Job {
	return &Job{
		DB:              db,
		Projects:        NewLocalProjectSystem(db, []byte("test-key")),
		NewDirectory:    func(*models.TeamOption) (DirectoryClient, error) { return dir, nil },
		AdminGroupName:  "rdm-admin",
		GroupNamePrefix: "rdm-project-",
		Logger:          testLogger(),
	}
}

func TestSyncTeamProvisionsNewProject(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	admin := activeAdmin("dbmid:a1", "a1@example.com")
	member := activeMember("dbmid:m1", "m1@example.com")

	project := models.Project{GUID: "p1", Title: "Ocean", InstitutionID: opt.InstitutionID}
	require.NoError(t, db.Create(&project).Error)
	contributor := models.User{Email: "m1@example.com", InstitutionID: &opt.InstitutionID}
	require.NoError(t, db.Create(&contributor).Error)
	require.NoError(t, db.Model(&project).Association("Contributors").Append(&contributor))

	dir := newFakeDirectory()
	dir.members = []dropbox.Member{admin, member, activeMember("dbmid:m2", "m2@example.com")}

	job := newTestJob(db, dir)
	require.NoError(t, job.SyncTeam(context.Background(), opt))

	// Admin group exists and holds exactly the team's admin.
	var adminGroupID string
	for id, g := range dir.groups {
		if g.Name == "rdm-admin" {
			adminGroupID = id
		}
	}
	require.NotEmpty(t, adminGroupID)
	require.Len(t, dir.groupMembers[adminGroupID], 1)
	assert.Equal(t, "a1@example.com", dir.groupMembers[adminGroupID][0].Email)

	// The project was provisioned end to end.
	var binding models.ProjectStorageBinding
	require.NoError(t, db.Where("project_id = ?", project.ID).First(&binding).Error)
	require.True(t, binding.Complete())
	assert.Equal(t, "rdm-project-p1", binding.GroupName)
	assert.Equal(t, "Ocean (p1)", binding.TeamFolderName)

	// Only the team-member contributor landed in the project group.
	members := dir.groupMembers[*binding.GroupID]
	require.Len(t, members, 1)
	assert.Equal(t, "m1@example.com", members[0].Email)

	// Folder shared with project group and admin group.
	shares := dir.folderShares[*binding.TeamFolderID]
	assert.Equal(t, "editor", shares[*binding.GroupID])
	assert.Equal(t, "editor", shares[adminGroupID])

	// The timestamp template id is cached for later cycles.
	var fresh models.TeamOption
	require.NoError(t, db.First(&fresh, opt.ID).Error)
	require.NotNil(t, fresh.TimestampTemplateID)
	assert.Equal(t, TimestampTemplateName, dir.templates[*fresh.TimestampTemplateID].Name)
}

func TestSyncTeamSecondCycleIsIdempotent(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	dir := newFakeDirectory()
	dir.members = []dropbox.Member{activeAdmin("dbmid:a1", "a1@example.com")}
	project := models.Project{GUID: "p1", Title: "Ocean", InstitutionID: opt.InstitutionID}
	require.NoError(t, db.Create(&project).Error)

	job := newTestJob(db, dir)
	require.NoError(t, job.SyncTeam(context.Background(), opt))

	groupsAfterFirst := len(dir.groups)
	foldersAfterFirst := len(dir.teamFolders)

	var fresh models.TeamOption
	require.NoError(t, db.First(&fresh, opt.ID).Error)
	require.NoError(t, job.SyncTeam(context.Background(), &fresh))

	assert.Equal(t, groupsAfterFirst, len(dir.groups), "rerun must not create duplicate groups")
	assert.Equal(t, foldersAfterFirst, len(dir.teamFolders), "rerun must not create duplicate folders")
}

func TestSyncTeamZeroAdminsAborts(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	dir := newFakeDirectory()
	dir.members = []dropbox.Member{activeMember("dbmid:m1", "m1@example.com")}

	job := newTestJob(db, dir)
	err := job.SyncTeam(context.Background(), opt)
	assert.ErrorIs(t, err, ErrNoAdmin)

	assert.Empty(t, dir.groups, "no remote mutation may happen without an admin")
}

func TestSyncTeamWalksChangesAfterProvisioning(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	dir := newFakeDirectory()
	dir.members = []dropbox.Member{activeAdmin("dbmid:a1", "a1@example.com")}
	project := models.Project{GUID: "p1", Title: "Ocean", InstitutionID: opt.InstitutionID}
	require.NoError(t, db.Create(&project).Error)

	// The delta feed already contains a file inside the folder that
	// provisioning is about to create ("Ocean (p1)").
	dir.batches = []changeBatch{
		{entries: []dropbox.Entry{fileEntry("/Ocean (p1)/data.csv", "hash1", 42, "")}, cursor: "c1"},
	}

	job := newTestJob(db, dir)
	require.NoError(t, job.SyncTeam(context.Background(), opt))

	var binding models.ProjectStorageBinding
	require.NoError(t, db.Where("project_id = ?", project.ID).First(&binding).Error)
	var node models.FileNode
	require.NoError(t, db.Where("project_id = ? AND path = ?", binding.ProjectID, "/data.csv").First(&node).Error)
	var stamps int64
	require.NoError(t, db.Model(&models.FileTimestamp{}).Count(&stamps).Error)
	assert.Equal(t, int64(1), stamps)
}

func TestSyncMetadataRenamesDriftedFolders(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	binding := seedBinding(t, db, opt, "p1", strPtr("dbmid:a"), nil)
	var project models.Project
	require.NoError(t, db.First(&project, binding.ProjectID).Error)

	dir := newFakeDirectory()
	dir.teamFolders["tf:p1"] = dropbox.TeamFolder{TeamFolderID: "tf:p1", Name: "Stale Name"}

	job := newTestJob(db, dir)
	job.SyncMetadata(context.Background())

	assert.Equal(t, TeamFolderName(project.Title, project.GUID), dir.teamFolders["tf:p1"].Name)
}
