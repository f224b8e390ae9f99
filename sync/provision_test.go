package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rdmsync/models"
)

func seedProject(t *testing.T, db *gorm.DB, opt *models.TeamOption, guid, title string) *models.Project {
	t.Helper()
	project := models.Project{GUID: guid, Title: title, InstitutionID: opt.InstitutionID}
	require.NoError(t, db.Create(&project).Error)
	return &project
}

func TestProvisionHappyPath(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	project := seedProject(t, db, opt, "abc12", "Ocean Salinity")
	dir := newFakeDirectory()

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	binding, err := p.Provision(context.Background(), opt, project, []string{"m1@example.com"}, "dbmid:a", "g:admin")
	require.NoError(t, err)
	require.True(t, binding.Complete())

	assert.Equal(t, "rdm-project-abc12", binding.GroupName)
	assert.Equal(t, "Ocean Salinity (abc12)", binding.TeamFolderName)
	require.NotNil(t, binding.AdminDBMID)
	assert.Equal(t, "dbmid:a", *binding.AdminDBMID)

	// Remote state: group populated, folder shared with both groups.
	members := dir.groupMembers[*binding.GroupID]
	require.Len(t, members, 1)
	assert.Equal(t, "m1@example.com", members[0].Email)
	shares := dir.folderShares[*binding.TeamFolderID]
	assert.Equal(t, "editor", shares[*binding.GroupID])
	assert.Equal(t, "editor", shares["g:admin"])

	// Audit trail records the provisioning.
	var audit models.AuditLog
	require.NoError(t, db.Where("project_id = ? AND action = ?", project.ID, models.AuditStorageProvisioned).First(&audit).Error)
}

func TestProvisionSkipsCompleteBinding(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	existing := seedBinding(t, db, opt, "done1", strPtr("dbmid:a"), nil)
	var project models.Project
	require.NoError(t, db.First(&project, existing.ProjectID).Error)
	dir := newFakeDirectory()

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	binding, err := p.Provision(context.Background(), opt, &project, nil, "dbmid:a", "g:admin")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, binding.ID)
	assert.Empty(t, dir.calledMethods())
}

func TestProvisionGroupPopulateFailureRollsBack(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	project := seedProject(t, db, opt, "abc13", "Failed Early")
	dir := newFakeDirectory()
	dir.failOnce("AddGroupMembers", errors.New("boom"))

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	_, err := p.Provision(context.Background(), opt, project, []string{"m1@example.com"}, "dbmid:a", "g:admin")
	require.Error(t, err)

	assert.Empty(t, dir.groups, "created group must be rolled back")
	assert.Empty(t, dir.teamFolders)

	var binding models.ProjectStorageBinding
	require.NoError(t, db.Where("project_id = ?", project.ID).First(&binding).Error)
	assert.False(t, binding.Complete())
}

func TestProvisionFolderFailureRollsBackGroup(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	project := seedProject(t, db, opt, "abc14", "Failed Mid")
	dir := newFakeDirectory()
	dir.failOnce("CreateTeamFolder", errors.New("quota exceeded"))

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	_, err := p.Provision(context.Background(), opt, project, nil, "dbmid:a", "g:admin")
	require.Error(t, err)

	assert.Empty(t, dir.groups)
	assert.Empty(t, dir.teamFolders)
}

func TestProvisionShareFailureRollsBackBoth(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	project := seedProject(t, db, opt, "abc15", "Failed Late")
	dir := newFakeDirectory()
	dir.failOnce("AddFolderMember", errors.New("no permission"))

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	_, err := p.Provision(context.Background(), opt, project, nil, "dbmid:a", "g:admin")
	require.Error(t, err)

	assert.Empty(t, dir.groups)
	assert.Empty(t, dir.teamFolders)

	var binding models.ProjectStorageBinding
	require.NoError(t, db.Where("project_id = ?", project.ID).First(&binding).Error)
	assert.False(t, binding.Complete())
}

func TestProvisionRetryAfterFailureSucceeds(t *testing.T) {
	db := testDB(t)
	opt := seedTeam(t, db)
	project := seedProject(t, db, opt, "abc16", "Retry Me")
	dir := newFakeDirectory()
	dir.failOnce("CreateTeamFolder", errors.New("transient"))

	p := &Provisioner{DB: db, Dir: dir, GroupNamePrefix: "rdm-project-", Logger: testLogger()}
	_, err := p.Provision(context.Background(), opt, project, nil, "dbmid:a", "g:admin")
	require.Error(t, err)

	// The rollback freed the group name, so the next cycle can provision
	// the same project cleanly.
	binding, err := p.Provision(context.Background(), opt, project, nil, "dbmid:a", "g:admin")
	require.NoError(t, err)
	assert.True(t, binding.Complete())
}

func TestDerivedNames(t *testing.T) {
	assert.Equal(t, "rdm-project-xy9k2", GroupName("rdm-project-", "xy9k2"))
	assert.Equal(t, "My Project (xy9k2)", TeamFolderName("My Project", "xy9k2"))
}
