package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdmsync/dropbox"
)

func TestSnapshotMembersAndAdmins(t *testing.T) {
	dir := newFakeDirectory()
	dir.members = []dropbox.Member{
		activeAdmin("dbmid:a2", "a2@example.com"),
		activeAdmin("dbmid:a1", "a1@example.com"),
		activeMember("dbmid:m1", "m1@example.com"),
		{TeamMemberID: "dbmid:a3", Email: "a3@example.com", Role: "team_admin", Status: "suspended"},
	}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{Members: true, Admins: true})
	require.NoError(t, err)

	assert.Len(t, snap.Members, 4)
	// Suspended admins are excluded; the rest come back sorted.
	assert.Equal(t, []string{"dbmid:a1", "dbmid:a2"}, snap.AdminIDs)
	assert.Equal(t, []string{"a1@example.com", "a2@example.com"}, snap.AdminEmails)
}

func TestSnapshotRefreshMembersReplaces(t *testing.T) {
	dir := newFakeDirectory()
	dir.members = []dropbox.Member{activeMember("dbmid:m1", "m1@example.com")}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{Members: true})
	require.NoError(t, err)
	require.Len(t, snap.Members, 1)

	dir.members = []dropbox.Member{activeMember("dbmid:m2", "m2@example.com")}
	require.NoError(t, snap.RefreshMembers(context.Background()))
	require.NoError(t, snap.RefreshMembers(context.Background()))

	assert.Len(t, snap.Members, 1, "refresh must replace the index, not append")
	_, ok := snap.Members["dbmid:m2"]
	assert.True(t, ok)
}

func TestSnapshotGroupsBidirectional(t *testing.T) {
	dir := newFakeDirectory()
	dir.groups["g:1"] = dropbox.Group{GroupID: "g:1", Name: "rdm-admin"}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{Groups: true})
	require.NoError(t, err)

	assert.Equal(t, "g:1", snap.GroupIDByName["rdm-admin"])
	assert.Equal(t, "rdm-admin", snap.GroupNameByID["g:1"])
}

func TestSnapshotTeamFolderRefreshSeesRenames(t *testing.T) {
	dir := newFakeDirectory()
	dir.teamFolders["tf:1"] = dropbox.TeamFolder{TeamFolderID: "tf:1", Name: "Old Name (p1)"}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{TeamFolders: true})
	require.NoError(t, err)
	assert.Equal(t, "Old Name (p1)", snap.TeamFolderName["tf:1"])

	dir.teamFolders["tf:1"] = dropbox.TeamFolder{TeamFolderID: "tf:1", Name: "New Name (p1)"}
	require.NoError(t, snap.RefreshTeamFolders(context.Background()))
	assert.Equal(t, "New Name (p1)", snap.TeamFolderName["tf:1"])

	byName := snap.FolderIDByName()
	assert.Equal(t, "tf:1", byName["New Name (p1)"])
}

func TestSnapshotCreatesTimestampTemplate(t *testing.T) {
	dir := newFakeDirectory()

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{FileProperties: true})
	require.NoError(t, err)

	require.NotEmpty(t, snap.TemplateID)
	tpl := dir.templates[snap.TemplateID]
	assert.Equal(t, TimestampTemplateName, tpl.Name)
	assert.ElementsMatch(t, TimestampTemplateFields(), tpl.Fields)
}

func TestSnapshotReusesExistingTemplate(t *testing.T) {
	dir := newFakeDirectory()
	dir.templates["ptid:1"] = dropbox.Template{
		TemplateID: "ptid:1",
		Name:       TimestampTemplateName,
		Fields:     TimestampTemplateFields(),
	}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{FileProperties: true})
	require.NoError(t, err)

	assert.Equal(t, "ptid:1", snap.TemplateID)
	assert.NotContains(t, dir.calledMethods(), "AddTemplate")
}

func TestSnapshotExtendsTemplateMissingFields(t *testing.T) {
	dir := newFakeDirectory()
	// An old deployment created the template before the user field existed.
	fields := dropbox.SplitFieldNames("timestamp")
	dir.templates["ptid:1"] = dropbox.Template{TemplateID: "ptid:1", Name: TimestampTemplateName, Fields: fields}

	snap, err := NewTeamSnapshot(context.Background(), dir, "dbtid:test", SnapshotOptions{FileProperties: true})
	require.NoError(t, err)

	assert.Equal(t, "ptid:1", snap.TemplateID)
	assert.Contains(t, dir.templates["ptid:1"].Fields, "timestamp_user")
}

func TestTimestampTemplateFieldLayout(t *testing.T) {
	fields := TimestampTemplateFields()
	assert.Contains(t, fields, "timestamp")
	assert.Contains(t, fields, "timestamp0")
	assert.Contains(t, fields, "timestamp9")
	assert.Contains(t, fields, "timestamp_count")
	assert.Contains(t, fields, "timestamp_user")
}
