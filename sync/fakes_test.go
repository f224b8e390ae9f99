package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rdmsync/dropbox"
	"rdmsync/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateDB(db))
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// changeBatch is one page served by fakeDirectory.ListChanges.
type changeBatch struct {
	entries []dropbox.Entry
	cursor  string
	hasMore bool
}

// fakeDirectory is an in-memory DirectoryClient. State mutators record
// their effect so tests can assert on the resulting remote state; errs
// injects one failure per method name.
type fakeDirectory struct {
	mu sync.Mutex

	members      []dropbox.Member
	groups       map[string]dropbox.Group   // id -> group
	groupMembers map[string][]dropbox.Member // group id -> members
	teamFolders  map[string]dropbox.TeamFolder
	folderShares map[string]map[string]string // folder id -> dropbox id -> access

	templates map[string]dropbox.Template // id -> template

	batches    []changeBatch
	batchIndex int

	folderListings map[string][]dropbox.Entry // namespace id -> entries

	fileProps map[string]map[string]string // namespace|path -> fields

	errs  map[string]error
	calls []string

	nextID int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		groups:         map[string]dropbox.Group{},
		groupMembers:   map[string][]dropbox.Member{},
		teamFolders:    map[string]dropbox.TeamFolder{},
		folderShares:   map[string]map[string]string{},
		templates:      map[string]dropbox.Template{},
		folderListings: map[string][]dropbox.Entry{},
		fileProps:      map[string]map[string]string{},
		errs:           map[string]error{},
	}
}

func (f *fakeDirectory) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err, ok := f.errs[call]; ok {
		delete(f.errs, call)
		return err
	}
	return nil
}

func (f *fakeDirectory) failOnce(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeDirectory) calledMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeDirectory) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s:%d", prefix, f.nextID)
}

func (f *fakeDirectory) memberByEmail(email string) (dropbox.Member, bool) {
	for _, m := range f.members {
		if m.Email == email {
			return m, true
		}
	}
	return dropbox.Member{}, false
}

func (f *fakeDirectory) ListMembers(ctx context.Context) ([]dropbox.Member, error) {
	if err := f.record("ListMembers"); err != nil {
		return nil, err
	}
	return append([]dropbox.Member(nil), f.members...), nil
}

func (f *fakeDirectory) ListGroups(ctx context.Context) ([]dropbox.Group, error) {
	if err := f.record("ListGroups"); err != nil {
		return nil, err
	}
	var out []dropbox.Group
	for _, g := range f.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (f *fakeDirectory) ListTeamFolders(ctx context.Context) ([]dropbox.TeamFolder, error) {
	if err := f.record("ListTeamFolders"); err != nil {
		return nil, err
	}
	var out []dropbox.TeamFolder
	for _, tf := range f.teamFolders {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamFolderID < out[j].TeamFolderID })
	return out, nil
}

func (f *fakeDirectory) CreateGroup(ctx context.Context, name string) (dropbox.Group, error) {
	if err := f.record("CreateGroup"); err != nil {
		return dropbox.Group{}, err
	}
	for _, g := range f.groups {
		if g.Name == name {
			return dropbox.Group{}, &dropbox.APIError{StatusCode: 409, Summary: "group_name_already_used/.."}
		}
	}
	g := dropbox.Group{GroupID: f.genID("g"), Name: name}
	f.groups[g.GroupID] = g
	return g, nil
}

func (f *fakeDirectory) DeleteGroup(ctx context.Context, groupID string) error {
	if err := f.record("DeleteGroup"); err != nil {
		return err
	}
	delete(f.groups, groupID)
	delete(f.groupMembers, groupID)
	return nil
}

func (f *fakeDirectory) AddGroupMembers(ctx context.Context, groupID string, emails []string) error {
	if err := f.record("AddGroupMembers"); err != nil {
		return err
	}
	for _, email := range emails {
		m, ok := f.memberByEmail(email)
		if !ok {
			m = dropbox.Member{TeamMemberID: f.genID("dbmid"), Email: email, Status: "active"}
		}
		present := false
		for _, gm := range f.groupMembers[groupID] {
			if gm.Email == email {
				present = true
			}
		}
		if !present {
			f.groupMembers[groupID] = append(f.groupMembers[groupID], m)
		}
	}
	return nil
}

func (f *fakeDirectory) RemoveGroupMembers(ctx context.Context, groupID string, emails []string) error {
	if err := f.record("RemoveGroupMembers"); err != nil {
		return err
	}
	drop := map[string]bool{}
	for _, e := range emails {
		drop[e] = true
	}
	var kept []dropbox.Member
	for _, m := range f.groupMembers[groupID] {
		if !drop[m.Email] {
			kept = append(kept, m)
		}
	}
	f.groupMembers[groupID] = kept
	return nil
}

func (f *fakeDirectory) ListGroupMembers(ctx context.Context, groupID string) ([]dropbox.Member, error) {
	if err := f.record("ListGroupMembers"); err != nil {
		return nil, err
	}
	return append([]dropbox.Member(nil), f.groupMembers[groupID]...), nil
}

func (f *fakeDirectory) CreateTeamFolder(ctx context.Context, name string) (dropbox.TeamFolder, error) {
	if err := f.record("CreateTeamFolder"); err != nil {
		return dropbox.TeamFolder{}, err
	}
	tf := dropbox.TeamFolder{TeamFolderID: f.genID("tf"), Name: name}
	f.teamFolders[tf.TeamFolderID] = tf
	return tf, nil
}

func (f *fakeDirectory) RenameTeamFolder(ctx context.Context, teamFolderID, name string) error {
	if err := f.record("RenameTeamFolder"); err != nil {
		return err
	}
	tf, ok := f.teamFolders[teamFolderID]
	if !ok {
		return &dropbox.APIError{StatusCode: 409, Summary: "team_folder_not_found/"}
	}
	tf.Name = name
	f.teamFolders[teamFolderID] = tf
	return nil
}

func (f *fakeDirectory) ArchiveAndDeleteTeamFolder(ctx context.Context, teamFolderID string) error {
	if err := f.record("ArchiveAndDeleteTeamFolder"); err != nil {
		return err
	}
	delete(f.teamFolders, teamFolderID)
	delete(f.folderShares, teamFolderID)
	return nil
}

func (f *fakeDirectory) AddFolderMember(ctx context.Context, adminID, sharedFolderID, dropboxID, accessLevel string) error {
	if err := f.record("AddFolderMember"); err != nil {
		return err
	}
	if f.folderShares[sharedFolderID] == nil {
		f.folderShares[sharedFolderID] = map[string]string{}
	}
	f.folderShares[sharedFolderID][dropboxID] = accessLevel
	return nil
}

func (f *fakeDirectory) ListFolderGroups(ctx context.Context, adminID, sharedFolderID string) (map[string]string, error) {
	if err := f.record("ListFolderGroups"); err != nil {
		return nil, err
	}
	out := map[string]string{}
	for id, level := range f.folderShares[sharedFolderID] {
		out[id] = level
	}
	return out, nil
}

func (f *fakeDirectory) CreateFolder(ctx context.Context, adminID, namespaceID, path string) error {
	if err := f.record("CreateFolder"); err != nil {
		return err
	}
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	f.folderListings[namespaceID] = append(f.folderListings[namespaceID], dropbox.Entry{
		Tag: "folder", Name: name, PathDisplay: path, PathLower: strings.ToLower(path),
	})
	return nil
}

func (f *fakeDirectory) DeleteFolder(ctx context.Context, adminID, namespaceID, path string) error {
	return f.record("DeleteFolder")
}

func (f *fakeDirectory) MoveFolder(ctx context.Context, adminID, namespaceID, fromPath, toPath string) error {
	return f.record("MoveFolder")
}

func (f *fakeDirectory) ListFolder(ctx context.Context, adminID, namespaceID, path string, recursive bool) ([]dropbox.Entry, string, bool, error) {
	if err := f.record("ListFolder"); err != nil {
		return nil, "", false, err
	}
	var out []dropbox.Entry
	for _, e := range f.folderListings[namespaceID] {
		if recursive || parentDir(e.PathDisplay) == path {
			out = append(out, e)
		}
	}
	return out, "cursor-end", false, nil
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return ""
	}
	return p[:idx]
}

func (f *fakeDirectory) ListFolderContinue(ctx context.Context, adminID, namespaceID, cursor string) ([]dropbox.Entry, string, bool, error) {
	if err := f.record("ListFolderContinue"); err != nil {
		return nil, "", false, err
	}
	return nil, "cursor-end", false, nil
}

func (f *fakeDirectory) ListChanges(ctx context.Context, adminID, cursor string) ([]dropbox.Entry, string, bool, error) {
	if err := f.record("ListChanges:" + cursor); err != nil {
		return nil, "", false, err
	}
	if f.batchIndex >= len(f.batches) {
		return nil, cursor, false, nil
	}
	b := f.batches[f.batchIndex]
	f.batchIndex++
	return b.entries, b.cursor, b.hasMore, nil
}

func (f *fakeDirectory) LatestCursor(ctx context.Context, adminID string) (string, error) {
	if err := f.record("LatestCursor"); err != nil {
		return "", err
	}
	return "cursor-latest", nil
}

func (f *fakeDirectory) ListTemplateIDs(ctx context.Context) ([]string, error) {
	if err := f.record("ListTemplateIDs"); err != nil {
		return nil, err
	}
	var ids []string
	for id := range f.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeDirectory) GetTemplate(ctx context.Context, templateID string) (dropbox.Template, error) {
	if err := f.record("GetTemplate"); err != nil {
		return dropbox.Template{}, err
	}
	return f.templates[templateID], nil
}

func (f *fakeDirectory) AddTemplate(ctx context.Context, name string, fields []string) (string, error) {
	if err := f.record("AddTemplate"); err != nil {
		return "", err
	}
	id := f.genID("ptid")
	f.templates[id] = dropbox.Template{TemplateID: id, Name: name, Fields: fields}
	return id, nil
}

func (f *fakeDirectory) UpdateTemplate(ctx context.Context, templateID string, addFields []string) error {
	if err := f.record("UpdateTemplate"); err != nil {
		return err
	}
	tpl := f.templates[templateID]
	tpl.Fields = append(tpl.Fields, addFields...)
	f.templates[templateID] = tpl
	return nil
}

func (f *fakeDirectory) GetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string) (map[string]string, error) {
	if err := f.record("GetFileProperties"); err != nil {
		return nil, err
	}
	return f.fileProps[namespaceID+"|"+path], nil
}

func (f *fakeDirectory) SetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string, fields map[string]string) error {
	if err := f.record("SetFileProperties"); err != nil {
		return err
	}
	f.fileProps[namespaceID+"|"+path] = fields
	return nil
}

var _ DirectoryClient = (*fakeDirectory)(nil)
