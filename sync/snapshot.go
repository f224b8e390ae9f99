package sync

import (
	"context"
	"fmt"
	"sort"

	"rdmsync/dropbox"
)

// TimestampTemplateName names the remote file-properties template holding
// per-file timestamp data.
const TimestampTemplateName = "rdmsync_timestamp"

// TimestampTemplateFields returns every field the timestamp template must
// declare: the split-encoded token plus the verifying user.
func TimestampTemplateFields() []string {
	fields := dropbox.SplitFieldNames("timestamp")
	return append(fields, "timestamp_user")
}

// SnapshotOptions selects which sections of a TeamSnapshot are populated
// eagerly. Callers ask only for what they need; each section costs one or
// more remote API pages.
type SnapshotOptions struct {
	Members        bool
	Admins         bool
	Groups         bool
	TeamFolders    bool
	FileProperties bool
}

// TeamSnapshot caches one scrape of a remote team for the duration of a
// synchronization cycle. It is built fresh per cycle and discarded; only
// TeamFolderName is updated incrementally, to support change detection
// between repeated refreshes within one cycle.
type TeamSnapshot struct {
	dir    DirectoryClient
	TeamID string

	// Members is keyed by team-member id. Replaced wholesale on refresh.
	Members     map[string]dropbox.Member
	AdminIDs    []string
	AdminEmails []string

	GroupIDByName map[string]string
	GroupNameByID map[string]string

	// TeamFolderName maps team-folder id to current name.
	TeamFolderName map[string]string

	// TemplateID of the timestamp property template, once ensured.
	TemplateID string
}

func NewTeamSnapshot(ctx context.Context, dir DirectoryClient, teamID string, opts SnapshotOptions) (*TeamSnapshot, error) {
	s := &TeamSnapshot{
		dir:            dir,
		TeamID:         teamID,
		TeamFolderName: map[string]string{},
	}
	if opts.Members || opts.Admins {
		if err := s.RefreshMembers(ctx); err != nil {
			return nil, err
		}
	}
	if opts.Admins {
		if err := s.RefreshAdmins(ctx); err != nil {
			return nil, err
		}
	}
	if opts.Groups {
		if err := s.RefreshGroups(ctx); err != nil {
			return nil, err
		}
	}
	if opts.TeamFolders {
		if err := s.RefreshTeamFolders(ctx); err != nil {
			return nil, err
		}
	}
	if opts.FileProperties {
		if err := s.RefreshFileProperties(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RefreshMembers drains the member listing. Safe to call repeatedly: the
// index is replaced, not appended to.
func (s *TeamSnapshot) RefreshMembers(ctx context.Context) error {
	members, err := s.dir.ListMembers(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]dropbox.Member, len(members))
	for _, m := range members {
		index[m.TeamMemberID] = m
	}
	s.Members = index
	return nil
}

// RefreshAdmins derives the admin subsets from the member index, loading
// members first if nobody has yet.
func (s *TeamSnapshot) RefreshAdmins(ctx context.Context) error {
	if s.Members == nil {
		if err := s.RefreshMembers(ctx); err != nil {
			return err
		}
	}
	var ids, emails []string
	for id, m := range s.Members {
		if m.IsAdmin() && m.Status == "active" {
			ids = append(ids, id)
			emails = append(emails, m.Email)
		}
	}
	sort.Strings(ids)
	sort.Strings(emails)
	s.AdminIDs = ids
	s.AdminEmails = emails
	return nil
}

// RefreshGroups drains the group listing into both directions of the
// name/id index.
func (s *TeamSnapshot) RefreshGroups(ctx context.Context) error {
	groups, err := s.dir.ListGroups(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]string, len(groups))
	byID := make(map[string]string, len(groups))
	for _, g := range groups {
		byName[g.Name] = g.GroupID
		byID[g.GroupID] = g.Name
	}
	s.GroupIDByName = byName
	s.GroupNameByID = byID
	return nil
}

// RefreshTeamFolders drains the team-folder listing. Unlike the other
// sections this updates entries in place, so a second refresh within the
// same cycle sees renames without losing folders that paginated earlier.
func (s *TeamSnapshot) RefreshTeamFolders(ctx context.Context) error {
	folders, err := s.dir.ListTeamFolders(ctx)
	if err != nil {
		return err
	}
	for _, f := range folders {
		s.TeamFolderName[f.TeamFolderID] = f.Name
	}
	return nil
}

// RefreshFileProperties ensures the timestamp property template exists
// remotely, creating it if absent or extending it when the expected field
// set has grown since it was created.
func (s *TeamSnapshot) RefreshFileProperties(ctx context.Context) error {
	expected := TimestampTemplateFields()
	ids, err := s.dir.ListTemplateIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		tpl, err := s.dir.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if tpl.Name != TimestampTemplateName {
			continue
		}
		have := make(map[string]bool, len(tpl.Fields))
		for _, f := range tpl.Fields {
			have[f] = true
		}
		var missing []string
		for _, f := range expected {
			if !have[f] {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			if err := s.dir.UpdateTemplate(ctx, id, missing); err != nil {
				return fmt.Errorf("extend timestamp template: %w", err)
			}
		}
		s.TemplateID = id
		return nil
	}
	id, err := s.dir.AddTemplate(ctx, TimestampTemplateName, expected)
	if err != nil {
		return fmt.Errorf("create timestamp template: %w", err)
	}
	s.TemplateID = id
	return nil
}

// FolderIDByName inverts the team-folder index for path resolution.
func (s *TeamSnapshot) FolderIDByName() map[string]string {
	byName := make(map[string]string, len(s.TeamFolderName))
	for id, name := range s.TeamFolderName {
		byName[name] = id
	}
	return byName
}
