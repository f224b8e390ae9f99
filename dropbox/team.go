package dropbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Member is one team member's directory entry.
type Member struct {
	TeamMemberID string
	AccountID    string
	Email        string
	Role         string // "team_admin", "member_only", ...
	Status       string // "active", "invited", "suspended", ...
}

func (m Member) IsAdmin() bool {
	return m.Role == "team_admin"
}

// Group is a remote access-control group.
type Group struct {
	GroupID string `json:"group_id"`
	Name    string `json:"group_name"`
}

type tagged struct {
	Tag string `json:".tag"`
}

type memberEntry struct {
	Profile struct {
		TeamMemberID string `json:"team_member_id"`
		AccountID    string `json:"account_id"`
		Email        string `json:"email"`
		Status       tagged `json:"status"`
	} `json:"profile"`
	Role tagged `json:"role"`
}

func (e memberEntry) toMember() Member {
	return Member{
		TeamMemberID: e.Profile.TeamMemberID,
		AccountID:    e.Profile.AccountID,
		Email:        e.Profile.Email,
		Role:         e.Role.Tag,
		Status:       e.Profile.Status.Tag,
	}
}

// ListMembers drains the paginated member listing into a flat slice.
func (c *Client) ListMembers(ctx context.Context) ([]Member, error) {
	var page struct {
		Members []memberEntry `json:"members"`
		Cursor  string        `json:"cursor"`
		HasMore bool          `json:"has_more"`
	}
	if err := c.rpc(ctx, "/team/members/list", map[string]interface{}{"limit": 100}, &page); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(page.Members))
	for _, m := range page.Members {
		members = append(members, m.toMember())
	}
	for page.HasMore {
		cursor := page.Cursor
		page.Members = nil
		if err := c.rpc(ctx, "/team/members/list/continue", map[string]string{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Members {
			members = append(members, m.toMember())
		}
	}
	return members, nil
}

// ListGroups drains the paginated group listing.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var page struct {
		Groups  []Group `json:"groups"`
		Cursor  string  `json:"cursor"`
		HasMore bool    `json:"has_more"`
	}
	if err := c.rpc(ctx, "/team/groups/list", map[string]interface{}{"limit": 100}, &page); err != nil {
		return nil, err
	}
	groups := page.Groups
	for page.HasMore {
		cursor := page.Cursor
		page.Groups = nil
		if err := c.rpc(ctx, "/team/groups/list/continue", map[string]string{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
		groups = append(groups, page.Groups...)
	}
	return groups, nil
}

func groupSelector(groupID string) map[string]string {
	return map[string]string{".tag": "group_id", "group_id": groupID}
}

// CreateGroup creates a company-managed group.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	var group Group
	err := c.rpc(ctx, "/team/groups/create", map[string]string{"group_name": name}, &group)
	return group, err
}

// DeleteGroup deletes a group and waits for the asynchronous remote job.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	var launch struct {
		Tag        string `json:".tag"`
		AsyncJobID string `json:"async_job_id"`
	}
	if err := c.rpc(ctx, "/team/groups/delete", groupSelector(groupID), &launch); err != nil {
		return err
	}
	if launch.AsyncJobID == "" {
		return nil
	}
	return c.waitGroupJob(ctx, launch.AsyncJobID)
}

// AddGroupMembers adds members (by email) to a group and waits for the
// asynchronous membership job. A "duplicate_user" outcome is treated as
// success: the member is already there.
func (c *Client) AddGroupMembers(ctx context.Context, groupID string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	users := make([]map[string]string, 0, len(emails))
	for _, email := range emails {
		users = append(users, map[string]string{".tag": "email", "email": email})
	}
	params := map[string]interface{}{
		"group":          groupSelector(groupID),
		"members":        users,
		"return_members": false,
	}
	var launch struct {
		AsyncJobID string `json:"async_job_id"`
	}
	if err := c.rpc(ctx, "/team/groups/members/add", params, &launch); err != nil {
		if isIdempotentMembershipError(err) {
			return nil
		}
		return err
	}
	if launch.AsyncJobID == "" {
		return nil
	}
	return c.waitGroupJob(ctx, launch.AsyncJobID)
}

// RemoveGroupMembers removes members (by email) from a group and waits for
// the asynchronous job. A "user_not_found" outcome is treated as success.
func (c *Client) RemoveGroupMembers(ctx context.Context, groupID string, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	users := make([]map[string]string, 0, len(emails))
	for _, email := range emails {
		users = append(users, map[string]string{".tag": "email", "email": email})
	}
	params := map[string]interface{}{
		"group":          groupSelector(groupID),
		"users":          users,
		"return_members": false,
	}
	var launch struct {
		AsyncJobID string `json:"async_job_id"`
	}
	if err := c.rpc(ctx, "/team/groups/members/remove", params, &launch); err != nil {
		if isIdempotentMembershipError(err) {
			return nil
		}
		return err
	}
	if launch.AsyncJobID == "" {
		return nil
	}
	return c.waitGroupJob(ctx, launch.AsyncJobID)
}

// ListGroupMembers drains the membership listing of one group.
func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	var page struct {
		Members []memberEntry `json:"members"`
		Cursor  string        `json:"cursor"`
		HasMore bool          `json:"has_more"`
	}
	params := map[string]interface{}{"group": groupSelector(groupID), "limit": 100}
	if err := c.rpc(ctx, "/team/groups/members/list", params, &page); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(page.Members))
	for _, m := range page.Members {
		members = append(members, m.toMember())
	}
	for page.HasMore {
		cursor := page.Cursor
		page.Members = nil
		if err := c.rpc(ctx, "/team/groups/members/list/continue", map[string]string{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Members {
			members = append(members, m.toMember())
		}
	}
	return members, nil
}

// waitGroupJob polls an async group job until completion, starting at one
// second and doubling between polls.
func (c *Client) waitGroupJob(ctx context.Context, asyncJobID string) error {
	const maxPolls = 10
	interval := time.Second
	for i := 0; i < maxPolls; i++ {
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
		var status tagged
		err := c.rpc(ctx, "/team/groups/job_status/get", map[string]string{"async_job_id": asyncJobID}, &status)
		if err != nil {
			return err
		}
		switch status.Tag {
		case "complete":
			return nil
		case "in_progress":
			interval *= 2
		default:
			return fmt.Errorf("dropbox: group job %s failed: %s", asyncJobID, status.Tag)
		}
	}
	return fmt.Errorf("dropbox: group job %s did not complete", asyncJobID)
}

// isIdempotentMembershipError matches the membership mutation failures that
// mean the desired state already holds.
func isIdempotentMembershipError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HasTag("duplicate_user", "user_not_found", "member_not_in_group")
}
