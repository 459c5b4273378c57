package helpdesk

import (
	"context"
	"fmt"
	"net/url"
)

// SystemUserID is the id the helpdesk uses for changes made by itself.
const SystemUserID = -1

type User struct {
	ID         int64  `json:"id,omitempty"`
	URL        string `json:"url,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Active     bool   `json:"active,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
	Photo      *Photo `json:"photo,omitempty"`
}

type Photo struct {
	ContentURL string `json:"content_url"`
}

// AvatarURL returns the user's photo URL, or "" when none is set.
func (u *User) AvatarURL() string {
	if u == nil || u.Photo == nil {
		return ""
	}
	return u.Photo.ContentURL
}

// UserSearch selects users either by a free-text query or by external id.
type UserSearch struct {
	Query      string
	ExternalID string
}

func (c *Client) SearchUsers(ctx context.Context, search UserSearch) ([]User, error) {
	q := url.Values{}
	if search.Query != "" {
		q.Set("query", search.Query)
	}
	if search.ExternalID != "" {
		q.Set("external_id", search.ExternalID)
	}
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, "GET", "/api/v2/users/search.json?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/v2/users/%d.json", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// CreateOrUpdateUser upserts a user, matching on external_id or email.
func (c *Client) CreateOrUpdateUser(ctx context.Context, u User) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, "POST", "/api/v2/users/create_or_update.json", map[string]any{"user": u}, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}
